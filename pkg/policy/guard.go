package policy

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/quantomatic/quanto-client/pkg/core/protocol"
)

// Conn issues commands. It matches core.Conn.
type Conn interface {
	Do(ctx context.Context, cmd *protocol.Command, fn func(*protocol.Response) error) error
}

// Guard evaluates every command before passing it to the wrapped
// connection. A denied command never reaches the core.
type Guard struct {
	conn   Conn
	engine *Engine
	source string
	mode   string
	logger zerolog.Logger
}

// NewGuard wraps conn. Commands are described to policies as coming from
// source in a session of the given mode.
func NewGuard(conn Conn, engine *Engine, source, mode string, logger zerolog.Logger) *Guard {
	if mode == "" {
		mode = ModeReadWrite
	}
	return &Guard{
		conn:   conn,
		engine: engine,
		source: source,
		mode:   mode,
		logger: logger.With().Str("component", "policy-guard").Logger(),
	}
}

// Mode returns the session mode policies see.
func (g *Guard) Mode() string {
	return g.mode
}

// Do evaluates cmd and sends it if no blocking violation was found.
func (g *Guard) Do(ctx context.Context, cmd *protocol.Command, fn func(*protocol.Response) error) error {
	decision, err := g.engine.Evaluate(ctx, NewInput(cmd, g.source, g.mode))
	if err != nil {
		return fmt.Errorf("evaluate policy for %s: %w", cmd.Verb, err)
	}
	for _, w := range decision.Warnings {
		g.logger.Warn().
			Str("verb", cmd.Verb).
			Str("policy", w.Policy).
			Msg(w.Message)
	}
	if !decision.Allowed {
		g.logger.Info().
			Str("verb", cmd.Verb).
			Int("violations", len(decision.Violations)).
			Msg("Command denied by policy")
		return &DeniedError{Verb: cmd.Verb, Violations: decision.Violations}
	}
	return g.conn.Do(ctx, cmd, fn)
}
