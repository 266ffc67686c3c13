package stores

import (
	"context"
	"sync"

	"github.com/quantomatic/quanto-client/pkg/core/client"
	"github.com/quantomatic/quanto-client/pkg/core/protocol"
	"github.com/quantomatic/quanto-client/pkg/telemetry"
)

// Recorder writes a client's exchanges into one session's transcript.
// Write failures are logged and never reach the caller of the command.
type Recorder struct {
	store     Store
	sessionID string
	logger    *telemetry.Logger

	mu  sync.Mutex
	seq int
}

var _ client.Recorder = (*Recorder)(nil)

// NewRecorder returns a recorder for sessionID. A nil logger discards.
func NewRecorder(store Store, sessionID string, logger *telemetry.Logger) *Recorder {
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	return &Recorder{
		store:     store,
		sessionID: sessionID,
		logger:    logger.NewComponentLogger("transcript").WithSessionID(sessionID),
	}
}

// Record implements client.Recorder.
func (r *Recorder) Record(ctx context.Context, ex *client.Exchange) {
	r.mu.Lock()
	r.seq++
	seq := r.seq
	r.mu.Unlock()

	stored := &Exchange{
		SessionID: r.sessionID,
		Seq:       seq,
		Verb:      ex.Command.Verb,
		Command:   ex.Command.String(),
		Outcome:   ex.Outcome,
		Code:      protocol.CodeOf(ex.Err),
		Lines:     ex.Lines,
		StartedAt: ex.Started,
		Duration:  ex.Duration,
	}
	if ex.Err != nil {
		stored.Error = ex.Err.Error()
	}

	// ctx is already done when the call timed out.
	if err := r.store.AppendExchange(context.WithoutCancel(ctx), stored); err != nil {
		r.logger.WithError(err).WithVerb(stored.Verb).Warn("failed to record exchange")
	}
}

// SessionID returns the session being recorded.
func (r *Recorder) SessionID() string {
	return r.sessionID
}
