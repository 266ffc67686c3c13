// Package client owns the channel to a running core process. It sends one
// command at a time, reads the sentinel-terminated response and classifies
// it; channel failures poison the client for good.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/quantomatic/quanto-client/pkg/core/protocol"
	"github.com/quantomatic/quanto-client/pkg/fragment"
	"github.com/quantomatic/quanto-client/pkg/telemetry"
)

// Peer is a started core process as seen through its streams.
type Peer interface {
	// Stdin is the command stream.
	Stdin() io.WriteCloser
	// Stdout is the response stream.
	Stdout() io.Reader
	// ExitCode reports the exit status once the process has exited.
	ExitCode() (int, bool)
	// Kill terminates the process. Killing an exited process is not an
	// error.
	Kill() error
}

// Launcher starts core processes.
type Launcher interface {
	Launch(ctx context.Context) (Peer, error)
}

// exitWaiter is implemented by peers that can signal process exit.
type exitWaiter interface {
	Done() <-chan struct{}
}

// Exchange is one command and what came back for it.
type Exchange struct {
	Command  *protocol.Command
	Lines    []string
	Outcome  string
	Err      error
	Started  time.Time
	Duration time.Duration
}

// Recorder receives every exchange after it completes. It is called with
// the client lock held and must not call back into the client.
type Recorder interface {
	Record(ctx context.Context, ex *Exchange)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, ex *Exchange)

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, ex *Exchange) { f(ctx, ex) }

// Config contains client options.
type Config struct {
	// CallTimeout bounds each call that has no earlier context deadline.
	// Zero means no timeout.
	CallTimeout time.Duration

	// ExitWait is how long to wait for the peer's exit status after its
	// output stream closed.
	ExitWait time.Duration

	// Classifier decides which responses are structured errors.
	Classifier *protocol.Classifier

	// Recorder, if set, receives every exchange.
	Recorder Recorder

	// Telemetry receives logs, spans and metrics.
	Telemetry *telemetry.Telemetry
}

// Client manages communication with one core process. All calls are
// serialized: a call holds the client from writing the command until its
// response has been fully consumed.
type Client struct {
	peer       Peer
	encoder    *protocol.Encoder
	decoder    *protocol.Decoder
	classifier *protocol.Classifier
	recorder   Recorder
	tel        *telemetry.Telemetry
	logger     *telemetry.Logger
	timeout    time.Duration
	exitWait   time.Duration

	mu       sync.Mutex
	poisoned error

	closeOnce sync.Once
	closeErr  error
}

// New wraps an already started peer.
func New(peer Peer, cfg Config) *Client {
	if cfg.Classifier == nil {
		cfg.Classifier = protocol.DefaultClassifier()
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.NewNop()
	}
	if cfg.ExitWait == 0 {
		cfg.ExitWait = time.Second
	}
	cfg.Telemetry.Metrics.SessionStarted()
	return &Client{
		peer:       peer,
		encoder:    protocol.NewEncoder(peer.Stdin()),
		decoder:    protocol.NewDecoder(peer.Stdout()),
		classifier: cfg.Classifier,
		recorder:   cfg.Recorder,
		tel:        cfg.Telemetry,
		logger:     cfg.Telemetry.Logger.NewComponentLogger("client"),
		timeout:    cfg.CallTimeout,
		exitWait:   cfg.ExitWait,
	}
}

// Start launches a core process and wraps it.
func Start(ctx context.Context, launcher Launcher, cfg Config) (*Client, error) {
	peer, err := launcher.Launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start core: %w", err)
	}
	return New(peer, cfg), nil
}

// Call sends cmd and returns the success payload. A structured error is
// returned as *protocol.StructuredError and leaves the client usable.
func (c *Client) Call(ctx context.Context, cmd *protocol.Command) (*protocol.Response, error) {
	var out *protocol.Response
	err := c.Do(ctx, cmd, func(resp *protocol.Response) error {
		out = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Do sends cmd and hands the success payload to fn while still holding
// the client, so a fragment decode finishes before the next command goes
// out. An error from fn is returned as is.
func (c *Client) Do(ctx context.Context, cmd *protocol.Command, fn func(*protocol.Response) error) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("invalid command: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.poisoned != nil {
		return &protocol.TransportError{Kind: protocol.KindClosed, Op: "call", Err: c.poisoned}
	}

	ctx, span := c.tel.Tracer.StartCallSpan(ctx, cmd.Verb, len(cmd.Args))
	defer span.End()
	logger := c.logger.WithVerb(cmd.Verb)

	ex := &Exchange{Command: cmd, Started: time.Now()}
	resp, err := c.roundTrip(ctx, cmd)
	if resp != nil {
		ex.Lines = resp.Lines
	}

	switch {
	case err != nil:
		c.poison(err)
		ex.Outcome = telemetry.OutcomeTransportError
		logger.WithError(err).Error("core channel failed")
	default:
		res := c.classifier.Classify(resp)
		if !res.OK() {
			err = res.Err
			ex.Outcome = telemetry.OutcomeStructuredError
			c.tel.Metrics.RecordStructuredError(res.Err.Code)
			span.SetAttributes(telemetry.AttrErrorCode.String(res.Err.Code))
			logger.WithField("code", res.Err.Code).Warn("core reported an error")
			break
		}
		ex.Outcome = telemetry.OutcomeOK
		if fn != nil {
			err = fn(res.Payload.WithContext(ctx))
		}
		var pe *fragment.ParseError
		if errors.As(err, &pe) {
			ex.Outcome = telemetry.OutcomeParseError
			c.tel.Metrics.RecordParseError(pe.Fragment, string(pe.Kind))
			logger.WithError(err).Error("core payload did not decode")
		}
	}

	ex.Err = err
	ex.Duration = time.Since(ex.Started)
	c.tel.Metrics.RecordCall(cmd.Verb, ex.Outcome, ex.Duration, len(ex.Lines))
	zl := logger.Zerolog()
	zl.Debug().
		Int("lines", len(ex.Lines)).
		Str("outcome", ex.Outcome).
		Dur("duration", ex.Duration).
		Msg("core call")
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
	}
	if c.recorder != nil {
		c.recorder.Record(ctx, ex)
	}
	return err
}

type roundTripResult struct {
	resp *protocol.Response
	err  error
}

// roundTrip writes cmd and reads one response. The blocking part runs in
// its own goroutine so a deadline can abandon it; on expiry the peer is
// killed, which ends the read.
func (c *Client) roundTrip(ctx context.Context, cmd *protocol.Command) (*protocol.Response, error) {
	if c.timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
	}

	done := make(chan roundTripResult, 1)
	go func() {
		if err := c.encoder.Encode(cmd); err != nil {
			done <- roundTripResult{err: &protocol.TransportError{Kind: protocol.KindIoFailure, Op: "write", Err: err}}
			return
		}
		resp, err := c.decoder.ReadResponse()
		switch {
		case errors.Is(err, io.ErrUnexpectedEOF):
			done <- roundTripResult{resp: resp, err: c.disconnected(err)}
		case err != nil:
			done <- roundTripResult{resp: resp, err: &protocol.TransportError{Kind: protocol.KindIoFailure, Op: "read", Err: err}}
		default:
			done <- roundTripResult{resp: resp}
		}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		if err := c.peer.Kill(); err != nil {
			c.logger.WithError(err).Warn("failed to kill core after deadline")
		}
		kind := protocol.KindTimeout
		if errors.Is(ctx.Err(), context.Canceled) {
			kind = protocol.KindClosed
		}
		return nil, &protocol.TransportError{Kind: kind, Op: "read", Err: ctx.Err()}
	}
}

func (c *Client) disconnected(cause error) error {
	te := &protocol.TransportError{Kind: protocol.KindDisconnected, Op: "read", Err: cause}
	if w, ok := c.peer.(exitWaiter); ok {
		select {
		case <-w.Done():
		case <-time.After(c.exitWait):
		}
	}
	if code, ok := c.peer.ExitCode(); ok {
		te.ExitCode, te.HasExitCode = code, true
	}
	return te
}

// poison must be called with c.mu held.
func (c *Client) poison(err error) {
	if c.poisoned != nil {
		return
	}
	c.poisoned = err
	var te *protocol.TransportError
	if errors.As(err, &te) {
		c.tel.Metrics.RecordTransportFailure(string(te.Kind))
	}
}

// Peer returns the process the client talks to.
func (c *Client) Peer() Peer {
	return c.peer
}

// Err returns the error that poisoned the client, or nil while it is
// usable.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.poisoned
}

// Close ends the session: stdin is closed so the core can exit on its
// own, then the process is killed. Close interrupts a call in progress.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		if err := c.peer.Stdin().Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close stdin: %w", err))
		}
		if err := c.peer.Kill(); err != nil {
			errs = append(errs, fmt.Errorf("failed to kill core: %w", err))
		}

		c.mu.Lock()
		if c.poisoned == nil {
			c.poisoned = &protocol.TransportError{Kind: protocol.KindClosed, Op: "close"}
		}
		c.mu.Unlock()

		c.tel.Metrics.SessionEnded()
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}
