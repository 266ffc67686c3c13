package coretest

import (
	"errors"
	"io"
	"sync"
)

// ErrKilled is what a killed peer's streams report.
var ErrKilled = errors.New("core killed")

// Peer runs a Core on in-memory pipes and looks like a started process:
// it has stdin, stdout, an exit status and can be killed.
type Peer struct {
	core *Core

	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter

	killed   chan struct{}
	killOnce sync.Once
	done     chan struct{}

	mu       sync.Mutex
	exitCode int
	exited   bool
	serveErr error
}

// NewPeer starts serving core.
func NewPeer(core *Core) *Peer {
	p := &Peer{
		core:   core,
		killed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	go p.run()
	return p
}

func (p *Peer) run() {
	code, err := p.core.Serve(p.stdinR, p.stdoutW, p.killed)

	p.mu.Lock()
	select {
	case <-p.killed:
		code = -1
	default:
	}
	p.exitCode, p.exited, p.serveErr = code, true, err
	p.mu.Unlock()
	close(p.done)

	// Stdout ends only after the exit status is known.
	p.stdoutW.Close()
	p.stdinR.Close()
}

// Stdin is the command stream.
func (p *Peer) Stdin() io.WriteCloser { return p.stdinW }

// Stdout is the response stream.
func (p *Peer) Stdout() io.Reader { return p.stdoutR }

// ExitCode reports the exit status once the core stopped serving.
func (p *Peer) ExitCode() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, p.exited
}

// Done is closed when the core stopped serving.
func (p *Peer) Done() <-chan struct{} { return p.done }

// Kill stops the core. Its streams fail with ErrKilled.
func (p *Peer) Kill() error {
	p.killOnce.Do(func() {
		close(p.killed)
		p.stdinR.CloseWithError(ErrKilled)
		p.stdoutW.CloseWithError(ErrKilled)
	})
	return nil
}

// Killed reports whether Kill was called.
func (p *Peer) Killed() bool {
	select {
	case <-p.killed:
		return true
	default:
		return false
	}
}

// Wait blocks until the core stopped serving and returns its exit code.
func (p *Peer) Wait() int {
	<-p.done
	code, _ := p.ExitCode()
	return code
}
