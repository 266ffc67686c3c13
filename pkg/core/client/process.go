package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// DefaultCorePath is the core executable looked up on PATH.
const DefaultCorePath = "quanto-core"

// MaxStderr bounds the stderr tail kept for diagnostics.
const MaxStderr = 64 * 1024

// ProcessLauncher starts the core as a local child process.
type ProcessLauncher struct {
	Path string
	Args []string
	// Env entries are appended to the current environment.
	Env []string
	Dir string
}

// Launch starts the process. Its lifetime is controlled through the
// returned peer, not through ctx.
func (l *ProcessLauncher) Launch(ctx context.Context) (Peer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := l.Path
	if path == "" {
		path = DefaultCorePath
	}

	cmd := exec.Command(path, l.Args...)
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.Dir = l.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	// A plain pipe rather than StdoutPipe: Wait must not close the read
	// side while the client is still draining it.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutW

	p := &processPeer{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdoutR,
		stderr: NewTailBuffer(MaxStderr),
		done:   make(chan struct{}),
	}
	cmd.Stderr = p.stderr

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("start core %s: %w", path, err)
	}
	stdoutW.Close()

	go p.wait()
	return p, nil
}

type processPeer struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	stderr *TailBuffer
	done   chan struct{}

	mu       sync.Mutex
	exitCode int
	exited   bool
}

func (p *processPeer) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.exited = true
	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		p.exitCode = exitErr.ExitCode()
	}
	p.mu.Unlock()
	close(p.done)
}

func (p *processPeer) Stdin() io.WriteCloser { return p.stdin }

func (p *processPeer) Stdout() io.Reader { return p.stdout }

func (p *processPeer) ExitCode() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, p.exited
}

func (p *processPeer) Done() <-chan struct{} { return p.done }

func (p *processPeer) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// Stderr returns the tail of what the core wrote to stderr.
func (p *processPeer) Stderr() string {
	return p.stderr.String()
}

// TailBuffer keeps the last max bytes written to it.
type TailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

// NewTailBuffer returns a buffer keeping at most max bytes.
func NewTailBuffer(max int) *TailBuffer {
	return &TailBuffer{max: max}
}

func (t *TailBuffer) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, b...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(b), nil
}

func (t *TailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

// StderrOf returns the captured stderr of peers that keep one, or "" for
// other peers.
func StderrOf(p Peer) string {
	if sp, ok := p.(interface{ Stderr() string }); ok {
		return sp.Stderr()
	}
	return ""
}
