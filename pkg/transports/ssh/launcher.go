package ssh

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/quantomatic/quanto-client/pkg/core/client"
)

// Launcher starts the core on the remote host, one SSH session per core.
type Launcher struct {
	Client *Client
}

// NewLauncher connects lazily using config.
func NewLauncher(config *Config) (*Launcher, error) {
	c, err := NewClient(config)
	if err != nil {
		return nil, err
	}
	return &Launcher{Client: c}, nil
}

// Launch opens a session and starts the core in it.
func (l *Launcher) Launch(ctx context.Context) (client.Peer, error) {
	s, err := l.Client.session(ctx)
	if err != nil {
		return nil, err
	}

	stdin, err := s.StdinPipe()
	if err != nil {
		s.Close()
		return nil, &Error{Op: "session", Err: err}
	}
	stdout, err := s.StdoutPipe()
	if err != nil {
		s.Close()
		return nil, &Error{Op: "session", Err: err}
	}

	p := &remotePeer{
		session: s,
		stdin:   stdin,
		stdout:  stdout,
		stderr:  client.NewTailBuffer(client.MaxStderr),
		done:    make(chan struct{}),
	}
	s.Stderr = p.stderr

	command := RemoteCommand(l.Client.config.CorePath, l.Client.config.CoreArgs)
	if err := s.Start(command); err != nil {
		s.Close()
		return nil, &Error{Op: "start", Err: err}
	}
	log.Debug().Str("host", l.Client.config.Host).Str("command", command).Msg("remote core started")

	go p.wait()
	return p, nil
}

// RemoteCommand renders the core invocation for the remote shell.
func RemoteCommand(path string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellQuote(path))
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:,+@", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

type remotePeer struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	stderr  *client.TailBuffer
	done    chan struct{}

	mu       sync.Mutex
	exitCode int
	exited   bool
	known    bool
}

func (p *remotePeer) wait() {
	err := p.session.Wait()
	p.mu.Lock()
	p.exited = true
	var exitErr *ssh.ExitError
	switch {
	case err == nil:
		p.exitCode, p.known = 0, true
	case errors.As(err, &exitErr):
		p.exitCode, p.known = exitErr.ExitStatus(), true
	}
	p.mu.Unlock()
	close(p.done)
}

func (p *remotePeer) Stdin() io.WriteCloser { return p.stdin }

func (p *remotePeer) Stdout() io.Reader { return p.stdout }

// ExitCode is unknown when the session ended without an exit status,
// e.g. because the connection dropped.
func (p *remotePeer) ExitCode() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, p.exited && p.known
}

func (p *remotePeer) Done() <-chan struct{} { return p.done }

func (p *remotePeer) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.session.Signal(ssh.SIGKILL); err != nil {
		log.Debug().Err(err).Msg("remote core ignored SIGKILL")
	}
	err := p.session.Close()
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (p *remotePeer) Stderr() string {
	return p.stderr.String()
}
