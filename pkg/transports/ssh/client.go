// Package ssh runs the core on a remote host. The core's stdio travels
// over an SSH session and graph files are staged with SFTP so that
// load_graph can find them on the remote side.
package ssh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Error reports a failed SSH operation.
type Error struct {
	// Op is the operation that failed (e.g., "connect", "session", "stage")
	Op string

	// Err is the underlying error
	Err error

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *Error) Error() string {
	return "ssh " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Client holds one SSH connection shared by the sessions and SFTP
// transfers of a remote core.
type Client struct {
	config *Config

	mu          sync.Mutex
	client      *ssh.Client
	connectedAt time.Time
	stopKeep    chan struct{}
}

// NewClient validates config and returns an unconnected client.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{config: config}, nil
}

// Connect dials the remote host unless already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.connectLocked(ctx)
	return err
}

func (c *Client) connectLocked(ctx context.Context) (*ssh.Client, error) {
	if c.client != nil {
		return c.client, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: "connect", Err: err}
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return nil, &Error{Op: "connect", Err: err, IsAuthError: true}
	}

	address := c.config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)
	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- client
	}()

	select {
	case <-ctx.Done():
		go func() {
			select {
			case client := <-connChan:
				_ = client.Close()
			case <-errChan:
			}
		}()
		return nil, &Error{Op: "connect", Err: ctx.Err()}
	case err := <-errChan:
		return nil, &Error{Op: "connect", Err: err}
	case client := <-connChan:
		c.client = client
		c.connectedAt = time.Now()
		if c.config.KeepAliveInterval > 0 {
			c.stopKeep = make(chan struct{})
			go c.keepAlive(client, c.stopKeep)
		}
		log.Info().Str("address", address).Msg("SSH connection established")
		return client, nil
	}
}

// keepAlive sends periodic keep-alive requests until stop is closed.
func (c *Client) keepAlive(client *ssh.Client, stop chan struct{}) {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				log.Warn().Err(err).Msg("SSH keep-alive failed")
				return
			}
		}
	}
}

// session opens a new session, connecting first if needed.
func (c *Client) session(ctx context.Context) (*ssh.Session, error) {
	c.mu.Lock()
	client, err := c.connectLocked(ctx)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s, err := client.NewSession()
	if err != nil {
		return nil, &Error{Op: "session", Err: err}
	}
	return s, nil
}

func (c *Client) conn(ctx context.Context) (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

// ConnectedAt returns when the connection was established, or the zero
// time when not connected.
func (c *Client) ConnectedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectedAt
}

// Close closes the connection. Sessions on it end as well.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	if c.stopKeep != nil {
		close(c.stopKeep)
		c.stopKeep = nil
	}
	err := c.client.Close()
	c.client = nil
	c.connectedAt = time.Time{}
	return err
}
