package stores

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("not found")

// Session is one run of a core process.
type Session struct {
	ID        string     `json:"id"`
	Target    string     `json:"target"` // local path or user@host
	Greeting  string     `json:"greeting"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	Error     *string    `json:"error,omitempty"`
}

// Exchange is one stored command and its response.
type Exchange struct {
	ID        int64         `json:"id"`
	SessionID string        `json:"session_id"`
	Seq       int           `json:"seq"`
	Verb      string        `json:"verb"`
	Command   string        `json:"command"` // as written on the wire
	Outcome   string        `json:"outcome"` // one of the telemetry.Outcome* values
	Code      string        `json:"code,omitempty"`
	Error     string        `json:"error,omitempty"`
	Lines     []string      `json:"lines"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// ExchangeFilter narrows ListExchanges. Zero fields match everything.
type ExchangeFilter struct {
	Verb    string
	Outcome string
	Limit   int
	Offset  int
}

// Store defines the transcript persistence layer.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Session operations
	StartSession(ctx context.Context, target string) (*Session, error)
	SetGreeting(ctx context.Context, id, greeting string) error
	EndSession(ctx context.Context, id string, exitCode *int, errMsg *string) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, limit, offset int) ([]*Session, error)
	DeleteSession(ctx context.Context, id string) error
	PruneSessions(ctx context.Context, before time.Time) (int64, error)

	// Exchange operations
	AppendExchange(ctx context.Context, ex *Exchange) error
	ListExchanges(ctx context.Context, sessionID string, filter ExchangeFilter) ([]*Exchange, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
