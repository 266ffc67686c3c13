package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// TransportKind classifies a channel-level failure. Every transport
// failure is fatal to the session.
type TransportKind string

const (
	// KindDisconnected: the inbound stream ended before the sentinel.
	KindDisconnected TransportKind = "disconnected"

	// KindIoFailure: a read or write on the streams failed.
	KindIoFailure TransportKind = "io_failure"

	// KindTimeout: the caller's deadline expired while waiting for a
	// response.
	KindTimeout TransportKind = "timeout"

	// KindClosed: the channel was closed or poisoned by an earlier failure.
	KindClosed TransportKind = "closed"
)

// TransportError reports a failure of the channel itself.
type TransportError struct {
	Kind TransportKind

	// Op is the operation in progress (write, read, call).
	Op string

	// ExitCode is the peer's exit status when HasExitCode is set.
	ExitCode    int
	HasExitCode bool

	// Err is the underlying cause. For KindClosed it is the error that
	// poisoned the channel, if any.
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	msg := fmt.Sprintf("transport %s", e.Kind)
	if e.Op != "" {
		msg += " during " + e.Op
	}
	if e.HasExitCode {
		msg += fmt.Sprintf(" (exit status %d)", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is matches any TransportError of the same kind.
func (e *TransportError) Is(target error) bool {
	t, ok := target.(*TransportError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is.
var (
	ErrDisconnected = &TransportError{Kind: KindDisconnected}
	ErrIoFailure    = &TransportError{Kind: KindIoFailure}
	ErrTimeout      = &TransportError{Kind: KindTimeout}
	ErrClosed       = &TransportError{Kind: KindClosed}
)

// IsTransportError reports whether err is (or wraps) a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsDisconnected reports whether the peer went away mid-response.
func IsDisconnected(err error) bool {
	return errors.Is(err, ErrDisconnected)
}

// StructuredError is a failure the core reported for one command. The
// channel stays usable.
type StructuredError struct {
	// Code is the stable error token, e.g. NOSUCHGRAPH.
	Code string

	// Message is the rest of the first line.
	Message string

	// Detail holds any further lines of the report.
	Detail []string

	// Raw is the response the error was classified from.
	Raw *Response
}

// Error implements the error interface.
func (e *StructuredError) Error() string {
	if e.Message == "" {
		return "core error " + e.Code
	}
	return fmt.Sprintf("core error %s: %s", e.Code, e.Message)
}

// Is matches a StructuredError with the same code. A target with an empty
// code matches any structured error.
func (e *StructuredError) Is(target error) bool {
	t, ok := target.(*StructuredError)
	if !ok {
		return false
	}
	return t.Code == "" || e.Code == t.Code
}

// ErrStructured matches every StructuredError.
var ErrStructured = &StructuredError{}

// AbsentPrefix marks the family of codes the core uses for missing
// optional data.
const AbsentPrefix = "NOSUCH"

// IsAbsent reports whether err is a structured "no such ..." report that
// callers may treat as an absent value.
func IsAbsent(err error) bool {
	var se *StructuredError
	if !errors.As(err, &se) {
		return false
	}
	return strings.HasPrefix(se.Code, AbsentPrefix)
}

// CodeOf returns the structured error code in err's chain, or "".
func CodeOf(err error) string {
	var se *StructuredError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
