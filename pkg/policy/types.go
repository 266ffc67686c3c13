package policy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quantomatic/quanto-client/pkg/core/protocol"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is logged but does not block the command.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the command.
	SeverityError Severity = "error"

	// SeverityCritical blocks the command.
	SeverityCritical Severity = "critical"
)

// Blocks reports whether a violation of this severity stops a command.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Session modes.
const (
	ModeReadWrite = "read-write"
	ModeReadOnly  = "read-only"
)

// Sources that issue commands.
const (
	SourceCLI    = "cli"
	SourceScript = "script"
	SourceWatch  = "watch"
)

// Policy is a Rego module with its metadata.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity applies to deny entries that do not carry their own.
	Severity Severity `json:"severity"`

	Enabled bool `json:"enabled"`

	// Source is the file the policy came from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation is one deny entry.
type Violation struct {
	Policy   string   `json:"policy"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Policy, v.Message)
}

// Decision is the result of evaluating every enabled policy against one
// command.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Violations []Violation   `json:"violations,omitempty"`
	Warnings   []Violation   `json:"warnings,omitempty"`
	Evaluated  []string      `json:"evaluated"`
	Duration   time.Duration `json:"duration"`
}

// Input is the document policies see as input.
type Input struct {
	Verb   string   `json:"verb"`
	Args   []string `json:"args"`
	Text   string   `json:"text"`
	Source string   `json:"source"`
	Mode   string   `json:"mode"`
}

// NewInput describes cmd issued by source in a session of the given mode.
func NewInput(cmd *protocol.Command, source, mode string) *Input {
	args := cmd.Args
	if args == nil {
		args = []string{}
	}
	if mode == "" {
		mode = ModeReadWrite
	}
	return &Input{
		Verb:   cmd.Verb,
		Args:   args,
		Text:   cmd.Trailing,
		Source: source,
		Mode:   mode,
	}
}

func (in *Input) document() map[string]interface{} {
	args := make([]interface{}, len(in.Args))
	for i, a := range in.Args {
		args[i] = a
	}
	return map[string]interface{}{
		"verb":   in.Verb,
		"args":   args,
		"text":   in.Text,
		"source": in.Source,
		"mode":   in.Mode,
	}
}

// ErrDenied matches every DeniedError.
var ErrDenied = errors.New("denied by policy")

// DeniedError is returned for a command a policy blocked. Nothing was
// sent to the core.
type DeniedError struct {
	Verb       string
	Violations []Violation
}

func (e *DeniedError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}
	return fmt.Sprintf("%s denied by policy: %s", e.Verb, strings.Join(msgs, "; "))
}

// Is matches ErrDenied.
func (e *DeniedError) Is(target error) bool {
	return target == ErrDenied
}
