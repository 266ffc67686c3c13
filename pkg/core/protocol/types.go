// Package protocol defines the line-oriented stdio protocol spoken with a
// Quantomatic core process: commands, sentinel-terminated responses, and
// the classification of responses into payloads and structured errors.
package protocol

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode"
)

// Sentinel is the line that terminates every response.
const Sentinel = "stop"

// Command is one outbound instruction. It is written as a single line:
//
//	verb arg1 arg2 ... [trailing]
//
// Args are single tokens. Trailing is an optional final field that may
// contain spaces, used for free-text values such as user data.
type Command struct {
	Verb     string
	Args     []string
	Trailing string
}

// NewCommand builds a command from a verb and token arguments.
func NewCommand(verb string, args ...string) *Command {
	return &Command{Verb: verb, Args: args}
}

// WithTrailing sets the free-text final field.
func (c *Command) WithTrailing(s string) *Command {
	c.Trailing = s
	return c
}

// Validate checks that the command serializes to exactly one line with
// unambiguous field boundaries.
func (c *Command) Validate() error {
	if err := validateToken("verb", c.Verb); err != nil {
		return err
	}
	for i, a := range c.Args {
		if err := validateToken(fmt.Sprintf("argument %d", i), a); err != nil {
			return err
		}
	}
	if strings.ContainsAny(c.Trailing, "\r\n") {
		return fmt.Errorf("trailing field contains a line break")
	}
	return nil
}

func validateToken(what, s string) error {
	if s == "" {
		return fmt.Errorf("%s is empty", what)
	}
	if strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%s %q contains whitespace", what, s)
	}
	return nil
}

// String renders the wire line without the newline.
func (c *Command) String() string {
	var b strings.Builder
	b.WriteString(c.Verb)
	for _, a := range c.Args {
		b.WriteByte(' ')
		b.WriteString(a)
	}
	if c.Trailing != "" {
		b.WriteByte(' ')
		b.WriteString(c.Trailing)
	}
	return b.String()
}

// ParseCommand splits a received line into a command. At most nargs
// token arguments are taken; the remainder of the line, if any, becomes
// Trailing. A negative nargs takes every field as an argument.
func ParseCommand(line string, nargs int) (*Command, error) {
	line = strings.TrimRight(line, "\r\n")
	if nargs < 0 {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			return nil, fmt.Errorf("empty command line")
		}
		return &Command{Verb: fields[0], Args: fields[1:]}, nil
	}

	parts := strings.SplitN(line, " ", nargs+2)
	if parts[0] == "" {
		return nil, fmt.Errorf("empty command line")
	}
	cmd := &Command{Verb: parts[0]}
	rest := parts[1:]
	if len(rest) > nargs {
		cmd.Trailing = rest[nargs]
		rest = rest[:nargs]
	}
	cmd.Args = rest
	return cmd, nil
}

// Response is the sequence of lines the core sent before the sentinel.
// The sentinel itself is never included.
type Response struct {
	Lines []string

	ctx context.Context
}

// WithContext returns a shallow copy of r carrying ctx.
func (r *Response) WithContext(ctx context.Context) *Response {
	out := *r
	out.ctx = ctx
	return &out
}

// Context returns the context of the call that produced r. A client sets
// it to the call's span context before handing the payload on.
func (r *Response) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// Empty reports whether the response carried no lines.
func (r *Response) Empty() bool {
	return len(r.Lines) == 0
}

// First returns the first line, or "" for an empty response.
func (r *Response) First() string {
	if len(r.Lines) == 0 {
		return ""
	}
	return r.Lines[0]
}

// Text joins the lines with newlines.
func (r *Response) Text() string {
	return strings.Join(r.Lines, "\n")
}

// Reader streams the lines, newline separated, without joining them
// into one string first.
func (r *Response) Reader() io.Reader {
	return &lineReader{lines: r.Lines}
}

type lineReader struct {
	lines []string
	line  int
	off   int
}

func (lr *lineReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if lr.line >= len(lr.lines) {
			break
		}
		cur := lr.lines[lr.line]
		if lr.off < len(cur) {
			c := copy(p[n:], cur[lr.off:])
			lr.off += c
			n += c
			continue
		}
		p[n] = '\n'
		n++
		lr.line++
		lr.off = 0
	}
	if n == 0 && lr.line >= len(lr.lines) {
		return 0, io.EOF
	}
	return n, nil
}
