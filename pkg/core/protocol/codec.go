package protocol

import (
	"bufio"
	"fmt"
	"io"
)

// MaxLineSize bounds a single response line. Graph fragments arrive as
// one line per XML line, so this only needs to cover the longest of those.
const MaxLineSize = 10 * 1024 * 1024

// Encoder writes protocol lines to an io.Writer. Every write is flushed so
// the peer sees the line before the caller blocks on a reply.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder creates a new protocol encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w: bufio.NewWriter(w),
	}
}

// Encode writes one command line.
func (e *Encoder) Encode(cmd *Command) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("invalid command: %w", err)
	}
	return e.writeLines([]string{cmd.String()}, false)
}

// EncodeResponse writes payload lines followed by the sentinel.
func (e *Encoder) EncodeResponse(lines ...string) error {
	return e.writeLines(lines, true)
}

// EncodeLines writes payload lines without ending the response.
func (e *Encoder) EncodeLines(lines ...string) error {
	return e.writeLines(lines, false)
}

// EncodeError writes a structured error report followed by the sentinel.
func (e *Encoder) EncodeError(code, message string, detail ...string) error {
	first := code
	if message != "" {
		first += " " + message
	}
	lines := append([]string{first}, detail...)
	return e.EncodeResponse(lines...)
}

func (e *Encoder) writeLines(lines []string, sentinel bool) error {
	for _, line := range lines {
		if err := e.writeLine(line); err != nil {
			return err
		}
	}
	if sentinel {
		if err := e.writeLine(Sentinel); err != nil {
			return err
		}
	}
	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}

func (e *Encoder) writeLine(line string) error {
	if _, err := e.w.WriteString(line); err != nil {
		return fmt.Errorf("failed to write line: %w", err)
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	return nil
}

// Decoder reads protocol lines from an io.Reader.
type Decoder struct {
	r *bufio.Scanner
}

// NewDecoder creates a new protocol decoder.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), MaxLineSize)
	return &Decoder{
		r: scanner,
	}
}

// ReadLine returns the next line without its terminator. It returns io.EOF
// once the stream is exhausted.
func (d *Decoder) ReadLine() (string, error) {
	if !d.r.Scan() {
		if err := d.r.Err(); err != nil {
			return "", fmt.Errorf("scan error: %w", err)
		}
		return "", io.EOF
	}
	return d.r.Text(), nil
}

// ReadResponse accumulates lines up to the sentinel. If the stream ends
// first it returns the lines read so far together with io.ErrUnexpectedEOF.
func (d *Decoder) ReadResponse() (*Response, error) {
	resp := &Response{}
	for {
		line, err := d.ReadLine()
		if err == io.EOF {
			return resp, io.ErrUnexpectedEOF
		}
		if err != nil {
			return resp, err
		}
		if line == Sentinel {
			return resp, nil
		}
		resp.Lines = append(resp.Lines, line)
	}
}
