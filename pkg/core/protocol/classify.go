package protocol

import (
	"fmt"
	"regexp"
)

// DefaultErrorMarker matches the first line of a structured error report:
// an upper-case code of at least four characters followed by a message.
// Payload lines (graph names, greetings, XML) never have this shape.
const DefaultErrorMarker = `^([A-Z][A-Z0-9_]{3,})\s+(.*)$`

// Result is the outcome of classifying a response. Exactly one of Payload
// and Err is set.
type Result struct {
	Payload *Response
	Err     *StructuredError
}

// OK reports whether the response was a success payload.
func (r Result) OK() bool {
	return r.Err == nil
}

// Classifier decides whether a response is a payload or a structured
// error. It holds no state besides the marker and is safe for concurrent
// use.
type Classifier struct {
	marker *regexp.Regexp
}

// NewClassifier compiles pattern as the error marker. The pattern must
// have two groups: the code and the message.
func NewClassifier(pattern string) (*Classifier, error) {
	if pattern == "" {
		pattern = DefaultErrorMarker
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid error marker: %w", err)
	}
	if re.NumSubexp() != 2 {
		return nil, fmt.Errorf("error marker must have 2 groups, got %d", re.NumSubexp())
	}
	return &Classifier{marker: re}, nil
}

// DefaultClassifier uses DefaultErrorMarker.
func DefaultClassifier() *Classifier {
	return &Classifier{marker: regexp.MustCompile(DefaultErrorMarker)}
}

// Classify inspects the first line only. Payload content is never
// interpreted. An empty response is a success with an empty payload.
func (c *Classifier) Classify(resp *Response) Result {
	if resp == nil {
		resp = &Response{}
	}
	if resp.Empty() {
		return Result{Payload: resp}
	}
	m := c.marker.FindStringSubmatch(resp.Lines[0])
	if m == nil {
		return Result{Payload: resp}
	}
	detail := make([]string, len(resp.Lines)-1)
	copy(detail, resp.Lines[1:])
	return Result{Err: &StructuredError{
		Code:    m[1],
		Message: m[2],
		Detail:  detail,
		Raw:     resp,
	}}
}

// Check classifies resp and returns the payload or the structured error.
func (c *Classifier) Check(resp *Response) (*Response, error) {
	res := c.Classify(resp)
	if !res.OK() {
		return nil, res.Err
	}
	return res.Payload, nil
}
