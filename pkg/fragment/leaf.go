package fragment

import (
	"encoding/xml"
	"strings"
)

// Skip consumes one element subtree without interpreting it. Its depth
// counter covers only the subtree it was started on.
type Skip struct {
	root  string
	depth int
	done  bool
}

// NewSkip returns a handler that discards one subtree.
func NewSkip() *Skip {
	return &Skip{}
}

func (s *Skip) Open(name string, _ []xml.Attr) error {
	if s.done {
		return unexpected("skipped "+s.root, name)
	}
	if s.depth == 0 {
		s.root = name
	}
	s.depth++
	return nil
}

func (s *Skip) Close(name string) error {
	if s.depth == 0 {
		return mismatched("skipped "+s.root, name, "")
	}
	s.depth--
	if s.depth == 0 {
		s.done = true
	}
	return nil
}

func (s *Skip) Text([]byte) error { return nil }

func (s *Skip) Complete() bool { return s.done }

// Result reports the name of the skipped element.
func (s *Skip) Result() (string, error) {
	if !s.done {
		return "", notComplete("skipped " + s.root)
	}
	return s.root, nil
}

// Depth is the current nesting depth inside the skipped subtree.
func (s *Skip) Depth() int { return s.depth }

// Leaf collects the character data of a single value element such as
// <name>v0</name>. Nested elements are rejected.
type Leaf struct {
	name string
	// Trim strips surrounding whitespace from the result. Identifiers are
	// trimmed, user data values are not.
	Trim  bool
	state recordState
	buf   strings.Builder
}

// NewLeaf returns a leaf handler that trims whitespace.
func NewLeaf() *Leaf {
	return &Leaf{Trim: true}
}

// NewRawLeaf returns a leaf handler that keeps the text verbatim.
func NewRawLeaf() *Leaf {
	return &Leaf{}
}

func (l *Leaf) Open(name string, _ []xml.Attr) error {
	if l.state != stateStart {
		return unexpected(l.fragment(), name)
	}
	l.name = name
	l.state = stateOpen
	return nil
}

func (l *Leaf) Close(name string) error {
	if l.state != stateOpen || name != l.name {
		return mismatched(l.fragment(), name, l.name)
	}
	l.state = stateDone
	return nil
}

func (l *Leaf) Text(data []byte) error {
	if l.state != stateOpen {
		return structuralText(l.fragment(), data)
	}
	l.buf.Write(data)
	return nil
}

func (l *Leaf) Complete() bool { return l.state == stateDone }

func (l *Leaf) Result() (string, error) {
	if l.state != stateDone {
		return "", notComplete(l.fragment())
	}
	if l.Trim {
		return strings.TrimSpace(l.buf.String()), nil
	}
	return l.buf.String(), nil
}

func (l *Leaf) fragment() string {
	if l.name == "" {
		return "value"
	}
	return l.name
}
