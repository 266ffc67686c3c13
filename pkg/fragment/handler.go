// Package fragment decodes the XML fragments the core sends as response
// bodies (graphs, rules, rewrites) into typed model values.
//
// Decoding is event driven. A Handler receives open, close and text events
// in document order and owns a small state machine for its fragment type.
// Nested fragments are handed to child handlers: a parent holds at most one
// active child, forwards every event to it until the child completes, then
// collects the child's result and resumes. Elements a handler does not
// understand are delegated to a Skip handler so that cores sending extra
// structure stay readable.
//
// Any error is terminal for the decode: partially built values are dropped
// rather than returned.
package fragment

import (
	"bytes"
	"encoding/xml"
)

// ElementHandler is the event contract shared by every handler.
type ElementHandler interface {
	// Open is called for each start element, including the handler's root.
	Open(name string, attrs []xml.Attr) error

	// Close is called for each end element.
	Close(name string) error

	// Text is called with character data. The slice is only valid for the
	// duration of the call.
	Text(data []byte) error

	// Complete reports whether the root element has been closed and every
	// mandatory child seen.
	Complete() bool
}

// Handler is an ElementHandler that builds a value of type T.
type Handler[T any] interface {
	ElementHandler

	// Result returns the built value. It fails with KindNotComplete before
	// completion and KindMissingField when a mandatory element is absent.
	Result() (T, error)
}

// delegator routes events to the single active child of a parent handler.
type delegator struct {
	child  ElementHandler
	onDone func() error
}

func (d *delegator) active() bool {
	return d.child != nil
}

// start attaches h, forwards the opening event so h sees its own root, and
// arranges for done to run once h completes.
func (d *delegator) start(h ElementHandler, name string, attrs []xml.Attr, done func() error) error {
	d.child = h
	d.onDone = done
	return h.Open(name, attrs)
}

func (d *delegator) open(name string, attrs []xml.Attr) error {
	return d.child.Open(name, attrs)
}

func (d *delegator) close(name string) error {
	if err := d.child.Close(name); err != nil {
		return err
	}
	if !d.child.Complete() {
		return nil
	}
	done := d.onDone
	d.child, d.onDone = nil, nil
	if done == nil {
		return nil
	}
	return done()
}

func (d *delegator) text(data []byte) error {
	return d.child.Text(data)
}

// attach starts a typed child and hands its result to use on completion.
func attach[T any](d *delegator, h Handler[T], name string, attrs []xml.Attr, use func(T) error) error {
	return d.start(h, name, attrs, func() error {
		v, err := h.Result()
		if err != nil {
			return err
		}
		return use(v)
	})
}

// structuralText accepts whitespace between elements and rejects anything
// else outside a leaf.
func structuralText(fragment string, data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return &ParseError{
		Kind:     KindUnexpectedElement,
		Fragment: fragment,
		Element:  "#text",
		Detail:   "character data outside a value element",
	}
}

func attr(attrs []xml.Attr, name string) (string, bool) {
	for _, a := range attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}
