package fragment

import "encoding/xml"

type recordState int

const (
	stateStart recordState = iota
	stateOpen
	stateDone
)

// record carries the bookkeeping shared by handlers whose body is a flat
// sequence of named children: the root element, one active child, and how
// often each child element has been seen.
type record struct {
	root  string
	state recordState
	seen  map[string]int
	d     delegator
}

func newRecord(root string) record {
	return record{root: root, seen: make(map[string]int)}
}

// open handles the root element itself and hands every direct child to
// body. Events for an active child never reach body.
func (r *record) open(name string, attrs []xml.Attr, body func(name string, attrs []xml.Attr) error) error {
	if r.d.active() {
		return r.d.open(name, attrs)
	}
	switch r.state {
	case stateStart:
		if name != r.root {
			return unexpected(r.root, name)
		}
		r.state = stateOpen
		return nil
	case stateOpen:
		r.seen[name]++
		return body(name, attrs)
	default:
		return unexpected(r.root, name)
	}
}

// close forwards to the active child or closes the root. It reports
// whether the root was the element closed.
func (r *record) close(name string) (bool, error) {
	if r.d.active() {
		return false, r.d.close(name)
	}
	if r.state == stateOpen && name == r.root {
		r.state = stateDone
		return true, nil
	}
	open := ""
	if r.state == stateOpen {
		open = r.root
	}
	return false, mismatched(r.root, name, open)
}

func (r *record) text(data []byte) error {
	if r.d.active() {
		return r.d.text(data)
	}
	return structuralText(r.root, data)
}

func (r *record) complete() bool {
	return r.state == stateDone
}

// once rejects a second occurrence of a single-valued child.
func (r *record) once(name string) error {
	if r.seen[name] > 1 {
		return duplicate(r.root, name)
	}
	return nil
}

// skip hands an unrecognized child subtree to a Skip handler.
func (r *record) skip(name string, attrs []xml.Attr) error {
	return r.d.start(NewSkip(), name, attrs, nil)
}

// leaf reads a single-valued text child into dst.
func (r *record) leaf(name string, attrs []xml.Attr, dst *string) error {
	if err := r.once(name); err != nil {
		return err
	}
	return attach[string](&r.d, NewLeaf(), name, attrs, func(v string) error {
		*dst = v
		return nil
	})
}
