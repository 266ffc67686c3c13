package model

import "sort"

// Annotations is the string-keyed user data attached to a graph, vertex,
// edge or rule. The zero value is ready to use.
type Annotations struct {
	values map[string]string
}

// NewAnnotations builds an Annotations set holding a copy of m.
func NewAnnotations(m map[string]string) Annotations {
	a := Annotations{}
	for k, v := range m {
		a.Set(k, v)
	}
	return a
}

// entries returns the backing map. A nil set reads as empty.
func (a *Annotations) entries() map[string]string {
	if a == nil {
		return nil
	}
	return a.values
}

// Get returns the value stored under key.
func (a *Annotations) Get(key string) (string, bool) {
	v, ok := a.entries()[key]
	return v, ok
}

// Set stores value under key, replacing any previous value.
func (a *Annotations) Set(key, value string) {
	if a.values == nil {
		a.values = make(map[string]string)
	}
	a.values[key] = value
}

// Delete removes key. Deleting a missing key is a no-op.
func (a *Annotations) Delete(key string) {
	delete(a.entries(), key)
}

// Len returns the number of entries.
func (a *Annotations) Len() int {
	return len(a.entries())
}

// Keys returns the keys in sorted order.
func (a *Annotations) Keys() []string {
	keys := make([]string, 0, a.Len())
	for k := range a.entries() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns a copy of the entries.
func (a *Annotations) Map() map[string]string {
	out := make(map[string]string, a.Len())
	for k, v := range a.entries() {
		out[k] = v
	}
	return out
}

// Clone returns an independent copy.
func (a *Annotations) Clone() Annotations {
	return NewAnnotations(a.entries())
}

// Equal reports whether both sets hold the same entries. A nil set equals
// an empty one.
func (a *Annotations) Equal(other *Annotations) bool {
	if a.Len() != other.Len() {
		return false
	}
	for k, v := range a.entries() {
		if ov, ok := other.Get(k); !ok || ov != v {
			return false
		}
	}
	return true
}
