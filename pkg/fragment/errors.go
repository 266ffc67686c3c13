package fragment

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a fragment failed to decode.
type ErrorKind string

const (
	// KindUnexpectedElement: an element (or text) appeared where the
	// handler's grammar does not allow it.
	KindUnexpectedElement ErrorKind = "unexpected_element"

	// KindMismatchedElement: a close did not match the element the handler
	// has open.
	KindMismatchedElement ErrorKind = "mismatched_element"

	// KindMissingField: a mandatory element never appeared.
	KindMissingField ErrorKind = "missing_field"

	// KindDuplicateElement: an element allowed once appeared again.
	KindDuplicateElement ErrorKind = "duplicate_element"

	// KindTruncatedFragment: the payload ended before the root closed.
	KindTruncatedFragment ErrorKind = "truncated_fragment"

	// KindMalformed: the payload is not well-formed XML.
	KindMalformed ErrorKind = "malformed"

	// KindNotComplete: a result was requested before the handler completed.
	KindNotComplete ErrorKind = "not_complete"
)

// ParseError reports a payload that does not match the expected fragment
// grammar. A ParseError always means the partial result was discarded.
type ParseError struct {
	Kind ErrorKind

	// Fragment is the fragment type being decoded (graph, rule, rewrite...).
	Fragment string

	// Element is the offending element name, if any.
	Element string

	// Detail is a human-readable description.
	Detail string

	// Err is the underlying decoder error, if any.
	Err error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse %s: %s", e.Fragment, e.Kind)
	if e.Element != "" {
		msg += fmt.Sprintf(" <%s>", e.Element)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying decoder error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is matches any ParseError of the same kind, so errors.Is(err,
// ErrDuplicateElement) works regardless of element or fragment.
func (e *ParseError) Is(target error) bool {
	t, ok := target.(*ParseError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is.
var (
	ErrUnexpectedElement = &ParseError{Kind: KindUnexpectedElement}
	ErrMismatchedElement = &ParseError{Kind: KindMismatchedElement}
	ErrMissingField      = &ParseError{Kind: KindMissingField}
	ErrDuplicateElement  = &ParseError{Kind: KindDuplicateElement}
	ErrTruncatedFragment = &ParseError{Kind: KindTruncatedFragment}
	ErrMalformed         = &ParseError{Kind: KindMalformed}
	ErrNotComplete       = &ParseError{Kind: KindNotComplete}
)

// IsParseError reports whether err is (or wraps) a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// KindOf returns the kind of the ParseError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

func unexpected(fragment, element string) error {
	return &ParseError{Kind: KindUnexpectedElement, Fragment: fragment, Element: element}
}

func mismatched(fragment, element, open string) error {
	detail := "nothing open"
	if open != "" {
		detail = fmt.Sprintf("expected </%s>", open)
	}
	return &ParseError{Kind: KindMismatchedElement, Fragment: fragment, Element: element, Detail: detail}
}

func missing(fragment, element string) error {
	return &ParseError{Kind: KindMissingField, Fragment: fragment, Element: element}
}

func duplicate(fragment, element string) error {
	return &ParseError{Kind: KindDuplicateElement, Fragment: fragment, Element: element}
}

func notComplete(fragment string) error {
	return &ParseError{Kind: KindNotComplete, Fragment: fragment}
}
