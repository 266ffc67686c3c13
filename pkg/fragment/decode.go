package fragment

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/quantomatic/quanto-client/pkg/model"
)

// Decode feeds the XML document read from r into h event by event and
// returns h's result. The handler must see exactly one root element; on
// any error the zero value is returned and the partial result is dropped.
func Decode[T any](r io.Reader, h Handler[T]) (T, error) {
	var zero T
	if err := Feed(r, h); err != nil {
		return zero, err
	}
	v, err := h.Result()
	if err != nil {
		return zero, err
	}
	return v, nil
}

// DecodeString is Decode over an in-memory payload.
func DecodeString[T any](s string, h Handler[T]) (T, error) {
	return Decode[T](strings.NewReader(s), h)
}

// Feed drives h with the events of the document in r without extracting
// a result.
func Feed(r io.Reader, h ElementHandler) error {
	dec := xml.NewDecoder(r)
	dec.Strict = true
	started := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			if !h.Complete() {
				return &ParseError{Kind: KindTruncatedFragment, Fragment: "document", Detail: "payload ended before the root element closed"}
			}
			return nil
		}
		if err != nil {
			return syntaxError(err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if h.Complete() {
				return &ParseError{Kind: KindUnexpectedElement, Fragment: "document", Element: t.Name.Local, Detail: "content after the root element"}
			}
			started = true
			if err := h.Open(t.Name.Local, t.Attr); err != nil {
				return err
			}
		case xml.EndElement:
			if err := h.Close(t.Name.Local); err != nil {
				return err
			}
		case xml.CharData:
			if !started || h.Complete() {
				if err := structuralText("document", t); err != nil {
					return err
				}
				continue
			}
			if err := h.Text(t); err != nil {
				return err
			}
		}
	}
}

func syntaxError(err error) error {
	var se *xml.SyntaxError
	if errors.As(err, &se) && se.Msg == "unexpected EOF" {
		return &ParseError{Kind: KindTruncatedFragment, Fragment: "document", Err: err}
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return &ParseError{Kind: KindTruncatedFragment, Fragment: "document", Err: err}
	}
	return &ParseError{Kind: KindMalformed, Fragment: "document", Err: err}
}

// DecodeGraph decodes a single <graph> document.
func DecodeGraph(r io.Reader) (*model.Graph, error) {
	return Decode[*model.Graph](r, NewGraph())
}

// DecodeRule decodes a single <rule> document.
func DecodeRule(r io.Reader) (*model.Rule, error) {
	return Decode[*model.Rule](r, NewRule())
}

// DecodeRewrite decodes a single <rewrite> document as the rewrite at
// position index of graph.
func DecodeRewrite(r io.Reader, graph string, index int) (*model.AttachedRewrite, error) {
	return Decode[*model.AttachedRewrite](r, NewRewrite(graph, index))
}

// DecodeRewrites decodes the <rewrites> list attached to graph.
func DecodeRewrites(r io.Reader, graph string) ([]*model.AttachedRewrite, error) {
	return Decode[[]*model.AttachedRewrite](r, NewRewrites(graph))
}
