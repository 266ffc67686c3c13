package fragment

import (
	"encoding/xml"
	"strconv"

	"github.com/quantomatic/quanto-client/pkg/model"
)

// Graph decodes a <graph> fragment. Unknown children are skipped.
type Graph struct {
	rec      record
	graph    *model.Graph
	vertices map[string]struct{}
	edges    map[string]struct{}
}

// NewGraph returns a handler for one <graph> element.
func NewGraph() *Graph {
	return &Graph{
		rec:      newRecord("graph"),
		graph:    &model.Graph{},
		vertices: make(map[string]struct{}),
		edges:    make(map[string]struct{}),
	}
}

func (g *Graph) Open(name string, attrs []xml.Attr) error {
	return g.rec.open(name, attrs, g.child)
}

func (g *Graph) child(name string, attrs []xml.Attr) error {
	switch name {
	case "name":
		return g.rec.leaf(name, attrs, &g.graph.Name)
	case "vertex":
		return attach[*model.Vertex](&g.rec.d, newVertex(), name, attrs, func(v *model.Vertex) error {
			if _, dup := g.vertices[v.Name]; dup {
				return &ParseError{Kind: KindDuplicateElement, Fragment: "graph", Element: "vertex", Detail: "name " + v.Name}
			}
			g.vertices[v.Name] = struct{}{}
			g.graph.Vertices = append(g.graph.Vertices, v)
			return nil
		})
	case "edge":
		return attach[*model.Edge](&g.rec.d, newEdge(), name, attrs, func(e *model.Edge) error {
			if _, dup := g.edges[e.Name]; dup {
				return &ParseError{Kind: KindDuplicateElement, Fragment: "graph", Element: "edge", Detail: "name " + e.Name}
			}
			g.edges[e.Name] = struct{}{}
			g.graph.Edges = append(g.graph.Edges, e)
			return nil
		})
	case "bangbox":
		return attach[*model.BangBox](&g.rec.d, newBangBox(), name, attrs, func(b *model.BangBox) error {
			g.graph.BangBoxes = append(g.graph.BangBoxes, b)
			return nil
		})
	case "user_data":
		if err := g.rec.once(name); err != nil {
			return err
		}
		return attach[model.Annotations](&g.rec.d, NewUserData(), name, attrs, func(a model.Annotations) error {
			g.graph.Annotations = a
			return nil
		})
	default:
		return g.rec.skip(name, attrs)
	}
}

func (g *Graph) Close(name string) error {
	_, err := g.rec.close(name)
	return err
}

func (g *Graph) Text(data []byte) error { return g.rec.text(data) }

func (g *Graph) Complete() bool { return g.rec.complete() }

// Result returns the graph once every edge and bang box refers to a
// vertex that was described.
func (g *Graph) Result() (*model.Graph, error) {
	if !g.rec.complete() {
		return nil, notComplete("graph")
	}
	if err := g.graph.Validate(); err != nil {
		return nil, &ParseError{Kind: KindMissingField, Fragment: "graph", Element: "vertex", Detail: err.Error()}
	}
	return g.graph, nil
}

type vertexHandler struct {
	rec      record
	vertex   model.Vertex
	boundary string
}

func newVertex() *vertexHandler {
	return &vertexHandler{rec: newRecord("vertex")}
}

func (v *vertexHandler) Open(name string, attrs []xml.Attr) error {
	return v.rec.open(name, attrs, func(name string, attrs []xml.Attr) error {
		switch name {
		case "name":
			return v.rec.leaf(name, attrs, &v.vertex.Name)
		case "type":
			return v.rec.leaf(name, attrs, &v.vertex.Type)
		case "boundary":
			return v.rec.leaf(name, attrs, &v.boundary)
		case "data":
			if err := v.rec.once(name); err != nil {
				return err
			}
			return attach[string](&v.rec.d, newVertexData(), name, attrs, func(s string) error {
				v.vertex.Data = s
				return nil
			})
		case "user_data":
			if err := v.rec.once(name); err != nil {
				return err
			}
			return attach[model.Annotations](&v.rec.d, NewUserData(), name, attrs, func(a model.Annotations) error {
				v.vertex.Annotations = a
				return nil
			})
		default:
			return v.rec.skip(name, attrs)
		}
	})
}

func (v *vertexHandler) Close(name string) error {
	_, err := v.rec.close(name)
	return err
}

func (v *vertexHandler) Text(data []byte) error { return v.rec.text(data) }

func (v *vertexHandler) Complete() bool { return v.rec.complete() }

func (v *vertexHandler) Result() (*model.Vertex, error) {
	if !v.rec.complete() {
		return nil, notComplete("vertex")
	}
	if v.vertex.Name == "" {
		return nil, missing("vertex", "name")
	}
	if v.boundary != "" {
		b, err := strconv.ParseBool(v.boundary)
		if err != nil {
			return nil, &ParseError{Kind: KindUnexpectedElement, Fragment: "vertex", Element: "boundary", Detail: "not a boolean: " + v.boundary}
		}
		v.vertex.Boundary = b
	}
	out := v.vertex
	return &out, nil
}

// vertexDataHandler keeps the <as_string> rendering of vertex data and
// skips any structured form alongside it.
type vertexDataHandler struct {
	rec  record
	text string
}

func newVertexData() *vertexDataHandler {
	return &vertexDataHandler{rec: newRecord("data")}
}

func (d *vertexDataHandler) Open(name string, attrs []xml.Attr) error {
	return d.rec.open(name, attrs, func(name string, attrs []xml.Attr) error {
		if name == "as_string" {
			return d.rec.leaf(name, attrs, &d.text)
		}
		return d.rec.skip(name, attrs)
	})
}

func (d *vertexDataHandler) Close(name string) error {
	_, err := d.rec.close(name)
	return err
}

func (d *vertexDataHandler) Text(data []byte) error { return d.rec.text(data) }

func (d *vertexDataHandler) Complete() bool { return d.rec.complete() }

func (d *vertexDataHandler) Result() (string, error) {
	if !d.rec.complete() {
		return "", notComplete("data")
	}
	return d.text, nil
}

type edgeHandler struct {
	rec  record
	edge model.Edge
}

func newEdge() *edgeHandler {
	return &edgeHandler{rec: newRecord("edge")}
}

func (e *edgeHandler) Open(name string, attrs []xml.Attr) error {
	return e.rec.open(name, attrs, func(name string, attrs []xml.Attr) error {
		switch name {
		case "name":
			return e.rec.leaf(name, attrs, &e.edge.Name)
		case "type":
			return e.rec.leaf(name, attrs, &e.edge.Type)
		case "source":
			return e.rec.leaf(name, attrs, &e.edge.Source)
		case "target":
			return e.rec.leaf(name, attrs, &e.edge.Target)
		case "user_data":
			if err := e.rec.once(name); err != nil {
				return err
			}
			return attach[model.Annotations](&e.rec.d, NewUserData(), name, attrs, func(a model.Annotations) error {
				e.edge.Annotations = a
				return nil
			})
		default:
			return e.rec.skip(name, attrs)
		}
	})
}

func (e *edgeHandler) Close(name string) error {
	_, err := e.rec.close(name)
	return err
}

func (e *edgeHandler) Text(data []byte) error { return e.rec.text(data) }

func (e *edgeHandler) Complete() bool { return e.rec.complete() }

func (e *edgeHandler) Result() (*model.Edge, error) {
	if !e.rec.complete() {
		return nil, notComplete("edge")
	}
	switch {
	case e.edge.Name == "":
		return nil, missing("edge", "name")
	case e.edge.Source == "":
		return nil, missing("edge", "source")
	case e.edge.Target == "":
		return nil, missing("edge", "target")
	}
	out := e.edge
	return &out, nil
}

type bangBoxHandler struct {
	rec record
	box model.BangBox
}

func newBangBox() *bangBoxHandler {
	return &bangBoxHandler{rec: newRecord("bangbox")}
}

func (b *bangBoxHandler) Open(name string, attrs []xml.Attr) error {
	return b.rec.open(name, attrs, func(name string, attrs []xml.Attr) error {
		switch name {
		case "name":
			return b.rec.leaf(name, attrs, &b.box.Name)
		case "boxedvertex":
			return attach[string](&b.rec.d, NewLeaf(), name, attrs, func(v string) error {
				b.box.Vertices = append(b.box.Vertices, v)
				return nil
			})
		default:
			return b.rec.skip(name, attrs)
		}
	})
}

func (b *bangBoxHandler) Close(name string) error {
	_, err := b.rec.close(name)
	return err
}

func (b *bangBoxHandler) Text(data []byte) error { return b.rec.text(data) }

func (b *bangBoxHandler) Complete() bool { return b.rec.complete() }

func (b *bangBoxHandler) Result() (*model.BangBox, error) {
	if !b.rec.complete() {
		return nil, notComplete("bangbox")
	}
	if b.box.Name == "" {
		return nil, missing("bangbox", "name")
	}
	out := b.box
	return &out, nil
}
