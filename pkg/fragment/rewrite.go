package fragment

import (
	"encoding/xml"

	"github.com/quantomatic/quanto-client/pkg/model"
)

type rewriteState int

const (
	rewriteNone rewriteState = iota
	rewriteIn
	rewriteNewgraph
	rewriteDone
)

// Rewrite decodes one attached rewrite:
//
//	<rewrite><rule>…</rule><newgraph><graph>…</graph></newgraph></rewrite>
//
// Exactly one rule and one newgraph are required. A second occurrence of
// either fails immediately, before the rewrite closes.
type Rewrite struct {
	graph string
	index int

	state    rewriteState
	d        delegator
	seenRule bool
	seenNew  bool
	rule     *model.Rule
	newGraph *model.Graph
}

// NewRewrite returns a handler for the rewrite at position index of the
// named graph.
func NewRewrite(graph string, index int) *Rewrite {
	return &Rewrite{graph: graph, index: index}
}

func (w *Rewrite) Open(name string, attrs []xml.Attr) error {
	if w.d.active() {
		return w.d.open(name, attrs)
	}
	switch w.state {
	case rewriteNone:
		if name != "rewrite" {
			return unexpected("rewrite", name)
		}
		w.state = rewriteIn
		return nil
	case rewriteIn:
		switch name {
		case "rule":
			if w.seenRule {
				return duplicate("rewrite", name)
			}
			w.seenRule = true
			return attach[*model.Rule](&w.d, NewRule(), name, attrs, func(r *model.Rule) error {
				w.rule = r
				return nil
			})
		case "newgraph":
			if w.seenNew {
				return duplicate("rewrite", name)
			}
			w.seenNew = true
			w.state = rewriteNewgraph
			return nil
		default:
			return w.d.start(NewSkip(), name, attrs, nil)
		}
	case rewriteNewgraph:
		if name != "graph" {
			return unexpected("rewrite newgraph", name)
		}
		if w.newGraph != nil {
			return duplicate("rewrite newgraph", name)
		}
		return attach[*model.Graph](&w.d, NewGraph(), name, attrs, func(g *model.Graph) error {
			w.newGraph = g
			return nil
		})
	default:
		return unexpected("rewrite", name)
	}
}

func (w *Rewrite) Close(name string) error {
	if w.d.active() {
		return w.d.close(name)
	}
	switch w.state {
	case rewriteNewgraph:
		if name != "newgraph" {
			return mismatched("rewrite", name, "newgraph")
		}
		if w.newGraph == nil {
			return missing("rewrite newgraph", "graph")
		}
		w.state = rewriteIn
		return nil
	case rewriteIn:
		if name != "rewrite" {
			return mismatched("rewrite", name, "rewrite")
		}
		if w.rule == nil {
			return missing("rewrite", "rule")
		}
		if w.newGraph == nil {
			return missing("rewrite", "newgraph")
		}
		w.state = rewriteDone
		return nil
	default:
		return mismatched("rewrite", name, "")
	}
}

func (w *Rewrite) Text(data []byte) error {
	if w.d.active() {
		return w.d.text(data)
	}
	return structuralText("rewrite", data)
}

func (w *Rewrite) Complete() bool { return w.state == rewriteDone }

func (w *Rewrite) Result() (*model.AttachedRewrite, error) {
	if w.state != rewriteDone {
		return nil, notComplete("rewrite")
	}
	return &model.AttachedRewrite{
		Graph:    w.graph,
		Index:    w.index,
		Rule:     w.rule,
		NewGraph: w.newGraph,
	}, nil
}

// Rewrites decodes the list of rewrites attached to a graph. Each entry is
// numbered by its position in the list.
type Rewrites struct {
	rec   record
	graph string
	list  []*model.AttachedRewrite
}

// NewRewrites returns a handler for the <rewrites> list of graph.
func NewRewrites(graph string) *Rewrites {
	return &Rewrites{rec: newRecord("rewrites"), graph: graph}
}

func (l *Rewrites) Open(name string, attrs []xml.Attr) error {
	return l.rec.open(name, attrs, func(name string, attrs []xml.Attr) error {
		if name != "rewrite" {
			return l.rec.skip(name, attrs)
		}
		h := NewRewrite(l.graph, len(l.list))
		return attach[*model.AttachedRewrite](&l.rec.d, h, name, attrs, func(r *model.AttachedRewrite) error {
			l.list = append(l.list, r)
			return nil
		})
	})
}

func (l *Rewrites) Close(name string) error {
	_, err := l.rec.close(name)
	return err
}

func (l *Rewrites) Text(data []byte) error { return l.rec.text(data) }

func (l *Rewrites) Complete() bool { return l.rec.complete() }

func (l *Rewrites) Result() ([]*model.AttachedRewrite, error) {
	if !l.rec.complete() {
		return nil, notComplete("rewrites")
	}
	out := make([]*model.AttachedRewrite, len(l.list))
	copy(out, l.list)
	return out, nil
}
