package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/quantomatic/quanto-client/pkg/model"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printLines(w io.Writer, lines []string) {
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
}

// graphView is the printable form of a graph.
type graphView struct {
	Name      string              `json:"name"`
	Vertices  []vertexView        `json:"vertices"`
	Edges     []edgeView          `json:"edges"`
	BangBoxes map[string][]string `json:"bang_boxes,omitempty"`
	UserData  map[string]string   `json:"user_data,omitempty"`
}

type vertexView struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Boundary bool   `json:"boundary,omitempty"`
	Data     string `json:"data,omitempty"`
}

type edgeView struct {
	Name   string `json:"name"`
	Type   string `json:"type,omitempty"`
	Source string `json:"source"`
	Target string `json:"target"`
}

func newGraphView(name string, g *model.Graph) graphView {
	view := graphView{
		Name:     name,
		Vertices: make([]vertexView, 0, len(g.Vertices)),
		Edges:    make([]edgeView, 0, len(g.Edges)),
		UserData: g.Annotations.Map(),
	}
	for _, v := range g.Vertices {
		view.Vertices = append(view.Vertices, vertexView{Name: v.Name, Type: v.Type, Boundary: v.Boundary, Data: v.Data})
	}
	for _, e := range g.Edges {
		view.Edges = append(view.Edges, edgeView{Name: e.Name, Type: e.Type, Source: e.Source, Target: e.Target})
	}
	if len(g.BangBoxes) > 0 {
		view.BangBoxes = make(map[string][]string, len(g.BangBoxes))
		for _, b := range g.BangBoxes {
			view.BangBoxes[b.Name] = b.Vertices
		}
	}
	return view
}

func printGraph(w io.Writer, view graphView) {
	fmt.Fprintf(w, "graph %s: %d vertices, %d edges\n", view.Name, len(view.Vertices), len(view.Edges))
	for _, v := range view.Vertices {
		kind := v.Type
		if v.Boundary {
			kind = "boundary"
		}
		if v.Data != "" {
			fmt.Fprintf(w, "  vertex %s %s(%s)\n", v.Name, kind, v.Data)
		} else {
			fmt.Fprintf(w, "  vertex %s %s\n", v.Name, kind)
		}
	}
	for _, e := range view.Edges {
		fmt.Fprintf(w, "  edge %s %s -> %s\n", e.Name, e.Source, e.Target)
	}
	names := make([]string, 0, len(view.BangBoxes))
	for name := range view.BangBoxes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  bang box %s %v\n", name, view.BangBoxes[name])
	}
	printMap(w, "  ", view.UserData)
}

func printMap(w io.Writer, indent string, m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s%s = %s\n", indent, k, m[k])
	}
}
