// Package model defines the typed values decoded from core fragments:
// graphs, rules and attached rewrites. Values are built by the fragment
// handlers and handed to the caller once complete.
package model

import "fmt"

// Vertex is a node of a graph as described by the core.
type Vertex struct {
	Name     string
	Type     string
	Boundary bool
	// Data is the textual rendering of the vertex data (e.g. an angle
	// expression), empty when the vertex carries none.
	Data        string
	Annotations Annotations
}

// Edge connects two vertices by name.
type Edge struct {
	Name        string
	Type        string
	Source      string
	Target      string
	Annotations Annotations
}

// BangBox is a named grouping of vertices.
type BangBox struct {
	Name     string
	Vertices []string
}

// Graph is the local mirror of a graph held by the core.
type Graph struct {
	Name        string
	Vertices    []*Vertex
	Edges       []*Edge
	BangBoxes   []*BangBox
	Annotations Annotations
}

// Vertex returns the vertex with the given name.
func (g *Graph) Vertex(name string) (*Vertex, bool) {
	for _, v := range g.Vertices {
		if v.Name == name {
			return v, true
		}
	}
	return nil, false
}

// Edge returns the edge with the given name.
func (g *Graph) Edge(name string) (*Edge, bool) {
	for _, e := range g.Edges {
		if e.Name == name {
			return e, true
		}
	}
	return nil, false
}

// Validate checks that every edge endpoint and boxed vertex refers to a
// vertex of the graph.
func (g *Graph) Validate() error {
	names := make(map[string]struct{}, len(g.Vertices))
	for _, v := range g.Vertices {
		names[v.Name] = struct{}{}
	}
	for _, e := range g.Edges {
		if _, ok := names[e.Source]; !ok {
			return fmt.Errorf("edge %s: unknown source vertex %s", e.Name, e.Source)
		}
		if _, ok := names[e.Target]; !ok {
			return fmt.Errorf("edge %s: unknown target vertex %s", e.Name, e.Target)
		}
	}
	for _, b := range g.BangBoxes {
		for _, v := range b.Vertices {
			if _, ok := names[v]; !ok {
				return fmt.Errorf("bang box %s: unknown vertex %s", b.Name, v)
			}
		}
	}
	return nil
}
