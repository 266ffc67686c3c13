package model

import "fmt"

// Rule is a named rewrite rule with its two sides.
type Rule struct {
	Name        string
	LHS         *Graph
	RHS         *Graph
	Annotations Annotations
}

// UpdateFrom refreshes r in place from a freshly decoded rule. Callers
// holding r keep a valid reference across the update.
func (r *Rule) UpdateFrom(fresh *Rule) error {
	if fresh == nil {
		return fmt.Errorf("update rule %s: nil source", r.Name)
	}
	if r.Name != "" && fresh.Name != r.Name {
		return fmt.Errorf("update rule %s: got rule %s", r.Name, fresh.Name)
	}
	r.Name = fresh.Name
	r.LHS = fresh.LHS
	r.RHS = fresh.RHS
	r.Annotations = fresh.Annotations.Clone()
	return nil
}

// AttachedRewrite is one candidate rewrite the core attached to a graph:
// applying the rule at position Index turns the graph into NewGraph.
type AttachedRewrite struct {
	Graph    string
	Index    int
	Rule     *Rule
	NewGraph *Graph
}

func (a *AttachedRewrite) String() string {
	return fmt.Sprintf("%s[%d] %s", a.Graph, a.Index, a.Rule.Name)
}
