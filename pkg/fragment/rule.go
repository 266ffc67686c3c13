package fragment

import (
	"encoding/xml"

	"github.com/quantomatic/quanto-client/pkg/model"
)

type ruleState int

const (
	ruleStart ruleState = iota
	ruleIn
	ruleInLHS
	ruleInRHS
	ruleDone
)

// Rule decodes a <rule> fragment:
//
//	<rule><name/><lhs><graph/></lhs><rhs><graph/></rhs><user_data/>?</rule>
//
// Each side holds exactly one graph. Unknown children of the rule root are
// skipped; anything but a graph inside lhs or rhs is rejected.
type Rule struct {
	state ruleState
	d     delegator
	seen  map[string]int
	rule  model.Rule
}

// NewRule returns a handler for one <rule> element.
func NewRule() *Rule {
	return &Rule{seen: make(map[string]int)}
}

func (r *Rule) Open(name string, attrs []xml.Attr) error {
	if r.d.active() {
		return r.d.open(name, attrs)
	}
	switch r.state {
	case ruleStart:
		if name != "rule" {
			return unexpected("rule", name)
		}
		r.state = ruleIn
		return nil
	case ruleIn:
		return r.child(name, attrs)
	case ruleInLHS:
		return r.side(name, attrs, "lhs", &r.rule.LHS)
	case ruleInRHS:
		return r.side(name, attrs, "rhs", &r.rule.RHS)
	default:
		return unexpected("rule", name)
	}
}

func (r *Rule) child(name string, attrs []xml.Attr) error {
	r.seen[name]++
	switch name {
	case "name", "lhs", "rhs", "user_data":
		if r.seen[name] > 1 {
			return duplicate("rule", name)
		}
	}
	switch name {
	case "name":
		return attach[string](&r.d, NewLeaf(), name, attrs, func(v string) error {
			r.rule.Name = v
			return nil
		})
	case "lhs":
		r.state = ruleInLHS
		return nil
	case "rhs":
		r.state = ruleInRHS
		return nil
	case "user_data":
		return attach[model.Annotations](&r.d, NewUserData(), name, attrs, func(a model.Annotations) error {
			r.rule.Annotations = a
			return nil
		})
	default:
		return r.d.start(NewSkip(), name, attrs, nil)
	}
}

func (r *Rule) side(name string, attrs []xml.Attr, side string, dst **model.Graph) error {
	if name != "graph" {
		return unexpected("rule "+side, name)
	}
	if *dst != nil {
		return duplicate("rule "+side, name)
	}
	return attach[*model.Graph](&r.d, NewGraph(), name, attrs, func(g *model.Graph) error {
		*dst = g
		return nil
	})
}

func (r *Rule) Close(name string) error {
	if r.d.active() {
		return r.d.close(name)
	}
	switch r.state {
	case ruleInLHS:
		return r.closeSide(name, "lhs", r.rule.LHS)
	case ruleInRHS:
		return r.closeSide(name, "rhs", r.rule.RHS)
	case ruleIn:
		if name != "rule" {
			return mismatched("rule", name, "rule")
		}
		switch {
		case r.rule.Name == "":
			return missing("rule", "name")
		case r.rule.LHS == nil:
			return missing("rule", "lhs")
		case r.rule.RHS == nil:
			return missing("rule", "rhs")
		}
		r.state = ruleDone
		return nil
	default:
		return mismatched("rule", name, "")
	}
}

func (r *Rule) closeSide(name, side string, g *model.Graph) error {
	if name != side {
		return mismatched("rule", name, side)
	}
	if g == nil {
		return missing("rule "+side, "graph")
	}
	r.state = ruleIn
	return nil
}

func (r *Rule) Text(data []byte) error {
	if r.d.active() {
		return r.d.text(data)
	}
	return structuralText("rule", data)
}

func (r *Rule) Complete() bool { return r.state == ruleDone }

func (r *Rule) Result() (*model.Rule, error) {
	if r.state != ruleDone {
		return nil, notComplete("rule")
	}
	out := r.rule
	return &out, nil
}
