// Package coretest provides an in-process fake Quantomatic core that speaks
// the line protocol. It keeps graphs, rules, attached rewrites and user
// data in memory and can be told to hang or die on a given verb.
package coretest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/quantomatic/quanto-client/pkg/core/protocol"
)

// Greeting is the reply to H.
const Greeting = "Hello from QUANTOMATIC"

// Graph is the fake core's record of one graph.
type Graph struct {
	XML      string
	UserData map[string]string
	// Rewrites are the rewrites attach_rewrites will offer.
	Rewrites []Rewrite

	attached []Rewrite
	undo     []string
	redo     []string
}

// Rewrite is an offered rewrite: its document and the graph it produces.
type Rewrite struct {
	Doc    string
	Result string
}

// Fault makes the core misbehave on one verb.
type Fault struct {
	// Partial lines are written before the core stops.
	Partial []string
	// Hang blocks until the peer is killed instead of answering.
	Hang bool
	// ExitCode is reported once the core stops.
	ExitCode int
}

// Core is the fake core state. The zero value is not usable; call New.
type Core struct {
	mu       sync.Mutex
	graphs   map[string]*Graph
	rules    map[string]string
	faults   map[string]Fault
	received []string
	next     int
}

// New returns an empty core.
func New() *Core {
	return &Core{
		graphs: make(map[string]*Graph),
		rules:  make(map[string]string),
		faults: make(map[string]Fault),
	}
}

// Seeded returns a core holding graph g1 (three vertices, two rewrites on
// offer, user data pos) and rules spider and bialg.
func Seeded() *Core {
	c := New()
	spider := RuleXML("spider", 2)
	c.AddRule("spider", spider)
	c.AddRule("bialg", RuleXML("bialg", 3))
	after := GraphXML("g1", 2, map[string]string{"author": "quanto"})
	c.AddGraph("g1", &Graph{
		XML:      GraphXML("g1", 3, map[string]string{"author": "quanto"}),
		UserData: map[string]string{"pos": "1,2"},
		Rewrites: []Rewrite{
			{Doc: RewriteXML(spider, after), Result: after},
			{Doc: RewriteXML(spider, after), Result: after},
		},
	})
	return c
}

// AddGraph installs or replaces a graph.
func (c *Core) AddGraph(name string, g *Graph) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g.UserData == nil {
		g.UserData = make(map[string]string)
	}
	c.graphs[name] = g
}

// AddRule installs or replaces a rule document.
func (c *Core) AddRule(name, doc string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules[name] = doc
}

// FailOn installs a fault for verb.
func (c *Core) FailOn(verb string, f Fault) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults[verb] = f
}

// Graph returns a copy of the named graph's document.
func (c *Core) Graph(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.graphs[name]
	if !ok {
		return "", false
	}
	return g.XML, true
}

// Received returns the command lines seen so far.
func (c *Core) Received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.received))
	copy(out, c.received)
	return out
}

var errStopped = errors.New("core stopped")

// failure is a structured error reply.
type failure struct {
	code, msg string
}

func fail(code, format string, args ...interface{}) *failure {
	return &failure{code: code, msg: fmt.Sprintf(format, args...)}
}

// trailingArgs lists verbs whose last field is free text, by the number
// of token arguments before it.
var trailingArgs = map[string]int{
	"set_graph_user_data": 2,
}

// Serve answers commands from r on w until r ends or stop is closed. A nil
// return means the input ended normally.
func (c *Core) Serve(r io.Reader, w io.Writer, stop <-chan struct{}) (int, error) {
	dec := protocol.NewDecoder(r)
	enc := protocol.NewEncoder(w)
	for {
		line, err := dec.ReadLine()
		if err == io.EOF {
			return 0, nil
		}
		if err != nil {
			return 1, err
		}

		nargs, ok := trailingArgs[strings.SplitN(line, " ", 2)[0]]
		if !ok {
			nargs = -1
		}
		cmd, err := protocol.ParseCommand(line, nargs)
		if err != nil {
			if err := enc.EncodeError("BADCOMMAND", err.Error()); err != nil {
				return 1, err
			}
			continue
		}

		c.mu.Lock()
		c.received = append(c.received, line)
		fault, faulty := c.faults[cmd.Verb]
		c.mu.Unlock()

		if faulty {
			if len(fault.Partial) > 0 {
				if err := enc.EncodeLines(fault.Partial...); err != nil {
					return 1, err
				}
			}
			if fault.Hang {
				<-stop
			}
			return fault.ExitCode, errStopped
		}

		lines, f := c.handle(cmd)
		if f != nil {
			err = enc.EncodeError(f.code, f.msg)
		} else {
			err = enc.EncodeResponse(lines...)
		}
		if err != nil {
			return 1, err
		}
	}
}

func (c *Core) handle(cmd *protocol.Command) ([]string, *failure) {
	c.mu.Lock()
	defer c.mu.Unlock()

	args := cmd.Args
	need := func(n int) *failure {
		if len(args) != n {
			return fail("BADARGS", "%s expects %d arguments, got %d", cmd.Verb, n, len(args))
		}
		return nil
	}
	graph := func(name string) (*Graph, *failure) {
		g, ok := c.graphs[name]
		if !ok {
			return nil, fail("NOSUCHGRAPH", "no graph named %s", name)
		}
		return g, nil
	}

	switch cmd.Verb {
	case "H":
		return []string{Greeting}, nil

	case "list_graphs":
		return sortedKeys(c.graphs), nil

	case "new_graph":
		name := c.freshName("new-graph")
		c.graphs[name] = &Graph{XML: GraphXML(name, 0, nil), UserData: make(map[string]string)}
		return []string{name}, nil

	case "load_graph":
		if f := need(1); f != nil {
			return nil, f
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return nil, fail("NOSUCHFILE", "cannot read %s", args[0])
		}
		base := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		name := base
		if _, taken := c.graphs[name]; taken {
			name = c.freshName(base)
		}
		c.graphs[name] = &Graph{XML: strings.TrimSpace(string(data)), UserData: make(map[string]string)}
		return []string{name}, nil

	case "save_graph":
		if f := need(2); f != nil {
			return nil, f
		}
		g, f := graph(args[0])
		if f != nil {
			return nil, f
		}
		if err := os.WriteFile(args[1], []byte(g.XML+"\n"), 0o644); err != nil {
			return nil, fail("SAVEFAILED", "cannot write %s", args[1])
		}
		return nil, nil

	case "kill_graph":
		if f := need(1); f != nil {
			return nil, f
		}
		if _, f := graph(args[0]); f != nil {
			return nil, f
		}
		delete(c.graphs, args[0])
		return nil, nil

	case "rename_graph":
		if f := need(2); f != nil {
			return nil, f
		}
		g, f := graph(args[0])
		if f != nil {
			return nil, f
		}
		if _, taken := c.graphs[args[1]]; taken {
			return nil, fail("GRAPHEXISTS", "graph %s already exists", args[1])
		}
		delete(c.graphs, args[0])
		c.graphs[args[1]] = g
		return []string{args[1]}, nil

	case "graph_xml":
		if f := need(1); f != nil {
			return nil, f
		}
		g, f := graph(args[0])
		if f != nil {
			return nil, f
		}
		return strings.Split(g.XML, "\n"), nil

	case "attach_rewrites":
		if len(args) < 1 {
			return nil, fail("BADARGS", "attach_rewrites expects a graph")
		}
		g, f := graph(args[0])
		if f != nil {
			return nil, f
		}
		g.attached = append([]Rewrite(nil), g.Rewrites...)
		return []string{strconv.Itoa(len(g.attached))}, nil

	case "show_rewrites":
		if f := need(1); f != nil {
			return nil, f
		}
		g, f := graph(args[0])
		if f != nil {
			return nil, f
		}
		docs := make([]string, len(g.attached))
		for i, r := range g.attached {
			docs[i] = r.Doc
		}
		return strings.Split(RewritesXML(docs), "\n"), nil

	case "apply_rewrite":
		if f := need(2); f != nil {
			return nil, f
		}
		g, f := graph(args[0])
		if f != nil {
			return nil, f
		}
		i, err := strconv.Atoi(args[1])
		if err != nil || i < 0 || i >= len(g.attached) {
			return nil, fail("BADREWRITE", "no attached rewrite %s", args[1])
		}
		g.undo = append(g.undo, g.XML)
		g.redo = nil
		g.XML = g.attached[i].Result
		g.attached = nil
		return nil, nil

	case "undo", "redo":
		if f := need(1); f != nil {
			return nil, f
		}
		g, f := graph(args[0])
		if f != nil {
			return nil, f
		}
		from, to := &g.undo, &g.redo
		if cmd.Verb == "redo" {
			from, to = &g.redo, &g.undo
		}
		if len(*from) == 0 {
			return nil, fail("NOSUCHSTATE", "nothing to %s", cmd.Verb)
		}
		last := (*from)[len(*from)-1]
		*from = (*from)[:len(*from)-1]
		*to = append(*to, g.XML)
		g.XML = last
		return nil, nil

	case "list_rules":
		return sortedKeys(c.rules), nil

	case "rule_xml":
		if f := need(1); f != nil {
			return nil, f
		}
		doc, ok := c.rules[args[0]]
		if !ok {
			return nil, fail("NOSUCHRULE", "no rule named %s", args[0])
		}
		return strings.Split(doc, "\n"), nil

	case "graph_user_data":
		if f := need(2); f != nil {
			return nil, f
		}
		g, f := graph(args[0])
		if f != nil {
			return nil, f
		}
		v, ok := g.UserData[args[1]]
		if !ok {
			return nil, fail("NOSUCHGRAPHUSERDATA", "no user data %s on %s", args[1], args[0])
		}
		return []string{v}, nil

	case "set_graph_user_data":
		if f := need(2); f != nil {
			return nil, f
		}
		g, f := graph(args[0])
		if f != nil {
			return nil, f
		}
		g.UserData[args[1]] = cmd.Trailing
		return nil, nil

	case "delete_graph_user_data":
		if f := need(2); f != nil {
			return nil, f
		}
		g, f := graph(args[0])
		if f != nil {
			return nil, f
		}
		if _, ok := g.UserData[args[1]]; !ok {
			return nil, fail("NOSUCHGRAPHUSERDATA", "no user data %s on %s", args[1], args[0])
		}
		delete(g.UserData, args[1])
		return nil, nil

	default:
		return nil, fail("UNKNOWNCOMMAND", "unknown command %s", cmd.Verb)
	}
}

// freshName must be called with c.mu held.
func (c *Core) freshName(base string) string {
	for {
		c.next++
		name := fmt.Sprintf("%s-%d", base, c.next)
		if _, taken := c.graphs[name]; !taken {
			return name
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
