// Package core is the typed command surface of a Quantomatic core session.
// Each method issues one command through the client and converts the
// payload: plain lines for names and counts, fragment decoding for graphs,
// rules and rewrites.
package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/quantomatic/quanto-client/pkg/core/protocol"
	"github.com/quantomatic/quanto-client/pkg/fragment"
	"github.com/quantomatic/quanto-client/pkg/model"
	"github.com/quantomatic/quanto-client/pkg/telemetry"
)

// GreetingMarker must appear in the reply to H.
const GreetingMarker = "QUANTOMATIC"

// CodeNoSuchUserData is the code the core reports for a missing user
// data key.
const CodeNoSuchUserData = "NOSUCHGRAPHUSERDATA"

var (
	// ErrHandshake is returned when the peer does not greet like a core.
	ErrHandshake = errors.New("peer is not a quantomatic core")

	// ErrUnexpectedReply is returned when a plain reply has the wrong shape.
	ErrUnexpectedReply = errors.New("unexpected reply")

	// ErrAmbiguousValue is returned for a user data value that would read
	// back as a structured error report.
	ErrAmbiguousValue = errors.New("value reads back as an error report")
)

// Conn issues commands. *client.Client implements it.
type Conn interface {
	Do(ctx context.Context, cmd *protocol.Command, fn func(*protocol.Response) error) error
}

// GraphFactory materializes a local mirror object from a decoded graph and
// the name the core knows it by.
type GraphFactory[T any] interface {
	Materialize(name string, g *model.Graph) (T, error)
}

// GraphFactoryFunc adapts a function to GraphFactory.
type GraphFactoryFunc[T any] func(name string, g *model.Graph) (T, error)

// Materialize calls f.
func (f GraphFactoryFunc[T]) Materialize(name string, g *model.Graph) (T, error) {
	return f(name, g)
}

// Core wraps a connection with the core's command vocabulary.
type Core struct {
	conn       Conn
	tel        *telemetry.Telemetry
	classifier *protocol.Classifier
}

// Option configures a Core.
type Option func(*Core)

// WithClassifier sets the classifier the connection reads responses
// with. Values written to the core are checked against it.
func WithClassifier(cl *protocol.Classifier) Option {
	return func(c *Core) {
		if cl != nil {
			c.classifier = cl
		}
	}
}

// New returns a Core over conn. A nil tel disables instrumentation.
func New(conn Conn, tel *telemetry.Telemetry, opts ...Option) *Core {
	if tel == nil {
		tel = telemetry.NewNop()
	}
	c := &Core{conn: conn, tel: tel, classifier: protocol.DefaultClassifier()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Raw sends an arbitrary command and returns the payload lines.
func (c *Core) Raw(ctx context.Context, verb string, args ...string) ([]string, error) {
	return c.lines(ctx, protocol.NewCommand(verb, args...))
}

// Send issues cmd as built, trailing text included, and returns the
// payload lines.
func (c *Core) Send(ctx context.Context, cmd *protocol.Command) ([]string, error) {
	return c.lines(ctx, cmd)
}

// Hello sends H and returns the greeting.
func (c *Core) Hello(ctx context.Context) (string, error) {
	lines, err := c.lines(ctx, protocol.NewCommand("H"))
	if err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

// Handshake checks that the peer answers H like a core.
func (c *Core) Handshake(ctx context.Context) (string, error) {
	greeting, err := c.Hello(ctx)
	if err != nil {
		return "", err
	}
	if !strings.Contains(greeting, GreetingMarker) {
		return greeting, fmt.Errorf("%w: greeting %q", ErrHandshake, greeting)
	}
	return greeting, nil
}

// ListGraphs returns the names of the graphs the core holds.
func (c *Core) ListGraphs(ctx context.Context) ([]string, error) {
	return c.lines(ctx, protocol.NewCommand("list_graphs"))
}

// NewGraph creates an empty graph and returns its name.
func (c *Core) NewGraph(ctx context.Context) (string, error) {
	return c.line(ctx, protocol.NewCommand("new_graph"))
}

// LoadGraph loads a graph file readable by the core and returns the name
// it was given.
func (c *Core) LoadGraph(ctx context.Context, path string) (string, error) {
	return c.line(ctx, protocol.NewCommand("load_graph", path))
}

// SaveGraph writes graph to path on the core's side.
func (c *Core) SaveGraph(ctx context.Context, graph, path string) error {
	return c.exec(ctx, protocol.NewCommand("save_graph", graph, path))
}

// KillGraph discards graph.
func (c *Core) KillGraph(ctx context.Context, graph string) error {
	return c.exec(ctx, protocol.NewCommand("kill_graph", graph))
}

// RenameGraph renames a graph and returns the name the core settled on.
func (c *Core) RenameGraph(ctx context.Context, from, to string) (string, error) {
	return c.line(ctx, protocol.NewCommand("rename_graph", from, to))
}

// GraphXML fetches and decodes a graph.
func (c *Core) GraphXML(ctx context.Context, graph string) (*model.Graph, error) {
	return decode[*model.Graph](ctx, c, protocol.NewCommand("graph_xml", graph), "graph", fragment.NewGraph())
}

// Materialize fetches graph and hands it to factory. Nothing reaches the
// factory if the fragment fails to decode.
func Materialize[T any](ctx context.Context, c *Core, graph string, factory GraphFactory[T]) (T, error) {
	var zero T
	g, err := c.GraphXML(ctx, graph)
	if err != nil {
		return zero, err
	}
	v, err := factory.Materialize(graph, g)
	if err != nil {
		return zero, fmt.Errorf("materialize graph %s: %w", graph, err)
	}
	return v, nil
}

// AttachRewrites asks the core to search for rewrites on graph, optionally
// restricted to vertices, and returns how many it attached.
func (c *Core) AttachRewrites(ctx context.Context, graph string, vertices ...string) (int, error) {
	first, err := c.line(ctx, protocol.NewCommand("attach_rewrites", append([]string{graph}, vertices...)...))
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return 0, fmt.Errorf("%w to attach_rewrites: %q", ErrUnexpectedReply, first)
	}
	return n, nil
}

// ShowRewrites decodes the rewrites currently attached to graph.
func (c *Core) ShowRewrites(ctx context.Context, graph string) ([]*model.AttachedRewrite, error) {
	return decode[[]*model.AttachedRewrite](ctx, c, protocol.NewCommand("show_rewrites", graph), "rewrites", fragment.NewRewrites(graph))
}

// ApplyRewrite applies the attached rewrite at index.
func (c *Core) ApplyRewrite(ctx context.Context, graph string, index int) error {
	return c.exec(ctx, protocol.NewCommand("apply_rewrite", graph, strconv.Itoa(index)))
}

// Undo reverts the last change to graph.
func (c *Core) Undo(ctx context.Context, graph string) error {
	return c.exec(ctx, protocol.NewCommand("undo", graph))
}

// Redo reapplies the last undone change to graph.
func (c *Core) Redo(ctx context.Context, graph string) error {
	return c.exec(ctx, protocol.NewCommand("redo", graph))
}

// ListRules returns the names of the loaded rules.
func (c *Core) ListRules(ctx context.Context) ([]string, error) {
	return c.lines(ctx, protocol.NewCommand("list_rules"))
}

// Rule fetches and decodes a rule.
func (c *Core) Rule(ctx context.Context, name string) (*model.Rule, error) {
	return decode[*model.Rule](ctx, c, protocol.NewCommand("rule_xml", name), "rule", fragment.NewRule())
}

// RefreshRule reloads r from the core in place. On error r is unchanged.
func (c *Core) RefreshRule(ctx context.Context, r *model.Rule) error {
	fresh, err := c.Rule(ctx, r.Name)
	if err != nil {
		return err
	}
	return r.UpdateFrom(fresh)
}

// GraphUserData returns the user data stored under key on graph. A missing
// key is reported as ok == false rather than an error.
func (c *Core) GraphUserData(ctx context.Context, graph, key string) (string, bool, error) {
	lines, err := c.lines(ctx, protocol.NewCommand("graph_user_data", graph, key))
	if protocol.IsAbsent(err) && protocol.CodeOf(err) == CodeNoSuchUserData {
		c.tel.Logger.WithGraph(graph).WithField("key", key).Debug("graph user data absent")
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return strings.Join(lines, "\n"), true, nil
}

// SetGraphUserData stores value under key on graph. The value travels as
// the free-text tail of the command and must be a single line. A value
// the classifier would take for an error report is refused before
// anything is sent, since graph_user_data could not return it.
func (c *Core) SetGraphUserData(ctx context.Context, graph, key, value string) error {
	if res := c.classifier.Classify(&protocol.Response{Lines: []string{value}}); !res.OK() {
		return fmt.Errorf("%w: %q looks like code %s", ErrAmbiguousValue, value, res.Err.Code)
	}
	return c.exec(ctx, protocol.NewCommand("set_graph_user_data", graph, key).WithTrailing(value))
}

// DeleteGraphUserData removes key from graph.
func (c *Core) DeleteGraphUserData(ctx context.Context, graph, key string) error {
	return c.exec(ctx, protocol.NewCommand("delete_graph_user_data", graph, key))
}

func (c *Core) lines(ctx context.Context, cmd *protocol.Command) ([]string, error) {
	var out []string
	err := c.conn.Do(ctx, cmd, func(resp *protocol.Response) error {
		out = resp.Lines
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Core) line(ctx context.Context, cmd *protocol.Command) (string, error) {
	lines, err := c.lines(ctx, cmd)
	if err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("%w to %s: empty payload", ErrUnexpectedReply, cmd.Verb)
	}
	return lines[0], nil
}

func (c *Core) exec(ctx context.Context, cmd *protocol.Command) error {
	return c.conn.Do(ctx, cmd, nil)
}

// decode runs h over the payload while the connection is still held.
func decode[T any](ctx context.Context, c *Core, cmd *protocol.Command, name string, h fragment.Handler[T]) (T, error) {
	var out T
	err := c.conn.Do(ctx, cmd, func(resp *protocol.Response) error {
		_, span := c.tel.Tracer.StartDecodeSpan(resp.Context(), name, len(resp.Lines))
		defer span.End()

		v, err := fragment.Decode(resp.Reader(), h)
		if err != nil {
			telemetry.RecordError(span, err)
			return err
		}
		telemetry.RecordSuccess(span)
		c.tel.Metrics.RecordFragmentDecoded(name)
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
