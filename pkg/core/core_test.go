package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantomatic/quanto-client/pkg/core/client"
	"github.com/quantomatic/quanto-client/pkg/core/coretest"
	"github.com/quantomatic/quanto-client/pkg/core/protocol"
	"github.com/quantomatic/quanto-client/pkg/fragment"
	"github.com/quantomatic/quanto-client/pkg/model"
	"github.com/quantomatic/quanto-client/pkg/userdata"
)

func newCore(t *testing.T, fake *coretest.Core) (*Core, *client.Client) {
	t.Helper()
	cl := client.New(coretest.NewPeer(fake), client.Config{})
	t.Cleanup(func() { _ = cl.Close() })
	return New(cl, nil), cl
}

// scripted answers every command with the same lines.
type scripted struct {
	lines []string
}

func (s scripted) Do(_ context.Context, _ *protocol.Command, fn func(*protocol.Response) error) error {
	resp, err := protocol.DefaultClassifier().Check(&protocol.Response{Lines: s.lines})
	if err != nil {
		return err
	}
	if fn == nil {
		return nil
	}
	return fn(resp)
}

func TestHandshake(t *testing.T) {
	c, _ := newCore(t, coretest.Seeded())
	greeting, err := c.Handshake(context.Background())
	require.NoError(t, err)
	assert.Contains(t, greeting, "QUANTOMATIC")

	other := New(scripted{lines: []string{"hello there"}}, nil)
	_, err = other.Handshake(context.Background())
	assert.ErrorIs(t, err, ErrHandshake)
}

func TestGraphCommands(t *testing.T) {
	c, _ := newCore(t, coretest.Seeded())
	ctx := context.Background()

	name, err := c.NewGraph(ctx)
	require.NoError(t, err)
	names, err := c.ListGraphs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"g1", name}, names)

	renamed, err := c.RenameGraph(ctx, name, "scratch")
	require.NoError(t, err)
	assert.Equal(t, "scratch", renamed)

	require.NoError(t, c.KillGraph(ctx, "scratch"))
	err = c.KillGraph(ctx, "scratch")
	assert.Equal(t, "NOSUCHGRAPH", protocol.CodeOf(err))

	lines, err := c.Raw(ctx, "list_rules")
	require.NoError(t, err)
	assert.Equal(t, []string{"bialg", "spider"}, lines)

	_, err = c.Send(ctx, protocol.NewCommand("set_graph_user_data", "g1", "note").WithTrailing("from send"))
	require.NoError(t, err)
	lines, err = c.Raw(ctx, "graph_user_data", "g1", "note")
	require.NoError(t, err)
	assert.Equal(t, []string{"from send"}, lines)
}

func TestLoadSaveGraph(t *testing.T) {
	c, _ := newCore(t, coretest.New())
	ctx := context.Background()
	dir := t.TempDir()
	src := filepath.Join(dir, "square.graph")
	require.NoError(t, os.WriteFile(src, []byte(coretest.GraphXML("square", 4, nil)), 0o644))

	name, err := c.LoadGraph(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, "square", name)

	g, err := c.GraphXML(ctx, name)
	require.NoError(t, err)
	assert.Len(t, g.Vertices, 4)

	dst := filepath.Join(dir, "out.graph")
	require.NoError(t, c.SaveGraph(ctx, name, dst))
	assert.FileExists(t, dst)
}

func TestGraphXML(t *testing.T) {
	c, _ := newCore(t, coretest.Seeded())

	g, err := c.GraphXML(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, "g1", g.Name)
	assert.Len(t, g.Vertices, 3)
	assert.Len(t, g.Edges, 2)
	v, ok := g.Vertex("v2")
	require.True(t, ok)
	assert.Equal(t, "Z", v.Type)
	assert.Equal(t, "2", v.Data)
	author, ok := g.Annotations.Get("author")
	assert.True(t, ok)
	assert.Equal(t, "quanto", author)
}

func TestGraphXMLParseErrorKeepsSession(t *testing.T) {
	fake := coretest.Seeded()
	fake.AddGraph("broken", &coretest.Graph{XML: "<graph>\n  <vertex>\n    <name>v0</name>\n  </vertex>"})
	c, cl := newCore(t, fake)
	ctx := context.Background()

	g, err := c.GraphXML(ctx, "broken")
	assert.Nil(t, g)
	require.Error(t, err)
	assert.Equal(t, fragment.KindTruncatedFragment, fragment.KindOf(err))

	assert.NoError(t, cl.Err())
	_, err = c.Hello(ctx)
	assert.NoError(t, err)
}

type mirror struct {
	name     string
	vertices int
}

func TestMaterialize(t *testing.T) {
	c, _ := newCore(t, coretest.Seeded())
	ctx := context.Background()

	m, err := Materialize[*mirror](ctx, c, "g1", GraphFactoryFunc[*mirror](func(name string, g *model.Graph) (*mirror, error) {
		return &mirror{name: name, vertices: len(g.Vertices)}, nil
	}))
	require.NoError(t, err)
	assert.Equal(t, &mirror{name: "g1", vertices: 3}, m)

	boom := errors.New("boom")
	_, err = Materialize[*mirror](ctx, c, "g1", GraphFactoryFunc[*mirror](func(string, *model.Graph) (*mirror, error) {
		return nil, boom
	}))
	assert.ErrorIs(t, err, boom)

	called := false
	_, err = Materialize[*mirror](ctx, c, "nope", GraphFactoryFunc[*mirror](func(string, *model.Graph) (*mirror, error) {
		called = true
		return nil, nil
	}))
	assert.Error(t, err)
	assert.False(t, called)
}

func TestRewriteCycle(t *testing.T) {
	c, _ := newCore(t, coretest.Seeded())
	ctx := context.Background()

	n, err := c.AttachRewrites(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rewrites, err := c.ShowRewrites(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, rewrites, 2)
	for i, rw := range rewrites {
		assert.Equal(t, "g1", rw.Graph)
		assert.Equal(t, i, rw.Index)
		assert.Equal(t, "spider", rw.Rule.Name)
		assert.Len(t, rw.NewGraph.Vertices, 2)
	}

	require.NoError(t, c.ApplyRewrite(ctx, "g1", 1))
	g, err := c.GraphXML(ctx, "g1")
	require.NoError(t, err)
	assert.Len(t, g.Vertices, 2)

	require.NoError(t, c.Undo(ctx, "g1"))
	g, err = c.GraphXML(ctx, "g1")
	require.NoError(t, err)
	assert.Len(t, g.Vertices, 3)

	require.NoError(t, c.Redo(ctx, "g1"))
	err = c.Redo(ctx, "g1")
	var se *protocol.StructuredError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "NOSUCHSTATE", se.Code)

	empty, err := c.ShowRewrites(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestAttachRewritesBadReply(t *testing.T) {
	c := New(scripted{lines: []string{"lots"}}, nil)
	_, err := c.AttachRewrites(context.Background(), "g1")
	assert.ErrorIs(t, err, ErrUnexpectedReply)
}

func TestRules(t *testing.T) {
	fake := coretest.Seeded()
	c, _ := newCore(t, fake)
	ctx := context.Background()

	names, err := c.ListRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bialg", "spider"}, names)

	r, err := c.Rule(ctx, "spider")
	require.NoError(t, err)
	assert.Len(t, r.LHS.Vertices, 2)
	assert.Len(t, r.RHS.Vertices, 1)

	held := r
	fake.AddRule("spider", coretest.RuleXML("spider", 4))
	require.NoError(t, c.RefreshRule(ctx, r))
	assert.Same(t, held, r)
	assert.Len(t, held.LHS.Vertices, 4)

	_, err = c.Rule(ctx, "nope")
	assert.Equal(t, "NOSUCHRULE", protocol.CodeOf(err))
}

func TestGraphUserData(t *testing.T) {
	c, _ := newCore(t, coretest.Seeded())
	ctx := context.Background()

	raw, ok, err := c.GraphUserData(ctx, "g1", "pos")
	require.NoError(t, err)
	require.True(t, ok)
	ann := model.NewAnnotations(map[string]string{"pos": raw})
	p, ok, err := userdata.Get[userdata.Point](&ann, "pos", userdata.PointSerializer{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, userdata.Point{X: 1, Y: 2}, p)

	require.NoError(t, c.SetGraphUserData(ctx, "g1", "note", "free text value"))
	v, ok, err := c.GraphUserData(ctx, "g1", "note")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "free text value", v)

	require.NoError(t, c.DeleteGraphUserData(ctx, "g1", "note"))
	v, ok, err = c.GraphUserData(ctx, "g1", "note")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, v)

	_, _, err = c.GraphUserData(ctx, "missing", "pos")
	assert.Equal(t, "NOSUCHGRAPH", protocol.CodeOf(err))
}

func TestSetGraphUserDataRefusesErrorShapedValue(t *testing.T) {
	fake := coretest.Seeded()
	c, _ := newCore(t, fake)
	ctx := context.Background()
	before := len(fake.Received())

	err := c.SetGraphUserData(ctx, "g1", "note", "TODO check boundary")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAmbiguousValue)
	assert.Empty(t, protocol.CodeOf(err))
	assert.Len(t, fake.Received(), before)

	require.NoError(t, c.SetGraphUserData(ctx, "g1", "note", "todo: check boundary"))
	assert.Len(t, fake.Received(), before+1)

	marker, err := protocol.NewClassifier(`^ERR (\S+) (.*)$`)
	require.NoError(t, err)
	cl := client.New(coretest.NewPeer(fake), client.Config{Classifier: marker})
	t.Cleanup(func() { _ = cl.Close() })
	custom := New(cl, nil, WithClassifier(marker))
	require.NoError(t, custom.SetGraphUserData(ctx, "g1", "note", "TODO check boundary"))
	err = custom.SetGraphUserData(ctx, "g1", "note", "ERR BOUNDARY unchecked")
	assert.ErrorIs(t, err, ErrAmbiguousValue)
}

func TestTransportFailureSurfaces(t *testing.T) {
	fake := coretest.Seeded()
	fake.FailOn("list_graphs", coretest.Fault{ExitCode: 2})
	c, _ := newCore(t, fake)
	ctx := context.Background()

	_, err := c.ListGraphs(ctx)
	assert.True(t, protocol.IsDisconnected(err))
	_, err = c.Hello(ctx)
	assert.ErrorIs(t, err, protocol.ErrClosed)
}
