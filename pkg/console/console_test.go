package console

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantomatic/quanto-client/pkg/core"
	"github.com/quantomatic/quanto-client/pkg/core/client"
	"github.com/quantomatic/quanto-client/pkg/core/coretest"
)

func newConsole(t *testing.T, fake *coretest.Core, timeout time.Duration) *Console {
	t.Helper()
	cl := client.New(coretest.NewPeer(fake), client.Config{})
	t.Cleanup(func() { _ = cl.Close() })
	return New(core.New(cl, nil), timeout, nil)
}

func TestRunBuiltins(t *testing.T) {
	c := newConsole(t, coretest.Seeded(), 0)

	res, err := c.Run(context.Background(), "session.star", `
greeting = hello()
names = graphs()
g = graph("g1")
size = len(g.vertices)
first_edge = g.edges[0]
spider = rule("spider")
lhs = len(spider.lhs.vertices)
print("graphs:", names)
_hidden = 1

def helper():
    return 1
`, nil)
	require.NoError(t, err)

	assert.Equal(t, coretest.Greeting, res.Output["greeting"])
	assert.Equal(t, []interface{}{"g1"}, res.Output["names"])
	assert.Equal(t, int64(3), res.Output["size"])
	assert.Equal(t, []interface{}{"v0", "v1"}, res.Output["first_edge"])
	assert.Equal(t, int64(2), res.Output["lhs"])
	assert.NotContains(t, res.Output, "_hidden")
	assert.NotContains(t, res.Output, "helper")
	assert.Equal(t, []string{`graphs: ["g1"]`}, res.Printed)
}

func TestRunRewriteAndUserData(t *testing.T) {
	fake := coretest.Seeded()
	c := newConsole(t, fake, 0)

	res, err := c.Run(context.Background(), "rewrite.star", `
found = rewrites(target)
apply(target, found[0].index)
after = len(graph(target).vertices)
set_user_data(target, "note", "rewritten once")
note = user_data(target, "note")
missing = user_data(target, "nothing")
`, map[string]interface{}{"target": "g1"})
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.Output["after"])
	assert.Equal(t, "rewritten once", res.Output["note"])
	assert.Nil(t, res.Output["missing"])
	assert.Len(t, res.Output["found"], 2)
}

func TestStructuredErrorSurfacesCode(t *testing.T) {
	c := newConsole(t, coretest.Seeded(), 0)

	_, err := c.Run(context.Background(), "bad.star", `r = rule("nope")`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOSUCHRULE")

	res, err := c.Run(context.Background(), "try.star", `
r = try_call("rule_xml", "nope")
ok = r.ok
code = r.code
fine = try_call("list_graphs").lines
`, nil)
	require.NoError(t, err)
	assert.Equal(t, false, res.Output["ok"])
	assert.Equal(t, "NOSUCHRULE", res.Output["code"])
	assert.Equal(t, []interface{}{"g1"}, res.Output["fine"])
}

func TestCallArguments(t *testing.T) {
	c := newConsole(t, coretest.Seeded(), 0)

	res, err := c.Run(context.Background(), "call.star", `
count = call("attach_rewrites", "g1")
`, nil)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"2"}, res.Output["count"])

	_, err = c.Run(context.Background(), "call.star", `call()`, nil)
	assert.ErrorContains(t, err, "missing verb")

	_, err = c.Run(context.Background(), "call.star", `call("H", [1])`, nil)
	assert.ErrorContains(t, err, "must be a string or int")
}

func TestRunTimeout(t *testing.T) {
	c := newConsole(t, coretest.Seeded(), 50*time.Millisecond)

	_, err := c.Run(context.Background(), "loop.star", `
def spin():
    for i in range(100000000):
        pass

spin()
`, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestValueConversion(t *testing.T) {
	v, err := toStarlarkValue(map[string]interface{}{"a": []interface{}{int64(1), "x", nil}})
	require.NoError(t, err)
	back, err := fromStarlarkValue(v)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": []interface{}{int64(1), "x", nil}}, back)

	_, err = toStarlarkValue(struct{}{})
	assert.Error(t, err)
}
