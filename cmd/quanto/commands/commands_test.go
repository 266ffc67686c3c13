package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantomatic/quanto-client/pkg/core"
	"github.com/quantomatic/quanto-client/pkg/core/client"
	"github.com/quantomatic/quanto-client/pkg/core/coretest"
	"github.com/quantomatic/quanto-client/pkg/core/protocol"
	"github.com/quantomatic/quanto-client/pkg/policy"
	"github.com/quantomatic/quanto-client/pkg/stores"
	"github.com/quantomatic/quanto-client/pkg/telemetry"
	"github.com/quantomatic/quanto-client/pkg/transports/ssh"
)

type peerLauncher struct {
	core *coretest.Core
}

func (l peerLauncher) Launch(context.Context) (client.Peer, error) {
	return coretest.NewPeer(l.core), nil
}

func run(t *testing.T, fake *coretest.Core, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand(&app{launcher: peerLauncher{core: fake}}, "test", "none", "today")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHello(t *testing.T) {
	out, err := run(t, coretest.Seeded(), "hello")
	require.NoError(t, err)
	assert.Equal(t, coretest.Greeting+"\n", out)
}

func TestGraphsList(t *testing.T) {
	out, err := run(t, coretest.Seeded(), "graphs", "list", "--json")
	require.NoError(t, err)
	var got map[string][]string
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, []string{"g1"}, got["graphs"])

	out, err = run(t, coretest.New(), "graphs", "list", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"graphs": []}`, out)
}

func TestGraphsShow(t *testing.T) {
	out, err := run(t, coretest.Seeded(), "graphs", "show", "g1")
	require.NoError(t, err)
	assert.Contains(t, out, "graph g1: 3 vertices, 2 edges")
	assert.Contains(t, out, "author = quanto")

	path := filepath.Join(t.TempDir(), "square.graph")
	require.NoError(t, os.WriteFile(path, []byte(coretest.GraphXML("square", 4, nil)), 0o644))
	out, err = run(t, coretest.New(), "graphs", "show", "--file", path, "--json")
	require.NoError(t, err)
	var views []graphView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "square", views[0].Name)
	assert.Len(t, views[0].Vertices, 4)

	_, err = run(t, coretest.Seeded(), "graphs", "show")
	assert.Error(t, err)
}

func TestGraphsShowBrokenFragment(t *testing.T) {
	fake := coretest.Seeded()
	fake.AddGraph("broken", &coretest.Graph{XML: "<graph>\n  <vertex>"})
	_, err := run(t, fake, "graphs", "show", "broken")
	require.Error(t, err)
	assert.Equal(t, exitFailure, ExitCode(err))
}

func TestCallExitCodes(t *testing.T) {
	out, err := run(t, coretest.Seeded(), "call", "list_rules")
	require.NoError(t, err)
	assert.Equal(t, "bialg\nspider\n", out)

	_, err = run(t, coretest.Seeded(), "call", "kill_graph", "nope")
	require.Error(t, err)
	assert.Equal(t, "NOSUCHGRAPH", protocol.CodeOf(err))
	assert.Equal(t, exitCoreError, ExitCode(err))

	fake := coretest.Seeded()
	fake.FailOn("list_graphs", coretest.Fault{ExitCode: 2})
	_, err = run(t, fake, "call", "list_graphs")
	require.Error(t, err)
	assert.Equal(t, exitTransport, ExitCode(err))
}

func TestCallTrailingText(t *testing.T) {
	fake := coretest.Seeded()
	_, err := run(t, fake, "call", "set_graph_user_data", "g1", "note", "--text", "two words")
	require.NoError(t, err)
	out, err := run(t, fake, "userdata", "get", "g1", "note")
	require.NoError(t, err)
	assert.Equal(t, "two words\n", out)
}

func TestUserData(t *testing.T) {
	out, err := run(t, coretest.Seeded(), "userdata", "get", "g1", "pos")
	require.NoError(t, err)
	assert.Equal(t, "1,2\n", out)

	out, err = run(t, coretest.Seeded(), "userdata", "get", "g1", "missing")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = run(t, coretest.Seeded(), "userdata", "get", "g1", "missing", "--require")
	assert.Error(t, err)

	fake := coretest.Seeded()
	_, err = run(t, fake, "ud", "set", "g1", "note", "hello", "there")
	require.NoError(t, err)
	out, err = run(t, fake, "ud", "get", "g1", "note")
	require.NoError(t, err)
	assert.Equal(t, "hello there\n", out)

	_, err = run(t, fake, "ud", "delete", "g1", "note")
	require.NoError(t, err)
	out, err = run(t, fake, "ud", "get", "g1", "note")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = run(t, fake, "ud", "set", "g1", "note", "TODO", "check", "boundary")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrAmbiguousValue)
	assert.Equal(t, exitFailure, ExitCode(err))
}

func TestRewrites(t *testing.T) {
	out, err := run(t, coretest.Seeded(), "rewrites", "g1")
	require.NoError(t, err)
	assert.Equal(t, "0\tspider\t2 vertices, 1 edges\n1\tspider\t2 vertices, 1 edges\n", out)

	out, err = run(t, coretest.Seeded(), "rewrites", "g1", "--apply", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "graph g1: 2 vertices")

	_, err = run(t, coretest.Seeded(), "rewrites", "g1", "--apply", "5")
	assert.Error(t, err)
}

func TestRules(t *testing.T) {
	out, err := run(t, coretest.Seeded(), "rules", "show", "spider")
	require.NoError(t, err)
	assert.Contains(t, out, "rule spider")
	assert.Contains(t, out, "graph lhs: 2 vertices")
	assert.Contains(t, out, "graph rhs: 1 vertices")
}

func TestScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "count.star")
	require.NoError(t, os.WriteFile(path, []byte(`
names = graphs()
size = len(graph(target).vertices)
print("checked", target)
`), 0o644))

	out, err := run(t, coretest.Seeded(), "script", path, "--set", "target=g1")
	require.NoError(t, err)
	assert.Contains(t, out, "checked g1\n")
	assert.Contains(t, out, "names = [g1]\n")
	assert.Contains(t, out, "size = 3\n")
	assert.NotContains(t, out, "target =")

	failing := filepath.Join(t.TempDir(), "fail.star")
	require.NoError(t, os.WriteFile(failing, []byte(`rule("nope")`), 0o644))
	_, err = run(t, coretest.Seeded(), "script", failing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOSUCHRULE")
}

func TestTranscriptRecordsSessions(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "transcripts.db")
	cfgPath := filepath.Join(dir, "quanto.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("transcript:\n  enabled: true\n  path: "+db+"\n"), 0o644))

	_, err := run(t, coretest.Seeded(), "--config", cfgPath, "graphs", "list")
	require.NoError(t, err)
	_, err = run(t, coretest.Seeded(), "--config", cfgPath, "call", "rule_xml", "nope")
	require.Error(t, err)

	ctx := context.Background()
	store, err := stores.Open(ctx, stores.Config{Path: db})
	require.NoError(t, err)
	sessions, err := store.ListSessions(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	first := sessions[1]
	assert.Equal(t, coretest.Greeting, first.Greeting)
	assert.NotNil(t, first.EndedAt)
	exchanges, err := store.ListExchanges(ctx, first.ID, stores.ExchangeFilter{})
	require.NoError(t, err)
	require.Len(t, exchanges, 2)
	assert.Equal(t, "H", exchanges[0].Verb)
	assert.Equal(t, "list_graphs", exchanges[1].Verb)
	require.NoError(t, store.Close())

	out, err := run(t, coretest.Seeded(), "--config", cfgPath, "transcript", "show", sessions[0].ID, "--outcome", "structured_error")
	require.NoError(t, err)
	assert.Contains(t, out, "rule_xml nope")
	assert.Contains(t, out, "NOSUCHRULE")

	out, err = run(t, coretest.Seeded(), "--config", cfgPath, "transcript", "list")
	require.NoError(t, err)
	assert.Contains(t, out, first.ID)

	out, err = run(t, coretest.Seeded(), "--config", cfgPath, "transcript", "prune", "--older-than", "1h")
	require.NoError(t, err)
	assert.Equal(t, "pruned 0 sessions\n", out)
}

func TestSessionContext(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "quanto.yaml")
	db := filepath.Join(dir, "transcripts.db")
	require.NoError(t, os.WriteFile(cfgPath, []byte("transcript:\n  enabled: true\n  path: "+db+"\n"), 0o644))

	ctx := context.Background()
	a := &app{launcher: peerLauncher{core: coretest.Seeded()}, configPath: cfgPath}
	s, err := a.open(ctx)
	require.NoError(t, err)
	require.NotNil(t, s.record)

	assert.NotEmpty(t, telemetry.TraceID(s.ctx))
	assert.Same(t, s.tel, telemetry.FromTelemetryContext(s.ctx))

	var buf bytes.Buffer
	zl := telemetry.FromContext(s.ctx).Zerolog().Output(&buf)
	zl.Warn().Msg("session check")
	assert.Contains(t, buf.String(), s.record.ID)

	require.NoError(t, s.Close(ctx))
	assert.Nil(t, s.span)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, exitFailure, ExitCode(errors.New("boom")))
	assert.Equal(t, exitCoreError, ExitCode(&protocol.StructuredError{Code: "NOSUCHGRAPH"}))
	assert.Equal(t, exitTransport, ExitCode(&protocol.TransportError{Kind: protocol.KindDisconnected}))
	assert.Equal(t, exitDenied, ExitCode(&policy.DeniedError{Verb: "kill_graph"}))
}

func TestReadOnlySession(t *testing.T) {
	fake := coretest.Seeded()
	out, err := run(t, fake, "--read-only", "graphs", "list")
	require.NoError(t, err)
	assert.Equal(t, "g1\n", out)

	_, err = run(t, fake, "--read-only", "userdata", "set", "g1", "note", "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, policy.ErrDenied)
	assert.Equal(t, exitDenied, ExitCode(err))
	for _, line := range fake.Received() {
		assert.NotContains(t, line, "set_graph_user_data")
	}
}

func TestPolicyFile(t *testing.T) {
	dir := t.TempDir()
	rules := filepath.Join(dir, "protect.rego")
	require.NoError(t, os.WriteFile(rules, []byte(`package local.protect

import rego.v1

deny contains msg if {
	input.verb == "kill_graph"
	input.args[0] == "g1"
	msg := "g1 is protected"
}
`), 0o644))

	fake := coretest.Seeded()
	_, err := run(t, fake, "--policy", rules, "call", "kill_graph", "g1")
	require.Error(t, err)
	assert.ErrorContains(t, err, "g1 is protected")
	_, ok := fake.Graph("g1")
	assert.True(t, ok)

	out, err := run(t, coretest.Seeded(), "--policy", rules, "policy", "list")
	require.NoError(t, err)
	assert.Equal(t, "graph-paths\twarning\tbuilt-in\nprotect\terror\t"+rules+"\nread-only-session\terror\tbuilt-in\n", out)

	out, err = run(t, coretest.Seeded(), "--policy", rules, "policy", "check", "kill_graph", "g2")
	require.NoError(t, err)
	assert.Equal(t, "allowed: kill_graph g2\n", out)

	out, err = run(t, coretest.Seeded(), "--read-only", "policy", "check", "undo", "g1")
	assert.Equal(t, exitDenied, ExitCode(err))
	assert.Contains(t, out, "deny\tread-only-session: undo changes core state")
}

func TestParseRemote(t *testing.T) {
	r, err := parseRemote("quanto@core.example.org:2222", nil)
	require.NoError(t, err)
	assert.Equal(t, "core.example.org", r.Host)
	assert.Equal(t, "quanto", r.User)
	assert.Equal(t, 2222, r.Port)
	assert.Equal(t, "quanto-core", r.CorePath)

	base := ssh.DefaultConfig("old", "old")
	base.CorePath = "/opt/quanto/core"
	r, err = parseRemote("me@new", base)
	require.NoError(t, err)
	assert.Equal(t, "new", r.Host)
	assert.Equal(t, 22, r.Port)
	assert.Equal(t, "/opt/quanto/core", r.CorePath)
	assert.Equal(t, "old", base.Host)

	for _, bad := range []string{"host", "@host", "me@", "me@host:port"} {
		_, err := parseRemote(bad, nil)
		assert.Error(t, err, bad)
	}
}
