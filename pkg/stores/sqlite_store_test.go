package stores

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantomatic/quanto-client/pkg/core/client"
	"github.com/quantomatic/quanto-client/pkg/core/coretest"
	"github.com/quantomatic/quanto-client/pkg/core/protocol"
	"github.com/quantomatic/quanto-client/pkg/telemetry"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), Config{Path: MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreLifecycle(t *testing.T) {
	_, err := NewSQLiteStore(Config{})
	assert.Error(t, err)

	store, err := NewSQLiteStore(Config{Path: MemoryPath})
	require.NoError(t, err)
	ctx := context.Background()
	assert.Error(t, store.Migrate(ctx))
	assert.Error(t, store.HealthCheck(ctx))

	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx))
	assert.NoError(t, store.HealthCheck(ctx))
	assert.NoError(t, store.Close())
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"sessions", "exchanges"} {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		assert.NoError(t, err, table)
	}
}

func TestFileStore(t *testing.T) {
	path := t.TempDir() + "/transcripts.db"
	ctx := context.Background()

	store, err := Open(ctx, Config{Path: path})
	require.NoError(t, err)
	session, err := store.StartSession(ctx, "quanto-core")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = Open(ctx, Config{Path: path})
	require.NoError(t, err)
	defer store.Close()
	got, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "quanto-core", got.Target)
}

func TestSessionCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	session, err := store.StartSession(ctx, "core@example.org")
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)

	require.NoError(t, store.SetGreeting(ctx, session.ID, coretest.Greeting))

	got, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "core@example.org", got.Target)
	assert.Equal(t, coretest.Greeting, got.Greeting)
	assert.Nil(t, got.EndedAt)
	assert.Nil(t, got.ExitCode)
	assert.WithinDuration(t, session.StartedAt, got.StartedAt, time.Second)

	code := 3
	msg := "core exited"
	require.NoError(t, store.EndSession(ctx, session.ID, &code, &msg))
	got, err = store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, got.EndedAt)
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, 3, *got.ExitCode)
	require.NotNil(t, got.Error)
	assert.Equal(t, msg, *got.Error)

	require.NoError(t, store.DeleteSession(ctx, session.ID))
	_, err = store.GetSession(ctx, session.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.DeleteSession(ctx, session.ID), ErrNotFound)
	assert.ErrorIs(t, store.EndSession(ctx, "missing", nil, nil), ErrNotFound)
}

func TestListAndPruneSessions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		s, err := store.StartSession(ctx, "quanto-core")
		require.NoError(t, err)
		ids = append(ids, s.ID)
	}

	all, err := store.ListSessions(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID)

	page, err := store.ListSessions(ctx, 2, 1)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	n, err := store.PruneSessions(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = store.PruneSessions(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestExchanges(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	session, err := store.StartSession(ctx, "quanto-core")
	require.NoError(t, err)

	first := &Exchange{
		SessionID: session.ID,
		Seq:       1,
		Verb:      "list_graphs",
		Command:   "list_graphs",
		Outcome:   telemetry.OutcomeOK,
		Lines:     []string{"g1", "g2"},
		StartedAt: time.Now(),
		Duration:  1500 * time.Microsecond,
	}
	require.NoError(t, store.AppendExchange(ctx, first))
	assert.NotZero(t, first.ID)

	require.NoError(t, store.AppendExchange(ctx, &Exchange{
		SessionID: session.ID,
		Seq:       2,
		Verb:      "kill_graph",
		Command:   "kill_graph g9",
		Outcome:   telemetry.OutcomeStructuredError,
		Code:      "NOSUCHGRAPH",
		Error:     "NOSUCHGRAPH: no graph named g9",
		Lines:     []string{"NOSUCHGRAPH no graph named g9"},
		StartedAt: time.Now(),
	}))
	require.NoError(t, store.AppendExchange(ctx, &Exchange{
		SessionID: session.ID,
		Seq:       3,
		Verb:      "kill_graph",
		Command:   "kill_graph g1",
		Outcome:   telemetry.OutcomeOK,
		StartedAt: time.Now(),
	}))

	dup := *first
	assert.Error(t, store.AppendExchange(ctx, &dup))

	all, err := store.ListExchanges(ctx, session.ID, ExchangeFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"g1", "g2"}, all[0].Lines)
	assert.Equal(t, 1500*time.Microsecond, all[0].Duration)
	assert.Nil(t, all[2].Lines)

	kills, err := store.ListExchanges(ctx, session.ID, ExchangeFilter{Verb: "kill_graph"})
	require.NoError(t, err)
	assert.Len(t, kills, 2)

	failed, err := store.ListExchanges(ctx, session.ID, ExchangeFilter{Outcome: telemetry.OutcomeStructuredError})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "NOSUCHGRAPH", failed[0].Code)

	limited, err := store.ListExchanges(ctx, session.ID, ExchangeFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, 2, limited[0].Seq)

	require.NoError(t, store.DeleteSession(ctx, session.ID))
	gone, err := store.ListExchanges(ctx, session.ID, ExchangeFilter{})
	require.NoError(t, err)
	assert.Empty(t, gone)
}

func TestExchangeNeedsSession(t *testing.T) {
	store := setupTestStore(t)
	err := store.AppendExchange(context.Background(), &Exchange{
		SessionID: "missing",
		Seq:       1,
		Verb:      "H",
		Command:   "H",
		Outcome:   telemetry.OutcomeOK,
		StartedAt: time.Now(),
	})
	assert.Error(t, err)
}

func TestRecorderWithClient(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	session, err := store.StartSession(ctx, "fake")
	require.NoError(t, err)
	rec := NewRecorder(store, session.ID, nil)
	assert.Equal(t, session.ID, rec.SessionID())

	c := client.New(coretest.NewPeer(coretest.Seeded()), client.Config{Recorder: rec})
	defer c.Close()

	_, err = c.Call(ctx, protocol.NewCommand("H"))
	require.NoError(t, err)
	_, err = c.Call(ctx, protocol.NewCommand("rule_xml", "nope"))
	require.Error(t, err)
	_, err = c.Call(ctx, protocol.NewCommand("set_graph_user_data", "g1", "note").WithTrailing("hello world"))
	require.NoError(t, err)

	exchanges, err := store.ListExchanges(ctx, session.ID, ExchangeFilter{})
	require.NoError(t, err)
	require.Len(t, exchanges, 3)

	assert.Equal(t, 1, exchanges[0].Seq)
	assert.Equal(t, "H", exchanges[0].Verb)
	assert.Equal(t, telemetry.OutcomeOK, exchanges[0].Outcome)
	assert.Equal(t, []string{coretest.Greeting}, exchanges[0].Lines)

	assert.Equal(t, telemetry.OutcomeStructuredError, exchanges[1].Outcome)
	assert.Equal(t, "NOSUCHRULE", exchanges[1].Code)
	assert.NotEmpty(t, exchanges[1].Error)

	assert.Equal(t, "set_graph_user_data g1 note hello world", exchanges[2].Command)
}

func TestRecorderSurvivesStoreErrors(t *testing.T) {
	store := setupTestStore(t)
	rec := NewRecorder(store, "no-such-session", nil)

	c := client.New(coretest.NewPeer(coretest.Seeded()), client.Config{Recorder: rec})
	defer c.Close()

	resp, err := c.Call(context.Background(), protocol.NewCommand("H"))
	require.NoError(t, err)
	assert.Equal(t, coretest.Greeting, resp.First())
}
