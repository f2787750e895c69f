package history

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/raid/internal/agent/session"
	"github.com/moolen/raid/internal/agent/transcript"
	"github.com/moolen/raid/internal/sysinfo"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "raid.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestChecks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, component := range []string{"all", "kubernetes", "journal"} {
		_, err := s.SaveCheck(ctx, Check{
			Timestamp:  base.Add(time.Duration(i) * time.Hour),
			Component:  component,
			SystemInfo: sysinfo.Info{Hostname: "node-1", CPUCount: 4, TotalMemory: 8 << 30},
			Analysis:   "analysis " + component,
			Status:     "success",
		})
		require.NoError(t, err)
	}

	checks, err := s.RecentChecks(ctx, 2)
	require.NoError(t, err)
	require.Len(t, checks, 2)
	assert.Equal(t, "journal", checks[0].Component)
	assert.Equal(t, "kubernetes", checks[1].Component)
	assert.NotEmpty(t, checks[0].ID)
	assert.True(t, checks[0].Timestamp.Equal(base.Add(2*time.Hour)))
	assert.Equal(t, "node-1", checks[0].SystemInfo.Hostname)
	assert.Equal(t, uint64(8<<30), checks[0].SystemInfo.TotalMemory)
	assert.Equal(t, "analysis journal", checks[0].Analysis)
}

func TestSaveCheckFillsDefaults(t *testing.T) {
	s := openTestStore(t)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	c, err := s.SaveCheck(context.Background(), Check{Component: "system"})
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.True(t, c.Timestamp.Equal(fixed))

	_, err = s.SaveCheck(context.Background(), Check{ID: c.ID, Component: "system"})
	assert.Error(t, err, "duplicate ids are rejected")
}

func testSnapshot(id string, state session.State) session.Snapshot {
	created := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	return session.Snapshot{
		ID:                id,
		Problem:           "pods keep restarting",
		State:             state,
		ToolCallsUsed:     2,
		ToolCallBudget:    10,
		ContinueIncrement: 5,
		Messages: []transcript.Message{
			transcript.System("preamble"),
			transcript.User("pods keep restarting"),
			transcript.Assistant("ANALYZE: looking at pods"),
		},
		CreatedAt: created,
		UpdatedAt: created.Add(time.Minute),
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	snap := testSnapshot("s-1", session.StatePausedForInput)
	require.NoError(t, s.SaveSession(ctx, snap))

	loaded, err := s.LoadSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, snap.ID, loaded.ID)
	assert.Equal(t, snap.Problem, loaded.Problem)
	assert.Equal(t, snap.State, loaded.State)
	assert.Equal(t, snap.ToolCallsUsed, loaded.ToolCallsUsed)
	assert.Equal(t, snap.ToolCallBudget, loaded.ToolCallBudget)
	assert.Equal(t, 5, loaded.ContinueIncrement)
	assert.Equal(t, snap.Messages, loaded.Messages)
	assert.True(t, snap.CreatedAt.Equal(loaded.CreatedAt))
	assert.True(t, snap.UpdatedAt.Equal(loaded.UpdatedAt))
}

func TestOpenAddsContinueIncrementColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`
	CREATE TABLE agent_sessions (
		id TEXT PRIMARY KEY,
		problem TEXT NOT NULL,
		status TEXT NOT NULL,
		tool_calls_used INTEGER NOT NULL,
		tool_call_budget INTEGER NOT NULL,
		transcript_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	INSERT INTO agent_sessions VALUES ('legacy', 'disk full', 'paused_for_limit', 10, 10, '[]', 1, 2);`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	loaded, err := s.LoadSession(context.Background(), "legacy")
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.ContinueIncrement)
	assert.Equal(t, 10, loaded.ToolCallBudget)

	snap := testSnapshot("new", session.StatePausedForLimit)
	require.NoError(t, s.SaveSession(context.Background(), snap))
	loaded, err = s.LoadSession(context.Background(), "new")
	require.NoError(t, err)
	assert.Equal(t, 5, loaded.ContinueIncrement)
}

func TestSaveSessionUpserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	snap := testSnapshot("s-1", session.StatePausedForLimit)
	require.NoError(t, s.SaveSession(ctx, snap))

	snap.State = session.StateSucceeded
	snap.ToolCallsUsed = 12
	snap.ToolCallBudget = 20
	snap.Messages = append(snap.Messages, transcript.Assistant("COMPLETE: done"))
	snap.UpdatedAt = snap.UpdatedAt.Add(time.Hour)
	require.NoError(t, s.SaveSession(ctx, snap))

	loaded, err := s.LoadSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, session.StateSucceeded, loaded.State)
	assert.Equal(t, 12, loaded.ToolCallsUsed)
	assert.Len(t, loaded.Messages, 4)

	list, err := s.ListSessions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestLoadSessionNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LoadSession(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListSessions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		snap := testSnapshot(id, session.StateSucceeded)
		snap.UpdatedAt = snap.UpdatedAt.Add(time.Duration(i) * time.Hour)
		require.NoError(t, s.SaveSession(ctx, snap))
	}

	list, err := s.ListSessions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
	assert.Equal(t, session.StateSucceeded, list[0].State)
}

func TestCleanup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_, err := s.SaveCheck(ctx, Check{Timestamp: now.Add(-40 * 24 * time.Hour), Component: "all"})
	require.NoError(t, err)
	_, err = s.SaveCheck(ctx, Check{Timestamp: now.Add(-time.Hour), Component: "all"})
	require.NoError(t, err)

	old := testSnapshot("old-done", session.StateSucceeded)
	old.UpdatedAt = now.Add(-40 * 24 * time.Hour)
	require.NoError(t, s.SaveSession(ctx, old))

	paused := testSnapshot("old-paused", session.StatePausedForInput)
	paused.UpdatedAt = now.Add(-40 * 24 * time.Hour)
	require.NoError(t, s.SaveSession(ctx, paused))

	removed, err := s.Cleanup(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	checks, err := s.RecentChecks(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, checks, 1)

	_, err = s.LoadSession(ctx, "old-paused")
	assert.NoError(t, err)
	_, err = s.LoadSession(ctx, "old-done")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRestoreFromStore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveSession(ctx, testSnapshot("resume-me", session.StateRunning)))

	snap, err := s.LoadSession(ctx, "resume-me")
	require.NoError(t, err)

	restored, err := session.Restore(snap, nil, nil, session.Config{})
	require.NoError(t, err)
	assert.Equal(t, session.StatePausedForInput, restored.State())
	assert.Len(t, restored.Transcript(), 3)
}
