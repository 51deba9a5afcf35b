package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go-relay/internal/core/ports"
	"go-relay/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	return db
}

func event(sessionID string, status domain.EventStatus, offset time.Duration) domain.Event {
	return domain.NewEvent(sessionID, status, base.Add(offset), 30*24*time.Hour)
}

func appendAll(t *testing.T, repo EventRepository, events ...domain.Event) {
	t.Helper()
	for _, e := range events {
		res, err := repo.Append(context.Background(), e)
		require.NoError(t, err)
		require.Equal(t, ports.Appended, res)
	}
}

func TestEventRepository_AppendIsCreateIfAbsent(t *testing.T) {
	repo := NewEventRepository(newTestDB(t))
	ctx := context.Background()

	e := event("s1", domain.StatusSessionInitiated, 0)
	res, err := repo.Append(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, ports.Appended, res)

	res, err = repo.Append(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, ports.DuplicateIgnored, res)

	events, err := repo.QueryAll(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestEventRepository_QueryOrderAndCursor(t *testing.T) {
	repo := NewEventRepository(newTestDB(t))
	ctx := context.Background()

	first := event("s1", domain.StatusSessionInitiated, 0)
	second := event("s1", domain.StatusInvocationStarted, time.Second)
	third := event("s1", domain.StatusInvocationSucceeded, 2*time.Second)
	other := event("s2", domain.StatusSessionInitiated, 0)
	// insert out of order
	appendAll(t, repo, third, other, first, second)

	events, err := repo.QueryAll(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, first.EventID, events[0].EventID)
	assert.Equal(t, second.EventID, events[1].EventID)
	assert.Equal(t, third.EventID, events[2].EventID)

	after, err := repo.QueryAfter(ctx, "s1", first.SequenceKey)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, second.EventID, after[0].EventID)

	none, err := repo.QueryAfter(ctx, "s1", third.SequenceKey)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestEventRepository_LatestAndFirstMatching(t *testing.T) {
	repo := NewEventRepository(newTestDB(t))
	ctx := context.Background()

	timedOut := event("s1", domain.StatusSessionTimedOut, 900*time.Second)
	failed := event("s1", domain.StatusBackgroundTaskFailed, 1000*time.Second)
	appendAll(t, repo, event("s1", domain.StatusSessionInitiated, 0), timedOut, failed)

	latest, err := repo.QueryLatestMatching(ctx, "s1", domain.TerminalStatuses)
	require.NoError(t, err)
	assert.Equal(t, failed.EventID, latest.EventID)

	first, err := repo.QueryFirstMatching(ctx, "s1", domain.TerminalStatuses)
	require.NoError(t, err)
	assert.Equal(t, timedOut.EventID, first.EventID)

	_, err = repo.QueryLatestMatching(ctx, "s1", domain.StopOutcomeStatuses)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = repo.QueryLatestMatching(ctx, "missing", domain.TerminalStatuses)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEventRepository_PendingCleanup(t *testing.T) {
	repo := NewEventRepository(newTestDB(t))
	ctx := context.Background()

	done := event("done", domain.StatusBackgroundTaskCompleted, time.Second)
	pending := event("pending", domain.StatusBackgroundTaskFailed, 2*time.Second)
	appendAll(t, repo,
		done,
		event("done", domain.StatusStopNotRequired, 3*time.Second),
		pending,
		event("running", domain.StatusBackgroundTaskStarted, 0),
	)

	events, err := repo.PendingCleanup(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, pending.EventID, events[0].EventID)
}

func TestEventRepository_PendingCleanupPagesPastUnanswered(t *testing.T) {
	repo := NewEventRepository(newTestDB(t))
	ctx := context.Background()

	// three sessions the detector cannot answer (no health), then one it can
	appendAll(t, repo,
		event("a", domain.StatusBackgroundTaskCompleted, time.Second),
		event("b", domain.StatusBackgroundTaskCompleted, 2*time.Second),
		event("c", domain.StatusBackgroundTaskCompleted, 3*time.Second),
		event("busy", domain.StatusBackgroundTaskFailed, 4*time.Second),
	)

	first, err := repo.PendingCleanup(ctx, "", 3)
	require.NoError(t, err)
	require.Len(t, first, 3)

	next, err := repo.PendingCleanup(ctx, first[len(first)-1].SequenceKey, 3)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, "busy", next[0].SessionID)
}

func TestEventRepository_StaleSessions(t *testing.T) {
	repo := NewEventRepository(newTestDB(t))
	ctx := context.Background()

	appendAll(t, repo,
		event("stale", domain.StatusBackgroundTaskStarted, 0),
		event("fresh", domain.StatusBackgroundTaskStarted, time.Hour),
		event("finished", domain.StatusBackgroundTaskStarted, 0),
		event("finished", domain.StatusBackgroundTaskCompleted, time.Minute),
		event("stopped", domain.StatusBackgroundTaskStarted, 0),
		event("stopped", domain.StatusForceStopped, time.Minute),
		event("timedout", domain.StatusBackgroundTaskStarted, 0),
		event("timedout", domain.StatusSessionTimedOut, time.Minute),
		event("cancelled", domain.StatusBackgroundTaskStarted, 0),
		event("cancelled", domain.StatusCancelled, time.Minute),
	)

	ids, err := repo.StaleSessions(ctx, base.Add(30*time.Minute), "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"cancelled", "stale", "timedout"}, ids)

	ids, err = repo.StaleSessions(ctx, base.Add(30*time.Minute), "cancelled", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, ids)
}

func TestEventRepository_OpenSessions(t *testing.T) {
	repo := NewEventRepository(newTestDB(t))
	ctx := context.Background()

	appendAll(t, repo,
		event("polling", domain.StatusSessionInitiated, 0),
		event("polling", domain.StatusInvocationSucceeded, time.Second),
		event("fresh", domain.StatusSessionInitiated, 0),
		event("ended", domain.StatusSessionInitiated, 0),
		event("ended", domain.StatusSessionTimedOut, time.Minute),
		event("workeronly", domain.StatusBackgroundTaskStarted, 0),
	)

	ids, err := repo.OpenSessions(ctx, "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh", "polling"}, ids)

	ids, err = repo.OpenSessions(ctx, "fresh", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"polling"}, ids)
}

func TestEventRepository_PurgeExpired(t *testing.T) {
	repo := NewEventRepository(newTestDB(t))
	ctx := context.Background()

	short := domain.NewEvent("s1", domain.StatusSessionInitiated, base, time.Hour)
	long := domain.NewEvent("s2", domain.StatusSessionInitiated, base, 48*time.Hour)
	appendAll(t, repo, short, long)

	removed, err := repo.PurgeExpired(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	events, err := repo.QueryAll(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = repo.QueryAll(ctx, "s2")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
