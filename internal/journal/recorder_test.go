package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go-relay/internal/core/memory"
	"go-relay/internal/core/ports"
	"go-relay/internal/domain"
	"go-relay/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

var start = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

type recordingBus struct {
	mu        sync.Mutex
	published []domain.Event
	err       error
}

func (b *recordingBus) PublishTerminal(_ context.Context, e domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, e)
	return b.err
}

func (b *recordingBus) SubscribeTerminal(context.Context) (<-chan domain.Event, error) {
	return nil, errors.New("not implemented")
}

// flakyJournal fails the first n appends with a retryable error after
// persisting, the way a timed-out write that actually landed looks.
type flakyJournal struct {
	*memory.Journal
	failures int
}

func (f *flakyJournal) Append(ctx context.Context, e domain.Event) (ports.AppendResult, error) {
	res, err := f.Journal.Append(ctx, e)
	if f.failures > 0 {
		f.failures--
		return 0, domain.Retryable("append", errors.New("timeout"))
	}
	return res, err
}

func newRecorder(j ports.EventJournal, opts ...Option) *Recorder {
	base := []Option{
		WithClock(clocktesting.NewFakePassiveClock(start)),
		WithRetryPolicy(retry.Policy{Attempts: 3, Initial: time.Millisecond, Max: time.Millisecond}),
	}
	return NewRecorder(j, append(base, opts...)...)
}

func TestRecorder_RecordStampsEvent(t *testing.T) {
	r := newRecorder(memory.NewJournal(), WithRetention(24*time.Hour))

	event, res, err := r.Record(context.Background(), "s1", Entry{Status: domain.StatusSessionInitiated})
	require.NoError(t, err)
	assert.Equal(t, ports.Appended, res)
	assert.Equal(t, start, event.Timestamp)
	assert.Equal(t, start.Add(24*time.Hour).Unix(), event.TTL)
	assert.Equal(t, "2026-05-04T09:30:00.000Z#"+event.EventID, event.SequenceKey)
}

func TestRecorder_RejectsInvalidStatus(t *testing.T) {
	j := memory.NewJournal()
	r := newRecorder(j)

	_, _, err := r.Record(context.Background(), "s1", Entry{Status: "TASK_bad phase!_STARTED"})
	var statusErr *domain.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Contains(t, err.Error(), "TASK_bad phase!_STARTED")
	assert.Contains(t, err.Error(), domain.PhaseNameCharset)

	events, err := j.QueryAll(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRecorder_RetryAfterLandedWriteIsDuplicate(t *testing.T) {
	j := &flakyJournal{Journal: memory.NewJournal(), failures: 1}
	r := newRecorder(j)

	_, res, err := r.Record(context.Background(), "s1", Entry{Status: domain.StatusInvocationStarted})
	require.NoError(t, err)
	assert.Equal(t, ports.DuplicateIgnored, res)

	events, err := j.QueryAll(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRecorder_ExhaustedRetries(t *testing.T) {
	j := &flakyJournal{Journal: memory.NewJournal(), failures: 10}
	r := newRecorder(j)

	_, _, err := r.Record(context.Background(), "s1", Entry{Status: domain.StatusInvocationStarted})
	require.Error(t, err)
	assert.True(t, retry.IsExhausted(err))
	assert.True(t, domain.IsRetryable(err))
}

func TestRecorder_PublishesWorkerTerminalEvents(t *testing.T) {
	bus := &recordingBus{err: errors.New("redis down")}
	r := newRecorder(memory.NewJournal(), WithBus(bus))
	ctx := context.Background()

	_, _, err := r.Record(ctx, "s1", Entry{Status: domain.StatusBackgroundTaskStarted})
	require.NoError(t, err)
	_, _, err = r.Record(ctx, "s1", Entry{Status: domain.StatusBackgroundTaskCompleted, HealthStatus: domain.HealthBusy})
	require.NoError(t, err, "publish failures never fail the append")

	require.Len(t, bus.published, 1)
	assert.Equal(t, domain.StatusBackgroundTaskCompleted, bus.published[0].Status)
	assert.Equal(t, domain.HealthBusy, bus.published[0].HealthStatus)
}

func TestRecorder_LoadAndMatching(t *testing.T) {
	r := newRecorder(memory.NewJournal())
	ctx := context.Background()

	_, err := r.Load(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrSessionUnknown)

	for _, s := range []domain.EventStatus{
		domain.StatusSessionInitiated,
		domain.StatusInvocationStarted,
		domain.StatusInvocationSucceeded,
	} {
		_, _, err := r.Record(ctx, "s1", Entry{Status: s})
		require.NoError(t, err)
	}

	view, err := r.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatePolling, view.State)
	assert.Equal(t, 3, view.EventCount)

	e, err := r.LatestMatching(ctx, "s1", domain.WorkerTerminalStatuses)
	require.NoError(t, err)
	assert.Nil(t, e)

	e, err = r.FirstMatching(ctx, "s1", []domain.EventStatus{domain.StatusInvocationStarted})
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, domain.StatusInvocationStarted, e.Status)
}
