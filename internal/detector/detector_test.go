package detector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go-relay/internal/core/memory"
	"go-relay/internal/domain"
	"go-relay/internal/journal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

var start = time.Date(2026, 7, 10, 14, 0, 0, 0, time.UTC)

type harness struct {
	clock   *clocktesting.FakeClock
	journal *memory.Journal
	rec     *journal.Recorder
	gateway *fakeGateway
	claimer *memory.Claimer
}

func newHarness() *harness {
	fc := clocktesting.NewFakeClock(start)
	j := memory.NewJournal()
	return &harness{
		clock:   fc,
		journal: j,
		rec:     journal.NewRecorder(j, journal.WithClock(fc)),
		gateway: &fakeGateway{},
		claimer: memory.NewClaimer(fc),
	}
}

func (h *harness) detector(bus *chanBus) *Detector {
	opts := Options{
		SweepInterval: time.Minute,
		StaleAfter:    time.Hour,
		ClaimTTL:      time.Hour,
		Clock:         h.clock,
	}
	if bus == nil {
		return New(h.rec, h.journal, nil, h.gateway, h.claimer, opts)
	}
	return New(h.rec, h.journal, bus, h.gateway, h.claimer, opts)
}

func (h *harness) record(t *testing.T, sessionID string, e journal.Entry) domain.Event {
	t.Helper()
	event, _, err := h.rec.Record(context.Background(), sessionID, e)
	require.NoError(t, err)
	return event
}

func (h *harness) stopOutcomes(t *testing.T, sessionID string) []domain.Event {
	t.Helper()
	events, err := h.journal.QueryAll(context.Background(), sessionID)
	require.NoError(t, err)
	var out []domain.Event
	for _, e := range events {
		if e.Status.IsStopOutcome() {
			out = append(out, e)
		}
	}
	return out
}

func TestHandleTerminal_BusyIsForceStoppedOnce(t *testing.T) {
	h := newHarness()
	d := h.detector(nil)
	ctx := context.Background()
	event := h.record(t, "s1", journal.Entry{Status: domain.StatusBackgroundTaskCompleted, HealthStatus: domain.HealthBusy})

	action, err := d.HandleTerminal(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, ActionForceStopped, action)

	action, err = d.HandleTerminal(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, ActionSkipped, action)

	assert.Equal(t, 1, h.gateway.stopCount())
	outcomes := h.stopOutcomes(t, "s1")
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.StatusForceStopped, outcomes[0].Status)
}

func TestHandleTerminal_StopFailureIsRecordedNotRetried(t *testing.T) {
	h := newHarness()
	h.gateway.stopErr = errors.New("no worker is listening for session s1")
	d := h.detector(nil)
	event := h.record(t, "s1", journal.Entry{
		Status:       domain.StatusBackgroundTaskFailed,
		ErrorMessage: "oom",
		HealthStatus: domain.HealthBusy,
	})

	action, err := d.HandleTerminal(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, ActionStopFailed, action)
	assert.Equal(t, 1, h.gateway.stopCount())

	outcomes := h.stopOutcomes(t, "s1")
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.StatusStopFailed, outcomes[0].Status)
	assert.Equal(t, "force stop failed: no worker is listening for session s1", outcomes[0].ErrorMessage)

	_, err = d.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, h.gateway.stopCount())
}

func TestHandleTerminal_HealthyNeedsNoStop(t *testing.T) {
	h := newHarness()
	d := h.detector(nil)
	event := h.record(t, "s1", journal.Entry{Status: domain.StatusBackgroundTaskCompleted, HealthStatus: domain.HealthHealthy})

	action, err := d.HandleTerminal(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, ActionStopNotRequired, action)
	assert.Zero(t, h.gateway.stopCount())

	outcomes := h.stopOutcomes(t, "s1")
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.StatusStopNotRequired, outcomes[0].Status)
}

func TestHandleTerminal_UnknownHealthWritesNothing(t *testing.T) {
	h := newHarness()
	d := h.detector(nil)
	event := h.record(t, "s1", journal.Entry{Status: domain.StatusBackgroundTaskCompleted})

	action, err := d.HandleTerminal(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, ActionUnknownHealth, action)
	assert.Zero(t, h.gateway.stopCount())
	assert.Empty(t, h.stopOutcomes(t, "s1"))
}

func TestHandleTerminal_IgnoresNonWorkerEvents(t *testing.T) {
	h := newHarness()
	d := h.detector(nil)
	event := h.record(t, "s1", journal.Entry{Status: domain.StatusInvocationFailed, ErrorMessage: "denied"})

	action, err := d.HandleTerminal(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, ActionIgnored, action)
	assert.Empty(t, h.stopOutcomes(t, "s1"))
}

func TestHandleTerminal_DoesNotChangeTimedOutOutcome(t *testing.T) {
	h := newHarness()
	d := h.detector(nil)
	h.record(t, "s-b", journal.Entry{Status: domain.StatusSessionInitiated})
	h.clock.Step(900 * time.Second)
	h.record(t, "s-b", journal.Entry{Status: domain.StatusSessionTimedOut})
	h.clock.Step(100 * time.Second)
	late := h.record(t, "s-b", journal.Entry{
		Status:       domain.StatusBackgroundTaskFailed,
		ErrorMessage: "gave up",
		HealthStatus: domain.HealthBusy,
	})

	action, err := d.HandleTerminal(context.Background(), late)
	require.NoError(t, err)
	assert.Equal(t, ActionForceStopped, action)

	view, err := h.rec.Load(context.Background(), "s-b")
	require.NoError(t, err)
	assert.Equal(t, domain.StateTimedOut, view.State)
}

func TestHandleTerminal_ConcurrentDetectorsActOnce(t *testing.T) {
	h := newHarness()
	event := h.record(t, "s1", journal.Entry{Status: domain.StatusBackgroundTaskCompleted, HealthStatus: domain.HealthBusy})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.detector(nil).HandleTerminal(context.Background(), event)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.gateway.stopCount())
	assert.Len(t, h.stopOutcomes(t, "s1"), 1)
}

func TestSweep_MissedNotificationsAndStaleSessions(t *testing.T) {
	h := newHarness()
	d := h.detector(nil)
	ctx := context.Background()

	h.record(t, "stale", journal.Entry{Status: domain.StatusBackgroundTaskStarted})
	h.record(t, "missed", journal.Entry{Status: domain.StatusBackgroundTaskCompleted, HealthStatus: domain.HealthBusy})
	h.clock.Step(2 * time.Hour)
	h.record(t, "fresh", journal.Entry{Status: domain.StatusBackgroundTaskStarted})

	n, err := d.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, h.gateway.stopCount())

	for _, id := range []string{"stale", "missed"} {
		outcomes := h.stopOutcomes(t, id)
		require.Len(t, outcomes, 1, id)
		assert.Equal(t, domain.StatusForceStopped, outcomes[0].Status)
	}
	assert.Empty(t, h.stopOutcomes(t, "fresh"))

	n, err = d.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, h.gateway.stopCount())
}

func TestStart_ReactsToNotifications(t *testing.T) {
	h := newHarness()
	bus := &chanBus{ch: make(chan domain.Event, 1)}
	d := h.detector(bus)
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan error, 1)
	go func() { stopped <- d.Start(ctx) }()

	event := h.record(t, "s1", journal.Entry{Status: domain.StatusBackgroundTaskFailed, HealthStatus: domain.HealthHealthy})
	require.NoError(t, bus.PublishTerminal(ctx, event))

	require.Eventually(t, func() bool {
		return len(h.stopOutcomes(t, "s1")) == 1
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("detector did not stop")
	}
	assert.Equal(t, domain.StatusStopNotRequired, h.stopOutcomes(t, "s1")[0].Status)
}

func TestSweep_PagesPastUnanswerableSessions(t *testing.T) {
	h := newHarness()
	d := New(h.rec, h.journal, nil, h.gateway, h.claimer, Options{
		StaleAfter: time.Hour,
		ClaimTTL:   time.Hour,
		BatchSize:  3,
		Clock:      h.clock,
	})

	// no health reported: the detector cannot decide and writes nothing
	for _, id := range []string{"a", "b", "c"} {
		h.record(t, id, journal.Entry{Status: domain.StatusBackgroundTaskCompleted})
		h.clock.Step(time.Second)
	}
	h.record(t, "busy", journal.Entry{
		Status:       domain.StatusBackgroundTaskFailed,
		ErrorMessage: "crashed",
		HealthStatus: domain.HealthBusy,
	})

	n, err := d.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	outcomes := h.stopOutcomes(t, "busy")
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.StatusForceStopped, outcomes[0].Status)
	assert.Equal(t, 1, h.gateway.stopCount())
}

func TestSweep_StopsTasksLeftRunningAfterTimeoutOrCancel(t *testing.T) {
	h := newHarness()
	d := h.detector(nil)

	h.record(t, "timed-out", journal.Entry{Status: domain.StatusBackgroundTaskStarted})
	h.record(t, "cancelled", journal.Entry{Status: domain.StatusBackgroundTaskStarted})
	h.clock.Step(15 * time.Minute)
	h.record(t, "timed-out", journal.Entry{Status: domain.StatusSessionTimedOut})
	h.record(t, "cancelled", journal.Entry{Status: domain.StatusCancelled})
	h.clock.Step(10 * time.Hour)

	n, err := d.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, h.gateway.stopCount())

	for _, id := range []string{"timed-out", "cancelled"} {
		require.Len(t, h.stopOutcomes(t, id), 1, id)
	}

	view, err := h.rec.Load(context.Background(), "cancelled")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCancelled, view.State)
}

func TestForceStop_ReleasesClaimWhenOutcomeNotRecorded(t *testing.T) {
	h := newHarness()
	flaky := &flakyJournal{Journal: h.journal, failStatus: domain.StatusForceStopped}
	rec := journal.NewRecorder(flaky, journal.WithClock(h.clock))
	d := New(rec, h.journal, nil, h.gateway, h.claimer, Options{ClaimTTL: 24 * time.Hour, Clock: h.clock})

	event := h.record(t, "s1", journal.Entry{Status: domain.StatusBackgroundTaskCompleted, HealthStatus: domain.HealthBusy})

	_, err := d.HandleTerminal(context.Background(), event)
	require.Error(t, err)
	assert.Empty(t, h.stopOutcomes(t, "s1"))

	flaky.failStatus = ""
	action, err := d.HandleTerminal(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, ActionForceStopped, action)
	assert.Len(t, h.stopOutcomes(t, "s1"), 1)
}
