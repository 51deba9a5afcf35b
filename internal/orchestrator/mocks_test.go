package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"go-relay/internal/core/memory"
	"go-relay/internal/core/ports"
	"go-relay/internal/domain"
)

type fakeGateway struct {
	mu       sync.Mutex
	invokes  []domain.Invocation
	failures []error
	onInvoke func(domain.Invocation)
}

func (g *fakeGateway) Invoke(_ context.Context, inv domain.Invocation) error {
	g.mu.Lock()
	g.invokes = append(g.invokes, inv)
	var err error
	if len(g.failures) > 0 {
		err = g.failures[0]
		if len(g.failures) > 1 {
			g.failures = g.failures[1:]
		}
	}
	hook := g.onInvoke
	g.mu.Unlock()

	if err == nil && hook != nil {
		hook(inv)
	}
	return err
}

func (g *fakeGateway) StopSession(context.Context, domain.StopCommand) error {
	return errors.New("not used")
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.invokes)
}

// brokenJournal accepts nothing; every call fails as a store outage.
type brokenJournal struct{}

var errOutage = errors.New("store unavailable")

func (brokenJournal) Append(context.Context, domain.Event) (ports.AppendResult, error) {
	return 0, domain.Retryable("append", errOutage)
}

func (brokenJournal) QueryAll(context.Context, string) ([]domain.Event, error) {
	return nil, domain.Retryable("query", errOutage)
}

func (brokenJournal) QueryAfter(context.Context, string, string) ([]domain.Event, error) {
	return nil, domain.Retryable("query", errOutage)
}

func (brokenJournal) QueryLatestMatching(context.Context, string, []domain.EventStatus) (*domain.Event, error) {
	return nil, domain.Retryable("query", errOutage)
}

func (brokenJournal) QueryFirstMatching(context.Context, string, []domain.EventStatus) (*domain.Event, error) {
	return nil, domain.Retryable("query", errOutage)
}

// cancelAfter appends a CANCELLED right after the trigger status lands,
// as a client cancelling at that moment would.
type cancelAfter struct {
	*memory.Journal
	trigger domain.EventStatus
}

func (c *cancelAfter) Append(ctx context.Context, event domain.Event) (ports.AppendResult, error) {
	res, err := c.Journal.Append(ctx, event)
	if err == nil && res == ports.Appended && event.Status == c.trigger {
		cancel := domain.NewEvent(event.SessionID, domain.StatusCancelled, event.Timestamp, time.Hour)
		if _, cerr := c.Journal.Append(ctx, cancel); cerr != nil {
			return res, cerr
		}
	}
	return res, err
}

var _ ports.EventJournal = brokenJournal{}
var _ ports.EventJournal = (*memory.Journal)(nil)
