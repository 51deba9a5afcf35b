package detector

import (
	"context"
	"errors"
	"sync"

	"go-relay/internal/core/memory"
	"go-relay/internal/core/ports"
	"go-relay/internal/domain"
)

type fakeGateway struct {
	mu      sync.Mutex
	stops   []domain.StopCommand
	stopErr error
}

func (g *fakeGateway) Invoke(context.Context, domain.Invocation) error {
	return nil
}

func (g *fakeGateway) StopSession(_ context.Context, cmd domain.StopCommand) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stops = append(g.stops, cmd)
	return g.stopErr
}

func (g *fakeGateway) stopCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.stops)
}

type chanBus struct {
	ch chan domain.Event
}

func (b *chanBus) PublishTerminal(_ context.Context, e domain.Event) error {
	b.ch <- e
	return nil
}

func (b *chanBus) SubscribeTerminal(context.Context) (<-chan domain.Event, error) {
	return b.ch, nil
}

// flakyJournal rejects appends of one status.
type flakyJournal struct {
	*memory.Journal
	failStatus domain.EventStatus
}

func (f *flakyJournal) Append(ctx context.Context, event domain.Event) (ports.AppendResult, error) {
	if f.failStatus != "" && event.Status == f.failStatus {
		return 0, errors.New("journal write rejected")
	}
	return f.Journal.Append(ctx, event)
}
