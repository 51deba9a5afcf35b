// Package memory holds in-process implementations of the storage ports.
// They back unit tests and single-binary dev runs; nothing here survives a
// restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"go-relay/internal/core/ports"
	"go-relay/internal/domain"
)

type eventKey struct {
	sessionID string
	eventID   string
}

// Journal is an in-memory ports.EventJournal and ports.SessionScanner.
type Journal struct {
	mu       sync.RWMutex
	sessions map[string][]domain.Event
	seen     map[eventKey]struct{}
}

func NewJournal() *Journal {
	return &Journal{
		sessions: make(map[string][]domain.Event),
		seen:     make(map[eventKey]struct{}),
	}
}

func (j *Journal) Append(ctx context.Context, event domain.Event) (ports.AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return 0, domain.Retryable("append", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	key := eventKey{event.SessionID, event.EventID}
	if _, ok := j.seen[key]; ok {
		return ports.DuplicateIgnored, nil
	}
	j.seen[key] = struct{}{}

	events := append(j.sessions[event.SessionID], event)
	sort.SliceStable(events, func(a, b int) bool {
		return events[a].SequenceKey < events[b].SequenceKey
	})
	j.sessions[event.SessionID] = events
	return ports.Appended, nil
}

func (j *Journal) QueryAll(ctx context.Context, sessionID string) ([]domain.Event, error) {
	return j.QueryAfter(ctx, sessionID, "")
}

func (j *Journal) QueryAfter(ctx context.Context, sessionID, cursor string) ([]domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Retryable("query", err)
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []domain.Event
	for _, e := range j.sessions[sessionID] {
		if e.SequenceKey > cursor {
			out = append(out, e)
		}
	}
	return out, nil
}

func (j *Journal) QueryLatestMatching(ctx context.Context, sessionID string, statuses []domain.EventStatus) (*domain.Event, error) {
	events, err := j.QueryAll(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for i := len(events) - 1; i >= 0; i-- {
		if matches(statuses, events[i].Status) {
			e := events[i]
			return &e, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (j *Journal) QueryFirstMatching(ctx context.Context, sessionID string, statuses []domain.EventStatus) (*domain.Event, error) {
	events, err := j.QueryAll(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for i := range events {
		if matches(statuses, events[i].Status) {
			e := events[i]
			return &e, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (j *Journal) PendingCleanup(ctx context.Context, afterKey string, limit int) ([]domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []domain.Event
	for _, events := range j.sessions {
		if hasAny(events, domain.StopOutcomeStatuses) {
			continue
		}
		for _, e := range events {
			if e.Status.IsWorkerTerminal() && e.SequenceKey > afterKey {
				out = append(out, e)
				break
			}
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].SequenceKey < out[b].SequenceKey })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (j *Journal) StaleSessions(ctx context.Context, startedBefore time.Time, afterSessionID string, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cutoff := domain.FormatTimestamp(startedBefore)

	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []string
	for sessionID, events := range j.sessions {
		if sessionID <= afterSessionID {
			continue
		}
		if hasAny(events, domain.WorkerEndStatuses) || hasAny(events, domain.StopOutcomeStatuses) {
			continue
		}
		for _, e := range events {
			if e.Status == domain.StatusBackgroundTaskStarted && e.SequenceKey < cutoff {
				out = append(out, sessionID)
				break
			}
		}
	}
	return page(out, limit), nil
}

func (j *Journal) OpenSessions(ctx context.Context, afterSessionID string, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []string
	for sessionID, events := range j.sessions {
		if sessionID <= afterSessionID {
			continue
		}
		if hasAny(events, []domain.EventStatus{domain.StatusSessionInitiated}) && !hasAny(events, domain.TerminalStatuses) {
			out = append(out, sessionID)
		}
	}
	return page(out, limit), nil
}

func page(ids []string, limit int) []string {
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}

func (j *Journal) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	var removed int64
	for sessionID, events := range j.sessions {
		kept := events[:0]
		for _, e := range events {
			if e.Expired(now) {
				delete(j.seen, eventKey{e.SessionID, e.EventID})
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(j.sessions, sessionID)
			continue
		}
		j.sessions[sessionID] = kept
	}
	return removed, nil
}

func matches(statuses []domain.EventStatus, s domain.EventStatus) bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}

func hasAny(events []domain.Event, statuses []domain.EventStatus) bool {
	for _, e := range events {
		if matches(statuses, e.Status) {
			return true
		}
	}
	return false
}
