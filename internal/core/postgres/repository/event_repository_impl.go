package repository

import (
	"context"
	"time"

	"go-relay/internal/core/ports"
	"go-relay/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository creates a new instance of EventRepository
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

// Append inserts the event unless (session_id, event_id) already exists.
// ON CONFLICT DO NOTHING makes the insert atomic create-if-absent, so a
// retried write of the same logical event is reported as a duplicate instead
// of a constraint error.
func (r *eventRepository) Append(ctx context.Context, event domain.Event) (ports.AppendResult, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&event)
	if result.Error != nil {
		return 0, classify("append event", result.Error)
	}
	if result.RowsAffected == 0 {
		return ports.DuplicateIgnored, nil
	}
	return ports.Appended, nil
}

func (r *eventRepository) QueryAll(ctx context.Context, sessionID string) ([]domain.Event, error) {
	var events []domain.Event
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("sequence_key ASC").
		Find(&events).Error
	if err != nil {
		return nil, classify("query events", err)
	}
	return events, nil
}

func (r *eventRepository) QueryAfter(ctx context.Context, sessionID, cursor string) ([]domain.Event, error) {
	var events []domain.Event
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND sequence_key > ?", sessionID, cursor).
		Order("sequence_key ASC").
		Find(&events).Error
	if err != nil {
		return nil, classify("query events after cursor", err)
	}
	return events, nil
}

func (r *eventRepository) QueryLatestMatching(ctx context.Context, sessionID string, statuses []domain.EventStatus) (*domain.Event, error) {
	return r.firstMatching(ctx, sessionID, statuses, "sequence_key DESC")
}

func (r *eventRepository) QueryFirstMatching(ctx context.Context, sessionID string, statuses []domain.EventStatus) (*domain.Event, error) {
	return r.firstMatching(ctx, sessionID, statuses, "sequence_key ASC")
}

func (r *eventRepository) firstMatching(ctx context.Context, sessionID string, statuses []domain.EventStatus, order string) (*domain.Event, error) {
	if len(statuses) == 0 {
		return nil, domain.ErrNotFound
	}

	var event domain.Event
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND status IN ?", sessionID, statusStrings(statuses)).
		Order(order).
		Take(&event).Error
	if err != nil {
		return nil, classify("query matching event", err)
	}
	return &event, nil
}

// PendingCleanup returns, per session, the earliest worker terminal event of
// sessions the detector has not answered yet.
func (r *eventRepository) PendingCleanup(ctx context.Context, afterKey string, limit int) ([]domain.Event, error) {
	answered := r.db.
		Table("journal_events AS o").
		Select("1").
		Where("o.session_id = journal_events.session_id AND o.status IN ?", statusStrings(domain.StopOutcomeStatuses))

	q := r.db.WithContext(ctx).
		Where("status IN ?", statusStrings(domain.WorkerTerminalStatuses)).
		Where("sequence_key > ?", afterKey).
		Where("NOT EXISTS (?)", answered).
		Order("sequence_key ASC")
	if limit > 0 {
		// Over-fetch a little: a session may carry both terminal statuses.
		q = q.Limit(limit * 2)
	}

	var events []domain.Event
	if err := q.Find(&events).Error; err != nil {
		return nil, classify("query pending cleanup", err)
	}

	seen := make(map[string]struct{}, len(events))
	out := events[:0]
	for _, e := range events {
		if _, ok := seen[e.SessionID]; ok {
			continue
		}
		seen[e.SessionID] = struct{}{}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// StaleSessions only counts worker-side ends as closing a session: a
// timed-out or cancelled session may still have a task running.
func (r *eventRepository) StaleSessions(ctx context.Context, startedBefore time.Time, afterSessionID string, limit int) ([]string, error) {
	closed := r.db.
		Table("journal_events AS t").
		Select("1").
		Where("t.session_id = journal_events.session_id AND t.status IN ?",
			append(statusStrings(domain.WorkerEndStatuses), statusStrings(domain.StopOutcomeStatuses)...))

	q := r.db.WithContext(ctx).
		Model(&domain.Event{}).
		Distinct("session_id").
		Where("status = ? AND sequence_key < ?", string(domain.StatusBackgroundTaskStarted), domain.FormatTimestamp(startedBefore)).
		Where("session_id > ?", afterSessionID).
		Where("NOT EXISTS (?)", closed).
		Order("session_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var ids []string
	if err := q.Pluck("session_id", &ids).Error; err != nil {
		return nil, classify("query stale sessions", err)
	}
	return ids, nil
}

func (r *eventRepository) OpenSessions(ctx context.Context, afterSessionID string, limit int) ([]string, error) {
	ended := r.db.
		Table("journal_events AS t").
		Select("1").
		Where("t.session_id = journal_events.session_id AND t.status IN ?", statusStrings(domain.TerminalStatuses))

	q := r.db.WithContext(ctx).
		Model(&domain.Event{}).
		Distinct("session_id").
		Where("status = ?", string(domain.StatusSessionInitiated)).
		Where("session_id > ?", afterSessionID).
		Where("NOT EXISTS (?)", ended).
		Order("session_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var ids []string
	if err := q.Pluck("session_id", &ids).Error; err != nil {
		return nil, classify("query open sessions", err)
	}
	return ids, nil
}

func (r *eventRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("ttl > 0 AND ttl <= ?", now.Unix()).
		Delete(&domain.Event{})
	if result.Error != nil {
		return 0, classify("purge expired events", result.Error)
	}
	return result.RowsAffected, nil
}

func statusStrings(statuses []domain.EventStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
