package domain

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// TimestampLayout is ISO-8601 UTC with millisecond precision. Keys built from
// it sort lexicographically in time order.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// HealthStatus is the worker's self-reported bookkeeping state at the moment
// it wrote a completion or failure event.
type HealthStatus string

const (
	HealthHealthy HealthStatus = "Healthy"
	HealthBusy    HealthStatus = "Busy"
)

// ParseHealthStatus accepts "Healthy", "Busy" and the runtime ping value
// "HealthyBusy" (reported as Busy). Anything else is returned as-is with ok=false.
func ParseHealthStatus(s string) (HealthStatus, bool) {
	switch strings.TrimSpace(s) {
	case string(HealthHealthy):
		return HealthHealthy, true
	case string(HealthBusy), "HealthyBusy":
		return HealthBusy, true
	default:
		return HealthStatus(s), false
	}
}

// Event is an immutable journal entry. (SessionID, EventID) is unique.
type Event struct {
	SessionID    string       `gorm:"column:session_id;type:varchar(128);primaryKey;index:idx_journal_session_seq,priority:1" json:"sessionId"`
	EventID      string       `gorm:"column:event_id;type:varchar(64);primaryKey" json:"eventId"`
	SequenceKey  string       `gorm:"column:sequence_key;type:varchar(128);not null;index:idx_journal_session_seq,priority:2" json:"sequenceKey"`
	Status       EventStatus  `gorm:"column:status;type:varchar(80);not null;index" json:"status"`
	Timestamp    time.Time    `gorm:"column:event_time;not null" json:"timestamp"`
	ErrorMessage string       `gorm:"column:error_message;type:text" json:"errorMessage,omitempty"`
	HealthStatus HealthStatus `gorm:"column:health_status;type:varchar(16)" json:"healthStatus,omitempty"`
	TTL          int64        `gorm:"column:ttl;not null;index" json:"ttl"`
}

func (Event) TableName() string {
	return "journal_events"
}

// NewEvent stamps a new event at the given time. The event ID is a ULID, so
// events created in the same millisecond by one process keep their order.
func NewEvent(sessionID string, status EventStatus, at time.Time, retention time.Duration) Event {
	at = at.UTC().Truncate(time.Millisecond)
	id := ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String()
	return Event{
		SessionID:   sessionID,
		EventID:     id,
		SequenceKey: SequenceKey(at, id),
		Status:      status,
		Timestamp:   at,
		TTL:         at.Add(retention).Unix(),
	}
}

// FormatTimestamp renders t the way the journal stores it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// SequenceKey is the ordering key of an event: timestamp, then event ID.
func SequenceKey(t time.Time, eventID string) string {
	return FormatTimestamp(t) + "#" + eventID
}

// Validate guards the write path before persistence.
func (e Event) Validate() error {
	if strings.TrimSpace(e.SessionID) == "" {
		return invalidEvent("sessionId is required")
	}
	if strings.TrimSpace(e.EventID) == "" {
		return invalidEvent("eventId is required")
	}
	if err := e.Status.Validate(); err != nil {
		return err
	}
	if e.SequenceKey != SequenceKey(e.Timestamp, e.EventID) {
		return invalidEvent("sequenceKey %q does not match timestamp and eventId", e.SequenceKey)
	}
	if e.ErrorMessage != "" && !e.Status.IsFailure() {
		return invalidEvent("errorMessage is only allowed on *_FAILED statuses, got %s", e.Status)
	}
	if e.HealthStatus != "" {
		if e.HealthStatus != HealthHealthy && e.HealthStatus != HealthBusy {
			return invalidEvent("healthStatus must be %q or %q, got %q", HealthHealthy, HealthBusy, e.HealthStatus)
		}
		if !e.Status.IsWorkerTerminal() && e.Status != StatusRuntimeInvokeFailed {
			return invalidEvent("healthStatus is only reported on worker completion or failure, got %s", e.Status)
		}
	}
	return nil
}

// Expired reports whether retention has passed at now.
func (e Event) Expired(now time.Time) bool {
	return e.TTL > 0 && now.Unix() >= e.TTL
}
