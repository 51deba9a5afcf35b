package ports

import (
	"context"
	"time"

	"go-relay/internal/domain"
)

// AppendResult tells a successful append apart from an ignored duplicate.
type AppendResult int

const (
	Appended AppendResult = iota + 1
	DuplicateIgnored
)

func (r AppendResult) String() string {
	switch r {
	case Appended:
		return "appended"
	case DuplicateIgnored:
		return "duplicate_ignored"
	default:
		return "unknown"
	}
}

// EventJournal represents the append-only event store
type EventJournal interface {
	// Create-if-absent on (SessionID, EventID). A duplicate is a success.
	// Store outages come back as domain.RetryableError; the store never retries.
	Append(ctx context.Context, event domain.Event) (AppendResult, error)

	// All events of a session, ascending by sequence key
	QueryAll(ctx context.Context, sessionID string) ([]domain.Event, error)

	// Events with sequence key strictly greater than cursor
	QueryAfter(ctx context.Context, sessionID, cursor string) ([]domain.Event, error)

	// Latest event whose status is in statuses, or domain.ErrNotFound
	QueryLatestMatching(ctx context.Context, sessionID string, statuses []domain.EventStatus) (*domain.Event, error)

	// Earliest event whose status is in statuses, or domain.ErrNotFound
	QueryFirstMatching(ctx context.Context, sessionID string, statuses []domain.EventStatus) (*domain.Event, error)
}

// SessionScanner finds sessions that need attention after the fact. Every
// scan pages by cursor: pass the last key of the previous page, "" to start.
type SessionScanner interface {
	// Worker terminal events of sessions that have no stop outcome yet,
	// ascending by sequence key and after the given sequence key
	PendingCleanup(ctx context.Context, afterKey string, limit int) ([]domain.Event, error)

	// Sessions whose background task started before cutoff and that have
	// neither a worker-side end nor a stop outcome, ascending by session id
	StaleSessions(ctx context.Context, startedBefore time.Time, afterSessionID string, limit int) ([]string, error)

	// Sessions with SESSION_INITIATED and no terminal event yet, ascending
	// by session id
	OpenSessions(ctx context.Context, afterSessionID string, limit int) ([]string, error)
}

// RetentionStore removes rows whose ttl has passed
type RetentionStore interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// MetadataRepository stores per-session trigger metadata and data blobs
type MetadataRepository interface {
	SaveMetadata(ctx context.Context, meta *domain.SessionMetadata) error
	GetMetadata(ctx context.Context, sessionID string) (*domain.SessionMetadata, error)
	WriteData(ctx context.Context, data *domain.SessionData) error
	ReadData(ctx context.Context, sessionID, key string) (*domain.SessionData, error)
}

// Gateway starts and stops remote work. Invoke returns once the worker has
// accepted the request, never when the work is done.
type Gateway interface {
	Invoke(ctx context.Context, inv domain.Invocation) error
	StopSession(ctx context.Context, cmd domain.StopCommand) error
}

// EventBus carries journal notifications to the detector
type EventBus interface {
	// Publish a worker terminal event as it is appended
	PublishTerminal(ctx context.Context, event domain.Event) error

	// Subscribe to worker terminal events (used by the detector)
	SubscribeTerminal(ctx context.Context) (<-chan domain.Event, error)
}

// InvocationQueue is the worker side of the gateway
type InvocationQueue interface {
	Push(ctx context.Context, inv domain.Invocation) error

	// Wait (Block) until an invocation is available
	Pop(ctx context.Context, timeout time.Duration) (*domain.Invocation, error)
}

// StopListener delivers stop commands to workers
type StopListener interface {
	SubscribeStops(ctx context.Context) (<-chan domain.StopCommand, error)
}

// Claimer makes sure only one detector replica acts on a given key
type Claimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release drops a claim this claimer holds; a claim held by someone
	// else is left alone
	Release(ctx context.Context, key string) error
}
