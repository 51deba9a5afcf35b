package repository

import (
	"go-relay/internal/core/ports"
)

// EventRepository is the gorm-backed journal. Besides the journal contract it
// serves the detector's sweep queries and the retention janitor.
type EventRepository interface {
	ports.EventJournal
	ports.SessionScanner
	ports.RetentionStore
}

// SessionRepository stores trigger metadata and per-session data blobs.
type SessionRepository interface {
	ports.MetadataRepository
	ports.RetentionStore
}
