package memory

import (
	"context"
	"sync"
	"time"

	"go-relay/internal/domain"
)

type dataKey struct {
	sessionID string
	key       string
}

// Metadata is an in-memory ports.MetadataRepository.
type Metadata struct {
	mu   sync.RWMutex
	meta map[string]domain.SessionMetadata
	data map[dataKey]domain.SessionData
}

func NewMetadata() *Metadata {
	return &Metadata{
		meta: make(map[string]domain.SessionMetadata),
		data: make(map[dataKey]domain.SessionData),
	}
}

func (m *Metadata) SaveMetadata(_ context.Context, meta *domain.SessionMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta[meta.SessionID] = *meta
	return nil
}

func (m *Metadata) GetMetadata(_ context.Context, sessionID string) (*domain.SessionMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.meta[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &meta, nil
}

func (m *Metadata) WriteData(_ context.Context, data *domain.SessionData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[dataKey{data.SessionID, data.DataKey}] = *data
	return nil
}

func (m *Metadata) ReadData(_ context.Context, sessionID, key string) (*domain.SessionData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.data[dataKey{sessionID, key}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &d, nil
}

func (m *Metadata) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for id, meta := range m.meta {
		if meta.TTL > 0 && now.Unix() >= meta.TTL {
			delete(m.meta, id)
			removed++
		}
	}
	for k, d := range m.data {
		if d.TTL > 0 && now.Unix() >= d.TTL {
			delete(m.data, k)
			removed++
		}
	}
	return removed, nil
}
