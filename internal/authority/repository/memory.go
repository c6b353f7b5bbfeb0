package repository

import (
	"context"
	"sync"

	"ied-sentinel/internal/authority/domain"
)

// MemoryRepository keeps everything in process memory. Used when no database is configured and in tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	ids     []string
	history map[string][]domain.Entry
}

// NewMemoryRepository returns a repository whose allowed list starts as ids.
func NewMemoryRepository(ids []string) *MemoryRepository {
	return &MemoryRepository{
		ids:     append([]string(nil), ids...),
		history: make(map[string][]domain.Entry),
	}
}

func (r *MemoryRepository) ListIDs(context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string{}, r.ids...), nil
}

func (r *MemoryRepository) ReplaceIDs(_ context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append([]string{}, ids...)
	return nil
}

func (r *MemoryRepository) SaveEntry(_ context.Context, e *domain.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history[e.DeviceID] = append(r.history[e.DeviceID], *e)
	return nil
}

func (r *MemoryRepository) Latest(context.Context) (map[string]domain.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]domain.Entry, len(r.history))
	for id, entries := range r.history {
		if n := len(entries); n > 0 {
			out[id] = entries[n-1]
		}
	}
	return out, nil
}

func (r *MemoryRepository) History(_ context.Context, deviceID string, limit int) ([]domain.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.history[deviceID]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return append([]domain.Entry{}, entries...), nil
}

func (r *MemoryRepository) Ping(context.Context) error { return nil }
