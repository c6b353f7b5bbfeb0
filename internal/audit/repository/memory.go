package repository

import (
	"context"
	"sync"

	"ied-sentinel/internal/audit/domain"
)

// MemoryRepository keeps audit logs in process memory. Used when no database is configured and in tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries []*domain.AuditLog
}

// NewMemoryRepository returns an empty in-memory audit repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// Create appends a copy of a.
func (r *MemoryRepository) Create(_ context.Context, a *domain.AuditLog) error {
	cp := *a
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, &cp)
	return nil
}

// List returns up to limit entries for resource, newest first. limit <= 0 returns all.
func (r *MemoryRepository) List(_ context.Context, resource string, limit int) ([]*domain.AuditLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.AuditLog, 0)
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if resource != "" && e.Resource != resource {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
