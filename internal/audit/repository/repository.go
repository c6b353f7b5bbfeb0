package repository

import (
	"context"

	"ied-sentinel/internal/audit/domain"
)

// Repository defines persistence for audit logs.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	// List returns the newest entries first. An empty resource matches every entry.
	List(ctx context.Context, resource string, limit int) ([]*domain.AuditLog, error)
}
