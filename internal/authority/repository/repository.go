// Package repository persists the authority's allowed IDs and bookkeeping entries.
package repository

import (
	"context"

	"ied-sentinel/internal/authority/domain"
)

// Repository defines persistence for the authority.
type Repository interface {
	// ListIDs returns the allowed device IDs in the order they were set.
	ListIDs(ctx context.Context) ([]string, error)
	// ReplaceIDs swaps the allowed list for ids.
	ReplaceIDs(ctx context.Context, ids []string) error
	// SaveEntry stores e. e.ID and e.CreatedAt must be set.
	SaveEntry(ctx context.Context, e *domain.Entry) error
	// Latest returns the newest entry per device.
	Latest(ctx context.Context) (map[string]domain.Entry, error)
	// History returns the newest limit entries of deviceID, oldest first. limit <= 0 returns all.
	History(ctx context.Context, deviceID string, limit int) ([]domain.Entry, error)
	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}
