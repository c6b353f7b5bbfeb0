// Package producer defines the interface for publishing bookkeeping records to a broker (e.g. Kafka).
package producer

import (
	"context"

	"ied-sentinel/internal/telemetry/domain"
)

// Producer publishes bookkeeping records. Callers use it best-effort: log and ignore errors.
type Producer interface {
	// Emit sends a single record. Implementations may block briefly; call from a task if needed.
	Emit(ctx context.Context, rec domain.Record) error
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}
