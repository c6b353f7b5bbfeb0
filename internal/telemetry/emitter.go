// Package telemetry carries bookkeeping records to their sinks.
package telemetry

import (
	"context"

	"ied-sentinel/internal/telemetry/domain"
)

// RecordEmitter sends a bookkeeping record to one sink (collector, Kafka, OTel). Best-effort; callers log and ignore errors.
type RecordEmitter interface {
	Emit(ctx context.Context, rec domain.Record) error
}

// EmitterFunc adapts a function to RecordEmitter.
type EmitterFunc func(ctx context.Context, rec domain.Record) error

func (f EmitterFunc) Emit(ctx context.Context, rec domain.Record) error { return f(ctx, rec) }
