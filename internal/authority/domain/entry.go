// Package domain holds the authority's view of the devices.
package domain

import (
	"time"

	telemetrydomain "ied-sentinel/internal/telemetry/domain"
)

// Entry is a bookkeeping record as accepted by the authority.
type Entry struct {
	telemetrydomain.Record
	// BookkeepingLatency is the sender's reported duration of its previous post.
	BookkeepingLatency time.Duration
}

// State is the allowed ID list plus the latest entry of every device that has reported.
type State struct {
	IDs     []string
	Devices map[string]Entry
}
