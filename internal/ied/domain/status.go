package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status is the breaker position carried in every frame. true is CLOSED, false is OPEN.
type Status bool

const (
	StatusClosed Status = true
	StatusOpen   Status = false
)

// ParseStatus accepts CLOSED/OPEN and the TRUE/FALSE allData spelling, case-insensitively.
func ParseStatus(s string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CLOSED", "TRUE":
		return StatusClosed, nil
	case "OPEN", "FALSE":
		return StatusOpen, nil
	}
	return StatusOpen, fmt.Errorf("unknown status %q", s)
}

// String returns CLOSED or OPEN.
func (s Status) String() string {
	if s {
		return "CLOSED"
	}
	return "OPEN"
}

// AllData returns the collector's spelling of the status ("TRUE"/"FALSE").
func (s Status) AllData() string {
	if s {
		return "TRUE"
	}
	return "FALSE"
}

// Flip returns the complementary status.
func (s Status) Flip() Status { return !s }

// Snapshot is a consistent copy of the local status and counters.
type Snapshot struct {
	Status Status
	StNum  uint32
	SqNum  uint32
}

// Observation is a peer status frame accepted from the transport.
type Observation struct {
	SenderID   string
	StNum      uint32
	Status     Status
	ObservedAt time.Time
	// Timestamp is the sender's own frame timestamp in Unix milliseconds.
	Timestamp uint64
}
