package domain

import "time"

// Phase is the state of the correction cycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseFlipApplied
	PhaseValidating
	PhaseCorrecting
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseFlipApplied:
		return "FLIP_APPLIED"
	case PhaseValidating:
		return "VALIDATING"
	case PhaseCorrecting:
		return "CORRECTING"
	}
	return "UNKNOWN"
}

// PendingCorrection is created when an observed change is applied locally and
// consumed once the validation verdict has been handled.
type PendingCorrection struct {
	// SenderID is the goCbRef of the peer whose frame triggered the flip.
	SenderID string
	// AppliedStNum is the local stNum published with the flip.
	AppliedStNum uint32
	// AppliedStatus is the local status published with the flip.
	AppliedStatus Status
	Observation   Observation
	PublishedAt   time.Time
}

// QueuedObservation is an accepted observation waiting for the current cycle to finish.
type QueuedObservation struct {
	Observation Observation
}

// Verdict is the outcome of a validation cycle.
type Verdict string

const (
	VerdictValid         Verdict = "valid"
	VerdictInvalid       Verdict = "invalid"
	VerdictIndeterminate Verdict = "indeterminate"
)

// CollectorStatus is the collector's spelling: Valid, Invalid, Indeterminate.
func (v Verdict) CollectorStatus() string {
	switch v {
	case VerdictValid:
		return "Valid"
	case VerdictInvalid:
		return "Invalid"
	}
	return "Indeterminate"
}
