package domain

import (
	"time"

	ieddomain "ied-sentinel/internal/ied/domain"
)

// NotApplicable marks a latency that does not apply to a record. It is encoded as -1 on the wire.
const NotApplicable time.Duration = -1

// Kind distinguishes the record of a verdict from the record of the corrective publish that followed it.
type Kind string

const (
	KindStandard   Kind = "Standard"
	KindCorrective Kind = "Corrective"
)

// Record is the bookkeeping entry of one validate-and-correct cycle step. Immutable once emitted.
type Record struct {
	ID       string
	DeviceID string
	// SubjectID is the peer whose change was validated; empty for local changes.
	SubjectID string
	Kind      Kind
	Verdict   ieddomain.Verdict
	// Status and StNum describe the frame the record refers to.
	Status      ieddomain.Status
	StNum       uint32
	PublishedAt time.Time

	ValidationLatency         time.Duration
	ActionToValidationLatency time.Duration
	CorrectiveActionLatency   time.Duration
	ProjectedDowntime         time.Duration
	ActualDowntime            time.Duration

	CreatedAt time.Time
}

// NewRecord returns a record with every latency set to NotApplicable.
func NewRecord(kind Kind, verdict ieddomain.Verdict, status ieddomain.Status, stNum uint32, publishedAt time.Time) Record {
	return Record{
		Kind:                      kind,
		Verdict:                   verdict,
		Status:                    status,
		StNum:                     stNum,
		PublishedAt:               publishedAt,
		ValidationLatency:         NotApplicable,
		ActionToValidationLatency: NotApplicable,
		CorrectiveActionLatency:   NotApplicable,
		ProjectedDowntime:         NotApplicable,
		ActualDowntime:            NotApplicable,
	}
}
