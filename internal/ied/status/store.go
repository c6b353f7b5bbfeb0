// Package status holds the device's status, its stNum/sqNum counters, the
// per-sender remote counters and the correction cycle bookkeeping behind a
// single mutex. Every read or write of that state goes through the Store.
package status

import (
	"sync"

	"ied-sentinel/internal/ied/domain"
)

// Store is the only shared mutable state of a device.
type Store struct {
	mu sync.Mutex

	status domain.Status
	stNum  uint32
	sqNum  uint32

	// remote is the last accepted stNum per sender goCbRef.
	remote map[string]uint32

	phase   domain.Phase
	pending *domain.PendingCorrection
	queued  *domain.QueuedObservation
}

// New returns a store in the IDLE phase with the given initial status and stNum.
func New(initial domain.Status, stNum uint32) *Store {
	return &Store{
		status: initial,
		stNum:  stNum,
		remote: make(map[string]uint32),
	}
}

// Update runs fn with exclusive access to the store. fn must not retain tx.
func (s *Store) Update(fn func(tx *Tx)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&Tx{s: s})
}

// Get returns a snapshot of the status and counters.
func (s *Store) Get() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// ApplyLocalFlip flips the status, increments stNum and resets sqNum.
func (s *Store) ApplyLocalFlip() domain.Snapshot {
	var out domain.Snapshot
	s.Update(func(tx *Tx) { out = tx.ApplyLocalFlip() })
	return out
}

// AdvanceSequence increments sqNum without touching the status and returns the new value.
func (s *Store) AdvanceSequence() uint32 {
	var out uint32
	s.Update(func(tx *Tx) { out = tx.AdvanceSequence() })
	return out
}

// Rollback reverts the flip recorded in p. See Tx.Rollback.
func (s *Store) Rollback(p domain.PendingCorrection) domain.Snapshot {
	var out domain.Snapshot
	s.Update(func(tx *Tx) { out = tx.Rollback(p) })
	return out
}

// Phase returns the current correction phase.
func (s *Store) Phase() domain.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// RemoteStNum returns the last accepted stNum for sender and whether one was recorded.
func (s *Store) RemoteStNum(sender string) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.remote[sender]
	return v, ok
}

func (s *Store) snapshot() domain.Snapshot {
	return domain.Snapshot{Status: s.status, StNum: s.stNum, SqNum: s.sqNum}
}

// Tx is the view of the store handed to Update callbacks. It is only valid inside the callback.
type Tx struct {
	s *Store
}

// Snapshot returns the current status and counters.
func (tx *Tx) Snapshot() domain.Snapshot { return tx.s.snapshot() }

// ApplyLocalFlip flips the status, increments stNum and resets sqNum to 0.
func (tx *Tx) ApplyLocalFlip() domain.Snapshot {
	s := tx.s
	s.status = s.status.Flip()
	s.stNum++
	s.sqNum = 0
	return s.snapshot()
}

// AdvanceSequence increments sqNum and returns it.
func (tx *Tx) AdvanceSequence() uint32 {
	tx.s.sqNum++
	return tx.s.sqNum
}

// Rollback restores the status to the complement of the current one, sets
// stNum to p.AppliedStNum+1 and resets sqNum. The sender's remote counter
// stays at the rejected stNum, so a re-sent copy of that frame is still a
// duplicate.
func (tx *Tx) Rollback(p domain.PendingCorrection) domain.Snapshot {
	s := tx.s
	s.status = s.status.Flip()
	s.stNum = p.AppliedStNum + 1
	s.sqNum = 0
	return s.snapshot()
}

// Accept records obs if its stNum is strictly greater than the last one
// accepted from the same sender. It returns the previous value and whether
// the observation was accepted.
func (tx *Tx) Accept(obs domain.Observation) (uint32, bool) {
	prev := tx.s.remote[obs.SenderID]
	if obs.StNum <= prev {
		return prev, false
	}
	tx.s.remote[obs.SenderID] = obs.StNum
	return prev, true
}

// Phase returns the current correction phase.
func (tx *Tx) Phase() domain.Phase { return tx.s.phase }

// SetPhase moves the correction state machine.
func (tx *Tx) SetPhase(p domain.Phase) { tx.s.phase = p }

// Pending returns the outstanding correction, or nil.
func (tx *Tx) Pending() *domain.PendingCorrection {
	if tx.s.pending == nil {
		return nil
	}
	p := *tx.s.pending
	return &p
}

// SetPending records the outstanding correction. Passing nil clears it.
func (tx *Tx) SetPending(p *domain.PendingCorrection) {
	if p == nil {
		tx.s.pending = nil
		return
	}
	cp := *p
	tx.s.pending = &cp
}

// Queue keeps q as the next observation to act on, replacing any earlier one.
func (tx *Tx) Queue(q domain.QueuedObservation) { tx.s.queued = &q }

// TakeQueued removes and returns the queued observation, or nil.
func (tx *Tx) TakeQueued() *domain.QueuedObservation {
	q := tx.s.queued
	tx.s.queued = nil
	return q
}
