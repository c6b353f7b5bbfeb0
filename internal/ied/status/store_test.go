package status

import (
	"sync"
	"testing"

	"ied-sentinel/internal/ied/domain"
)

const sender = "X/LLN0$GO$gcbAnalogValues"

func TestApplyLocalFlip_ResetsSequence(t *testing.T) {
	s := New(domain.StatusClosed, 5)
	s.AdvanceSequence()
	s.AdvanceSequence()
	if got := s.Get().SqNum; got != 2 {
		t.Fatalf("sqNum = %d, want 2", got)
	}
	snap := s.ApplyLocalFlip()
	want := domain.Snapshot{Status: domain.StatusOpen, StNum: 6, SqNum: 0}
	if snap != want {
		t.Errorf("ApplyLocalFlip = %+v, want %+v", snap, want)
	}
	if got := s.Get(); got != want {
		t.Errorf("Get = %+v, want %+v", got, want)
	}
}

func TestAdvanceSequence_KeepsStatus(t *testing.T) {
	s := New(domain.StatusOpen, 3)
	for i := uint32(1); i <= 4; i++ {
		if got := s.AdvanceSequence(); got != i {
			t.Errorf("AdvanceSequence = %d, want %d", got, i)
		}
	}
	snap := s.Get()
	if snap.Status != domain.StatusOpen || snap.StNum != 3 {
		t.Errorf("snapshot = %+v, want OPEN stNum 3", snap)
	}
}

func TestRollback(t *testing.T) {
	s := New(domain.StatusClosed, 5)
	var pending domain.PendingCorrection
	s.Update(func(tx *Tx) {
		obs := domain.Observation{SenderID: sender, StNum: 100, Status: domain.StatusOpen}
		if _, ok := tx.Accept(obs); !ok {
			t.Fatal("Accept rejected first observation")
		}
		snap := tx.ApplyLocalFlip()
		pending = domain.PendingCorrection{
			SenderID:      sender,
			AppliedStNum:  snap.StNum,
			AppliedStatus: snap.Status,
			Observation:   obs,
		}
	})
	s.AdvanceSequence()

	snap := s.Rollback(pending)
	want := domain.Snapshot{Status: domain.StatusClosed, StNum: 7, SqNum: 0}
	if snap != want {
		t.Errorf("Rollback = %+v, want %+v", snap, want)
	}
	remote, ok := s.RemoteStNum(sender)
	if !ok || remote != 100 {
		t.Errorf("remote stNum = %d (%v), want rejected 100 kept", remote, ok)
	}
	var accepted bool
	s.Update(func(tx *Tx) { _, accepted = tx.Accept(domain.Observation{SenderID: sender, StNum: 100}) })
	if accepted {
		t.Error("re-sent rejected frame accepted after rollback")
	}
}

func TestRollback_KeepsNewerRemote(t *testing.T) {
	s := New(domain.StatusClosed, 5)
	obs := domain.Observation{SenderID: sender, StNum: 100}
	var pending domain.PendingCorrection
	s.Update(func(tx *Tx) {
		tx.Accept(obs)
		snap := tx.ApplyLocalFlip()
		pending = domain.PendingCorrection{SenderID: sender, AppliedStNum: snap.StNum, Observation: obs}
		if _, ok := tx.Accept(domain.Observation{SenderID: sender, StNum: 101}); !ok {
			t.Fatal("newer observation rejected")
		}
	})
	s.Rollback(pending)
	if got, _ := s.RemoteStNum(sender); got != 101 {
		t.Errorf("remote stNum = %d, want 101", got)
	}
}

func TestAccept_Guard(t *testing.T) {
	s := New(domain.StatusClosed, 0)
	cases := []struct {
		name   string
		sender string
		stNum  uint32
		want   bool
	}{
		{"first", sender, 3, true},
		{"duplicate", sender, 3, false},
		{"older", sender, 2, false},
		{"newer", sender, 4, true},
		{"other sender independent", "RDSO/LLN0$GO$gcbAnalogValues", 1, true},
		{"zero never accepted", "IPP/LLN0$GO$gcbAnalogValues", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var ok bool
			s.Update(func(tx *Tx) {
				_, ok = tx.Accept(domain.Observation{SenderID: tc.sender, StNum: tc.stNum})
			})
			if ok != tc.want {
				t.Errorf("Accept(%s, %d) = %v, want %v", tc.sender, tc.stNum, ok, tc.want)
			}
		})
	}
	if got, _ := s.RemoteStNum(sender); got != 4 {
		t.Errorf("remote stNum = %d, want 4", got)
	}
}

func TestPendingAndQueue(t *testing.T) {
	s := New(domain.StatusClosed, 0)
	s.Update(func(tx *Tx) {
		if tx.Pending() != nil {
			t.Error("Pending should start nil")
		}
		tx.SetPending(&domain.PendingCorrection{AppliedStNum: 1})
		p := tx.Pending()
		p.AppliedStNum = 99
		if tx.Pending().AppliedStNum != 1 {
			t.Error("Pending must return a copy")
		}
		tx.SetPending(nil)
		if tx.Pending() != nil {
			t.Error("SetPending(nil) should clear")
		}

		tx.Queue(domain.QueuedObservation{Observation: domain.Observation{StNum: 1}})
		tx.Queue(domain.QueuedObservation{Observation: domain.Observation{StNum: 2}})
		q := tx.TakeQueued()
		if q == nil || q.Observation.StNum != 2 {
			t.Errorf("TakeQueued = %+v, want latest (stNum 2)", q)
		}
		if tx.TakeQueued() != nil {
			t.Error("TakeQueued should empty the queue")
		}
		tx.SetPhase(domain.PhaseValidating)
	})
	if s.Phase() != domain.PhaseValidating {
		t.Errorf("Phase = %v, want VALIDATING", s.Phase())
	}
}

func TestConcurrentMutations_Linearized(t *testing.T) {
	s := New(domain.StatusClosed, 0)
	const flips, advances = 50, 200
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < flips; i++ {
			s.ApplyLocalFlip()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < advances; i++ {
			s.AdvanceSequence()
		}
	}()
	wg.Wait()

	snap := s.Get()
	if snap.StNum != flips {
		t.Errorf("stNum = %d, want %d", snap.StNum, flips)
	}
	if snap.Status != domain.StatusClosed {
		t.Errorf("status = %v, want CLOSED after an even number of flips", snap.Status)
	}
	if snap.SqNum > advances {
		t.Errorf("sqNum = %d exceeds advances", snap.SqNum)
	}
}
