// Package correction runs the validate-and-correct cycle of a device.
//
// An accepted peer observation flips the local status and publishes it at once.
// On the next tick the change is sent to the validation authority on a
// background task. An invalid verdict rolls the status back and publishes the
// corrected state; a valid one keeps it. Exhausted retries leave the status
// as it is and record an indeterminate outcome. At most one cycle is active;
// the latest observation accepted in the meantime starts the next one.
package correction

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"ied-sentinel/internal/ied/domain"
	"ied-sentinel/internal/ied/status"
	"ied-sentinel/internal/ied/transport"
	telemetrydomain "ied-sentinel/internal/telemetry/domain"
	"ied-sentinel/internal/validation"
)

// publishTimeout bounds a single publish so a stuck transport cannot hold the store lock indefinitely.
const publishTimeout = time.Second

// Validator asks the authority whether subjectID's change is legitimate.
type Validator interface {
	Validate(ctx context.Context, subjectID string) (validation.Result, error)
}

// Recorder receives bookkeeping records. Emit must not block.
type Recorder interface {
	Emit(ctx context.Context, rec telemetrydomain.Record)
}

// Options configures a Controller.
type Options struct {
	Role domain.Role
	// Validator may be nil; observations are then only guarded and logged.
	Validator         Validator
	Recorder          Recorder
	PublishInterval   time.Duration
	TimeAllowedToLive time.Duration
	ConfRev           uint32
	Log               logrus.FieldLogger
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Controller owns the correction state machine. All state lives in the store.
type Controller struct {
	store     *status.Store
	pub       transport.Publisher
	validator Validator
	recorder  Recorder
	role      domain.Role
	interval  time.Duration
	tal       time.Duration
	confRev   uint32
	log       logrus.FieldLogger
	now       func() time.Time

	tasks conc.WaitGroup
}

// New returns a controller publishing through pub.
func New(store *status.Store, pub transport.Publisher, opts Options) *Controller {
	c := &Controller{
		store:     store,
		pub:       pub,
		validator: opts.Validator,
		recorder:  opts.Recorder,
		role:      opts.Role,
		interval:  opts.PublishInterval,
		tal:       opts.TimeAllowedToLive,
		confRev:   opts.ConfRev,
		log:       opts.Log,
		now:       opts.Now,
	}
	if c.recorder == nil {
		c.recorder = discardRecorder{}
	}
	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.confRev == 0 {
		c.confRev = 1
	}
	c.log = c.log.WithField("device", string(c.role))
	return c
}

type discardRecorder struct{}

func (discardRecorder) Emit(context.Context, telemetrydomain.Record) {}

// OnPeerStatus handles a frame from a peer. Observations whose stNum is not
// strictly greater than the last one from the same sender are discarded.
func (c *Controller) OnPeerStatus(ctx context.Context, obs domain.Observation) {
	c.store.Update(func(tx *status.Tx) {
		prev, ok := tx.Accept(obs)
		fields := logrus.Fields{"sender": obs.SenderID, "stNum": obs.StNum, "status": obs.Status}
		if !ok {
			c.log.WithFields(fields).WithField("last", prev).Debug("correction: discarding stale observation")
			return
		}
		if c.validator == nil {
			c.log.WithFields(fields).Info("correction: peer status changed")
			return
		}
		if phase := tx.Phase(); phase != domain.PhaseIdle {
			tx.Queue(domain.QueuedObservation{Observation: obs})
			c.log.WithFields(fields).WithField("phase", phase).Info("correction: cycle active, queued observation")
			return
		}
		c.startCycle(ctx, tx, obs)
	})
}

// startCycle flips, publishes and records the pending correction. Caller holds the store lock.
func (c *Controller) startCycle(ctx context.Context, tx *status.Tx, obs domain.Observation) {
	snap := tx.ApplyLocalFlip()
	at := c.now()
	c.publish(ctx, snap, at)
	tx.SetPending(&domain.PendingCorrection{
		SenderID:      obs.SenderID,
		AppliedStNum:  snap.StNum,
		AppliedStatus: snap.Status,
		Observation:   obs,
		PublishedAt:   at,
	})
	tx.SetPhase(domain.PhaseFlipApplied)
	c.log.WithFields(logrus.Fields{
		"sender": obs.SenderID,
		"stNum":  snap.StNum,
		"status": snap.Status,
	}).Info("correction: applied observed change")
}

// PublishCurrent publishes the current snapshot without touching the counters.
func (c *Controller) PublishCurrent(ctx context.Context) domain.Snapshot {
	var snap domain.Snapshot
	c.store.Update(func(tx *status.Tx) {
		snap = tx.Snapshot()
		c.publish(ctx, snap, c.now())
	})
	return snap
}

// Tick is one beat of the publish loop. It publishes a heartbeat, moves a
// freshly applied change into validation, or starts the queued cycle.
func (c *Controller) Tick(ctx context.Context) {
	var dispatch *domain.PendingCorrection
	c.store.Update(func(tx *status.Tx) {
		switch tx.Phase() {
		case domain.PhaseIdle:
			if q := tx.TakeQueued(); q != nil {
				c.startCycle(ctx, tx, q.Observation)
				return
			}
		case domain.PhaseFlipApplied:
			dispatch = tx.Pending()
			tx.SetPhase(domain.PhaseValidating)
		}
		tx.AdvanceSequence()
		c.publish(ctx, tx.Snapshot(), c.now())
	})
	if dispatch != nil {
		p := *dispatch
		base := context.WithoutCancel(ctx)
		c.tasks.Go(func() { c.validate(base, p) })
	}
}

// ToggleLocal flips the local status on the device's own initiative and records it as valid.
// It does nothing while a correction cycle is active.
func (c *Controller) ToggleLocal(ctx context.Context) (domain.Snapshot, bool) {
	var (
		snap    domain.Snapshot
		at      time.Time
		toggled bool
	)
	c.store.Update(func(tx *status.Tx) {
		if tx.Phase() != domain.PhaseIdle {
			return
		}
		snap = tx.ApplyLocalFlip()
		at = c.now()
		c.publish(ctx, snap, at)
		toggled = true
	})
	if !toggled {
		return c.store.Get(), false
	}
	c.log.WithFields(logrus.Fields{"stNum": snap.StNum, "status": snap.Status}).Info("correction: toggled local status")
	c.recorder.Emit(ctx, telemetrydomain.NewRecord(telemetrydomain.KindStandard, domain.VerdictValid, snap.Status, snap.StNum, at))
	return snap, true
}

// Wait blocks until every dispatched validation has been handled.
func (c *Controller) Wait() {
	c.tasks.Wait()
}

func (c *Controller) validate(ctx context.Context, p domain.PendingCorrection) {
	subject := domain.SubjectID(p.SenderID)
	log := c.log.WithFields(logrus.Fields{"subject": subject, "stNum": p.AppliedStNum})

	res, err := c.validator.Validate(ctx, subject)
	end := res.Finished
	if end.IsZero() {
		end = c.now()
	}
	validationLatency := telemetrydomain.NotApplicable
	if !res.Started.IsZero() {
		validationLatency = res.Latency()
	}
	actionToValidation := end.Sub(p.PublishedAt)

	standard := telemetrydomain.NewRecord(telemetrydomain.KindStandard, domain.VerdictIndeterminate, p.AppliedStatus, p.AppliedStNum, p.PublishedAt)
	standard.SubjectID = subject
	standard.ValidationLatency = validationLatency
	standard.ActionToValidationLatency = actionToValidation

	if err != nil || res.IsValid {
		if err != nil {
			log.WithError(err).Warn("correction: validation unreachable, keeping applied status")
		} else {
			standard.Verdict = domain.VerdictValid
			log.Info("correction: change validated")
		}
		c.store.Update(func(tx *status.Tx) {
			tx.SetPending(nil)
			tx.SetPhase(domain.PhaseIdle)
		})
		c.recorder.Emit(ctx, standard)
		return
	}

	var (
		corrected   domain.Snapshot
		correctedAt time.Time
	)
	c.store.Update(func(tx *status.Tx) {
		tx.SetPhase(domain.PhaseCorrecting)
		corrected = tx.Rollback(p)
		correctedAt = c.now()
		c.publish(ctx, corrected, correctedAt)
		tx.SetPending(nil)
		tx.SetPhase(domain.PhaseIdle)
	})
	log.WithFields(logrus.Fields{"correctedStNum": corrected.StNum, "status": corrected.Status}).Warn("correction: change invalid, rolled back")

	projected := actionToValidation + c.interval
	standard.Verdict = domain.VerdictInvalid
	standard.ProjectedDowntime = projected

	corrective := telemetrydomain.NewRecord(telemetrydomain.KindCorrective, domain.VerdictInvalid, corrected.Status, corrected.StNum, correctedAt)
	corrective.SubjectID = subject
	corrective.CorrectiveActionLatency = correctedAt.Sub(end)
	corrective.ProjectedDowntime = projected
	corrective.ActualDowntime = correctedAt.Sub(p.PublishedAt)

	c.recorder.Emit(ctx, standard)
	c.recorder.Emit(ctx, corrective)
}

// publish sends snap. Failures are logged; the next tick supersedes a lost frame.
func (c *Controller) publish(ctx context.Context, snap domain.Snapshot, at time.Time) {
	f := transport.Frame{
		GoCBRef:           c.role.GoCBRef(),
		GoID:              c.role.GoID(),
		DatSet:            c.role.DataSetRef(),
		StNum:             snap.StNum,
		SqNum:             snap.SqNum,
		Timestamp:         transport.UnixMillis(at),
		TimeAllowedToLive: uint32(c.tal / time.Millisecond),
		ConfRev:           c.confRev,
		Status:            bool(snap.Status),
	}
	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := c.pub.Publish(pctx, f); err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{"stNum": f.StNum, "sqNum": f.SqNum}).Warn("correction: publish failed")
		return
	}
	c.log.WithFields(logrus.Fields{"stNum": f.StNum, "sqNum": f.SqNum, "status": snap.Status}).Debug("correction: published")
}
