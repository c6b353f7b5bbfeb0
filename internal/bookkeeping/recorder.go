// Package bookkeeping hands per-cycle records to the configured sinks without blocking the correction cycle.
package bookkeeping

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"ied-sentinel/internal/telemetry"
	"ied-sentinel/internal/telemetry/domain"
)

// Recorder fans each record out to its sinks on a supervised task group.
type Recorder struct {
	deviceID string
	sinks    []telemetry.RecordEmitter
	timeout  time.Duration
	log      logrus.FieldLogger
	now      func() time.Time

	mu     sync.Mutex
	closed bool
	group  conc.WaitGroup
}

// NewRecorder returns a recorder stamping records with deviceID. timeout bounds each sink emit.
func NewRecorder(deviceID string, timeout time.Duration, log logrus.FieldLogger, sinks ...telemetry.RecordEmitter) *Recorder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	var live []telemetry.RecordEmitter
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	return &Recorder{
		deviceID: deviceID,
		sinks:    live,
		timeout:  timeout,
		log:      log,
		now:      time.Now,
	}
}

// Emit fills in ID, DeviceID and CreatedAt when empty and forwards rec to every sink.
// One attempt per sink, no retry; failures are logged. Records emitted after Close are dropped.
func (r *Recorder) Emit(ctx context.Context, rec domain.Record) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.DeviceID == "" {
		rec.DeviceID = r.deviceID
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now().UTC()
	}
	r.log.WithFields(logrus.Fields{
		"record":  rec.ID,
		"kind":    rec.Kind,
		"verdict": rec.Verdict,
		"stNum":   rec.StNum,
		"status":  rec.Status,
	}).Info("bookkeeping: record")

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.log.WithField("record", rec.ID).Warn("bookkeeping: recorder closed, dropping record")
		return
	}
	for _, s := range r.sinks {
		telemetry.EmitAsync(ctx, &r.group, s, rec, r.timeout, r.log)
	}
}

// Close stops accepting records and waits for in-flight emits or ctx, whichever comes first.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.group.Wait()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
