package telemetry

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"ied-sentinel/internal/telemetry/domain"
)

// EmitTimeout is the default bound for a single async emit.
const EmitTimeout = 5 * time.Second

// EmitAsync runs Emit on group so the caller is not blocked. One attempt, no retry; errors are logged.
//
// emitter may be nil; EmitAsync then returns without starting a task.
// The task uses a context detached from ctx and bounded by timeout (EmitTimeout when <= 0),
// so cancellation of the caller does not abort an in-flight emit.
func EmitAsync(ctx context.Context, group *conc.WaitGroup, emitter RecordEmitter, rec domain.Record, timeout time.Duration, log logrus.FieldLogger) {
	if emitter == nil || group == nil {
		return
	}
	if timeout <= 0 {
		timeout = EmitTimeout
	}
	base := context.WithoutCancel(ctx)
	group.Go(func() {
		emitCtx, cancel := context.WithTimeout(base, timeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, rec); err != nil && log != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"record": rec.ID,
				"kind":   rec.Kind,
			}).Warn("telemetry: async emit failed")
		}
	})
}
