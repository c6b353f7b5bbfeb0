package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"ied-sentinel/internal/telemetry"
	"ied-sentinel/internal/telemetry/domain"
)

const scope = "ied-sentinel.bookkeeping"

// logEmitter is the part of otellog.Logger the adapter needs.
type logEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewRecordEmitter returns a RecordEmitter that sends records as OTel log records via provider.
// If provider is nil, returns a no-op emitter.
func NewRecordEmitter(provider *sdklog.LoggerProvider) telemetry.RecordEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return NewRecordEmitterWithLogger(provider.Logger(scope))
}

// NewRecordEmitterWithLogger wraps any logger with an Emit(ctx, Record) method.
func NewRecordEmitterWithLogger(l logEmitter) telemetry.RecordEmitter {
	return &logRecordEmitter{logger: l}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, domain.Record) error { return nil }

type logRecordEmitter struct {
	logger logEmitter
}

// Emit converts the bookkeeping record to an OTel log record. Latencies are attributes in milliseconds, -1 when not applicable.
func (e *logRecordEmitter) Emit(ctx context.Context, r domain.Record) error {
	rec := otellog.Record{}
	ts := r.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetBody(otellog.StringValue(string(r.Kind) + " " + r.Verdict.CollectorStatus()))
	if r.ID != "" {
		rec.AddAttributes(otellog.String("record_id", r.ID))
	}
	if r.DeviceID != "" {
		rec.AddAttributes(otellog.String("device_id", r.DeviceID))
	}
	if r.SubjectID != "" {
		rec.AddAttributes(otellog.String("subject_id", r.SubjectID))
	}
	rec.AddAttributes(
		otellog.String("kind", string(r.Kind)),
		otellog.String("verdict", string(r.Verdict)),
		otellog.String("status", r.Status.AllData()),
		otellog.Int64("st_num", int64(r.StNum)),
		otellog.Float64("validation_ms", domain.Millis(r.ValidationLatency)),
		otellog.Float64("action_to_validation_ms", domain.Millis(r.ActionToValidationLatency)),
		otellog.Float64("corrective_action_ms", domain.Millis(r.CorrectiveActionLatency)),
		otellog.Float64("projected_downtime_ms", domain.Millis(r.ProjectedDowntime)),
		otellog.Float64("actual_downtime_ms", domain.Millis(r.ActualDowntime)),
	)
	e.logger.Emit(ctx, rec)
	return nil
}

// LatencyEmitter records cycle latencies as histograms and counts records by kind and verdict.
type LatencyEmitter struct {
	records            metric.Int64Counter
	validation         metric.Float64Histogram
	actionToValidation metric.Float64Histogram
	corrective         metric.Float64Histogram
	projectedDowntime  metric.Float64Histogram
	actualDowntime     metric.Float64Histogram
}

// NewLatencyEmitter creates the instruments on meter.
func NewLatencyEmitter(meter metric.Meter) (*LatencyEmitter, error) {
	var (
		e   LatencyEmitter
		err error
	)
	if e.records, err = meter.Int64Counter("ied.bookkeeping.records",
		metric.WithDescription("Bookkeeping records emitted")); err != nil {
		return nil, err
	}
	hist := func(name, desc string) (metric.Float64Histogram, error) {
		return meter.Float64Histogram(name, metric.WithUnit("ms"), metric.WithDescription(desc))
	}
	if e.validation, err = hist("ied.validation.latency", "Duration of the validation call including retries"); err != nil {
		return nil, err
	}
	if e.actionToValidation, err = hist("ied.correction.action_to_validation", "From the applied flip to the validation verdict"); err != nil {
		return nil, err
	}
	if e.corrective, err = hist("ied.correction.corrective_action", "From the verdict to the corrective publish"); err != nil {
		return nil, err
	}
	if e.projectedDowntime, err = hist("ied.correction.projected_downtime", "Downtime expected from the validation latency"); err != nil {
		return nil, err
	}
	if e.actualDowntime, err = hist("ied.correction.actual_downtime", "From the applied flip to the corrective publish"); err != nil {
		return nil, err
	}
	return &e, nil
}

// Emit records the applicable latencies of r. Not-applicable values are skipped.
func (e *LatencyEmitter) Emit(ctx context.Context, r domain.Record) error {
	attrs := metric.WithAttributes(
		attribute.String("device", r.DeviceID),
		attribute.String("kind", string(r.Kind)),
		attribute.String("verdict", string(r.Verdict)),
	)
	e.records.Add(ctx, 1, attrs)
	observe := func(h metric.Float64Histogram, d time.Duration) {
		if d >= 0 {
			h.Record(ctx, domain.Millis(d), attrs)
		}
	}
	observe(e.validation, r.ValidationLatency)
	observe(e.actionToValidation, r.ActionToValidationLatency)
	observe(e.corrective, r.CorrectiveActionLatency)
	observe(e.projectedDowntime, r.ProjectedDowntime)
	observe(e.actualDowntime, r.ActualDowntime)
	return nil
}
