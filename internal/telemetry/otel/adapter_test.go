package otel

import (
	"context"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	ieddomain "ied-sentinel/internal/ied/domain"
	"ied-sentinel/internal/telemetry/domain"
)

// recordCapture stores the last Record passed to Emit for assertion.
type recordCapture struct {
	rec otellog.Record
}

func (r *recordCapture) Emit(_ context.Context, rec otellog.Record) {
	r.rec = rec
}

func correctiveRecord() domain.Record {
	return domain.Record{
		ID:                        "rec-1",
		DeviceID:                  "IPP",
		SubjectID:                 "X",
		Kind:                      domain.KindCorrective,
		Verdict:                   ieddomain.VerdictInvalid,
		Status:                    ieddomain.StatusClosed,
		StNum:                     7,
		ValidationLatency:         domain.NotApplicable,
		ActionToValidationLatency: domain.NotApplicable,
		CorrectiveActionLatency:   2 * time.Millisecond,
		ProjectedDowntime:         domain.NotApplicable,
		ActualDowntime:            12 * time.Millisecond,
		CreatedAt:                 time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestNewRecordEmitter_NilProvider_ReturnsNoop(t *testing.T) {
	em := NewRecordEmitter(nil)
	if em == nil {
		t.Fatal("NewRecordEmitter(nil) returned nil")
	}
	if err := em.Emit(context.Background(), correctiveRecord()); err != nil {
		t.Errorf("noop Emit: %v", err)
	}
}

func TestNewRecordEmitter_Provider(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()
	if err := NewRecordEmitter(provider).Emit(context.Background(), correctiveRecord()); err != nil {
		t.Errorf("Emit: %v", err)
	}
}

func TestEmit_AttributeMapping(t *testing.T) {
	cap := &recordCapture{}
	rec := correctiveRecord()
	if err := NewRecordEmitterWithLogger(cap).Emit(context.Background(), rec); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	got := cap.rec
	if !got.Timestamp().Equal(rec.CreatedAt) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp(), rec.CreatedAt)
	}
	if body := got.Body().AsString(); body != "Corrective Invalid" {
		t.Errorf("body = %q, want %q", body, "Corrective Invalid")
	}

	strs := map[string]string{}
	nums := map[string]float64{}
	got.WalkAttributes(func(kv otellog.KeyValue) bool {
		switch kv.Value.Kind() {
		case otellog.KindString:
			strs[kv.Key] = kv.Value.AsString()
		case otellog.KindFloat64:
			nums[kv.Key] = kv.Value.AsFloat64()
		case otellog.KindInt64:
			nums[kv.Key] = float64(kv.Value.AsInt64())
		}
		return true
	})
	wantStr := map[string]string{
		"record_id": "rec-1", "device_id": "IPP", "subject_id": "X",
		"kind": "Corrective", "verdict": "invalid", "status": "TRUE",
	}
	for k, v := range wantStr {
		if strs[k] != v {
			t.Errorf("attr %q = %q, want %q", k, strs[k], v)
		}
	}
	wantNum := map[string]float64{
		"st_num": 7, "validation_ms": -1, "corrective_action_ms": 2, "actual_downtime_ms": 12,
	}
	for k, v := range wantNum {
		if nums[k] != v {
			t.Errorf("attr %q = %v, want %v", k, nums[k], v)
		}
	}
}

func TestEmit_ZeroCreatedAt_SetsCurrentTime(t *testing.T) {
	cap := &recordCapture{}
	rec := correctiveRecord()
	rec.CreatedAt = time.Time{}
	rec.SubjectID = ""
	before := time.Now().UTC()
	if err := NewRecordEmitterWithLogger(cap).Emit(context.Background(), rec); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	after := time.Now().UTC()
	ts := cap.rec.Timestamp()
	if ts.Before(before) || ts.After(after) {
		t.Errorf("timestamp = %v, should be between %v and %v", ts, before, after)
	}
	cap.rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		if kv.Key == "subject_id" {
			t.Error("subject_id should not be set for empty subject")
		}
		return true
	})
}

func TestLatencyEmitter(t *testing.T) {
	ctx := context.Background()
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	defer func() { _ = mp.Shutdown(ctx) }()

	em, err := NewLatencyEmitter(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewLatencyEmitter: %v", err)
	}
	if err := em.Emit(ctx, correctiveRecord()); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	seen := map[string]uint64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					seen[m.Name] += dp.Count
				}
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					seen[m.Name] += uint64(dp.Value)
				}
			}
		}
	}
	if seen["ied.bookkeeping.records"] != 1 {
		t.Errorf("records counter = %d, want 1", seen["ied.bookkeeping.records"])
	}
	if seen["ied.correction.corrective_action"] != 1 || seen["ied.correction.actual_downtime"] != 1 {
		t.Errorf("applicable histograms not recorded: %v", seen)
	}
	if seen["ied.validation.latency"] != 0 {
		t.Errorf("not-applicable validation latency recorded: %v", seen)
	}
}
