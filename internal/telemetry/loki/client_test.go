package loki

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"ied-sentinel/internal/logging"
)

type pushRecorder struct {
	mu     sync.Mutex
	pushes []PushRequest
	status int
}

func (p *pushRecorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loki/api/v1/push" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req PushRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		p.mu.Lock()
		p.pushes = append(p.pushes, req)
		status := p.status
		p.mu.Unlock()
		if status == 0 {
			status = http.StatusNoContent
		}
		w.WriteHeader(status)
	}
}

func (p *pushRecorder) all() []PushRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PushRequest(nil), p.pushes...)
}

func TestNewClient_EmptyURL(t *testing.T) {
	if _, err := NewClient("", nil); err == nil {
		t.Fatal("expected error for empty URL")
	}
}

func TestPushRecordJSON_Labels(t *testing.T) {
	rec := &pushRecorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()
	c, err := NewClient(srv.URL+"/", nil)
	if err != nil {
		t.Fatal(err)
	}

	raw := []byte(`{"id":"IPP","status":"Invalid","messageType":"Corrective","subject":"X","message":{"t":"Mar 01, 2024 04:34:05.678 UTC","stNum":2,"allData":"FALSE"}}`)
	if err := c.PushRecordJSON(context.Background(), raw); err != nil {
		t.Fatalf("PushRecordJSON: %v", err)
	}
	pushes := rec.all()
	if len(pushes) != 1 || len(pushes[0].Streams) != 1 {
		t.Fatalf("pushes = %+v", pushes)
	}
	s := pushes[0].Streams[0]
	want := map[string]string{"job": Job, "device_id": "IPP", "verdict": "Invalid", "kind": "Corrective", "subject_id": "X"}
	for k, v := range want {
		if s.Stream[k] != v {
			t.Errorf("label %s = %q, want %q", k, s.Stream[k], v)
		}
	}
	ts := time.Date(2024, 3, 1, 4, 34, 5, 678_000_000, time.UTC).UnixNano()
	if len(s.Values) != 1 || s.Values[0][0] != strconv.FormatInt(ts, 10) || s.Values[0][1] != string(raw) {
		t.Errorf("values = %v", s.Values)
	}
}

func TestPushRecordJSON_RawLine(t *testing.T) {
	rec := &pushRecorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()
	c, _ := NewClient(srv.URL, nil)

	if err := c.PushRecordJSON(context.Background(), []byte("not json")); err != nil {
		t.Fatalf("PushRecordJSON: %v", err)
	}
	s := rec.all()[0].Streams[0]
	if len(s.Stream) != 1 || s.Stream["job"] != Job {
		t.Errorf("labels = %v, want job only", s.Stream)
	}
}

func TestPush_SanitizesLabels(t *testing.T) {
	rec := &pushRecorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()
	c, _ := NewClient(srv.URL, nil)

	if err := c.Push(context.Background(), time.Now(), "line", map[string]string{"device_id": "IPP/LLN0$GO", "empty": "  "}); err != nil {
		t.Fatal(err)
	}
	s := rec.all()[0].Streams[0]
	if s.Stream["device_id"] != "IPP_LLN0_GO" {
		t.Errorf("device_id = %q", s.Stream["device_id"])
	}
	if _, ok := s.Stream["empty"]; ok {
		t.Error("empty label should be dropped")
	}
}

func TestPush_Non2xx(t *testing.T) {
	rec := &pushRecorder{status: http.StatusBadRequest}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()
	c, _ := NewClient(srv.URL, nil)
	if err := c.Push(context.Background(), time.Now(), "line", nil); err == nil {
		t.Fatal("expected error on 400")
	}
}

// fakeReader returns the queued messages, then blocks until ctx is done.
type fakeReader struct {
	mu   sync.Mutex
	msgs []kafka.Message
	errs []error
}

func (f *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		f.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(f.msgs) > 0 {
		m := f.msgs[0]
		f.msgs = f.msgs[1:]
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func TestForward(t *testing.T) {
	rec := &pushRecorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()
	c, _ := NewClient(srv.URL, nil)

	r := &fakeReader{
		errs: []error{errors.New("broker gone")},
		msgs: []kafka.Message{
			{Value: []byte(`{"id":"IPP","status":"Valid","messageType":"Standard","message":{}}`)},
			{Value: []byte(`{"id":"RDSO","status":"Valid","messageType":"Standard","message":{}}`)},
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Forward(ctx, r, c, logging.Discard())
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for len(rec.all()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
	pushes := rec.all()
	if len(pushes) != 2 {
		t.Fatalf("pushes = %d, want 2", len(pushes))
	}
	if got := pushes[1].Streams[0].Stream["device_id"]; got != "RDSO" {
		t.Errorf("second push device_id = %q", got)
	}
}
