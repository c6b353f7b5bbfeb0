package bookkeeping

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"ied-sentinel/internal/telemetry/domain"
)

// Collector posts records to the bookkeeping collector as JSON.
type Collector struct {
	url  string
	http *http.Client
	// last is the duration of the previous post in nanoseconds, -1 before the first one.
	last atomic.Int64
}

// NewCollector returns a sink for url. client may be nil.
func NewCollector(url string, client *http.Client) *Collector {
	if client == nil {
		client = &http.Client{}
	}
	c := &Collector{url: url, http: client}
	c.last.Store(int64(domain.NotApplicable))
	return c
}

// Emit posts rec. bookKeepingTime carries the latency of the previous post.
func (c *Collector) Emit(ctx context.Context, rec domain.Record) error {
	payload, err := json.Marshal(domain.ToRequest(rec, time.Duration(c.last.Load())))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bookkeeping: post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	c.last.Store(int64(time.Since(start)))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("bookkeeping: collector returned %s", resp.Status)
	}
	return nil
}

// LastLatency is the duration of the most recent post, or domain.NotApplicable.
func (c *Collector) LastLatency() time.Duration {
	return time.Duration(c.last.Load())
}
