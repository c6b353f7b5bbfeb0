// Package validation asks the validation authority whether a subject's status change is legitimate.
package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

// ErrUnreachable is returned when every attempt failed. It wraps the last attempt's error.
var ErrUnreachable = errors.New("validation: authority unreachable")

const (
	DefaultAttempts = 3
	DefaultTimeout  = 5 * time.Second
	DefaultBackoff  = 2 * time.Second
)

// Request is the body posted to the authority.
type Request struct {
	ID string `json:"id"`
}

// Response is the authority's verdict.
type Response struct {
	IsValid bool `json:"isValid"`
}

// Result is the verdict plus the timing the bookkeeping needs.
type Result struct {
	IsValid  bool
	Attempts int
	Started  time.Time
	Finished time.Time
}

// Latency is the wall-clock duration of the whole Validate call, retries included.
func (r Result) Latency() time.Duration { return r.Finished.Sub(r.Started) }

// DeviceIDHeader names the requesting device.
const DeviceIDHeader = "X-Device-ID"

// Options configures a Client. Zero values take the defaults.
type Options struct {
	Attempts int
	// Timeout bounds each attempt.
	Timeout time.Duration
	// Backoff is the base of the linear schedule: the n-th failure waits Backoff*n,
	// the last one included.
	Backoff    time.Duration
	HTTPClient *http.Client
	Log        logrus.FieldLogger
	// DeviceID is sent in DeviceIDHeader so the authority can attribute the request.
	DeviceID string
}

// Client calls POST {url} with {"id": subject}.
type Client struct {
	url      string
	deviceID string
	attempts int
	timeout  time.Duration
	base     time.Duration
	http     *http.Client
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewClient returns a client for the authority endpoint url.
func NewClient(url string, opts Options) *Client {
	c := &Client{
		url:      url,
		deviceID: opts.DeviceID,
		attempts: opts.Attempts,
		timeout:  opts.Timeout,
		base:     opts.Backoff,
		http:     opts.HTTPClient,
		log:      opts.Log,
		now:      time.Now,
	}
	if c.attempts <= 0 {
		c.attempts = DefaultAttempts
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.base <= 0 {
		c.base = DefaultBackoff
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	return c
}

// Validate blocks until the authority answers or all attempts are spent.
// On exhaustion the error wraps ErrUnreachable; Result still carries timing and attempt count.
func (c *Client) Validate(ctx context.Context, subjectID string) (Result, error) {
	res := Result{Started: c.now()}
	op := func() (bool, error) {
		res.Attempts++
		return c.attempt(ctx, subjectID)
	}
	notify := func(err error, wait time.Duration) {
		c.log.WithFields(logrus.Fields{
			"subject": subjectID,
			"attempt": res.Attempts,
			"wait":    wait,
		}).WithError(err).Warn("validation: attempt failed, retrying")
	}
	valid, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(&linearBackOff{base: c.base}),
		backoff.WithMaxTries(uint(c.attempts)),
		backoff.WithNotify(notify),
	)
	if err != nil && res.Attempts >= c.attempts {
		c.settle(ctx, c.base*time.Duration(res.Attempts))
	}
	res.Finished = c.now()
	if err != nil {
		return res, fmt.Errorf("%w after %d attempts: %w", ErrUnreachable, res.Attempts, err)
	}
	res.IsValid = valid
	return res, nil
}

// settle waits out the backoff that follows the last failed attempt, so an
// exhausted call spans the whole schedule before the verdict is indeterminate.
func (c *Client) settle(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (c *Client) attempt(ctx context.Context, subjectID string) (bool, error) {
	body, err := json.Marshal(Request{ID: subjectID})
	if err != nil {
		return false, backoff.Permanent(err)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return false, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.deviceID != "" {
		req.Header.Set(DeviceIDHeader, c.deviceID)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, fmt.Errorf("validation: authority returned %s", resp.Status)
	}
	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("validation: decode response: %w", err)
	}
	return out.IsValid, nil
}

// linearBackOff waits base, 2*base, 3*base, ...
type linearBackOff struct {
	base time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return b.base * time.Duration(b.n)
}

func (b *linearBackOff) Reset() { b.n = 0 }
