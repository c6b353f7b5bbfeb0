// Package node assembles one device from its settings: store, controller,
// validation client, bookkeeping recorder and runner.
package node

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"ied-sentinel/internal/bookkeeping"
	"ied-sentinel/internal/ied/correction"
	"ied-sentinel/internal/ied/device"
	"ied-sentinel/internal/ied/domain"
	"ied-sentinel/internal/ied/status"
	"ied-sentinel/internal/ied/transport"
	"ied-sentinel/internal/telemetry"
	"ied-sentinel/internal/validation"
)

// drainTimeout bounds how long Run waits for pending bookkeeping after the device stops.
const drainTimeout = 10 * time.Second

// Settings is everything one device needs.
type Settings struct {
	Role          domain.Role
	InitialStatus domain.Status
	InitialStNum  uint32
	// SubscribeRefs defaults to the role's subscriptions when empty.
	SubscribeRefs     []string
	PublishInterval   time.Duration
	TimeAllowedToLive time.Duration
	ToggleEvery       int
	MaxToggles        int

	// ValidationURL is required for roles that validate.
	ValidationURL      string
	ValidationAttempts int
	ValidationTimeout  time.Duration
	ValidationBackoff  time.Duration

	BookkeepingTimeout time.Duration
}

// Node is one running device.
type Node struct {
	Store    *status.Store
	recorder *bookkeeping.Recorder
	runner   *device.Runner
	log      logrus.FieldLogger
}

// New wires a device on tr. sinks receive the bookkeeping records; httpClient
// is used for validation calls and may be nil.
func New(s Settings, tr transport.Transport, sinks []telemetry.RecordEmitter, httpClient *http.Client, log logrus.FieldLogger) (*Node, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	caps := s.Role.Capabilities()
	if caps == (domain.Capabilities{}) {
		return nil, errors.New("node: unknown role")
	}
	refs := s.SubscribeRefs
	if len(refs) == 0 {
		refs = s.Role.DefaultSubscriptions()
	}

	store := status.New(s.InitialStatus, s.InitialStNum)
	recorder := bookkeeping.NewRecorder(string(s.Role), s.BookkeepingTimeout, log, sinks...)
	opts := correction.Options{
		Role:              s.Role,
		Recorder:          recorder,
		PublishInterval:   s.PublishInterval,
		TimeAllowedToLive: s.TimeAllowedToLive,
		Log:               log,
	}
	if caps.Validate {
		if s.ValidationURL == "" {
			return nil, errors.New("node: validation URL required for a validating role")
		}
		opts.Validator = validation.NewClient(s.ValidationURL, validation.Options{
			Attempts:   s.ValidationAttempts,
			Timeout:    s.ValidationTimeout,
			Backoff:    s.ValidationBackoff,
			HTTPClient: httpClient,
			Log:        log,
			DeviceID:   string(s.Role),
		})
	}
	ctrl := correction.New(store, tr, opts)
	runner, err := device.New(device.Config{
		Role:            s.Role,
		Capabilities:    caps,
		SubscribeRefs:   refs,
		PublishInterval: s.PublishInterval,
		ToggleEvery:     s.ToggleEvery,
		MaxToggles:      s.MaxToggles,
	}, ctrl, tr, log)
	if err != nil {
		return nil, err
	}
	return &Node{Store: store, recorder: recorder, runner: runner, log: log.WithField("device", string(s.Role))}, nil
}

// Ready is closed once the device has published its first frame.
func (n *Node) Ready() <-chan struct{} { return n.runner.Ready() }

// Run blocks until ctx is done (one-shot roles return after their publish),
// waits for in-flight validations and then drains the recorder.
func (n *Node) Run(ctx context.Context) error {
	err := n.runner.Run(ctx)
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()
	if cerr := n.recorder.Close(drainCtx); cerr != nil {
		n.log.WithError(cerr).Warn("node: bookkeeping did not drain")
	}
	snap := n.Store.Get()
	n.log.WithFields(logrus.Fields{"stNum": snap.StNum, "status": snap.Status}).Info("node: stopped")
	return err
}
