// Package device runs one simulated IED: the publish loop, the subscriber and,
// depending on the role's capabilities, local toggling or a single forged publish.
package device

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"ied-sentinel/internal/ied/correction"
	"ied-sentinel/internal/ied/domain"
	"ied-sentinel/internal/ied/transport"
)

// Config is the per-device behaviour.
type Config struct {
	Role         domain.Role
	Capabilities domain.Capabilities
	// SubscribeRefs restricts which senders are observed. Empty means every other sender.
	SubscribeRefs   []string
	PublishInterval time.Duration
	// ToggleEvery is the number of ticks between local toggles; 0 disables toggling.
	ToggleEvery int
	// MaxToggles stops toggling after that many changes; 0 means unlimited.
	MaxToggles int
}

// Runner drives a Controller from a ticker and a transport subscription.
type Runner struct {
	cfg  Config
	ctrl *correction.Controller
	sub  transport.Subscriber
	log  logrus.FieldLogger

	// ready is closed once the first frame has been published.
	ready chan struct{}
}

// New returns a runner. sub may be nil when the role does not subscribe.
func New(cfg Config, ctrl *correction.Controller, sub transport.Subscriber, log logrus.FieldLogger) (*Runner, error) {
	if cfg.PublishInterval <= 0 {
		return nil, errors.New("device: publish interval must be positive")
	}
	if cfg.Capabilities.Subscribe && sub == nil {
		return nil, errors.New("device: subscriber required for a subscribing role")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Runner{
		cfg:   cfg,
		ctrl:  ctrl,
		sub:   sub,
		log:   log.WithField("device", string(cfg.Role)),
		ready: make(chan struct{}),
	}, nil
}

// Ready is closed after the initial publish.
func (r *Runner) Ready() <-chan struct{} { return r.ready }

// Run blocks until ctx is done (or, for one-shot roles, after the single publish),
// then waits for in-flight validations.
func (r *Runner) Run(ctx context.Context) error {
	defer r.ctrl.Wait()

	if r.cfg.Capabilities.OneShot {
		snap := r.ctrl.PublishCurrent(ctx)
		close(r.ready)
		r.log.WithFields(logrus.Fields{"stNum": snap.StNum, "status": snap.Status}).Info("device: published one-shot frame")
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if r.cfg.Capabilities.Subscribe {
		g.Go(func() error { return r.subscribe(gctx) })
	}
	if r.cfg.Capabilities.Publish {
		g.Go(func() error { return r.publishLoop(gctx) })
	} else {
		close(r.ready)
	}
	return g.Wait()
}

func (r *Runner) publishLoop(ctx context.Context) error {
	snap := r.ctrl.PublishCurrent(ctx)
	close(r.ready)
	r.log.WithFields(logrus.Fields{"stNum": snap.StNum, "status": snap.Status}).Info("device: publishing")

	ticker := time.NewTicker(r.cfg.PublishInterval)
	defer ticker.Stop()
	ticks, toggles := 0, 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		ticks++
		if r.shouldToggle(ticks, toggles) {
			if _, ok := r.ctrl.ToggleLocal(ctx); ok {
				toggles++
				continue
			}
		}
		r.ctrl.Tick(ctx)
	}
}

func (r *Runner) shouldToggle(ticks, toggles int) bool {
	if !r.cfg.Capabilities.Toggle || r.cfg.ToggleEvery <= 0 {
		return false
	}
	if r.cfg.MaxToggles > 0 && toggles >= r.cfg.MaxToggles {
		return false
	}
	return ticks%r.cfg.ToggleEvery == 0
}

// subscribe keeps a subscription open, resubscribing after transport failures.
func (r *Runner) subscribe(ctx context.Context) error {
	h := transport.Filter(r.cfg.Role.GoCBRef(), r.cfg.SubscribeRefs, func(ctx context.Context, f transport.Frame) {
		r.ctrl.OnPeerStatus(ctx, f.Observation(time.Now()))
	})
	for {
		err := r.sub.Subscribe(ctx, h)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, transport.ErrClosed) {
			return err
		}
		if err != nil {
			r.log.WithError(err).Warn("device: subscription failed, retrying")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.cfg.PublishInterval):
		}
	}
}
