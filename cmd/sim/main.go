// sim runs the whole scenario in one process: an in-memory authority on
// HTTP_ADDR, RDSO toggling its breaker, IPP following it, and the attacker X
// publishing one forged frame after -attack-after. Devices share a memory bus.
//
//	sim [-attack-after 15s] [-duration 1m]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	auditrepo "ied-sentinel/internal/audit/repository"
	"ied-sentinel/internal/authority"
	"ied-sentinel/internal/authority/handler"
	"ied-sentinel/internal/authority/policy"
	"ied-sentinel/internal/authority/repository"
	"ied-sentinel/internal/bookkeeping"
	"ied-sentinel/internal/config"
	"ied-sentinel/internal/ied/domain"
	"ied-sentinel/internal/ied/node"
	"ied-sentinel/internal/ied/transport/memory"
	"ied-sentinel/internal/logging"
	"ied-sentinel/internal/telemetry"
)

func main() {
	attackAfter := flag.Duration("attack-after", 0, "delay before X publishes its forged frame (default 3 publish intervals)")
	duration := flag.Duration("duration", 0, "stop after this long; 0 runs until interrupted")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *attackAfter <= 0 {
		*attackAfter = 3 * cfg.PublishInterval
	}
	if err := run(cfg, *attackAfter, *duration, log); err != nil {
		log.WithError(err).Fatal("sim: exiting")
	}
}

func run(cfg *config.Config, attackAfter, duration time.Duration, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	svc, err := newAuthority(ctx, cfg, log)
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.HTTPAddr, err)
	}
	base := "http://" + lis.Addr().String()
	httpSrv := &http.Server{Handler: handler.New(svc, log).Router(), ReadHeaderTimeout: 5 * time.Second}

	bus := memory.NewBus(log)
	defer bus.Close()
	client := &http.Client{}
	// Each device reports its own bookkeeping latency, so each gets its own collector.
	sinksFor := func() []telemetry.RecordEmitter {
		return []telemetry.RecordEmitter{bookkeeping.NewCollector(base+"/bookKeeping", &http.Client{Timeout: cfg.BookkeepingTimeout})}
	}

	settings := func(role domain.Role) node.Settings {
		return node.Settings{
			Role:               role,
			InitialStatus:      role.DefaultStatus(),
			PublishInterval:    cfg.PublishInterval,
			TimeAllowedToLive:  cfg.TimeAllowedToLive,
			ValidationURL:      base + "/idValidate",
			ValidationAttempts: cfg.ValidationAttempts,
			ValidationTimeout:  cfg.ValidationTimeout,
			ValidationBackoff:  cfg.ValidationBackoff,
			BookkeepingTimeout: cfg.BookkeepingTimeout,
		}
	}
	rdsoSettings := settings(domain.RoleRDSO)
	rdsoSettings.ToggleEvery = cfg.ToggleEvery
	rdsoSettings.MaxToggles = cfg.MaxToggles
	xSettings := settings(domain.RoleX)
	xSettings.InitialStNum = cfg.AttackStNum
	xSettings.InitialStatus = domain.Status(cfg.AttackStatus)

	rdso, err := node.New(rdsoSettings, bus, sinksFor(), client, log)
	if err != nil {
		return err
	}
	ipp, err := node.New(settings(domain.RoleIPP), bus, sinksFor(), client, log)
	if err != nil {
		return err
	}
	x, err := node.New(xSettings, bus, nil, client, log)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", base).Info("sim: authority listening")
		if err := httpSrv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	devices := errgroup.Group{}
	devices.Go(func() error { return ipp.Run(gctx) })
	devices.Go(func() error { return rdso.Run(gctx) })
	devices.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-ipp.Ready():
		}
		select {
		case <-gctx.Done():
			return nil
		case <-time.After(attackAfter):
		}
		log.Warn("sim: attacker publishing forged frame")
		return x.Run(gctx)
	})
	g.Go(func() error {
		// Devices drain their bookkeeping to the authority before it stops.
		err := devices.Wait()
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := httpSrv.Shutdown(sctx); serr != nil && err == nil {
			err = serr
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	report(ctx, svc, log)
	return nil
}

func newAuthority(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*authority.Service, error) {
	repo := repository.NewMemoryRepository(nil)
	if _, err := authority.Seed(ctx, repo, cfg.AuthorityIDList(), time.Now()); err != nil {
		return nil, err
	}
	evaluator, err := policy.NewOPAEvaluator(ctx, policy.DefaultPolicy)
	if err != nil {
		return nil, err
	}
	return authority.NewService(authority.Options{
		Repo:      repo,
		Policy:    evaluator,
		AuditRepo: auditrepo.NewMemoryRepository(),
		Log:       log,
	})
}

// report logs the final ledger state.
func report(ctx context.Context, svc *authority.Service, log logrus.FieldLogger) {
	st, err := svc.State(context.WithoutCancel(ctx))
	if err != nil {
		log.WithError(err).Warn("sim: reading final state")
		return
	}
	for id, e := range st.Devices {
		log.WithFields(logrus.Fields{
			"device":  id,
			"kind":    e.Kind,
			"verdict": e.Verdict,
			"status":  e.Status,
			"stNum":   e.StNum,
			"subject": e.SubjectID,
		}).Info("sim: final entry")
	}
}
