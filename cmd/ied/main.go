// ied runs one simulated device. The optional positional argument names the
// network interface used by the udp transport (default from NETWORK_INTERFACE, ens33).
//
//	ied [interface]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"ied-sentinel/internal/bookkeeping"
	"ied-sentinel/internal/config"
	healthhandler "ied-sentinel/internal/health/handler"
	"ied-sentinel/internal/ied/domain"
	"ied-sentinel/internal/ied/node"
	"ied-sentinel/internal/ied/transport"
	"ied-sentinel/internal/ied/transport/kafkabus"
	"ied-sentinel/internal/ied/transport/udp"
	"ied-sentinel/internal/logging"
	"ied-sentinel/internal/server"
	"ied-sentinel/internal/telemetry"
	telemetryotel "ied-sentinel/internal/telemetry/otel"
	"ied-sentinel/internal/telemetry/producer"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [interface]\n", os.Args[0])
		flag.PrintDefaults()
	}
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
	iface := cfg.NetworkInterface
	if flag.NArg() > 0 {
		iface = flag.Arg(0)
	}
	if err := run(cfg, iface, log); err != nil {
		log.WithError(err).Fatal("ied: exiting")
	}
}

func run(cfg *config.Config, iface string, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	role := cfg.Role()
	entry := log.WithField("role", string(role))

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Settings{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		InstanceID:  string(role),
		Insecure:    cfg.OTLPInsecure,
	}, entry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	providers.SetGlobal()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(sctx)
	}()

	tr, err := openTransport(cfg, role, iface, entry)
	if err != nil {
		return err
	}
	defer func() {
		if err := tr.Close(); err != nil {
			entry.WithError(err).Warn("ied: closing transport")
		}
	}()

	sinks, closeSinks, err := buildSinks(cfg, providers, entry)
	if err != nil {
		return err
	}
	defer closeSinks()

	n, err := node.New(settingsFromConfig(cfg), tr, sinks, &http.Client{}, entry)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ready := healthhandler.PingFunc(func(context.Context) error {
		select {
		case <-n.Ready():
			return nil
		default:
			return fmt.Errorf("%s has not published yet", role)
		}
	})
	grpcSrv := server.NewGRPCServer(entry)
	server.RegisterServices(grpcSrv, server.Deps{
		ServiceName:  cfg.ServiceName,
		HealthPinger: ready,
		Reflection:   cfg.Env == "development",
	})

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		// One-shot roles stop the whole process after their publish.
		defer cancel()
		return n.Run(gctx)
	})
	g.Go(func() error { return server.Serve(gctx, cfg.GRPCAddr, grpcSrv, entry) })
	return g.Wait()
}

func settingsFromConfig(cfg *config.Config) node.Settings {
	role := cfg.Role()
	s := node.Settings{
		Role:               role,
		InitialStatus:      cfg.StartStatus(),
		InitialStNum:       cfg.InitialStNum,
		SubscribeRefs:      cfg.SubscribeRefList(),
		PublishInterval:    cfg.PublishInterval,
		TimeAllowedToLive:  cfg.TimeAllowedToLive,
		ValidationURL:      cfg.ValidationURL,
		ValidationAttempts: cfg.ValidationAttempts,
		ValidationTimeout:  cfg.ValidationTimeout,
		ValidationBackoff:  cfg.ValidationBackoff,
		BookkeepingTimeout: cfg.BookkeepingTimeout,
	}
	if role.Capabilities().Toggle {
		s.ToggleEvery = cfg.ToggleEvery
		s.MaxToggles = cfg.MaxToggles
	}
	if role == domain.RoleX {
		s.InitialStNum = cfg.AttackStNum
		s.InitialStatus = domain.Status(cfg.AttackStatus)
	}
	return s
}

// errMemoryTransport rejects TRANSPORT=memory: the bus lives inside one
// process, so a standalone device would have no peers. cmd/sim runs the
// memory bus.
var errMemoryTransport = errors.New("memory transport only connects devices inside one process; use sim")

func openTransport(cfg *config.Config, role domain.Role, iface string, log logrus.FieldLogger) (transport.Transport, error) {
	switch cfg.Transport {
	case config.TransportUDP:
		t, err := udp.Open(iface, cfg.MulticastGroup, log)
		if err != nil {
			return nil, fmt.Errorf("udp transport on %s: %w", iface, err)
		}
		return t, nil
	case config.TransportKafka:
		t, err := kafkabus.New(cfg.KafkaBrokersList(), cfg.GooseKafkaTopic, kafkabus.GroupID(cfg.GooseKafkaTopic, role.GoID()), log)
		if err != nil {
			return nil, fmt.Errorf("kafka transport: %w", err)
		}
		return t, nil
	case config.TransportMemory:
		return nil, errMemoryTransport
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// buildSinks returns the configured bookkeeping sinks and a func releasing them.
func buildSinks(cfg *config.Config, providers *telemetryotel.Providers, log logrus.FieldLogger) ([]telemetry.RecordEmitter, func(), error) {
	var (
		sinks   []telemetry.RecordEmitter
		closers []func() error
	)
	if cfg.BookkeepingURL != "" {
		sinks = append(sinks, bookkeeping.NewCollector(cfg.BookkeepingURL, &http.Client{Timeout: cfg.BookkeepingTimeout}))
	}
	kp, err := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.BookkeepingKafkaTopic)
	if err != nil {
		return nil, nil, fmt.Errorf("bookkeeping kafka producer: %w", err)
	}
	if kp != nil {
		sinks = append(sinks, kp)
		closers = append(closers, kp.Close)
	}
	sinks = append(sinks, telemetryotel.NewRecordEmitter(providers.LoggerProvider))
	latency, err := telemetryotel.NewLatencyEmitter(providers.MeterProvider.Meter("ied-sentinel/bookkeeping"))
	if err != nil {
		return nil, nil, fmt.Errorf("latency metrics: %w", err)
	}
	sinks = append(sinks, latency)

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.WithError(err).Warn("ied: closing bookkeeping sink")
			}
		}
	}
	return sinks, closeAll, nil
}
