// authority runs the validation authority: the HTTP API devices call for
// validation and bookkeeping, plus the gRPC health service.
// With DATABASE_URL set state lives in Postgres (run cmd/migrate first);
// otherwise it is kept in memory and seeded from AUTHORITY_IDS.
//
//	authority                      serve
//	authority -issue-token <name>  print an operator token for POST /updateIDs
package main

import (
	"context"
	"database/sql"
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

	auditrepo "ied-sentinel/internal/audit/repository"
	"ied-sentinel/internal/authority"
	"ied-sentinel/internal/authority/handler"
	"ied-sentinel/internal/authority/policy"
	"ied-sentinel/internal/authority/repository"
	"ied-sentinel/internal/config"
	"ied-sentinel/internal/db"
	healthhandler "ied-sentinel/internal/health/handler"
	"ied-sentinel/internal/logging"
	"ied-sentinel/internal/security"
	"ied-sentinel/internal/server"
	telemetryotel "ied-sentinel/internal/telemetry/otel"
)

const (
	shutdownTimeout = 10 * time.Second
	tokenIssuer     = "ied-sentinel"
	tokenAudience   = "ied-authority"
)

func main() {
	issueFor := flag.String("issue-token", "", "print an operator token for this name and exit")
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
	tokens, err := operatorTokens(cfg)
	if err != nil {
		log.WithError(err).Fatal("authority: operator tokens")
	}
	if *issueFor != "" {
		if tokens == nil {
			log.Fatal("authority: AUTHORITY_TOKEN_SECRET is required to issue tokens")
		}
		token, exp, err := tokens.Issue(*issueFor)
		if err != nil {
			log.WithError(err).Fatal("authority: issue token")
		}
		fmt.Println(token)
		log.WithField("expiresAt", exp).Info("authority: token issued")
		return
	}
	if err := run(cfg, tokens, log); err != nil {
		log.WithError(err).Fatal("authority: exiting")
	}
}

// operatorTokens returns nil when AUTHORITY_TOKEN_SECRET is unset.
func operatorTokens(cfg *config.Config) (*security.TokenProvider, error) {
	if cfg.AuthorityTokenSecret == "" {
		return nil, nil
	}
	return security.NewTokenProvider([]byte(cfg.AuthorityTokenSecret), tokenIssuer, tokenAudience, cfg.AuthorityTokenTTL)
}

func run(cfg *config.Config, tokens *security.TokenProvider, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Settings{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		InstanceID:  "authority",
		Insecure:    cfg.OTLPInsecure,
	}, log)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	providers.SetGlobal()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = providers.Shutdown(sctx)
	}()

	repo, auditRepo, closeDB, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeDB()

	var evaluator *policy.OPAEvaluator
	if cfg.AuthorityPolicyFile != "" {
		evaluator, err = policy.LoadFile(ctx, cfg.AuthorityPolicyFile)
	} else {
		evaluator, err = policy.NewOPAEvaluator(ctx, policy.DefaultPolicy)
	}
	if err != nil {
		return err
	}

	svc, err := authority.NewService(authority.Options{
		Repo:      repo,
		Policy:    evaluator,
		AuditRepo: auditRepo,
		Log:       log,
	})
	if err != nil {
		return err
	}

	h := handler.New(svc, log)
	if tokens != nil {
		h = h.WithOperatorTokens(tokens)
	} else {
		log.Warn("authority: AUTHORITY_TOKEN_SECRET unset, /updateIDs is open")
	}
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	grpcSrv := server.NewGRPCServer(log)
	server.RegisterServices(grpcSrv, server.Deps{
		ServiceName:         cfg.ServiceName,
		HealthPinger:        healthhandler.PingFunc(svc.Ping),
		HealthPolicyChecker: svc,
		Reflection:          cfg.Env == "development",
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", cfg.HTTPAddr).Info("authority: http listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})
	g.Go(func() error { return server.Serve(gctx, cfg.GRPCAddr, grpcSrv, log) })
	return g.Wait()
}

// openStores picks Postgres when DATABASE_URL is set, memory otherwise.
func openStores(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (repository.Repository, auditrepo.Repository, func(), error) {
	if cfg.DatabaseURL == "" {
		repo := repository.NewMemoryRepository(nil)
		if _, err := authority.Seed(ctx, repo, cfg.AuthorityIDList(), time.Now()); err != nil {
			return nil, nil, nil, err
		}
		log.WithField("ids", cfg.AuthorityIDList()).Info("authority: using in-memory store")
		return repo, auditrepo.NewMemoryRepository(), func() {}, nil
	}
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("db: %w", err)
	}
	closeDB := func() { closeQuietly(conn, log) }
	repo := repository.NewPostgresRepository(conn)
	seeded, err := authority.Seed(ctx, repo, cfg.AuthorityIDList(), time.Now())
	if err != nil {
		closeDB()
		return nil, nil, nil, err
	}
	log.WithField("seeded", seeded).Info("authority: using postgres store")
	return repo, auditrepo.NewPostgresRepository(conn), closeDB, nil
}

func closeQuietly(conn *sql.DB, log logrus.FieldLogger) {
	if err := conn.Close(); err != nil {
		log.WithError(err).Warn("authority: closing database")
	}
}
