// Command gateway runs the policy enforcement gateway: every agent request
// passes authentication, role authorization, an external policy decision, and
// the budget guard before being proxied to its backend, with one audit
// record per request written asynchronously.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"aegis/internal/audit"
	"aegis/internal/authz"
	"aegis/internal/budget"
	"aegis/internal/gateway"
	"aegis/internal/identity"
	"aegis/internal/platform/config"
	"aegis/internal/platform/httpserver"
	"aegis/internal/platform/logger"
	"aegis/internal/platform/redis"
	"aegis/internal/policy"
	"aegis/internal/proxy"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	readiness := map[string]gateway.HealthCheck{}

	// Ledger store: Redis when configured, in-memory otherwise.
	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	var ledger budget.Store
	if redisClient != nil {
		defer redisClient.Close()
		ledger = budget.NewRedisStore(redisClient.Client)
		readiness["redis"] = redisClient.Health
		log.Info("budget ledger using redis")
	} else {
		ledger = budget.NewInMemoryStore()
		log.Warn("budget ledger using in-memory store, caps are per-instance")
	}

	// Audit store: Postgres when configured, in-memory otherwise.
	var auditStore audit.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping: %w", err)
		}
		auditStore = audit.NewPostgresStore(pool)
		readiness["postgres"] = pool.Ping
		log.Info("audit trail using postgres")
	} else {
		auditStore = audit.NewInMemoryStore()
		log.Warn("audit trail using in-memory store, records are lost on restart")
	}

	snapshot, err := authz.Load(cfg.RoutesFile)
	if err != nil {
		return fmt.Errorf("load routes table: %w", err)
	}
	checker := authz.NewChecker(snapshot, log)

	budgetSvc, err := budget.NewService(ledger, cfg.Budget, budget.WithLogger(log))
	if err != nil {
		return err
	}

	forwarder, err := proxy.NewForwarder(checker, cfg.Breaker, proxy.WithLogger(log))
	if err != nil {
		return err
	}

	sink := audit.NewSink(cfg.Audit.QueueCapacity, cfg.Audit.FullPolicy)
	worker, err := audit.NewWorker(sink, auditStore, cfg.Audit, audit.WithWorkerLogger(log))
	if err != nil {
		return err
	}

	gw, err := gateway.New(cfg, log, gateway.Deps{
		JWT:        identity.NewJWTService(cfg.JWT.SigningKey, cfg.JWT.Issuer, cfg.JWT.Audience),
		Checker:    checker,
		Policy:     policy.NewClient(cfg.Policy.Endpoint, cfg.Policy.Timeout, policy.WithLogger(log)),
		Budget:     budgetSvc,
		Usage:      budgetSvc,
		Forwarder:  forwarder,
		Sink:       sink,
		AuditStore: auditStore,
		Readiness:  readiness,
	})
	if err != nil {
		return err
	}

	srv := httpserver.New(cfg.Addr, gw.Router())

	// SIGHUP reloads the routes table without a restart.
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("gateway listening", "addr", cfg.Addr, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	// The worker outlives the server: it is cancelled only after shutdown
	// has drained in-flight requests, so their records still get flushed.
	workerCtx, stopWorker := context.WithCancel(context.Background())
	group.Go(func() error {
		return worker.Run(workerCtx)
	})

	group.Go(func() error {
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-reload:
				if err := checker.Reload(cfg.RoutesFile); err != nil {
					log.Error("routes reload failed", "error", err)
				}
			}
		}
	})

	// Stop accepting requests first; only then cancel the worker so its
	// final drain sees every record the in-flight requests produced.
	group.Go(func() error {
		<-groupCtx.Done()
		defer stopWorker()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
