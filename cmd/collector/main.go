package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/splax/apitrail/internal/app/migrate"
	httpx "github.com/splax/apitrail/internal/http"
	"github.com/splax/apitrail/internal/notify"
	"github.com/splax/apitrail/internal/repository"
	"github.com/splax/apitrail/internal/repository/memory"
	"github.com/splax/apitrail/internal/repository/postgres"
	"github.com/splax/apitrail/internal/service/analytics"
	"github.com/splax/apitrail/internal/service/auth"
	"github.com/splax/apitrail/internal/service/collector"
	"github.com/splax/apitrail/internal/service/incident"
	"github.com/splax/apitrail/internal/ws"
	"github.com/splax/apitrail/pkg/config"
	"github.com/splax/apitrail/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg := config.LoadCollectorConfig()
	log := logger.New("apitrail-collector", cfg.LogLevel)
	if err := run(cfg, log); err != nil {
		log.Error("collector exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.CollectorConfig, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hub := ws.NewHub()
	defer hub.Close()
	notifiers := notify.Multi{notify.NewHubNotifier(hub, log)}
	if url := strings.TrimSpace(cfg.NATSURL); url != "" {
		nc, err := notify.ConnectNATS(url, "apitrail-collector", log)
		if err != nil {
			log.Warn("nats unavailable, continuing without bus notifications", "error", err)
		} else {
			defer notify.DrainNATS(nc, log)
			notifiers = append(notifiers, notify.NewNATSNotifier(nc, cfg.NATSSubjectPrefix, log))
		}
	}

	incidents := incident.NewService(store, notifiers, log)
	if open, err := incidents.Replay(ctx); err != nil {
		log.Warn("incident replay failed", "error", err)
	} else if open > 0 {
		log.Info("resuming with open incidents", "count", open)
	}

	pipeline := collector.NewService(store, store, incidents, notifiers, log, collector.Options{
		Workers:    cfg.EvalWorkers,
		QueueSize:  cfg.EvalQueueSize,
		Registerer: registry,
	})
	pipeline.Start()

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(httpx.Deps{
		Logger:    log,
		Auth:      auth.New(store, log, auth.Config{JWTSecret: cfg.JWTSecret, AccessTokenTTL: cfg.AccessTokenTTL}),
		Collector: pipeline,
		Incidents: incidents,
		Analytics: analytics.New(store, log),
		Hub:       hub,
		Limiter:   limiter,
		DBHealth:  store.Ping,
	}, httpx.Options{
		IngestToken:        cfg.IngestToken,
		IngestMaxBodyBytes: cfg.IngestMaxBodyBytes,
		IngestRateLimit:    cfg.IngestRateLimit,
		Registerer:         registry,
		Gatherer:           registry,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	// Live streams never go idle on their own; closing the hub ends them so Shutdown can finish.
	srv.RegisterOnShutdown(hub.Close)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("collector starting", "addr", cfg.Addr, "store", cfg.StoreDriver, "env", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		// Accepted events are persisted already; drain their evaluation on a budget of its own.
		drainCtx, cancelDrain := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelDrain()
		if err := pipeline.Shutdown(drainCtx); err != nil {
			log.Warn("evaluation queue not fully drained", "error", err, "queued", pipeline.Stats().Queued)
		}
		log.Info("collector stopped")
		return nil
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.CollectorConfig, log *slog.Logger) (repository.Store, func(), error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StoreDriver)) {
	case "memory":
		log.Warn("using in-memory store; data is lost on restart")
		return memory.New(), func() {}, nil
	case "", "postgres":
	default:
		return nil, nil, errors.New("unknown STORE_DRIVER " + cfg.StoreDriver)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := runner.Ping(ctx); err != nil {
		runner.Close()
		return nil, nil, err
	}
	if err := runner.Ensure(ctx); err != nil {
		runner.Close()
		return nil, nil, err
	}
	return postgres.New(pool), runner.Close, nil
}
