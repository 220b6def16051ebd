package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go/jetstream"

	shophttp "github.com/fixwerk/shopshift/internal/adapter/http"
	shopnats "github.com/fixwerk/shopshift/internal/adapter/nats"
	"github.com/fixwerk/shopshift/internal/adapter/otel"
	"github.com/fixwerk/shopshift/internal/adapter/postgres"
	"github.com/fixwerk/shopshift/internal/adapter/ristretto"
	"github.com/fixwerk/shopshift/internal/adapter/ws"
	"github.com/fixwerk/shopshift/internal/config"
	"github.com/fixwerk/shopshift/internal/coordinator"
	"github.com/fixwerk/shopshift/internal/health"
	"github.com/fixwerk/shopshift/internal/logger"
	"github.com/fixwerk/shopshift/internal/middleware"
	"github.com/fixwerk/shopshift/internal/port/messagequeue"
	"github.com/fixwerk/shopshift/internal/provision"
	"github.com/fixwerk/shopshift/internal/registry"
	"github.com/fixwerk/shopshift/internal/retire"
	"github.com/fixwerk/shopshift/internal/router"
	"github.com/fixwerk/shopshift/internal/schema"
	"github.com/fixwerk/shopshift/internal/syncer"
	"github.com/fixwerk/shopshift/internal/validate"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	log.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"control_max_conns", cfg.ControlDB.MaxConns,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Control plane store ---

	pool, err := postgres.NewControlPool(ctx, cfg.ControlDB)
	if err != nil {
		return fmt.Errorf("control store: %w", err)
	}
	defer pool.Close()

	if err := postgres.RunControlMigrations(ctx, cfg.ControlDB.DSN); err != nil {
		return fmt.Errorf("control migrations: %w", err)
	}
	log.Info("control store ready")

	if cfg.Legacy.Bootstrap {
		if err := schema.ApplyLegacy(ctx, cfg.Legacy.DSN); err != nil {
			return fmt.Errorf("legacy bootstrap: %w", err)
		}
		log.Info("legacy schema bootstrapped")
	}

	state := postgres.NewStateStore(pool)

	// --- Connection registry ---
	// The legacy store serves every shop through the role default; shop
	// stores are re-registered from their persisted DSNs.

	reg := registry.New(cfg.Registry)
	defer reg.Close()
	reg.SetDefaultDSN(registry.RoleLegacy, cfg.Legacy.DSN)

	recs, err := state.ListMigrations(ctx)
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	for _, rec := range recs {
		if rec.TenantDSN == "" {
			continue
		}
		if err := reg.Register(rec.ShopID, registry.RoleTenant, rec.TenantDSN, false); err != nil {
			return fmt.Errorf("register shop store %s: %w", rec.ShopID, err)
		}
	}

	if cfg.Registry.IdleTimeout > 0 {
		go func() {
			ticker := time.NewTicker(cfg.Registry.IdleTimeout)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if n := reg.CloseIdle(); n > 0 {
						log.Debug("closed idle store pools", "count", n)
					}
				}
			}
		}()
	}

	// --- Messaging and telemetry ---

	var queue messagequeue.Queue
	var idempotencyKV jetstream.KeyValue
	if cfg.NATS.URL != "" {
		q, err := shopnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = q.Drain() }()
		queue = q

		idempotencyKV, err = q.KeyValue(ctx, "shopshift-idempotency", 24*time.Hour)
		if err != nil {
			return fmt.Errorf("idempotency kv: %w", err)
		}
	}

	shutdownTelemetry, err := otel.Setup(ctx, cfg.Telemetry, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	hub := ws.NewHub(cfg.Server.CORSOrigin)

	// --- Migration core ---

	cache, err := ristretto.New(cfg.Cache.MaxSizeMB<<20, cfg.Cache.TTL)
	if err != nil {
		return fmt.Errorf("phase cache: %w", err)
	}
	defer cache.Close()

	rtr := router.New(state, router.NewRegistrySource(reg), cache, cfg.Breaker, queue, metrics, hub, log)
	sync := syncer.New(cfg.Sync, state, syncer.NewRegistrySource(reg), queue, metrics, hub, log)
	prov := provision.New(cfg.Provision, reg, state, log)
	validator := validate.New(validate.NewRegistrySource(reg), log)
	retirer := retire.New(retire.NewRegistrySource(reg), log)

	cancelDivergence, err := sync.SubscribeDivergence(ctx)
	if err != nil {
		return fmt.Errorf("divergence subscriber: %w", err)
	}
	defer cancelDivergence()

	coord := coordinator.New(coordinator.Deps{
		Cfg:              cfg.Coordinator,
		ValidateInterval: cfg.Validate.Interval,
		State:            state,
		Provisioner:      prov,
		Sync:             sync,
		Validator:        validator,
		Switcher:         rtr,
		Retirer:          retirer,
		Queue:            queue,
		Notifier:         hub,
		Metrics:          metrics,
		Log:              log,
	})
	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}
	defer coord.Stop()

	monitor := health.NewMonitor(reg, state, hub, cfg.Registry.HealthInterval, log)
	monitor.Start(ctx)

	// --- HTTP ---

	handlers := &shophttp.Handlers{
		State:  state,
		Coord:  coord,
		Health: monitor,
		Hub:    hub,
		Log:    log,
	}

	r := chi.NewRouter()
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(shophttp.CORS(cfg.Server.CORSOrigin))
	r.Use(shophttp.SecurityHeaders)
	r.Use(shophttp.Logger)
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	limiter := middleware.NewRateLimiter(50, 100)
	defer limiter.StartCleanup(5*time.Minute, 15*time.Minute)()
	r.Use(limiter.Handler)
	if idempotencyKV != nil {
		r.Use(middleware.Idempotency(idempotencyKV))
	}

	shophttp.MountRoutes(r, handlers, middleware.ResolveShop(state, rtr))

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
		}
	}()

	<-done
	log.Info("shutting down")
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}
