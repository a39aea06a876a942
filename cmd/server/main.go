package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/notebookdir/internal"
	"github.com/DukeRupert/notebookdir/internal/billing"
	"github.com/DukeRupert/notebookdir/internal/cache"
	"github.com/DukeRupert/notebookdir/internal/handler"
	"github.com/DukeRupert/notebookdir/internal/jobs"
	"github.com/DukeRupert/notebookdir/internal/maintenance"
	"github.com/DukeRupert/notebookdir/internal/metrics"
	"github.com/DukeRupert/notebookdir/internal/middleware"
	"github.com/DukeRupert/notebookdir/internal/repository"
	"github.com/DukeRupert/notebookdir/internal/service"
	"github.com/DukeRupert/notebookdir/internal/storage"
	"github.com/DukeRupert/notebookdir/internal/store"
	"github.com/DukeRupert/notebookdir/internal/worker"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// ==========================================================================
	// Persistence
	// ==========================================================================

	var (
		db      *sql.DB
		queries *repository.Queries
		backing store.Store
		mode    = "database"
	)

	if cfg.IsDemo() {
		mode = "demo"
		logger.Warn("Running in demo mode: subscription reads return the free plan and writes fail",
			"database_url_set", cfg.DatabaseURL != "",
			"demo_mode", cfg.DemoMode,
		)
		backing = store.NewDemo(logger)
	} else {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()

		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}
		if err := internal.RunMigrations(ctx, db, logger); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		queries = repository.New(db)
		backing = store.NewPostgres(queries, cfg.DeadLetterMaxAttempts)
	}

	readCache, err := newCache(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("cache initialization failed: %w", err)
	}
	defer readCache.Close()

	st := store.NewCached(backing, readCache, cfg.CacheTTL, logger)

	// ==========================================================================
	// External providers
	// ==========================================================================

	var provider billing.Provider
	if cfg.BillingEnabled() {
		provider = billing.NewStripeProvider(billing.Config{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			Prices: billing.PriceConfig{
				Standard:     cfg.StripePriceStandard,
				Professional: cfg.StripePriceProfessional,
				Enterprise:   cfg.StripePriceEnterprise,
			},
			Timeout: cfg.StripeTimeout,
		}, logger)
		logger.Info("Stripe billing enabled")
	} else {
		provider = billing.NewDisabledProvider()
		logger.Warn("Stripe billing disabled: STRIPE_SECRET_KEY not set")
	}

	files, err := newStorage(cfg, logger)
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}

	// ==========================================================================
	// Services
	// ==========================================================================

	entitlements := service.NewEntitlementService(st, provider, logger)
	usage := service.NewUsageService(st, entitlements, logger)
	checkout := service.NewCheckoutService(st, provider, logger)
	webhooks := service.NewWebhookService(st, provider, logger)
	audio := service.NewAudioService(files, entitlements, usage, cfg.AudioURLTTL, logger)

	// ==========================================================================
	// HTTP
	// ==========================================================================

	isSecure := cfg.Env != "development"
	apiKeyMw := middleware.NewAPIKeyMiddleware(cfg.APIKey, logger)
	adminMw := middleware.NewAdminMiddleware(cfg.AdminAPIKeyHash, logger)
	limiter := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	rateLimitMw := middleware.NewRateLimitMiddleware(limiter, logger)
	metricsAuth := middleware.NewBasicAuthMiddleware("metrics", cfg.MetricsUsername, cfg.MetricsPassword)

	mux := http.NewServeMux()

	var pinger handler.Pinger
	if db != nil {
		pinger = db
	}
	handler.NewHealthHandler(pinger, mode, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	handler.NewWebhookHandler(webhooks, logger).RegisterRoutes(mux)
	handler.NewEntitlementHandler(entitlements, usage, logger).RegisterRoutes(mux, apiKeyMw.Handler, rateLimitMw.Limit)
	handler.NewBillingHandler(checkout, entitlements, logger).RegisterRoutes(mux, apiKeyMw.Handler, rateLimitMw.Limit)
	handler.NewAudioHandler(audio, logger).RegisterRoutes(mux, apiKeyMw.Handler)
	handler.NewAdminHandler(st, logger).RegisterRoutes(mux, adminMw.RequireAdmin)

	if cfg.StorageProvider == storage.ProviderLocal {
		mux.Handle("GET /files/", http.StripPrefix("/files/", http.FileServer(http.Dir(cfg.LocalStoragePath))))
	}

	root := middleware.Stack(
		middleware.NewRequestLoggingMiddleware(logger).Handler,
		metrics.Middleware,
		middleware.NewSecurityHeadersMiddleware(isSecure).Handler,
	)(mux)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// ==========================================================================
	// Run
	// ==========================================================================

	// Build everything that can fail before starting goroutines.
	var w *worker.Worker
	if queries != nil && cfg.WorkerEnabled {
		w, err = newWorker(db, queries, cfg, webhooks, logger)
		if err != nil {
			return fmt.Errorf("worker initialization failed: %w", err)
		}
	}

	var scheduler *maintenance.Scheduler
	if queries != nil {
		scheduler, err = newScheduler(cfg, queries, w, logger)
		if err != nil {
			return fmt.Errorf("maintenance initialization failed: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env, "mode", mode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		limiter.Run(gctx)
		return nil
	})

	if w != nil {
		w.Start(gctx)
	}

	if scheduler != nil {
		scheduler.Start()
		g.Go(func() error {
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return scheduler.Stop(stopCtx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received, initiating graceful shutdown...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		if w != nil {
			w.Stop()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func newCache(ctx context.Context, cfg *internal.Config, logger *slog.Logger) (cache.Cache, error) {
	if cfg.RedisURL == "" {
		logger.Info("Using in-process subscription cache", "size", cfg.CacheSize, "ttl", cfg.CacheTTL)
		return cache.NewMemoryCache(cfg.CacheSize, cfg.CacheTTL), nil
	}

	c, err := cache.NewRedisCache(ctx, cfg.RedisURL, "notebookdir:")
	if err != nil {
		return nil, err
	}
	logger.Info("Using Redis subscription cache", "ttl", cfg.CacheTTL)
	return c, nil
}

func newStorage(cfg *internal.Config, logger *slog.Logger) (storage.Storage, error) {
	switch cfg.StorageProvider {
	case storage.ProviderR2:
		return storage.NewR2Storage(storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicURL:       cfg.R2PublicURL,
			Region:          "auto",
		}, logger)
	default:
		return storage.NewLocalStorage(storage.LocalConfig{
			BasePath: cfg.LocalStoragePath,
			BaseURL:  cfg.LocalStorageURL,
		}, logger)
	}
}

func newScheduler(cfg *internal.Config, queries *repository.Queries, w *worker.Worker, logger *slog.Logger) (*maintenance.Scheduler, error) {
	var recoverer maintenance.JobRecoverer
	if w != nil {
		recoverer = w
	}
	mcfg := maintenance.DefaultConfig()
	mcfg.Schedule = cfg.MaintenanceSchedule
	mcfg.EventRetention = cfg.EventRetention
	mcfg.UsageRetention = cfg.UsageRetention
	return maintenance.New(mcfg, queries, recoverer, logger)
}

func newWorker(db *sql.DB, queries *repository.Queries, cfg *internal.Config, webhooks service.WebhookService, logger *slog.Logger) (*worker.Worker, error) {
	wcfg := worker.DefaultConfig()
	wcfg.Concurrency = cfg.WorkerConcurrency
	wcfg.PollInterval = cfg.WorkerPollInterval
	wcfg.JobTimeout = cfg.WorkerJobTimeout

	w, err := worker.New(db, queries, wcfg, logger)
	if err != nil {
		return nil, err
	}
	w.Register(jobs.NewReconcileWebhookEventHandler(webhooks, logger))
	return w, nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
