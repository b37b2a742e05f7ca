// Package main is the entry point for the autoindex-api server.
// Users, sessions and Google OAuth tokens are managed by Clerk.
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

	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/jmylchreest/autoindex-api/internal/auth"
	"github.com/jmylchreest/autoindex-api/internal/config"
	"github.com/jmylchreest/autoindex-api/internal/database"
	"github.com/jmylchreest/autoindex-api/internal/http/handlers"
	"github.com/jmylchreest/autoindex-api/internal/http/mw"
	"github.com/jmylchreest/autoindex-api/internal/http/routes"
	"github.com/jmylchreest/autoindex-api/internal/logging"
	"github.com/jmylchreest/autoindex-api/internal/metrics"
	"github.com/jmylchreest/autoindex-api/internal/redisclient"
	"github.com/jmylchreest/autoindex-api/internal/repository"
	"github.com/jmylchreest/autoindex-api/internal/service"
	"github.com/jmylchreest/autoindex-api/internal/shutdown"
	"github.com/jmylchreest/autoindex-api/internal/version"
	"github.com/jmylchreest/autoindex-api/internal/worker"
)

const (
	defaultRequestTimeout  = 30 * time.Second
	syncRequestTimeout     = 2 * time.Minute
	cronWriteDeadline      = 30 * time.Minute
)

func main() {
	// Initialize logger with TTY detection, source paths, and format control
	logger := logging.SetDefault()

	v := version.Get()
	logger.Info("starting autoindex-api",
		"version", v.Version,
		"commit", v.Commit,
		"built", v.Date,
		"go_version", v.GoVersion,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	db, err := database.New(cfg.DatabaseURL, database.Options{
		TursoURL:       cfg.TursoURL,
		TursoAuthToken: cfg.TursoAuthToken,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := database.MigrateWithLogger(db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	if status, err := database.Status(db); err != nil {
		logger.Warn("failed to get schema version", "error", err)
	} else {
		logger.Info("database schema ready", "schema_version", status.Latest, "migrations_applied", status.Applied)
	}

	repos := repository.NewRepositories(db)

	var rdb *redis.Client
	if cfg.RedisEnabled() {
		rdb, err = redisclient.New(cfg.RedisURL)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer func() { _ = rdb.Close() }()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	services, err := service.NewServices(cfg, repos, service.Options{DB: db, Redis: rdb, Metrics: m}, logger)
	if err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// On-demand site runs
	runWorker := worker.New(services.Orchestrator, m, worker.Config{
		Concurrency: cfg.WorkerConcurrency,
		QueueSize:   cfg.WorkerQueueSize,
	}, logger)
	runWorker.Start(ctx)

	var scheduler *service.Scheduler
	if cfg.SchedulerEnabled {
		scheduler, err = service.NewScheduler(services.Orchestrator, service.ScheduleConfig{
			DailyIndex:     cfg.DailyIndexSchedule,
			RetryFailed:    cfg.RetryFailedSchedule,
			CoverageResync: cfg.CoverageResyncSchedule,
		}, logger)
		if err != nil {
			logger.Error("failed to create scheduler", "error", err)
			os.Exit(1)
		}
		scheduler.Start()
	}

	if cfg.CleanupEnabled {
		go services.Cleanup.RunScheduledCleanup(ctx, cfg.QuotaRetentionDays, cfg.ReportArchiveRetention, cfg.CleanupInterval)
		logger.Info("cleanup service started",
			"quota_retention_days", cfg.QuotaRetentionDays,
			"report_retention", cfg.ReportArchiveRetention.String(),
			"interval", cfg.CleanupInterval.String(),
		)
	}

	var filtersLoader *logging.FiltersLoader
	if services.Storage.IsEnabled() {
		filtersLoader = logging.NewFiltersLoader(services.Storage, logging.DefaultFiltersKey, 0, logger)
		filtersLoader.Start(ctx)
	}

	// Idle shutdown only makes sense when an external cron wakes the service.
	idleTimeout := cfg.IdleTimeout
	if scheduler != nil {
		idleTimeout = 0
	}
	idle := shutdown.NewIdleMonitor(shutdown.IdleMonitorConfig{
		Timeout:      idleTimeout,
		ExcludePaths: []string{"/healthz", "/livez", "/readyz", "/metrics"},
		Busy:         []shutdown.BusyFunc{runWorker.Busy},
		Logger:       logger,
	})
	idle.Start()

	var verifier mw.TokenVerifier
	if cfg.AuthEnabled() {
		verifier = auth.NewClerkVerifier(cfg.ClerkIssuerURL)
		logger.Info("clerk authentication enabled", "issuer", cfg.ClerkIssuerURL)
	} else {
		logger.Warn("CLERK_ISSUER_URL not set - authenticated routes will reject all requests")
	}

	router := newRouter(cfg, routerDeps{
		services: services,
		worker:   runWorker,
		verifier: verifier,
		registry: registry,
		readyz:   handlers.NewReadyzHandler(db),
		idle:     idle,
	}, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		select {
		case sig := <-sigChan:
			logger.Info("shutting down server", "signal", sig.String())
		case <-idle.Idle():
			logger.Info("shutting down idle server")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.WorkerShutdownGracePeriod)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
		if scheduler != nil {
			if err := scheduler.Stop(shutdownCtx); err != nil {
				logger.Warn("scheduled jobs cancelled during shutdown", "error", err)
			}
		}
		runWorker.Stop()
		idle.Stop()
		if filtersLoader != nil {
			filtersLoader.Stop()
		}
		cancel()
	}()

	logger.Info("starting server",
		"port", cfg.Port,
		"base_url", cfg.BaseURL,
		"scheduler", scheduler != nil,
		"redis", rdb != nil,
		"storage", services.Storage.IsEnabled(),
	)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("server stopped")
}

type routerDeps struct {
	services *service.Services
	worker   *worker.Worker
	verifier mw.TokenVerifier
	registry *prometheus.Registry
	readyz   *handlers.ReadyzHandler
	idle     *shutdown.IdleMonitor
}

func newRouter(cfg *config.Config, deps routerDeps, logger *slog.Logger) http.Handler {
	services := deps.services
	router := chi.NewRouter()

	// Global middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(mw.LogContext())
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(deps.idle.Middleware)
	router.Use(mw.APIVersion())
	router.Use(mw.Timeout(mw.TimeoutConfig{
		Default:     defaultRequestTimeout,
		Sync:        syncRequestTimeout,
		SyncPaths:   []string{"/api/v1/sites/sync"},
		JobPrefixes: []string{"/api/v1/cron/"},
	}))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID", "X-API-Version", "X-API-Commit", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	router.Use(middleware.RequestSize(1 * 1024 * 1024))
	router.Use(middleware.Throttle(100))

	router.Handle("/metrics", promhttp.HandlerFor(deps.registry, promhttp.HandlerOpts{Registry: deps.registry}))

	jobsHandler := handlers.NewJobsHandler(services.Orchestrator, deps.worker, logger)

	// Cron triggers (shared-secret bearer auth)
	router.Route("/api/v1/cron", func(r chi.Router) {
		r.Use(mw.RequireCronSecret(cfg.CronSecret))
		r.Use(mw.ExtendWriteDeadline(cronWriteDeadline))
		for _, job := range []string{handlers.JobDaily, handlers.JobRetryFailed, handlers.JobResyncCoverage} {
			r.Get("/"+job, jobsHandler.Cron(job))
			r.Post("/"+job, jobsHandler.Cron(job))
		}
	})

	// Webhooks (signature verified by handler, not user auth)
	router.Group(func(r chi.Router) {
		r.Use(mw.RateLimitByIP(mw.DefaultRateLimitConfig().IPRequestsPerMinute))

		if cfg.StripeWebhookSecret != "" {
			stripeWebhook := handlers.NewStripeWebhookHandler(cfg.StripeWebhookSecret, services.Ledger, services.Alerts, logger)
			r.Post("/api/v1/webhooks/stripe", stripeWebhook.HandleWebhook)
			logger.Info("stripe webhook endpoint enabled")
		}
		if cfg.ClerkWebhookSecret != "" {
			clerkWebhook := handlers.NewClerkWebhookHandler(cfg.ClerkWebhookSecret, services.Ledger, cfg.SignupBonusCredits, services.UserCleanup, logger)
			r.Post("/api/v1/webhooks/clerk", clerkWebhook.HandleWebhook)
			logger.Info("clerk webhook endpoint enabled")
		}
	})

	// Huma API: public, probe and authenticated routes
	router.Group(func(r chi.Router) {
		r.Use(mw.IdentifyUser(deps.verifier))
		r.Use(mw.RateLimitByUser(mw.DefaultRateLimitConfig()))

		api := humachi.New(r, routes.NewHumaConfig(cfg.BaseURL))
		api.UseMiddleware(mw.HumaAuth(api, mw.HumaAuthConfig{Verifier: deps.verifier, Logger: logger}))

		routes.Register(api, &routes.Handlers{
			Sites:   handlers.NewSitesHandler(services.Sites, deps.worker),
			Reports: handlers.NewReportsHandler(services.Sites, services.Reports),
			Account: handlers.NewAccountHandler(services.Ledger, services.Quota),
			Jobs:    jobsHandler,
			Readyz:  deps.readyz.Readyz,
		})
	})

	return router
}
