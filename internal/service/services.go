// Package service contains the business logic layer.
// Note: User management and OAuth tokens are handled by Clerk. The UserID in
// services references Clerk user IDs (e.g., "user_xxx").
package service

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/jmylchreest/autoindex-api/internal/auth"
	"github.com/jmylchreest/autoindex-api/internal/config"
	"github.com/jmylchreest/autoindex-api/internal/coordination"
	"github.com/jmylchreest/autoindex-api/internal/crypto"
	"github.com/jmylchreest/autoindex-api/internal/metrics"
	"github.com/jmylchreest/autoindex-api/internal/provider/google"
	"github.com/jmylchreest/autoindex-api/internal/provider/indexnow"
	"github.com/jmylchreest/autoindex-api/internal/quota"
	"github.com/jmylchreest/autoindex-api/internal/repository"
)

// Services holds all service instances.
type Services struct {
	Quota        *QuotaService
	Ledger       *LedgerService
	Sitemap      *SitemapService
	Liveness     *LivenessService
	Dispatch     *DispatchService
	Reports      *ReportService
	Alerts       *AlertService
	Sites        *SiteService
	Orchestrator *Orchestrator
	Storage      *StorageService
	Cleanup      *CleanupService
	UserCleanup  *UserCleanupService
	Clerk        *auth.ClerkBackendClient // nil without CLERK_SECRET_KEY
}

// Options carries process-level dependencies that are not configuration.
type Options struct {
	DB      *sql.DB
	Redis   *redis.Client // Optional; shares quota counters and job locks across replicas
	Metrics *metrics.Metrics

	// Provider overrides, mainly for tests. Zero values use the public endpoints.
	Google   google.Config
	IndexNow indexnow.Config
}

// NewServices creates all service instances.
func NewServices(cfg *config.Config, repos *repository.Repositories, opts Options, logger *slog.Logger) (*Services, error) {
	// Encrypts per-site IndexNow keys at rest
	var cipher KeyCipher
	if len(cfg.EncryptionKey) > 0 {
		encryptor, err := crypto.NewEncryptor(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
		cipher = encryptor
	} else {
		logger.Warn("no encryption key configured - IndexNow will be unavailable")
	}

	storageSvc, err := NewStorageService(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage service: %w", err)
	}

	var quotaStore repository.QuotaRepository = repos.Quota
	var jobLocker coordination.Locker
	if opts.Redis != nil {
		quotaStore = quota.NewRedisStore(opts.Redis, 0)
		jobLocker = coordination.NewRedisLocker(opts.Redis, 0)
		logger.Info("using redis for quota counters and job locks")
	}

	// Google access tokens come from Clerk's OAuth token store
	var (
		clerk  *auth.ClerkBackendClient
		tokens TokenSource
		users  UserDirectory
	)
	if cfg.ClerkSecretKey != "" {
		clerk = auth.NewClerkBackendClient(cfg.ClerkSecretKey)
		tokens = auth.NewGoogleTokenSource(clerk, auth.DefaultTokenCacheTTL, logger)
		users = clerk
	} else {
		logger.Warn("no Clerk secret key configured - Google engine will be unavailable")
	}

	googleCfg := opts.Google
	if googleCfg.RequestsPerSecond == 0 {
		googleCfg.RequestsPerSecond = cfg.GoogleAPIRate
	}
	googleClient := google.NewClient(googleCfg)
	indexNowClient := indexnow.NewClient(opts.IndexNow)

	templates, err := config.LoadAlertTemplates(cfg.AlertTemplatesFile)
	if err != nil {
		return nil, err
	}
	alerts := NewAlertService(AlertConfig{
		WebhookURL: cfg.AlertWebhookURL,
		Templates:  templates,
		AdminUser:  cfg.AdminAlertUser,
		Users:      users,
		Metrics:    opts.Metrics,
	}, logger)

	quotaSvc := NewQuotaService(quotaStore, logger)
	ledgerSvc := NewLedgerService(repos.Ledger, logger)
	sitemapSvc := NewSitemapService(repos.TrackedURL, repos.ActivityLog, logger)
	livenessSvc := NewLivenessService(opts.Metrics, logger)
	reportSvc := NewReportService(repos.Report, repos.TrackedURL, ledgerSvc, storageSvc, logger)

	dispatchDeps := DispatchDeps{
		Quota:    quotaSvc,
		Ledger:   ledgerSvc,
		URLs:     repos.TrackedURL,
		Activity: repos.ActivityLog,
		IndexNow: indexNowClient,
		Metrics:  opts.Metrics,
	}
	if tokens != nil {
		dispatchDeps.Google = googleClient
		dispatchDeps.Tokens = tokens
	}
	if cipher != nil {
		dispatchDeps.Keys = cipher
	}
	dispatchSvc := NewDispatchService(dispatchDeps, logger)

	orchDeps := OrchestratorDeps{
		Sites:                  repos.Site,
		URLs:                   repos.TrackedURL,
		JobRuns:                repos.JobRun,
		Activity:               repos.ActivityLog,
		Sitemap:                sitemapSvc,
		Liveness:               livenessSvc,
		Dispatch:               dispatchSvc,
		Reports:                reportSvc,
		Alerts:                 alerts,
		Quota:                  quotaSvc,
		JobLocker:              jobLocker,
		DeadPageAlertThreshold: cfg.DeadPageAlertThreshold,
		Metrics:                opts.Metrics,
	}
	siteDeps := SiteDeps{
		Sites:    repos.Site,
		URLs:     repos.TrackedURL,
		Activity: repos.ActivityLog,
		Verifier: indexNowClient,
		Cipher:   cipher,
		Storage:  storageSvc,
	}
	if tokens != nil {
		orchDeps.Inspector = googleClient
		orchDeps.Tokens = tokens
		siteDeps.Console = googleClient
		siteDeps.Tokens = tokens
	}

	return &Services{
		Quota:        quotaSvc,
		Ledger:       ledgerSvc,
		Sitemap:      sitemapSvc,
		Liveness:     livenessSvc,
		Dispatch:     dispatchSvc,
		Reports:      reportSvc,
		Alerts:       alerts,
		Sites:        NewSiteService(siteDeps, logger),
		Orchestrator: NewOrchestrator(orchDeps, logger),
		Storage:      storageSvc,
		Cleanup:      NewCleanupService(quotaSvc, storageSvc, logger),
		UserCleanup:  NewUserCleanupService(opts.DB, storageSvc, logger),
		Clerk:        clerk,
	}, nil
}
