package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/autoindex-api/internal/models"
	"github.com/jmylchreest/autoindex-api/internal/provider/google"
	"github.com/jmylchreest/autoindex-api/internal/provider/indexnow"
	"github.com/jmylchreest/autoindex-api/internal/repository"
)

// SearchConsole lists a user's Search Console properties and sitemaps.
type SearchConsole interface {
	ListSites(ctx context.Context, token string) ([]google.SiteEntry, error)
	ListSitemaps(ctx context.Context, token, siteURL string) ([]google.SitemapEntry, error)
}

// IndexNowVerifier checks that a key file is served by the site.
type IndexNowVerifier interface {
	VerifyKey(ctx context.Context, host, key string) error
}

// KeyCipher seals and opens per-site secrets.
type KeyCipher interface {
	Seal(plaintext, ownerID string) (string, error)
	Open(ciphertext, ownerID string) (string, error)
}

// EngineSettings is a partial update of a site's indexing settings. Nil
// fields are left unchanged.
type EngineSettings struct {
	Google     *bool
	IndexNow   *bool
	SitemapURL *string
}

// SiteService manages the sites a user tracks.
type SiteService struct {
	sites    repository.SiteRepository
	urls     repository.TrackedURLRepository
	activity repository.ActivityLogRepository
	console  SearchConsole
	tokens   TokenSource
	verifier IndexNowVerifier
	cipher   KeyCipher
	storage  *StorageService
	logger   *slog.Logger
}

// SiteDeps groups the collaborators of a SiteService.
type SiteDeps struct {
	Sites    repository.SiteRepository
	URLs     repository.TrackedURLRepository
	Activity repository.ActivityLogRepository
	Console  SearchConsole
	Tokens   TokenSource
	Verifier IndexNowVerifier
	Cipher   KeyCipher
	Storage  *StorageService
}

// NewSiteService creates a new site service.
func NewSiteService(deps SiteDeps, logger *slog.Logger) *SiteService {
	return &SiteService{
		sites:    deps.Sites,
		urls:     deps.URLs,
		activity: deps.Activity,
		console:  deps.Console,
		tokens:   deps.Tokens,
		verifier: deps.Verifier,
		cipher:   deps.Cipher,
		storage:  deps.Storage,
		logger:   logger.With("component", "sites"),
	}
}

// SyncFromSearchConsole imports the user's verified Search Console
// properties. Existing sites keep their settings; new ones start with both
// engines off.
func (s *SiteService) SyncFromSearchConsole(ctx context.Context, userID string) ([]*models.Site, error) {
	if s.console == nil || s.tokens == nil {
		return nil, fmt.Errorf("%w: search console not configured", ErrEngineUnavailable)
	}
	token, err := s.tokens.Token(ctx, userID)
	if err != nil {
		return nil, err
	}

	entries, err := s.console.ListSites(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to list search console sites: %w", err)
	}

	imported := 0
	for _, entry := range entries {
		if !entry.Verified() {
			continue
		}
		site := &models.Site{UserID: userID, Domain: entry.SiteURL}
		site.SitemapURL = s.pickSitemap(ctx, token, entry.SiteURL)
		if err := s.sites.Upsert(ctx, site); err != nil {
			return nil, fmt.Errorf("failed to save site %s: %w", entry.SiteURL, err)
		}
		imported++
	}

	s.logger.Info("synced sites from search console", "user_id", userID, "properties", len(entries), "imported", imported)
	return s.sites.GetByUserID(ctx, userID)
}

// pickSitemap prefers a submitted sitemap index, then any processed
// sitemap. An empty result falls back to /sitemap.xml at run time.
func (s *SiteService) pickSitemap(ctx context.Context, token, siteURL string) string {
	sitemaps, err := s.console.ListSitemaps(ctx, token, siteURL)
	if err != nil {
		s.logger.Debug("failed to list sitemaps", "site_url", siteURL, "error", err)
		return ""
	}
	var fallback string
	for _, sm := range sitemaps {
		if sm.IsPending {
			continue
		}
		if sm.IsSitemapsIndex {
			return sm.Path
		}
		if fallback == "" {
			fallback = sm.Path
		}
	}
	return fallback
}

// List returns the user's sites.
func (s *SiteService) List(ctx context.Context, userID string) ([]*models.Site, error) {
	return s.sites.GetByUserID(ctx, userID)
}

// Get returns a site owned by the user, or ErrSiteNotFound.
func (s *SiteService) Get(ctx context.Context, userID, siteID string) (*models.Site, error) {
	site, err := s.sites.GetByID(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to load site: %w", err)
	}
	if site == nil || site.UserID != userID {
		return nil, ErrSiteNotFound
	}
	return site, nil
}

// Update applies engine and sitemap settings. Enabling IndexNow generates a
// key on first use and requires the key file to be served by the site; the
// key is kept even when verification fails so the owner can publish it.
func (s *SiteService) Update(ctx context.Context, userID, siteID string, settings EngineSettings) (*models.Site, error) {
	site, err := s.Get(ctx, userID, siteID)
	if err != nil {
		return nil, err
	}

	if settings.SitemapURL != nil {
		site.SitemapURL = *settings.SitemapURL
	}
	if settings.Google != nil {
		site.GoogleEnabled = *settings.Google
	}

	var verifyErr error
	if settings.IndexNow != nil {
		if *settings.IndexNow {
			key, err := s.ensureIndexNowKey(site)
			if err != nil {
				return nil, err
			}
			verifyErr = s.verifyKey(ctx, site, key)
			site.IndexNowEnabled = verifyErr == nil
		} else {
			site.IndexNowEnabled = false
		}
	}

	if err := s.sites.UpdateSettings(ctx, site); err != nil {
		return nil, fmt.Errorf("failed to update site: %w", err)
	}
	s.logger.Info("site settings updated",
		"site_id", site.ID,
		"google", site.GoogleEnabled,
		"indexnow", site.IndexNowEnabled,
	)
	return site, verifyErr
}

func (s *SiteService) ensureIndexNowKey(site *models.Site) (string, error) {
	if s.cipher == nil {
		return "", fmt.Errorf("%w: no encryption key configured", ErrEngineUnavailable)
	}
	if site.IndexNowKeyEnc != "" {
		return s.cipher.Open(site.IndexNowKeyEnc, site.ID)
	}
	key, err := indexnow.GenerateKey()
	if err != nil {
		return "", err
	}
	sealed, err := s.cipher.Seal(key, site.ID)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt indexnow key: %w", err)
	}
	site.IndexNowKeyEnc = sealed
	return key, nil
}

func (s *SiteService) verifyKey(ctx context.Context, site *models.Site, key string) error {
	if s.verifier == nil {
		return nil
	}
	if err := s.verifier.VerifyKey(ctx, site.Host(), key); err != nil {
		s.logger.Info("indexnow key not verified", "site_id", site.ID, "error", err)
		return fmt.Errorf("%w: %v", ErrKeyNotVerified, err)
	}
	return nil
}

// IndexNowKey returns the site's key and where it must be hosted, generating
// the key when the site has none.
func (s *SiteService) IndexNowKey(ctx context.Context, userID, siteID string) (key, location string, err error) {
	site, err := s.Get(ctx, userID, siteID)
	if err != nil {
		return "", "", err
	}
	hadKey := site.IndexNowKeyEnc != ""
	key, err = s.ensureIndexNowKey(site)
	if err != nil {
		return "", "", err
	}
	if !hadKey {
		if err := s.sites.UpdateSettings(ctx, site); err != nil {
			return "", "", fmt.Errorf("failed to store indexnow key: %w", err)
		}
	}
	return key, indexnow.KeyLocation(site.Host(), key), nil
}

// Delete removes a site with its URLs, activity and reports.
func (s *SiteService) Delete(ctx context.Context, userID, siteID string) error {
	site, err := s.Get(ctx, userID, siteID)
	if err != nil {
		return err
	}
	if err := s.sites.Delete(ctx, site.ID); err != nil {
		return fmt.Errorf("failed to delete site: %w", err)
	}
	if n, err := s.storage.DeleteSiteReports(ctx, site.ID); err != nil {
		s.logger.Warn("failed to delete archived reports", "site_id", site.ID, "error", err)
	} else if n > 0 {
		s.logger.Info("deleted archived reports", "site_id", site.ID, "count", n)
	}
	return nil
}

// URLs lists a site's tracked URLs.
func (s *SiteService) URLs(ctx context.Context, userID, siteID string, filter repository.URLFilter) ([]*models.TrackedURL, error) {
	if _, err := s.Get(ctx, userID, siteID); err != nil {
		return nil, err
	}
	return s.urls.List(ctx, siteID, filter)
}

// Activity returns a site's most recent activity log entries.
func (s *SiteService) Activity(ctx context.Context, userID, siteID string, limit int) ([]*models.ActivityLogEntry, error) {
	if _, err := s.Get(ctx, userID, siteID); err != nil {
		return nil, err
	}
	return s.activity.ListBySite(ctx, siteID, limit)
}
