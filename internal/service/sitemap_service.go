package service

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jmylchreest/autoindex-api/internal/constants"
	"github.com/jmylchreest/autoindex-api/internal/models"
	"github.com/jmylchreest/autoindex-api/internal/repository"
)

// SitemapService fetches site sitemaps and reconciles them with the stored
// URL set.
type SitemapService struct {
	logger   *slog.Logger
	client   *http.Client
	urls     repository.TrackedURLRepository
	activity *activityRecorder
	now      func() time.Time
}

// NewSitemapService creates a new sitemap service.
func NewSitemapService(urls repository.TrackedURLRepository, activity repository.ActivityLogRepository, logger *slog.Logger) *SitemapService {
	logger = logger.With("component", "sitemap")
	return &SitemapService{
		logger: logger,
		client: &http.Client{
			Timeout: constants.SitemapFetchTimeout,
		},
		urls:     urls,
		activity: newActivityRecorder(activity, logger),
		now:      time.Now,
	}
}

// SitemapURL represents a URL entry from a sitemap.
type SitemapURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// Sitemap represents a parsed sitemap.xml file.
type Sitemap struct {
	XMLName xml.Name     `xml:"urlset"`
	URLs    []SitemapURL `xml:"url"`
}

// SitemapIndex represents a sitemap index file.
type SitemapIndex struct {
	XMLName  xml.Name       `xml:"sitemapindex"`
	Sitemaps []SitemapEntry `xml:"sitemap"`
}

// SitemapEntry represents an entry in a sitemap index.
type SitemapEntry struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// Fetch returns every page URL reachable from the sitemap, following
// sitemap indexes up to constants.MaxSitemapDepth levels. Duplicate locations
// keep their first lastmod. Any failure yields whatever was collected so far,
// possibly nothing; Fetch never returns an error.
func (s *SitemapService) Fetch(ctx context.Context, sitemapURL string) []SitemapURL {
	var out []SitemapURL
	seen := make(map[string]bool)
	visited := make(map[string]bool)
	s.fetch(ctx, sitemapURL, 0, visited, seen, &out)

	s.logger.Info("fetched sitemap", "sitemap_url", sitemapURL, "url_count", len(out))
	return out
}

func (s *SitemapService) fetch(ctx context.Context, sitemapURL string, depth int, visited, seen map[string]bool, out *[]SitemapURL) {
	if depth > constants.MaxSitemapDepth {
		s.logger.Warn("sitemap recursion depth exceeded", "url", sitemapURL, "depth", depth)
		return
	}
	if visited[sitemapURL] {
		return
	}
	visited[sitemapURL] = true

	body, err := s.download(ctx, sitemapURL)
	if err != nil {
		s.logger.Warn("failed to fetch sitemap", "url", sitemapURL, "error", err)
		return
	}

	// Try parsing as sitemap index first
	var index SitemapIndex
	if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
		s.logger.Debug("parsed as sitemap index", "url", sitemapURL, "sitemap_count", len(index.Sitemaps))
		for _, entry := range index.Sitemaps {
			loc := strings.TrimSpace(entry.Loc)
			if loc == "" {
				continue
			}
			s.fetch(ctx, loc, depth+1, visited, seen, out)
		}
		return
	}

	var sitemap Sitemap
	if err := xml.Unmarshal(body, &sitemap); err != nil {
		s.logger.Warn("failed to parse sitemap XML", "url", sitemapURL, "error", err)
		return
	}
	for _, u := range sitemap.URLs {
		loc := strings.TrimSpace(u.Loc)
		if loc == "" || seen[loc] {
			continue
		}
		seen[loc] = true
		*out = append(*out, SitemapURL{Loc: loc, LastMod: strings.TrimSpace(u.LastMod)})
	}
}

func (s *SitemapService) download(ctx context.Context, sitemapURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.SitemapFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", constants.UserAgent)
	req.Header.Set("Accept", "application/xml, text/xml, */*")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sitemap returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, constants.MaxSitemapBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read sitemap body: %w", err)
	}

	// sitemap.xml.gz
	if len(body) > 2 && body[0] == 0x1f && body[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip sitemap: %w", err)
		}
		defer func() { _ = zr.Close() }()
		body, err = io.ReadAll(io.LimitReader(zr, constants.MaxSitemapBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to decompress sitemap: %w", err)
		}
	}
	return body, nil
}

// ResolveSitemapURL returns the sitemap to fetch for a site: the configured
// one, or /sitemap.xml under the site root with any Search Console
// domain prefix mapped onto https.
func ResolveSitemapURL(site *models.Site) string {
	return site.EffectiveSitemapURL()
}

// DiffResult is the classification of a fresh sitemap against storage.
type DiffResult struct {
	SitemapURL string
	Entries    int
	New        []*models.TrackedURL
	Changed    []*models.TrackedURL
	Removed    []*models.TrackedURL
	Restored   int
	Unchanged  int
	// SkippedRemovals is set when the fetch came back empty for a site that
	// already has URLs; removals are not applied in that case.
	SkippedRemovals bool
}

// HasChanges reports whether the diff touched storage.
func (d *DiffResult) HasChanges() bool {
	return len(d.New) > 0 || len(d.Changed) > 0 || len(d.Removed) > 0 || d.Restored > 0
}

// Diff fetches the site's sitemap, classifies every URL as new, changed,
// removed or unchanged, and persists the result. New and changed URLs are
// reset to pending; removed URLs are flagged, never deleted.
func (s *SitemapService) Diff(ctx context.Context, site *models.Site) (*DiffResult, error) {
	sitemapURL := ResolveSitemapURL(site)
	entries := s.Fetch(ctx, sitemapURL)

	existing, err := s.urls.GetBySiteID(ctx, site.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tracked urls: %w", err)
	}

	result, batch := classify(entries, existing)
	result.SitemapURL = sitemapURL

	if len(entries) == 0 && len(existing) > 0 {
		s.logger.Warn("sitemap returned no URLs, keeping existing set",
			"site_id", site.ID,
			"sitemap_url", sitemapURL,
			"existing", len(existing),
		)
		result.Removed = nil
		result.SkippedRemovals = true
		batch.RemovedIDs = nil
	}

	if err := s.urls.ApplyDiff(ctx, site.ID, batch, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to apply sitemap diff: %w", err)
	}

	s.activity.recordURLs(ctx, site.UserID, site.ID, models.ActionDiscovered, result.New, func(u *models.TrackedURL) string { return u.URL })
	s.activity.recordURLs(ctx, site.UserID, site.ID, models.ActionChanged, result.Changed, func(u *models.TrackedURL) string { return u.URL })
	s.activity.recordURLs(ctx, site.UserID, site.ID, models.ActionRemoved, result.Removed, func(u *models.TrackedURL) string { return u.URL })

	s.logger.Info("sitemap diff applied",
		"site_id", site.ID,
		"entries", result.Entries,
		"new", len(result.New),
		"changed", len(result.Changed),
		"removed", len(result.Removed),
		"restored", result.Restored,
		"unchanged", result.Unchanged,
	)
	return result, nil
}

// classify compares fetched entries with stored rows. A stored URL counts as
// changed when the sitemap now carries a lastmod that differs from the one
// recorded; a sitemap without lastmod never marks a URL changed.
func classify(entries []SitemapURL, existing []*models.TrackedURL) (*DiffResult, repository.DiffBatch) {
	result := &DiffResult{Entries: len(entries)}
	var batch repository.DiffBatch

	stored := make(map[string]*models.TrackedURL, len(existing))
	for _, u := range existing {
		stored[u.URL] = u
	}

	present := make(map[string]bool, len(entries))
	for _, e := range entries {
		present[e.Loc] = true
		var lastMod *string
		if e.LastMod != "" {
			lm := e.LastMod
			lastMod = &lm
		}

		prev, ok := stored[e.Loc]
		switch {
		case !ok:
			u := &models.TrackedURL{URL: e.Loc, IsNew: true, LastModified: lastMod, IndexStatus: models.IndexStatusPending}
			result.New = append(result.New, u)
			batch.Upserts = append(batch.Upserts, u)
		case lastMod != nil && (prev.LastModified == nil || *prev.LastModified != *lastMod):
			u := &models.TrackedURL{ID: prev.ID, URL: e.Loc, IsChanged: true, LastModified: lastMod, IndexStatus: models.IndexStatusPending}
			result.Changed = append(result.Changed, u)
			batch.Upserts = append(batch.Upserts, u)
		case prev.IsRemoved:
			result.Restored++
			batch.RestoredIDs = append(batch.RestoredIDs, prev.ID)
		default:
			result.Unchanged++
		}
	}

	for _, u := range existing {
		if !present[u.URL] && !u.IsRemoved {
			result.Removed = append(result.Removed, u)
			batch.RemovedIDs = append(batch.RemovedIDs, u.ID)
		}
	}
	return result, batch
}
