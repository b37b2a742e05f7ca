// Package models defines the domain models for the application.
// User management and OAuth tokens are handled by Clerk. The UserID fields
// reference Clerk user IDs (e.g., "user_xxx").
package models

import (
	"net/url"
	"strings"
	"time"
)

// DomainPrefixSearchConsole marks a domain property imported from Search Console.
const DomainPrefixSearchConsole = "sc-domain:"

// Site is a website owned by one user and tracked for indexing.
type Site struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"` // Clerk user ID
	Domain          string     `json:"domain"`  // e.g. "sc-domain:example.com" or "https://example.com/"
	SitemapURL      string     `json:"sitemap_url,omitempty"`
	GoogleEnabled   bool       `json:"google_enabled"`
	IndexNowEnabled bool       `json:"indexnow_enabled"`
	IndexNowKeyEnc  string     `json:"-"` // AES-GCM encrypted IndexNow key
	LastSyncedAt    *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// AutoIndexEnabled reports whether any engine is switched on for the site.
func (s *Site) AutoIndexEnabled() bool {
	return s.GoogleEnabled || s.IndexNowEnabled
}

// RootURL returns the site's root as an absolute URL with a trailing slash.
// Domain properties ("sc-domain:example.com") are mapped onto HTTPS.
func (s *Site) RootURL() string {
	domain := strings.TrimSpace(s.Domain)
	if rest, ok := strings.CutPrefix(domain, DomainPrefixSearchConsole); ok {
		domain = "https://" + rest
	}
	if !strings.HasPrefix(domain, "http://") && !strings.HasPrefix(domain, "https://") {
		domain = "https://" + domain
	}
	if !strings.HasSuffix(domain, "/") {
		domain += "/"
	}
	return domain
}

// Host returns the host (and port, if any) of the site. Any path on a
// URL-prefix property is dropped.
func (s *Site) Host() string {
	root := s.RootURL()
	u, err := url.Parse(root)
	if err != nil || u.Host == "" {
		root = strings.TrimPrefix(root, "https://")
		root = strings.TrimPrefix(root, "http://")
		host, _, _ := strings.Cut(root, "/")
		return host
	}
	return u.Host
}

// DefaultSitemapURL is the best-effort sitemap location for a site with
// none configured.
func (s *Site) DefaultSitemapURL() string {
	return s.RootURL() + "sitemap.xml"
}

// EffectiveSitemapURL returns the configured sitemap or the default.
func (s *Site) EffectiveSitemapURL() string {
	if s.SitemapURL != "" {
		return s.SitemapURL
	}
	return s.DefaultSitemapURL()
}

// IndexStatus is the internal indexing state of a tracked URL.
type IndexStatus string

const (
	IndexStatusNone      IndexStatus = "none"
	IndexStatusPending   IndexStatus = "pending"
	IndexStatusSubmitted IndexStatus = "submitted"
	IndexStatusFailed    IndexStatus = "failed"
)

// SubmissionMethod records which provider accepted a URL.
type SubmissionMethod string

const (
	SubmissionMethodNone     SubmissionMethod = "none"
	SubmissionMethodGoogle   SubmissionMethod = "google"
	SubmissionMethodIndexNow SubmissionMethod = "indexnow"
)

// TrackedURL is a page discovered in a site's sitemap.
type TrackedURL struct {
	ID               string           `json:"id"`
	SiteID           string           `json:"site_id"`
	URL              string           `json:"url"`
	CoverageState    *string          `json:"coverage_state,omitempty"` // Opaque Search Console coverage state
	IndexStatus      IndexStatus      `json:"index_status"`
	SubmissionMethod SubmissionMethod `json:"submission_method"`
	SubmittedAt      *time.Time       `json:"submitted_at,omitempty"`
	LastSyncedAt     *time.Time       `json:"last_synced_at,omitempty"`
	HTTPStatus       *int             `json:"http_status,omitempty"`
	ErrorMessage     *string          `json:"error_message,omitempty"`
	IsNew            bool             `json:"is_new"`
	IsChanged        bool             `json:"is_changed"`
	IsRemoved        bool             `json:"is_removed"`
	RetryCount       int              `json:"retry_count"`
	LastModified     *string          `json:"last_modified,omitempty"` // Sitemap lastmod hint, stored verbatim
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// IsIndexed reports whether the last known coverage state means the page
// is in the index.
func (u *TrackedURL) IsIndexed() bool {
	if u.CoverageState == nil {
		return false
	}
	return IsIndexedCoverage(*u.CoverageState)
}

// IsIndexedCoverage classifies a Search Console coverage state string.
func IsIndexedCoverage(state string) bool {
	s := strings.ToLower(state)
	return strings.Contains(s, "indexed") && !strings.Contains(s, "not indexed")
}

// ActivityAction tags an activity log entry.
type ActivityAction string

const (
	ActionDiscovered        ActivityAction = "discovered"
	ActionChanged           ActivityAction = "changed"
	ActionRemoved           ActivityAction = "removed"
	ActionDead              ActivityAction = "dead"
	ActionRedirect          ActivityAction = "redirect"
	ActionSubmittedGoogle   ActivityAction = "submitted_google"
	ActionSubmittedIndexNow ActivityAction = "submitted_indexnow"
	ActionSubmitFailed      ActivityAction = "submit_failed"
	ActionRateLimited       ActivityAction = "rate_limited"
	ActionTokenError        ActivityAction = "token_error"
	ActionChargeFailed      ActivityAction = "charge_failed"
	ActionInspected         ActivityAction = "inspected"
	ActionSiteSynced        ActivityAction = "site_synced"
)

// ActivityLogEntry is an append-only audit record.
type ActivityLogEntry struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	SiteID    *string        `json:"site_id,omitempty"`
	URLID     *string        `json:"url_id,omitempty"`
	Action    ActivityAction `json:"action"`
	Details   string         `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// JobResult is the outcome of a scheduled job run.
type JobResult string

const (
	JobResultSuccess JobResult = "success"
	JobResultPartial JobResult = "partial"
	JobResultFailure JobResult = "failure"
)

// Scheduled job names.
const (
	JobDailyIndex     = "daily-index"
	JobRetryFailed    = "retry-failed"
	JobCoverageResync = "coverage-resync"
)

// JobRun is the last-run record for a named scheduled job.
type JobRun struct {
	JobName     string    `json:"job_name"`
	LastRunAt   time.Time `json:"last_run_at"`
	LastResult  JobResult `json:"last_result"`
	LastSummary string    `json:"last_summary"`
	DurationMS  int64     `json:"duration_ms"`
	UpdatedAt   time.Time `json:"updated_at"`
}
