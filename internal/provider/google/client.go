// Package google is a client for the Google Indexing API, the URL Inspection
// API and the Search Console site listings. Every call takes the user's OAuth
// bearer token; acquiring it is the caller's job.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/jmylchreest/autoindex-api/internal/constants"
	"github.com/jmylchreest/autoindex-api/internal/provider"
)

// ProviderName identifies this provider in errors and metrics.
const ProviderName = "google"

// Default endpoints.
const (
	DefaultIndexingBaseURL   = "https://indexing.googleapis.com"
	DefaultInspectionBaseURL = "https://searchconsole.googleapis.com"
	DefaultWebmastersBaseURL = "https://www.googleapis.com/webmasters/v3"
)

// NotificationType is the Indexing API notification kind.
type NotificationType string

const (
	NotificationUpdated NotificationType = "URL_UPDATED"
	NotificationDeleted NotificationType = "URL_DELETED"
)

// Config configures the client.
type Config struct {
	IndexingBaseURL   string
	InspectionBaseURL string
	WebmastersBaseURL string
	// RequestsPerSecond paces outbound calls across all users. Zero disables pacing.
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// Client talks to Google's indexing-related APIs.
type Client struct {
	indexingBase   string
	inspectionBase string
	webmastersBase string
	limiter        *rate.Limiter
	httpClient     *http.Client
}

// NewClient creates a Google API client.
func NewClient(cfg Config) *Client {
	c := &Client{
		indexingBase:   orDefault(cfg.IndexingBaseURL, DefaultIndexingBaseURL),
		inspectionBase: orDefault(cfg.InspectionBaseURL, DefaultInspectionBaseURL),
		webmastersBase: orDefault(cfg.WebmastersBaseURL, DefaultWebmastersBaseURL),
		httpClient:     cfg.HTTPClient,
		limiter:        rate.NewLimiter(rate.Inf, 1),
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: constants.ProviderTimeout}
	}
	return c
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// ========================================
// Indexing API
// ========================================

type publishRequest struct {
	URL  string           `json:"url"`
	Type NotificationType `json:"type"`
}

// Publish notifies the Indexing API that a URL was updated or deleted.
func (c *Client) Publish(ctx context.Context, token, pageURL string, typ NotificationType) error {
	body, err := json.Marshal(publishRequest{URL: pageURL, Type: typ})
	if err != nil {
		return fmt.Errorf("failed to marshal publish request: %w", err)
	}
	return c.do(ctx, http.MethodPost, c.indexingBase+"/v3/urlNotifications:publish", token, body, nil)
}

// ========================================
// URL Inspection API
// ========================================

// InspectionResult is the subset of the inspection response we persist.
type InspectionResult struct {
	Verdict       string `json:"verdict"`
	CoverageState string `json:"coverageState"`
	LastCrawlTime string `json:"lastCrawlTime,omitempty"`
}

type inspectRequest struct {
	InspectionURL string `json:"inspectionUrl"`
	SiteURL       string `json:"siteUrl"`
}

type inspectResponse struct {
	InspectionResult struct {
		IndexStatusResult InspectionResult `json:"indexStatusResult"`
	} `json:"inspectionResult"`
}

// Inspect returns the index coverage of one URL within a Search Console property.
func (c *Client) Inspect(ctx context.Context, token, siteURL, pageURL string) (*InspectionResult, error) {
	body, err := json.Marshal(inspectRequest{InspectionURL: pageURL, SiteURL: siteURL})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal inspect request: %w", err)
	}
	var resp inspectResponse
	if err := c.do(ctx, http.MethodPost, c.inspectionBase+"/v1/urlInspection/index:inspect", token, body, &resp); err != nil {
		return nil, err
	}
	result := resp.InspectionResult.IndexStatusResult
	return &result, nil
}

// ========================================
// Search Console properties
// ========================================

// SiteEntry is a Search Console property.
type SiteEntry struct {
	SiteURL         string `json:"siteUrl"`
	PermissionLevel string `json:"permissionLevel"`
}

// Verified reports whether the user has a verified permission on the property.
func (s SiteEntry) Verified() bool {
	return s.PermissionLevel != "" && s.PermissionLevel != "siteUnverifiedUser"
}

// ListSites returns the user's Search Console properties.
func (c *Client) ListSites(ctx context.Context, token string) ([]SiteEntry, error) {
	var resp struct {
		SiteEntry []SiteEntry `json:"siteEntry"`
	}
	if err := c.do(ctx, http.MethodGet, c.webmastersBase+"/sites", token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.SiteEntry, nil
}

// SitemapEntry is a sitemap submitted to Search Console.
type SitemapEntry struct {
	Path            string `json:"path"`
	IsSitemapsIndex bool   `json:"isSitemapsIndex"`
	IsPending       bool   `json:"isPending"`
}

// ListSitemaps returns sitemaps submitted for a property.
func (c *Client) ListSitemaps(ctx context.Context, token, siteURL string) ([]SitemapEntry, error) {
	var resp struct {
		Sitemap []SitemapEntry `json:"sitemap"`
	}
	endpoint := c.webmastersBase + "/sites/" + url.PathEscape(siteURL) + "/sitemaps"
	if err := c.do(ctx, http.MethodGet, endpoint, token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sitemap, nil
}

// ========================================
// Transport
// ========================================

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, endpoint, token string, body []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return provider.NetworkError(ProviderName, err)
	}

	ctx, cancel := context.WithTimeout(ctx, constants.ProviderTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return provider.NetworkError(ProviderName, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return provider.NetworkError(ProviderName, fmt.Errorf("read body after %s: %w", time.Since(start), err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		msg := ""
		if json.Unmarshal(respBody, &apiErr) == nil {
			msg = apiErr.Error.Message
		}
		return provider.StatusError(ProviderName, resp.StatusCode, msg)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", ProviderName, err)
		}
	}
	return nil
}
