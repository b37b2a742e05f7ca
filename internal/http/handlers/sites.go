package handlers

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/autoindex-api/internal/models"
	"github.com/jmylchreest/autoindex-api/internal/repository"
	"github.com/jmylchreest/autoindex-api/internal/service"
	"github.com/jmylchreest/autoindex-api/internal/worker"
)

// SiteManager is the subset of the site service used by the API.
type SiteManager interface {
	SyncFromSearchConsole(ctx context.Context, userID string) ([]*models.Site, error)
	List(ctx context.Context, userID string) ([]*models.Site, error)
	Get(ctx context.Context, userID, siteID string) (*models.Site, error)
	Update(ctx context.Context, userID, siteID string, settings service.EngineSettings) (*models.Site, error)
	IndexNowKey(ctx context.Context, userID, siteID string) (key, location string, err error)
	Delete(ctx context.Context, userID, siteID string) error
	URLs(ctx context.Context, userID, siteID string, filter repository.URLFilter) ([]*models.TrackedURL, error)
	Activity(ctx context.Context, userID, siteID string, limit int) ([]*models.ActivityLogEntry, error)
}

// RunQueue queues on-demand site runs.
type RunQueue interface {
	Enqueue(userID, siteID string) (*worker.Run, error)
	Get(id string) (*worker.Run, bool)
}

// SitesHandler handles site endpoints.
type SitesHandler struct {
	sites SiteManager
	runs  RunQueue
}

// NewSitesHandler creates a new sites handler.
func NewSitesHandler(sites SiteManager, runs RunQueue) *SitesHandler {
	return &SitesHandler{sites: sites, runs: runs}
}

// SiteIDInput identifies a site in the path.
type SiteIDInput struct {
	ID string `path:"id" doc:"Site ID"`
}

// ListSitesOutput represents list sites response.
type ListSitesOutput struct {
	Body struct {
		Sites []*models.Site `json:"sites" doc:"Sites tracked by the user"`
	}
}

// ListSites returns the user's sites.
func (h *SitesHandler) ListSites(ctx context.Context, input *struct{}) (*ListSitesOutput, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	sites, err := h.sites.List(ctx, userID)
	if err != nil {
		return nil, toHumaError(err, "list sites")
	}
	out := &ListSitesOutput{}
	out.Body.Sites = nonNil(sites)
	return out, nil
}

// SyncSites imports the user's verified properties from Search Console.
func (h *SitesHandler) SyncSites(ctx context.Context, input *struct{}) (*ListSitesOutput, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	sites, err := h.sites.SyncFromSearchConsole(ctx, userID)
	if err != nil {
		return nil, toHumaError(err, "sync sites")
	}
	out := &ListSitesOutput{}
	out.Body.Sites = nonNil(sites)
	return out, nil
}

// SiteOutput is a single site response.
type SiteOutput struct {
	Body *models.Site
}

// GetSite returns one site.
func (h *SitesHandler) GetSite(ctx context.Context, input *SiteIDInput) (*SiteOutput, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	site, err := h.sites.Get(ctx, userID, input.ID)
	if err != nil {
		return nil, toHumaError(err, "get site")
	}
	return &SiteOutput{Body: site}, nil
}

// UpdateSiteInput toggles engines and sets the sitemap URL. Omitted fields
// are left unchanged.
type UpdateSiteInput struct {
	ID   string `path:"id" doc:"Site ID"`
	Body struct {
		GoogleEnabled   *bool   `json:"google_enabled,omitempty" doc:"Submit through the Google Indexing API"`
		IndexNowEnabled *bool   `json:"indexnow_enabled,omitempty" doc:"Submit through IndexNow"`
		SitemapURL      *string `json:"sitemap_url,omitempty" doc:"Sitemap to watch" format:"uri"`
	}
}

// UpdateSiteOutput carries the stored site and any key verification warning.
type UpdateSiteOutput struct {
	Body struct {
		Site    *models.Site `json:"site"`
		Warning string       `json:"warning,omitempty" doc:"Set when the IndexNow key file could not be verified"`
	}
}

// UpdateSite applies engine settings.
func (h *SitesHandler) UpdateSite(ctx context.Context, input *UpdateSiteInput) (*UpdateSiteOutput, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	site, err := h.sites.Update(ctx, userID, input.ID, service.EngineSettings{
		Google:     input.Body.GoogleEnabled,
		IndexNow:   input.Body.IndexNowEnabled,
		SitemapURL: input.Body.SitemapURL,
	})
	out := &UpdateSiteOutput{}
	switch {
	case errors.Is(err, service.ErrKeyNotVerified) && site != nil:
		out.Body.Warning = err.Error()
	case err != nil:
		return nil, toHumaError(err, "update site")
	}
	out.Body.Site = site
	return out, nil
}

// DeleteSiteOutput confirms a deletion.
type DeleteSiteOutput struct {
	Body struct {
		Deleted bool `json:"deleted"`
	}
}

// DeleteSite removes a site and everything tracked under it.
func (h *SitesHandler) DeleteSite(ctx context.Context, input *SiteIDInput) (*DeleteSiteOutput, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.sites.Delete(ctx, userID, input.ID); err != nil {
		return nil, toHumaError(err, "delete site")
	}
	out := &DeleteSiteOutput{}
	out.Body.Deleted = true
	return out, nil
}

// IndexNowKeyOutput tells the owner which key file to publish.
type IndexNowKeyOutput struct {
	Body struct {
		Key         string `json:"key" doc:"IndexNow key"`
		KeyLocation string `json:"key_location" doc:"URL the key file must be served from"`
	}
}

// GetIndexNowKey returns the site's IndexNow key, creating one if needed.
func (h *SitesHandler) GetIndexNowKey(ctx context.Context, input *SiteIDInput) (*IndexNowKeyOutput, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	key, location, err := h.sites.IndexNowKey(ctx, userID, input.ID)
	if err != nil {
		return nil, toHumaError(err, "get indexnow key")
	}
	out := &IndexNowKeyOutput{}
	out.Body.Key = key
	out.Body.KeyLocation = location
	return out, nil
}

// RunOutput describes a queued or finished on-demand run.
type RunOutput struct {
	Body struct {
		Run     *worker.Run `json:"run"`
		Existed bool        `json:"existed,omitempty" doc:"True when the site already had a run in flight"`
	}
}

// RunSite queues an immediate pipeline run for one site.
func (h *SitesHandler) RunSite(ctx context.Context, input *SiteIDInput) (*RunOutput, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	if h.runs == nil {
		return nil, huma.Error503ServiceUnavailable("run queue not available")
	}
	if _, err := h.sites.Get(ctx, userID, input.ID); err != nil {
		return nil, toHumaError(err, "run site")
	}

	run, err := h.runs.Enqueue(userID, input.ID)
	out := &RunOutput{}
	switch {
	case errors.Is(err, worker.ErrAlreadyQueued):
		out.Body.Existed = true
	case err != nil:
		return nil, toHumaError(err, "queue run")
	}
	out.Body.Run = run
	return out, nil
}

// GetRunInput identifies a run.
type GetRunInput struct {
	ID    string `path:"id" doc:"Site ID"`
	RunID string `path:"run_id" doc:"Run ID"`
}

// GetRun returns the state of an on-demand run.
func (h *SitesHandler) GetRun(ctx context.Context, input *GetRunInput) (*RunOutput, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	if h.runs == nil {
		return nil, huma.Error404NotFound("run not found")
	}
	run, ok := h.runs.Get(input.RunID)
	if !ok || run.UserID != userID || run.SiteID != input.ID {
		return nil, huma.Error404NotFound("run not found")
	}
	out := &RunOutput{}
	out.Body.Run = run
	return out, nil
}

// ListURLsInput filters a site's tracked URLs.
type ListURLsInput struct {
	ID             string `path:"id" doc:"Site ID"`
	Status         string `query:"status" enum:"none,pending,submitted,failed" required:"false" doc:"Filter by index status"`
	IncludeRemoved bool   `query:"include_removed" doc:"Include URLs no longer in the sitemap"`
	Limit          int    `query:"limit" default:"100" minimum:"1" maximum:"1000"`
	Offset         int    `query:"offset" default:"0" minimum:"0"`
}

// ListURLsOutput represents the tracked URL page.
type ListURLsOutput struct {
	Body struct {
		URLs []*models.TrackedURL `json:"urls"`
	}
}

// ListURLs returns a page of tracked URLs.
func (h *SitesHandler) ListURLs(ctx context.Context, input *ListURLsInput) (*ListURLsOutput, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	urls, err := h.sites.URLs(ctx, userID, input.ID, repository.URLFilter{
		Status:         models.IndexStatus(input.Status),
		IncludeRemoved: input.IncludeRemoved,
		Limit:          input.Limit,
		Offset:         input.Offset,
	})
	if err != nil {
		return nil, toHumaError(err, "list urls")
	}
	out := &ListURLsOutput{}
	out.Body.URLs = nonNil(urls)
	return out, nil
}

// ListActivityInput limits the activity feed.
type ListActivityInput struct {
	ID    string `path:"id" doc:"Site ID"`
	Limit int    `query:"limit" default:"50" minimum:"1" maximum:"100"`
}

// ListActivityOutput represents the activity feed.
type ListActivityOutput struct {
	Body struct {
		Activity []*models.ActivityLogEntry `json:"activity"`
	}
}

// ListActivity returns the newest activity entries for a site.
func (h *SitesHandler) ListActivity(ctx context.Context, input *ListActivityInput) (*ListActivityOutput, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := h.sites.Activity(ctx, userID, input.ID, input.Limit)
	if err != nil {
		return nil, toHumaError(err, "list activity")
	}
	out := &ListActivityOutput{}
	out.Body.Activity = nonNil(entries)
	return out, nil
}

// nonNil keeps empty lists serialising as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
