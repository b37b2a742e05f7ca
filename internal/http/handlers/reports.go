package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/autoindex-api/internal/models"
)

// ReportReader reads daily reports.
type ReportReader interface {
	Get(ctx context.Context, siteID, day string) (*models.DailyReport, error)
	List(ctx context.Context, siteID string, limit int) ([]*models.DailyReport, error)
}

// SiteLookup resolves a site the user owns.
type SiteLookup interface {
	Get(ctx context.Context, userID, siteID string) (*models.Site, error)
}

// ReportsHandler handles report endpoints.
type ReportsHandler struct {
	sites   SiteLookup
	reports ReportReader
}

// NewReportsHandler creates a new reports handler.
func NewReportsHandler(sites SiteLookup, reports ReportReader) *ReportsHandler {
	return &ReportsHandler{sites: sites, reports: reports}
}

// ListReportsInput selects a site's reports.
type ListReportsInput struct {
	ID    string `path:"id" doc:"Site ID"`
	Limit int    `query:"limit" default:"30" minimum:"1" maximum:"500"`
}

// ListReportsOutput represents the report history.
type ListReportsOutput struct {
	Body struct {
		Reports []*models.DailyReport `json:"reports"`
	}
}

// ListReports returns the site's most recent daily reports.
func (h *ReportsHandler) ListReports(ctx context.Context, input *ListReportsInput) (*ListReportsOutput, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := h.sites.Get(ctx, userID, input.ID); err != nil {
		return nil, toHumaError(err, "list reports")
	}
	reports, err := h.reports.List(ctx, input.ID, input.Limit)
	if err != nil {
		return nil, toHumaError(err, "list reports")
	}
	out := &ListReportsOutput{}
	out.Body.Reports = nonNil(reports)
	return out, nil
}

// GetReportInput selects one day.
type GetReportInput struct {
	ID  string `path:"id" doc:"Site ID"`
	Day string `path:"day" pattern:"^\\d{4}-\\d{2}-\\d{2}$" doc:"UTC day (YYYY-MM-DD)"`
}

// GetReportOutput is a single report.
type GetReportOutput struct {
	Body *models.DailyReport
}

// GetReport returns the report for one day, including its details.
func (h *ReportsHandler) GetReport(ctx context.Context, input *GetReportInput) (*GetReportOutput, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := h.sites.Get(ctx, userID, input.ID); err != nil {
		return nil, toHumaError(err, "get report")
	}
	report, err := h.reports.Get(ctx, input.ID, input.Day)
	if err != nil {
		return nil, toHumaError(err, "get report")
	}
	if report == nil {
		return nil, huma.Error404NotFound("report not found")
	}
	return &GetReportOutput{Body: report}, nil
}
