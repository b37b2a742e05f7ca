package models

import (
	"encoding/json"
	"time"
)

// DailyReport summarises one site's indexing activity for one calendar day.
// There is at most one per (site, day); later runs overwrite it.
type DailyReport struct {
	ID                string          `json:"id"`
	SiteID            string          `json:"site_id"`
	ReportDate        string          `json:"report_date"` // YYYY-MM-DD, UTC
	NewCount          int             `json:"new_count"`
	ChangedCount      int             `json:"changed_count"`
	RemovedCount      int             `json:"removed_count"`
	GoogleSubmitted   int             `json:"google_submitted"`
	GoogleFailed      int             `json:"google_failed"`
	GoogleRateLimited int             `json:"google_rate_limited"`
	IndexNowSubmitted int             `json:"indexnow_submitted"`
	IndexNowFailed    int             `json:"indexnow_failed"`
	DeadCount         int             `json:"dead_count"`
	IndexedCount      int             `json:"indexed_count"`
	TotalCount        int             `json:"total_count"`
	CreditsUsed       int64           `json:"credits_used"`
	CreditsRemaining  int64           `json:"credits_remaining"`
	Details           json.RawMessage `json:"details,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// HasActivity reports whether anything in the report is worth telling the
// site owner about.
func (r *DailyReport) HasActivity() bool {
	return r.NewCount > 0 ||
		r.GoogleSubmitted > 0 || r.IndexNowSubmitted > 0 ||
		r.GoogleFailed > 0 || r.IndexNowFailed > 0 ||
		r.DeadCount > 0
}
