package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jmylchreest/autoindex-api/internal/models"
	"github.com/jmylchreest/autoindex-api/internal/service"
)

// JobRunner runs the scheduled jobs.
type JobRunner interface {
	RunDaily(ctx context.Context) (*service.JobSummary, error)
	RetryFailed(ctx context.Context) (*service.JobSummary, error)
	ResyncCoverage(ctx context.Context) (*service.JobSummary, error)
	JobRuns(ctx context.Context) ([]*models.JobRun, error)
}

// BusyReporter reports whether on-demand runs are in flight.
type BusyReporter interface {
	Busy() bool
}

// Job names accepted by the cron endpoints.
const (
	JobDaily          = "daily"
	JobRetryFailed    = "retry-failed"
	JobResyncCoverage = "resync-coverage"
)

// JobsHandler serves job status and the cron triggers.
type JobsHandler struct {
	jobs   JobRunner
	queue  BusyReporter
	logger *slog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(jobs JobRunner, queue BusyReporter, logger *slog.Logger) *JobsHandler {
	return &JobsHandler{jobs: jobs, queue: queue, logger: logger.With("component", "cron")}
}

// JobStatusOutput reports the last outcome of every job.
type JobStatusOutput struct {
	Body struct {
		Jobs      []*models.JobRun `json:"jobs"`
		QueueBusy bool             `json:"queue_busy" doc:"On-demand site runs are queued or running"`
	}
}

// GetJobStatus returns the last run of each scheduled job.
func (h *JobsHandler) GetJobStatus(ctx context.Context, input *struct{}) (*JobStatusOutput, error) {
	runs, err := h.jobs.JobRuns(ctx)
	if err != nil {
		return nil, toHumaError(err, "list job runs")
	}
	out := &JobStatusOutput{}
	out.Body.Jobs = nonNil(runs)
	if h.queue != nil {
		out.Body.QueueBusy = h.queue.Busy()
	}
	return out, nil
}

func (h *JobsHandler) job(name string) func(context.Context) (*service.JobSummary, error) {
	switch name {
	case JobDaily:
		return h.jobs.RunDaily
	case JobRetryFailed:
		return h.jobs.RetryFailed
	case JobResyncCoverage:
		return h.jobs.ResyncCoverage
	}
	return nil
}

// Cron returns a raw handler that runs the named job synchronously and
// writes its summary. Authentication is applied by the router.
func (h *JobsHandler) Cron(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run := h.job(name)
		if run == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown job"})
			return
		}

		h.logger.Info("cron trigger received", "job", name)
		summary, err := run(r.Context())
		switch {
		case errors.Is(err, service.ErrJobRunning):
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		case err != nil:
			h.logger.Error("cron job failed", "job", name, "error", err)
			if summary != nil {
				writeJSON(w, http.StatusInternalServerError, summary)
				return
			}
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		default:
			writeJSON(w, http.StatusOK, summary)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
