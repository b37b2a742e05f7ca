// Package worker runs on-demand site runs in the background so API
// requests return immediately.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/autoindex-api/internal/metrics"
	"github.com/jmylchreest/autoindex-api/internal/models"
)

var (
	// ErrQueueFull is returned when no more runs can be queued.
	ErrQueueFull = errors.New("run queue is full")

	// ErrAlreadyQueued is returned with the existing run when the site is
	// already queued or running.
	ErrAlreadyQueued = errors.New("site run already queued")

	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("worker stopped")
)

// SiteRunner runs the indexing pipeline for one site.
type SiteRunner interface {
	RunSite(ctx context.Context, siteID string) (*models.DailyReport, error)
}

// RunStatus is the lifecycle state of a queued run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is one manual site run.
type Run struct {
	ID         string              `json:"id"`
	UserID     string              `json:"user_id"`
	SiteID     string              `json:"site_id"`
	Status     RunStatus           `json:"status"`
	Error      string              `json:"error,omitempty"`
	Report     *models.DailyReport `json:"report,omitempty"`
	QueuedAt   time.Time           `json:"queued_at"`
	StartedAt  *time.Time          `json:"started_at,omitempty"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
}

func (r *Run) finished() bool {
	return r.Status == RunCompleted || r.Status == RunFailed
}

// Worker processes manual site runs.
type Worker struct {
	runner      SiteRunner
	queue       chan *Run
	concurrency int
	runTimeout  time.Duration
	retention   time.Duration

	mu      sync.Mutex
	runs    map[string]*Run
	stopped bool
	active  atomic.Int32

	stop    chan struct{}
	wg      sync.WaitGroup
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Config holds worker configuration.
type Config struct {
	Concurrency int
	QueueSize   int
	RunTimeout  time.Duration
	// Retention is how long finished runs stay visible to Get.
	Retention time.Duration
}

// New creates a new worker.
func New(runner SiteRunner, m *metrics.Metrics, cfg Config, logger *slog.Logger) *Worker {
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 2
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 100
	}
	if cfg.RunTimeout == 0 {
		cfg.RunTimeout = 30 * time.Minute
	}
	if cfg.Retention == 0 {
		cfg.Retention = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		runner:      runner,
		queue:       make(chan *Run, cfg.QueueSize),
		concurrency: cfg.Concurrency,
		runTimeout:  cfg.RunTimeout,
		retention:   cfg.Retention,
		runs:        make(map[string]*Run),
		stop:        make(chan struct{}),
		metrics:     m,
		logger:      logger.With("component", "worker"),
		now:         time.Now,
	}
}

// Start begins processing runs.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("starting", "concurrency", w.concurrency)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.runWorker(ctx, i)
	}
}

// Stop refuses new runs and waits for in-flight ones. Runs still queued are
// marked failed.
func (w *Worker) Stop() {
	w.logger.Info("stopping")
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()

	close(w.stop)
	w.wg.Wait()

	for {
		select {
		case run := <-w.queue:
			w.finish(run, nil, ErrStopped)
		default:
			w.logger.Info("stopped")
			return
		}
	}
}

// Enqueue queues a run for the site. If the site already has a queued or
// running run, that run is returned with ErrAlreadyQueued.
func (w *Worker) Enqueue(userID, siteID string) (*Run, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil, ErrStopped
	}
	w.prune()

	for _, r := range w.runs {
		if r.SiteID == siteID && !r.finished() {
			cp := *r
			return &cp, ErrAlreadyQueued
		}
	}

	run := &Run{
		ID:       ulid.Make().String(),
		UserID:   userID,
		SiteID:   siteID,
		Status:   RunQueued,
		QueuedAt: w.now().UTC(),
	}
	select {
	case w.queue <- run:
	default:
		return nil, ErrQueueFull
	}
	w.runs[run.ID] = run
	w.metrics.QueueDepth(len(w.queue))

	w.logger.Info("run queued", "run_id", run.ID, "site_id", siteID, "user_id", userID)
	cp := *run
	return &cp, nil
}

// Get returns a snapshot of a run.
func (w *Worker) Get(id string) (*Run, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.runs[id]
	if !ok {
		return nil, false
	}
	cp := *r
	return &cp, true
}

// Busy reports whether any run is queued or in progress.
func (w *Worker) Busy() bool {
	return w.active.Load() > 0 || len(w.queue) > 0
}

func (w *Worker) runWorker(ctx context.Context, workerID int) {
	defer w.wg.Done()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case run := <-w.queue:
			w.metrics.QueueDepth(len(w.queue))
			w.process(ctx, workerID, run)
		}
	}
}

func (w *Worker) process(ctx context.Context, workerID int, run *Run) {
	w.active.Add(1)
	defer w.active.Add(-1)

	w.mu.Lock()
	started := w.now().UTC()
	run.Status = RunRunning
	run.StartedAt = &started
	w.mu.Unlock()

	w.logger.Info("processing run", "worker_id", workerID, "run_id", run.ID, "site_id", run.SiteID)

	ctx, cancel := context.WithTimeout(ctx, w.runTimeout)
	defer cancel()

	report, err := w.runner.RunSite(ctx, run.SiteID)
	w.finish(run, report, err)
}

func (w *Worker) finish(run *Run, report *models.DailyReport, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	finished := w.now().UTC()
	run.FinishedAt = &finished
	run.Report = report
	if err != nil {
		run.Status = RunFailed
		run.Error = err.Error()
		w.logger.Error("run failed", "run_id", run.ID, "site_id", run.SiteID, "error", err)
		return
	}
	run.Status = RunCompleted
	w.logger.Info("completed run", "run_id", run.ID, "site_id", run.SiteID)
}

// prune drops finished runs older than the retention window. Caller holds mu.
func (w *Worker) prune() {
	cutoff := w.now().Add(-w.retention)
	for id, r := range w.runs {
		if r.finished() && r.FinishedAt.Before(cutoff) {
			delete(w.runs, id)
		}
	}
}
