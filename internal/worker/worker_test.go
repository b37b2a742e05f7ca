package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmylchreest/autoindex-api/internal/models"
)

// ========================================
// Fakes
// ========================================

type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	release chan struct{}
	err     error
}

func (f *fakeRunner) RunSite(ctx context.Context, siteID string) (*models.DailyReport, error) {
	f.mu.Lock()
	f.calls = append(f.calls, siteID)
	release := f.release
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &models.DailyReport{SiteID: siteID, GoogleSubmitted: 2}, nil
}

func waitFor(t *testing.T, w *Worker, id string, want RunStatus) *Run {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r, ok := w.Get(id); ok && r.Status == want {
			return r
		}
		time.Sleep(5 * time.Millisecond)
	}
	r, _ := w.Get(id)
	t.Fatalf("run %s status = %+v, want %s", id, r, want)
	return nil
}

// ========================================
// New Worker Tests
// ========================================

func TestNew_Defaults(t *testing.T) {
	w := New(nil, nil, Config{}, nil)

	if w.concurrency != 2 {
		t.Errorf("concurrency = %d, want 2 (default)", w.concurrency)
	}
	if cap(w.queue) != 100 {
		t.Errorf("queue size = %d, want 100 (default)", cap(w.queue))
	}
	if w.runTimeout != 30*time.Minute {
		t.Errorf("runTimeout = %v, want 30m", w.runTimeout)
	}
	if w.logger == nil {
		t.Error("logger should be set to default")
	}
}

func TestNew_CustomConfig(t *testing.T) {
	w := New(nil, nil, Config{Concurrency: 4, QueueSize: 7, RunTimeout: time.Minute, Retention: time.Second}, nil)

	if w.concurrency != 4 || cap(w.queue) != 7 || w.runTimeout != time.Minute || w.retention != time.Second {
		t.Errorf("config not applied: %+v", w)
	}
}

// ========================================
// Run Lifecycle Tests
// ========================================

func TestWorker_RunCompletes(t *testing.T) {
	runner := &fakeRunner{}
	w := New(runner, nil, Config{Concurrency: 1}, nil)
	w.Start(context.Background())
	defer w.Stop()

	run, err := w.Enqueue("user-1", "site-1")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if run.Status != RunQueued || run.ID == "" {
		t.Errorf("queued run = %+v", run)
	}

	done := waitFor(t, w, run.ID, RunCompleted)
	if done.Report == nil || done.Report.GoogleSubmitted != 2 {
		t.Errorf("report = %+v", done.Report)
	}
	if done.StartedAt == nil || done.FinishedAt == nil {
		t.Error("timestamps not set")
	}
}

func TestWorker_RunFails(t *testing.T) {
	runner := &fakeRunner{err: errors.New("sitemap unreachable")}
	w := New(runner, nil, Config{Concurrency: 1}, nil)
	w.Start(context.Background())
	defer w.Stop()

	run, _ := w.Enqueue("user-1", "site-1")
	failed := waitFor(t, w, run.ID, RunFailed)
	if failed.Error != "sitemap unreachable" {
		t.Errorf("error = %q", failed.Error)
	}
}

func TestWorker_DeduplicatesSite(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	w := New(runner, nil, Config{Concurrency: 1}, nil)
	w.Start(context.Background())
	defer w.Stop()

	first, err := w.Enqueue("user-1", "site-1")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, w, first.ID, RunRunning)
	if !w.Busy() {
		t.Error("worker not busy while running")
	}

	second, err := w.Enqueue("user-1", "site-1")
	if !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("err = %v, want ErrAlreadyQueued", err)
	}
	if second.ID != first.ID {
		t.Error("duplicate enqueue returned a different run")
	}

	other, err := w.Enqueue("user-1", "site-2")
	if err != nil {
		t.Fatalf("other site: %v", err)
	}

	close(runner.release)
	waitFor(t, w, first.ID, RunCompleted)
	waitFor(t, w, other.ID, RunCompleted)

	if _, err := w.Enqueue("user-1", "site-1"); err != nil {
		t.Errorf("re-enqueue after completion: %v", err)
	}
}

func TestWorker_QueueFull(t *testing.T) {
	w := New(&fakeRunner{}, nil, Config{QueueSize: 2}, nil)

	for i, site := range []string{"a", "b"} {
		if _, err := w.Enqueue("user-1", site); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}
	if _, err := w.Enqueue("user-1", "c"); !errors.Is(err, ErrQueueFull) {
		t.Errorf("err = %v, want ErrQueueFull", err)
	}
}

func TestWorker_StopFailsQueuedRuns(t *testing.T) {
	w := New(&fakeRunner{}, nil, Config{}, nil)
	run, _ := w.Enqueue("user-1", "site-1")

	// Never started, so the run is still queued.
	w.Stop()

	got, ok := w.Get(run.ID)
	if !ok || got.Status != RunFailed || got.Error != ErrStopped.Error() {
		t.Errorf("run after stop = %+v", got)
	}
	if _, err := w.Enqueue("user-1", "site-2"); !errors.Is(err, ErrStopped) {
		t.Errorf("enqueue after stop err = %v", err)
	}
	w.Stop()
}

func TestWorker_PrunesFinishedRuns(t *testing.T) {
	w := New(&fakeRunner{}, nil, Config{Concurrency: 1, Retention: time.Minute}, nil)
	w.Start(context.Background())
	defer w.Stop()

	run, _ := w.Enqueue("user-1", "site-1")
	waitFor(t, w, run.ID, RunCompleted)

	w.mu.Lock()
	w.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	w.mu.Unlock()

	if _, err := w.Enqueue("user-1", "site-2"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, ok := w.Get(run.ID); ok {
		t.Error("finished run not pruned")
	}
}

func TestWorker_GetUnknown(t *testing.T) {
	w := New(nil, nil, Config{}, nil)
	if _, ok := w.Get("missing"); ok {
		t.Error("unknown run found")
	}
}
