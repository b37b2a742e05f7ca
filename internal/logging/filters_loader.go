package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	logfilter "github.com/jmylchreest/slog-logfilter"
)

// DefaultFiltersKey is the object key holding runtime log filters.
const DefaultFiltersKey = "config/logfilters.json"

// ObjectSource fetches a config document when its ETag changes.
type ObjectSource interface {
	GetObjectIfChanged(ctx context.Context, key, etag string) (data []byte, newETag string, changed bool, err error)
}

// FiltersLoader polls object storage for a JSON list of slog-logfilter
// filters and applies them, so one user's or site's runs can be traced at
// debug level without a redeploy. Existing filters are kept on any error.
type FiltersLoader struct {
	source   ObjectSource
	key      string
	interval time.Duration
	logger   *slog.Logger

	mu          sync.RWMutex
	etag        string
	filterCount int
	lastFetch   time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewFiltersLoader creates a loader. Zero key and interval use the defaults.
func NewFiltersLoader(source ObjectSource, key string, interval time.Duration, logger *slog.Logger) *FiltersLoader {
	if key == "" {
		key = DefaultFiltersKey
	}
	if interval == 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FiltersLoader{
		source:   source,
		key:      key,
		interval: interval,
		logger:   logger.With("component", "log-filters"),
		stopCh:   make(chan struct{}),
	}
}

// Start fetches once and then polls until ctx is done or Stop is called.
func (l *FiltersLoader) Start(ctx context.Context) {
	if err := l.Refresh(ctx); err != nil {
		l.logger.Warn("initial log filter fetch failed", "error", err)
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := l.Refresh(ctx); err != nil {
					l.logger.Warn("log filter refresh failed", "error", err)
				}
			case <-l.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops polling.
func (l *FiltersLoader) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.wg.Wait()
}

// Refresh fetches the filters document and applies it if it changed.
func (l *FiltersLoader) Refresh(ctx context.Context) error {
	l.mu.RLock()
	etag := l.etag
	l.mu.RUnlock()

	data, newETag, changed, err := l.source.GetObjectIfChanged(ctx, l.key, etag)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	var filters []logfilter.LogFilter
	if err := json.Unmarshal(data, &filters); err != nil {
		return fmt.Errorf("failed to parse log filters: %w", err)
	}
	SetFilters(filters)

	l.mu.Lock()
	l.etag = newETag
	l.filterCount = len(filters)
	l.lastFetch = time.Now()
	l.mu.Unlock()

	l.logger.Info("log filters loaded", "key", l.key, "etag", newETag, "filters", len(filters))
	return nil
}

// FiltersStats describes the loader state.
type FiltersStats struct {
	FilterCount int       `json:"filter_count"`
	ETag        string    `json:"etag"`
	LastFetch   time.Time `json:"last_fetch"`
}

// Stats returns current loader statistics.
func (l *FiltersLoader) Stats() FiltersStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return FiltersStats{FilterCount: l.filterCount, ETag: l.etag, LastFetch: l.lastFetch}
}
