// Package shutdown provides idle monitoring for scale-to-zero deployments.
package shutdown

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// BusyFunc reports whether background work is in progress.
type BusyFunc func() bool

// IdleMonitorConfig holds configuration for the idle monitor.
type IdleMonitorConfig struct {
	Timeout      time.Duration // 0 disables the monitor
	ExcludePaths []string      // Path prefixes that don't count as activity
	Busy         []BusyFunc    // Any returning true keeps the process alive
	Logger       *slog.Logger
}

// IdleMonitor signals shutdown once no request has been served and no
// background work has run for Timeout.
type IdleMonitor struct {
	timeout      time.Duration
	excludePaths []string
	busy         []BusyFunc
	logger       *slog.Logger

	active       atomic.Int64
	mu           sync.Mutex
	lastActivity time.Time

	idle     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewIdleMonitor creates a new idle monitor.
func NewIdleMonitor(cfg IdleMonitorConfig) *IdleMonitor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &IdleMonitor{
		timeout:      cfg.Timeout,
		excludePaths: cfg.ExcludePaths,
		busy:         cfg.Busy,
		logger:       logger.With("component", "idle_monitor"),
		lastActivity: time.Now(),
		idle:         make(chan struct{}),
		stop:         make(chan struct{}),
		now:          time.Now,
	}
}

// Enabled reports whether a timeout is configured.
func (m *IdleMonitor) Enabled() bool {
	return m.timeout > 0
}

// Start begins monitoring. It is a no-op when disabled.
func (m *IdleMonitor) Start() {
	if !m.Enabled() {
		m.logger.Debug("idle monitoring disabled")
		return
	}
	m.logger.Info("idle monitoring started", "timeout", m.timeout, "exclude_paths", m.excludePaths)
	go m.run()
}

// Stop ends monitoring without signalling idleness.
func (m *IdleMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Idle is closed once the idle timeout is reached.
func (m *IdleMonitor) Idle() <-chan struct{} {
	return m.idle
}

// Middleware records request activity, skipping excluded paths such as probes.
func (m *IdleMonitor) Middleware(next http.Handler) http.Handler {
	if !m.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range m.excludePaths {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}
		m.active.Add(1)
		m.touch()
		defer func() {
			m.active.Add(-1)
			m.touch()
		}()
		next.ServeHTTP(w, r)
	})
}

func (m *IdleMonitor) touch() {
	m.mu.Lock()
	m.lastActivity = m.now()
	m.mu.Unlock()
}

func (m *IdleMonitor) backgroundBusy() bool {
	for _, busy := range m.busy {
		if busy != nil && busy() {
			return true
		}
	}
	return false
}

// check reports whether the process has been idle for the full timeout.
// Busy background work restarts the idle window.
func (m *IdleMonitor) check() bool {
	if m.active.Load() > 0 || m.backgroundBusy() {
		m.touch()
		return false
	}
	m.mu.Lock()
	idleFor := m.now().Sub(m.lastActivity)
	m.mu.Unlock()
	return idleFor >= m.timeout
}

func (m *IdleMonitor) run() {
	interval := min(max(m.timeout/6, 5*time.Second), 30*time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if m.check() {
				m.logger.Info("idle timeout reached, signaling graceful shutdown", "timeout", m.timeout)
				close(m.idle)
				return
			}
		}
	}
}
