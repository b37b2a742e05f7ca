package mw

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"
	"time"
)

type handlerPanic struct {
	value any
	stack []byte
}

// TimeoutConfig sets request deadlines per route.
type TimeoutConfig struct {
	// Default applies to every route not listed below. Zero disables it.
	Default time.Duration
	// Sync applies to SyncPaths, which list Search Console properties inline.
	Sync time.Duration
	// SyncPaths are matched exactly, e.g. "/api/v1/sites/sync".
	SyncPaths []string
	// JobPrefixes mark cron triggers; they run a whole indexing job and get no
	// deadline here. ExtendWriteDeadline bounds them instead.
	JobPrefixes []string
}

func (c TimeoutConfig) deadlineFor(path string) (time.Duration, bool) {
	for _, prefix := range c.JobPrefixes {
		if strings.HasPrefix(path, prefix) {
			return 0, false
		}
	}
	if slices.Contains(c.SyncPaths, path) {
		return c.Sync, c.Sync > 0
	}
	return c.Default, c.Default > 0
}

// Timeout cancels the request context once the route's deadline passes and
// answers 504 with a problem document. Cron job triggers are exempt, the
// Search Console sync gets its own budget.
func Timeout(cfg TimeoutConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			timeout, ok := cfg.deadlineFor(r.URL.Path)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			done := make(chan struct{})
			panicked := make(chan *handlerPanic, 1)

			go func() {
				defer func() {
					if p := recover(); p != nil {
						panicked <- &handlerPanic{value: p, stack: debug.Stack()}
					}
				}()
				next.ServeHTTP(w, r.WithContext(ctx))
				close(done)
			}()

			select {
			case <-done:
			case p := <-panicked:
				// Re-panic so Recoverer logs the handler's stack, not ours.
				panic(fmt.Sprintf("%v\n\nOriginal stack trace:\n%s", p.value, p.stack))
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					w.Header().Set("Content-Type", "application/problem+json")
					w.WriteHeader(http.StatusGatewayTimeout)
					_, _ = fmt.Fprintf(w, `{"title":"Gateway Timeout","status":504,"detail":"request exceeded %s"}`, timeout)
				}
			}
		})
	}
}
