// Package logging provides a configured slog logger with:
// - TTY detection for human-readable vs JSON output
// - LOG_FORMAT override (text/json)
// - LOG_LEVEL (debug/info/warn/error)
// - Context-based request, user and site extraction for runtime filters
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"

	logfilter "github.com/jmylchreest/slog-logfilter"
)

// ContextKey is a type for context keys used in logging.
type ContextKey string

const (
	// RequestIDKey is the context key for request ID.
	RequestIDKey ContextKey = "log_request_id"
	// UserIDKey is the context key for user ID (for filtering only, not logged).
	UserIDKey ContextKey = "log_user_id"
	// SiteIDKey is the context key for the site being processed.
	SiteIDKey ContextKey = "log_site_id"
)

// WithRequestID adds a request ID to the context for logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds a user ID to the context for filter matching.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithSiteID adds a site ID to the context for logging.
func WithSiteID(ctx context.Context, siteID string) context.Context {
	return context.WithValue(ctx, SiteIDKey, siteID)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(key).(string); ok {
		return s
	}
	return ""
}

// GetRequestID extracts the request ID from context.
func GetRequestID(ctx context.Context) string { return stringValue(ctx, RequestIDKey) }

// GetUserID extracts the user ID from context.
func GetUserID(ctx context.Context) string { return stringValue(ctx, UserIDKey) }

// GetSiteID extracts the site ID from context.
func GetSiteID(ctx context.Context) string { return stringValue(ctx, SiteIDKey) }

// FromContext returns a logger with request and site IDs from context added
// as attributes. The user ID is never added.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if ctx == nil {
		return logger
	}

	var attrs []any
	if requestID := GetRequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	if siteID := GetSiteID(ctx); siteID != "" {
		attrs = append(attrs, "site_id", siteID)
	}
	if len(attrs) == 0 {
		return logger
	}
	return logger.With(attrs...)
}

func registerContextExtractors() {
	for name, key := range map[string]ContextKey{
		"request_id": RequestIDKey,
		"user_id":    UserIDKey,
		"site_id":    SiteIDKey,
	} {
		logfilter.RegisterContextExtractor(name, func(ctx context.Context) (string, bool) {
			s := stringValue(ctx, key)
			return s, s != ""
		})
	}
}

// New creates a new configured logger using slog-logfilter.
// An empty format selects text on a TTY and JSON otherwise.
func New(level, format string) *slog.Logger {
	if format != "text" && format != "json" {
		format = "json"
		if isatty(os.Stdout) {
			format = "text"
		}
	}

	registerContextExtractors()

	return logfilter.New(
		logfilter.WithLevel(parseLogLevel(level)),
		logfilter.WithFormat(format),
		logfilter.WithOutput(os.Stdout),
		logfilter.WithSource(true),
	)
}

// FromEnv creates a logger from LOG_LEVEL and LOG_FORMAT, for use before
// config is loaded.
func FromEnv() *slog.Logger {
	return New(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetDefault creates a logger from the environment and sets it as the
// default slog logger.
func SetDefault() *slog.Logger {
	logger := FromEnv()
	slog.SetDefault(logger)
	return logger
}

// SetLevel changes the global log level at runtime.
func SetLevel(level slog.Level) {
	logfilter.SetLevel(level)
}

// GetLevel returns the current global log level.
func GetLevel() slog.Level {
	return logfilter.GetLevel()
}

// SetFilters replaces all log filters.
func SetFilters(filters []logfilter.LogFilter) {
	logfilter.SetFilters(filters)
}

// GetFilters returns a copy of the current filters.
func GetFilters() []logfilter.LogFilter {
	return logfilter.GetFilters()
}

// isatty returns true if the file is a terminal.
func isatty(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}
