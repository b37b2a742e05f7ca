// Package version provides build-time version information.
// These variables are set at build time using ldflags:
//
//	go build -ldflags "-X github.com/jmylchreest/autoindex-api/internal/version.Version=1.0.0 ..."
package version

import (
	"fmt"
	"log/slog"
	"runtime"
)

// Build-time variables set via ldflags
var (
	Version = "0.0.0-dev"
	Commit  = "unknown"
	Date    = "unknown"
	Dirty   = "false"
)

// Info holds all version information
type Info struct {
	Version   string `json:"version" doc:"Semantic version"`
	Commit    string `json:"commit" doc:"Git commit SHA"`
	Date      string `json:"date" doc:"Build date (RFC3339)"`
	Dirty     bool   `json:"dirty" doc:"Built from a dirty tree"`
	GoVersion string `json:"go_version" doc:"Go toolchain version"`
	Platform  string `json:"platform" doc:"GOOS/GOARCH"`
}

// Get returns the version info
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		Dirty:     Dirty == "true",
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String returns a human-readable version string
func (i Info) String() string {
	dirty := ""
	if i.Dirty {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s) built %s", i.Version, i.Commit, dirty, i.Date)
}

// Short returns a short version string (version only)
func (i Info) Short() string {
	if i.Dirty {
		return i.Version + "-dirty"
	}
	return i.Version
}

// LogValue groups the build info for the startup banner.
func (i Info) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("version", i.Short()),
		slog.String("commit", i.Commit),
		slog.String("date", i.Date),
		slog.String("go", i.GoVersion),
	)
}
