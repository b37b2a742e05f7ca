package mw

import (
	"net/http"

	"github.com/jmylchreest/autoindex-api/internal/version"
)

// APIVersion stamps every response with the build that served it, so a job
// run triggered over HTTP can be matched to a release.
func APIVersion() func(http.Handler) http.Handler {
	info := version.Get()
	short, commit := info.Short(), info.Commit

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-API-Version", short)
			h.Set("X-API-Commit", commit)
			next.ServeHTTP(w, r)
		})
	}
}
