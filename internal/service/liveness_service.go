package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/jmylchreest/autoindex-api/internal/constants"
	"github.com/jmylchreest/autoindex-api/internal/metrics"
)

// LivenessResult is the outcome of probing one URL.
type LivenessResult struct {
	URL        string `json:"url"`
	StatusCode int    `json:"status_code,omitempty"`
	Alive      bool   `json:"alive"`
	Dead       bool   `json:"dead,omitempty"`
	Redirect   bool   `json:"redirect,omitempty"`
	Location   string `json:"location,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Liveness result labels for metrics.
const (
	livenessAlive    = "alive"
	livenessDead     = "dead"
	livenessRedirect = "redirect"
	livenessError    = "error"
)

func (r LivenessResult) label() string {
	switch {
	case r.Redirect:
		return livenessRedirect
	case r.Alive:
		return livenessAlive
	case r.Dead:
		return livenessDead
	default:
		return livenessError
	}
}

// LivenessService checks whether pages respond before they are submitted.
type LivenessService struct {
	client    *http.Client
	batchSize int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewLivenessService creates a liveness checker. Redirects are reported,
// never followed.
func NewLivenessService(m *metrics.Metrics, logger *slog.Logger) *LivenessService {
	return &LivenessService{
		client: &http.Client{
			Timeout: constants.LivenessTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		batchSize: constants.LivenessBatchSize,
		metrics:   m,
		logger:    logger.With("component", "liveness"),
	}
}

// Check probes every URL with a HEAD request. Batches run one after another;
// probes within a batch run in parallel. Results are returned in input order.
func (s *LivenessService) Check(ctx context.Context, urls []string) []LivenessResult {
	results := make([]LivenessResult, len(urls))

	for start := 0; start < len(urls); start += s.batchSize {
		end := min(start+s.batchSize, len(urls))

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = s.probe(ctx, urls[i])
			}()
		}
		wg.Wait()
	}

	for _, r := range results {
		s.metrics.Liveness(r.label())
	}
	return results
}

func (s *LivenessService) probe(ctx context.Context, pageURL string) LivenessResult {
	result := LivenessResult{URL: pageURL}

	ctx, cancel := context.WithTimeout(ctx, constants.LivenessTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, pageURL, nil)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	req.Header.Set("User-Agent", constants.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		result.Error = err.Error()
		s.logger.Debug("liveness probe failed", "url", pageURL, "error", err)
		return result
	}
	_ = resp.Body.Close()

	return classifyLiveness(result, resp.StatusCode, resp.Header.Get("Location"))
}

func classifyLiveness(r LivenessResult, code int, location string) LivenessResult {
	r.StatusCode = code
	switch {
	case code >= 300 && code < 400:
		r.Alive = true
		r.Redirect = true
		r.Location = location
	case code < 400:
		r.Alive = true
	case code == http.StatusNotFound || code == http.StatusGone:
		r.Dead = true
		r.Error = fmt.Sprintf("HTTP %d", code)
	default:
		r.Error = fmt.Sprintf("HTTP %d", code)
	}
	return r
}

// DeadURLs returns the probed URLs classified dead.
func DeadURLs(results []LivenessResult) []LivenessResult {
	var dead []LivenessResult
	for _, r := range results {
		if r.Dead {
			dead = append(dead, r)
		}
	}
	return dead
}
