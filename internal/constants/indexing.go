// Package constants defines centralized limits, timeouts and lookup tables
// for the indexing pipeline. Change values here to update behaviour across
// the entire application.
package constants

import "time"

// Daily provider allowances. These mirror the provider's per-account limits
// and are not configurable per user.
const (
	// SubmissionDailyLimit is the number of Indexing API publish calls
	// allowed per user per calendar day.
	SubmissionDailyLimit = 200

	// InspectionDailyLimit is the number of URL Inspection API calls
	// allowed per user per calendar day.
	InspectionDailyLimit = 2000
)

// Credit ledger configuration.
const (
	// CreditsPerSubmission is charged for every successful Indexing API submission.
	CreditsPerSubmission = 1

	// LowCreditThreshold triggers a low-balance alert when a deduction
	// crosses below it.
	LowCreditThreshold = 10
)

// Submission retry policy.
const (
	// MaxSubmitAttempts is the total number of attempts per URL, including the first.
	MaxSubmitAttempts = 3

	// SubmitRetryBaseDelay is multiplied by the attempt number between retries.
	SubmitRetryBaseDelay = 2 * time.Second

	// MaxFailedRetries is how many scheduled retry passes a failed URL gets
	// before it is left alone.
	MaxFailedRetries = 3
)

// Batch sizes.
const (
	// IndexNowBatchSize is the maximum number of URLs per IndexNow request.
	IndexNowBatchSize = 10000

	// LivenessBatchSize bounds how many probes run in parallel.
	LivenessBatchSize = 10
)

// Network timeouts.
const (
	SitemapFetchTimeout = 15 * time.Second
	LivenessTimeout     = 10 * time.Second
	ProviderTimeout     = 30 * time.Second
)

// Sitemap discovery limits.
const (
	// MaxSitemapDepth caps sitemap-index recursion. The root document is depth 0.
	MaxSitemapDepth = 2

	// MaxSitemapBytes caps a single sitemap document read.
	MaxSitemapBytes = 50 << 20
)

// UserAgent is sent on every outbound request to site owners' servers.
const UserAgent = "AutoIndexBot/1.0 (+https://github.com/jmylchreest/autoindex-api)"

// CalculateSubmitBackoff returns the delay before the next attempt after
// the given (1-based) attempt failed.
func CalculateSubmitBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(attempt) * SubmitRetryBaseDelay
}
