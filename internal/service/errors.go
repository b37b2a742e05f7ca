package service

import "errors"

// Service errors. Handlers map these onto HTTP statuses.
var (
	ErrQuotaExhausted      = errors.New("daily quota exhausted")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrDuplicateEvent      = errors.New("event already processed")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrUnknownPack         = errors.New("unknown credit pack")
	ErrSiteNotFound        = errors.New("site not found")
	ErrSiteBusy            = errors.New("site is already being processed")
	ErrEngineUnavailable   = errors.New("indexing engine unavailable")
	ErrJobRunning          = errors.New("job is already running")
	ErrKeyNotVerified      = errors.New("indexnow key file not reachable on site")
)
