package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultTokenCacheTTL is well under Google's one hour access token lifetime.
	DefaultTokenCacheTTL = 5 * time.Minute
)

// ErrTokenUnavailable means no usable Google access token could be obtained.
var ErrTokenUnavailable = errors.New("google access token unavailable")

// TokenError reports a failure to obtain a user's provider token.
type TokenError struct {
	UserID string
	Err    error
}

func (e *TokenError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s for user %s", ErrTokenUnavailable, e.UserID)
	}
	return fmt.Sprintf("%s for user %s: %v", ErrTokenUnavailable, e.UserID, e.Err)
}

func (e *TokenError) Is(target error) bool { return target == ErrTokenUnavailable }

func (e *TokenError) Unwrap() error { return e.Err }

// OAuthTokenFetcher fetches a provider access token for a user.
type OAuthTokenFetcher interface {
	GetOAuthAccessToken(ctx context.Context, userID, provider string) (string, error)
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// GoogleTokenSource hands out Google access tokens held by Clerk, cached
// per user. It's safe for concurrent access.
type GoogleTokenSource struct {
	mu      sync.RWMutex
	cache   map[string]cachedToken
	ttl     time.Duration
	fetcher OAuthTokenFetcher
	logger  *slog.Logger
	now     func() time.Time
}

// NewGoogleTokenSource creates a token source.
func NewGoogleTokenSource(fetcher OAuthTokenFetcher, ttl time.Duration, logger *slog.Logger) *GoogleTokenSource {
	if ttl <= 0 {
		ttl = DefaultTokenCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GoogleTokenSource{
		cache:   make(map[string]cachedToken),
		ttl:     ttl,
		fetcher: fetcher,
		logger:  logger,
		now:     time.Now,
	}
}

// Token returns a Google access token for the user. Failures are *TokenError.
func (s *GoogleTokenSource) Token(ctx context.Context, userID string) (string, error) {
	s.mu.RLock()
	cached, ok := s.cache[userID]
	s.mu.RUnlock()

	if ok && s.now().Before(cached.expiresAt) {
		return cached.token, nil
	}

	token, err := s.fetcher.GetOAuthAccessToken(ctx, userID, OAuthProviderGoogle)
	if err != nil {
		s.logger.Warn("failed to fetch google token from Clerk",
			"user_id", userID,
			"error", err,
		)
		return "", &TokenError{UserID: userID, Err: err}
	}
	if token == "" {
		return "", &TokenError{UserID: userID}
	}

	s.mu.Lock()
	s.cache[userID] = cachedToken{token: token, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()

	return token, nil
}

// Invalidate drops a user's cached token, e.g. after the provider rejected it.
func (s *GoogleTokenSource) Invalidate(userID string) {
	s.mu.Lock()
	delete(s.cache, userID)
	s.mu.Unlock()
}

// Size returns the current number of cached entries.
func (s *GoogleTokenSource) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}
