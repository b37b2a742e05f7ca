// Package provider holds the error taxonomy shared by the indexing provider
// clients. Callers branch with errors.Is on the sentinels, never on messages.
package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds.
var (
	// ErrRateLimited indicates the provider returned 429.
	ErrRateLimited = errors.New("rate limited")

	// ErrClientError indicates a non-429 4xx; the request will not succeed on retry.
	ErrClientError = errors.New("client error")

	// ErrServerError indicates a 5xx; the request may succeed on retry.
	ErrServerError = errors.New("server error")

	// ErrNetwork indicates a transport failure or timeout.
	ErrNetwork = errors.New("network error")
)

// Error is a classified provider failure.
type Error struct {
	// Provider name (google, indexnow)
	Provider string

	// HTTP status code, zero for transport failures
	StatusCode int

	// Kind is one of the sentinel errors above
	Kind error

	// Message is the provider's error text, if any
	Message string

	// Err is the underlying transport error, if any
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%s: %s (HTTP %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %s (HTTP %d)", e.Provider, e.Kind, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
}

// Is matches the error kind so errors.Is(err, ErrRateLimited) works.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt might succeed.
func (e *Error) Retryable() bool {
	return e.Kind == ErrServerError || e.Kind == ErrNetwork
}

// ClassifyStatus maps an HTTP status to an error kind; nil means success.
func ClassifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code >= 500:
		return ErrServerError
	default:
		return ErrClientError
	}
}

// StatusError builds an Error for a non-success HTTP response.
func StatusError(providerName string, code int, message string) *Error {
	kind := ClassifyStatus(code)
	if kind == nil {
		return nil
	}
	return &Error{Provider: providerName, StatusCode: code, Kind: kind, Message: message}
}

// NetworkError wraps a transport failure.
func NetworkError(providerName string, err error) *Error {
	return &Error{Provider: providerName, Kind: ErrNetwork, Err: err}
}

// IsRetryable reports whether err is a provider error worth retrying.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}
