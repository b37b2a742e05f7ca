package handlers

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/autoindex-api/internal/service"
	"github.com/jmylchreest/autoindex-api/internal/worker"
)

// toHumaError maps service and worker errors onto API status codes.
// Anything unrecognised becomes a 500 prefixed with action.
func toHumaError(err error, action string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrSiteNotFound):
		return huma.Error404NotFound("site not found")
	case errors.Is(err, service.ErrKeyNotVerified):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, service.ErrInvalidAmount), errors.Is(err, service.ErrUnknownPack):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, service.ErrInsufficientCredits):
		return huma.NewError(402, "insufficient credits")
	case errors.Is(err, service.ErrQuotaExhausted):
		return huma.Error429TooManyRequests("daily quota exhausted")
	case errors.Is(err, service.ErrJobRunning), errors.Is(err, service.ErrSiteBusy):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, service.ErrEngineUnavailable):
		return huma.Error503ServiceUnavailable(err.Error())
	case errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrStopped):
		return huma.Error503ServiceUnavailable(err.Error())
	default:
		return huma.Error500InternalServerError("failed to " + action + ": " + err.Error())
	}
}
