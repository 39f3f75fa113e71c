package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/parley/internal/actor"
	"github.com/phrazzld/parley/internal/domain"
	"github.com/phrazzld/parley/internal/generation"
	"github.com/phrazzld/parley/internal/queue"
	"github.com/phrazzld/parley/internal/service"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// leaking internal error types to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrMalformedJob):
		return http.StatusBadRequest

	case errors.Is(err, actor.ErrConfiguration),
		errors.Is(err, generation.ErrInvalidConfig):
		return http.StatusInternalServerError

	case errors.Is(err, generation.ErrTimeout):
		return http.StatusGatewayTimeout

	case errors.Is(err, generation.ErrCapability):
		return http.StatusBadGateway

	case errors.Is(err, queue.ErrQueueFull),
		errors.Is(err, queue.ErrQueueClosed),
		errors.Is(err, service.ErrEnqueueFailed),
		errors.Is(err, service.ErrResultUnavailable):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a user-facing message for err.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		return fmt.Sprintf("Invalid %s: %s", vErr.Field, vErr.Message)
	case errors.Is(err, domain.ErrMalformedJob):
		return "Invalid request"
	case errors.Is(err, actor.ErrConfiguration),
		errors.Is(err, generation.ErrInvalidConfig):
		return "Language model is not configured"
	case errors.Is(err, generation.ErrTimeout):
		return "Language model timed out"
	case errors.Is(err, generation.ErrContentBlocked):
		return "Content blocked by language model safety filters"
	case errors.Is(err, generation.ErrCapability):
		return "Language model request failed"
	case errors.Is(err, queue.ErrQueueFull):
		return "Job queue is full, try again later"
	case errors.Is(err, service.ErrEnqueueFailed):
		return "Failed to enqueue job"
	case errors.Is(err, service.ErrResultUnavailable):
		return "Result store unavailable"
	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError turns a request validation failure into a
// user-facing message naming the first offending field.
func SanitizeValidationError(err error) string {
	var vErrs validator.ValidationErrors
	if errors.As(err, &vErrs) && len(vErrs) > 0 {
		fe := vErrs[0]
		return fmt.Sprintf("Invalid %s: %s", fe.Field(), getValidationTagMessage(fe.Tag()))
	}
	var dErr *domain.ValidationError
	if errors.As(err, &dErr) {
		return fmt.Sprintf("Invalid %s: %s", dErr.Field, dErr.Message)
	}
	return "Validation error"
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
