package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/phrazzld/parley/internal/domain"
)

// Common errors returned by the generation package
var (
	// ErrInvalidConfig is returned when a generator binding is missing required settings
	ErrInvalidConfig = errors.New("invalid generator configuration")

	// ErrCapability is returned when the language model call fails
	ErrCapability = errors.New("generation capability failed")

	// ErrTransientFailure is returned for temporary errors that might resolve on retry
	ErrTransientFailure = errors.New("transient generation failure")

	// ErrContentBlocked is returned when the model refuses the content due to safety filters
	ErrContentBlocked = errors.New("content blocked by language model safety filters")

	// ErrTimeout is returned when an invocation exceeds its time budget
	ErrTimeout = errors.New("generation timed out")
)

// Classify maps an error from a generation call onto the package taxonomy.
// Deadline expiry becomes ErrTimeout unless the parent context was canceled,
// errors already classified and malformed input are returned unchanged, and
// everything else is wrapped with ErrCapability.
func Classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrTimeout),
		errors.Is(err, ErrCapability),
		errors.Is(err, ErrInvalidConfig),
		errors.Is(err, domain.ErrMalformedJob):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	case ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, ErrTransientFailure), errors.Is(err, ErrContentBlocked):
		return errors.Join(ErrCapability, err)
	default:
		return fmt.Errorf("%w: %v", ErrCapability, err)
	}
}
