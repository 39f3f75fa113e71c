package queue

import (
	"context"
	"errors"
	"time"

	"github.com/phrazzld/parley/internal/domain"
)

// Common errors returned by transports.
var (
	ErrQueueClosed     = errors.New("job queue is closed")
	ErrQueueFull       = errors.New("job queue is full")
	ErrUnknownDelivery = errors.New("unknown delivery")
	errMissingResult   = errors.New("handler returned no result for delivery")
)

// Outcome is the settlement a handler chooses for one delivery.
type Outcome int

const (
	// Ack removes the job from the queue.
	Ack Outcome = iota
	// Retry redelivers the job later, or dead-letters it when attempts run out.
	Retry
	// Discard drops a job that can never succeed. It is not dead-lettered.
	Discard
)

// String returns the outcome label used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Retry:
		return "retry"
	case Discard:
		return "discard"
	default:
		return "unknown"
	}
}

// Delivery is one receipt of a job. Payload is the job document exactly as
// it was enqueued; Attempt starts at 1.
type Delivery struct {
	ID         string
	Payload    []byte
	Attempt    int
	EnqueuedAt time.Time
}

// Result settles one delivery.
type Result struct {
	DeliveryID string
	Outcome    Outcome
	Err        error
}

// Acked returns an Ack result for d.
func Acked(d Delivery) Result {
	return Result{DeliveryID: d.ID, Outcome: Ack}
}

// Retried returns a Retry result for d caused by err.
func Retried(d Delivery, err error) Result {
	return Result{DeliveryID: d.ID, Outcome: Retry, Err: err}
}

// Discarded returns a Discard result for d caused by err.
func Discarded(d Delivery, err error) Result {
	return Result{DeliveryID: d.ID, Outcome: Discard, Err: err}
}

// DeadLetter is a job that exhausted its attempts.
type DeadLetter struct {
	ID         string
	Payload    []byte
	Attempts   int
	Reason     string
	EnqueuedAt time.Time
	FailedAt   time.Time
}

// SettleFunc reports the Result for one delivery of a batch. It is safe for
// concurrent use; only the first Result for a delivery counts.
type SettleFunc func(Result)

// BatchHandler processes a batch and reports one Result per delivery through
// settle as soon as that delivery is finished. Deliveries left unreported
// when HandleBatch returns are retried.
type BatchHandler interface {
	HandleBatch(ctx context.Context, batch []Delivery, settle SettleFunc)
}

// BatchHandlerFunc adapts a function to BatchHandler.
type BatchHandlerFunc func(ctx context.Context, batch []Delivery, settle SettleFunc)

// HandleBatch calls f(ctx, batch, settle).
func (f BatchHandlerFunc) HandleBatch(ctx context.Context, batch []Delivery, settle SettleFunc) {
	f(ctx, batch, settle)
}

// Producer accepts jobs for asynchronous processing.
type Producer interface {
	// Enqueue returns once the transport has accepted the job.
	Enqueue(ctx context.Context, job domain.Job) error
}

// Transport is a queue that a Consumer can drain.
type Transport interface {
	Producer

	// Receive leases up to max ready deliveries without blocking for more.
	// An empty slice means nothing is ready.
	Receive(ctx context.Context, max int) ([]Delivery, error)

	// Extend renews the lease on d for another visibility timeout. It fails
	// with ErrUnknownDelivery, or the transport's not-found error, once d is
	// settled or its lease was taken over by another receiver.
	Extend(ctx context.Context, d Delivery) error

	// Ack removes a delivered job.
	Ack(ctx context.Context, d Delivery) error

	// Retry schedules redelivery of d. When d has used its last attempt the
	// job is dead-lettered instead and deadLettered is true.
	Retry(ctx context.Context, d Delivery, cause error) (deadLettered bool, err error)

	// Discard drops a delivered job without dead-lettering it.
	Discard(ctx context.Context, d Delivery, reason error) error

	// DeadLetters lists dead-lettered jobs, oldest first. A limit of zero
	// or less returns all of them.
	DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error)
}

// ErrorText returns err's message, or an empty string for nil.
func ErrorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
