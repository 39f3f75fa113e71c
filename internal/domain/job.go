package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Job is a request to run one conversation turn for a session.
// Once enqueued a job is immutable; redelivery decodes the same payload.
type Job struct {
	SessionID     string    `json:"session_id"`
	Messages      []Message `json:"messages"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

// NewJob creates a new Job for the given session. A random session id is
// generated when sessionID is blank, and a fresh correlation id is always assigned.
// Returns an error if the resulting job fails validation.
func NewJob(sessionID string, messages []Message) (Job, error) {
	if strings.TrimSpace(sessionID) == "" {
		sessionID = uuid.NewString()
	}

	job := Job{
		SessionID:     sessionID,
		Messages:      append([]Message(nil), messages...),
		CorrelationID: uuid.NewString(),
		EnqueuedAt:    time.Now().UTC(),
	}

	if err := job.Validate(); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Validate checks the job shape. All failures unwrap to ErrMalformedJob.
func (j Job) Validate() error {
	if strings.TrimSpace(j.SessionID) == "" {
		return NewValidationError("session_id", "is required", ErrEmptySessionID)
	}
	if len(j.Messages) == 0 {
		return NewValidationError("messages", "is required", ErrNoMessages)
	}
	for i, m := range j.Messages {
		if !m.Role.Valid() {
			return NewValidationError(
				fmt.Sprintf("messages[%d].role", i),
				fmt.Sprintf("unsupported role %q", m.Role),
				ErrInvalidRole,
			)
		}
	}
	if !HasConversation(j.Messages) {
		return NewValidationError("messages", "has no non-blank user or assistant content", ErrNoMessages)
	}
	return nil
}

// Encode serializes the job into its wire form.
func (j Job) Encode() ([]byte, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job: %w", err)
	}
	return b, nil
}

// DecodeJob parses a wire payload and validates the result.
// Decode failures are reported as ErrMalformedJob.
func DecodeJob(payload []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return Job{}, NewValidationError("payload", "is not a valid job document", err)
	}
	if err := job.Validate(); err != nil {
		return Job{}, err
	}
	return job, nil
}
