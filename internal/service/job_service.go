package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/parley/internal/cache"
	"github.com/phrazzld/parley/internal/domain"
	"github.com/phrazzld/parley/internal/queue"
)

// JobService provides job submission and result retrieval
type JobService interface {
	// Enqueue builds a job for sessionID and hands it to the queue. A blank
	// sessionID starts a new session. The returned job carries the ids used.
	Enqueue(ctx context.Context, sessionID string, messages []domain.Message) (domain.Job, error)

	// Result returns the latest reply published for sessionID. found is
	// false when nothing was published or the reply expired.
	Result(ctx context.Context, sessionID string) (value string, found bool, err error)
}

type jobServiceImpl struct {
	producer queue.Producer
	results  cache.ResultCache
	logger   *slog.Logger
}

// NewJobService creates a JobService.
func NewJobService(producer queue.Producer, results cache.ResultCache, logger *slog.Logger) (JobService, error) {
	if producer == nil {
		return nil, fmt.Errorf("producer cannot be nil")
	}
	if results == nil {
		return nil, fmt.Errorf("result cache cannot be nil")
	}
	return &jobServiceImpl{
		producer: producer,
		results:  results,
		logger:   logger.With("service", "job"),
	}, nil
}

func (s *jobServiceImpl) Enqueue(ctx context.Context, sessionID string, messages []domain.Message) (domain.Job, error) {
	job, err := domain.NewJob(sessionID, messages)
	if err != nil {
		return domain.Job{}, err
	}

	if err := s.producer.Enqueue(ctx, job); err != nil {
		s.logger.ErrorContext(ctx, "failed to enqueue job",
			"session_id", job.SessionID,
			"correlation_id", job.CorrelationID,
			"error", err)
		return domain.Job{}, NewJobServiceError("enqueue", "transport rejected job",
			errors.Join(ErrEnqueueFailed, err))
	}

	s.logger.InfoContext(ctx, "job enqueued",
		"session_id", job.SessionID,
		"correlation_id", job.CorrelationID,
		"messages", len(job.Messages))
	return job, nil
}

func (s *jobServiceImpl) Result(ctx context.Context, sessionID string) (string, bool, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", false, domain.NewValidationError("session_id", "is required", domain.ErrEmptySessionID)
	}

	value, found, err := s.results.Get(ctx, sessionID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to read job result", "session_id", sessionID, "error", err)
		return "", false, NewJobServiceError("result", "cache read failed",
			errors.Join(ErrResultUnavailable, err))
	}
	return value, found, nil
}
