package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/spec-kit/intake-service/internal/queue"
	apperrors "github.com/spec-kit/intake-service/pkg/util/errorutil"
)

const defaultDeadLetterLimit = 50

// DeadLetterService lets operators inspect and replay failed jobs.
type DeadLetterService struct {
	store  queue.DeadLetterStore
	logger *zap.Logger
}

// NewDeadLetterService constructs the service.
func NewDeadLetterService(store queue.DeadLetterStore, logger *zap.Logger) *DeadLetterService {
	return &DeadLetterService{store: store, logger: logger.Named("deadletter")}
}

// List returns the newest dead letters first.
func (s *DeadLetterService) List(ctx context.Context, limit int) ([]queue.DeadLetter, error) {
	if limit <= 0 || limit > 500 {
		limit = defaultDeadLetterLimit
	}
	return s.store.List(ctx, int64(limit))
}

// Replay moves a dead letter back to its lane with a fresh attempt count.
func (s *DeadLetterService) Replay(ctx context.Context, id string) (*queue.DeadLetter, error) {
	letter, err := s.store.Replay(ctx, id)
	if errors.Is(err, queue.ErrDeadLetterNotFound) {
		return nil, apperrors.NewNotFound("dead letter", map[string]any{"id": id})
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("dead letter replayed",
		zap.String("id", id),
		zap.String("token", letter.Message.Job.Token),
		zap.String("source_stream", letter.SourceStream))
	return letter, nil
}
