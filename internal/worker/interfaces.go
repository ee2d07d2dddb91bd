package worker

import (
	"context"
	"time"

	"github.com/spec-kit/intake-service/internal/domain"
	"github.com/spec-kit/intake-service/internal/queue"
	"github.com/spec-kit/intake-service/internal/service"
)

// Consumer abstracts one lane of the job queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Fail(ctx context.Context, msg queue.Message, cause error) (bool, error)
}

// StaleClaimer takes over entries abandoned by crashed consumers.
type StaleClaimer interface {
	ClaimStale(ctx context.Context, minIdle time.Duration, count int64) ([]queue.Message, error)
}

// JobHandler applies one job to the conversation store.
type JobHandler interface {
	Handle(ctx context.Context, job domain.Job) (service.IntakeResult, error)
}
