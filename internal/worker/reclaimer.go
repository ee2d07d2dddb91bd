package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/intake-service/internal/queue"
)

// ReclaimerConfig tunes stale-entry recovery for one lane.
type ReclaimerConfig struct {
	MinIdle   time.Duration
	Interval  time.Duration
	BatchSize int64
}

// Reclaimer takes over entries whose consumer died after reading but before
// acking, and runs them through the normal job path. It has no goroutine of
// its own: the lane worker calls it between reads, so a lane never processes
// two entries at once.
type Reclaimer struct {
	claimer   StaleClaimer
	cfg       ReclaimerConfig
	processor queue.MessageProcessor
	logger    *zap.Logger
	now       func() time.Time
	lastRun   time.Time
}

// NewReclaimer creates a reclaimer.
func NewReclaimer(claimer StaleClaimer, cfg ReclaimerConfig, processor queue.MessageProcessor, logger *zap.Logger) *Reclaimer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Reclaimer{
		claimer:   claimer,
		cfg:       cfg,
		processor: processor,
		logger:    logger.Named("reclaimer"),
		now:       time.Now,
	}
}

// ReclaimIfDue runs one reclaim cycle when the interval has passed since the
// previous one. The first call always runs.
func (r *Reclaimer) ReclaimIfDue(ctx context.Context) (int, error) {
	now := r.now()
	if !r.lastRun.IsZero() && now.Sub(r.lastRun) < r.cfg.Interval {
		return 0, nil
	}
	r.lastRun = now
	return r.ReclaimOnce(ctx)
}

// ReclaimOnce claims one batch of stale entries and processes them in order.
// It returns how many entries were claimed.
func (r *Reclaimer) ReclaimOnce(ctx context.Context) (int, error) {
	messages, err := r.claimer.ClaimStale(ctx, r.cfg.MinIdle, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(messages) > 0 {
		r.logger.Info("found stale pending entries", zap.Int("count", len(messages)))
	}
	for _, msg := range messages {
		if err := r.processor(ctx, msg); err != nil {
			r.logger.Error("failed to process reclaimed entry",
				zap.String("entry_id", msg.ID),
				zap.Error(err))
		}
	}
	return len(messages), nil
}
