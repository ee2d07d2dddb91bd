package worker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/intake-service/internal/config"
	"github.com/spec-kit/intake-service/internal/observability"
	"github.com/spec-kit/intake-service/internal/queue"
)

// jobBudget bounds how long one job may stay in flight, retry sleep excluded.
const jobBudget = 2 * time.Minute

// LanePool runs one worker per lane stream. Each worker also reclaims its
// lane's stale entries, so a lane has exactly one goroutine.
type LanePool struct {
	workers []*IntakeWorker
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewLanePool creates the consumer group on every lane and wires its workers.
func NewLanePool(ctx context.Context, client *redis.Client, cfg config.IntakeConfig, handler JobHandler, metrics *observability.Metrics, logger *zap.Logger) (*LanePool, error) {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "intake"
	}

	pool := &LanePool{logger: logger.Named("lane_pool")}

	minIdle := cfg.ReclaimIdle
	if floor := cfg.RetryMax + jobBudget; minIdle < floor {
		pool.logger.Warn("reclaim idle below in-flight budget; raising it",
			zap.Duration("configured", minIdle), zap.Duration("effective", floor))
		minIdle = floor
	}
	for lane := 0; lane < cfg.Lanes; lane++ {
		consumer, err := queue.NewRedisConsumer(ctx, client, queue.ConsumerConfig{
			Stream:      queue.StreamName(cfg.StreamPrefix, lane),
			Group:       cfg.Group,
			Consumer:    fmt.Sprintf("%s-%d-lane-%d", host, os.Getpid(), lane),
			DLQStream:   cfg.DeadLetter,
			Block:       cfg.Block,
			MaxAttempts: cfg.MaxAttempts,
			RetryBase:   cfg.RetryBase,
			RetryMax:    cfg.RetryMax,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("lane %d: %w", lane, err)
		}
		laneLogger := logger.With(zap.Int("lane", lane))
		w := NewIntakeWorker(consumer, handler, metrics, laneLogger)
		w.WithReclaimer(NewReclaimer(consumer, ReclaimerConfig{
			MinIdle:  minIdle,
			Interval: cfg.ReclaimEvery,
		}, w.Process, laneLogger))
		pool.workers = append(pool.workers, w)
	}
	return pool, nil
}

// Start launches every lane in its own goroutine.
func (p *LanePool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *IntakeWorker) {
			defer p.wg.Done()
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("lane worker exited", zap.Error(err))
			}
		}(w)
	}
	p.logger.Info("lanes started", zap.Int("lanes", len(p.workers)))
}

// Stop stops every lane and waits for its goroutine.
func (p *LanePool) Stop() {
	for _, w := range p.workers {
		w.Stop()
	}
	p.wg.Wait()
}
