package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/intake-service/internal/domain"
)

// ProducerConfig controls where jobs are written.
type ProducerConfig struct {
	StreamPrefix string
	Lanes        int
	DedupTTL     time.Duration
}

// Producer enqueues jobs at most once per external token.
type Producer interface {
	Enqueue(ctx context.Context, job domain.Job) (bool, error)
}

type redisProducer struct {
	client *redis.Client
	cfg    ProducerConfig
	logger *zap.Logger
}

// NewRedisProducer builds a stream producer.
func NewRedisProducer(client *redis.Client, cfg ProducerConfig, logger *zap.Logger) Producer {
	return &redisProducer{client: client, cfg: cfg, logger: logger.Named("queue.producer")}
}

// Enqueue claims the job token and appends the job to its lane. It reports
// false for a token that was already claimed. If the append fails the claim is
// released so a provider retry can enqueue again.
func (p *redisProducer) Enqueue(ctx context.Context, job domain.Job) (bool, error) {
	key := DedupKey(job.Token)
	claimed, err := p.client.SetNX(ctx, key, strconv.FormatInt(job.ID, 10), p.cfg.DedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("claim token: %w", err)
	}
	if !claimed {
		p.logger.Debug("duplicate token ignored", zap.String("token", job.Token))
		return false, nil
	}

	lane := SelectLane(job.Address, p.cfg.Lanes)
	stream := StreamName(p.cfg.StreamPrefix, lane)
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: JobValues(job, 1),
	}).Err(); err != nil {
		if delErr := p.client.Del(context.WithoutCancel(ctx), key).Err(); delErr != nil {
			p.logger.Error("release token after enqueue failure", zap.String("token", job.Token), zap.Error(delErr))
		}
		return false, fmt.Errorf("enqueue job: %w", err)
	}

	p.logger.Info("job enqueued",
		zap.Int64("job_id", job.ID),
		zap.String("token", job.Token),
		zap.Int("lane", lane),
		zap.String("kind", string(job.Kind)))
	return true, nil
}
