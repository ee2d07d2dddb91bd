package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ConsumerConfig configures one lane reader.
type ConsumerConfig struct {
	Stream      string
	Group       string
	Consumer    string
	DLQStream   string
	Block       time.Duration
	MaxAttempts int
	RetryBase   time.Duration
	RetryMax    time.Duration
}

// MessageProcessor processes a queue message.
type MessageProcessor func(ctx context.Context, msg Message) error

// RedisConsumer reads one lane stream through a consumer group.
type RedisConsumer struct {
	client *redis.Client
	cfg    ConsumerConfig
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRedisConsumer creates the consumer group if needed.
func NewRedisConsumer(ctx context.Context, client *redis.Client, cfg ConsumerConfig, logger *zap.Logger) (*RedisConsumer, error) {
	consumer := &RedisConsumer{
		client: client,
		cfg:    cfg,
		logger: logger.Named("queue.consumer").With(zap.String("stream", cfg.Stream)),
		sleep:  sleepContext,
	}
	if err := consumer.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return consumer, nil
}

// Config returns the consumer configuration.
func (c *RedisConsumer) Config() ConsumerConfig {
	return c.cfg
}

func (c *RedisConsumer) ensureGroup(ctx context.Context) error {
	// Start from "0" so entries appended before the group existed are not skipped.
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

// Read blocks for at most one new entry. Malformed entries are acked and skipped.
func (c *RedisConsumer) Read(ctx context.Context) ([]Message, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    1,
		Block:    c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	var messages []Message
	for _, stream := range streams {
		for _, raw := range stream.Messages {
			msg, ok := c.Decode(ctx, raw)
			if !ok {
				continue
			}
			messages = append(messages, msg)
		}
	}
	return messages, nil
}

// Decode parses a raw entry, acking it when it cannot be parsed.
func (c *RedisConsumer) Decode(ctx context.Context, raw redis.XMessage) (Message, bool) {
	msg, err := ParseMessage(raw)
	if err != nil {
		c.logger.Error("malformed stream entry", zap.String("entry_id", raw.ID), zap.Error(err))
		if ackErr := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, raw.ID).Err(); ackErr != nil {
			c.logger.Error("ack malformed entry", zap.String("entry_id", raw.ID), zap.Error(ackErr))
		}
		return Message{}, false
	}
	msg.Stream = c.cfg.Stream
	return msg, true
}

// ClaimStale takes over entries another consumer read but never acked within
// minIdle. Malformed entries are acked and dropped.
func (c *RedisConsumer) ClaimStale(ctx context.Context, minIdle time.Duration, count int64) ([]Message, error) {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.cfg.Stream,
		Group:  c.cfg.Group,
		Idle:   minIdle,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xpending: %w", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
	}
	claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   c.cfg.Stream,
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xclaim: %w", err)
	}

	messages := make([]Message, 0, len(claimed))
	for _, raw := range claimed {
		if msg, ok := c.Decode(ctx, raw); ok {
			messages = append(messages, msg)
		}
	}
	return messages, nil
}

// Ack acknowledges a processed message.
func (c *RedisConsumer) Ack(ctx context.Context, msg Message) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("xack (stream=%s): %w", c.cfg.Stream, err)
	}
	return nil
}

// Fail routes a failed message to a retry or, once attempts are exhausted, to
// the dead-letter stream. It reports whether the message was dead-lettered.
func (c *RedisConsumer) Fail(ctx context.Context, msg Message, cause error) (bool, error) {
	errMsg := cause.Error()
	if msg.Attempt >= c.cfg.MaxAttempts {
		return true, c.SendDLQ(ctx, msg, errMsg)
	}
	return false, c.Requeue(ctx, msg, errMsg)
}

// Requeue waits for the backoff of the next attempt, then re-appends the job
// to the same lane and acks the original entry.
func (c *RedisConsumer) Requeue(ctx context.Context, msg Message, errMsg string) error {
	next := msg.Attempt + 1
	delay := RetryDelay(c.cfg.RetryBase, c.cfg.RetryMax, msg.Attempt)
	if err := c.sleep(ctx, delay); err != nil {
		return err
	}

	values := JobValues(msg.Job, next)
	values["last_error"] = errMsg
	if err := c.client.XAdd(ctx, &redis.XAddArgs{Stream: c.cfg.Stream, Values: values}).Err(); err != nil {
		return fmt.Errorf("xadd requeue: %w", err)
	}
	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed message for requeue: %w", err)
	}

	c.logger.Warn("job requeued",
		zap.Int64("job_id", msg.Job.ID),
		zap.Int("next_attempt", next),
		zap.Duration("delay", delay),
		zap.String("reason", errMsg))
	return nil
}

// SendDLQ moves the message to the dead-letter stream.
func (c *RedisConsumer) SendDLQ(ctx context.Context, msg Message, errMsg string) error {
	values := JobValues(msg.Job, msg.Attempt)
	values["error"] = errMsg
	values["source_stream"] = c.cfg.Stream
	values["failed_at"] = time.Now().UTC().UnixMilli()

	if err := c.client.XAdd(ctx, &redis.XAddArgs{Stream: c.cfg.DLQStream, Values: values}).Err(); err != nil {
		return fmt.Errorf("xadd dlq (stream=%s): %w", c.cfg.DLQStream, err)
	}
	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed message for dlq: %w", err)
	}

	c.logger.Error("job dead-lettered",
		zap.Int64("job_id", msg.Job.ID),
		zap.String("token", msg.Job.Token),
		zap.Int("attempt", msg.Attempt),
		zap.String("final_error", errMsg))
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
