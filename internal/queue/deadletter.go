package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DeadLetter is a job that exhausted its attempts.
type DeadLetter struct {
	ID           string
	Message      Message
	Error        string
	SourceStream string
	FailedAt     time.Time
}

// DeadLetterStore inspects and replays the dead-letter stream.
type DeadLetterStore interface {
	List(ctx context.Context, limit int64) ([]DeadLetter, error)
	Replay(ctx context.Context, id string) (*DeadLetter, error)
}

// ErrDeadLetterNotFound is returned when the entry does not exist.
var ErrDeadLetterNotFound = errors.New("dead letter not found")

type redisDeadLetterStore struct {
	client *redis.Client
	stream string
	prefix string
	lanes  int
	logger *zap.Logger
}

// NewRedisDeadLetterStore builds the store.
func NewRedisDeadLetterStore(client *redis.Client, deadStream, streamPrefix string, lanes int, logger *zap.Logger) DeadLetterStore {
	return &redisDeadLetterStore{
		client: client,
		stream: deadStream,
		prefix: streamPrefix,
		lanes:  lanes,
		logger: logger.Named("queue.deadletter"),
	}
}

// List returns the newest entries first.
func (s *redisDeadLetterStore) List(ctx context.Context, limit int64) ([]DeadLetter, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	entries, err := s.client.XRevRangeN(ctx, s.stream, "+", "-", limit).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange dlq: %w", err)
	}
	letters := make([]DeadLetter, 0, len(entries))
	for _, entry := range entries {
		letter, err := decodeDeadLetter(entry)
		if err != nil {
			s.logger.Warn("skipping malformed dead letter", zap.String("entry_id", entry.ID), zap.Error(err))
			continue
		}
		letters = append(letters, letter)
	}
	return letters, nil
}

// Replay re-enqueues the job with a fresh attempt counter and removes it from
// the dead-letter stream. The dedup key is not consulted: the token was
// already claimed by the original delivery.
func (s *redisDeadLetterStore) Replay(ctx context.Context, id string) (*DeadLetter, error) {
	entries, err := s.client.XRangeN(ctx, s.stream, id, id, 1).Result()
	if err != nil {
		return nil, fmt.Errorf("xrange dlq: %w", err)
	}
	if len(entries) == 0 {
		return nil, ErrDeadLetterNotFound
	}
	letter, err := decodeDeadLetter(entries[0])
	if err != nil {
		return nil, err
	}

	stream := StreamName(s.prefix, SelectLane(letter.Message.Job.Address, s.lanes))
	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: JobValues(letter.Message.Job, 1),
	}).Err(); err != nil {
		return nil, fmt.Errorf("xadd replay: %w", err)
	}
	if err := s.client.XDel(ctx, s.stream, id).Err(); err != nil {
		return nil, fmt.Errorf("xdel dlq: %w", err)
	}

	s.logger.Info("dead letter replayed",
		zap.String("entry_id", id),
		zap.Int64("job_id", letter.Message.Job.ID),
		zap.String("stream", stream))
	return &letter, nil
}

func decodeDeadLetter(entry redis.XMessage) (DeadLetter, error) {
	msg, err := ParseMessage(entry)
	if err != nil {
		return DeadLetter{}, err
	}
	letter := DeadLetter{
		ID:           entry.ID,
		Message:      msg,
		Error:        parseOptionalString(entry.Values, "error"),
		SourceStream: parseOptionalString(entry.Values, "source_stream"),
	}
	if raw := parseOptionalString(entry.Values, "failed_at"); raw != "" {
		if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
			letter.FailedAt = time.UnixMilli(unix).UTC()
		}
	}
	return letter, nil
}
