package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/intake-service/internal/domain"
	"github.com/spec-kit/intake-service/internal/observability"
	"github.com/spec-kit/intake-service/internal/queue"
	"github.com/spec-kit/intake-service/pkg/util/idgen"
)

// InboundMessage is one message extracted from a channel webhook payload.
type InboundMessage struct {
	Token       string
	Address     string
	DisplayName string
	Type        string
	Text        string
	MediaRef    string
}

// IngestResult counts what happened to each inbound message.
type IngestResult struct {
	Enqueued   int
	Duplicates int
	Ignored    int
}

// IngestService turns webhook messages into queued jobs.
type IngestService struct {
	producer queue.Producer
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewIngestService constructs the service.
func NewIngestService(producer queue.Producer, metrics *observability.Metrics, logger *zap.Logger) *IngestService {
	return &IngestService{
		producer: producer,
		metrics:  metrics,
		logger:   logger.Named("ingest"),
		now:      time.Now,
	}
}

// Ingest enqueues every well-formed message once per token. It only fails
// when the queue is unreachable, so the provider redelivers the payload.
func (s *IngestService) Ingest(ctx context.Context, msgs []InboundMessage) (IngestResult, error) {
	var result IngestResult
	for _, msg := range msgs {
		job, ok := s.buildJob(msg)
		if !ok {
			result.Ignored++
			s.metrics.RecordWebhookEvent("ignored")
			continue
		}
		enqueued, err := s.producer.Enqueue(ctx, job)
		if err != nil {
			s.logger.Error("enqueue failed", zap.String("token", job.Token), zap.Error(err))
			return result, err
		}
		if !enqueued {
			result.Duplicates++
			s.metrics.RecordWebhookEvent("duplicate")
			continue
		}
		result.Enqueued++
		s.metrics.RecordWebhookEvent("enqueued")
	}
	return result, nil
}

func (s *IngestService) buildJob(msg InboundMessage) (domain.Job, bool) {
	token := strings.TrimSpace(msg.Token)
	address := strings.TrimSpace(msg.Address)
	if token == "" || address == "" {
		return domain.Job{}, false
	}
	kind := ContentKindFor(msg.Type)
	if kind == domain.ContentText && strings.TrimSpace(msg.Text) == "" {
		return domain.Job{}, false
	}
	displayName := strings.TrimSpace(msg.DisplayName)
	if displayName == "" {
		displayName = domain.DefaultDisplayName
	}
	return domain.Job{
		ID:          idgen.New(),
		Token:       token,
		Address:     address,
		DisplayName: displayName,
		Kind:        kind,
		RawKind:     msg.Type,
		Text:        msg.Text,
		MediaRef:    msg.MediaRef,
		ReceivedAt:  s.now(),
	}, true
}

// ContentKindFor maps a provider message type to a content kind.
func ContentKindFor(messageType string) domain.ContentKind {
	switch strings.ToLower(strings.TrimSpace(messageType)) {
	case "text":
		return domain.ContentText
	case "audio", "voice":
		return domain.ContentAudio
	case "image", "sticker":
		return domain.ContentImage
	case "document":
		return domain.ContentDocument
	default:
		return domain.ContentOther
	}
}
