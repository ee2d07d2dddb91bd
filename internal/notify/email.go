package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/spec-kit/intake-service/internal/config"
)

// Email kinds, used as routing key suffixes.
const (
	EmailKindTicketCreated = "ticket_created"
	EmailKindInvitation    = "invitation"
	EmailKindEscalation    = "escalation"
)

// Email is the envelope consumed by the mail relay.
type Email struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	From    string    `json:"from,omitempty"`
	To      []string  `json:"to"`
	Cc      []string  `json:"cc,omitempty"`
	Subject string    `json:"subject"`
	HTML    string    `json:"html"`
	SentAt  time.Time `json:"sent_at"`
}

// EmailPublisher hands emails to the mail relay.
type EmailPublisher interface {
	Publish(ctx context.Context, email Email) error
	Close() error
}

const maxDialDelay = 60 * time.Second

// DialWithRetry connects to the broker with exponential backoff.
func DialWithRetry(ctx context.Context, cfg config.AMQPConfig, logger *zap.Logger) (*amqp.Connection, error) {
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := amqp.Dial(cfg.URL)
		if err == nil {
			if i > 1 {
				logger.Info("amqp connected", zap.Int("attempt", i))
			}
			return conn, nil
		}
		lastErr = err

		sleep := cfg.RetryDelay * time.Duration(math.Pow(2, float64(i-1)))
		if sleep > maxDialDelay {
			sleep = maxDialDelay
		}
		logger.Warn("amqp dial failed", zap.Int("attempt", i), zap.Duration("sleep", sleep), zap.Error(err))

		if i == attempts {
			break
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("failed to connect to amqp after %d attempts: %w", attempts, lastErr)
}

type amqpPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	from     string
	logger   *zap.Logger
}

// NewAMQPPublisher declares the topic exchange and enables publisher confirms.
func NewAMQPPublisher(ctx context.Context, cfg config.AMQPConfig, from string, logger *zap.Logger) (EmailPublisher, error) {
	logger = logger.Named("notify.email")
	conn, err := DialWithRetry(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	return &amqpPublisher{conn: conn, ch: ch, exchange: cfg.Exchange, from: from, logger: logger}, nil
}

func (p *amqpPublisher) Publish(ctx context.Context, email Email) error {
	if len(email.To) == 0 {
		return errors.New("email has no recipients")
	}
	if email.ID == "" {
		email.ID = uuid.NewString()
	}
	if email.From == "" {
		email.From = p.from
	}
	if email.SentAt.IsZero() {
		email.SentAt = time.Now().UTC()
	}
	body, err := json.Marshal(email)
	if err != nil {
		return err
	}

	key := "email." + email.Kind
	p.mu.Lock()
	defer p.mu.Unlock()

	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    email.ID,
		Timestamp:    email.SentAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("confirm %s: %w", key, err)
	}
	if !acked {
		return fmt.Errorf("publish %s: broker nacked", key)
	}

	p.logger.Info("email published", zap.String("key", key), zap.String("subject", email.Subject), zap.Strings("to", email.To))
	return nil
}

func (p *amqpPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

type fallbackPublisher struct {
	logger *zap.Logger
}

// NewFallbackPublisher logs emails instead of publishing them.
func NewFallbackPublisher(logger *zap.Logger) EmailPublisher {
	return &fallbackPublisher{logger: logger.Named("notify.email")}
}

func (p *fallbackPublisher) Publish(_ context.Context, email Email) error {
	p.logger.Warn("email publishing disabled; skipped",
		zap.String("kind", email.Kind),
		zap.String("subject", email.Subject),
		zap.Strings("to", email.To))
	return nil
}

func (p *fallbackPublisher) Close() error {
	return nil
}

// NewEmailPublisher connects to the broker when one is configured and falls
// back to logging otherwise.
func NewEmailPublisher(ctx context.Context, cfg config.AMQPConfig, from string, logger *zap.Logger) EmailPublisher {
	if cfg.URL == "" {
		return NewFallbackPublisher(logger)
	}
	publisher, err := NewAMQPPublisher(ctx, cfg, from, logger)
	if err != nil {
		logger.Error("amqp unavailable; email notifications disabled", zap.Error(err))
		return NewFallbackPublisher(logger)
	}
	return publisher
}
