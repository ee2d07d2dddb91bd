package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/intake-service/internal/config"
)

// ChatSender delivers a text message to a channel address.
type ChatSender interface {
	Send(ctx context.Context, to, body string) error
}

type graphTextMessage struct {
	MessagingProduct string    `json:"messaging_product"`
	To               string    `json:"to"`
	Type             string    `json:"type"`
	Text             graphText `json:"text"`
}

type graphText struct {
	Body string `json:"body"`
}

// GraphChatSender posts messages to the channel provider's messages endpoint.
type GraphChatSender struct {
	endpoint string
	token    string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewGraphChatSender builds a sender from channel configuration.
func NewGraphChatSender(cfg config.WhatsAppConfig, logger *zap.Logger) *GraphChatSender {
	return &GraphChatSender{
		endpoint: fmt.Sprintf("%s/%s/%s/messages", strings.TrimRight(cfg.GraphBaseURL, "/"), cfg.GraphVersion, cfg.PhoneNumberID),
		token:    cfg.AccessToken,
		timeout:  cfg.Timeout,
		logger:   logger.Named("notify.chat"),
	}
}

// Send posts one text message. The recipient is used exactly as received.
func (s *GraphChatSender) Send(ctx context.Context, to, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to == "" {
		return errors.New("no recipient")
	}
	if s.token == "" {
		s.logger.Warn("channel token not configured; message dropped", zap.String("to", to))
		return nil
	}

	code, resp, errs := fiber.Post(s.endpoint).
		Set(fiber.HeaderAuthorization, "Bearer "+s.token).
		JSON(graphTextMessage{
			MessagingProduct: "whatsapp",
			To:               to,
			Type:             "text",
			Text:             graphText{Body: body},
		}).
		Timeout(s.timeout).
		Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("send chat message: %w", errors.Join(errs...))
	}
	if code < fiber.StatusOK || code >= fiber.StatusMultipleChoices {
		return fmt.Errorf("send chat message: status %d: %s", code, truncate(string(resp), 200))
	}

	s.logger.Debug("chat message sent", zap.String("to", to), zap.Int("length", len(body)))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
