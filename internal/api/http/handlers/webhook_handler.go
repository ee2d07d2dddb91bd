package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/intake-service/internal/api/dto"
	"github.com/spec-kit/intake-service/internal/service"
)

const signaturePrefix = "sha256="

// WebhookHandler receives WhatsApp Cloud API callbacks.
type WebhookHandler struct {
	ingest      *service.IngestService
	verifyToken string
	appSecret   []byte
	logger      *zap.Logger
}

// NewWebhookHandler constructs handler. An empty appSecret disables signature checks.
func NewWebhookHandler(ingest *service.IngestService, verifyToken, appSecret string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		ingest:      ingest,
		verifyToken: verifyToken,
		appSecret:   []byte(appSecret),
		logger:      logger.Named("webhook"),
	}
}

// Verify handles GET /webhooks/whatsapp subscription handshakes.
func (h *WebhookHandler) Verify(c *fiber.Ctx) error {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	if mode == "" || token == "" {
		return c.SendStatus(http.StatusBadRequest)
	}
	if mode != "subscribe" || h.verifyToken == "" || token != h.verifyToken {
		h.logger.Warn("webhook handshake rejected", zap.String("mode", mode))
		return c.SendStatus(http.StatusForbidden)
	}
	h.logger.Info("webhook verified")
	return c.Status(http.StatusOK).SendString(c.Query("hub.challenge"))
}

// Receive handles POST /webhooks/whatsapp. Parsed and ignored payloads are
// acknowledged with 200; only an unreachable queue fails the delivery.
func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	body := c.Body()
	if len(h.appSecret) > 0 && !validSignature(h.appSecret, body, c.Get("X-Hub-Signature-256")) {
		h.logger.Warn("webhook signature rejected", zap.String("remote_addr", c.IP()))
		return c.SendStatus(http.StatusUnauthorized)
	}

	var payload dto.WhatsAppWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		h.logger.Warn("malformed webhook payload", zap.Error(err))
		return c.SendStatus(http.StatusOK)
	}

	msgs := InboundMessages(payload)
	if len(msgs) == 0 {
		return c.SendStatus(http.StatusOK)
	}

	result, err := h.ingest.Ingest(c.UserContext(), msgs)
	if err != nil {
		return err
	}
	h.logger.Debug("webhook accepted",
		zap.Int("enqueued", result.Enqueued),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("ignored", result.Ignored))
	return c.SendStatus(http.StatusOK)
}

// InboundMessages flattens a webhook payload into channel messages, pairing
// each message with its sender's profile name.
func InboundMessages(payload dto.WhatsAppWebhook) []service.InboundMessage {
	var out []service.InboundMessage
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			fallback := ""
			for _, contact := range change.Value.Contacts {
				names[contact.WaID] = contact.Profile.Name
				if fallback == "" {
					fallback = contact.Profile.Name
				}
			}
			for _, msg := range change.Value.Messages {
				name, ok := names[msg.From]
				if !ok {
					name = fallback
				}
				out = append(out, service.InboundMessage{
					Token:       msg.ID,
					Address:     msg.From,
					DisplayName: name,
					Type:        msg.Type,
					Text:        msg.Body(),
					MediaRef:    msg.MediaID(),
				})
			}
		}
	}
	return out
}

func validSignature(secret, body []byte, header string) bool {
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
