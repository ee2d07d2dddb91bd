package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/spec-kit/intake-service/internal/domain"
)

// DefaultClassifierThreshold is the minimum confidence for a queue guess.
const DefaultClassifierThreshold = 0.20

var queueDescriptions = map[domain.QueueLabel]string{
	domain.QueueSistemas:       "Soporte Técnico Hardware, Software, WiFi, Impresoras y Redes",
	domain.QueueHaberes:        "Liquidación de Haberes, Sueldos, Descuentos y Recibos",
	domain.QueueTesoreria:      "Pagos de Tesorería, Fondos y Transferencias",
	domain.QueueGastosPersonal: "Gastos de Personal, Viáticos y Movilidad",
	domain.QueueSAF:            "Servicio Administrativo Financiero y Presupuesto (SAF)",
	domain.QueueContabilidad:   "Contabilidad, Balances y Asientos Contables",
	domain.QueueContrataciones: "Contrataciones, Compras y Licitaciones",
}

var queueKeywords = map[domain.QueueLabel][]string{
	domain.QueueSistemas:       {"computadora", "pc", "impresora", "wifi", "red", "internet", "sistema", "usuario", "contrasena", "clave", "correo", "software"},
	domain.QueueHaberes:        {"sueldo", "haber", "haberes", "recibo", "descuento", "liquidacion", "suplemento", "cobro"},
	domain.QueueTesoreria:      {"pago", "tesoreria", "transferencia", "fondo", "fondos", "alquiler"},
	domain.QueueGastosPersonal: {"viatico", "viaticos", "movilidad", "pasaje", "gastos"},
	domain.QueueSAF:            {"presupuesto", "saf", "financiero"},
	domain.QueueContabilidad:   {"contabilidad", "balance", "asiento", "contable"},
	domain.QueueContrataciones: {"contratacion", "compra", "licitacion", "proveedor"},
}

// classification is the structured reply requested from the model.
type classification struct {
	Queue      string  `json:"queue" jsonschema:"enum=SISTEMAS,enum=HABERES,enum=TESORERIA,enum=GASTOS_PERSONAL,enum=SAF,enum=CONTABILIDAD,enum=CONTRATACIONES,description=Destination queue"`
	Confidence float64 `json:"confidence" jsonschema:"minimum=0,maximum=1,description=Confidence between 0 and 1"`
}

// ChatCompleter runs a structured chat completion and decodes into result.
type ChatCompleter interface {
	Complete(ctx context.Context, system, user string, schema any, result any) error
}

// TopicClassifier guesses the destination queue of a free-text request.
type TopicClassifier struct {
	chat      ChatCompleter
	threshold float64
	logger    *zap.Logger

	once   sync.Once
	schema any
	prompt string
}

// NewTopicClassifier builds a classifier. chat may be nil, in which case only
// keyword matching is used.
func NewTopicClassifier(chat ChatCompleter, threshold float64, logger *zap.Logger) *TopicClassifier {
	if threshold <= 0 {
		threshold = DefaultClassifierThreshold
	}
	return &TopicClassifier{chat: chat, threshold: threshold, logger: logger.Named("scoring.classifier")}
}

// Warmup prepares the response schema and prompt once.
func (c *TopicClassifier) Warmup(context.Context) error {
	c.once.Do(func() {
		reflector := jsonschema.Reflector{
			AllowAdditionalProperties: false,
			DoNotReference:            true,
		}
		c.schema = reflector.Reflect(&classification{})

		var b strings.Builder
		b.WriteString("Clasificá la consulta de un usuario en una de estas colas:\n")
		for _, label := range domain.QueueLabels() {
			fmt.Fprintf(&b, "- %s: %s\n", label, queueDescriptions[label])
		}
		b.WriteString("Respondé con la cola y tu confianza entre 0 y 1.")
		c.prompt = b.String()
	})
	return nil
}

// Classify returns a queue label, UNCLASSIFIED when unsure. It never fails:
// model errors fall back to keyword matching.
func (c *TopicClassifier) Classify(ctx context.Context, text string) domain.QueueLabel {
	_ = c.Warmup(ctx)

	if c.chat != nil {
		var out classification
		if err := c.chat.Complete(ctx, c.prompt, text, c.schema, &out); err != nil {
			c.logger.Warn("classifier unavailable, using keywords", zap.Error(err))
			return KeywordQueue(text)
		}
		label, err := domain.ParseQueueLabel(out.Queue)
		if err != nil {
			c.logger.Warn("classifier returned unknown queue", zap.String("queue", out.Queue))
			return domain.QueueUnclassified
		}
		if out.Confidence < c.threshold {
			c.logger.Debug("low classifier confidence",
				zap.String("queue", out.Queue),
				zap.Float64("confidence", out.Confidence))
			return domain.QueueUnclassified
		}
		return label
	}
	return KeywordQueue(text)
}

// KeywordQueue picks the queue with the most keyword hits, UNCLASSIFIED on none or a tie.
func KeywordQueue(text string) domain.QueueLabel {
	words := strings.Fields(foldText(text))
	best, bestHits, tie := domain.QueueUnclassified, 0, false
	for _, label := range domain.QueueLabels() {
		hits := 0
		for _, word := range words {
			for _, kw := range queueKeywords[label] {
				if word == kw || strings.HasPrefix(word, kw) && len(kw) >= 5 {
					hits++
					break
				}
			}
		}
		switch {
		case hits > bestHits:
			best, bestHits, tie = label, hits, false
		case hits == bestHits && hits > 0:
			tie = true
		}
	}
	if tie {
		return domain.QueueUnclassified
	}
	return best
}

// foldText lowercases, strips accents, and replaces punctuation with spaces.
func foldText(text string) string {
	decomposed := norm.NFD.String(strings.ToLower(text))
	var b strings.Builder
	for _, r := range decomposed {
		switch {
		case unicode.Is(unicode.Mn, r):
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return b.String()
}

// OpenAIChat runs completions constrained by a strict JSON schema.
type OpenAIChat struct {
	client openai.Client
	model  string
}

// NewOpenAIChat builds a chat completer.
func NewOpenAIChat(client openai.Client, model string) *OpenAIChat {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIChat{client: client, model: model}
}

func (c *OpenAIChat) Complete(ctx context.Context, system, user string, schema any, result any) error {
	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		MaxTokens:   openai.Int(100),
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "queue_classification",
					Schema: schema,
					Strict: openai.Bool(true),
				},
			},
		},
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("no choices in response")
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
