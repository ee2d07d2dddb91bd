package scoring

import (
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/spec-kit/intake-service/internal/config"
)

// NewOpenAIClient builds the shared API client. The bool is false when no API
// key is configured, in which case callers fall back to local behavior.
func NewOpenAIClient(cfg config.OpenAIConfig) (openai.Client, bool) {
	if cfg.APIKey == "" {
		return openai.Client{}, false
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return openai.NewClient(opts...), true
}
