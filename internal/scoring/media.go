package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/openai/openai-go"
	"go.uber.org/zap"

	"github.com/spec-kit/intake-service/internal/config"
	"github.com/spec-kit/intake-service/internal/domain"
)

// Marker texts substituted for media content.
const (
	MarkerAudioFailed = "[ERROR_AUDIO]: Falló descarga."
	MarkerMediaFailed = "[ERROR_MEDIA]: Falló descarga."
	markerMediaURL    = "[MEDIA_URL]: "
)

// Media is a downloaded channel attachment.
type Media struct {
	URL      string
	MimeType string
	Data     []byte
}

// MediaFetcher resolves and downloads a channel media reference.
type MediaFetcher interface {
	Fetch(ctx context.Context, mediaID string) (*Media, error)
}

// Transcriber converts recorded speech to text.
type Transcriber interface {
	Transcribe(ctx context.Context, media *Media) (string, error)
}

// MediaResolver turns a job with a media reference into text the dialog can
// consume. It never fails: unavailable media becomes a marker.
type MediaResolver struct {
	fetcher     MediaFetcher
	transcriber Transcriber
	logger      *zap.Logger
}

// NewMediaResolver builds a resolver. transcriber may be nil.
func NewMediaResolver(fetcher MediaFetcher, transcriber Transcriber, logger *zap.Logger) *MediaResolver {
	return &MediaResolver{fetcher: fetcher, transcriber: transcriber, logger: logger.Named("scoring.media")}
}

// Resolve returns the job text, replacing media content with a transcript,
// a link marker, or a failure marker.
func (r *MediaResolver) Resolve(ctx context.Context, job domain.Job) string {
	switch job.Kind {
	case domain.ContentText:
		return job.Text
	case domain.ContentAudio:
		if job.MediaRef == "" {
			return MarkerAudioFailed
		}
		media, err := r.fetcher.Fetch(ctx, job.MediaRef)
		if err != nil {
			r.logger.Warn("audio download failed", zap.String("media_id", job.MediaRef), zap.Error(err))
			return MarkerAudioFailed
		}
		if r.transcriber == nil {
			return MarkerAudioFailed
		}
		text, err := r.transcriber.Transcribe(ctx, media)
		if err != nil {
			r.logger.Warn("transcription failed", zap.String("media_id", job.MediaRef), zap.Error(err))
			return MarkerAudioFailed
		}
		return fmt.Sprintf("🎤 \"%s\"", strings.TrimSpace(text))
	case domain.ContentImage, domain.ContentDocument:
		if job.MediaRef == "" {
			return MarkerMediaFailed
		}
		media, err := r.fetcher.Fetch(ctx, job.MediaRef)
		if err != nil {
			r.logger.Warn("media download failed", zap.String("media_id", job.MediaRef), zap.Error(err))
			return MarkerMediaFailed
		}
		return markerMediaURL + media.URL
	default:
		kind := job.RawKind
		if kind == "" {
			kind = string(job.Kind)
		}
		return fmt.Sprintf("[ARCHIVO: %s]", kind)
	}
}

// GraphMediaFetcher downloads media through the channel provider's Graph API.
type GraphMediaFetcher struct {
	baseURL string
	version string
	token   string
	timeout time.Duration
}

// NewGraphMediaFetcher builds a fetcher from channel configuration.
func NewGraphMediaFetcher(cfg config.WhatsAppConfig) *GraphMediaFetcher {
	return &GraphMediaFetcher{
		baseURL: strings.TrimRight(cfg.GraphBaseURL, "/"),
		version: cfg.GraphVersion,
		token:   cfg.AccessToken,
		timeout: cfg.Timeout,
	}
}

type graphMediaInfo struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
}

// Fetch looks up the media URL, then downloads it with the same bearer token.
func (f *GraphMediaFetcher) Fetch(ctx context.Context, mediaID string) (*Media, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.token == "" {
		return nil, errors.New("channel access token not configured")
	}

	lookupURL := fmt.Sprintf("%s/%s/%s", f.baseURL, f.version, mediaID)
	code, body, errs := fiber.Get(lookupURL).
		Set(fiber.HeaderAuthorization, "Bearer "+f.token).
		Timeout(f.timeout).
		Bytes()
	if len(errs) > 0 {
		return nil, fmt.Errorf("media lookup: %w", errors.Join(errs...))
	}
	if code != fiber.StatusOK {
		return nil, fmt.Errorf("media lookup: status %d", code)
	}

	var info graphMediaInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode media lookup: %w", err)
	}
	if info.URL == "" {
		return nil, errors.New("media lookup returned no url")
	}

	code, data, errs := fiber.Get(info.URL).
		Set(fiber.HeaderAuthorization, "Bearer "+f.token).
		Timeout(f.timeout).
		Bytes()
	if len(errs) > 0 {
		return nil, fmt.Errorf("media download: %w", errors.Join(errs...))
	}
	if code != fiber.StatusOK {
		return nil, fmt.Errorf("media download: status %d", code)
	}

	return &Media{URL: info.URL, MimeType: info.MimeType, Data: data}, nil
}

// OpenAITranscriber transcribes audio with the speech-to-text endpoint.
type OpenAITranscriber struct {
	client openai.Client
	model  string
}

// NewOpenAITranscriber builds a transcriber.
func NewOpenAITranscriber(client openai.Client, model string) *OpenAITranscriber {
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAITranscriber{client: client, model: model}
}

func (t *OpenAITranscriber) Transcribe(ctx context.Context, media *Media) (string, error) {
	if media == nil || len(media.Data) == 0 {
		return "", errors.New("empty audio")
	}
	mime := media.MimeType
	if mime == "" {
		mime = "audio/ogg"
	}
	resp, err := t.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(media.Data), "audio"+audioExtension(mime), mime),
		Model: openai.AudioModel(t.model),
	})
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", errors.New("empty transcription")
	}
	return resp.Text, nil
}

func audioExtension(mime string) string {
	switch {
	case strings.Contains(mime, "ogg"):
		return ".ogg"
	case strings.Contains(mime, "mpeg"):
		return ".mp3"
	case strings.Contains(mime, "mp4"), strings.Contains(mime, "aac"):
		return ".m4a"
	case strings.Contains(mime, "wav"):
		return ".wav"
	}
	return ".ogg"
}
