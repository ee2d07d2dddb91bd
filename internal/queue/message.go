package queue

import (
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/intake-service/internal/domain"
)

// Message is one stream entry carrying a job.
type Message struct {
	ID        string
	Stream    string
	Job       domain.Job
	Attempt   int
	LastError string
	Raw       redis.XMessage
}

// ParseMessage decodes stream fields into a Message.
func ParseMessage(msg redis.XMessage) (Message, error) {
	jobID, err := parseInt64(msg.Values, "job_id")
	if err != nil {
		return Message{}, err
	}
	token, err := parseString(msg.Values, "token")
	if err != nil {
		return Message{}, err
	}
	if token == "" {
		return Message{}, fmt.Errorf("empty token")
	}
	address, err := parseString(msg.Values, "address")
	if err != nil {
		return Message{}, err
	}
	if address == "" {
		return Message{}, fmt.Errorf("empty address")
	}
	kind, err := parseString(msg.Values, "kind")
	if err != nil {
		return Message{}, err
	}

	receivedAt := time.Time{}
	if raw := parseOptionalString(msg.Values, "received_at"); raw != "" {
		unix, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Message{}, fmt.Errorf("parsing received_at: %w", err)
		}
		receivedAt = time.UnixMilli(unix).UTC()
	}

	attempt, err := parseOptionalInt(msg.Values, "attempt")
	if err != nil {
		return Message{}, err
	}
	if attempt == 0 {
		attempt = 1
	}

	job := domain.Job{
		ID:          jobID,
		Token:       token,
		Address:     address,
		DisplayName: parseOptionalString(msg.Values, "display_name"),
		Kind:        normalizeKind(kind),
		RawKind:     parseOptionalString(msg.Values, "raw_kind"),
		Text:        parseOptionalString(msg.Values, "text"),
		MediaRef:    parseOptionalString(msg.Values, "media_ref"),
		ReceivedAt:  receivedAt,
	}
	if job.RawKind == "" {
		job.RawKind = kind
	}

	return Message{
		ID:        msg.ID,
		Job:       job,
		Attempt:   attempt,
		LastError: parseOptionalString(msg.Values, "last_error"),
		Raw:       msg,
	}, nil
}

// JobValues encodes a job and its attempt as stream fields.
func JobValues(job domain.Job, attempt int) map[string]any {
	if attempt <= 0 {
		attempt = 1
	}
	values := map[string]any{
		"job_id":  job.ID,
		"token":   job.Token,
		"address": job.Address,
		"kind":    string(job.Kind),
		"attempt": attempt,
	}
	if job.DisplayName != "" {
		values["display_name"] = job.DisplayName
	}
	if job.RawKind != "" {
		values["raw_kind"] = job.RawKind
	}
	if job.Text != "" {
		values["text"] = job.Text
	}
	if job.MediaRef != "" {
		values["media_ref"] = job.MediaRef
	}
	if !job.ReceivedAt.IsZero() {
		values["received_at"] = job.ReceivedAt.UnixMilli()
	}
	return values
}

func normalizeKind(kind string) domain.ContentKind {
	switch domain.ContentKind(kind) {
	case domain.ContentText, domain.ContentAudio, domain.ContentImage, domain.ContentDocument:
		return domain.ContentKind(kind)
	}
	return domain.ContentOther
}

func parseInt64(values map[string]any, key string) (int64, error) {
	raw, ok := values[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	num, err := strconv.ParseInt(fmt.Sprint(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	return fmt.Sprint(raw), nil
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	num, err := strconv.Atoi(fmt.Sprint(raw))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseOptionalString(values map[string]any, key string) string {
	raw, ok := values[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(raw)
}
