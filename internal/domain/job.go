package domain

import "time"

// ContentKind is the declared kind of an inbound message.
type ContentKind string

const (
	ContentText     ContentKind = "text"
	ContentAudio    ContentKind = "audio"
	ContentImage    ContentKind = "image"
	ContentDocument ContentKind = "document"
	ContentOther    ContentKind = "other"
)

// Job is one externally delivered event waiting to be processed.
type Job struct {
	ID          int64
	Token       string
	Address     string
	DisplayName string
	Kind        ContentKind
	RawKind     string
	Text        string
	MediaRef    string
	ReceivedAt  time.Time
}

// HasMedia reports whether the job carries a media reference to resolve.
func (j *Job) HasMedia() bool {
	return j.Kind != ContentText && j.MediaRef != ""
}
