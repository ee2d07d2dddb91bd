package dto

// WhatsAppWebhook is the Cloud API change notification envelope.
type WhatsAppWebhook struct {
	Object string          `json:"object"`
	Entry  []WhatsAppEntry `json:"entry"`
}

// WhatsAppEntry groups changes for one business account.
type WhatsAppEntry struct {
	ID      string           `json:"id"`
	Changes []WhatsAppChange `json:"changes"`
}

// WhatsAppChange is one field change.
type WhatsAppChange struct {
	Field string        `json:"field"`
	Value WhatsAppValue `json:"value"`
}

// WhatsAppValue carries contacts and messages. Status callbacks arrive with
// no messages and are ignored.
type WhatsAppValue struct {
	MessagingProduct string            `json:"messaging_product"`
	Contacts         []WhatsAppContact `json:"contacts"`
	Messages         []WhatsAppMessage `json:"messages"`
}

// WhatsAppContact names the sender.
type WhatsAppContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// WhatsAppMessage is one inbound message.
type WhatsAppMessage struct {
	ID        string         `json:"id"`
	From      string         `json:"from"`
	Timestamp string         `json:"timestamp"`
	Type      string         `json:"type"`
	Text      *WhatsAppText  `json:"text,omitempty"`
	Audio     *WhatsAppMedia `json:"audio,omitempty"`
	Voice     *WhatsAppMedia `json:"voice,omitempty"`
	Image     *WhatsAppMedia `json:"image,omitempty"`
	Document  *WhatsAppMedia `json:"document,omitempty"`
	Sticker   *WhatsAppMedia `json:"sticker,omitempty"`
}

// WhatsAppText is a text body.
type WhatsAppText struct {
	Body string `json:"body"`
}

// WhatsAppMedia references uploaded media.
type WhatsAppMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption,omitempty"`
}

// MediaID returns the media reference for any media type.
func (m WhatsAppMessage) MediaID() string {
	for _, media := range []*WhatsAppMedia{m.Audio, m.Voice, m.Image, m.Document, m.Sticker} {
		if media != nil {
			return media.ID
		}
	}
	return ""
}

// Body returns the text body or a media caption.
func (m WhatsAppMessage) Body() string {
	if m.Text != nil {
		return m.Text.Body
	}
	for _, media := range []*WhatsAppMedia{m.Image, m.Document} {
		if media != nil {
			return media.Caption
		}
	}
	return ""
}
