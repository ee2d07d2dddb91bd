package events

import (
	"time"

	"github.com/spec-kit/intake-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventOutboundMessage     EventType = "outbound_message"
	EventTicketCreated       EventType = "ticket_created"
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventTicketMessageAdded  EventType = "ticket_message_added"
	EventInvitationRequested EventType = "invitation_requested"
	EventIdentityLinked      EventType = "identity_linked"
	EventEscalationFired     EventType = "escalation_fired"
	EventTicketTimedOut      EventType = "ticket_timed_out"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type       domain.Originator `json:"type"`
	IdentityID *string           `json:"identity_id,omitempty"`
	AccountID  *string           `json:"account_id,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id,omitempty"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// OutboundMessagePayload is a chat message to deliver to an address.
type OutboundMessagePayload struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// TicketCreatedPayload payload. Key is filled once the ticket is persisted.
type TicketCreatedPayload struct {
	Key         string                `json:"key"`
	Address     string                `json:"address"`
	Email       *string               `json:"email,omitempty"`
	Queue       domain.QueueLabel     `json:"queue"`
	Priority    domain.TicketPriority `json:"priority"`
	Title       string                `json:"title"`
	Description string                `json:"description"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
	Comment   string              `json:"comment,omitempty"`
}

// TicketMessageAddedPayload payload.
type TicketMessageAddedPayload struct {
	Originator  domain.Originator `json:"originator"`
	BodyPreview string            `json:"body_preview"`
}

// InvitationRequestedPayload asks for an out-of-band registration invite.
type InvitationRequestedPayload struct {
	Email       string `json:"email"`
	Address     string `json:"address"`
	DisplayName string `json:"display_name"`
	NationalID  string `json:"national_id,omitempty"`
}

// IdentityLinkedPayload payload.
type IdentityLinkedPayload struct {
	Address     string `json:"address"`
	AccountID   string `json:"account_id"`
	AccountName string `json:"account_name"`
}

// Escalation deadline families.
const (
	FamilyUnassigned   = "UNASSIGNED"
	FamilySlowResponse = "NO_RESPONSE"
)

// EscalationFiredPayload payload.
type EscalationFiredPayload struct {
	Family    string                `json:"family"`
	Stage     int                   `json:"stage"`
	Key       string                `json:"key"`
	Title     string                `json:"title"`
	Queue     domain.QueueLabel     `json:"queue"`
	Priority  domain.TicketPriority `json:"priority"`
	Requester string                `json:"requester"`
	Assignee  string                `json:"assignee,omitempty"`
	Threshold time.Duration         `json:"threshold"`
	Elapsed   time.Duration         `json:"elapsed"`
}

// TicketTimedOutPayload payload.
type TicketTimedOutPayload struct {
	Key     string `json:"key"`
	Address string `json:"address"`
}
