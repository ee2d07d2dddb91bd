package domain

import "time"

// Originator indicates who produced a message.
type Originator string

const (
	OriginatorRequester Originator = "REQUESTER"
	OriginatorAgent     Originator = "AGENT"
	OriginatorAutomated Originator = "AUTOMATED"
)

// TicketMessage is one append-only turn in a ticket thread.
type TicketMessage struct {
	ID         string
	TicketID   string
	Originator Originator
	Body       string
	Internal   bool
	CreatedAt  time.Time
}
