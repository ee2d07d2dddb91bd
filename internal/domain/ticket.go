package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusPendingReview        TicketStatus = "PENDING_REVIEW"
	TicketStatusRejected             TicketStatus = "REJECTED"
	TicketStatusQueued               TicketStatus = "QUEUED"
	TicketStatusInProgress           TicketStatus = "IN_PROGRESS"
	TicketStatusWaitingUser          TicketStatus = "WAITING_USER"
	TicketStatusAwaitingConfirmation TicketStatus = "AWAITING_CONFIRMATION"
	TicketStatusClosed               TicketStatus = "CLOSED"
	TicketStatusClosedTimeout        TicketStatus = "CLOSED_TIMEOUT"
)

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow      TicketPriority = "LOW"
	TicketPriorityMedium   TicketPriority = "MEDIUM"
	TicketPriorityHigh     TicketPriority = "HIGH"
	TicketPriorityCritical TicketPriority = "CRITICAL"
)

// Escalation stages recorded on a ticket.
const (
	EscalationNone     = 0
	EscalationWarned   = 1
	EscalationBreached = 2
)

var allowedTransitions = map[TicketStatus][]TicketStatus{
	TicketStatusPendingReview:        {TicketStatusQueued, TicketStatusInProgress, TicketStatusRejected, TicketStatusClosedTimeout},
	TicketStatusRejected:             {TicketStatusPendingReview, TicketStatusClosedTimeout},
	TicketStatusQueued:               {TicketStatusInProgress, TicketStatusPendingReview, TicketStatusClosedTimeout},
	TicketStatusInProgress:           {TicketStatusWaitingUser, TicketStatusAwaitingConfirmation, TicketStatusClosedTimeout},
	TicketStatusWaitingUser:          {TicketStatusPendingReview, TicketStatusInProgress, TicketStatusClosedTimeout},
	TicketStatusAwaitingConfirmation: {TicketStatusClosed, TicketStatusInProgress},
}

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID                     string
	ExternalKey            string
	IdentityID             string
	Title                  string
	Description            string
	Topic                  *Topic
	Queue                  QueueLabel
	Status                 TicketStatus
	Priority               TicketPriority
	AssigneeID             *string
	AssignedAt             *time.Time
	LastAgentResponseAt    *time.Time
	LastRequesterMessageAt *time.Time
	EscalationStage        int
	Rating                 *int
	CreatedAt              time.Time
	UpdatedAt              time.Time
	ClosedAt               *time.Time
}

// IsTerminal reports whether the status ends the ticket lifecycle.
func (s TicketStatus) IsTerminal() bool {
	return s == TicketStatusClosed || s == TicketStatusClosedTimeout
}

// IsOpen reports whether requester messages are appended to a ticket in this status.
func (s TicketStatus) IsOpen() bool {
	switch s {
	case TicketStatusPendingReview, TicketStatusQueued, TicketStatusInProgress,
		TicketStatusWaitingUser, TicketStatusRejected:
		return true
	}
	return false
}

// AwaitsRequester reports whether the ticket is blocked on the requester.
func (s TicketStatus) AwaitsRequester() bool {
	return s == TicketStatusWaitingUser || s == TicketStatusRejected
}

// OpenStatuses lists statuses that accept requester replies.
func OpenStatuses() []TicketStatus {
	return []TicketStatus{
		TicketStatusPendingReview,
		TicketStatusQueued,
		TicketStatusInProgress,
		TicketStatusWaitingUser,
		TicketStatusRejected,
	}
}

// IsAssigned reports whether a handler owns the ticket.
func (t *Ticket) IsAssigned() bool {
	return t.AssigneeID != nil && *t.AssigneeID != ""
}

// CanTransition checks the status graph plus the assignment requirement for resolution.
func (t *Ticket) CanTransition(to TicketStatus) bool {
	if !isValidTransition(t.Status, to) {
		return false
	}
	if to == TicketStatusAwaitingConfirmation || to == TicketStatusClosed {
		return t.IsAssigned()
	}
	return true
}

func isValidTransition(from, to TicketStatus) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}
