package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/intake-service/internal/domain"
)

// TicketRepository encapsulates ticket persistence. Status and escalation
// stage are only changed through conditional updates so the intake worker and
// the escalator never overwrite each other.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	LatestOpenByIdentity(ctx context.Context, identityID string) (*domain.Ticket, error)
	ListAwaitingConfirmation(ctx context.Context, identityID string) ([]domain.Ticket, error)
	UpdateStatus(ctx context.Context, id string, from, to domain.TicketStatus) (bool, error)
	SetRating(ctx context.Context, id string, score int) error
	TouchRequester(ctx context.Context, id string, at time.Time) error
	ListEscalationCandidates(ctx context.Context) ([]domain.Ticket, error)
	AdvanceEscalation(ctx context.Context, id string, from, to int) (bool, error)
	ListInactive(ctx context.Context, before time.Time) ([]domain.Ticket, error)
}

type ticketRepository struct {
	db DBTX
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(db DBTX) TicketRepository {
	return &ticketRepository{db: db}
}

const ticketColumns = `id, external_key, identity_id, title, description, topic, queue, status, priority,
               assignee_account_id, assigned_at, last_agent_response_at, last_requester_message_at,
               escalation_stage, rating, created_at, updated_at, closed_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (external_key, identity_id, title, description, topic, queue, status, priority,
            last_requester_message_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING id, escalation_stage, created_at, updated_at`
	return r.db.QueryRow(ctx, query,
		ticket.ExternalKey,
		ticket.IdentityID,
		ticket.Title,
		ticket.Description,
		stringPtr(ticket.Topic),
		ticket.Queue,
		ticket.Status,
		ticket.Priority,
		ticket.LastRequesterMessageAt,
	).Scan(&ticket.ID, &ticket.EscalationStage, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	row := r.db.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id=$1`, id)
	return scanTicket(row)
}

// LatestOpenByIdentity returns pgx.ErrNoRows when the identity has no open ticket.
func (r *ticketRepository) LatestOpenByIdentity(ctx context.Context, identityID string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets
        WHERE identity_id=$1 AND status = ANY($2)
        ORDER BY created_at DESC LIMIT 1`
	row := r.db.QueryRow(ctx, query, identityID, statusStrings(domain.OpenStatuses()))
	return scanTicket(row)
}

func (r *ticketRepository) ListAwaitingConfirmation(ctx context.Context, identityID string) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets
        WHERE identity_id=$1 AND status=$2
        ORDER BY created_at DESC`
	return r.list(ctx, query, identityID, domain.TicketStatusAwaitingConfirmation)
}

// UpdateStatus moves a ticket from one status to another only if it is still
// in the expected status. It reports whether the row changed.
func (r *ticketRepository) UpdateStatus(ctx context.Context, id string, from, to domain.TicketStatus) (bool, error) {
	const query = `
        UPDATE tickets SET status=$1, updated_at=NOW(),
            closed_at = CASE WHEN $1 IN ('CLOSED', 'CLOSED_TIMEOUT') THEN NOW() ELSE closed_at END
        WHERE id=$2 AND status=$3`
	cmd, err := r.db.Exec(ctx, query, to, id, from)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *ticketRepository) SetRating(ctx context.Context, id string, score int) error {
	if score < 1 || score > 5 {
		return fmt.Errorf("rating %d out of range", score)
	}
	const query = `UPDATE tickets SET rating=$1, updated_at=NOW() WHERE id=$2`
	cmd, err := r.db.Exec(ctx, query, score, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) TouchRequester(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE tickets SET last_requester_message_at=$1, updated_at=NOW() WHERE id=$2`
	cmd, err := r.db.Exec(ctx, query, at, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListEscalationCandidates returns non-terminal tickets that can still advance a stage.
func (r *ticketRepository) ListEscalationCandidates(ctx context.Context) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets
        WHERE status NOT IN ('CLOSED', 'CLOSED_TIMEOUT') AND escalation_stage < $1
        ORDER BY created_at ASC`
	return r.list(ctx, query, domain.EscalationBreached)
}

// AdvanceEscalation moves the escalation stage forward if no other writer
// already did. Reaching the breach stage forces CRITICAL priority.
func (r *ticketRepository) AdvanceEscalation(ctx context.Context, id string, from, to int) (bool, error) {
	if to <= from || to > domain.EscalationBreached {
		return false, fmt.Errorf("invalid escalation step %d -> %d", from, to)
	}
	const query = `
        UPDATE tickets SET escalation_stage=$1, updated_at=NOW(),
            priority = CASE WHEN $1 >= $4 THEN 'CRITICAL' ELSE priority END
        WHERE id=$2 AND escalation_stage=$3`
	cmd, err := r.db.Exec(ctx, query, to, id, from, domain.EscalationBreached)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

// ListInactive returns open tickets whose requester has been silent since before.
func (r *ticketRepository) ListInactive(ctx context.Context, before time.Time) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets
        WHERE status = ANY($1) AND COALESCE(last_requester_message_at, created_at) < $2
        ORDER BY created_at ASC`
	statuses := []domain.TicketStatus{
		domain.TicketStatusPendingReview,
		domain.TicketStatusQueued,
		domain.TicketStatusInProgress,
		domain.TicketStatusWaitingUser,
	}
	return r.list(ctx, query, statusStrings(statuses), before)
}

func (r *ticketRepository) list(ctx context.Context, query string, args ...any) ([]domain.Ticket, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *ticket)
	}
	return tickets, rows.Err()
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		ticket domain.Ticket
		topic  *string
		queue  string
		rating *int16
	)
	if err := row.Scan(
		&ticket.ID,
		&ticket.ExternalKey,
		&ticket.IdentityID,
		&ticket.Title,
		&ticket.Description,
		&topic,
		&queue,
		&ticket.Status,
		&ticket.Priority,
		&ticket.AssigneeID,
		&ticket.AssignedAt,
		&ticket.LastAgentResponseAt,
		&ticket.LastRequesterMessageAt,
		&ticket.EscalationStage,
		&rating,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.ClosedAt,
	); err != nil {
		return nil, err
	}
	if topic != nil {
		t := domain.Topic(*topic)
		ticket.Topic = &t
	}
	label, err := domain.ParseQueueLabel(queue)
	if err != nil {
		return nil, fmt.Errorf("ticket %s: %w", ticket.ID, err)
	}
	ticket.Queue = label
	if rating != nil {
		score := int(*rating)
		ticket.Rating = &score
	}
	return &ticket, nil
}

func statusStrings(statuses []domain.TicketStatus) []string {
	out := make([]string, len(statuses))
	for i, status := range statuses {
		out[i] = string(status)
	}
	return out
}
