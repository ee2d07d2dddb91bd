package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/intake-service/internal/dialog"
	"github.com/spec-kit/intake-service/internal/domain"
	"github.com/spec-kit/intake-service/internal/events"
	"github.com/spec-kit/intake-service/internal/repository"
)

// ErrConcurrentUpdate reports a ticket that changed between lookup and update.
// The whole job is rolled back and retried against fresh state.
var ErrConcurrentUpdate = errors.New("ticket changed concurrently")

// MediaResolver turns media content into dialog text.
type MediaResolver interface {
	Resolve(ctx context.Context, job domain.Job) string
}

// IntakeService applies one inbound job to its identity's conversation.
type IntakeService struct {
	stores     repository.StoreProvider
	tx         repository.TxRunner
	engine     *dialog.Engine
	media      MediaResolver
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// IntakeDependencies bundles collaborators for the intake service.
type IntakeDependencies struct {
	Stores     repository.StoreProvider
	Tx         repository.TxRunner
	Engine     *dialog.Engine
	Media      MediaResolver
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Clock      func() time.Time
}

// IntakeResult reports the effects of a handled job.
type IntakeResult struct {
	Duplicate       bool
	IdentityID      string
	IdentityCreated bool
	TicketID        string
}

// NewIntakeService constructs the service.
func NewIntakeService(deps IntakeDependencies) *IntakeService {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &IntakeService{
		stores:     deps.Stores,
		tx:         deps.Tx,
		engine:     deps.Engine,
		media:      deps.Media,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger.Named("intake"),
		now:        deps.Clock,
	}
}

// Handle resolves media, runs one dialog step under the identity row lock,
// persists the outcome, and publishes its events after commit. A job whose
// token was already claimed is a no-op.
func (s *IntakeService) Handle(ctx context.Context, job domain.Job) (IntakeResult, error) {
	text := job.Text
	if job.Kind != domain.ContentText && s.media != nil {
		text = s.media.Resolve(ctx, job)
	}

	identity, created, err := s.stores.Identities().FindOrCreate(ctx, job.Address, job.DisplayName)
	if err != nil {
		return IntakeResult{}, fmt.Errorf("resolve identity: %w", err)
	}
	result := IntakeResult{IdentityID: identity.ID, IdentityCreated: created}

	var pending []events.Event
	err = s.tx.WithTx(ctx, func(tx repository.StoreProvider) error {
		locked, err := tx.Identities().LockByID(ctx, identity.ID)
		if err != nil {
			return fmt.Errorf("lock identity: %w", err)
		}
		claimed, err := tx.InboundEvents().Claim(ctx, job.Token, job.Address)
		if err != nil {
			return fmt.Errorf("claim inbound event: %w", err)
		}
		if !claimed {
			result.Duplicate = true
			return nil
		}

		out, err := s.engine.Step(ctx, dialog.Input{
			Identity: *locked,
			Text:     text,
			Address:  job.Address,
			Media:    job.Kind != domain.ContentText,
		}, NewLookups(tx))
		if err != nil {
			return err
		}

		ticketID, err := s.apply(ctx, tx, &out)
		if err != nil {
			return err
		}
		result.TicketID = ticketID
		pending = out.Events
		return nil
	})
	if err != nil {
		return result, err
	}

	for _, evt := range pending {
		evt.ID = uuid.NewString()
		if err := s.dispatcher.Publish(ctx, evt); err != nil {
			s.logger.Warn("event delivery failed",
				zap.String("event_type", string(evt.Type)),
				zap.String("identity_id", identity.ID),
				zap.Error(err))
		}
	}
	return result, nil
}

func (s *IntakeService) apply(ctx context.Context, tx repository.StoreProvider, out *dialog.Outcome) (string, error) {
	if err := tx.Identities().Update(ctx, &out.Identity); err != nil {
		return "", fmt.Errorf("update identity: %w", err)
	}

	var ticketID string
	if draft := out.NewTicket; draft != nil {
		now := s.now()
		ticket := &domain.Ticket{
			ExternalKey:            NewTicketKey(),
			IdentityID:             out.Identity.ID,
			Title:                  draft.Title,
			Description:            draft.Description,
			Topic:                  draft.Topic,
			Queue:                  draft.Queue,
			Status:                 domain.TicketStatusPendingReview,
			Priority:               draft.Priority,
			LastRequesterMessageAt: &now,
		}
		if err := tx.Tickets().Create(ctx, ticket); err != nil {
			return "", fmt.Errorf("create ticket: %w", err)
		}
		ticketID = ticket.ID
		stampTicketCreated(out.Events, ticket)
	}

	for i := range out.Appends {
		msg := out.Appends[i]
		if err := tx.Messages().Append(ctx, &msg); err != nil {
			return "", fmt.Errorf("append message: %w", err)
		}
		if msg.Originator == domain.OriginatorRequester {
			if err := tx.Tickets().TouchRequester(ctx, msg.TicketID, msg.CreatedAt); err != nil {
				return "", fmt.Errorf("touch requester: %w", err)
			}
		}
	}

	for _, change := range out.StatusChanges {
		ok, err := tx.Tickets().UpdateStatus(ctx, change.TicketID, change.From, change.To)
		if err != nil {
			return "", fmt.Errorf("update ticket status: %w", err)
		}
		if !ok {
			return "", fmt.Errorf("ticket %s no longer %s: %w", change.TicketID, change.From, ErrConcurrentUpdate)
		}
		if err := tx.History().Create(ctx, &domain.TicketHistory{
			TicketID:   change.TicketID,
			ChangedBy:  domain.OriginatorRequester,
			ChangeType: domain.ChangeTypeStatus,
			OldValue:   map[string]any{"status": change.From},
			NewValue:   map[string]any{"status": change.To},
		}); err != nil {
			return "", fmt.Errorf("record status history: %w", err)
		}
	}

	if rating := out.Rating; rating != nil {
		if err := tx.Tickets().SetRating(ctx, rating.TicketID, rating.Score); err != nil {
			return "", fmt.Errorf("store rating: %w", err)
		}
		if err := tx.History().Create(ctx, &domain.TicketHistory{
			TicketID:   rating.TicketID,
			ChangedBy:  domain.OriginatorRequester,
			ChangeType: domain.ChangeTypeRating,
			NewValue:   map[string]any{"rating": rating.Score},
		}); err != nil {
			return "", fmt.Errorf("record rating history: %w", err)
		}
	}
	return ticketID, nil
}

func stampTicketCreated(evts []events.Event, ticket *domain.Ticket) {
	for i := range evts {
		if evts[i].Type != events.EventTicketCreated {
			continue
		}
		evts[i].TicketID = ticket.ID
		if payload, ok := evts[i].Payload.(events.TicketCreatedPayload); ok {
			payload.Key = ticket.ExternalKey
			evts[i].Payload = payload
		}
	}
}

// NewTicketKey returns a short external ticket reference.
func NewTicketKey() string {
	return "TCK-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

type storeLookups struct {
	stores repository.StoreProvider
}

// NewLookups adapts repositories to the dialog engine's read-only queries.
func NewLookups(stores repository.StoreProvider) dialog.Lookups {
	return storeLookups{stores: stores}
}

func (l storeLookups) AccountByID(ctx context.Context, id string) (*domain.Account, error) {
	return orNil(l.stores.Accounts().GetByID(ctx, id))
}

func (l storeLookups) AccountByNationalID(ctx context.Context, nationalID string) (*domain.Account, error) {
	return orNil(l.stores.Accounts().GetByNationalID(ctx, nationalID))
}

func (l storeLookups) AccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return orNil(l.stores.Accounts().GetByEmail(ctx, email))
}

func (l storeLookups) TicketsAwaitingConfirmation(ctx context.Context, identityID string) ([]*domain.Ticket, error) {
	tickets, err := l.stores.Tickets().ListAwaitingConfirmation(ctx, identityID)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Ticket, 0, len(tickets))
	for i := range tickets {
		out = append(out, &tickets[i])
	}
	return out, nil
}

func (l storeLookups) LatestOpenTicket(ctx context.Context, identityID string) (*domain.Ticket, error) {
	return orNil(l.stores.Tickets().LatestOpenByIdentity(ctx, identityID))
}

func orNil[T any](v *T, err error) (*T, error) {
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}
