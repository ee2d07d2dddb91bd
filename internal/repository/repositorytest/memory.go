// Package repositorytest provides an in-memory StoreProvider for tests.
package repositorytest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spec-kit/intake-service/internal/domain"
	"github.com/spec-kit/intake-service/internal/repository"
)

type state struct {
	accounts   map[string]domain.Account
	identities map[string]domain.Identity
	tickets    map[string]domain.Ticket
	messages   []domain.TicketMessage
	history    []domain.TicketHistory
	claims     map[string]string
}

func (s state) clone() state {
	out := state{
		accounts:   make(map[string]domain.Account, len(s.accounts)),
		identities: make(map[string]domain.Identity, len(s.identities)),
		tickets:    make(map[string]domain.Ticket, len(s.tickets)),
		messages:   append([]domain.TicketMessage(nil), s.messages...),
		history:    append([]domain.TicketHistory(nil), s.history...),
		claims:     make(map[string]string, len(s.claims)),
	}
	for k, v := range s.accounts {
		out.accounts[k] = v
	}
	for k, v := range s.identities {
		out.identities[k] = v.Clone()
	}
	for k, v := range s.tickets {
		out.tickets[k] = v
	}
	for k, v := range s.claims {
		out.claims[k] = v
	}
	return out
}

// Store is a process-local stand-in for the Postgres repositories.
// Transactions are serialized and rolled back on error.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	data state
	now  func() time.Time

	// FailCreateIdentity, when set, is returned by the next identity insert.
	FailCreateIdentity error
	// BeforeCreateIdentity, when set, runs before every identity insert,
	// outside the store lock.
	BeforeCreateIdentity func()
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		data: state{
			accounts:   map[string]domain.Account{},
			identities: map[string]domain.Identity{},
			tickets:    map[string]domain.Ticket{},
			claims:     map[string]string{},
		},
		now: time.Now,
	}
}

// WithClock overrides timestamps written by the store.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Accounts implements repository.StoreProvider.
func (s *Store) Accounts() repository.AccountRepository { return accountRepo{s} }

// Identities implements repository.StoreProvider.
func (s *Store) Identities() repository.IdentityRepository { return identityRepo{s} }

// Tickets implements repository.StoreProvider.
func (s *Store) Tickets() repository.TicketRepository { return ticketRepo{s} }

// Messages implements repository.StoreProvider.
func (s *Store) Messages() repository.TicketMessageRepository { return messageRepo{s} }

// History implements repository.StoreProvider.
func (s *Store) History() repository.TicketHistoryRepository { return historyRepo{s} }

// InboundEvents implements repository.StoreProvider.
func (s *Store) InboundEvents() repository.InboundEventRepository { return claimRepo{s} }

// WithTx implements repository.TxRunner.
func (s *Store) WithTx(ctx context.Context, fn func(stores repository.StoreProvider) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// PutAccount stores an account as-is.
func (s *Store) PutAccount(account domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.accounts[account.ID] = account
}

// PutIdentity stores an identity, assigning an id when empty.
func (s *Store) PutIdentity(identity domain.Identity) domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	s.data.identities[identity.ID] = identity.Clone()
	return identity
}

// PutTicket stores a ticket, assigning an id when empty.
func (s *Store) PutTicket(ticket domain.Ticket) domain.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	s.data.tickets[ticket.ID] = ticket
	return ticket
}

// Ticket returns a stored ticket.
func (s *Store) Ticket(id string) (domain.Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.data.tickets[id]
	return t, ok
}

// AllTickets returns every ticket ordered by creation time.
func (s *Store) AllTickets() []domain.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Ticket, 0, len(s.data.tickets))
	for _, t := range s.data.tickets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Identity returns a stored identity by address.
func (s *Store) Identity(address string) (domain.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, identity := range s.data.identities {
		if identity.Address == address {
			return identity.Clone(), true
		}
	}
	return domain.Identity{}, false
}

// AllIdentities returns a copy of every identity.
func (s *Store) AllIdentities() []domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Identity, 0, len(s.data.identities))
	for _, identity := range s.data.identities {
		out = append(out, identity.Clone())
	}
	return out
}

// AllMessages returns every appended message.
func (s *Store) AllMessages() []domain.TicketMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.TicketMessage(nil), s.data.messages...)
}

// AllHistory returns every history entry.
func (s *Store) AllHistory() []domain.TicketHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.TicketHistory(nil), s.data.history...)
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint}
}

type accountRepo struct{ s *Store }

func (r accountRepo) find(match func(domain.Account) bool) (*domain.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, account := range r.s.data.accounts {
		if match(account) {
			a := account
			return &a, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r accountRepo) GetByID(_ context.Context, id string) (*domain.Account, error) {
	return r.find(func(a domain.Account) bool { return a.ID == id })
}

func (r accountRepo) GetByEmail(_ context.Context, email string) (*domain.Account, error) {
	return r.find(func(a domain.Account) bool { return strings.EqualFold(a.Email, email) })
}

func (r accountRepo) GetByNationalID(_ context.Context, nationalID string) (*domain.Account, error) {
	return r.find(func(a domain.Account) bool { return a.NationalID == nationalID })
}

func (r accountRepo) SetPhone(_ context.Context, id, phone string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for otherID, other := range r.s.data.accounts {
		if otherID != id && other.Phone != nil && *other.Phone == phone {
			return uniqueViolation("accounts_phone_key")
		}
	}
	account, ok := r.s.data.accounts[id]
	if !ok {
		return pgx.ErrNoRows
	}
	account.Phone = &phone
	r.s.data.accounts[id] = account
	return nil
}

type identityRepo struct{ s *Store }

func (r identityRepo) GetByID(_ context.Context, id string) (*domain.Identity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	identity, ok := r.s.data.identities[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	out := identity.Clone()
	return &out, nil
}

func (r identityRepo) GetByAddress(_ context.Context, address string) (*domain.Identity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, identity := range r.s.data.identities {
		if identity.Address == address {
			out := identity.Clone()
			return &out, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r identityRepo) Create(_ context.Context, identity *domain.Identity) error {
	if hook := r.s.BeforeCreateIdentity; hook != nil {
		hook()
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.FailCreateIdentity; err != nil {
		r.s.FailCreateIdentity = nil
		return err
	}
	for _, existing := range r.s.data.identities {
		if existing.Address == identity.Address {
			return uniqueViolation("identities_address_key")
		}
	}
	identity.ID = uuid.NewString()
	identity.CreatedAt = r.s.now()
	identity.UpdatedAt = identity.CreatedAt
	r.s.data.identities[identity.ID] = identity.Clone()
	return nil
}

func (r identityRepo) FindOrCreate(ctx context.Context, address, displayName string) (*domain.Identity, bool, error) {
	return repository.FindOrCreateIdentity(ctx, r, address, displayName)
}

func (r identityRepo) LockByID(ctx context.Context, id string) (*domain.Identity, error) {
	return r.GetByID(ctx, id)
}

func (r identityRepo) Update(_ context.Context, identity *domain.Identity) error {
	if err := identity.Scratch.Validate(identity.State); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.identities[identity.ID]; !ok {
		return pgx.ErrNoRows
	}
	identity.UpdatedAt = r.s.now()
	r.s.data.identities[identity.ID] = identity.Clone()
	return nil
}

type ticketRepo struct{ s *Store }

func (r ticketRepo) Create(_ context.Context, ticket *domain.Ticket) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.data.tickets {
		if existing.ExternalKey == ticket.ExternalKey {
			return uniqueViolation("tickets_external_key_key")
		}
	}
	ticket.ID = uuid.NewString()
	ticket.CreatedAt = r.s.now()
	ticket.UpdatedAt = ticket.CreatedAt
	r.s.data.tickets[ticket.ID] = *ticket
	return nil
}

func (r ticketRepo) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ticket, ok := r.s.data.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &ticket, nil
}

func (r ticketRepo) filter(match func(domain.Ticket) bool) []domain.Ticket {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Ticket
	for _, ticket := range r.s.data.tickets {
		if match(ticket) {
			out = append(out, ticket)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r ticketRepo) LatestOpenByIdentity(_ context.Context, identityID string) (*domain.Ticket, error) {
	open := r.filter(func(t domain.Ticket) bool { return t.IdentityID == identityID && t.Status.IsOpen() })
	if len(open) == 0 {
		return nil, pgx.ErrNoRows
	}
	latest := open[len(open)-1]
	return &latest, nil
}

func (r ticketRepo) ListAwaitingConfirmation(_ context.Context, identityID string) ([]domain.Ticket, error) {
	return r.filter(func(t domain.Ticket) bool {
		return t.IdentityID == identityID && t.Status == domain.TicketStatusAwaitingConfirmation
	}), nil
}

func (r ticketRepo) mutate(id string, fn func(*domain.Ticket) bool) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ticket, ok := r.s.data.tickets[id]
	if !ok {
		return false, nil
	}
	if !fn(&ticket) {
		return false, nil
	}
	ticket.UpdatedAt = r.s.now()
	r.s.data.tickets[id] = ticket
	return true, nil
}

func (r ticketRepo) UpdateStatus(_ context.Context, id string, from, to domain.TicketStatus) (bool, error) {
	return r.mutate(id, func(t *domain.Ticket) bool {
		if t.Status != from {
			return false
		}
		t.Status = to
		if to.IsTerminal() {
			now := r.s.now()
			t.ClosedAt = &now
		}
		return true
	})
}

func (r ticketRepo) SetRating(_ context.Context, id string, score int) error {
	if score < 1 || score > 5 {
		return fmt.Errorf("rating %d out of range", score)
	}
	ok, _ := r.mutate(id, func(t *domain.Ticket) bool {
		t.Rating = &score
		return true
	})
	if !ok {
		return pgx.ErrNoRows
	}
	return nil
}

func (r ticketRepo) TouchRequester(_ context.Context, id string, at time.Time) error {
	ok, _ := r.mutate(id, func(t *domain.Ticket) bool {
		t.LastRequesterMessageAt = &at
		return true
	})
	if !ok {
		return pgx.ErrNoRows
	}
	return nil
}

func (r ticketRepo) ListEscalationCandidates(context.Context) ([]domain.Ticket, error) {
	return r.filter(func(t domain.Ticket) bool {
		return !t.Status.IsTerminal() && t.EscalationStage < domain.EscalationBreached
	}), nil
}

func (r ticketRepo) AdvanceEscalation(_ context.Context, id string, from, to int) (bool, error) {
	if to <= from || to > domain.EscalationBreached {
		return false, fmt.Errorf("invalid escalation step %d -> %d", from, to)
	}
	return r.mutate(id, func(t *domain.Ticket) bool {
		if t.EscalationStage != from {
			return false
		}
		t.EscalationStage = to
		if to >= domain.EscalationBreached {
			t.Priority = domain.TicketPriorityCritical
		}
		return true
	})
}

func (r ticketRepo) ListInactive(_ context.Context, before time.Time) ([]domain.Ticket, error) {
	return r.filter(func(t domain.Ticket) bool {
		switch t.Status {
		case domain.TicketStatusPendingReview, domain.TicketStatusQueued,
			domain.TicketStatusInProgress, domain.TicketStatusWaitingUser:
		default:
			return false
		}
		last := t.CreatedAt
		if t.LastRequesterMessageAt != nil {
			last = *t.LastRequesterMessageAt
		}
		return last.Before(before)
	}), nil
}

type messageRepo struct{ s *Store }

func (r messageRepo) Append(_ context.Context, msg *domain.TicketMessage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.tickets[msg.TicketID]; !ok {
		return &pgconn.PgError{Code: "23503", ConstraintName: "ticket_messages_ticket_id_fkey"}
	}
	msg.ID = uuid.NewString()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = r.s.now()
	}
	r.s.data.messages = append(r.s.data.messages, *msg)
	return nil
}

func (r messageRepo) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.TicketMessage
	for _, msg := range r.s.data.messages {
		if msg.TicketID == ticketID {
			out = append(out, msg)
		}
	}
	return out, nil
}

type historyRepo struct{ s *Store }

func (r historyRepo) Create(_ context.Context, entry *domain.TicketHistory) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	entry.ID = uuid.NewString()
	entry.CreatedAt = r.s.now()
	r.s.data.history = append(r.s.data.history, *entry)
	return nil
}

func (r historyRepo) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketHistory, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.TicketHistory
	for _, entry := range r.s.data.history {
		if entry.TicketID == ticketID {
			out = append(out, entry)
		}
	}
	return out, nil
}

type claimRepo struct{ s *Store }

func (r claimRepo) Claim(_ context.Context, token, address string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.claims[token]; ok {
		return false, nil
	}
	r.s.data.claims[token] = address
	return true, nil
}
