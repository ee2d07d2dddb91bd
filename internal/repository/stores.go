package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/intake-service/internal/persistence"
)

// StoreProvider exposes the repositories bound to one connection or transaction.
type StoreProvider interface {
	Accounts() AccountRepository
	Identities() IdentityRepository
	Tickets() TicketRepository
	Messages() TicketMessageRepository
	History() TicketHistoryRepository
	InboundEvents() InboundEventRepository
}

// TxRunner runs functions within a transaction and provides stores bound to that transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores StoreProvider) error) error
}

type stores struct {
	db DBTX
}

// NewStores binds every repository to db.
func NewStores(db DBTX) StoreProvider {
	return &stores{db: db}
}

func (s *stores) Accounts() AccountRepository           { return NewAccountRepository(s.db) }
func (s *stores) Identities() IdentityRepository        { return NewIdentityRepository(s.db) }
func (s *stores) Tickets() TicketRepository             { return NewTicketRepository(s.db) }
func (s *stores) Messages() TicketMessageRepository     { return NewTicketMessageRepository(s.db) }
func (s *stores) History() TicketHistoryRepository      { return NewTicketHistoryRepository(s.db) }
func (s *stores) InboundEvents() InboundEventRepository { return NewInboundEventRepository(s.db) }

type pgTxRunner struct {
	pg *persistence.Postgres
}

// NewTxRunner builds a TxRunner backed by the Postgres pool.
func NewTxRunner(pg *persistence.Postgres) TxRunner {
	return &pgTxRunner{pg: pg}
}

func (r *pgTxRunner) WithTx(ctx context.Context, fn func(stores StoreProvider) error) error {
	return r.pg.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(NewStores(tx))
	})
}
