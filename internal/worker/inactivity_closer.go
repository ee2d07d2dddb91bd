package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/intake-service/internal/domain"
	"github.com/spec-kit/intake-service/internal/events"
	"github.com/spec-kit/intake-service/internal/observability"
	"github.com/spec-kit/intake-service/internal/repository"
)

// InactivityCloser times out tickets whose requester has gone quiet for
// longer than the chat session window.
type InactivityCloser struct {
	stores     repository.StoreProvider
	tx         repository.TxRunner
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	closeAfter time.Duration
	interval   time.Duration
	logger     *zap.Logger
	now        func() time.Time

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// NewInactivityCloser creates the closer. It shares the escalator's dependency bundle.
func NewInactivityCloser(closeAfter, interval time.Duration, deps EscalatorDependencies) *InactivityCloser {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &InactivityCloser{
		stores:     deps.Stores,
		tx:         deps.Tx,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		closeAfter: closeAfter,
		interval:   interval,
		logger:     deps.Logger.Named("inactivity_closer"),
		now:        deps.Clock,
		stopCh:     make(chan struct{}),
		stoppedCh:  make(chan struct{}),
	}
}

// Run sweeps every interval until ctx is cancelled or Stop is called.
func (c *InactivityCloser) Run(ctx context.Context) {
	defer close(c.stoppedCh)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			if _, err := c.RunOnce(ctx); err != nil {
				c.logger.Error("inactivity sweep failed", zap.Error(err))
			}
		}
	}
}

// Stop signals the closer to stop and waits for it.
func (c *InactivityCloser) Stop() {
	close(c.stopCh)
	<-c.stoppedCh
}

// RunOnce closes every inactive ticket and returns how many were closed.
func (c *InactivityCloser) RunOnce(ctx context.Context) (int, error) {
	now := c.now()
	tickets, err := c.stores.Tickets().ListInactive(ctx, now.Add(-c.closeAfter))
	if err != nil {
		return 0, fmt.Errorf("list inactive tickets: %w", err)
	}

	closed := 0
	for _, ticket := range tickets {
		won, err := c.close(ctx, ticket)
		if err != nil {
			c.logger.Error("close inactive ticket", zap.String("ticket_id", ticket.ID), zap.Error(err))
			continue
		}
		if !won {
			continue
		}
		closed++
		c.metrics.RecordInactivityClosure()
		c.announce(ctx, ticket, now)
	}
	if closed > 0 {
		c.logger.Info("inactive tickets closed", zap.Int("count", closed))
	}
	return closed, nil
}

func (c *InactivityCloser) close(ctx context.Context, ticket domain.Ticket) (bool, error) {
	var won bool
	err := c.tx.WithTx(ctx, func(tx repository.StoreProvider) error {
		ok, err := tx.Tickets().UpdateStatus(ctx, ticket.ID, ticket.Status, domain.TicketStatusClosedTimeout)
		if err != nil || !ok {
			return err
		}
		won = true
		return tx.History().Create(ctx, &domain.TicketHistory{
			TicketID:   ticket.ID,
			ChangedBy:  domain.OriginatorAutomated,
			ChangeType: domain.ChangeTypeStatus,
			OldValue:   map[string]any{"status": ticket.Status},
			NewValue:   map[string]any{"status": domain.TicketStatusClosedTimeout},
		})
	})
	return won, err
}

func (c *InactivityCloser) announce(ctx context.Context, ticket domain.Ticket, now time.Time) {
	var address string
	if identity, err := c.stores.Identities().GetByID(ctx, ticket.IdentityID); err == nil {
		address = identity.Address
	} else {
		c.logger.Warn("load requester for closure notice", zap.String("ticket_id", ticket.ID), zap.Error(err))
	}

	actor := events.Actor{Type: domain.OriginatorAutomated}
	for _, evt := range []events.Event{
		{
			Type:    events.EventTicketStatusChanged,
			Payload: events.TicketStatusChangedPayload{OldStatus: ticket.Status, NewStatus: domain.TicketStatusClosedTimeout},
		},
		{
			Type:    events.EventTicketTimedOut,
			Payload: events.TicketTimedOutPayload{Key: ticket.ExternalKey, Address: address},
		},
	} {
		evt.ID = uuid.NewString()
		evt.TicketID = ticket.ID
		evt.Actor = actor
		evt.Timestamp = now
		if err := c.dispatcher.Publish(ctx, evt); err != nil {
			c.logger.Warn("closure notification failed",
				zap.String("ticket_id", ticket.ID), zap.String("event_type", string(evt.Type)), zap.Error(err))
		}
	}
}
