package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/intake-service/internal/config"
	"github.com/spec-kit/intake-service/internal/domain"
	"github.com/spec-kit/intake-service/internal/events"
	"github.com/spec-kit/intake-service/internal/observability"
	"github.com/spec-kit/intake-service/internal/repository"
)

// EscalationRules are the warn and breach thresholds of both deadline families.
type EscalationRules struct {
	UnassignedWarn   time.Duration
	UnassignedBreach time.Duration
	ResponseWarn     time.Duration
	ResponseBreach   time.Duration
}

// RulesFromConfig maps SLA configuration to rules.
func RulesFromConfig(cfg config.SLAConfig) EscalationRules {
	return EscalationRules{
		UnassignedWarn:   cfg.UnassignedWarn,
		UnassignedBreach: cfg.UnassignedBreach,
		ResponseWarn:     cfg.ResponseWarn,
		ResponseBreach:   cfg.ResponseBreach,
	}
}

// Escalation is one stage step a ticket is due for.
type Escalation struct {
	Family    string
	From      int
	To        int
	Threshold time.Duration
	Elapsed   time.Duration
}

// EvaluateEscalation reports the next stage a ticket has earned at now.
// A ticket advances at most one stage per evaluation.
func EvaluateEscalation(ticket domain.Ticket, now time.Time, rules EscalationRules) (Escalation, bool) {
	if ticket.Status.IsTerminal() || ticket.Status == domain.TicketStatusAwaitingConfirmation ||
		ticket.EscalationStage >= domain.EscalationBreached {
		return Escalation{}, false
	}

	var (
		family  string
		since   time.Time
		warn    time.Duration
		breach  time.Duration
		tracked bool
	)
	if ticket.IsAssigned() {
		family = events.FamilySlowResponse
		warn, breach = rules.ResponseWarn, rules.ResponseBreach
		since, tracked = responseClock(ticket)
	} else {
		family, since, tracked = events.FamilyUnassigned, ticket.CreatedAt, true
		warn, breach = rules.UnassignedWarn, rules.UnassignedBreach
	}
	if !tracked {
		return Escalation{}, false
	}

	threshold := warn
	if ticket.EscalationStage == domain.EscalationWarned {
		threshold = breach
	}
	elapsed := now.Sub(since)
	if elapsed <= threshold {
		return Escalation{}, false
	}
	return Escalation{
		Family:    family,
		From:      ticket.EscalationStage,
		To:        ticket.EscalationStage + 1,
		Threshold: threshold,
		Elapsed:   elapsed,
	}, true
}

// responseClock returns when the assignee's response clock started: the
// assignment when the agent never answered, or the requester's last message
// when it is newer than the agent's last answer.
func responseClock(ticket domain.Ticket) (time.Time, bool) {
	switch {
	case ticket.LastAgentResponseAt == nil:
		if ticket.AssignedAt == nil {
			return time.Time{}, false
		}
		return *ticket.AssignedAt, true
	case ticket.LastRequesterMessageAt != nil && ticket.LastRequesterMessageAt.After(*ticket.LastAgentResponseAt):
		return *ticket.LastRequesterMessageAt, true
	default:
		return time.Time{}, false
	}
}

// SLAEscalator periodically advances overdue tickets and notifies once per stage.
type SLAEscalator struct {
	stores     repository.StoreProvider
	tx         repository.TxRunner
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	rules      EscalationRules
	interval   time.Duration
	logger     *zap.Logger
	now        func() time.Time

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// EscalatorDependencies bundles collaborators for the escalator.
type EscalatorDependencies struct {
	Stores     repository.StoreProvider
	Tx         repository.TxRunner
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	Clock      func() time.Time
}

// NewSLAEscalator creates the escalator.
func NewSLAEscalator(rules EscalationRules, interval time.Duration, deps EscalatorDependencies) *SLAEscalator {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &SLAEscalator{
		stores:     deps.Stores,
		tx:         deps.Tx,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		rules:      rules,
		interval:   interval,
		logger:     deps.Logger.Named("sla_escalator"),
		now:        deps.Clock,
		stopCh:     make(chan struct{}),
		stoppedCh:  make(chan struct{}),
	}
}

// Run evaluates tickets every interval until ctx is cancelled or Stop is called.
func (e *SLAEscalator) Run(ctx context.Context) {
	defer close(e.stoppedCh)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Info("escalator started", zap.Duration("interval", e.interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			if _, err := e.RunOnce(ctx); err != nil {
				e.logger.Error("escalation run failed", zap.Error(err))
			}
		}
	}
}

// Stop signals the escalator to stop and waits for it.
func (e *SLAEscalator) Stop() {
	close(e.stopCh)
	<-e.stoppedCh
}

// RunOnce evaluates one snapshot of candidate tickets and returns how many
// escalations fired.
func (e *SLAEscalator) RunOnce(ctx context.Context) (int, error) {
	candidates, err := e.stores.Tickets().ListEscalationCandidates(ctx)
	if err != nil {
		return 0, fmt.Errorf("list escalation candidates: %w", err)
	}
	now := e.now()
	fired := 0
	for _, ticket := range candidates {
		step, due := EvaluateEscalation(ticket, now, e.rules)
		if !due {
			continue
		}
		won, err := e.advance(ctx, ticket, step)
		if err != nil {
			e.logger.Error("advance escalation",
				zap.String("ticket_id", ticket.ID), zap.Int("to", step.To), zap.Error(err))
			continue
		}
		if !won {
			continue
		}
		fired++
		e.metrics.RecordEscalation(step.Family, step.To)
		e.notify(ctx, ticket, step, now)
	}
	return fired, nil
}

func (e *SLAEscalator) advance(ctx context.Context, ticket domain.Ticket, step Escalation) (bool, error) {
	var won bool
	err := e.tx.WithTx(ctx, func(tx repository.StoreProvider) error {
		ok, err := tx.Tickets().AdvanceEscalation(ctx, ticket.ID, step.From, step.To)
		if err != nil || !ok {
			return err
		}
		won = true
		return tx.History().Create(ctx, &domain.TicketHistory{
			TicketID:   ticket.ID,
			ChangedBy:  domain.OriginatorAutomated,
			ChangeType: domain.ChangeTypeEscalation,
			OldValue:   map[string]any{"stage": step.From},
			NewValue:   map[string]any{"stage": step.To, "family": step.Family},
		})
	})
	if err != nil {
		return false, err
	}
	return won, nil
}

func (e *SLAEscalator) notify(ctx context.Context, ticket domain.Ticket, step Escalation, now time.Time) {
	priority := ticket.Priority
	if step.To >= domain.EscalationBreached {
		priority = domain.TicketPriorityCritical
	}
	payload := events.EscalationFiredPayload{
		Family:    step.Family,
		Stage:     step.To,
		Key:       ticket.ExternalKey,
		Title:     ticket.Title,
		Queue:     ticket.Queue,
		Priority:  priority,
		Requester: e.requesterName(ctx, ticket),
		Assignee:  e.assigneeName(ctx, ticket),
		Threshold: step.Threshold,
		Elapsed:   step.Elapsed,
	}
	evt := events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventEscalationFired,
		TicketID:  ticket.ID,
		Actor:     events.Actor{Type: domain.OriginatorAutomated},
		Timestamp: now,
		Payload:   payload,
	}
	if err := e.dispatcher.Publish(ctx, evt); err != nil {
		e.logger.Warn("escalation notification failed",
			zap.String("ticket_id", ticket.ID), zap.Int("stage", step.To), zap.Error(err))
		return
	}
	e.logger.Info("escalation fired",
		zap.String("ticket_id", ticket.ID),
		zap.String("family", step.Family),
		zap.Int("stage", step.To))
}

func (e *SLAEscalator) requesterName(ctx context.Context, ticket domain.Ticket) string {
	identity, err := e.stores.Identities().GetByID(ctx, ticket.IdentityID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			e.logger.Warn("load requester", zap.String("ticket_id", ticket.ID), zap.Error(err))
		}
		return "Desconocido"
	}
	if identity.IsLinked() {
		if account, err := e.stores.Accounts().GetByID(ctx, *identity.AccountID); err == nil {
			return account.Name
		}
	}
	return identity.DisplayName
}

func (e *SLAEscalator) assigneeName(ctx context.Context, ticket domain.Ticket) string {
	if !ticket.IsAssigned() {
		return ""
	}
	account, err := e.stores.Accounts().GetByID(ctx, *ticket.AssigneeID)
	if err != nil {
		return "Agente"
	}
	return account.Name
}
