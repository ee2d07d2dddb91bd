package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/intake-service/internal/auth"
	"github.com/spec-kit/intake-service/internal/dialog"
	"github.com/spec-kit/intake-service/internal/domain"
	"github.com/spec-kit/intake-service/internal/events"
	"github.com/spec-kit/intake-service/internal/repository"
	apperrors "github.com/spec-kit/intake-service/pkg/util/errorutil"
)

// VerificationParser decodes signed verification tokens.
type VerificationParser interface {
	ParseVerification(token string) (domain.VerificationLink, error)
}

// VerificationService redeems verification links for logged-in accounts.
type VerificationService struct {
	stores     repository.StoreProvider
	tx         repository.TxRunner
	tokens     VerificationParser
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// VerificationDependencies bundles collaborators for redemption.
type VerificationDependencies struct {
	Stores     repository.StoreProvider
	Tx         repository.TxRunner
	Tokens     VerificationParser
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Clock      func() time.Time
}

// NewVerificationService constructs the service.
func NewVerificationService(deps VerificationDependencies) *VerificationService {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &VerificationService{
		stores:     deps.Stores,
		tx:         deps.Tx,
		tokens:     deps.Tokens,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger.Named("verification"),
		now:        deps.Clock,
	}
}

// Redeem links the identity bound in token to the calling account. A link
// issued for a different account fails with a mismatch naming both accounts
// and changes nothing. Redeeming an already linked identity is a no-op. The
// dialog moves on to the topic menu only while it still waits for this link.
func (s *VerificationService) Redeem(ctx context.Context, principal auth.Principal, token string) (*domain.Identity, error) {
	if principal.Account == nil {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	account := principal.Account

	link, err := s.tokens.ParseVerification(token)
	if err != nil {
		return nil, apperrors.NewValidationError("invalid or expired verification link", nil)
	}

	if link.TargetAccountID != "" && link.TargetAccountID != account.ID {
		expected := "otro usuario"
		target, err := s.stores.Accounts().GetByID(ctx, link.TargetAccountID)
		switch {
		case err == nil:
			expected = target.Name
		case !errors.Is(err, pgx.ErrNoRows):
			return nil, err
		}
		s.logger.Info("verification mismatch",
			zap.String("target_account_id", link.TargetAccountID),
			zap.String("account_id", account.ID))
		return nil, apperrors.NewVerificationMismatch(expected, account.Name)
	}

	var (
		identity *domain.Identity
		linked   bool
		resumed  bool
	)
	err = s.tx.WithTx(ctx, func(tx repository.StoreProvider) error {
		current, err := s.findIdentity(ctx, tx, link)
		if err != nil {
			return err
		}
		identity, err = tx.Identities().LockByID(ctx, current.ID)
		if err != nil {
			return fmt.Errorf("lock identity: %w", err)
		}
		if identity.IsLinked() && *identity.AccountID == account.ID {
			return nil
		}
		if err := tx.Accounts().SetPhone(ctx, account.ID, link.Address); err != nil {
			if apperrors.IsUniqueViolation(err) {
				return apperrors.NewConflict("phone already registered to another account", nil)
			}
			return fmt.Errorf("register phone: %w", err)
		}
		accountID := account.ID
		identity.AccountID = &accountID
		identity.Capability = domain.CapabilityStandard
		// A requester who moved on since the link was issued keeps their dialog.
		if identity.State == domain.DialogAwaitVerification && identity.Scratch.TargetAccountID == account.ID {
			identity.State = domain.DialogAwaitTopic
			identity.Scratch = domain.Scratch{}
			resumed = true
		}
		if err := tx.Identities().Update(ctx, identity); err != nil {
			return fmt.Errorf("update identity: %w", err)
		}
		linked = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if linked {
		s.announce(ctx, identity, account, link.Address, resumed)
	}
	return identity, nil
}

func (s *VerificationService) findIdentity(ctx context.Context, tx repository.StoreProvider, link domain.VerificationLink) (*domain.Identity, error) {
	var (
		identity *domain.Identity
		err      error
	)
	if link.IdentityID != "" {
		identity, err = tx.Identities().GetByID(ctx, link.IdentityID)
	} else {
		identity, err = tx.Identities().GetByAddress(ctx, link.Address)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewNotFound("identity", map[string]any{"address": link.Address})
	}
	if err != nil {
		return nil, err
	}
	if identity.Address != link.Address {
		return nil, apperrors.NewValidationError("verification link does not match identity", nil)
	}
	return identity, nil
}

func (s *VerificationService) announce(ctx context.Context, identity *domain.Identity, account *domain.Account, address string, resumed bool) {
	if s.dispatcher == nil {
		return
	}
	identityID := identity.ID
	accountID := account.ID
	actor := events.Actor{Type: domain.OriginatorRequester, IdentityID: &identityID, AccountID: &accountID}
	now := s.now()
	notices := []events.Event{{
		Type:    events.EventIdentityLinked,
		Payload: events.IdentityLinkedPayload{Address: address, AccountID: account.ID, AccountName: account.Name},
	}}
	if resumed {
		notices = append(notices, events.Event{
			Type:    events.EventOutboundMessage,
			Payload: events.OutboundMessagePayload{To: address, Body: dialog.WelcomeBackMessage(account.Name)},
		})
	}
	for _, evt := range notices {
		evt.ID = uuid.NewString()
		evt.Actor = actor
		evt.Timestamp = now
		if err := s.dispatcher.Publish(ctx, evt); err != nil {
			s.logger.Warn("event delivery failed", zap.String("event_type", string(evt.Type)), zap.Error(err))
		}
	}
}
