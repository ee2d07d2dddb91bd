package dialog

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spec-kit/intake-service/internal/domain"
	"github.com/spec-kit/intake-service/internal/events"
)

// KnowledgeMatcher finds a canned answer for free text.
type KnowledgeMatcher interface {
	Match(ctx context.Context, text string) (*domain.KnowledgeMatch, error)
}

// TopicClassifier guesses the department queue for free text. It never fails.
type TopicClassifier interface {
	Classify(ctx context.Context, text string) domain.QueueLabel
}

// LinkIssuer produces a signed verification link for a binding.
type LinkIssuer interface {
	IssueLink(link domain.VerificationLink) (string, error)
}

// Lookups are the read-only queries a step may run. Missing rows are
// reported as nil results, not errors.
type Lookups interface {
	AccountByID(ctx context.Context, id string) (*domain.Account, error)
	AccountByNationalID(ctx context.Context, nationalID string) (*domain.Account, error)
	AccountByEmail(ctx context.Context, email string) (*domain.Account, error)
	TicketsAwaitingConfirmation(ctx context.Context, identityID string) ([]*domain.Ticket, error)
	LatestOpenTicket(ctx context.Context, identityID string) (*domain.Ticket, error)
}

// Input is one inbound message for an identity.
type Input struct {
	Identity domain.Identity
	Text     string
	Address  string
	Media    bool
}

// TicketDraft describes a ticket the caller must create.
type TicketDraft struct {
	Title       string
	Description string
	Topic       *domain.Topic
	Queue       domain.QueueLabel
	Priority    domain.TicketPriority
}

// StatusChange is a conditional status update: applied only if the ticket is still in From.
type StatusChange struct {
	TicketID string
	From     domain.TicketStatus
	To       domain.TicketStatus
}

// Rating is a requester score for a closed ticket.
type Rating struct {
	TicketID string
	Score    int
}

// Outcome is every effect of one step. The caller applies it atomically.
type Outcome struct {
	Identity      domain.Identity
	NewTicket     *TicketDraft
	Appends       []domain.TicketMessage
	StatusChanges []StatusChange
	Rating        *Rating
	Events        []events.Event
}

// Replies returns the outbound chat bodies in emission order.
func (o Outcome) Replies() []string {
	var out []string
	for _, evt := range o.Events {
		if payload, ok := evt.Payload.(events.OutboundMessagePayload); ok {
			out = append(out, payload.Body)
		}
	}
	return out
}

// Config tunes engine thresholds and links.
type Config struct {
	LegalURL             string
	VerificationTTL      time.Duration
	MinDescriptionLength int
	MinIdentifierDigits  int
}

// Dependencies bundles collaborators injected into the engine.
type Dependencies struct {
	Knowledge  KnowledgeMatcher
	Classifier TopicClassifier
	Links      LinkIssuer
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Engine advances the intake conversation. It performs no writes; all
// effects are described by the returned Outcome.
type Engine struct {
	cfg        Config
	knowledge  KnowledgeMatcher
	classifier TopicClassifier
	links      LinkIssuer
	clock      func() time.Time
	logger     *zap.Logger
}

// NewEngine constructs the engine.
func NewEngine(cfg Config, deps Dependencies) *Engine {
	if cfg.MinDescriptionLength <= 0 {
		cfg.MinDescriptionLength = 5
	}
	if cfg.MinIdentifierDigits <= 0 {
		cfg.MinIdentifierDigits = 6
	}
	if cfg.VerificationTTL <= 0 {
		cfg.VerificationTTL = time.Hour
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Engine{
		cfg:        cfg,
		knowledge:  deps.Knowledge,
		classifier: deps.Classifier,
		links:      deps.Links,
		clock:      deps.Clock,
		logger:     deps.Logger.Named("dialog"),
	}
}

// Step computes the effects of one inbound message. Errors are returned only
// when a lookup or link signing fails; unrecognized input is answered with a reprompt.
func (e *Engine) Step(ctx context.Context, in Input, lookups Lookups) (Outcome, error) {
	s := &step{
		Engine:  e,
		ctx:     ctx,
		in:      in,
		lookups: lookups,
		now:     e.clock(),
		address: in.Address,
		out:     Outcome{Identity: in.Identity.Clone()},
	}
	if s.address == "" {
		s.address = in.Identity.Address
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return s.out, nil
	}

	var err error
	if isReset(text) {
		s.out.Identity.Reset()
		s.reply(msgReset)
	} else {
		err = s.dispatch(text)
	}
	if err != nil {
		return Outcome{}, err
	}
	if err := s.out.Identity.Scratch.Validate(s.out.Identity.State); err != nil {
		return Outcome{}, fmt.Errorf("dialog step left invalid scratch: %w", err)
	}
	return s.out, nil
}

type step struct {
	*Engine
	ctx     context.Context
	in      Input
	lookups Lookups
	now     time.Time
	address string
	out     Outcome
}

func (s *step) dispatch(text string) error {
	switch s.out.Identity.State {
	case domain.DialogAwaitID:
		return s.awaitID(text)
	case domain.DialogAwaitContact:
		return s.awaitContact(text)
	case domain.DialogAwaitProfileSelection:
		s.awaitProfile(text)
		return nil
	case domain.DialogAwaitVerification:
		return s.awaitVerification()
	case domain.DialogAwaitTopic:
		return s.awaitTopic(text)
	case domain.DialogAwaitDescription:
		return s.awaitDescription(text)
	case domain.DialogAwaitKnowledgeConfirmation:
		return s.awaitKnowledgeConfirmation(text)
	case domain.DialogActive:
		return s.active(text)
	case domain.DialogAwaitRating:
		s.awaitRating(text)
		return nil
	default:
		s.logger.Warn("identity in unknown dialog state, resetting",
			zap.String("identity_id", s.out.Identity.ID),
			zap.String("state", string(s.out.Identity.State)))
		s.out.Identity.Reset()
		s.reply(msgGreeting)
		return nil
	}
}

func (s *step) awaitID(text string) error {
	if digits := digitsOnly(text); len(digits) >= s.cfg.MinIdentifierDigits {
		return s.identify(digits)
	}
	if isGreeting(text) {
		s.reply(msgGreeting)
		return nil
	}
	s.unrecognized()
	s.reply(msgInvalidIdentifier)
	return nil
}

func (s *step) identify(nationalID string) error {
	account, err := s.lookups.AccountByNationalID(s.ctx, nationalID)
	if err != nil {
		return fmt.Errorf("lookup account by national id: %w", err)
	}
	identity := &s.out.Identity
	switch {
	case account == nil:
		identity.NationalID = &nationalID
		identity.State = domain.DialogAwaitContact
		identity.Scratch = domain.Scratch{PendingIdentifier: nationalID}
		s.reply(msgAskContact)
	case account.HasPhone(s.address):
		accountID := account.ID
		identity.AccountID = &accountID
		identity.NationalID = &nationalID
		identity.Capability = domain.CapabilityStandard
		identity.State = domain.DialogAwaitTopic
		identity.Scratch = domain.Scratch{}
		s.emit(events.EventIdentityLinked, "", events.IdentityLinkedPayload{
			Address:     s.address,
			AccountID:   account.ID,
			AccountName: account.Name,
		})
		s.reply(WelcomeBackMessage(account.Name))
	default:
		link, err := s.issueLink(account.ID)
		if err != nil {
			return err
		}
		identity.State = domain.DialogAwaitVerification
		identity.Scratch = domain.Scratch{TargetAccountID: account.ID}
		s.reply(msgVerificationLink(link))
	}
	return nil
}

func (s *step) issueLink(targetAccountID string) (string, error) {
	link, err := s.links.IssueLink(domain.VerificationLink{
		Address:         s.address,
		IdentityID:      s.out.Identity.ID,
		TargetAccountID: targetAccountID,
		ExpiresAt:       s.now.Add(s.cfg.VerificationTTL),
	})
	if err != nil {
		return "", fmt.Errorf("issue verification link: %w", err)
	}
	return link, nil
}

func (s *step) awaitContact(text string) error {
	email, ok := parseEmail(text)
	if !ok {
		s.reply(msgInvalidContact)
		return nil
	}
	existing, err := s.lookups.AccountByEmail(s.ctx, email)
	if err != nil {
		return fmt.Errorf("lookup account by email: %w", err)
	}
	identity := &s.out.Identity
	if existing != nil && (!identity.IsLinked() || *identity.AccountID != existing.ID) {
		s.reply(msgContactTaken)
		return nil
	}
	identity.ContactEmail = &email
	s.emit(events.EventInvitationRequested, "", events.InvitationRequestedPayload{
		Email:       email,
		Address:     s.address,
		DisplayName: identity.DisplayName,
		NationalID:  identity.Scratch.PendingIdentifier,
	})
	identity.State = domain.DialogAwaitProfileSelection
	identity.Scratch = domain.Scratch{}
	s.reply(msgContactSaved)
	return nil
}

func (s *step) awaitProfile(text string) {
	tag, ok := domain.ProfileForCode(strings.TrimSpace(text))
	if !ok {
		s.unrecognized()
		s.reply(msgInvalidProfile)
		return
	}
	identity := &s.out.Identity
	identity.ProfileTag = &tag
	identity.Capability = domain.CapabilityStandard
	identity.State = domain.DialogAwaitTopic
	s.reply(msgProfileRegistered(tag, s.cfg.LegalURL))
}

func (s *step) awaitVerification() error {
	link, err := s.issueLink(s.out.Identity.Scratch.TargetAccountID)
	if err != nil {
		return err
	}
	s.reply(msgVerificationPending(link))
	return nil
}

func (s *step) awaitTopic(text string) error {
	identity := &s.out.Identity
	if topic, ok := domain.TopicForCode(text); ok {
		identity.State = domain.DialogAwaitDescription
		identity.Scratch = domain.Scratch{Topic: topic}
		s.reply(msgTopicSelected(topic, s.cfg.LegalURL))
		return nil
	}
	if utf8.RuneCountInString(text) < s.cfg.MinDescriptionLength {
		s.reply(msgTooShort)
		return nil
	}
	if match := s.matchKnowledge(text); match != nil {
		identity.State = domain.DialogAwaitKnowledgeConfirmation
		identity.Scratch = domain.Scratch{PendingText: text, KnowledgeRef: match.Article.ID}
		s.reply(msgKnowledgeAnswer(match.Article.Answer))
		return nil
	}
	return s.openTicket(text, nil, s.classify(text))
}

func (s *step) awaitDescription(text string) error {
	topic := s.out.Identity.Scratch.Topic
	if topic == "" {
		return s.openTicket(text, nil, s.classify(text))
	}
	return s.openTicket(text, &topic, topic.Queue())
}

func (s *step) awaitKnowledgeConfirmation(text string) error {
	identity := &s.out.Identity
	switch {
	case matchesAny(text, negativeIntents):
		s.reply(msgKnowledgeEscalate)
		pending := identity.Scratch.PendingText
		if pending == "" {
			pending = text
		}
		if topic := identity.Scratch.Topic; topic != "" {
			return s.openTicket(pending, &topic, topic.Queue())
		}
		return s.openTicket(pending, nil, s.classify(pending))
	case matchesAny(text, knowledgeAffirmativeIntents):
		identity.State = domain.DialogActive
		identity.Scratch = domain.Scratch{}
		s.reply(msgKnowledgeSolved)
	default:
		s.unrecognized()
		s.reply(msgKnowledgeReprompt)
	}
	return nil
}

func (s *step) active(text string) error {
	identity := &s.out.Identity
	pending, err := s.lookups.TicketsAwaitingConfirmation(s.ctx, identity.ID)
	if err != nil {
		return fmt.Errorf("list tickets awaiting confirmation: %w", err)
	}
	switch {
	case len(pending) == 1:
		s.resolve(pending[0], text)
		return nil
	case len(pending) > 1:
		s.logger.Debug("several tickets await confirmation, skipping resolution",
			zap.String("identity_id", identity.ID), zap.Int("count", len(pending)))
	}

	if isGreeting(text) {
		s.reply(msgActiveMenu(identity.DisplayName))
		return nil
	}

	ticket, err := s.lookups.LatestOpenTicket(s.ctx, identity.ID)
	if err != nil {
		return fmt.Errorf("find latest open ticket: %w", err)
	}
	if ticket == nil {
		if s.in.Media {
			s.reply(msgMediaWithoutTicket)
		}
		identity.State = domain.DialogAwaitTopic
		identity.Scratch = domain.Scratch{}
		s.reply(msgNoOpenTicket)
		return nil
	}

	s.appendMessage(ticket.ID, domain.OriginatorRequester, text)
	if ticket.Status.AwaitsRequester() && s.changeStatus(ticket, domain.TicketStatusPendingReview, "") {
		s.reply(msgSentToReview)
		return nil
	}
	s.reply(msgAppended(ticket.ExternalKey))
	return nil
}

func (s *step) resolve(ticket *domain.Ticket, text string) {
	identity := &s.out.Identity
	switch {
	case matchesAny(text, negativeIntents):
		if s.changeStatus(ticket, domain.TicketStatusInProgress, RejectionNote) {
			s.appendMessage(ticket.ID, domain.OriginatorAutomated, RejectionNote)
		}
		s.reply(msgSolutionRejected)
	case matchesAny(text, resolutionAffirmativeIntents):
		if !s.changeStatus(ticket, domain.TicketStatusClosed, "") {
			s.reply(msgResolutionAgain)
			return
		}
		identity.State = domain.DialogAwaitRating
		identity.Scratch = domain.Scratch{RatingTicketID: ticket.ID}
		s.reply(msgRateService)
	default:
		s.unrecognized()
		s.reply(msgResolutionAgain)
	}
}

func (s *step) awaitRating(text string) {
	identity := &s.out.Identity
	digits := digitsOnly(text)
	score, err := strconv.Atoi(digits)
	if err != nil || len(digits) != 1 || score < 1 || score > 5 {
		s.unrecognized()
		s.reply(msgInvalidRating)
		return
	}
	if ticketID := identity.Scratch.RatingTicketID; ticketID != "" {
		s.out.Rating = &Rating{TicketID: ticketID, Score: score}
	}
	identity.State = domain.DialogActive
	identity.Scratch = domain.Scratch{}
	s.reply(msgRatingThanks)
}

func (s *step) openTicket(description string, topic *domain.Topic, queue domain.QueueLabel) error {
	identity := &s.out.Identity
	role := domain.AccountRoleUser
	email := identity.ContactEmail
	if identity.IsLinked() {
		account, err := s.lookups.AccountByID(s.ctx, *identity.AccountID)
		if err != nil {
			return fmt.Errorf("lookup linked account: %w", err)
		}
		if account != nil {
			role = account.Role
			accountEmail := account.Email
			email = &accountEmail
		}
	}

	draft := &TicketDraft{
		Title:       ticketTitle(topic, identity, role),
		Description: description,
		Topic:       topic,
		Queue:       queue,
		Priority:    CalculatePriority(role),
	}
	s.out.NewTicket = draft
	identity.State = domain.DialogActive
	identity.Scratch = domain.Scratch{}
	s.emit(events.EventTicketCreated, "", events.TicketCreatedPayload{
		Address:     s.address,
		Email:       email,
		Queue:       draft.Queue,
		Priority:    draft.Priority,
		Title:       draft.Title,
		Description: draft.Description,
	})
	return nil
}

func ticketTitle(topic *domain.Topic, identity *domain.Identity, role domain.AccountRole) string {
	subject := "General"
	if topic != nil {
		subject = string(*topic)
	}
	profile := "Invitado"
	switch {
	case identity.IsLinked():
		profile = string(role)
	case identity.ProfileTag != nil:
		profile = string(*identity.ProfileTag)
	}
	return fmt.Sprintf("Consulta WhatsApp [%s] (%s)", subject, profile)
}

func (s *step) changeStatus(ticket *domain.Ticket, to domain.TicketStatus, comment string) bool {
	if !ticket.CanTransition(to) {
		s.logger.Warn("ticket transition not allowed",
			zap.String("ticket_id", ticket.ID),
			zap.String("from", string(ticket.Status)),
			zap.String("to", string(to)))
		return false
	}
	s.out.StatusChanges = append(s.out.StatusChanges, StatusChange{TicketID: ticket.ID, From: ticket.Status, To: to})
	s.emit(events.EventTicketStatusChanged, ticket.ID, events.TicketStatusChangedPayload{
		OldStatus: ticket.Status,
		NewStatus: to,
		Comment:   comment,
	})
	return true
}

func (s *step) appendMessage(ticketID string, originator domain.Originator, body string) {
	s.out.Appends = append(s.out.Appends, domain.TicketMessage{
		TicketID:   ticketID,
		Originator: originator,
		Body:       body,
		CreatedAt:  s.now,
	})
	s.emit(events.EventTicketMessageAdded, ticketID, events.TicketMessageAddedPayload{
		Originator:  originator,
		BodyPreview: preview(body),
	})
}

func (s *step) matchKnowledge(text string) *domain.KnowledgeMatch {
	if s.knowledge == nil {
		return nil
	}
	match, err := s.knowledge.Match(s.ctx, text)
	if err != nil {
		s.logger.Warn("knowledge match failed", zap.Error(err))
		return nil
	}
	return match
}

func (s *step) classify(text string) domain.QueueLabel {
	if s.classifier == nil {
		return domain.QueueUnclassified
	}
	label := s.classifier.Classify(s.ctx, text)
	if _, err := domain.ParseQueueLabel(string(label)); err != nil {
		return domain.QueueUnclassified
	}
	return label
}

func (s *step) reply(body string) {
	s.emit(events.EventOutboundMessage, "", events.OutboundMessagePayload{To: s.address, Body: body})
}

func (s *step) emit(eventType events.EventType, ticketID string, payload interface{}) {
	identityID := s.out.Identity.ID
	s.out.Events = append(s.out.Events, events.Event{
		Type:     eventType,
		TicketID: ticketID,
		Actor: events.Actor{
			Type:       domain.OriginatorRequester,
			IdentityID: &identityID,
		},
		Timestamp: s.now,
		Payload:   payload,
	})
}

func (s *step) unrecognized() {
	s.logger.Debug("unrecognized dialog input",
		zap.String("identity_id", s.out.Identity.ID),
		zap.String("state", string(s.out.Identity.State)))
}

func preview(body string) string {
	const limit = 120
	if utf8.RuneCountInString(body) <= limit {
		return body
	}
	return string([]rune(body)[:limit]) + "…"
}
