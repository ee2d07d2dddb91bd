package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/intake-service/internal/config"
	"github.com/spec-kit/intake-service/internal/dialog"
	"github.com/spec-kit/intake-service/internal/events"
	"github.com/spec-kit/intake-service/internal/notify"
)

var (
	ticketCreatedTemplate = template.Must(template.New("ticket_created").Parse(
		`<p>Hola,</p>
<p>Se ha registrado su consulta en la Mesa de Ayuda de CGE.</p>
<ul>
<li><strong>ID:</strong> #{{.Key}}</li>
<li><strong>Título:</strong> {{.Title}}</li>
<li><strong>Prioridad:</strong> {{.Priority}}</li>
<li><strong>Estado:</strong> PENDIENTE DE VALIDACIÓN</li>
</ul>
<p>Le notificaremos cuando un agente tome su caso.</p>`))

	invitationTemplate = template.Must(template.New("invitation").Parse(
		`<p>Hola {{.DisplayName}},</p>
<p>Recibimos su contacto por WhatsApp ({{.Address}}). Para completar su alta en el sistema ingrese a:</p>
<p><a href="{{.Link}}">{{.Link}}</a></p>`))

	escalationTemplate = template.Must(template.New("escalation").Parse(
		`<p>Estimado/a {{.Recipient}},</p>
<p>Se ha detectado una demora en la atención de la siguiente consulta:</p>
<ul>
<li><strong>Ticket:</strong> #{{.Key}} - {{.Title}}</li>
<li><strong>Problema:</strong> {{.Problem}}</li>
<li><strong>Solicitante:</strong> {{.Requester}}</li>
<li><strong>Agente asignado:</strong> {{.Assignee}}</li>
<li><strong>Prioridad:</strong> {{.Priority}}</li>
</ul>
<p><a href="{{.Link}}">Ver ticket</a></p>`))
)

// NotificationService delivers outbound chat and email for domain events.
type NotificationService struct {
	dispatcher  events.Dispatcher
	chat        notify.ChatSender
	email       notify.EmailPublisher
	cfg         config.NotificationConfig
	frontendURL string
	logger      *zap.Logger
	now         func() time.Time
}

// NotificationDependencies bundles delivery channels.
type NotificationDependencies struct {
	Dispatcher  events.Dispatcher
	Chat        notify.ChatSender
	Email       notify.EmailPublisher
	Config      config.NotificationConfig
	FrontendURL string
	Logger      *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(deps NotificationDependencies) *NotificationService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher:  deps.Dispatcher,
		chat:        deps.Chat,
		email:       deps.Email,
		cfg:         deps.Config,
		frontendURL: strings.TrimRight(deps.FrontendURL, "/"),
		logger:      deps.Logger.Named("notification"),
		now:         time.Now,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventOutboundMessage, n.handleOutboundMessage)
	n.dispatcher.Subscribe(events.EventTicketCreated, n.handleTicketCreated)
	n.dispatcher.Subscribe(events.EventInvitationRequested, n.handleInvitationRequested)
	n.dispatcher.Subscribe(events.EventEscalationFired, n.handleEscalationFired)
	n.dispatcher.Subscribe(events.EventTicketTimedOut, n.handleTicketTimedOut)
	n.dispatcher.Subscribe(events.EventTicketStatusChanged, n.logEvent)
	n.dispatcher.Subscribe(events.EventTicketMessageAdded, n.logEvent)
	n.dispatcher.Subscribe(events.EventIdentityLinked, n.logEvent)
}

func (n *NotificationService) handleOutboundMessage(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.OutboundMessagePayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	return n.chat.Send(ctx, payload.To, payload.Body)
}

func (n *NotificationService) handleTicketCreated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketCreatedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	n.logger.Info("TicketCreated", zap.String("ticket_id", event.TicketID), zap.String("key", payload.Key))

	var errs []error
	if payload.Address != "" {
		if err := n.chat.Send(ctx, payload.Address, dialog.TicketCreatedMessage(payload.Key)); err != nil {
			errs = append(errs, err)
		}
	}
	if payload.Email != nil && *payload.Email != "" {
		html, err := render(ticketCreatedTemplate, payload)
		if err != nil {
			return err
		}
		if err := n.sendEmail(ctx, notify.Email{
			Kind:    notify.EmailKindTicketCreated,
			To:      []string{*payload.Email},
			Subject: fmt.Sprintf("[CGE] Ticket #%s Creado - %s", payload.Key, payload.Title),
			HTML:    html,
		}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *NotificationService) handleInvitationRequested(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.InvitationRequestedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	html, err := render(invitationTemplate, map[string]string{
		"DisplayName": payload.DisplayName,
		"Address":     payload.Address,
		"Link":        n.frontendURL + "/register",
	})
	if err != nil {
		return err
	}
	return n.sendEmail(ctx, notify.Email{
		Kind:    notify.EmailKindInvitation,
		To:      []string{payload.Email},
		Subject: "[CGE] Invitación para completar su registro",
		HTML:    html,
	})
}

func (n *NotificationService) handleEscalationFired(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.EscalationFiredPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	email := n.escalationEmail(event.TicketID, payload)
	if len(email.To) == 0 {
		n.logger.Warn("no escalation recipient configured",
			zap.String("ticket_id", event.TicketID), zap.Int("stage", payload.Stage))
		return nil
	}
	return n.sendEmail(ctx, email)
}

func (n *NotificationService) escalationEmail(ticketID string, payload events.EscalationFiredPayload) notify.Email {
	minutes := int(payload.Threshold.Minutes())
	problem := fmt.Sprintf("El ticket lleva más de %d minutos sin ser asignado.", minutes)
	if payload.Family == events.FamilySlowResponse {
		problem = fmt.Sprintf("El agente asignado (%s) ha demorado más de %d minutos en responder.", payload.Assignee, minutes)
	}
	assignee := payload.Assignee
	if assignee == "" {
		assignee = "Sin asignar"
	}

	email := notify.Email{Kind: notify.EmailKindEscalation}
	recipient := "Coordinación (Mesa de Entradas)"
	if payload.Stage >= 2 {
		recipient = "Sr. Subdirector"
		email.Subject = fmt.Sprintf("🚨 [SLA BREACH - ESCALAMIENTO] Ticket #%s - %s", payload.Key, payload.Family)
		email.To = nonEmpty(n.cfg.SubdirectorMail)
		email.Cc = nonEmpty(n.cfg.CoordinationMail)
	} else {
		email.Subject = fmt.Sprintf("⚠️ [ALERTA SLA] Ticket #%s - %s", payload.Key, payload.Family)
		email.To = nonEmpty(n.cfg.CoordinationMail)
	}

	html, err := render(escalationTemplate, map[string]string{
		"Recipient": recipient,
		"Key":       payload.Key,
		"Title":     payload.Title,
		"Problem":   problem,
		"Requester": payload.Requester,
		"Assignee":  assignee,
		"Priority":  string(payload.Priority),
		"Link":      fmt.Sprintf("%s/tickets/%s", n.frontendURL, ticketID),
	})
	if err != nil {
		n.logger.Error("render escalation email", zap.Error(err))
	}
	email.HTML = html
	return email
}

func (n *NotificationService) handleTicketTimedOut(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketTimedOutPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	if payload.Address == "" {
		return nil
	}
	return n.chat.Send(ctx, payload.Address, dialog.InactivityClosedMessage)
}

func (n *NotificationService) logEvent(_ context.Context, event events.Event) error {
	n.logger.Info(string(event.Type), zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	return nil
}

func (n *NotificationService) sendEmail(ctx context.Context, email notify.Email) error {
	if n.email == nil {
		return nil
	}
	email.ID = uuid.NewString()
	email.From = n.cfg.EmailFrom
	email.SentAt = n.now()
	return n.email.Publish(ctx, email)
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

func nonEmpty(addrs ...string) []string {
	var out []string
	for _, addr := range addrs {
		if strings.TrimSpace(addr) != "" {
			out = append(out, addr)
		}
	}
	return out
}
