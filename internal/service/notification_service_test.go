package service_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/spec-kit/intake-service/internal/config"
	"github.com/spec-kit/intake-service/internal/dialog"
	"github.com/spec-kit/intake-service/internal/domain"
	"github.com/spec-kit/intake-service/internal/events"
	"github.com/spec-kit/intake-service/internal/notify"
	"github.com/spec-kit/intake-service/internal/service"
)

var _ = Describe("NotificationService", func() {
	var (
		ctx        context.Context
		dispatcher events.Dispatcher
		chat       *fakeChat
		email      *fakeEmail
	)

	BeforeEach(func() {
		ctx = context.Background()
		dispatcher = events.NewInMemoryDispatcher()
		chat = &fakeChat{}
		email = &fakeEmail{}
		service.NewNotificationService(service.NotificationDependencies{
			Dispatcher: dispatcher,
			Chat:       chat,
			Email:      email,
			Config: config.NotificationConfig{
				EmailFrom:        "mesa@cge.example",
				CoordinationMail: "coordinacion@cge.example",
				SubdirectorMail:  "subdirector@cge.example",
			},
			FrontendURL: "https://portal.example/",
		}).RegisterHandlers()
	})

	It("delivers outbound chat messages", func() {
		Expect(dispatcher.Publish(ctx, events.Event{
			Type:    events.EventOutboundMessage,
			Payload: events.OutboundMessagePayload{To: sender, Body: "hola"},
		})).To(Succeed())
		Expect(chat.sent).To(ConsistOf(sentChat{To: sender, Body: "hola"}))
	})

	It("confirms a new ticket by chat and email", func() {
		Expect(dispatcher.Publish(ctx, events.Event{
			Type:     events.EventTicketCreated,
			TicketID: "t-1",
			Payload: events.TicketCreatedPayload{
				Key:      "TCK-0001",
				Address:  sender,
				Email:    ptr("ana@example.com"),
				Priority: domain.TicketPriorityLow,
				Title:    "Consulta WhatsApp [Haberes] (USER)",
			},
		})).To(Succeed())

		Expect(chat.sent).To(ConsistOf(sentChat{To: sender, Body: dialog.TicketCreatedMessage("TCK-0001")}))
		Expect(email.published).To(HaveLen(1))
		sent := email.published[0]
		Expect(sent.Kind).To(Equal(notify.EmailKindTicketCreated))
		Expect(sent.To).To(ConsistOf("ana@example.com"))
		Expect(sent.From).To(Equal("mesa@cge.example"))
		Expect(sent.ID).NotTo(BeEmpty())
		Expect(sent.HTML).To(ContainSubstring("#TCK-0001"))
	})

	It("still emails when chat delivery fails", func() {
		chat.err = errors.New("graph unavailable")
		err := dispatcher.Publish(ctx, events.Event{
			Type:    events.EventTicketCreated,
			Payload: events.TicketCreatedPayload{Key: "TCK-0002", Address: sender, Email: ptr("ana@example.com")},
		})
		Expect(err).To(MatchError(ContainSubstring("graph unavailable")))
		Expect(email.published).To(HaveLen(1))
	})

	It("invites new contacts to register", func() {
		Expect(dispatcher.Publish(ctx, events.Event{
			Type:    events.EventInvitationRequested,
			Payload: events.InvitationRequestedPayload{Email: "nuevo@example.com", Address: sender, DisplayName: "Ana"},
		})).To(Succeed())
		Expect(email.published).To(HaveLen(1))
		Expect(email.published[0].Kind).To(Equal(notify.EmailKindInvitation))
		Expect(email.published[0].HTML).To(ContainSubstring("https://portal.example/register"))
	})

	Describe("escalations", func() {
		payload := events.EscalationFiredPayload{
			Family:    events.FamilyUnassigned,
			Key:       "TCK-0003",
			Title:     "Consulta WhatsApp [Viaticos] (Invitado)",
			Priority:  domain.TicketPriorityLow,
			Requester: "Ana",
			Threshold: 5 * time.Minute,
		}

		It("alerts coordination on the first stage", func() {
			first := payload
			first.Stage = 1
			Expect(dispatcher.Publish(ctx, events.Event{Type: events.EventEscalationFired, TicketID: "t-3", Payload: first})).To(Succeed())

			Expect(email.published).To(HaveLen(1))
			sent := email.published[0]
			Expect(sent.Subject).To(Equal("⚠️ [ALERTA SLA] Ticket #TCK-0003 - UNASSIGNED"))
			Expect(sent.To).To(ConsistOf("coordinacion@cge.example"))
			Expect(sent.Cc).To(BeEmpty())
			Expect(sent.HTML).To(ContainSubstring("más de 5 minutos sin ser asignado"))
			Expect(sent.HTML).To(ContainSubstring("https://portal.example/tickets/t-3"))
		})

		It("escalates to the subdirector on breach", func() {
			breach := payload
			breach.Stage = 2
			breach.Family = events.FamilySlowResponse
			breach.Assignee = "Luis"
			breach.Threshold = 20 * time.Minute
			Expect(dispatcher.Publish(ctx, events.Event{Type: events.EventEscalationFired, TicketID: "t-3", Payload: breach})).To(Succeed())

			sent := email.published[0]
			Expect(sent.Subject).To(Equal("🚨 [SLA BREACH - ESCALAMIENTO] Ticket #TCK-0003 - NO_RESPONSE"))
			Expect(sent.To).To(ConsistOf("subdirector@cge.example"))
			Expect(sent.Cc).To(ConsistOf("coordinacion@cge.example"))
			Expect(sent.HTML).To(ContainSubstring("El agente asignado (Luis)"))
		})
	})

	It("tells the requester about inactivity closures", func() {
		Expect(dispatcher.Publish(ctx, events.Event{
			Type:    events.EventTicketTimedOut,
			Payload: events.TicketTimedOutPayload{Key: "TCK-0004", Address: sender},
		})).To(Succeed())
		Expect(chat.sent).To(ConsistOf(sentChat{To: sender, Body: dialog.InactivityClosedMessage}))
	})
})
