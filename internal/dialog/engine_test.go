package dialog_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/spec-kit/intake-service/internal/dialog"
	"github.com/spec-kit/intake-service/internal/domain"
	"github.com/spec-kit/intake-service/internal/events"
)

const sender = "5491155550000"

func ptr[T any](v T) *T {
	return &v
}

func eventsOfType(out dialog.Outcome, eventType events.EventType) []events.Event {
	var matched []events.Event
	for _, evt := range out.Events {
		if evt.Type == eventType {
			matched = append(matched, evt)
		}
	}
	return matched
}

var _ = Describe("Engine", func() {
	var (
		ctx        context.Context
		now        time.Time
		lookups    *fakeLookups
		knowledge  *fakeKnowledge
		classifier *fakeClassifier
		links      *fakeLinks
		engine     *dialog.Engine
		identity   domain.Identity
	)

	step := func(text string) dialog.Outcome {
		out, err := engine.Step(ctx, dialog.Input{Identity: identity, Text: text, Address: sender}, lookups)
		Expect(err).NotTo(HaveOccurred())
		identity = out.Identity
		return out
	}

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
		lookups = &fakeLookups{}
		knowledge = &fakeKnowledge{}
		classifier = &fakeClassifier{label: domain.QueueSistemas}
		links = &fakeLinks{}
		engine = dialog.NewEngine(dialog.Config{
			LegalURL:        "https://portal.example/legal",
			VerificationTTL: time.Hour,
		}, dialog.Dependencies{
			Knowledge:  knowledge,
			Classifier: classifier,
			Links:      links,
			Clock:      func() time.Time { return now },
		})
		identity = *domain.NewGuestIdentity(sender, "Ana")
		identity.ID = "identity-1"
	})

	It("ignores empty input", func() {
		out := step("   ")
		Expect(out.Events).To(BeEmpty())
		Expect(out.Identity.State).To(Equal(domain.DialogAwaitID))
	})

	It("asks for an identifier when greeted", func() {
		out := step("Hola")
		Expect(out.Identity.State).To(Equal(domain.DialogAwaitID))
		Expect(out.Replies()).To(HaveLen(1))
		Expect(out.Replies()[0]).To(ContainSubstring("DNI"))
		Expect(lookups.nationalIDCalls).To(BeZero())
	})

	It("reprompts on an invalid identifier", func() {
		out := step("no tengo")
		Expect(out.Identity.State).To(Equal(domain.DialogAwaitID))
		Expect(out.Replies()[0]).To(ContainSubstring("DNI inválido"))
	})

	It("resets from any state on a reset keyword", func() {
		identity.State = domain.DialogAwaitDescription
		identity.Scratch = domain.Scratch{Topic: domain.TopicJuicios}
		out := step("  MENU ")
		Expect(out.Identity.State).To(Equal(domain.DialogAwaitID))
		Expect(out.Identity.Scratch.IsEmpty()).To(BeTrue())
		Expect(out.Replies()[0]).To(ContainSubstring("Reinicio"))
	})

	Describe("registration of unknown requesters", func() {
		It("collects a contact address and a profile", func() {
			out := step("87654321")
			Expect(out.Identity.State).To(Equal(domain.DialogAwaitContact))
			Expect(out.Identity.Scratch.PendingIdentifier).To(Equal("87654321"))
			Expect(out.Identity.NationalID).To(Equal(ptr("87654321")))

			out = step("not-an-address")
			Expect(out.Identity.State).To(Equal(domain.DialogAwaitContact))
			Expect(out.Replies()[0]).To(ContainSubstring("Correo inválido"))

			out = step("a@b.com")
			Expect(out.Identity.State).To(Equal(domain.DialogAwaitProfileSelection))
			Expect(out.Identity.ContactEmail).To(Equal(ptr("a@b.com")))
			Expect(out.Identity.Scratch.IsEmpty()).To(BeTrue())
			invitations := eventsOfType(out, events.EventInvitationRequested)
			Expect(invitations).To(HaveLen(1))
			Expect(invitations[0].Payload).To(Equal(events.InvitationRequestedPayload{
				Email:       "a@b.com",
				Address:     sender,
				DisplayName: "Ana",
				NationalID:  "87654321",
			}))

			out = step("9")
			Expect(out.Identity.State).To(Equal(domain.DialogAwaitProfileSelection))

			out = step("2")
			Expect(out.Identity.State).To(Equal(domain.DialogAwaitTopic))
			Expect(out.Identity.Capability).To(Equal(domain.CapabilityStandard))
			Expect(out.Identity.ProfileTag).To(Equal(ptr(domain.ProfileCivilianUnverified)))
			Expect(out.Replies()[0]).To(ContainSubstring("https://portal.example/legal"))
		})

		It("warns when the contact address belongs to another account", func() {
			lookups.accounts = []*domain.Account{{ID: "acc-9", Email: "taken@cge.gob.ar", NationalID: "11111111"}}
			identity.State = domain.DialogAwaitContact
			identity.Scratch = domain.Scratch{PendingIdentifier: "87654321"}

			out := step("taken@cge.gob.ar")
			Expect(out.Identity.State).To(Equal(domain.DialogAwaitContact))
			Expect(out.Identity.ContactEmail).To(BeNil())
			Expect(eventsOfType(out, events.EventInvitationRequested)).To(BeEmpty())
		})

		It("rejects addresses without a dotted domain", func() {
			identity.State = domain.DialogAwaitContact
			identity.Scratch = domain.Scratch{PendingIdentifier: "87654321"}
			out := step("ana@localhost")
			Expect(out.Identity.State).To(Equal(domain.DialogAwaitContact))
		})
	})

	Describe("known requesters", func() {
		var account *domain.Account

		BeforeEach(func() {
			account = &domain.Account{ID: "acc-1", Name: "Cabo Pérez", Email: "perez@cge.gob.ar", NationalID: "12345678", Role: domain.AccountRoleUser}
			lookups.accounts = []*domain.Account{account}
		})

		It("links directly when the registered phone matches the sender", func() {
			account.Phone = ptr(sender)
			out := step("12.345.678")
			Expect(out.Identity.State).To(Equal(domain.DialogAwaitTopic))
			Expect(out.Identity.AccountID).To(Equal(ptr("acc-1")))
			Expect(out.Identity.Capability).To(Equal(domain.CapabilityStandard))
			Expect(eventsOfType(out, events.EventIdentityLinked)).To(HaveLen(1))
			Expect(out.Replies()[0]).To(ContainSubstring("Cabo Pérez"))
			Expect(links.issued).To(BeEmpty())
		})

		It("challenges when the sender differs from the registered phone", func() {
			account.Phone = ptr("5491100000000")
			out := step("12345678")
			Expect(out.Identity.State).To(Equal(domain.DialogAwaitVerification))
			Expect(out.Identity.Scratch.TargetAccountID).To(Equal("acc-1"))
			Expect(out.Identity.IsLinked()).To(BeFalse())
			Expect(links.issued).To(ConsistOf(domain.VerificationLink{
				Address:         sender,
				IdentityID:      "identity-1",
				TargetAccountID: "acc-1",
				ExpiresAt:       now.Add(time.Hour),
			}))
			Expect(out.Replies()[0]).To(ContainSubstring("verify-whatsapp?token=acc-1"))

			out = step("ya entré")
			Expect(out.Identity.State).To(Equal(domain.DialogAwaitVerification))
			Expect(links.issued).To(HaveLen(2))
			Expect(out.Replies()[0]).To(ContainSubstring("pendiente de validación"))
		})

		It("surfaces lookup failures", func() {
			lookups.err = errors.New("db down")
			_, err := engine.Step(ctx, dialog.Input{Identity: identity, Text: "12345678", Address: sender}, lookups)
			Expect(err).To(MatchError(ContainSubstring("db down")))
		})
	})

	Describe("topic selection", func() {
		BeforeEach(func() {
			identity.State = domain.DialogAwaitTopic
			identity.Capability = domain.CapabilityStandard
		})

		It("creates a ticket in the chosen topic's queue", func() {
			out := step("1")
			Expect(out.Identity.State).To(Equal(domain.DialogAwaitDescription))
			Expect(out.Identity.Scratch.Topic).To(Equal(domain.TopicHaberes))

			out = step("mi impresora no funciona")
			Expect(out.Identity.State).To(Equal(domain.DialogActive))
			Expect(out.Identity.Scratch.IsEmpty()).To(BeTrue())
			Expect(out.NewTicket).NotTo(BeNil())
			Expect(out.NewTicket.Description).To(Equal("mi impresora no funciona"))
			Expect(out.NewTicket.Queue).To(Equal(domain.QueueHaberes))
			Expect(out.NewTicket.Topic).To(Equal(ptr(domain.TopicHaberes)))
			Expect(out.NewTicket.Priority).To(Equal(domain.TicketPriorityLow))
			Expect(out.NewTicket.Title).To(Equal("Consulta WhatsApp [Haberes] (Invitado)"))
			Expect(eventsOfType(out, events.EventTicketCreated)).To(HaveLen(1))
			Expect(classifier.calls).To(BeZero())
		})

		It("asks for more detail on short free text", func() {
			out := step("hey")
			Expect(out.Identity.State).To(Equal(domain.DialogAwaitTopic))
			Expect(out.NewTicket).To(BeNil())
			Expect(knowledge.calls).To(BeZero())
		})

		It("offers a knowledge answer when one matches", func() {
			knowledge.match = &domain.KnowledgeMatch{
				Article: domain.KnowledgeArticle{ID: "recibo", Answer: "Ingrese al portal de haberes."},
				Score:   0.82,
			}
			out := step("no encuentro mi recibo de sueldo")
			Expect(out.Identity.State).To(Equal(domain.DialogAwaitKnowledgeConfirmation))
			Expect(out.Identity.Scratch.PendingText).To(Equal("no encuentro mi recibo de sueldo"))
			Expect(out.Identity.Scratch.KnowledgeRef).To(Equal("recibo"))
			Expect(out.Replies()[0]).To(ContainSubstring("Ingrese al portal de haberes."))
			Expect(out.NewTicket).To(BeNil())
		})

		It("classifies the text when no answer matches", func() {
			out := step("necesito cambiar mi cuenta bancaria")
			Expect(out.Identity.State).To(Equal(domain.DialogActive))
			Expect(out.NewTicket.Queue).To(Equal(domain.QueueSistemas))
			Expect(out.NewTicket.Topic).To(BeNil())
			Expect(classifier.calls).To(Equal(1))
		})

		It("degrades to classification when knowledge lookup fails", func() {
			knowledge.err = errors.New("embedding timeout")
			out := step("necesito cambiar mi cuenta bancaria")
			Expect(out.NewTicket).NotTo(BeNil())
			Expect(out.NewTicket.Queue).To(Equal(domain.QueueSistemas))
		})

		It("rates linked senior accounts higher", func() {
			lookups.accounts = []*domain.Account{{ID: "acc-2", Email: "jefe@cge.gob.ar", Role: domain.AccountRoleJefe}}
			identity.AccountID = ptr("acc-2")
			out := step("necesito cambiar mi cuenta bancaria")
			Expect(out.NewTicket.Priority).To(Equal(domain.TicketPriorityMedium))
			Expect(out.NewTicket.Title).To(Equal("Consulta WhatsApp [General] (JEFE)"))
			created := eventsOfType(out, events.EventTicketCreated)[0].Payload.(events.TicketCreatedPayload)
			Expect(created.Email).To(Equal(ptr("jefe@cge.gob.ar")))
		})
	})

	Describe("knowledge confirmation", func() {
		BeforeEach(func() {
			identity.State = domain.DialogAwaitKnowledgeConfirmation
			identity.Scratch = domain.Scratch{PendingText: "no encuentro mi recibo", KnowledgeRef: "recibo"}
		})

		It("closes the loop on an affirmative answer", func() {
			out := step("Sí, gracias")
			Expect(out.Identity.State).To(Equal(domain.DialogActive))
			Expect(out.NewTicket).To(BeNil())
		})

		It("does not read 'sigue igual' as an affirmative", func() {
			out := step("sigue igual")
			Expect(out.Identity.State).To(Equal(domain.DialogActive))
			Expect(out.NewTicket).NotTo(BeNil())
			Expect(out.NewTicket.Description).To(Equal("no encuentro mi recibo"))
			Expect(out.NewTicket.Queue).To(Equal(domain.QueueSistemas))
		})

		It("uses the remembered topic when present", func() {
			identity.Scratch.Topic = domain.TopicAlquileres
			out := step("no")
			Expect(out.NewTicket.Queue).To(Equal(domain.QueueTesoreria))
			Expect(classifier.calls).To(BeZero())
		})

		It("reprompts on anything else", func() {
			out := step("quizás")
			Expect(out.Identity.State).To(Equal(domain.DialogAwaitKnowledgeConfirmation))
			Expect(out.Identity.Scratch.PendingText).To(Equal("no encuentro mi recibo"))
			Expect(out.NewTicket).To(BeNil())
		})
	})

	Describe("active session", func() {
		BeforeEach(func() {
			identity.State = domain.DialogActive
		})

		It("appends to the latest open ticket", func() {
			lookups.open = &domain.Ticket{ID: "t-1", ExternalKey: "TCK-0000AAAA", Status: domain.TicketStatusInProgress}
			out := step("les agrego el número de legajo 4455")
			Expect(out.Appends).To(ConsistOf(domain.TicketMessage{
				TicketID:   "t-1",
				Originator: domain.OriginatorRequester,
				Body:       "les agrego el número de legajo 4455",
				CreatedAt:  now,
			}))
			Expect(out.StatusChanges).To(BeEmpty())
			Expect(out.Replies()[0]).To(ContainSubstring("TCK-0000AAAA"))
			Expect(out.Identity.State).To(Equal(domain.DialogActive))
		})

		It("sends tickets waiting on the requester back to review", func() {
			lookups.open = &domain.Ticket{ID: "t-1", Status: domain.TicketStatusWaitingUser}
			out := step("adjunto lo pedido")
			Expect(out.StatusChanges).To(ConsistOf(dialog.StatusChange{
				TicketID: "t-1",
				From:     domain.TicketStatusWaitingUser,
				To:       domain.TicketStatusPendingReview,
			}))
			Expect(out.Replies()[0]).To(ContainSubstring("validación"))
		})

		It("returns to topic selection without an open ticket", func() {
			out, err := engine.Step(ctx, dialog.Input{Identity: identity, Text: "[MEDIA_URL]: https://x", Address: sender, Media: true}, lookups)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Identity.State).To(Equal(domain.DialogAwaitTopic))
			Expect(out.Replies()).To(HaveLen(2))
			Expect(out.Replies()[0]).To(ContainSubstring("Recibí su archivo"))
		})

		It("answers greetings without touching tickets", func() {
			lookups.open = &domain.Ticket{ID: "t-1", Status: domain.TicketStatusInProgress}
			out := step("hola buenas tardes")
			Expect(out.Appends).To(BeEmpty())
			Expect(out.Identity.State).To(Equal(domain.DialogActive))
		})
	})

	Describe("resolution confirmation", func() {
		var ticket *domain.Ticket

		BeforeEach(func() {
			identity.State = domain.DialogActive
			ticket = &domain.Ticket{ID: "t-7", ExternalKey: "TCK-7", Status: domain.TicketStatusAwaitingConfirmation, AssigneeID: ptr("agent-1")}
			lookups.awaiting = []*domain.Ticket{ticket}
		})

		It("closes, then stores a rating", func() {
			out := step("si, gracias")
			Expect(out.StatusChanges).To(ConsistOf(dialog.StatusChange{
				TicketID: "t-7",
				From:     domain.TicketStatusAwaitingConfirmation,
				To:       domain.TicketStatusClosed,
			}))
			Expect(out.Identity.State).To(Equal(domain.DialogAwaitRating))
			Expect(out.Identity.Scratch.RatingTicketID).To(Equal("t-7"))

			out = step("7")
			Expect(out.Identity.State).To(Equal(domain.DialogAwaitRating))
			Expect(out.Rating).To(BeNil())

			out = step("5")
			Expect(out.Rating).To(Equal(&dialog.Rating{TicketID: "t-7", Score: 5}))
			Expect(out.Identity.State).To(Equal(domain.DialogActive))
			Expect(out.Identity.Scratch.IsEmpty()).To(BeTrue())
		})

		It("reopens on a negative answer", func() {
			out := step("sigue igual")
			Expect(out.StatusChanges).To(ConsistOf(dialog.StatusChange{
				TicketID: "t-7",
				From:     domain.TicketStatusAwaitingConfirmation,
				To:       domain.TicketStatusInProgress,
			}))
			Expect(out.Appends).To(HaveLen(1))
			Expect(out.Appends[0].Originator).To(Equal(domain.OriginatorAutomated))
			Expect(out.Appends[0].Body).To(Equal(dialog.RejectionNote))
			Expect(out.Identity.State).To(Equal(domain.DialogActive))
		})

		It("reprompts without leaving the sub-flow", func() {
			out := step("mmm")
			Expect(out.StatusChanges).To(BeEmpty())
			Expect(out.Appends).To(BeEmpty())
			Expect(out.Replies()[0]).To(ContainSubstring("¿Se solucionó su problema?"))
		})

		It("skips the sub-flow when several tickets await confirmation", func() {
			lookups.awaiting = append(lookups.awaiting, &domain.Ticket{ID: "t-8", Status: domain.TicketStatusAwaitingConfirmation, AssigneeID: ptr("agent-1")})
			lookups.open = &domain.Ticket{ID: "t-2", ExternalKey: "TCK-2", Status: domain.TicketStatusInProgress}
			out := step("si")
			Expect(out.StatusChanges).To(BeEmpty())
			Expect(out.Appends).To(HaveLen(1))
			Expect(out.Appends[0].TicketID).To(Equal("t-2"))
		})
	})

	It("is deterministic for identical inputs", func() {
		identity.State = domain.DialogAwaitTopic
		input := dialog.Input{Identity: identity, Text: "necesito cambiar mi cuenta bancaria", Address: sender}
		first, err := engine.Step(ctx, input, lookups)
		Expect(err).NotTo(HaveOccurred())
		second, err := engine.Step(ctx, input, lookups)
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(Equal(first))
	})
})

var _ = DescribeTable("CalculatePriority",
	func(role domain.AccountRole, expected domain.TicketPriority) {
		Expect(dialog.CalculatePriority(role)).To(Equal(expected))
	},
	Entry("requester", domain.AccountRoleUser, domain.TicketPriorityLow),
	Entry("admin", domain.AccountRoleAdmin, domain.TicketPriorityLow),
	Entry("jefe", domain.AccountRoleJefe, domain.TicketPriorityMedium),
	Entry("subdirector", domain.AccountRoleSubdirector, domain.TicketPriorityMedium),
)

var _ = DescribeTable("PriorityMatrix",
	func(impact, urgency dialog.Level, role domain.AccountRole, expected domain.TicketPriority) {
		Expect(dialog.PriorityMatrix(impact, urgency, role)).To(Equal(expected))
	},
	Entry("high severity from a subdirector", dialog.LevelHigh, dialog.LevelHigh, domain.AccountRoleSubdirector, domain.TicketPriorityCritical),
	Entry("high severity from a requester", dialog.LevelHigh, dialog.LevelHigh, domain.AccountRoleUser, domain.TicketPriorityHigh),
	Entry("medium severity from a requester", dialog.LevelMedium, dialog.LevelMedium, domain.AccountRoleUser, domain.TicketPriorityMedium),
)
