package worker_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/spec-kit/intake-service/internal/domain"
	"github.com/spec-kit/intake-service/internal/events"
	"github.com/spec-kit/intake-service/internal/observability"
	"github.com/spec-kit/intake-service/internal/repository/repositorytest"
	"github.com/spec-kit/intake-service/internal/worker"
)

var rules = worker.EscalationRules{
	UnassignedWarn:   5 * time.Minute,
	UnassignedBreach: 10 * time.Minute,
	ResponseWarn:     10 * time.Minute,
	ResponseBreach:   20 * time.Minute,
}

var _ = Describe("EvaluateEscalation", func() {
	created := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	at := func(d time.Duration) time.Time { return created.Add(d) }

	unassigned := func(stage int) domain.Ticket {
		return domain.Ticket{ID: "t-1", Status: domain.TicketStatusPendingReview, EscalationStage: stage, CreatedAt: created}
	}

	It("warns about unassigned tickets after the first threshold", func() {
		_, due := worker.EvaluateEscalation(unassigned(0), at(5*time.Minute), rules)
		Expect(due).To(BeFalse())

		step, due := worker.EvaluateEscalation(unassigned(0), at(6*time.Minute), rules)
		Expect(due).To(BeTrue())
		Expect(step).To(Equal(worker.Escalation{
			Family:    events.FamilyUnassigned,
			From:      0,
			To:        1,
			Threshold: 5 * time.Minute,
			Elapsed:   6 * time.Minute,
		}))
	})

	It("advances one stage at a time", func() {
		step, due := worker.EvaluateEscalation(unassigned(0), at(time.Hour), rules)
		Expect(due).To(BeTrue())
		Expect(step.To).To(Equal(1))

		step, due = worker.EvaluateEscalation(unassigned(1), at(time.Hour), rules)
		Expect(due).To(BeTrue())
		Expect(step.To).To(Equal(2))
		Expect(step.Threshold).To(Equal(10 * time.Minute))

		_, due = worker.EvaluateEscalation(unassigned(2), at(time.Hour), rules)
		Expect(due).To(BeFalse())
	})

	It("ignores closed tickets and tickets awaiting confirmation", func() {
		closed := unassigned(0)
		closed.Status = domain.TicketStatusClosedTimeout
		_, due := worker.EvaluateEscalation(closed, at(time.Hour), rules)
		Expect(due).To(BeFalse())

		awaiting := unassigned(0)
		awaiting.Status = domain.TicketStatusAwaitingConfirmation
		_, due = worker.EvaluateEscalation(awaiting, at(time.Hour), rules)
		Expect(due).To(BeFalse())
	})

	Describe("slow responses", func() {
		var ticket domain.Ticket

		BeforeEach(func() {
			ticket = domain.Ticket{
				ID:         "t-2",
				Status:     domain.TicketStatusInProgress,
				AssigneeID: ptr("agent-1"),
				AssignedAt: ptr(created),
				CreatedAt:  created,
			}
		})

		It("starts the clock at assignment when the agent never answered", func() {
			_, due := worker.EvaluateEscalation(ticket, at(9*time.Minute), rules)
			Expect(due).To(BeFalse())

			step, due := worker.EvaluateEscalation(ticket, at(11*time.Minute), rules)
			Expect(due).To(BeTrue())
			Expect(step.Family).To(Equal(events.FamilySlowResponse))
			Expect(step.Elapsed).To(Equal(11 * time.Minute))
		})

		It("starts the clock at the requester's unanswered message", func() {
			ticket.LastAgentResponseAt = ptr(at(time.Minute))
			ticket.LastRequesterMessageAt = ptr(at(30 * time.Minute))

			_, due := worker.EvaluateEscalation(ticket, at(35*time.Minute), rules)
			Expect(due).To(BeFalse())

			step, due := worker.EvaluateEscalation(ticket, at(41*time.Minute), rules)
			Expect(due).To(BeTrue())
			Expect(step.Elapsed).To(Equal(11 * time.Minute))
		})

		It("stays quiet when the agent answered last", func() {
			ticket.LastRequesterMessageAt = ptr(at(time.Minute))
			ticket.LastAgentResponseAt = ptr(at(2 * time.Minute))
			_, due := worker.EvaluateEscalation(ticket, at(time.Hour), rules)
			Expect(due).To(BeFalse())
		})

		It("tracks assigned tickets back in review when the agent never answered", func() {
			ticket.Status = domain.TicketStatusPendingReview
			step, due := worker.EvaluateEscalation(ticket, at(time.Hour), rules)
			Expect(due).To(BeTrue())
			Expect(step.Family).To(Equal(events.FamilySlowResponse))
			Expect(step.Elapsed).To(Equal(time.Hour))
		})

		It("tracks assigned tickets back in review after an unanswered requester reply", func() {
			ticket.Status = domain.TicketStatusPendingReview
			ticket.LastAgentResponseAt = ptr(at(time.Minute))
			ticket.LastRequesterMessageAt = ptr(at(2 * time.Minute))
			step, due := worker.EvaluateEscalation(ticket, at(time.Hour), rules)
			Expect(due).To(BeTrue())
			Expect(step.Family).To(Equal(events.FamilySlowResponse))
			Expect(step.Elapsed).To(Equal(58 * time.Minute))
		})

		It("waits on the requester when the agent asked last", func() {
			ticket.Status = domain.TicketStatusWaitingUser
			ticket.LastRequesterMessageAt = ptr(at(time.Minute))
			ticket.LastAgentResponseAt = ptr(at(2 * time.Minute))
			_, due := worker.EvaluateEscalation(ticket, at(time.Hour), rules)
			Expect(due).To(BeFalse())
		})

		It("ignores assigned tickets awaiting confirmation", func() {
			ticket.Status = domain.TicketStatusAwaitingConfirmation
			_, due := worker.EvaluateEscalation(ticket, at(time.Hour), rules)
			Expect(due).To(BeFalse())
		})
	})
})

var _ = Describe("SLAEscalator", func() {
	var (
		ctx       context.Context
		now       time.Time
		created   time.Time
		store     *repositorytest.Store
		rec       *recorder
		escalator *worker.SLAEscalator
		ticket    domain.Ticket
	)

	BeforeEach(func() {
		ctx = context.Background()
		created = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
		now = created
		store = repositorytest.NewStore()
		dispatcher := events.NewInMemoryDispatcher()
		rec = newRecorder(dispatcher, events.EventEscalationFired)
		escalator = worker.NewSLAEscalator(rules, time.Minute, worker.EscalatorDependencies{
			Stores:     store,
			Tx:         store,
			Dispatcher: dispatcher,
			Metrics:    observability.NewMetrics(),
			Clock:      func() time.Time { return now },
		})

		identity := store.PutIdentity(*domain.NewGuestIdentity("5491100000000", "Ana"))
		ticket = store.PutTicket(domain.Ticket{
			ExternalKey: "TCK-F",
			IdentityID:  identity.ID,
			Title:       "Consulta WhatsApp [General] (Invitado)",
			Status:      domain.TicketStatusPendingReview,
			Priority:    domain.TicketPriorityLow,
			CreatedAt:   created,
		})
	})

	It("escalates an unassigned ticket once per stage", func() {
		now = created.Add(6 * time.Minute)
		fired, err := escalator.RunOnce(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(fired).To(Equal(1))
		current, _ := store.Ticket(ticket.ID)
		Expect(current.EscalationStage).To(Equal(1))
		Expect(current.Priority).To(Equal(domain.TicketPriorityLow))

		now = created.Add(11 * time.Minute)
		fired, err = escalator.RunOnce(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(fired).To(Equal(1))
		current, _ = store.Ticket(ticket.ID)
		Expect(current.EscalationStage).To(Equal(2))
		Expect(current.Priority).To(Equal(domain.TicketPriorityCritical))

		now = created.Add(30 * time.Minute)
		fired, err = escalator.RunOnce(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(fired).To(BeZero())

		notices := rec.ofType(events.EventEscalationFired)
		Expect(notices).To(HaveLen(2))
		first := notices[0].Payload.(events.EscalationFiredPayload)
		Expect(first.Stage).To(Equal(1))
		Expect(first.Family).To(Equal(events.FamilyUnassigned))
		Expect(first.Key).To(Equal("TCK-F"))
		Expect(first.Requester).To(Equal("Ana"))
		second := notices[1].Payload.(events.EscalationFiredPayload)
		Expect(second.Stage).To(Equal(2))
		Expect(second.Priority).To(Equal(domain.TicketPriorityCritical))
	})

	It("never lowers or repeats a stage", func() {
		stages := []int{}
		for minute := 0; minute <= 40; minute++ {
			now = created.Add(time.Duration(minute) * time.Minute)
			_, err := escalator.RunOnce(ctx)
			Expect(err).NotTo(HaveOccurred())
			current, _ := store.Ticket(ticket.ID)
			stages = append(stages, current.EscalationStage)
		}
		for i := 1; i < len(stages); i++ {
			Expect(stages[i]).To(BeNumerically(">=", stages[i-1]))
		}
		Expect(rec.ofType(events.EventEscalationFired)).To(HaveLen(2))
	})

	It("names the assignee on slow responses", func() {
		store.PutAccount(domain.Account{ID: "agent-1", Name: "Luis Pérez", Role: domain.AccountRoleAgent})
		ticket.AssigneeID = ptr("agent-1")
		ticket.AssignedAt = ptr(created)
		ticket.Status = domain.TicketStatusInProgress
		store.PutTicket(ticket)

		now = created.Add(15 * time.Minute)
		fired, err := escalator.RunOnce(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(fired).To(Equal(1))
		payload := rec.ofType(events.EventEscalationFired)[0].Payload.(events.EscalationFiredPayload)
		Expect(payload.Family).To(Equal(events.FamilySlowResponse))
		Expect(payload.Assignee).To(Equal("Luis Pérez"))

		history := store.AllHistory()
		Expect(history).To(HaveLen(1))
		Expect(history[0].ChangeType).To(Equal(domain.ChangeTypeEscalation))
	})
})
