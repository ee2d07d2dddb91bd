package worker_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/spec-kit/intake-service/internal/dialog"
	"github.com/spec-kit/intake-service/internal/domain"
	"github.com/spec-kit/intake-service/internal/events"
	"github.com/spec-kit/intake-service/internal/observability"
	"github.com/spec-kit/intake-service/internal/queue"
	"github.com/spec-kit/intake-service/internal/repository/repositorytest"
	"github.com/spec-kit/intake-service/internal/service"
	"github.com/spec-kit/intake-service/internal/worker"
)

const sender = "5491155550000"

func textJob(token, text string) domain.Job {
	return domain.Job{ID: 1, Token: token, Address: sender, DisplayName: "Ana", Kind: domain.ContentText, Text: text}
}

var _ = Describe("IntakeWorker", func() {
	var (
		ctx      context.Context
		consumer *fakeConsumer
	)

	drain := func(w *worker.IntakeWorker) {
		for {
			msgs, err := consumer.Read(ctx)
			Expect(err).NotTo(HaveOccurred())
			if len(msgs) == 0 {
				return
			}
			for _, msg := range msgs {
				Expect(w.Process(ctx, msg)).To(Succeed())
			}
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		consumer = &fakeConsumer{maxAttempts: 3}
	})

	It("acks handled jobs", func() {
		calls := 0
		w := worker.NewIntakeWorker(consumer, handlerFunc(func(context.Context, domain.Job) (service.IntakeResult, error) {
			calls++
			return service.IntakeResult{}, nil
		}), observability.NewMetrics(), zap.NewNop())

		consumer.push(textJob("wamid.1", "Hola"))
		drain(w)
		Expect(calls).To(Equal(1))
		Expect(consumer.acked).To(HaveLen(1))
		Expect(consumer.failures).To(BeEmpty())
	})

	It("retries failures and dead-letters after the last attempt", func() {
		calls := 0
		w := worker.NewIntakeWorker(consumer, handlerFunc(func(context.Context, domain.Job) (service.IntakeResult, error) {
			calls++
			return service.IntakeResult{}, errors.New("connection refused")
		}), observability.NewMetrics(), zap.NewNop())

		consumer.push(textJob("wamid.2", "Hola"))
		drain(w)
		Expect(calls).To(Equal(3))
		Expect(consumer.failures).To(HaveLen(3))
		Expect(consumer.dead).To(HaveLen(1))
		Expect(consumer.dead[0].Attempt).To(Equal(3))
		Expect(consumer.dead[0].LastError).To(Equal("connection refused"))
		Expect(consumer.acked).To(BeEmpty())
	})

	It("recovers from a panicking handler", func() {
		w := worker.NewIntakeWorker(consumer, handlerFunc(func(context.Context, domain.Job) (service.IntakeResult, error) {
			panic("boom")
		}), observability.NewMetrics(), zap.NewNop())

		consumer.push(textJob("wamid.3", "Hola"))
		msgs, _ := consumer.Read(ctx)
		Expect(w.Process(ctx, msgs[0])).To(Succeed())
		Expect(consumer.failures).To(HaveLen(1))
		Expect(consumer.failures[0].cause).To(MatchError("panic: boom"))
	})

	It("stops when asked", func() {
		w := worker.NewIntakeWorker(consumer, handlerFunc(func(context.Context, domain.Job) (service.IntakeResult, error) {
			return service.IntakeResult{}, nil
		}), observability.NewMetrics(), zap.NewNop())

		done := make(chan error, 1)
		go func() { done <- w.Run(ctx) }()
		consumer.push(textJob("wamid.4", "Hola"))
		Eventually(func() int {
			consumer.mu.Lock()
			defer consumer.mu.Unlock()
			return len(consumer.acked)
		}).Should(Equal(1))

		w.Stop()
		Eventually(done).Should(Receive(BeNil()))
	})

	Describe("with the intake service", func() {
		var (
			store *repositorytest.Store
			rec   *recorder
			w     *worker.IntakeWorker
		)

		BeforeEach(func() {
			now := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
			store = repositorytest.NewStore().WithClock(func() time.Time { return now })
			dispatcher := events.NewInMemoryDispatcher()
			rec = newRecorder(dispatcher, events.EventOutboundMessage, events.EventTicketCreated)
			engine := dialog.NewEngine(dialog.Config{LegalURL: "https://portal.example/legal"}, dialog.Dependencies{
				Clock: func() time.Time { return now },
			})
			intake := service.NewIntakeService(service.IntakeDependencies{
				Stores:     store,
				Tx:         store,
				Engine:     engine,
				Dispatcher: dispatcher,
				Clock:      func() time.Time { return now },
			})
			w = worker.NewIntakeWorker(consumer, intake, observability.NewMetrics(), zap.NewNop())

			identity := *domain.NewGuestIdentity(sender, "Ana")
			identity.Capability = domain.CapabilityStandard
			identity.State = domain.DialogAwaitTopic
			store.PutIdentity(identity)
		})

		It("walks a conversation to a ticket in arrival order", func() {
			consumer.push(textJob("wamid.10", "1"))
			consumer.push(textJob("wamid.11", "mi impresora no funciona"))
			drain(w)

			tickets := store.AllTickets()
			Expect(tickets).To(HaveLen(1))
			Expect(tickets[0].Queue).To(Equal(domain.QueueHaberes))
			Expect(rec.ofType(events.EventTicketCreated)).To(HaveLen(1))
			Expect(consumer.acked).To(HaveLen(2))
		})

		It("applies a redelivered token once", func() {
			consumer.push(textJob("wamid.10", "1"))
			consumer.push(textJob("wamid.11", "mi impresora no funciona"))
			consumer.push(textJob("wamid.11", "mi impresora no funciona"))
			drain(w)

			Expect(store.AllTickets()).To(HaveLen(1))
			Expect(rec.ofType(events.EventOutboundMessage)).To(HaveLen(1))
			Expect(rec.ofType(events.EventTicketCreated)).To(HaveLen(1))
			Expect(consumer.acked).To(HaveLen(3))
		})
	})
})

var _ = Describe("Reclaimer", func() {
	It("runs stale entries through the job path", func() {
		claimer := &fakeClaimer{stale: []queue.Message{
			{ID: "1-0", Job: textJob("wamid.20", "Hola")},
			{ID: "2-0", Job: textJob("wamid.21", "Hola")},
		}}
		var processed []string
		r := worker.NewReclaimer(claimer, worker.ReclaimerConfig{MinIdle: time.Minute, BatchSize: 5},
			func(_ context.Context, msg queue.Message) error {
				processed = append(processed, msg.ID)
				return nil
			}, zap.NewNop())

		n, err := r.ReclaimOnce(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(2))
		Expect(processed).To(Equal([]string{"1-0", "2-0"}))
		Expect(claimer.minIdle).To(Equal(time.Minute))

		n, err = r.ReclaimOnce(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())
	})

	It("waits for the interval between cycles", func() {
		claimer := &fakeClaimer{stale: []queue.Message{{ID: "1-0", Job: textJob("wamid.22", "Hola")}}}
		r := worker.NewReclaimer(claimer, worker.ReclaimerConfig{MinIdle: time.Minute, Interval: time.Hour, BatchSize: 5},
			func(context.Context, queue.Message) error { return nil }, zap.NewNop())

		n, err := r.ReclaimIfDue(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		claimer.stale = []queue.Message{{ID: "2-0", Job: textJob("wamid.23", "Hola")}}
		n, err = r.ReclaimIfDue(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())
		Expect(claimer.stale).To(HaveLen(1))
	})

	It("runs stale entries on the lane worker before newer jobs", func() {
		var (
			mu     sync.Mutex
			tokens []string
			active int
			peak   int
		)
		consumer := &fakeConsumer{maxAttempts: 3}
		w := worker.NewIntakeWorker(consumer, handlerFunc(func(_ context.Context, job domain.Job) (service.IntakeResult, error) {
			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			tokens = append(tokens, job.Token)
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			return service.IntakeResult{}, nil
		}), observability.NewMetrics(), zap.NewNop())
		claimer := &fakeClaimer{stale: []queue.Message{{ID: "1-0", Job: textJob("wamid.30", "Hola"), Attempt: 1}}}
		w.WithReclaimer(worker.NewReclaimer(claimer, worker.ReclaimerConfig{MinIdle: time.Minute, Interval: time.Hour}, w.Process, zap.NewNop()))
		consumer.push(textJob("wamid.31", "1"))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- w.Run(ctx) }()

		Eventually(func() int {
			consumer.mu.Lock()
			defer consumer.mu.Unlock()
			return len(consumer.acked)
		}).Should(Equal(2))
		w.Stop()
		Eventually(done).Should(Receive(BeNil()))

		mu.Lock()
		defer mu.Unlock()
		Expect(tokens).To(Equal([]string{"wamid.30", "wamid.31"}))
		Expect(peak).To(Equal(1))
	})
})
