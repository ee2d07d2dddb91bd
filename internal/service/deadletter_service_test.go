package service_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/spec-kit/intake-service/internal/domain"
	"github.com/spec-kit/intake-service/internal/queue"
	"github.com/spec-kit/intake-service/internal/service"
	apperrors "github.com/spec-kit/intake-service/pkg/util/errorutil"
)

var _ = Describe("DeadLetterService", func() {
	var (
		store *fakeDeadLetters
		svc   *service.DeadLetterService
	)

	BeforeEach(func() {
		store = &fakeDeadLetters{letters: []queue.DeadLetter{{
			ID:           "1700000000000-0",
			Message:      queue.Message{Job: domain.Job{Token: "wamid.dead", Address: sender}},
			Error:        "persist: connection refused",
			SourceStream: "intake:jobs:2",
		}}}
		svc = service.NewDeadLetterService(store, zap.NewNop())
	})

	It("clamps the listing limit", func() {
		letters, err := svc.List(context.Background(), 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(letters).To(HaveLen(1))
		Expect(store.limit).To(BeEquivalentTo(50))

		_, err = svc.List(context.Background(), 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(store.limit).To(BeEquivalentTo(10))
	})

	It("replays a known entry", func() {
		letter, err := svc.Replay(context.Background(), "1700000000000-0")
		Expect(err).NotTo(HaveOccurred())
		Expect(letter.Message.Job.Token).To(Equal("wamid.dead"))
		Expect(store.replayed).To(ConsistOf("1700000000000-0"))
	})

	It("reports unknown entries as not found", func() {
		_, err := svc.Replay(context.Background(), "missing")
		Expect(apperrors.ToDomainError(err).Code).To(Equal("NOT_FOUND"))
	})
})
