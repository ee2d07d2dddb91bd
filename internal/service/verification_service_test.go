package service_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/spec-kit/intake-service/internal/auth"
	"github.com/spec-kit/intake-service/internal/domain"
	"github.com/spec-kit/intake-service/internal/events"
	"github.com/spec-kit/intake-service/internal/repository/repositorytest"
	"github.com/spec-kit/intake-service/internal/service"
	apperrors "github.com/spec-kit/intake-service/pkg/util/errorutil"
)

var _ = Describe("VerificationService", func() {
	var (
		ctx        context.Context
		store      *repositorytest.Store
		dispatcher events.Dispatcher
		rec        *recorder
		tokens     *fakeTokens
		svc        *service.VerificationService
		identity   domain.Identity
		maria      domain.Account
		jorge      domain.Account
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = repositorytest.NewStore()
		dispatcher = events.NewInMemoryDispatcher()
		rec = newRecorder(dispatcher, events.EventIdentityLinked, events.EventOutboundMessage)

		maria = domain.Account{ID: "acc-maria", Name: "María Gómez", Email: "maria@cge.example", NationalID: "20111222", Role: domain.AccountRoleUser}
		jorge = domain.Account{ID: "acc-jorge", Name: "Jorge Díaz", Email: "jorge@cge.example", NationalID: "20333444", Role: domain.AccountRoleUser}
		store.PutAccount(maria)
		store.PutAccount(jorge)

		guest := domain.NewGuestIdentity(sender, "Ana")
		guest.State = domain.DialogAwaitVerification
		guest.Scratch = domain.Scratch{TargetAccountID: maria.ID}
		identity = store.PutIdentity(*guest)

		tokens = &fakeTokens{links: map[string]domain.VerificationLink{
			"for-maria": {Address: sender, IdentityID: identity.ID, TargetAccountID: maria.ID, ExpiresAt: time.Now().Add(time.Hour)},
		}}
		svc = service.NewVerificationService(service.VerificationDependencies{
			Stores:     store,
			Tx:         store,
			Tokens:     tokens,
			Dispatcher: dispatcher,
		})
	})

	principal := func(account domain.Account) auth.Principal {
		return auth.Principal{Account: &account}
	}

	It("links the identity to the target account", func() {
		linked, err := svc.Redeem(ctx, principal(maria), "for-maria")
		Expect(err).NotTo(HaveOccurred())
		Expect(linked.AccountID).To(Equal(ptr(maria.ID)))
		Expect(linked.Capability).To(Equal(domain.CapabilityStandard))
		Expect(linked.State).To(Equal(domain.DialogAwaitTopic))
		Expect(linked.Scratch.IsEmpty()).To(BeTrue())

		stored, _ := store.Identity(sender)
		Expect(stored.AccountID).To(Equal(ptr(maria.ID)))

		account, err := store.Accounts().GetByID(ctx, maria.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(account.HasPhone(sender)).To(BeTrue())

		Expect(rec.ofType(events.EventIdentityLinked)).To(HaveLen(1))
		outbound := rec.ofType(events.EventOutboundMessage)
		Expect(outbound).To(HaveLen(1))
		Expect(outbound[0].Payload.(events.OutboundMessagePayload).Body).To(ContainSubstring("María Gómez"))
	})

	It("rejects a link redeemed by another account without changing anything", func() {
		_, err := svc.Redeem(ctx, principal(jorge), "for-maria")
		Expect(err).To(HaveOccurred())

		domainErr := apperrors.ToDomainError(err)
		Expect(domainErr.Code).To(Equal("VERIFICATION_MISMATCH"))
		Expect(domainErr.HTTPStatus).To(Equal(403))
		Expect(domainErr.Details).To(HaveKeyWithValue("expected", "María Gómez"))
		Expect(domainErr.Details).To(HaveKeyWithValue("actual", "Jorge Díaz"))

		stored, _ := store.Identity(sender)
		Expect(stored.IsLinked()).To(BeFalse())
		Expect(stored.State).To(Equal(domain.DialogAwaitVerification))
		account, _ := store.Accounts().GetByID(ctx, jorge.ID)
		Expect(account.Phone).To(BeNil())
		Expect(rec.ofType(events.EventIdentityLinked)).To(BeEmpty())
	})

	It("is idempotent for an already linked identity", func() {
		_, err := svc.Redeem(ctx, principal(maria), "for-maria")
		Expect(err).NotTo(HaveOccurred())
		_, err = svc.Redeem(ctx, principal(maria), "for-maria")
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.ofType(events.EventIdentityLinked)).To(HaveLen(1))
	})

	It("links without touching a dialog that moved on", func() {
		moved := identity
		moved.State = domain.DialogAwaitDescription
		moved.Scratch = domain.Scratch{Topic: domain.TopicHaberes}
		store.PutIdentity(moved)

		linked, err := svc.Redeem(ctx, principal(maria), "for-maria")
		Expect(err).NotTo(HaveOccurred())
		Expect(linked.AccountID).To(Equal(ptr(maria.ID)))

		stored, _ := store.Identity(sender)
		Expect(stored.AccountID).To(Equal(ptr(maria.ID)))
		Expect(stored.State).To(Equal(domain.DialogAwaitDescription))
		Expect(stored.Scratch.Topic).To(Equal(domain.TopicHaberes))
		Expect(rec.ofType(events.EventIdentityLinked)).To(HaveLen(1))
		Expect(rec.ofType(events.EventOutboundMessage)).To(BeEmpty())
	})

	It("keeps the dialog when it waits for another account's link", func() {
		waiting := identity
		waiting.Scratch = domain.Scratch{TargetAccountID: jorge.ID}
		store.PutIdentity(waiting)

		_, err := svc.Redeem(ctx, principal(maria), "for-maria")
		Expect(err).NotTo(HaveOccurred())

		stored, _ := store.Identity(sender)
		Expect(stored.AccountID).To(Equal(ptr(maria.ID)))
		Expect(stored.State).To(Equal(domain.DialogAwaitVerification))
		Expect(stored.Scratch.TargetAccountID).To(Equal(jorge.ID))
	})

	It("rejects unreadable tokens", func() {
		_, err := svc.Redeem(ctx, principal(maria), "garbage")
		Expect(apperrors.ToDomainError(err).Code).To(Equal("VALIDATION_FAILED"))
	})

	It("reports a conflict when the phone belongs to another account", func() {
		jorge.Phone = ptr(sender)
		store.PutAccount(jorge)

		_, err := svc.Redeem(ctx, principal(maria), "for-maria")
		Expect(apperrors.ToDomainError(err).Code).To(Equal("CONFLICT"))
		stored, _ := store.Identity(sender)
		Expect(stored.IsLinked()).To(BeFalse())
	})

	It("requires an authenticated account", func() {
		_, err := svc.Redeem(ctx, auth.Principal{}, "for-maria")
		Expect(apperrors.ToDomainError(err).Code).To(Equal("UNAUTHORIZED"))
	})
})
