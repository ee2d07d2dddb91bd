package queue_test

import (
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/intake-service/internal/domain"
	"github.com/spec-kit/intake-service/internal/queue"
)

var _ = Describe("Stream messages", func() {
	// Stream values come back from Redis as strings.
	stringify := func(values map[string]any) map[string]any {
		out := make(map[string]any, len(values))
		for k, v := range values {
			switch typed := v.(type) {
			case string:
				out[k] = typed
			default:
				out[k] = fmt.Sprint(typed)
			}
		}
		return out
	}

	It("decodes what JobValues encodes", func() {
		received := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		job := domain.Job{
			ID:          42,
			Token:       "wamid.ABC",
			Address:     "5491100000000",
			DisplayName: "Ana",
			Kind:        domain.ContentAudio,
			RawKind:     "audio",
			MediaRef:    "media-1",
			ReceivedAt:  received,
		}

		msg, err := queue.ParseMessage(redis.XMessage{ID: "1-0", Values: stringify(queue.JobValues(job, 3))})
		Expect(err).NotTo(HaveOccurred())
		Expect(msg.ID).To(Equal("1-0"))
		Expect(msg.Attempt).To(Equal(3))
		Expect(msg.Job).To(Equal(job))
	})

	It("defaults the attempt to one", func() {
		msg, err := queue.ParseMessage(redis.XMessage{ID: "1-0", Values: map[string]any{
			"job_id": "7", "token": "t", "address": "a", "kind": "text", "text": "hola",
		}})
		Expect(err).NotTo(HaveOccurred())
		Expect(msg.Attempt).To(Equal(1))
		Expect(msg.Job.Text).To(Equal("hola"))
	})

	It("maps unknown kinds to other and keeps the raw kind", func() {
		msg, err := queue.ParseMessage(redis.XMessage{ID: "1-0", Values: map[string]any{
			"job_id": "7", "token": "t", "address": "a", "kind": "sticker",
		}})
		Expect(err).NotTo(HaveOccurred())
		Expect(msg.Job.Kind).To(Equal(domain.ContentOther))
		Expect(msg.Job.RawKind).To(Equal("sticker"))
	})

	DescribeTable("rejects malformed entries",
		func(values map[string]any) {
			_, err := queue.ParseMessage(redis.XMessage{ID: "1-0", Values: values})
			Expect(err).To(HaveOccurred())
		},
		Entry("missing job id", map[string]any{"token": "t", "address": "a", "kind": "text"}),
		Entry("non numeric job id", map[string]any{"job_id": "x", "token": "t", "address": "a", "kind": "text"}),
		Entry("empty token", map[string]any{"job_id": "1", "token": "", "address": "a", "kind": "text"}),
		Entry("missing address", map[string]any{"job_id": "1", "token": "t", "kind": "text"}),
		Entry("bad attempt", map[string]any{"job_id": "1", "token": "t", "address": "a", "kind": "text", "attempt": "two"}),
	)
})

var _ = Describe("SelectLane", func() {
	It("routes the same address to the same lane", func() {
		first := queue.SelectLane("5491122223333", 4)
		for i := 0; i < 10; i++ {
			Expect(queue.SelectLane("5491122223333", 4)).To(Equal(first))
		}
		Expect(first).To(BeNumerically(">=", 0))
		Expect(first).To(BeNumerically("<", 4))
	})

	It("spreads addresses over every lane", func() {
		used := map[int]bool{}
		for i := 0; i < 100; i++ {
			used[queue.SelectLane(fmt.Sprintf("54911%08d", i), 4)] = true
		}
		Expect(used).To(HaveLen(4))
	})

	It("falls back to lane zero without lanes", func() {
		Expect(queue.SelectLane("x", 0)).To(Equal(0))
	})

	It("names lane streams", func() {
		Expect(queue.StreamName("intake:jobs", 2)).To(Equal("intake:jobs:2"))
		Expect(queue.DedupKey("wamid.1")).To(Equal("intake:dedup:wamid.1"))
	})
})

var _ = Describe("RetryDelay", func() {
	It("grows with the attempt within jitter bounds", func() {
		base := 500 * time.Millisecond
		for i := 0; i < 50; i++ {
			Expect(queue.RetryDelay(base, 30*time.Second, 1)).To(BeNumerically("~", base, base/4+1))
			Expect(queue.RetryDelay(base, 30*time.Second, 3)).To(BeNumerically("~", 4*base, base+1))
		}
	})

	It("never exceeds the cap", func() {
		for i := 0; i < 50; i++ {
			Expect(queue.RetryDelay(time.Second, 30*time.Second, 20)).To(BeNumerically("<=", 30*time.Second))
		}
	})
})
