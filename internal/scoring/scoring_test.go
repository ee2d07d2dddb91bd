package scoring_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/spec-kit/intake-service/internal/domain"
	"github.com/spec-kit/intake-service/internal/scoring"
)

var _ = Describe("CosineSimilarity", func() {
	It("is one for parallel vectors and zero for orthogonal ones", func() {
		Expect(scoring.CosineSimilarity([]float64{1, 2}, []float64{2, 4})).To(BeNumerically("~", 1, 1e-9))
		Expect(scoring.CosineSimilarity([]float64{1, 0}, []float64{0, 1})).To(BeNumerically("~", 0, 1e-9))
	})

	It("is zero for mismatched or empty vectors", func() {
		Expect(scoring.CosineSimilarity([]float64{1}, []float64{1, 2})).To(BeZero())
		Expect(scoring.CosineSimilarity([]float64{0, 0}, []float64{1, 2})).To(BeZero())
	})
})

var _ = Describe("KnowledgeMatcher", func() {
	var (
		ctx      context.Context
		embedder *fakeEmbedder
		articles []domain.KnowledgeArticle
	)

	BeforeEach(func() {
		ctx = context.Background()
		articles = []domain.KnowledgeArticle{
			{ID: "recibo", Question: "¿Cómo descargo mi recibo de sueldo?", Answer: "Ingresá al portal."},
			{ID: "viaticos", Question: "¿Cuándo se pagan los viáticos?", Answer: "Los viernes."},
		}
		embedder = &fakeEmbedder{vectors: map[string][]float64{
			articles[0].Question:        {1, 0, 0},
			articles[1].Question:        {0, 1, 0},
			"no encuentro mi recibo":    {0.9, 0.1, 0},
			"algo totalmente diferente": {0.5, 0.5, 0.7},
			"justo en el umbral":        {3, 0, 4},
		}}
	})

	It("returns the closest article above the threshold", func() {
		matcher := scoring.NewKnowledgeMatcher(articles, embedder, nil, 0.60, zap.NewNop())
		match, err := matcher.Match(ctx, "no encuentro mi recibo")
		Expect(err).NotTo(HaveOccurred())
		Expect(match).NotTo(BeNil())
		Expect(match.Article.ID).To(Equal("recibo"))
		Expect(match.Score).To(BeNumerically(">", 0.9))
	})

	It("returns nothing at or below the threshold", func() {
		matcher := scoring.NewKnowledgeMatcher(articles, embedder, nil, 0.60, zap.NewNop())
		match, err := matcher.Match(ctx, "algo totalmente diferente")
		Expect(err).NotTo(HaveOccurred())
		Expect(match).To(BeNil())

		match, err = matcher.Match(ctx, "justo en el umbral")
		Expect(err).NotTo(HaveOccurred())
		Expect(match).To(BeNil())
	})

	It("embeds articles once and reuses cached vectors", func() {
		cache := &memoryCache{entries: map[string][]float64{articles[0].Question: {1, 0, 0}}}
		matcher := scoring.NewKnowledgeMatcher(articles, embedder, cache, 0.60, zap.NewNop())

		Expect(matcher.Warmup(ctx)).To(Succeed())
		Expect(matcher.Warmup(ctx)).To(Succeed())
		Expect(embedder.calls).To(Equal(1))
		Expect(cache.entries).To(HaveKey(articles[1].Question))
	})

	It("surfaces embedding failures", func() {
		embedder.err = errors.New("quota")
		matcher := scoring.NewKnowledgeMatcher(articles, embedder, nil, 0.60, zap.NewNop())
		_, err := matcher.Match(ctx, "no encuentro mi recibo")
		Expect(err).To(MatchError(ContainSubstring("quota")))
	})

	It("retries warmup after a transient failure", func() {
		embedder.failures = 1
		matcher := scoring.NewKnowledgeMatcher(articles, embedder, nil, 0.60, zap.NewNop())

		_, err := matcher.Match(ctx, "no encuentro mi recibo")
		Expect(err).To(MatchError(ContainSubstring("transient 503")))

		match, err := matcher.Match(ctx, "no encuentro mi recibo")
		Expect(err).NotTo(HaveOccurred())
		Expect(match).NotTo(BeNil())
		Expect(match.Article.ID).To(Equal("recibo"))

		_, err = matcher.Match(ctx, "no encuentro mi recibo")
		Expect(err).NotTo(HaveOccurred())
		Expect(embedder.calls).To(Equal(4))
	})

	It("loads articles from YAML", func() {
		path := filepath.Join(GinkgoT().TempDir(), "kb.yaml")
		Expect(os.WriteFile(path, []byte(`
articles:
  - question: "¿Dónde veo mi recibo?"
    answer: "En el portal."
    topic: Haberes
`), 0o600)).To(Succeed())

		loaded, err := scoring.LoadArticles(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded).To(HaveLen(1))
		Expect(loaded[0].ID).To(Equal("kb-1"))
		Expect(loaded[0].Topic).To(Equal(domain.TopicHaberes))
	})
})

var _ = Describe("TopicClassifier", func() {
	ctx := context.Background()

	It("uses the model's queue when confident", func() {
		chat := &fakeChat{reply: `{"queue":"TESORERIA","confidence":0.8}`}
		classifier := scoring.NewTopicClassifier(chat, 0.20, zap.NewNop())
		Expect(classifier.Classify(ctx, "no me llegó la transferencia")).To(Equal(domain.QueueTesoreria))
	})

	It("returns UNCLASSIFIED below the confidence threshold", func() {
		chat := &fakeChat{reply: `{"queue":"SAF","confidence":0.19}`}
		classifier := scoring.NewTopicClassifier(chat, 0.20, zap.NewNop())
		Expect(classifier.Classify(ctx, "consulta")).To(Equal(domain.QueueUnclassified))
	})

	It("rejects labels outside the closed set", func() {
		chat := &fakeChat{reply: `{"queue":"OTHER","confidence":0.9}`}
		classifier := scoring.NewTopicClassifier(chat, 0.20, zap.NewNop())
		Expect(classifier.Classify(ctx, "consulta")).To(Equal(domain.QueueUnclassified))
	})

	It("falls back to keywords when the model fails", func() {
		chat := &fakeChat{err: errors.New("timeout")}
		classifier := scoring.NewTopicClassifier(chat, 0.20, zap.NewNop())
		Expect(classifier.Classify(ctx, "La impresora no imprime")).To(Equal(domain.QueueSistemas))
		Expect(chat.calls).To(Equal(1))
	})

	It("matches keywords without accents", func() {
		Expect(scoring.KeywordQueue("Tengo un problema con mi LIQUIDACIÓN")).To(Equal(domain.QueueHaberes))
		Expect(scoring.KeywordQueue("hola")).To(Equal(domain.QueueUnclassified))
	})
})

var _ = Describe("MediaResolver", func() {
	ctx := context.Background()

	It("passes text through", func() {
		resolver := scoring.NewMediaResolver(&fakeFetcher{}, nil, zap.NewNop())
		Expect(resolver.Resolve(ctx, domain.Job{Kind: domain.ContentText, Text: "hola"})).To(Equal("hola"))
	})

	It("quotes audio transcripts", func() {
		fetcher := &fakeFetcher{media: &scoring.Media{URL: "u", Data: []byte{1}}}
		resolver := scoring.NewMediaResolver(fetcher, &fakeTranscriber{text: " no cobré "}, zap.NewNop())
		Expect(resolver.Resolve(ctx, domain.Job{Kind: domain.ContentAudio, MediaRef: "m"})).To(Equal(`🎤 "no cobré"`))
	})

	It("marks failed audio", func() {
		resolver := scoring.NewMediaResolver(&fakeFetcher{err: errors.New("404")}, &fakeTranscriber{}, zap.NewNop())
		Expect(resolver.Resolve(ctx, domain.Job{Kind: domain.ContentAudio, MediaRef: "m"})).To(Equal(scoring.MarkerAudioFailed))

		fetcher := &fakeFetcher{media: &scoring.Media{URL: "u", Data: []byte{1}}}
		resolver = scoring.NewMediaResolver(fetcher, &fakeTranscriber{err: errors.New("bad")}, zap.NewNop())
		Expect(resolver.Resolve(ctx, domain.Job{Kind: domain.ContentAudio, MediaRef: "m"})).To(Equal(scoring.MarkerAudioFailed))
	})

	It("links images and documents or marks failures", func() {
		fetcher := &fakeFetcher{media: &scoring.Media{URL: "https://cdn/x.jpg"}}
		resolver := scoring.NewMediaResolver(fetcher, nil, zap.NewNop())
		Expect(resolver.Resolve(ctx, domain.Job{Kind: domain.ContentImage, MediaRef: "m"})).To(Equal("[MEDIA_URL]: https://cdn/x.jpg"))

		resolver = scoring.NewMediaResolver(&fakeFetcher{err: errors.New("x")}, nil, zap.NewNop())
		Expect(resolver.Resolve(ctx, domain.Job{Kind: domain.ContentDocument, MediaRef: "m"})).To(Equal(scoring.MarkerMediaFailed))
	})

	It("labels unsupported kinds", func() {
		resolver := scoring.NewMediaResolver(&fakeFetcher{}, nil, zap.NewNop())
		Expect(resolver.Resolve(ctx, domain.Job{Kind: domain.ContentOther, RawKind: "sticker"})).To(Equal("[ARCHIVO: sticker]"))
	})
})
