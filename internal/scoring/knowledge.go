package scoring

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/openai/openai-go"
	"github.com/redis/go-redis/v9"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/spec-kit/intake-service/internal/domain"
)

// DefaultKnowledgeThreshold is the minimum similarity for a canned answer.
const DefaultKnowledgeThreshold = 0.60

// Embedder turns texts into embedding vectors, one per input.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// EmbeddingCache stores article embeddings between restarts.
type EmbeddingCache interface {
	Get(ctx context.Context, text string) ([]float64, bool)
	Set(ctx context.Context, text string, vector []float64) error
}

// KnowledgeMatcher finds the canned answer closest to a free-text question.
type KnowledgeMatcher struct {
	articles  []domain.KnowledgeArticle
	embedder  Embedder
	cache     EmbeddingCache
	threshold float64
	logger    *zap.Logger

	mu      sync.Mutex
	ready   bool
	vectors [][]float64
}

// NewKnowledgeMatcher builds a matcher. cache may be nil.
func NewKnowledgeMatcher(articles []domain.KnowledgeArticle, embedder Embedder, cache EmbeddingCache, threshold float64, logger *zap.Logger) *KnowledgeMatcher {
	if threshold <= 0 {
		threshold = DefaultKnowledgeThreshold
	}
	return &KnowledgeMatcher{
		articles:  articles,
		embedder:  embedder,
		cache:     cache,
		threshold: threshold,
		logger:    logger.Named("scoring.knowledge"),
	}
}

// LoadArticles reads the article file.
func LoadArticles(path string) ([]domain.KnowledgeArticle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge base: %w", err)
	}
	var doc struct {
		Articles []domain.KnowledgeArticle `yaml:"articles"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse knowledge base: %w", err)
	}
	for i, article := range doc.Articles {
		if article.Question == "" || article.Answer == "" {
			return nil, fmt.Errorf("knowledge article %d: question and answer are required", i)
		}
		if article.ID == "" {
			doc.Articles[i].ID = fmt.Sprintf("kb-%d", i+1)
		}
	}
	return doc.Articles, nil
}

// Warmup embeds every article question. It succeeds at most once; a failed
// attempt is retried by the next call.
func (m *KnowledgeMatcher) Warmup(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ready {
		return nil
	}
	if err := m.warm(ctx); err != nil {
		return err
	}
	m.ready = true
	return nil
}

func (m *KnowledgeMatcher) warm(ctx context.Context) error {
	if len(m.articles) == 0 {
		m.logger.Warn("knowledge base is empty")
		return nil
	}
	if m.embedder == nil {
		return errors.New("no embedder configured")
	}

	vectors := make([][]float64, len(m.articles))
	var missing []int
	for i, article := range m.articles {
		if m.cache != nil {
			if vec, ok := m.cache.Get(ctx, article.Question); ok {
				vectors[i] = vec
				continue
			}
		}
		missing = append(missing, i)
	}

	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for j, idx := range missing {
			texts[j] = m.articles[idx].Question
		}
		embedded, err := m.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed knowledge base: %w", err)
		}
		if len(embedded) != len(missing) {
			return fmt.Errorf("embed knowledge base: got %d vectors for %d questions", len(embedded), len(missing))
		}
		for j, idx := range missing {
			vectors[idx] = embedded[j]
			if m.cache != nil {
				if err := m.cache.Set(ctx, m.articles[idx].Question, embedded[j]); err != nil {
					m.logger.Warn("cache embedding", zap.String("article", m.articles[idx].ID), zap.Error(err))
				}
			}
		}
	}

	m.vectors = vectors
	m.logger.Info("knowledge base ready",
		zap.Int("articles", len(m.articles)),
		zap.Int("embedded", len(missing)))
	return nil
}

// Match returns the best article scoring above the threshold, or nil.
func (m *KnowledgeMatcher) Match(ctx context.Context, text string) (*domain.KnowledgeMatch, error) {
	if err := m.Warmup(ctx); err != nil {
		return nil, err
	}
	if len(m.vectors) == 0 {
		return nil, nil
	}

	embedded, err := m.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(embedded) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(embedded))
	}

	best, bestScore := -1, -1.0
	for i, vec := range m.vectors {
		score := CosineSimilarity(embedded[0], vec)
		if score > bestScore {
			best, bestScore = i, score
		}
	}

	m.logger.Debug("knowledge search",
		zap.String("best", m.articles[best].ID),
		zap.Float64("score", bestScore))

	if bestScore <= m.threshold {
		return nil, nil
	}
	return &domain.KnowledgeMatch{Article: m.articles[best], Score: bestScore}, nil
}

// OpenAIEmbedder computes embeddings with the embeddings endpoint.
type OpenAIEmbedder struct {
	client openai.Client
	model  string
}

// NewOpenAIEmbedder builds an embedder.
func NewOpenAIEmbedder(client openai.Client, model string) *OpenAIEmbedder {
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAIEmbedder{client: client, model: model}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	vectors := make([][]float64, len(texts))
	for _, item := range resp.Data {
		if int(item.Index) < len(vectors) {
			vectors[item.Index] = item.Embedding
		}
	}
	for i, vec := range vectors {
		if len(vec) == 0 {
			return nil, fmt.Errorf("openai embeddings: missing vector %d", i)
		}
	}
	return vectors, nil
}

// RedisEmbeddingCache keys vectors by a content hash of the embedded text.
type RedisEmbeddingCache struct {
	client *redis.Client
	model  string
}

// NewRedisEmbeddingCache builds a cache scoped to an embedding model.
func NewRedisEmbeddingCache(client *redis.Client, model string) *RedisEmbeddingCache {
	return &RedisEmbeddingCache{client: client, model: model}
}

func (c *RedisEmbeddingCache) key(text string) string {
	sum := blake3.Sum256([]byte(c.model + "\x00" + text))
	return "kb:emb:" + hex.EncodeToString(sum[:])
}

func (c *RedisEmbeddingCache) Get(ctx context.Context, text string) ([]float64, bool) {
	raw, err := c.client.Get(ctx, c.key(text)).Bytes()
	if err != nil {
		return nil, false
	}
	var vec []float64
	if err := json.Unmarshal(raw, &vec); err != nil || len(vec) == 0 {
		return nil, false
	}
	return vec, true
}

func (c *RedisEmbeddingCache) Set(ctx context.Context, text string, vector []float64) error {
	raw, err := json.Marshal(vector)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(text), raw, 0).Err()
}
