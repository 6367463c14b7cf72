// internal/similarity/embedding.go
package similarity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/xkilldash9x/tracecheck/internal/config"
)

// Embedder turns texts into embedding vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// GeminiEmbedder embeds texts with the Gemini embedding API.
type GeminiEmbedder struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewGeminiEmbedder initializes the client.
func NewGeminiEmbedder(ctx context.Context, cfg config.ScorerConfig, logger *zap.Logger) (*GeminiEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required for the gemini scorer")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiEmbedder{
		client:  client,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  logger.Named("similarity.gemini"),
	}, nil
}

// Embed implements Embedder.
func (g *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	var contents []*genai.Content
	for _, t := range texts {
		contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
	}

	start := time.Now()
	resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, &genai.EmbedContentConfig{
		TaskType: "SEMANTIC_SIMILARITY",
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embedding request failed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	g.logger.Debug("Embedding complete", zap.Int("texts", len(texts)), zap.Duration("duration", time.Since(start)))
	return out, nil
}

// EmbeddingScorer scores text pairs by the cosine similarity of their
// embeddings. Requests are rate limited and transient failures retried.
type EmbeddingScorer struct {
	embedder   Embedder
	limiter    *rate.Limiter
	newBackOff func() backoff.BackOff
	maxRetries uint64
	logger     *zap.Logger
}

// EmbeddingOption configures an EmbeddingScorer.
type EmbeddingOption func(*EmbeddingScorer)

// WithBackOff replaces the retry schedule.
func WithBackOff(fn func() backoff.BackOff) EmbeddingOption {
	return func(s *EmbeddingScorer) { s.newBackOff = fn }
}

// WithMaxRetries bounds the number of retries per comparison.
func WithMaxRetries(n uint64) EmbeddingOption {
	return func(s *EmbeddingScorer) { s.maxRetries = n }
}

// NewEmbeddingScorer creates an EmbeddingScorer. A nil limiter disables rate
// limiting.
func NewEmbeddingScorer(e Embedder, limiter *rate.Limiter, logger *zap.Logger, opts ...EmbeddingOption) *EmbeddingScorer {
	s := &EmbeddingScorer{
		embedder: e,
		limiter:  limiter,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 2 * time.Minute
			b.MaxInterval = 30 * time.Second
			return b
		},
		maxRetries: 3,
		logger:     logger.Named("similarity.embedding"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score implements Scorer.
func (s *EmbeddingScorer) Score(ctx context.Context, a, b string) (float64, error) {
	if a == b {
		return 1, nil
	}

	var vectors [][]float32
	operation := func() error {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		v, err := s.embedder.Embed(ctx, []string{a, b})
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return backoff.Permanent(err)
			}
			s.logger.Warn("Embedding request failed, retrying...", zap.Error(err))
			return err
		}
		if len(v) != 2 {
			return backoff.Permanent(fmt.Errorf("embedder returned %d vectors for 2 texts", len(v)))
		}
		vectors = v
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), s.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return 0, fmt.Errorf("embedding similarity: %w", err)
	}
	return CosineFloat32(vectors[0], vectors[1]), nil
}
