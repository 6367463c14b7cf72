// internal/similarity/factory.go
package similarity

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/tracecheck/internal/config"
)

// NewScorer creates the configured Scorer wrapped in a CachingScorer. store
// may be nil, in which case scores are only memoized for the process.
func NewScorer(ctx context.Context, cfg config.ScorerConfig, store ScoreStore, logger *zap.Logger) (Scorer, error) {
	var (
		base      Scorer
		namespace string
	)
	switch cfg.Provider {
	case config.ProviderToken:
		base, namespace = TokenCosineScorer{}, config.ProviderToken
	case config.ProviderGemini:
		embedder, err := NewGeminiEmbedder(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
		base = NewEmbeddingScorer(embedder, limiter, logger)
		namespace = config.ProviderGemini + ":" + cfg.Model
	default:
		return nil, fmt.Errorf("unknown or unsupported scorer provider configured: '%s'. Supported: [%s, %s]",
			cfg.Provider, config.ProviderToken, config.ProviderGemini)
	}
	return NewCachingScorer(base, store, namespace, logger), nil
}
