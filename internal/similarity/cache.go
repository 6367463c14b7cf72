// internal/similarity/cache.go
package similarity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ScoreStore persists scores between runs. Implementations must be safe for
// concurrent use.
type ScoreStore interface {
	Get(ctx context.Context, key string) (float64, bool, error)
	Put(ctx context.Context, key string, score float64) error
}

// CachingScorer memoizes another Scorer by text pair. Scores are symmetric,
// so (a, b) and (b, a) share an entry. An optional ScoreStore backs the
// in-memory map; store failures are logged and never fail a comparison.
type CachingScorer struct {
	next      Scorer
	store     ScoreStore
	namespace string
	logger    *zap.Logger

	mu    sync.RWMutex
	mem   map[string]float64
	group singleflight.Group
}

// NewCachingScorer wraps next. namespace separates scores produced by
// different providers or models inside one store; store may be nil.
func NewCachingScorer(next Scorer, store ScoreStore, namespace string, logger *zap.Logger) *CachingScorer {
	return &CachingScorer{
		next:      next,
		store:     store,
		namespace: namespace,
		logger:    logger.Named("score_cache"),
		mem:       make(map[string]float64),
	}
}

// PairKey derives the cache key for a text pair within a namespace.
func PairKey(namespace, a, b string) string {
	if b < a {
		a, b = b, a
	}
	h := sha256.New()
	h.Write([]byte(namespace))
	h.Write([]byte{0})
	h.Write([]byte(a))
	h.Write([]byte{0})
	h.Write([]byte(b))
	return hex.EncodeToString(h.Sum(nil))
}

// Score implements Scorer.
func (c *CachingScorer) Score(ctx context.Context, a, b string) (float64, error) {
	key := PairKey(c.namespace, a, b)

	c.mu.RLock()
	score, ok := c.mem[key]
	c.mu.RUnlock()
	if ok {
		return score, nil
	}

	// The shared computation outlives any one caller: it runs detached from
	// cancellation, and each caller waits on its own ctx. Provider scorers
	// bound their calls with their own timeout.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return c.compute(flightCtx, key, a, b)
	})
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return 0, r.Err
		}
		return r.Val.(float64), nil
	}
}

func (c *CachingScorer) compute(ctx context.Context, key, a, b string) (any, error) {
	c.mu.RLock()
	s, ok := c.mem[key]
	c.mu.RUnlock()
	if ok {
		return s, nil
	}
	if c.store != nil {
		if s, found, err := c.store.Get(ctx, key); err != nil {
			c.logger.Warn("Score store lookup failed", zap.Error(err))
		} else if found {
			c.remember(key, s)
			return s, nil
		}
	}
	s, err := c.next.Score(ctx, a, b)
	if err != nil {
		return 0.0, err
	}
	c.remember(key, s)
	if c.store != nil {
		if err := c.store.Put(ctx, key, s); err != nil {
			c.logger.Warn("Score store write failed", zap.Error(err))
		}
	}
	return s, nil
}

func (c *CachingScorer) remember(key string, score float64) {
	c.mu.Lock()
	c.mem[key] = score
	c.mu.Unlock()
}
