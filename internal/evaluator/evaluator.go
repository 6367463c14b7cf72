// internal/evaluator/evaluator.go
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tracecheck/api/schemas"
	"github.com/xkilldash9x/tracecheck/internal/alignment"
	"github.com/xkilldash9x/tracecheck/internal/config"
	"github.com/xkilldash9x/tracecheck/internal/hierarchy"
	"github.com/xkilldash9x/tracecheck/internal/matcher"
	"github.com/xkilldash9x/tracecheck/internal/metadata"
	"github.com/xkilldash9x/tracecheck/internal/similarity"
)

// -- Interfaces for Dependency Inversion --

// Sources loads the two traces of an episode. *trace.DatasetSource
// implements it.
type Sources interface {
	GroundTruth(ctx context.Context, meta schemas.EpisodeMetadata) (*schemas.Trace, error)
	Execution(ctx context.Context, meta schemas.EpisodeMetadata) (*schemas.Trace, error)
}

// Store persists a finished run.
type Store interface {
	SaveRun(ctx context.Context, run *schemas.RunSummary) error
}

// MatcherFactory builds the state matcher for one episode over that
// episode's artifact cache.
type MatcherFactory func(artifacts *hierarchy.Cache) (alignment.StateMatcher, error)

// Selection narrows a run to part of the dataset. Categories take priority
// over Episodes, which take priority over FirstN. The zero value selects
// every episode.
type Selection struct {
	Categories []schemas.TaskCategory
	Episodes   []string
	FirstN     int
}

// Evaluator runs episodes through the alignment engine on a bounded pool of
// workers. Episodes share nothing but read-only dependencies, so one
// episode's failure never affects another.
type Evaluator struct {
	cfg      *config.Config
	logger   *zap.Logger
	repo     metadata.Repository
	sources  Sources
	strategy alignment.Strategy
	matchers MatcherFactory
	store    Store
	now      func() time.Time
}

// Option is a function that configures an Evaluator.
type Option func(*Evaluator)

// WithStore persists every finished run to s.
func WithStore(s Store) Option {
	return func(e *Evaluator) { e.store = s }
}

// WithMatcherFactory replaces the default matcher registry. Used by tests to
// inject stubs.
func WithMatcherFactory(f MatcherFactory) Option {
	return func(e *Evaluator) { e.matchers = f }
}

// WithStrategy overrides the strategy selected by configuration.
func WithStrategy(s alignment.Strategy) Option {
	return func(e *Evaluator) { e.strategy = s }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// New creates an Evaluator. scorer is shared by every episode and must be
// safe for concurrent use.
func New(
	cfg *config.Config,
	logger *zap.Logger,
	repo metadata.Repository,
	sources Sources,
	scorer similarity.Scorer,
	opts ...Option,
) (*Evaluator, error) {
	e := &Evaluator{
		cfg:     cfg,
		logger:  logger.Named("evaluator"),
		repo:    repo,
		sources: sources,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.strategy == nil {
		s, err := alignment.New(cfg.Evaluator, logger)
		if err != nil {
			return nil, err
		}
		e.strategy = s
	}
	if e.matchers == nil {
		if scorer == nil {
			return nil, fmt.Errorf("evaluator requires a similarity scorer")
		}
		e.matchers = e.registryFactory(scorer)
	}
	return e, nil
}

func (e *Evaluator) registryFactory(scorer similarity.Scorer) MatcherFactory {
	geometry := similarity.Geometry{
		ScreenWidth:  float64(e.cfg.Dataset.ScreenWidth),
		ScreenHeight: float64(e.cfg.Dataset.ScreenHeight),
	}
	return func(artifacts *hierarchy.Cache) (alignment.StateMatcher, error) {
		return matcher.NewRegistry(matcher.Resources{
			Artifacts:  artifacts,
			Scorer:     scorer,
			Geometry:   geometry,
			Similarity: e.cfg.Similarity,
			Matchers:   e.cfg.Matchers,
			Logger:     e.logger,
		})
	}
}

// Select resolves a Selection to episode ids in evaluation order. Ids named
// in Episodes are kept even when unknown, so they are reported as
// EPISODE_NOT_FOUND rather than silently dropped.
func (e *Evaluator) Select(sel Selection) []string {
	var metas []schemas.EpisodeMetadata
	switch {
	case len(sel.Categories) > 0:
		for _, c := range sel.Categories {
			metas = append(metas, e.repo.EpisodesByCategory(c)...)
		}
	case len(sel.Episodes) > 0:
		return append([]string(nil), sel.Episodes...)
	case sel.FirstN > 0:
		metas = e.repo.AllEpisodes()
		if sel.FirstN < len(metas) {
			metas = metas[:sel.FirstN]
		}
	default:
		metas = e.repo.AllEpisodes()
	}
	out := make([]string, len(metas))
	for i, m := range metas {
		out[i] = m.Episode
	}
	return out
}

// Run evaluates the selected episodes. Results keep the selection order.
// Episodes not reached before ctx is done are reported as CANCELED.
func (e *Evaluator) Run(ctx context.Context, sel Selection) (*schemas.RunSummary, error) {
	episodes := e.Select(sel)
	run := &schemas.RunSummary{
		RunID:     uuid.NewString(),
		Agent:     e.cfg.Evaluator.Agent,
		Strategy:  e.strategy.Name(),
		StartedAt: e.now().UTC(),
		Results:   make([]schemas.EpisodeResult, len(episodes)),
	}
	logger := e.logger.With(zap.String("run_id", run.RunID))

	concurrency := e.cfg.Evaluator.Workers
	if concurrency <= 0 {
		concurrency = 4
	}
	logger.Info("Starting evaluation run",
		zap.Int("episodes", len(episodes)),
		zap.String("strategy", string(run.Strategy)),
		zap.Int("concurrency", concurrency))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go e.runWorker(ctx, &wg, jobs, episodes, run.Results)
	}

feed:
	for i := range episodes {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	for i := range run.Results {
		if run.Results[i].Episode == "" {
			run.Results[i] = schemas.EpisodeResult{
				Episode: episodes[i],
				Reason:  schemas.ReasonCanceled,
				Detail:  "run canceled before the episode started",
			}
		}
	}
	run.FinishedAt = e.now().UTC()

	stats := run.Stats()
	logger.Info("Evaluation run finished",
		zap.Int("total", stats.Total),
		zap.Int("passed", stats.Passed),
		zap.Int("failed", stats.Failed),
		zap.Duration("elapsed", run.FinishedAt.Sub(run.StartedAt)))

	if e.store != nil {
		// Persist even when ctx was canceled so partial runs are kept.
		persistCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.store.SaveRun(persistCtx, run); err != nil {
			return run, fmt.Errorf("failed to persist run %s: %w", run.RunID, err)
		}
		logger.Info("Run persisted.")
	}
	return run, ctx.Err()
}

func (e *Evaluator) runWorker(ctx context.Context, wg *sync.WaitGroup, jobs <-chan int, episodes []string, results []schemas.EpisodeResult) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case i, ok := <-jobs:
			if !ok {
				return
			}
			results[i] = e.EvaluateEpisode(ctx, episodes[i])
		}
	}
}

// EvaluateEpisode evaluates a single episode. It never returns an error:
// every failure is classified into the result's Reason.
func (e *Evaluator) EvaluateEpisode(ctx context.Context, episode string) (res schemas.EpisodeResult) {
	start := time.Now()
	logger := e.logger.With(zap.String("episode", episode))
	res.Episode = episode

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Episode evaluation panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			res.Passed = false
			res.Reason = schemas.ReasonInternalError
			res.Detail = fmt.Sprintf("panic: %v", r)
		}
		res.Duration = time.Since(start)
	}()

	meta, err := e.repo.Lookup(episode)
	if err != nil {
		return e.fail(logger, res, phaseLookup, err)
	}
	res.Category = meta.Category

	timeout := e.cfg.Evaluator.EpisodeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	epCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	gt, err := e.sources.GroundTruth(epCtx, meta)
	if err != nil {
		return e.fail(logger, res, phaseGroundTruth, err)
	}
	exec, err := e.sources.Execution(epCtx, meta)
	if err != nil {
		return e.fail(logger, res, phaseExecution, err)
	}

	// One cache per episode bounds memory to a single episode's artifacts.
	artifacts := hierarchy.NewCache(logger)
	if err := e.checkUIPositions(artifacts, gt); err != nil {
		return e.fail(logger, res, phaseAlignment, err)
	}
	m, err := e.matchers(artifacts)
	if err != nil {
		return e.fail(logger, res, phaseAlignment, err)
	}

	verdict, err := e.strategy.Align(epCtx, m, gt, exec)
	if err != nil {
		return e.fail(logger, res, phaseAlignment, err)
	}

	res.Passed = verdict.Passed
	res.Reason = verdict.Reason
	res.Detail = verdict.Detail
	res.Aligned = verdict.Aligned
	res.Required = verdict.Required
	res.MatchIndices = verdict.MatchIndices()
	if verdict.Passed {
		logger.Info("Episode passed.", zap.Ints("match_indices", res.MatchIndices))
	} else {
		logger.Info("Episode failed.", zap.String("reason", string(res.Reason)), zap.String("detail", res.Detail))
	}
	return res
}

// checkUIPositions requires every annotated ground-truth state to have a
// readable hierarchy with at least one interactable element.
func (e *Evaluator) checkUIPositions(artifacts *hierarchy.Cache, gt *schemas.Trace) error {
	w, h := float64(e.cfg.Dataset.ScreenWidth), float64(e.cfg.Dataset.ScreenHeight)
	for _, s := range gt.EssentialStates() {
		tree, err := artifacts.Tree(s.HierarchyRef)
		if err != nil {
			return fmt.Errorf("ground truth state %d: %w", s.Index, err)
		}
		if len(tree.UIPositions(w, h)) == 0 {
			return fmt.Errorf("%w: ground truth state %d has no UI positions", schemas.ErrHierarchyUnavailable, s.Index)
		}
	}
	return nil
}

func (e *Evaluator) fail(logger *zap.Logger, res schemas.EpisodeResult, p phase, err error) schemas.EpisodeResult {
	res.Passed = false
	res.Reason = classify(p, err)
	res.Detail = err.Error()

	switch res.Reason {
	case schemas.ReasonInternalError:
		logger.Error("Episode evaluation failed with unexpected error", zap.Error(err))
	case schemas.ReasonCorruptFixture:
		logger.Warn("Corrupt fixture.", zap.Error(err))
	case schemas.ReasonCanceled:
		logger.Warn("Episode evaluation canceled.", zap.Error(err))
	default:
		logger.Info("Episode failed.", zap.String("reason", string(res.Reason)), zap.Error(err))
	}
	return res
}

type phase int

const (
	phaseLookup phase = iota
	phaseGroundTruth
	phaseExecution
	phaseAlignment
)

// classify maps an evaluation error to a FailureReason. A missing trace is
// reported by which trace was being loaded.
func classify(p phase, err error) schemas.FailureReason {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return schemas.ReasonCanceled
	case errors.Is(err, schemas.ErrEpisodeNotFound):
		return schemas.ReasonEpisodeNotFound
	case errors.Is(err, schemas.ErrTraceNotFound):
		if p == phaseExecution {
			return schemas.ReasonExecutionNotFound
		}
		return schemas.ReasonGroundTruthNotFound
	case errors.Is(err, schemas.ErrHierarchyUnavailable):
		return schemas.ReasonUIPositionsNotFound
	case errors.Is(err, schemas.ErrCorruptFixture):
		return schemas.ReasonCorruptFixture
	default:
		return schemas.ReasonInternalError
	}
}
