// internal/matcher/registry.go
package matcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tracecheck/api/schemas"
)

// ErrNoMatcher is returned when a checkpoint keyword has no registered matcher.
var ErrNoMatcher = errors.New("no matcher registered")

// Group is a set of keywords enabled or disabled together.
type Group string

const (
	GroupFuzzy       Group = "fuzzy"
	GroupExact       Group = "exact"
	GroupSystemState Group = "system_state"
	GroupImage       Group = "image"
)

// GroupOf returns the group a keyword belongs to.
func GroupOf(k schemas.Keyword) (Group, error) {
	switch k {
	case schemas.KeywordFuzzy:
		return GroupFuzzy, nil
	case schemas.KeywordTextbox, schemas.KeywordClick, schemas.KeywordType, schemas.KeywordActivity, schemas.KeywordButton:
		return GroupExact, nil
	case schemas.KeywordCheckInstall, schemas.KeywordCheckUninstall:
		return GroupSystemState, nil
	case schemas.KeywordImage:
		return GroupImage, nil
	}
	return "", fmt.Errorf("%w: keyword %s has no group", ErrNoMatcher, k)
}

// Registry dispatches checkpoints to the matcher for their keyword. A
// Registry holds the artifact cache of one episode and is not shared between
// episodes.
type Registry struct {
	res      *Resources
	logger   *zap.Logger
	matchers map[schemas.Keyword]Matcher
	enabled  map[Group]bool
}

// Option is a function that configures a Registry.
type Option func(*Registry)

// WithMatchers replaces the default matchers. Used by tests to inject stubs.
func WithMatchers(matchers map[schemas.Keyword]Matcher) Option {
	return func(r *Registry) {
		r.matchers = matchers
	}
}

// NewRegistry builds a Registry over res. Group enablement comes from
// res.Matchers.
func NewRegistry(res Resources, opts ...Option) (*Registry, error) {
	if res.Logger == nil {
		res.Logger = zap.NewNop()
	}
	r := &Registry{
		res:      &res,
		logger:   res.Logger.Named("matcher"),
		matchers: make(map[schemas.Keyword]Matcher),
		enabled: map[Group]bool{
			GroupFuzzy:       res.Matchers.Fuzzy,
			GroupExact:       res.Matchers.Exact,
			GroupSystemState: res.Matchers.SystemState,
			GroupImage:       res.Matchers.Image,
		},
	}
	for _, opt := range opts {
		opt(r)
	}

	if len(r.matchers) == 0 {
		if res.Artifacts == nil || res.Scorer == nil {
			return nil, fmt.Errorf("matcher registry requires an artifact cache and a scorer")
		}
		r.registerMatchers()
	}
	return r, nil
}

func (r *Registry) registerMatchers() {
	r.matchers[schemas.KeywordFuzzy] = NewFuzzyMatcher(r.res)
	r.matchers[schemas.KeywordTextbox] = NewTextboxMatcher(r.res)
	r.matchers[schemas.KeywordClick] = NewClickMatcher(r.res)
	r.matchers[schemas.KeywordType] = TypeMatcher{}
	r.matchers[schemas.KeywordActivity] = NewActivityMatcher(r.res)
	r.matchers[schemas.KeywordButton] = NewButtonMatcher(r.res)
	r.matchers[schemas.KeywordCheckInstall] = NewInstallMatcher(r.res)
	r.matchers[schemas.KeywordCheckUninstall] = NewUninstallMatcher(r.res)
	r.matchers[schemas.KeywordImage] = NewImageMatcher(r.res)

	r.logger.Debug("Default matchers registered", zap.Int("count", len(r.matchers)))
}

// Enabled reports whether checkpoints with keyword k are evaluated. Keywords
// of a disabled group are reported as skipped and never block a state.
func (r *Registry) Enabled(k schemas.Keyword) bool {
	g, err := GroupOf(k)
	return err == nil && r.enabled[g]
}

// Match evaluates one checkpoint. skipped is set when its group is disabled.
func (r *Registry) Match(ctx context.Context, gt, cand *schemas.UIState, cp schemas.Checkpoint) (matched, skipped bool, err error) {
	if _, err := GroupOf(cp.Keyword); err != nil {
		return false, false, err
	}
	if !r.Enabled(cp.Keyword) {
		return false, true, nil
	}
	m, ok := r.matchers[cp.Keyword]
	if !ok {
		return false, false, fmt.Errorf("%w for keyword %s", ErrNoMatcher, cp.Keyword)
	}
	matched, err = m.Match(ctx, gt, cand, cp)
	if err != nil {
		return false, false, fmt.Errorf("%s %s against candidate state %d: %w", m.Name(), cp, cand.Index, err)
	}
	return matched, false, nil
}

// MatchState reports whether cand satisfies every enabled checkpoint of gt.
// Evaluation stops at the first checkpoint that does not match.
func (r *Registry) MatchState(ctx context.Context, gt, cand *schemas.UIState) (bool, error) {
	for _, cp := range gt.Checkpoints {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		matched, skipped, err := r.Match(ctx, gt, cand, cp)
		if err != nil {
			return false, err
		}
		if !skipped && !matched {
			return false, nil
		}
	}
	return true, nil
}
