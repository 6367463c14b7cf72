// internal/alignment/alignment.go
package alignment

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tracecheck/api/schemas"
	"github.com/xkilldash9x/tracecheck/internal/config"
)

// StateMatcher decides whether a candidate state satisfies every enabled
// checkpoint of a ground-truth state. *matcher.Registry implements it.
type StateMatcher interface {
	MatchState(ctx context.Context, gt, cand *schemas.UIState) (bool, error)
	Enabled(k schemas.Keyword) bool
}

// Strategy aligns the essential states of a ground-truth trace with the
// states of an execution trace. Errors are reserved for artifacts that could
// not be read; a failed alignment is a Verdict with Passed unset.
type Strategy interface {
	Name() schemas.StrategyName
	Align(ctx context.Context, m StateMatcher, gt, exec *schemas.Trace) (*schemas.Verdict, error)
}

// New returns the strategy selected by cfg.
func New(cfg config.EvaluatorConfig, logger *zap.Logger) (Strategy, error) {
	switch cfg.Strategy {
	case config.StrategyGreedy:
		return NewGreedy(logger), nil
	case config.StrategyLCS:
		return NewLCS(logger, cfg.LCSParallelism, cfg.LCSPrune), nil
	default:
		return nil, fmt.Errorf("unknown or unsupported alignment strategy configured: '%s'. Supported: [%s, %s]",
			cfg.Strategy, config.StrategyGreedy, config.StrategyLCS)
	}
}

// buildVerdict records one CheckpointMatch per checkpoint. matched[i] is the
// candidate state index assigned to essential[i], or -1.
func buildVerdict(strategy schemas.StrategyName, m StateMatcher, essential []schemas.UIState, matched []int) *schemas.Verdict {
	v := &schemas.Verdict{Strategy: strategy, Required: len(essential)}
	firstMiss := -1
	for i := range essential {
		idx := matched[i]
		if idx >= 0 {
			v.Aligned++
		} else if firstMiss < 0 {
			firstMiss = i
		}
		for _, cp := range essential[i].Checkpoints {
			enabled := m.Enabled(cp.Keyword)
			v.Matches = append(v.Matches, schemas.CheckpointMatch{
				Checkpoint:     cp,
				Matched:        enabled && idx >= 0,
				Skipped:        !enabled,
				MatchedAgainst: idx,
			})
		}
	}
	v.Passed = firstMiss < 0
	if !v.Passed {
		v.Reason = schemas.ReasonStepCheckFailed
		v.Detail = fmt.Sprintf("no candidate state satisfies ground truth state %d (%s)",
			essential[firstMiss].Index, tokens(essential[firstMiss].Checkpoints))
	}
	return v
}

func tokens(cps []schemas.Checkpoint) string {
	out := make([]string, len(cps))
	for i, cp := range cps {
		out[i] = cp.Token()
	}
	return strings.Join(out, "|")
}

func unmatched(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = -1
	}
	return out
}
