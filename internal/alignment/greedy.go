// internal/alignment/greedy.go
package alignment

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tracecheck/api/schemas"
)

// Greedy scans the execution trace once. Each essential state takes the
// first candidate at or after the cursor that satisfies it, and the cursor
// moves just past that candidate. This is the canonical strategy.
type Greedy struct {
	logger *zap.Logger
}

// NewGreedy creates a Greedy strategy.
func NewGreedy(logger *zap.Logger) *Greedy {
	return &Greedy{logger: logger.Named("greedy")}
}

func (g *Greedy) Name() schemas.StrategyName { return schemas.StrategyGreedy }

func (g *Greedy) Align(ctx context.Context, m StateMatcher, gt, exec *schemas.Trace) (*schemas.Verdict, error) {
	essential := gt.EssentialStates()
	matched := unmatched(len(essential))

	cursor := 0
	for i := range essential {
		found := false
		for ; cursor < len(exec.States); cursor++ {
			ok, err := m.MatchState(ctx, &essential[i], &exec.States[cursor])
			if err != nil {
				return nil, err
			}
			if ok {
				matched[i] = exec.States[cursor].Index
				g.logger.Debug("Essential state matched.",
					zap.String("episode", gt.Episode),
					zap.Int("gt_index", essential[i].Index),
					zap.Int("candidate_index", exec.States[cursor].Index))
				cursor++
				found = true
				break
			}
		}
		if !found {
			// The cursor never moves back, so nothing later can match either.
			break
		}
	}
	return buildVerdict(schemas.StrategyGreedy, m, essential, matched), nil
}
