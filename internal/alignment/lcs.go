// internal/alignment/lcs.go
package alignment

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/tracecheck/api/schemas"
)

// LCS is the alternate strategy. It fills the longest-common-subsequence
// table f[i][j] over essential states (rows) and candidate states
// (columns) and passes when f[n][m] == n. The matcher calls of one row are
// independent and run concurrently, bounded by parallelism.
//
// With prune set, cells that cannot belong to a complete alignment are not
// checked and the table stops at the first row that can no longer reach a
// full match. The verdict is unchanged; Aligned may be lower than the
// unpruned table would report.
type LCS struct {
	logger      *zap.Logger
	parallelism int
	prune       bool
}

// NewLCS creates an LCS strategy.
func NewLCS(logger *zap.Logger, parallelism int, prune bool) *LCS {
	if parallelism < 1 {
		parallelism = 1
	}
	return &LCS{logger: logger.Named("lcs"), parallelism: parallelism, prune: prune}
}

func (l *LCS) Name() schemas.StrategyName { return schemas.StrategyLCS }

func (l *LCS) Align(ctx context.Context, m StateMatcher, gt, exec *schemas.Trace) (*schemas.Verdict, error) {
	essential := gt.EssentialStates()
	n, cols := len(essential), len(exec.States)

	f := make([][]int, n+1)
	hit := make([][]bool, n+1)
	for i := range f {
		f[i] = make([]int, cols+1)
		hit[i] = make([]bool, cols+1)
	}

	rows := n
	for i := 1; i <= n; i++ {
		lo, hi := 1, cols
		if l.prune {
			// Row i of a complete alignment needs i-1 states before it and
			// n-i after it.
			lo, hi = i, cols-(n-i)
		}
		if err := l.scanRow(ctx, m, &essential[i-1], exec, hit[i], lo, hi); err != nil {
			return nil, err
		}
		for j := 1; j <= cols; j++ {
			best := max(f[i-1][j], f[i][j-1])
			if hit[i][j] {
				best = max(best, f[i-1][j-1]+1)
			}
			f[i][j] = best
		}
		if l.prune && f[i][cols] < i {
			l.logger.Debug("Alignment cannot complete, stopping early.",
				zap.String("episode", gt.Episode), zap.Int("row", i), zap.Int("rows", n))
			rows = i
			break
		}
	}

	matched := unmatched(n)
	for i, j := rows, cols; i > 0 && j > 0; {
		switch {
		case hit[i][j] && f[i][j] == f[i-1][j-1]+1:
			matched[i-1] = exec.States[j-1].Index
			i, j = i-1, j-1
		case f[i-1][j] >= f[i][j-1]:
			i--
		default:
			j--
		}
	}

	v := buildVerdict(schemas.StrategyLCS, m, essential, matched)
	l.logger.Debug("LCS table filled.",
		zap.String("episode", gt.Episode), zap.Int("score", f[rows][cols]), zap.Int("required", n), zap.Bool("passed", v.Passed))
	return v, nil
}

// scanRow evaluates one essential state against candidates lo..hi (1-based).
func (l *LCS) scanRow(ctx context.Context, m StateMatcher, state *schemas.UIState, exec *schemas.Trace, row []bool, lo, hi int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.parallelism)
	for j := lo; j <= hi; j++ {
		g.Go(func() error {
			ok, err := m.MatchState(gctx, state, &exec.States[j-1])
			if err != nil {
				return err
			}
			row[j] = ok
			return nil
		})
	}
	return g.Wait()
}
