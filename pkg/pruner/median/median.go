// Package median implements the Median and Percentile pruners: a
// running trial is pruned when its latest score at the current rung
// is on the wrong side of the percentile of every other trial's
// best-so-far score at that rung, once enough trials have warmed up.
package median

import (
	"sort"

	"github.com/tuneforge/tuneforge/pkg/pruner"
	"gonum.org/v1/gonum/stat"
)

func init() {
	pruner.Register("median", NewMedian)
	pruner.Register("percentile", NewPercentile)
}

const (
	defaultNStartupTrials = 5
	defaultNWarmupTrials  = 1
	medianPercentile      = 0.5
)

// Pruner is shared by both registrations; percentile defaults to 0.5
// (Median) unless overridden via Opts.Extra["percentile"].
type Pruner struct {
	defaultPercentile float64
}

// NewMedian constructs the Median pruner (50th percentile).
func NewMedian() pruner.Pruner { return &Pruner{defaultPercentile: medianPercentile} }

// NewPercentile constructs the Percentile pruner, reading its
// percentile (0-100 or 0-1) from Opts.Extra["percentile"].
func NewPercentile() pruner.Pruner { return &Pruner{defaultPercentile: medianPercentile} }

// State carries the fixed configuration; trial scores are always read
// fresh from rungHistory, so there is nothing else to carry across
// calls.
type State struct {
	nStartupTrials int
	nWarmupTrials  int
	percentile     float64
}

func (p *Pruner) Init(opts pruner.Opts) (pruner.State, error) {
	pct := opts.Float64Or("percentile", p.defaultPercentile*100)
	if pct > 1 {
		pct /= 100
	}
	return &State{
		nStartupTrials: opts.IntOr("n_startup_trials", defaultNStartupTrials),
		nWarmupTrials:  opts.IntOr("n_warmup_trials", defaultNWarmupTrials),
		percentile:     pct,
	}, nil
}

func (p *Pruner) AssignBracket(_ int64, state pruner.State) (int, pruner.State) {
	return 0, state
}

func (p *Pruner) Keep(trialID string, scoresSoFar []pruner.ScoreAtRung, rung int, rungHistory []pruner.ScoreAtRung, ctx pruner.Context, st pruner.State) (bool, pruner.State) {
	state, _ := st.(*State)
	if state == nil {
		state = &State{nStartupTrials: defaultNStartupTrials, nWarmupTrials: defaultNWarmupTrials, percentile: medianPercentile}
	}
	if len(scoresSoFar) == 0 {
		return true, state
	}
	latest := scoresSoFar[len(scoresSoFar)-1]
	if latest.Rung != rung {
		return true, state
	}

	others := bestSoFarAtRung(rungHistory, rung, trialID, ctx.Goal.Sign())
	if len(others) < state.nWarmupTrials || distinctTrialCount(rungHistory, trialID) < state.nStartupTrials {
		return true, state
	}

	threshold := quantile(others, state.percentile)
	if ctx.Goal.Sign() > 0 {
		return latest.Value <= threshold, state
	}
	return latest.Value >= threshold, state
}

// bestSoFarAtRung returns, for every trial other than excludeTrialID
// that has reported at least one observation at or before rung, its
// best reported value up to rung (lowest when sign is 1, highest when
// sign is -1).
func bestSoFarAtRung(rungHistory []pruner.ScoreAtRung, rung int, excludeTrialID string, sign float64) []float64 {
	best := map[string]float64{}
	seen := map[string]bool{}
	for _, s := range rungHistory {
		if s.TrialID == excludeTrialID || s.Rung > rung {
			continue
		}
		if !seen[s.TrialID] || sign*s.Value < sign*best[s.TrialID] {
			best[s.TrialID] = s.Value
			seen[s.TrialID] = true
		}
	}
	out := make([]float64, 0, len(best))
	for _, v := range best {
		out = append(out, v)
	}
	return out
}

func distinctTrialCount(rungHistory []pruner.ScoreAtRung, excludeTrialID string) int {
	seen := map[string]bool{}
	for _, s := range rungHistory {
		if s.TrialID != excludeTrialID {
			seen[s.TrialID] = true
		}
	}
	return len(seen)
}

func quantile(values []float64, p float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return stat.Quantile(p, stat.Empirical, sorted, nil)
}
