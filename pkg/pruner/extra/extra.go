// Package extra implements three narrower pruners: Patient
// (no-improvement-for-N-rungs), Threshold (fixed score bounds), and
// Wilcoxon (signed-rank test against a reference curve).
package extra

import (
	"math"
	"sort"

	"github.com/tuneforge/tuneforge/pkg/pruner"
	"gonum.org/v1/gonum/stat"
)

func init() {
	pruner.Register("patient", NewPatient)
	pruner.Register("threshold", NewThreshold)
	pruner.Register("wilcoxon", NewWilcoxon)
}

const (
	defaultPatience      = 3
	defaultNWarmupSteps  = 0
	defaultAlpha         = 0.05
)

// --- Patient -----------------------------------------------------------

// Patient does not prune unless there has been no improvement over the
// trial's own best-so-far for `patience` consecutive rungs.
type Patient struct{}

func NewPatient() pruner.Pruner { return &Patient{} }

type patientState struct {
	patience int
}

func (p *Patient) Init(opts pruner.Opts) (pruner.State, error) {
	return &patientState{patience: opts.IntOr("patience", defaultPatience)}, nil
}

func (p *Patient) AssignBracket(_ int64, state pruner.State) (int, pruner.State) { return 0, state }

func (p *Patient) Keep(_ string, scoresSoFar []pruner.ScoreAtRung, _ int, _ []pruner.ScoreAtRung, ctx pruner.Context, st pruner.State) (bool, pruner.State) {
	state, _ := st.(*patientState)
	if state == nil {
		state = &patientState{patience: defaultPatience}
	}
	if len(scoresSoFar) <= state.patience {
		return true, state
	}
	sign := ctx.Goal.Sign()
	best := sign * scoresSoFar[0].Value
	bestIdx := 0
	for i, s := range scoresSoFar {
		v := sign * s.Value
		if v < best {
			best = v
			bestIdx = i
		}
	}
	stale := len(scoresSoFar) - 1 - bestIdx
	return stale < state.patience, state
}

// --- Threshold -----------------------------------------------------------

// Threshold prunes once a trial's latest score falls outside
// [lower, upper] after n_warmup_steps reports.
type Threshold struct{}

func NewThreshold() pruner.Pruner { return &Threshold{} }

type thresholdState struct {
	lower, upper float64
	hasLower     bool
	hasUpper     bool
	nWarmupSteps int
}

func (p *Threshold) Init(opts pruner.Opts) (pruner.State, error) {
	state := &thresholdState{nWarmupSteps: opts.IntOr("n_warmup_steps", defaultNWarmupSteps)}
	if v, ok := opts.Extra["lower"]; ok {
		state.lower = toFloat(v)
		state.hasLower = true
	}
	if v, ok := opts.Extra["upper"]; ok {
		state.upper = toFloat(v)
		state.hasUpper = true
	}
	return state, nil
}

func (p *Threshold) AssignBracket(_ int64, state pruner.State) (int, pruner.State) { return 0, state }

func (p *Threshold) Keep(_ string, scoresSoFar []pruner.ScoreAtRung, _ int, _ []pruner.ScoreAtRung, _ pruner.Context, st pruner.State) (bool, pruner.State) {
	state, _ := st.(*thresholdState)
	if state == nil {
		return true, st
	}
	if len(scoresSoFar) <= state.nWarmupSteps {
		return true, state
	}
	latest := scoresSoFar[len(scoresSoFar)-1].Value
	if state.hasLower && latest < state.lower {
		return false, state
	}
	if state.hasUpper && latest > state.upper {
		return false, state
	}
	return true, state
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return 0
	}
}

// --- Wilcoxon -----------------------------------------------------------

// Wilcoxon prunes a trial whose score curve, compared rung-by-rung
// against a fixed reference curve, is rejected by a signed-rank test
// at significance level alpha as being no better than the reference.
type Wilcoxon struct{}

func NewWilcoxon() pruner.Pruner { return &Wilcoxon{} }

type wilcoxonState struct {
	reference []float64 // reference[rung] = reference curve's value at that rung
	alpha     float64
}

func (p *Wilcoxon) Init(opts pruner.Opts) (pruner.State, error) {
	var ref []float64
	if v, ok := opts.Extra["reference_curve"].([]float64); ok {
		ref = v
	}
	return &wilcoxonState{reference: ref, alpha: opts.Float64Or("alpha", defaultAlpha)}, nil
}

func (p *Wilcoxon) AssignBracket(_ int64, state pruner.State) (int, pruner.State) { return 0, state }

func (p *Wilcoxon) Keep(_ string, scoresSoFar []pruner.ScoreAtRung, _ int, _ []pruner.ScoreAtRung, ctx pruner.Context, st pruner.State) (bool, pruner.State) {
	state, _ := st.(*wilcoxonState)
	if state == nil || len(state.reference) == 0 {
		return true, st
	}
	n := len(scoresSoFar)
	if n == 0 || n > len(state.reference) {
		return true, state
	}

	sign := ctx.Goal.Sign()
	diffs := make([]float64, 0, n)
	for i, s := range scoresSoFar {
		d := sign * (s.Value - state.reference[i])
		if d != 0 {
			diffs = append(diffs, d)
		}
	}
	if len(diffs) < 5 {
		// Too few non-zero differences for the normal approximation to
		// be meaningful; do not prune on weak evidence.
		return true, state
	}

	_, pValue := signedRankTest(diffs)
	if pValue < state.alpha {
		// The null (differences symmetric around zero) is rejected: prune
		// only if the trial is on the worse side of the reference on
		// average.
		meanDiff := stat.Mean(diffs, nil)
		return meanDiff <= 0, state
	}
	return true, state
}

// signedRankTest computes the Wilcoxon signed-rank statistic and a
// normal-approximation two-sided p-value for the null hypothesis that
// diffs are symmetric around zero.
func signedRankTest(diffs []float64) (float64, float64) {
	n := len(diffs)
	abs := make([]float64, n)
	sign := make([]float64, n)
	for i, d := range diffs {
		abs[i] = math.Abs(d)
		if d > 0 {
			sign[i] = 1
		} else {
			sign[i] = -1
		}
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return abs[order[a]] < abs[order[b]] })

	ranks := make([]float64, n)
	i := 0
	for i < n {
		j := i
		for j < n && abs[order[j]] == abs[order[i]] {
			j++
		}
		avgRank := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			ranks[order[k]] = avgRank
		}
		i = j
	}

	wPlus := 0.0
	for k := 0; k < n; k++ {
		if sign[k] > 0 {
			wPlus += ranks[k]
		}
	}
	nf := float64(n)
	mean := nf * (nf + 1) / 4
	variance := nf * (nf + 1) * (2*nf + 1) / 24
	if variance <= 0 {
		return wPlus, 1.0
	}
	z := (wPlus - mean) / math.Sqrt(variance)
	p := 2 * (1 - stdNormalCDF(math.Abs(z)))
	if p > 1 {
		p = 1
	}
	return wPlus, p
}

func stdNormalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}
