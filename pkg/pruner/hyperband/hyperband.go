// Package hyperband implements Hyperband: several Successive Halving
// brackets run in parallel with different (r0, R) resource budgets
// derived from max_resource and eta; trials round-robin across
// brackets at assignment time, and each bracket makes its own
// Successive-Halving-style keep decision scoped to its own peers.
package hyperband

import (
	"math"
	"sort"

	"github.com/tuneforge/tuneforge/pkg/pruner"
)

func init() {
	pruner.Register("hyperband", New)
}

const (
	defaultEta         = 3.0
	defaultMaxResource = 81.0
)

// Pruner is the Hyperband pruner.
type Pruner struct{}

// New constructs a Hyperband pruner.
func New() pruner.Pruner { return &Pruner{} }

// bracket describes one Successive Halving schedule: its minimum
// resource r0 and the number of rungs it runs for, both derived from
// eta and maxResource per the standard Hyperband schedule.
type bracket struct {
	minResource float64
	numRungs    int
}

// State holds the derived bracket schedule and a round-robin cursor
// for assignment.
type State struct {
	eta         float64
	maxResource float64
	brackets    []bracket
	cursor      int
}

func (p *Pruner) Init(opts pruner.Opts) (pruner.State, error) {
	eta := opts.Float64Or("eta", defaultEta)
	maxResource := opts.Float64Or("max_resource", defaultMaxResource)
	sMax := int(math.Floor(math.Log(maxResource) / math.Log(eta)))

	brackets := make([]bracket, 0, sMax+1)
	for s := sMax; s >= 0; s-- {
		r0 := maxResource * math.Pow(eta, -float64(s))
		brackets = append(brackets, bracket{minResource: r0, numRungs: s + 1})
	}

	return &State{eta: eta, maxResource: maxResource, brackets: brackets}, nil
}

func (p *Pruner) AssignBracket(_ int64, st pruner.State) (int, pruner.State) {
	state, _ := st.(*State)
	if state == nil || len(state.brackets) == 0 {
		return 0, st
	}
	b := state.cursor % len(state.brackets)
	state.cursor++
	return b, state
}

func (p *Pruner) Keep(trialID string, scoresSoFar []pruner.ScoreAtRung, rung int, rungHistory []pruner.ScoreAtRung, ctx pruner.Context, st pruner.State) (bool, pruner.State) {
	state, _ := st.(*State)
	if state == nil {
		return true, st
	}
	if len(scoresSoFar) == 0 {
		return true, state
	}

	// Within a bracket, peers are every other reported score at rungs
	// at or before this one (rungHistory is already scoped to the
	// trial's bracket by the coordinator's context.Bracket key).
	peers := bestSoFarAtRung(rungHistory, rung, ctx.Goal.Sign())
	if len(peers) < 2 {
		return true, state
	}

	eta := state.eta
	latest := scoresSoFar[len(scoresSoFar)-1].Value
	sign := ctx.Goal.Sign()

	values := make([]float64, 0, len(peers)+1)
	for _, v := range peers {
		values = append(values, sign*v)
	}
	values = append(values, sign*latest)
	sort.Float64s(values)

	survivors := int(math.Ceil(float64(len(values)) / eta))
	if survivors < 1 {
		survivors = 1
	}
	cutoff := values[survivors-1]
	return sign*latest <= cutoff, state
}

func bestSoFarAtRung(rungHistory []pruner.ScoreAtRung, rung int, sign float64) map[string]float64 {
	best := map[string]float64{}
	for _, s := range rungHistory {
		if s.Rung > rung {
			continue
		}
		if v, ok := best[s.TrialID]; !ok || sign*s.Value < sign*v {
			best[s.TrialID] = s.Value
		}
	}
	return best
}
