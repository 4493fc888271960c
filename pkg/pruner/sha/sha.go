// Package sha implements Successive Halving: a fixed rung schedule
// with a reduction factor eta; at each rung, only the top 1/eta of
// trials in the same bracket survive to the next rung.
package sha

import (
	"math"
	"sort"

	"github.com/tuneforge/tuneforge/pkg/pruner"
)

func init() {
	pruner.Register("sha", New)
}

const (
	defaultEta      = 3.0
	defaultNumRungs = 5
)

// Pruner is the Successive Halving pruner. It runs a single bracket;
// pkg/pruner/hyperband composes several SHA schedules in parallel.
type Pruner struct{}

// New constructs a Successive Halving pruner.
func New() pruner.Pruner { return &Pruner{} }

// State holds the rung schedule (rung index -> resource level,
// unused directly here since rungs are already integers assigned by
// the coordinator, but eta and the survival fraction it implies).
type State struct {
	eta      float64
	numRungs int
}

func (p *Pruner) Init(opts pruner.Opts) (pruner.State, error) {
	return &State{
		eta:      opts.Float64Or("eta", defaultEta),
		numRungs: opts.IntOr("num_rungs", defaultNumRungs),
	}, nil
}

func (p *Pruner) AssignBracket(_ int64, state pruner.State) (int, pruner.State) {
	return 0, state
}

func (p *Pruner) Keep(trialID string, scoresSoFar []pruner.ScoreAtRung, rung int, rungHistory []pruner.ScoreAtRung, ctx pruner.Context, st pruner.State) (bool, pruner.State) {
	state, _ := st.(*State)
	if state == nil {
		state = &State{eta: defaultEta, numRungs: defaultNumRungs}
	}
	if len(scoresSoFar) == 0 {
		return true, state
	}

	peers := bestSoFarAtRung(rungHistory, rung, ctx.Goal.Sign())
	if len(peers) < 2 {
		return true, state
	}

	latest := bestSoFarAtRungFor(scoresSoFar, rung, trialID, ctx.Goal.Sign())
	survivors := int(math.Ceil(float64(len(peers)+1) / state.eta))
	if survivors < 1 {
		survivors = 1
	}

	sign := ctx.Goal.Sign()
	values := make([]float64, 0, len(peers)+1)
	for _, v := range peers {
		values = append(values, sign*v)
	}
	values = append(values, sign*latest)
	sort.Float64s(values)

	if survivors > len(values) {
		survivors = len(values)
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

func bestSoFarAtRungFor(scores []pruner.ScoreAtRung, rung int, trialID string, sign float64) float64 {
	best := math.Inf(1)
	found := false
	for _, s := range scores {
		if s.TrialID != "" && s.TrialID != trialID {
			continue
		}
		if s.Rung > rung {
			continue
		}
		if !found || sign*s.Value < sign*best {
			best = s.Value
			found = true
		}
	}
	if !found {
		return scores[len(scores)-1].Value
	}
	return best
}
