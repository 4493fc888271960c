// Package grid implements the Grid sampler: the Cartesian product of
// per-parameter grids, iterated in a deterministic order that wraps once
// exhausted.
package grid

import (
	"math"
	"math/rand"

	"github.com/tuneforge/tuneforge/pkg/model"
	"github.com/tuneforge/tuneforge/pkg/sampler"
	"github.com/tuneforge/tuneforge/pkg/seed"
	"github.com/tuneforge/tuneforge/pkg/space"
)

func init() {
	sampler.Register("grid", New)
}

// defaultGridPoints is the number of points used for continuous
// parameters when "grid_points" is not set in sampler Opts.
const defaultGridPoints = 10

// Sampler is the Grid sampler. Its product is built once, lazily, on the
// first Next call, since building it requires knowing the space (which
// is only available through spaceFn(trialIndex), not at Init time).
type Sampler struct{}

// New constructs a Grid sampler.
func New() sampler.Sampler { return &Sampler{} }

// State caches the expanded product across calls, so it is only
// computed once per study; the combination for a trial is the one at
// trialIndex modulo the product's size.
type State struct {
	gridPoints int
	shuffle    bool
	seed       uint64

	built  bool
	names  []string
	combos [][]any
}

func (s *Sampler) Init(opts sampler.Opts) (sampler.State, error) {
	return &State{
		gridPoints: opts.IntOr("grid_points", defaultGridPoints),
		shuffle:    opts.BoolOr("shuffle", false),
		seed:       seed.Sampler(opts.Seed, "grid"),
	}, nil
}

func (s *Sampler) Next(spaceFn space.Func, trialIndex int64, _ model.History, st sampler.State) (map[string]any, sampler.State, error) {
	state, _ := st.(*State)
	if state == nil {
		state = &State{gridPoints: defaultGridPoints}
	}
	if !state.built {
		sp := spaceFn(trialIndex)
		state.names = sp.Names()
		state.combos = product(sp, state.names, state.gridPoints)
		if state.shuffle && len(state.combos) > 0 {
			rng := rand.New(rand.NewSource(int64(state.seed)))
			rng.Shuffle(len(state.combos), func(i, j int) {
				state.combos[i], state.combos[j] = state.combos[j], state.combos[i]
			})
		}
		state.built = true
	}
	if len(state.combos) == 0 {
		return map[string]any{}, state, nil
	}
	combo := state.combos[int(trialIndex)%len(state.combos)]
	params := make(map[string]any, len(state.names))
	for i, name := range state.names {
		params[name] = combo[i]
	}
	return params, state, nil
}

// product builds the Cartesian product of per-parameter grids, in the
// deterministic per-parameter order given by names.
func product(sp space.Space, names []string, gridPoints int) [][]any {
	axes := make([][]any, len(names))
	for i, name := range names {
		axes[i] = axisValues(sp[name], gridPoints)
	}
	total := 1
	for _, a := range axes {
		if len(a) == 0 {
			return nil
		}
		total *= len(a)
	}
	combos := make([][]any, total)
	for i := range combos {
		combo := make([]any, len(names))
		rem := i
		for j := len(axes) - 1; j >= 0; j-- {
			n := len(axes[j])
			combo[j] = axes[j][rem%n]
			rem /= n
		}
		combos[i] = combo
	}
	return combos
}

// axisValues enumerates the grid points for a single distribution.
func axisValues(d space.Distribution, gridPoints int) []any {
	switch dist := d.(type) {
	case *space.Uniform:
		return linspace(dist.Low, dist.High, gridPoints)
	case *space.LogUniform:
		return logspace(dist.Low, dist.High, gridPoints)
	case *space.IntRange:
		span := dist.High - dist.Low + 1
		if span <= int64(gridPoints) {
			out := make([]any, span)
			for i := int64(0); i < span; i++ {
				out[i] = dist.Low + i
			}
			return out
		}
		floats := linspace(float64(dist.Low), float64(dist.High), gridPoints)
		out := make([]any, len(floats))
		for i, f := range floats {
			out[i] = int64(math.Round(f.(float64)))
		}
		return out
	case *space.DiscreteUniform:
		var out []any
		for v := dist.Low; v <= dist.High+1e-9; v += dist.Step {
			vv := v
			if vv > dist.High {
				vv = dist.High
			}
			out = append(out, vv)
		}
		return out
	case *space.Choice:
		return dist.Values
	default:
		return nil
	}
}

func linspace(lo, hi float64, n int) []any {
	if n <= 1 {
		return []any{(lo + hi) / 2}
	}
	out := make([]any, n)
	for i := 0; i < n; i++ {
		out[i] = lo + (hi-lo)*float64(i)/float64(n-1)
	}
	return out
}

func logspace(lo, hi float64, n int) []any {
	if n <= 1 {
		return []any{math.Sqrt(lo * hi)}
	}
	logLo, logHi := math.Log(lo), math.Log(hi)
	out := make([]any, n)
	for i := 0; i < n; i++ {
		out[i] = math.Exp(logLo + (logHi-logLo)*float64(i)/float64(n-1))
	}
	return out
}
