// Package random implements the RandomSearch sampler: independent draws
// from each parameter's distribution using a PRNG seeded from the
// sampler's state. It is used both as the baseline sampler and as the
// warm-up strategy other samplers (TPE, CMA-ES) fall back to before they
// have enough history to fit a model.
package random

import (
	"math/rand"

	"github.com/tuneforge/tuneforge/pkg/model"
	"github.com/tuneforge/tuneforge/pkg/sampler"
	"github.com/tuneforge/tuneforge/pkg/seed"
	"github.com/tuneforge/tuneforge/pkg/space"
)

func init() {
	sampler.Register("random", New)
}

// Sampler is stateless beyond its RNG.
type Sampler struct{}

// New constructs a RandomSearch sampler.
func New() sampler.Sampler { return &Sampler{} }

// State holds the RNG derived at Init time. RandomSearch is otherwise
// pure: the RNG advances on every Sample call but the Sampler itself
// carries no other memory.
type State struct {
	rng *rand.Rand
}

func (s *Sampler) Init(opts sampler.Opts) (sampler.State, error) {
	return &State{rng: seed.Rand(seed.Sampler(opts.Seed, "random"))}, nil
}

func (s *Sampler) Next(spaceFn space.Func, trialIndex int64, _ model.History, st sampler.State) (map[string]any, sampler.State, error) {
	state, _ := st.(*State)
	if state == nil {
		state = &State{rng: seed.Rand(seed.Sampler(0, "random"))}
	}
	sp := spaceFn(trialIndex)
	return sp.Sample(state.rng), state, nil
}
