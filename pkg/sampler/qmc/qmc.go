// Package qmc implements a quasi-random (low-discrepancy) sampler
// using Halton sequences with optional digit scrambling, mapping each
// coordinate through the inverse CDF (FromUnit) of its distribution.
package qmc

import (
	"math/rand"

	"github.com/tuneforge/tuneforge/pkg/model"
	"github.com/tuneforge/tuneforge/pkg/sampler"
	"github.com/tuneforge/tuneforge/pkg/seed"
	"github.com/tuneforge/tuneforge/pkg/space"
)

func init() {
	sampler.Register("qmc", New)
}

// firstPrimes supplies Halton bases, one per dimension, in the fixed
// per-parameter order given by Space.Names(). 32 dimensions is far
// beyond any realistic search space for this sampler.
var firstPrimes = []int{2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31, 37, 41, 43, 47, 53,
	59, 61, 67, 71, 73, 79, 83, 89, 97, 101, 103, 107, 109, 113, 127, 131}

// Sampler is the QMC sampler.
type Sampler struct{}

// New constructs a QMC sampler.
func New() sampler.Sampler { return &Sampler{} }

// State carries the monotonically incrementing sequence index and, if
// scrambling is enabled, a fixed per-base digit permutation drawn from
// the RNG the first time that base is used (Owen-style scrambling
// applied to the radical-inverse digits rather than the raw point).
type State struct {
	index     int64
	scramble  bool
	perms     map[int][]int // base -> digit permutation
	rng       *rand.Rand
}

func (s *Sampler) Init(opts sampler.Opts) (sampler.State, error) {
	return &State{
		scramble: opts.BoolOr("scramble", false),
		perms:    map[int][]int{},
		rng:      seed.Rand(seed.Sampler(opts.Seed, "qmc")),
	}, nil
}

func (s *Sampler) Next(spaceFn space.Func, trialIndex int64, _ model.History, st sampler.State) (map[string]any, sampler.State, error) {
	state, _ := st.(*State)
	if state == nil {
		state = &State{perms: map[int][]int{}, rng: seed.Rand(seed.Sampler(0, "qmc"))}
	}
	sp := spaceFn(trialIndex)
	names := sp.Names()

	params := make(map[string]any, len(names))
	for i, name := range names {
		base := firstPrimes[i%len(firstPrimes)]
		u := state.haltonAt(state.index+1, base)
		params[name] = sp[name].FromUnit(u)
	}
	state.index++
	return params, state, nil
}

// haltonAt computes the radical-inverse of n in the given base,
// optionally scrambling the digit stream through a fixed permutation
// drawn once per base.
func (s *State) haltonAt(n int64, base int) float64 {
	perm := s.permFor(base)
	f := 1.0
	r := 0.0
	for n > 0 {
		f /= float64(base)
		digit := int(n % int64(base))
		if perm != nil {
			digit = perm[digit]
		}
		r += float64(digit) * f
		n /= int64(base)
	}
	return r
}

func (s *State) permFor(base int) []int {
	if !s.scramble {
		return nil
	}
	if p, ok := s.perms[base]; ok {
		return p
	}
	perm := make([]int, base)
	for i := range perm {
		perm[i] = i
	}
	s.rng.Shuffle(base, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
	s.perms[base] = perm
	return perm
}
