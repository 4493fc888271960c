// Package cmaes implements a (mu/mu_w, lambda)-CMA-ES sampler over the
// numeric dimensions of a search space (uniform, log-uniform, int and
// discrete-uniform), mapped onto the unit interval; int and
// discrete-uniform values are re-quantized through their own
// distribution's FromUnit. Categorical parameters are sampled
// independently on each candidate draw, since CMA-ES's covariance model
// has no notion of them.
package cmaes

import (
	"math"
	"math/rand"
	"sort"

	"github.com/tuneforge/tuneforge/pkg/model"
	"github.com/tuneforge/tuneforge/pkg/sampler"
	"github.com/tuneforge/tuneforge/pkg/seed"
	"github.com/tuneforge/tuneforge/pkg/space"
	"gonum.org/v1/gonum/mat"
)

func init() {
	sampler.Register("cmaes", New)
}

const defaultMinObs = 10

// Sampler is the CMA-ES sampler.
type Sampler struct{}

// New constructs a CMA-ES sampler.
func New() sampler.Sampler { return &Sampler{} }

// State is the full evolution-strategy state: mean, step size, and
// covariance over the continuous/integer dimensions, plus the
// bookkeeping needed to recognize when a generation of lambda trials
// has completed.
type State struct {
	rng    *rand.Rand
	goal   model.Goal
	minObs int

	names       []string // continuous-dimension names, fixed order
	dim         int
	lambda      int
	mu          int
	weights     []float64
	muEff       float64
	cc, cs, c1  float64
	cmu, damps  float64
	chiN        float64

	mean  []float64
	sigma float64
	C     *mat.SymDense
	pc    []float64
	ps    []float64

	B *mat.Dense
	D []float64

	generation     int
	evaluatedCount int
	pending        []candidate
}

type candidate struct {
	z      []float64 // N(0,I) draw used to produce this candidate
	unit   []float64 // mean + sigma*B*D*z, pre-clamp
	params map[string]any
	score  *float64
}

func (s *Sampler) Init(opts sampler.Opts) (sampler.State, error) {
	return &State{
		rng:    seed.Rand(seed.Sampler(opts.Seed, "cmaes")),
		goal:   opts.Goal,
		minObs: opts.IntOr("min_obs", defaultMinObs),
	}, nil
}

func (s *Sampler) Next(spaceFn space.Func, trialIndex int64, history model.History, st sampler.State) (map[string]any, sampler.State, error) {
	state, _ := st.(*State)
	if state == nil {
		state = &State{rng: seed.Rand(seed.Sampler(0, "cmaes")), minObs: defaultMinObs}
	}
	sp := spaceFn(trialIndex)

	if len(history.Succeeded()) < state.minObs {
		return sp.Sample(state.rng), state, nil
	}

	if state.C == nil {
		initState(state, sp)
	}

	// Absorb any newly-terminal trials from history that belong to the
	// current generation's pending candidates before drawing a new one.
	absorbHistory(state, history)

	if len(state.pending) >= state.lambda && allScored(state.pending) {
		advanceGeneration(state)
	}

	return drawCandidate(state, sp), state, nil
}

func initState(state *State, sp space.Space) {
	names := continuousNames(sp)
	d := len(names)
	if d == 0 {
		d = 1
	}
	state.names = names
	state.dim = d
	state.lambda = 4 + int(3*math.Log(float64(d)))
	if state.lambda < 4 {
		state.lambda = 4
	}
	state.mu = state.lambda / 2
	if state.mu < 1 {
		state.mu = 1
	}

	state.weights = make([]float64, state.mu)
	logMu := math.Log(float64(state.mu) + 0.5)
	wSum := 0.0
	for i := 0; i < state.mu; i++ {
		w := logMu - math.Log(float64(i+1))
		state.weights[i] = w
		wSum += w
	}
	sumSq := 0.0
	for i := range state.weights {
		state.weights[i] /= wSum
		sumSq += state.weights[i] * state.weights[i]
	}
	state.muEff = 1.0 / sumSq

	df := float64(d)
	state.cc = (4 + state.muEff/df) / (df + 4 + 2*state.muEff/df)
	state.cs = (state.muEff + 2) / (df + state.muEff + 5)
	state.c1 = 2 / ((df+1.3)*(df+1.3) + state.muEff)
	state.cmu = math.Min(1-state.c1, 2*(state.muEff-2+1/state.muEff)/((df+2)*(df+2)+state.muEff))
	state.damps = 1 + 2*math.Max(0, math.Sqrt((state.muEff-1)/(df+1))-1) + state.cs
	state.chiN = math.Sqrt(df) * (1 - 1.0/(4*df) + 1.0/(21*df*df))

	state.mean = make([]float64, d)
	for i := range state.mean {
		state.mean[i] = 0.5
	}
	state.sigma = 0.3
	state.C = identitySym(d)
	state.pc = make([]float64, d)
	state.ps = make([]float64, d)
	refreshEigen(state)
	state.generation = 0
	state.evaluatedCount = 0
	state.pending = nil
}

func continuousNames(sp space.Space) []string {
	var names []string
	for _, n := range sp.Names() {
		switch sp[n].Type() {
		case space.TypeUniform, space.TypeLogUniform, space.TypeInt, space.TypeDiscreteUniform:
			names = append(names, n)
		}
	}
	return names
}

func identitySym(d int) *mat.SymDense {
	m := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		m.SetSym(i, i, 1)
	}
	return m
}

// refreshEigen factorizes C = B D^2 B^T on a symmetrized, jittered
// copy of C. On failure it leaves B/D at their previous values (or
// identity, on the very first generation) and the caller is expected
// to shrink sigma as the documented recovery.
func refreshEigen(state *State) bool {
	d := state.dim
	sym := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			v := (state.C.At(i, j) + state.C.At(j, i)) / 2
			if i == j {
				v += 1e-10
			}
			sym.SetSym(i, j, v)
		}
	}

	var eig mat.EigenSym
	ok := eig.Factorize(sym, true)
	if !ok {
		if state.B == nil {
			state.B = identityDense(d)
			state.D = ones(d)
		}
		return false
	}

	values := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	d2 := make([]float64, d)
	for i, v := range values {
		if v < 1e-20 {
			v = 1e-20
		}
		d2[i] = math.Sqrt(v)
	}
	state.B = &vecs
	state.D = d2
	return true
}

func identityDense(d int) *mat.Dense {
	m := mat.NewDense(d, d, nil)
	for i := 0; i < d; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func ones(d int) []float64 {
	out := make([]float64, d)
	for i := range out {
		out[i] = 1
	}
	return out
}

// absorbHistory records scores for pending candidates whose trial has
// become terminal, matched by parameter vector. Candidates already
// scored are left alone.
func absorbHistory(state *State, history model.History) {
	terminal := history.Succeeded()
	for i := range state.pending {
		c := &state.pending[i]
		if c.score != nil {
			continue
		}
		for _, t := range terminal {
			if sameParams(c.params, t.Params, state.names) {
				v := *t.Score
				c.score = &v
				break
			}
		}
	}
}

func sameParams(a, b map[string]any, names []string) bool {
	for _, n := range names {
		av, aok := a[n]
		bv, bok := b[n]
		if aok != bok {
			return false
		}
		if aok && av != bv {
			return false
		}
	}
	return true
}

func allScored(pending []candidate) bool {
	for _, c := range pending {
		if c.score == nil {
			return false
		}
	}
	return true
}

// advanceGeneration updates mean, evolution paths, C, and sigma from a
// completed generation of lambda scored candidates, then clears
// pending so the next Next call starts a fresh generation.
func advanceGeneration(state *State) {
	sign := state.goal.Sign()
	sorted := make([]candidate, len(state.pending))
	copy(sorted, state.pending)
	sort.Slice(sorted, func(i, j int) bool {
		return sign*(*sorted[i].score) < sign*(*sorted[j].score)
	})
	top := sorted
	if len(top) > state.mu {
		top = top[:state.mu]
	}

	d := state.dim
	oldMean := make([]float64, d)
	copy(oldMean, state.mean)
	oldSigma, oldC := state.sigma, state.C
	oldPc := append([]float64(nil), state.pc...)
	oldPs := append([]float64(nil), state.ps...)

	newMean := make([]float64, d)
	zWeighted := make([]float64, d)
	for i, c := range top {
		if i >= len(state.weights) {
			break
		}
		w := state.weights[i]
		for k := 0; k < d; k++ {
			newMean[k] += w * c.unit[k]
			zWeighted[k] += w * c.z[k]
		}
	}
	state.mean = newMean

	// Evolution path for sigma: p_s <- (1-cs) p_s + sqrt(cs(2-cs) mu_eff) * B*zWeighted
	bz := matVec(state.B, zWeighted)
	for k := 0; k < d; k++ {
		state.ps[k] = (1-state.cs)*state.ps[k] + math.Sqrt(state.cs*(2-state.cs)*state.muEff)*bz[k]
	}
	psNorm := norm(state.ps)
	state.sigma *= math.Exp((state.cs / state.damps) * (psNorm/state.chiN - 1))

	// Evolution path for C.
	hSig := 0.0
	if psNorm/math.Sqrt(1-math.Pow(1-state.cs, float64(2*(state.generation+1)))) < (1.4+2/(float64(d)+1))*state.chiN {
		hSig = 1
	}
	for k := 0; k < d; k++ {
		diff := (newMean[k] - oldMean[k]) / state.sigma
		state.pc[k] = (1-state.cc)*state.pc[k] + hSig*math.Sqrt(state.cc*(2-state.cc)*state.muEff)*diff
	}

	// Rank-one + rank-mu covariance update.
	newC := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			base := (1 - state.c1 - state.cmu) * state.C.At(i, j)
			rankOne := state.c1 * state.pc[i] * state.pc[j]
			rankMu := 0.0
			for idx, c := range top {
				if idx >= len(state.weights) {
					break
				}
				di := (c.unit[i] - oldMean[i]) / state.sigma
				dj := (c.unit[j] - oldMean[j]) / state.sigma
				rankMu += state.weights[idx] * di * dj
			}
			newC.SetSym(i, j, base+rankOne+state.cmu*rankMu)
		}
	}
	state.C = newC

	if !refreshEigen(state) {
		// Skip this generation's update: restore the pre-update state
		// and halve sigma as the recovery.
		state.mean, state.C, state.pc, state.ps = oldMean, oldC, oldPc, oldPs
		state.sigma = oldSigma * 0.5
	}

	state.generation++
	state.pending = nil
}

func matVec(B *mat.Dense, v []float64) []float64 {
	d := len(v)
	out := make([]float64, d)
	vv := mat.NewVecDense(d, v)
	var res mat.VecDense
	res.MulVec(B, vv)
	for i := 0; i < d; i++ {
		out[i] = res.AtVec(i)
	}
	return out
}

func norm(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}

// drawCandidate produces x = m + sigma * B * D * z for z ~ N(0,I),
// clamps each coordinate to [0,1], maps back through each continuous
// distribution's FromUnit, and samples every remaining (non-
// continuous) parameter independently.
func drawCandidate(state *State, sp space.Space) map[string]any {
	d := state.dim
	z := make([]float64, d)
	for i := range z {
		z[i] = state.rng.NormFloat64()
	}
	dz := make([]float64, d)
	for i := range dz {
		dz[i] = state.D[i] * z[i]
	}
	bdz := matVec(state.B, dz)

	unit := make([]float64, d)
	params := make(map[string]any, len(sp))
	for i, name := range state.names {
		u := state.mean[i] + state.sigma*bdz[i]
		unit[i] = u
		clamped := u
		if clamped < 0 {
			clamped = 0
		}
		if clamped > 1 {
			clamped = 1
		}
		params[name] = sp[name].FromUnit(clamped)
	}

	for _, name := range sp.Names() {
		if _, ok := params[name]; !ok {
			params[name] = sp[name].Sample(state.rng)
		}
	}

	state.pending = append(state.pending, candidate{z: z, unit: unit, params: copyParams(params, state.names)})
	return params
}

func copyParams(params map[string]any, names []string) map[string]any {
	out := make(map[string]any, len(names))
	for _, n := range names {
		out[n] = params[n]
	}
	return out
}
