// Package tpe implements the Tree-structured Parzen Estimator sampler:
// history is split into a "good" and "bad" partition, a per-parameter
// Gaussian (or multinomial, for categoricals) kernel density estimator
// is fit to each partition, and candidates are scored by the log-ratio
// of the good density over the bad density — a proxy for Expected
// Improvement. This package only implements the independent,
// univariate-per-key variant; see DESIGN.md for why the multivariate
// copula variant described in the source material was not built.
package tpe

import (
	"math"
	"math/rand"
	"sort"

	"github.com/tuneforge/tuneforge/pkg/model"
	"github.com/tuneforge/tuneforge/pkg/sampler"
	"github.com/tuneforge/tuneforge/pkg/seed"
	"github.com/tuneforge/tuneforge/pkg/space"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

func init() {
	sampler.Register("tpe", New)
}

const (
	defaultMinObs       = 10
	defaultNCandidates  = 64
	defaultUniformRate  = 0.10
	defaultPriorWeight  = 0.01
	defaultGammaCap     = 0.25
	bwScottFactor       = 1.06 * 0.5
	bwFloorFrac         = 1e-3
	densityFloor        = 1e-12
)

// Sampler is the TPE sampler. It holds no state itself; everything it
// needs is threaded through State.
type Sampler struct{}

// New constructs a TPE sampler.
func New() sampler.Sampler { return &Sampler{} }

// State carries the RNG and the fixed configuration derived at Init
// time. TPE refits its KDEs from history on every call, so State does
// not cache anything beyond the RNG and static options.
type State struct {
	rng         *rand.Rand
	goal        model.Goal
	minObs      int
	nCandidates int
	uniformRate float64
}

func (s *Sampler) Init(opts sampler.Opts) (sampler.State, error) {
	return &State{
		rng:         seed.Rand(seed.Sampler(opts.Seed, "tpe")),
		goal:        opts.Goal,
		minObs:      opts.IntOr("min_obs", defaultMinObs),
		nCandidates: opts.IntOr("n_candidates", defaultNCandidates),
		uniformRate: opts.Float64Or("uniform_rate", defaultUniformRate),
	}, nil
}

func (s *Sampler) Next(spaceFn space.Func, trialIndex int64, history model.History, st sampler.State) (map[string]any, sampler.State, error) {
	state, _ := st.(*State)
	if state == nil {
		state = &State{rng: seed.Rand(seed.Sampler(0, "tpe")), minObs: defaultMinObs, nCandidates: defaultNCandidates, uniformRate: defaultUniformRate}
	}
	sp := spaceFn(trialIndex)
	succeeded := history.Succeeded()

	if len(succeeded) < state.minObs {
		return sp.Sample(state.rng), state, nil
	}

	good, bad := split(succeeded, state.goal)

	names := sp.Names()
	estimators := make(map[string]estimator, len(names))
	for _, name := range names {
		estimators[name] = fit(sp[name], good, bad, name)
	}

	nCandidates := state.nCandidates
	if nCandidates <= 0 {
		nCandidates = defaultNCandidates
	}

	var best map[string]any
	bestScore := math.Inf(-1)
	for i := 0; i < nCandidates; i++ {
		candidate := make(map[string]any, len(names))
		useUniform := state.rng.Float64() < state.uniformRate
		scoreSum := 0.0
		for _, name := range names {
			d := sp[name]
			e := estimators[name]
			var v any
			if useUniform || e.degenerate {
				v = d.Sample(state.rng)
			} else {
				v = e.sampleGood(state.rng)
			}
			candidate[name] = v
			scoreSum += e.logRatio(v)
		}
		if best == nil || scoreSum > bestScore {
			best = candidate
			bestScore = scoreSum
		}
	}
	return best, state, nil
}

// split partitions terminal, succeeded trials into good (best-scoring
// fraction) and bad (the rest), using gamma = min(0.25, sqrt(n)/n).
// Trials with a NaN score are dropped from both partitions.
func split(trials []*model.Trial, goal model.Goal) (good, bad []*model.Trial) {
	clean := make([]*model.Trial, 0, len(trials))
	for _, t := range trials {
		if t.Score != nil && !math.IsNaN(*t.Score) {
			clean = append(clean, t)
		}
	}
	sign := goal.Sign()
	sorted := make([]*model.Trial, len(clean))
	copy(sorted, clean)
	sort.Slice(sorted, func(i, j int) bool {
		return sign*(*sorted[i].Score) < sign*(*sorted[j].Score)
	})
	n := len(sorted)
	if n == 0 {
		return nil, nil
	}
	gamma := math.Min(defaultGammaCap, math.Sqrt(float64(n))/float64(n))
	nGood := int(math.Ceil(gamma * float64(n)))
	if nGood < 1 {
		nGood = 1
	}
	if nGood > n {
		nGood = n
	}
	return sorted[:nGood], sorted[nGood:]
}

// estimator is the fitted (good, bad) density pair for a single
// parameter key, expressed over the unit-interval mapping every
// distribution provides (so continuous, integer, and discrete
// parameters share one KDE implementation) with categoricals handled
// separately via a multinomial.
type estimator struct {
	dist       space.Distribution
	degenerate bool

	// continuous/integer/discrete path: Gaussian KDE over unit-mapped
	// values.
	goodPoints []float64
	goodH      float64
	badPoints  []float64
	badH       float64

	// categorical path: Laplace-1-smoothed multinomial over category
	// index.
	categorical  bool
	goodCounts   []float64
	badCounts    []float64
	goodTotal    float64
	badTotal     float64
}

func fit(d space.Distribution, good, bad []*model.Trial, name string) estimator {
	if d.Type() == space.TypeChoice {
		c := d.(*space.Choice)
		e := estimator{dist: d, categorical: true, goodCounts: make([]float64, len(c.Values)), badCounts: make([]float64, len(c.Values))}
		for _, t := range good {
			if v, ok := t.Params[name]; ok {
				e.goodCounts[indexOfValue(c, v)]++
			}
		}
		for _, t := range bad {
			if v, ok := t.Params[name]; ok {
				e.badCounts[indexOfValue(c, v)]++
			}
		}
		for i := range e.goodCounts {
			e.goodCounts[i]++
			e.badCounts[i]++
		}
		e.goodTotal = sum(e.goodCounts)
		e.badTotal = sum(e.badCounts)
		return e
	}

	goodU := toUnit(d, good, name)
	badU := toUnit(d, bad, name)
	goodH := bandwidth(goodU)
	badH := bandwidth(badU)
	if goodH <= 0 || len(goodU) == 0 {
		return estimator{dist: d, degenerate: true}
	}
	return estimator{
		dist:       d,
		goodPoints: goodU,
		goodH:      goodH,
		badPoints:  badU,
		badH:       badH,
	}
}

func indexOfValue(c *space.Choice, v any) int {
	for i, cv := range c.Values {
		if cv == v {
			return i
		}
	}
	return 0
}

func toUnit(d space.Distribution, trials []*model.Trial, name string) []float64 {
	out := make([]float64, 0, len(trials))
	for _, t := range trials {
		if v, ok := t.Params[name]; ok {
			out = append(out, d.ToUnit(v))
		}
	}
	return out
}

func sum(xs []float64) float64 {
	total := 0.0
	for _, x := range xs {
		total += x
	}
	return total
}

// bandwidth applies Scott's rule (halved per the fixed core-algorithm
// choice) with a floor proportional to the unit range, so a KDE never
// collapses to a point mass.
func bandwidth(points []float64) float64 {
	n := len(points)
	if n == 0 {
		return 0
	}
	sigma := stat.StdDev(points, nil)
	if sigma == 0 {
		sigma = 1e-6
	}
	h := bwScottFactor * sigma * math.Pow(float64(n), -0.2)
	floor := bwFloorFrac * 1.0 // unit-mapped range is always [0,1]
	if h < floor {
		h = floor
	}
	return h
}

// sampleGood draws a value from the good KDE: pick a kernel center
// uniformly, perturb by a Gaussian of width goodH, clamp to [0,1], and
// map back through the distribution's FromUnit.
func (e estimator) sampleGood(rng *rand.Rand) any {
	if e.categorical {
		r := rng.Float64() * e.goodTotal
		acc := 0.0
		for i, c := range e.goodCounts {
			acc += c
			if r <= acc {
				return e.dist.(*space.Choice).Values[i]
			}
		}
		return e.dist.(*space.Choice).Values[len(e.goodCounts)-1]
	}
	if len(e.goodPoints) == 0 {
		return e.dist.Sample(rng)
	}
	center := e.goodPoints[rng.Intn(len(e.goodPoints))]
	u := center + rng.NormFloat64()*e.goodH
	if u < 0 {
		u = 0
	}
	if u > 1 {
		u = 1
	}
	return e.dist.FromUnit(u)
}

// logRatio scores a candidate value by log l(x) - log g(x), the TPE
// acquisition proxy.
func (e estimator) logRatio(v any) float64 {
	if e.categorical {
		c := e.dist.(*space.Choice)
		i := indexOfValue(c, v)
		lg := math.Log(math.Max(e.goodCounts[i]/e.goodTotal, densityFloor))
		lb := math.Log(math.Max(e.badCounts[i]/e.badTotal, densityFloor))
		return lg - lb
	}
	if e.degenerate {
		return 0
	}
	u := e.dist.ToUnit(v)
	lg := math.Log(math.Max(kdeDensity(u, e.goodPoints, e.goodH), densityFloor))
	lb := math.Log(math.Max(kdeDensity(u, e.badPoints, e.badH), densityFloor))
	return lg - lb
}

// kdeDensity evaluates a Gaussian KDE at u, mixing in a 1% weight of
// the uniform prior over [0,1] to eliminate degeneracies.
func kdeDensity(u float64, points []float64, h float64) float64 {
	if len(points) == 0 || h <= 0 {
		return 1.0
	}
	total := 0.0
	for _, p := range points {
		total += distuv.Normal{Mu: p, Sigma: h}.Prob(u)
	}
	kde := total / float64(len(points))
	return (1-defaultPriorWeight)*kde + defaultPriorWeight*1.0
}
