// Package nsga2 implements NSGA-II, a genetic algorithm for
// multi-objective studies: non-dominated sorting with crowding-distance
// tie-breaking, tournament selection, simulated binary crossover for
// continuous genes, polynomial mutation, and uniform resampling for
// categorical genes.
package nsga2

import (
	"math"
	"math/rand"
	"sort"

	"github.com/tuneforge/tuneforge/pkg/model"
	"github.com/tuneforge/tuneforge/pkg/sampler"
	"github.com/tuneforge/tuneforge/pkg/seed"
	"github.com/tuneforge/tuneforge/pkg/space"
)

func init() {
	sampler.Register("nsga2", New)
}

const (
	defaultPopulationSize = 20
	defaultCrossoverEta   = 15.0
	defaultMutationEta    = 20.0
	defaultMutationRate   = 0.2
)

// Sampler is the NSGA-II sampler. Objective values come from
// model.Trial.Metrics, keyed by the names in Opts.Extra["objectives"]
// ([]string); a single-objective study can still use this sampler, in
// which case non-domination degenerates to a total order by score.
type Sampler struct{}

// New constructs an NSGA-II sampler.
func New() sampler.Sampler { return &Sampler{} }

// State holds the RNG and the fixed variation options. It keeps no
// population of its own: each call rebuilds the population from the
// terminal trials in history, which is the source of truth.
type State struct {
	rng            *rand.Rand
	populationSize int
	objectives     []string
	crossoverEta   float64
	mutationEta    float64
	mutationRate   float64
}

func (s *Sampler) Init(opts sampler.Opts) (sampler.State, error) {
	objectives, _ := opts.Extra["objectives"].([]string)
	return &State{
		rng:            seed.Rand(seed.Sampler(opts.Seed, "nsga2")),
		populationSize: opts.IntOr("population_size", defaultPopulationSize),
		objectives:     objectives,
		crossoverEta:   opts.Float64Or("crossover_eta", defaultCrossoverEta),
		mutationEta:    opts.Float64Or("mutation_eta", defaultMutationEta),
		mutationRate:   opts.Float64Or("mutation_rate", defaultMutationRate),
	}, nil
}

func (s *Sampler) Next(spaceFn space.Func, trialIndex int64, history model.History, st sampler.State) (map[string]any, sampler.State, error) {
	state, _ := st.(*State)
	if state == nil {
		state = &State{rng: seed.Rand(seed.Sampler(0, "nsga2")), populationSize: defaultPopulationSize, crossoverEta: defaultCrossoverEta, mutationEta: defaultMutationEta, mutationRate: defaultMutationRate}
	}
	sp := spaceFn(trialIndex)
	terminal := history.Terminal()

	if len(terminal) < state.populationSize {
		return sp.Sample(state.rng), state, nil
	}

	fronts := nonDominatedSort(terminal, state.objectives)
	crowding := make(map[*model.Trial]float64, len(terminal))
	for _, front := range fronts {
		assignCrowdingDistance(front, state.objectives, crowding)
	}

	parents := tournamentSelect(state.rng, terminal, fronts, crowding, 2)
	names := sp.Names()
	child := simulatedBinaryCrossover(state.rng, sp, names, parents[0], parents[1], state.crossoverEta)
	polynomialMutate(state.rng, sp, names, child, state.mutationRate, state.mutationEta)
	return child, state, nil
}

// objectiveVector returns the trial's objective values, all to be
// minimized. objectives lists the metric keys to read; an empty list
// falls back to Trial.Score. A missing value counts as +Inf.
func objectiveVector(t *model.Trial, objectives []string) []float64 {
	if len(objectives) == 0 {
		if t.Score != nil {
			return []float64{*t.Score}
		}
		return []float64{math.Inf(1)}
	}
	out := make([]float64, len(objectives))
	for i, name := range objectives {
		if v, ok := t.Metrics[name]; ok {
			out[i] = v
		} else {
			out[i] = math.Inf(1)
		}
	}
	return out
}

func dominates(a, b []float64) bool {
	betterOrEqualInAll := true
	strictlyBetterInOne := false
	for i := range a {
		if a[i] > b[i] {
			betterOrEqualInAll = false
			break
		}
		if a[i] < b[i] {
			strictlyBetterInOne = true
		}
	}
	return betterOrEqualInAll && strictlyBetterInOne
}

func nonDominatedSort(trials []*model.Trial, objectives []string) [][]*model.Trial {
	n := len(trials)
	vecs := make([][]float64, n)
	for i, t := range trials {
		vecs[i] = objectiveVector(t, objectives)
	}
	dominationCount := make([]int, n)
	dominates_ := make([][]int, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			if dominates(vecs[i], vecs[j]) {
				dominates_[i] = append(dominates_[i], j)
			} else if dominates(vecs[j], vecs[i]) {
				dominationCount[i]++
			}
		}
	}

	var fronts [][]*model.Trial
	remaining := make(map[int]bool, n)
	for i := 0; i < n; i++ {
		remaining[i] = true
	}
	rank := make([]int, n)
	for i := range rank {
		rank[i] = -1
	}

	current := []int{}
	for i := 0; i < n; i++ {
		if dominationCount[i] == 0 {
			current = append(current, i)
		}
	}
	for len(current) > 0 {
		front := make([]*model.Trial, 0, len(current))
		for _, i := range current {
			front = append(front, trials[i])
			delete(remaining, i)
		}
		fronts = append(fronts, front)
		var next []int
		for _, i := range current {
			for _, j := range dominates_[i] {
				dominationCount[j]--
				if dominationCount[j] == 0 {
					next = append(next, j)
				}
			}
		}
		current = next
	}
	return fronts
}

// assignCrowdingDistance computes each trial's crowding distance
// within its own front and records it into out, so tournament
// selection can break rank ties without global state.
func assignCrowdingDistance(front []*model.Trial, objectives []string, out map[*model.Trial]float64) {
	n := len(front)
	if n == 0 {
		return
	}
	objs := objectives
	if len(objs) == 0 {
		objs = []string{"__score__"}
	}
	dist := make([]float64, n)
	for _, obj := range objs {
		sorted := make([]int, n)
		for i := range sorted {
			sorted[i] = i
		}
		value := func(i int) float64 {
			if obj == "__score__" {
				if front[i].Score != nil {
					return *front[i].Score
				}
				return math.Inf(1)
			}
			return front[i].Metrics[obj]
		}
		sort.Slice(sorted, func(a, b int) bool { return value(sorted[a]) < value(sorted[b]) })
		lo, hi := value(sorted[0]), value(sorted[n-1])
		dist[sorted[0]] = math.Inf(1)
		dist[sorted[n-1]] = math.Inf(1)
		span := hi - lo
		if span == 0 {
			continue
		}
		for k := 1; k < n-1; k++ {
			dist[sorted[k]] += (value(sorted[k+1]) - value(sorted[k-1])) / span
		}
	}
	for i, t := range front {
		out[t] = dist[i]
	}
}

// tournamentSelect runs binary tournaments: among two random
// candidates, the one in the better (lower) front wins; ties break on
// larger crowding distance.
func tournamentSelect(rng *rand.Rand, pool []*model.Trial, fronts [][]*model.Trial, crowding map[*model.Trial]float64, count int) []*model.Trial {
	frontOf := make(map[*model.Trial]int, len(pool))
	for fi, front := range fronts {
		for _, t := range front {
			frontOf[t] = fi
		}
	}
	selected := make([]*model.Trial, count)
	for i := 0; i < count; i++ {
		a := pool[rng.Intn(len(pool))]
		b := pool[rng.Intn(len(pool))]
		if betterTournament(a, b, frontOf, crowding) {
			selected[i] = a
		} else {
			selected[i] = b
		}
	}
	return selected
}

func betterTournament(a, b *model.Trial, frontOf map[*model.Trial]int, crowding map[*model.Trial]float64) bool {
	fa, fb := frontOf[a], frontOf[b]
	if fa != fb {
		return fa < fb
	}
	return crowding[a] > crowding[b]
}

// simulatedBinaryCrossover produces one child from two parents:
// continuous/integer/discrete genes use SBX, categorical genes pick
// one parent's value uniformly at random.
func simulatedBinaryCrossover(rng *rand.Rand, sp space.Space, names []string, p1, p2 *model.Trial, eta float64) map[string]any {
	child := make(map[string]any, len(names))
	for _, name := range names {
		d := sp[name]
		if d.Type() == space.TypeChoice {
			if rng.Float64() < 0.5 {
				child[name] = p1.Params[name]
			} else {
				child[name] = p2.Params[name]
			}
			continue
		}
		u1 := d.ToUnit(p1.Params[name])
		u2 := d.ToUnit(p2.Params[name])
		c1, _ := sbx(rng, u1, u2, eta)
		child[name] = d.FromUnit(clamp01(c1))
	}
	return child
}

// sbx applies simulated binary crossover in unit space, returning both
// children (only the first is used by this sampler's single-child
// protocol).
func sbx(rng *rand.Rand, u1, u2, eta float64) (float64, float64) {
	if math.Abs(u1-u2) < 1e-12 {
		return u1, u2
	}
	r := rng.Float64()
	var beta float64
	if r <= 0.5 {
		beta = math.Pow(2*r, 1/(eta+1))
	} else {
		beta = math.Pow(1/(2*(1-r)), 1/(eta+1))
	}
	c1 := 0.5 * ((1 + beta) * u1 + (1 - beta) * u2)
	c2 := 0.5 * ((1 - beta) * u1 + (1 + beta) * u2)
	return c1, c2
}

// polynomialMutate mutates each continuous/integer/discrete gene with
// probability mutationRate; categorical genes are uniformly resampled
// instead, since polynomial mutation has no meaning over categories.
func polynomialMutate(rng *rand.Rand, sp space.Space, names []string, child map[string]any, rate, eta float64) {
	for _, name := range names {
		if rng.Float64() >= rate {
			continue
		}
		d := sp[name]
		if d.Type() == space.TypeChoice {
			child[name] = d.Sample(rng)
			continue
		}
		u := d.ToUnit(child[name])
		r := rng.Float64()
		var delta float64
		if r < 0.5 {
			delta = math.Pow(2*r, 1/(eta+1)) - 1
		} else {
			delta = 1 - math.Pow(2*(1-r), 1/(eta+1))
		}
		child[name] = d.FromUnit(clamp01(u + delta))
	}
}

func clamp01(u float64) float64 {
	if u < 0 {
		return 0
	}
	if u > 1 {
		return 1
	}
	return u
}
