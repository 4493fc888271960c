// Package pruner defines the Pruner contract shared by every
// early-stopping strategy (Median/Percentile, Successive Halving,
// Hyperband, Patient, Threshold, Wilcoxon) and a small registry
// pruners can be looked up from by name, mirroring pkg/sampler.
package pruner

import "github.com/tuneforge/tuneforge/pkg/model"

// Opts configures a pruner at Init time.
type Opts struct {
	Goal model.Goal
	// Extra carries pruner-specific knobs (n_warmup_trials,
	// n_startup_trials, reduction factor, patience, thresholds, ...).
	Extra map[string]any
}

// IntOr returns o.Extra[key] as an int, or def if absent or the wrong
// type.
func (o Opts) IntOr(key string, def int) int {
	if v, ok := o.Extra[key]; ok {
		switch t := v.(type) {
		case int:
			return t
		case int64:
			return int(t)
		case float64:
			return int(t)
		}
	}
	return def
}

// Float64Or returns o.Extra[key] as a float64, or def if absent or the
// wrong type.
func (o Opts) Float64Or(key string, def float64) float64 {
	if v, ok := o.Extra[key]; ok {
		switch t := v.(type) {
		case float64:
			return t
		case int:
			return float64(t)
		case int64:
			return float64(t)
		}
	}
	return def
}

// State is an opaque, pruner-specific value threaded through
// successive calls. The coordinator never inspects it.
type State any

// Context carries the ambient facts a keep decision may depend on
// beyond the score history itself.
type Context struct {
	StudyID string
	Goal    model.Goal
	Bracket int
}

// ScoreAtRung is one trial's reported score at a given rung, the unit
// pruners compare against each other.
type ScoreAtRung struct {
	TrialID string
	Rung    int
	Value   float64
}

// Pruner decides whether a running trial should continue after each
// reported observation, and assigns trials to resource brackets for
// bandit-style schedules (SHA, Hyperband).
type Pruner interface {
	// Init builds the initial state for a fresh study.
	Init(opts Opts) (State, error)
	// AssignBracket assigns trialIndex to a resource bracket. Non-bandit
	// pruners always return bracket 0.
	AssignBracket(trialIndex int64, state State) (int, State)
	// Keep reports whether trialID should continue given its own score
	// history scoresSoFar (ascending by rung, this trial only) at rung,
	// and the scores every other trial in the same bracket has reported
	// at comparable rungs (rungHistory). Returns false to prune.
	Keep(trialID string, scoresSoFar []ScoreAtRung, rung int, rungHistory []ScoreAtRung, ctx Context, state State) (bool, State)
}

// Factory builds a fresh, unconfigured Pruner instance.
type Factory func() Pruner

var registry = map[string]Factory{}

// Register adds a pruner factory under name. Intended to be called
// from each pruner subpackage's init().
func Register(name string, f Factory) {
	registry[name] = f
}

// New looks up a registered pruner factory by name.
func New(name string) (Pruner, bool) {
	f, ok := registry[name]
	if !ok {
		return nil, false
	}
	return f(), true
}
