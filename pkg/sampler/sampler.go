// Package sampler defines the Sampler contract shared by every search
// strategy (Random, Grid, TPE, CMA-ES, NSGA-II, QMC) and a small registry
// samplers can be looked up from by name. A Sampler is a pure function of
// (space, trial index, history, state): Next must return parameters
// satisfying the space for that trial index and be total for any
// history, including an empty one.
//
// State is threaded explicitly rather than mutated on a receiver so the
// coordinator can serialize Next calls without samplers needing to be
// safe for concurrent use themselves; a sampler that has nothing to
// cache can simply round-trip an unchanged State value.
package sampler

import (
	"github.com/tuneforge/tuneforge/pkg/model"
	"github.com/tuneforge/tuneforge/pkg/space"
)

// Opts configures a sampler at Init time.
type Opts struct {
	Seed uint64
	Goal model.Goal
	// Extra carries sampler-specific knobs (e.g. TPE's n_candidates,
	// CMA-ES's population size, Grid's grid_points) as a loosely typed
	// bag so the shared Sampler interface does not need one field per
	// algorithm.
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

// BoolOr returns o.Extra[key] as a bool, or def if absent or the wrong
// type.
func (o Opts) BoolOr(key string, def bool) bool {
	if v, ok := o.Extra[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// State is an opaque, sampler-specific value threaded through successive
// Next calls. The coordinator never inspects it.
type State any

// Sampler proposes the next trial's parameters from history.
type Sampler interface {
	// Init builds the initial state for a fresh study.
	Init(opts Opts) (State, error)
	// Next proposes parameters for trialIndex. history contains only
	// trials that were terminal at the moment of the call (the
	// coordinator guarantees this ordering); it may contain holes for
	// still-running trials, which samplers must tolerate by filtering
	// with history.Succeeded()/Terminal().
	Next(spaceFn space.Func, trialIndex int64, history model.History, state State) (map[string]any, State, error)
}

// Factory builds a fresh, unconfigured Sampler instance. Registered
// factories let callers select a sampler by name from study
// configuration (e.g. loaded from YAML) instead of wiring up Go types
// directly.
type Factory func() Sampler

var registry = map[string]Factory{}

// Register adds a sampler factory under name. Intended to be called from
// each sampler subpackage's init().
func Register(name string, f Factory) {
	registry[name] = f
}

// New looks up a registered sampler factory by name.
func New(name string) (Sampler, bool) {
	f, ok := registry[name]
	if !ok {
		return nil, false
	}
	return f(), true
}
