// Package space implements search-space specifications and the
// distributions they are built from: uniform, log-uniform, integer,
// discrete-uniform, and categorical. Every distribution can sample a
// value, map it to and from the unit interval, and score its
// log-density.
package space

import "math/rand"

// Type tags a Distribution for dispatch without a type switch at every
// call site.
type Type string

const (
	TypeUniform         Type = "uniform"
	TypeLogUniform      Type = "log_uniform"
	TypeInt             Type = "int"
	TypeDiscreteUniform Type = "discrete_uniform"
	TypeChoice          Type = "choice"
)

// Distribution is the contract every parameter kind satisfies.
//
// Sample draws a value from the distribution using rng.
//
// ToUnit maps a value produced by this distribution onto [0,1],
// monotonically. FromUnit is its inverse, clamped to the distribution's
// bounds. FromUnit(ToUnit(v)) == v exactly for Uniform/LogUniform and up
// to rounding for the discrete kinds.
//
// LogDensity returns the log probability density (or, for Choice, log
// probability mass) of value under a uniform-over-the-space prior. No
// sampler in this module calls it: TPE's KDE smoothing term is a uniform
// prior over the unit-mapped interval instead.
type Distribution interface {
	Type() Type
	Sample(rng *rand.Rand) any
	ToUnit(value any) float64
	FromUnit(u float64) any
	LogDensity(value any) float64
	// Validate reports a non-nil error if value is not a legal member of
	// this distribution's domain.
	Validate(value any) error
}

// Space maps parameter names to distributions. A Space may be static or
// produced per trial index by a Func, to support conditional parameters
// (a parameter absent for some trial indices).
type Space map[string]Distribution

// Func produces the (possibly conditional) search space for a given
// trial index. A static Space s can always be wrapped as
// `func(int64) Space { return s }`.
type Func func(trialIndex int64) Space

// Static adapts a fixed Space into a Func.
func Static(s Space) Func {
	return func(int64) Space { return s }
}

// Sample draws one value for every parameter in the space.
func (s Space) Sample(rng *rand.Rand) map[string]any {
	out := make(map[string]any, len(s))
	for _, name := range s.Names() {
		out[name] = s[name].Sample(rng)
	}
	return out
}

// Validate checks that params satisfies every distribution in the space
// and carries no unknown keys.
func (s Space) Validate(params map[string]any) error {
	for name, d := range s {
		v, ok := params[name]
		if !ok {
			return &ValidationError{Param: name, Reason: "missing"}
		}
		if err := d.Validate(v); err != nil {
			return err
		}
	}
	for name := range params {
		if _, ok := s[name]; !ok {
			return &ValidationError{Param: name, Reason: "not part of the search space"}
		}
	}
	return nil
}

// Names returns the parameter names of the space in a stable, sorted
// order so that callers iterating the space (grid construction, KDE
// fitting) see a deterministic key order.
func (s Space) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sortStrings(names)
	return names
}

func sortStrings(ss []string) {
	// Small, local insertion sort: search spaces rarely exceed a few tens
	// of parameters, and avoiding an import keeps this leaf package
	// dependency-free.
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j-1] > ss[j]; j-- {
			ss[j-1], ss[j] = ss[j], ss[j-1]
		}
	}
}

// ValidationError reports a malformed parameter value or specification.
type ValidationError struct {
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "parameter " + e.Param + ": " + e.Reason
}
