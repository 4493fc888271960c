package space

import (
	"fmt"
	"math"
	"math/rand"
)

// Uniform is a continuous distribution on [Low, High], Low < High.
type Uniform struct {
	Low, High float64
}

// NewUniform validates bounds and returns a Uniform distribution.
func NewUniform(low, high float64) (*Uniform, error) {
	if !(low < high) {
		return nil, fmt.Errorf("uniform: low (%v) must be < high (%v)", low, high)
	}
	return &Uniform{Low: low, High: high}, nil
}

func (u *Uniform) Type() Type { return TypeUniform }

func (u *Uniform) Sample(rng *rand.Rand) any {
	return u.Low + rng.Float64()*(u.High-u.Low)
}

func (u *Uniform) ToUnit(value any) float64 {
	v := asFloat(value)
	return clamp01((v - u.Low) / (u.High - u.Low))
}

func (u *Uniform) FromUnit(unit float64) any {
	unit = clamp01(unit)
	return u.Low + unit*(u.High-u.Low)
}

func (u *Uniform) LogDensity(value any) float64 {
	v := asFloat(value)
	if v < u.Low || v > u.High {
		return math.Inf(-1)
	}
	return -math.Log(u.High - u.Low)
}

func (u *Uniform) Validate(value any) error {
	v, ok := toFloat(value)
	if !ok {
		return fmt.Errorf("uniform: value %v is not numeric", value)
	}
	if v < u.Low || v > u.High {
		return fmt.Errorf("uniform: value %v outside [%v,%v]", v, u.Low, u.High)
	}
	return nil
}

// LogUniform is sampled on [log Low, log High] and exponentiated, with
// 0 < Low < High.
type LogUniform struct {
	Low, High    float64
	logLo, logHi float64
}

// NewLogUniform validates bounds and returns a LogUniform distribution.
func NewLogUniform(low, high float64) (*LogUniform, error) {
	if !(low > 0) {
		return nil, fmt.Errorf("log_uniform: low (%v) must be > 0", low)
	}
	if !(low < high) {
		return nil, fmt.Errorf("log_uniform: low (%v) must be < high (%v)", low, high)
	}
	return &LogUniform{Low: low, High: high, logLo: math.Log(low), logHi: math.Log(high)}, nil
}

func (u *LogUniform) Type() Type { return TypeLogUniform }

func (u *LogUniform) Sample(rng *rand.Rand) any {
	lu := u.logLo + rng.Float64()*(u.logHi-u.logLo)
	return math.Exp(lu)
}

func (u *LogUniform) ToUnit(value any) float64 {
	v := asFloat(value)
	if v <= 0 {
		return 0
	}
	return clamp01((math.Log(v) - u.logLo) / (u.logHi - u.logLo))
}

func (u *LogUniform) FromUnit(unit float64) any {
	unit = clamp01(unit)
	lu := u.logLo + unit*(u.logHi-u.logLo)
	return math.Exp(lu)
}

func (u *LogUniform) LogDensity(value any) float64 {
	v := asFloat(value)
	if v <= 0 || v < u.Low || v > u.High {
		return math.Inf(-1)
	}
	// Density is uniform in log-space; converting back to linear space
	// introduces a 1/v Jacobian term.
	return -math.Log(u.logHi-u.logLo) - math.Log(v)
}

func (u *LogUniform) Validate(value any) error {
	v, ok := toFloat(value)
	if !ok {
		return fmt.Errorf("log_uniform: value %v is not numeric", value)
	}
	if v <= 0 {
		return fmt.Errorf("log_uniform: value %v must be > 0", v)
	}
	if v < u.Low || v > u.High {
		return fmt.Errorf("log_uniform: value %v outside [%v,%v]", v, u.Low, u.High)
	}
	return nil
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

func asFloat(value any) float64 {
	f, _ := toFloat(value)
	return f
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
