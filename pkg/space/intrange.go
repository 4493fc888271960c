package space

import (
	"fmt"
	"math"
	"math/rand"
)

// IntRange is an inclusive integer range, Low <= High.
type IntRange struct {
	Low, High int64
}

// NewIntRange validates bounds and returns an IntRange distribution.
func NewIntRange(low, high int64) (*IntRange, error) {
	if low > high {
		return nil, fmt.Errorf("int: low (%d) must be <= high (%d)", low, high)
	}
	return &IntRange{Low: low, High: high}, nil
}

func (r *IntRange) Type() Type { return TypeInt }

func (r *IntRange) span() int64 { return r.High - r.Low }

func (r *IntRange) Sample(rng *rand.Rand) any {
	if r.span() == 0 {
		return r.Low
	}
	return r.Low + rng.Int63n(r.span()+1)
}

func (r *IntRange) ToUnit(value any) float64 {
	v := asInt(value)
	if r.span() == 0 {
		return 0
	}
	return clamp01(float64(v-r.Low) / float64(r.span()))
}

func (r *IntRange) FromUnit(unit float64) any {
	unit = clamp01(unit)
	if r.span() == 0 {
		return r.Low
	}
	v := r.Low + int64(math.Round(unit*float64(r.span())))
	if v < r.Low {
		v = r.Low
	}
	if v > r.High {
		v = r.High
	}
	return v
}

func (r *IntRange) LogDensity(value any) float64 {
	v := asInt(value)
	if v < r.Low || v > r.High {
		return math.Inf(-1)
	}
	return -math.Log(float64(r.span() + 1))
}

func (r *IntRange) Validate(value any) error {
	v, ok := toInt(value)
	if !ok {
		return fmt.Errorf("int: value %v is not an integer", value)
	}
	if v < r.Low || v > r.High {
		return fmt.Errorf("int: value %d outside [%d,%d]", v, r.Low, r.High)
	}
	return nil
}

func asInt(value any) int64 {
	i, _ := toInt(value)
	return i
}

func toInt(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		if v == math.Trunc(v) {
			return int64(v), true
		}
		return int64(math.Round(v)), true
	case float32:
		return int64(math.Round(float64(v))), true
	default:
		return 0, false
	}
}

// DiscreteUniform yields values Low + k*Step within [Low, High], Step > 0.
type DiscreteUniform struct {
	Low, High, Step float64
	steps           int64
}

// NewDiscreteUniform validates bounds/step and returns a DiscreteUniform
// distribution.
func NewDiscreteUniform(low, high, step float64) (*DiscreteUniform, error) {
	if !(step > 0) {
		return nil, fmt.Errorf("discrete_uniform: step (%v) must be > 0", step)
	}
	if !(low < high) {
		return nil, fmt.Errorf("discrete_uniform: low (%v) must be < high (%v)", low, high)
	}
	n := int64(math.Floor((high-low)/step + 1e-9))
	return &DiscreteUniform{Low: low, High: high, Step: step, steps: n}, nil
}

func (d *DiscreteUniform) Type() Type { return TypeDiscreteUniform }

func (d *DiscreteUniform) value(k int64) float64 {
	v := d.Low + float64(k)*d.Step
	if v > d.High {
		v = d.High
	}
	return v
}

func (d *DiscreteUniform) Sample(rng *rand.Rand) any {
	k := rng.Int63n(d.steps + 1)
	return d.value(k)
}

func (d *DiscreteUniform) nearestK(v float64) int64 {
	k := int64(math.Round((v - d.Low) / d.Step))
	if k < 0 {
		k = 0
	}
	if k > d.steps {
		k = d.steps
	}
	return k
}

func (d *DiscreteUniform) ToUnit(value any) float64 {
	v := asFloat(value)
	k := d.nearestK(v)
	return clamp01(float64(k) / float64(d.steps))
}

func (d *DiscreteUniform) FromUnit(unit float64) any {
	unit = clamp01(unit)
	k := int64(math.Round(unit * float64(d.steps)))
	return d.value(k)
}

func (d *DiscreteUniform) LogDensity(value any) float64 {
	v := asFloat(value)
	k := d.nearestK(v)
	if math.Abs(d.value(k)-v) > d.Step/2+1e-9 {
		return math.Inf(-1)
	}
	return -math.Log(float64(d.steps + 1))
}

func (d *DiscreteUniform) Validate(value any) error {
	v, ok := toFloat(value)
	if !ok {
		return fmt.Errorf("discrete_uniform: value %v is not numeric", value)
	}
	if v < d.Low-1e-9 || v > d.High+1e-9 {
		return fmt.Errorf("discrete_uniform: value %v outside [%v,%v]", v, d.Low, d.High)
	}
	k := d.nearestK(v)
	if math.Abs(d.value(k)-v) > 1e-6*(1+math.Abs(v)) {
		return fmt.Errorf("discrete_uniform: value %v is not step-aligned (step=%v)", v, d.Step)
	}
	return nil
}
