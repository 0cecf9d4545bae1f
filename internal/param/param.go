// Package param implements model parameters, their priors and the ordered
// parameter namespaces the background model exposes to the fit driver.
//
// A namespace is positional: the i-th column of a stored posterior matrix is
// the i-th key of the namespace that produced it, so insertion order is
// preserved exactly and never sorted.
package param

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrDuplicateName    = errors.New("duplicate name")
	ErrOutOfBounds      = errors.New("value outside parameter bounds")
	ErrShapeMismatch    = errors.New("vector length does not match parameter count")
	ErrUnsupportedPrior = errors.New("prior has no unit-cube transform")
	ErrInvalidBounds    = errors.New("invalid parameter bounds")
)

// Parameter is a scalar model parameter with bounds and a prior.
type Parameter struct {
	name         string
	value        float64
	lower, upper float64
	prior        Prior
}

// New creates a parameter. A nil prior defaults to Uniform over the bounds.
func New(name string, value, lower, upper float64, prior Prior) (*Parameter, error) {
	if name == "" {
		return nil, errors.New("parameter name is required")
	}
	if math.IsNaN(lower) || math.IsNaN(upper) || lower > upper {
		return nil, fmt.Errorf("%w: %s [%g, %g]", ErrInvalidBounds, name, lower, upper)
	}
	if value < lower || value > upper || math.IsNaN(value) {
		return nil, fmt.Errorf("%w: %s=%g not in [%g, %g]", ErrOutOfBounds, name, value, lower, upper)
	}
	if prior == nil {
		prior = Uniform{Lower: lower, Upper: upper}
	}
	return &Parameter{name: name, value: value, lower: lower, upper: upper, prior: prior}, nil
}

// MustNew is New for statically known parameters; it panics on error.
func MustNew(name string, value, lower, upper float64, prior Prior) *Parameter {
	p, err := New(name, value, lower, upper, prior)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Parameter) Name() string { return p.name }

func (p *Parameter) Value() float64 { return p.value }

func (p *Parameter) Bounds() (lower, upper float64) { return p.lower, p.upper }

func (p *Parameter) Prior() Prior { return p.prior }

// SetValue assigns v; values outside the bounds are rejected.
func (p *Parameter) SetValue(v float64) error {
	if math.IsNaN(v) || v < p.lower || v > p.upper {
		return fmt.Errorf("%w: %s=%g not in [%g, %g]", ErrOutOfBounds, p.name, v, p.lower, p.upper)
	}
	p.value = v
	return nil
}

// SetBounds replaces the bounds. Priors whose support follows the bounds
// are rebuilt; a current value outside the new range moves to the nearest
// bound.
func (p *Parameter) SetBounds(lower, upper float64) error {
	if math.IsNaN(lower) || math.IsNaN(upper) || lower > upper {
		return fmt.Errorf("%w: %s [%g, %g]", ErrInvalidBounds, p.name, lower, upper)
	}
	p.lower, p.upper = lower, upper
	if rb, ok := p.prior.(rebounder); ok {
		p.prior = rb.withBounds(lower, upper)
	}
	p.value = clamp(p.value, lower, upper)
	return nil
}

func (p *Parameter) SetPrior(prior Prior) error {
	if prior == nil {
		return fmt.Errorf("prior for %s is nil", p.name)
	}
	p.prior = prior
	return nil
}

// Density evaluates the prior density at x.
func (p *Parameter) Density(x float64) float64 { return p.prior.Density(x) }

// FromUnitCube maps u through the prior's inverse CDF, kept inside the
// parameter bounds.
func (p *Parameter) FromUnitCube(u float64) (float64, error) {
	t, ok := p.prior.(Transformer)
	if !ok {
		return 0, fmt.Errorf("%w: %s (%T)", ErrUnsupportedPrior, p.name, p.prior)
	}
	return clamp(t.FromUnitCube(u), p.lower, p.upper), nil
}
