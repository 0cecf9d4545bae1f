package param

import (
	"math"
)

// Prior is a probability density over one parameter value. Density is
// exactly zero outside the prior's support.
type Prior interface {
	Density(x float64) float64
}

// Transformer is the capability nested sampling needs: an inverse CDF
// mapping u in [0,1] onto the prior's support.
type Transformer interface {
	FromUnitCube(u float64) float64
}

// rebounder is implemented by priors whose support follows the parameter
// bounds.
type rebounder interface {
	withBounds(lower, upper float64) Prior
}

type Uniform struct {
	Lower, Upper float64
}

func (p Uniform) Density(x float64) float64 {
	if x < p.Lower || x > p.Upper || p.Upper <= p.Lower {
		return 0
	}
	return 1.0 / (p.Upper - p.Lower)
}

func (p Uniform) FromUnitCube(u float64) float64 {
	return clamp(p.Lower+clamp01(u)*(p.Upper-p.Lower), p.Lower, p.Upper)
}

func (p Uniform) withBounds(lower, upper float64) Prior { return Uniform{Lower: lower, Upper: upper} }

// LogUniform is flat in log(x); both bounds must be positive.
type LogUniform struct {
	Lower, Upper float64
}

func (p LogUniform) Density(x float64) float64 {
	if p.Lower <= 0 || p.Upper <= p.Lower || x < p.Lower || x > p.Upper {
		return 0
	}
	return 1.0 / (x * math.Log(p.Upper/p.Lower))
}

func (p LogUniform) FromUnitCube(u float64) float64 {
	x := p.Lower * math.Exp(clamp01(u)*math.Log(p.Upper/p.Lower))
	return clamp(x, p.Lower, p.Upper)
}

func (p LogUniform) withBounds(lower, upper float64) Prior {
	if lower <= 0 {
		return Uniform{Lower: lower, Upper: upper}
	}
	return LogUniform{Lower: lower, Upper: upper}
}

// TruncatedGaussian is a normal distribution restricted to [Lower, Upper].
type TruncatedGaussian struct {
	Mu, Sigma    float64
	Lower, Upper float64
}

func (p TruncatedGaussian) Density(x float64) float64 {
	if p.Sigma <= 0 || x < p.Lower || x > p.Upper {
		return 0
	}
	mass := p.mass()
	if mass <= 0 {
		return 0
	}
	z := (x - p.Mu) / p.Sigma
	return math.Exp(-0.5*z*z) / (p.Sigma * math.Sqrt(2*math.Pi) * mass)
}

func (p TruncatedGaussian) FromUnitCube(u float64) float64 {
	lo := stdNormalCDF((p.Lower - p.Mu) / p.Sigma)
	hi := stdNormalCDF((p.Upper - p.Mu) / p.Sigma)
	q := lo + clamp01(u)*(hi-lo)
	// Erfinv is infinite at the ends of [-1, 1]
	if q <= 0 {
		return p.Lower
	}
	if q >= 1 {
		return p.Upper
	}
	x := p.Mu + p.Sigma*math.Sqrt2*math.Erfinv(2*q-1)
	return clamp(x, p.Lower, p.Upper)
}

func (p TruncatedGaussian) withBounds(lower, upper float64) Prior {
	p.Lower, p.Upper = lower, upper
	return p
}

func (p TruncatedGaussian) mass() float64 {
	return stdNormalCDF((p.Upper-p.Mu)/p.Sigma) - stdNormalCDF((p.Lower-p.Mu)/p.Sigma)
}

// DensityFunc adapts a plain density function. It has no unit-cube
// transform and so cannot drive a nested-sampling fit.
type DensityFunc func(x float64) float64

func (f DensityFunc) Density(x float64) float64 { return f(x) }

func stdNormalCDF(z float64) float64 {
	return 0.5 * math.Erfc(-z/math.Sqrt2)
}

func clamp01(u float64) float64 {
	return clamp(u, 0, 1)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
