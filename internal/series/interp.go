package series

import (
	"errors"
	"fmt"
	"sort"
)

var ErrInterpTable = errors.New("invalid interpolation table")

// Interpolator linearly interpolates per-channel rates sampled at strictly
// increasing times. Outside the sampled range the end values are held.
type Interpolator struct {
	times  []float64
	values [][]float64
	cols   int
}

func NewInterpolator(times []float64, values [][]float64) (*Interpolator, error) {
	if len(times) == 0 {
		return nil, fmt.Errorf("%w: no samples", ErrInterpTable)
	}
	if len(times) != len(values) {
		return nil, fmt.Errorf("%w: %d times, %d rows", ErrInterpTable, len(times), len(values))
	}
	cols := len(values[0])
	for i := range times {
		if len(values[i]) != cols {
			return nil, fmt.Errorf("%w: row %d has %d channels, want %d", ErrInterpTable, i, len(values[i]), cols)
		}
		if i > 0 && times[i] <= times[i-1] {
			return nil, fmt.Errorf("%w: times not strictly increasing at %d", ErrInterpTable, i)
		}
	}
	t := make([]float64, len(times))
	copy(t, times)
	v := make([][]float64, len(values))
	for i := range values {
		v[i] = append([]float64(nil), values[i]...)
	}
	return &Interpolator{times: t, values: v, cols: cols}, nil
}

func (p *Interpolator) Channels() int { return p.cols }

// Rates returns the interpolated per-channel values at t.
func (p *Interpolator) Rates(t float64) []float64 {
	out := make([]float64, p.cols)
	n := len(p.times)
	if t <= p.times[0] {
		copy(out, p.values[0])
		return out
	}
	if t >= p.times[n-1] {
		copy(out, p.values[n-1])
		return out
	}
	hi := sort.SearchFloat64s(p.times, t)
	if p.times[hi] == t {
		copy(out, p.values[hi])
		return out
	}
	lo := hi - 1
	w := (t - p.times[lo]) / (p.times[hi] - p.times[lo])
	for j := range out {
		out[j] = p.values[lo][j] + w*(p.values[hi][j]-p.values[lo][j])
	}
	return out
}
