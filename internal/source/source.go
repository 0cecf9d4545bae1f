// Package source defines the background source components a model sums
// over, and the concrete source kinds: constant and cosmic-ray proxies,
// SAA recovery decays, point sources and the Earth albedo / CGB continua.
package source

import (
	"errors"
	"fmt"

	"gbmbkg/internal/param"
	"gbmbkg/internal/series"
)

var (
	ErrAlreadyBound  = errors.New("time bins already bound")
	ErrNotBound      = errors.New("time bins not bound")
	ErrExclusiveGrid = errors.New("bin mask and alternate time bins are mutually exclusive")
	ErrChannel       = errors.New("energy channel out of range")
)

// AllChannels makes a per-channel source contribute to every channel.
const AllChannels = -1

// Query selects the grid a source predicts over. The zero value means the
// bound fit grid.
type Query struct {
	// Mask restricts the bound grid to the bins whose entry is true.
	Mask []bool
	// Bins replaces the bound grid, e.g. an oversampled plotting grid.
	Bins series.TimeBins
}

// Source is one additive background component.
type Source interface {
	Name() string
	// Parameters returns the source's own parameters keyed by local name.
	Parameters() *param.Set
	Channels() int
	BindTimeBins(bins series.TimeBins) error
	// PredictedCounts returns time bins × channels expected counts. It
	// depends only on current parameter values and the selected grid.
	PredictedCounts(q Query) (*series.Matrix, error)
}

// RateFunc supplies per-channel rates (counts/s) as a function of mission
// elapsed time, e.g. an interpolated Earth albedo rate or McIlwain L.
type RateFunc interface {
	Rates(t float64) []float64
}

// Response supplies a time-dependent effective-area matrix
// [channel][photon energy bin] with photon energy bin edges in keV.
type Response interface {
	EnergyEdges() []float64
	Matrix(t float64) [][]float64
}

// Base carries what every source kind shares: name, parameters, channel
// count and the bound time grid.
type Base struct {
	name     string
	channels int
	params   *param.Set
	bins     series.TimeBins
	bound    bool
}

func newBase(name string, channels int, params ...*param.Parameter) (Base, error) {
	if name == "" {
		return Base{}, errors.New("source name is required")
	}
	if channels <= 0 {
		return Base{}, fmt.Errorf("source %s: channels must be > 0", name)
	}
	set := param.NewSet()
	for _, p := range params {
		if p == nil {
			return Base{}, fmt.Errorf("source %s: nil parameter", name)
		}
		if err := set.Add(p.Name(), p); err != nil {
			return Base{}, fmt.Errorf("source %s: %w", name, err)
		}
	}
	return Base{name: name, channels: channels, params: set}, nil
}

func (b *Base) Name() string { return b.name }

func (b *Base) Parameters() *param.Set { return b.params }

func (b *Base) Channels() int { return b.channels }

func (b *Base) TimeBins() series.TimeBins { return b.bins }

func (b *Base) BindTimeBins(bins series.TimeBins) error {
	if b.bound {
		return fmt.Errorf("%w: source %s", ErrAlreadyBound, b.name)
	}
	b.bins = bins.Clone()
	b.bound = true
	return nil
}

// grid resolves q to the bins to evaluate and, when the bound grid is used,
// the indices of those bins within it.
func (b *Base) grid(q Query) (series.TimeBins, []int, error) {
	if q.Bins != nil && q.Mask != nil {
		return nil, nil, fmt.Errorf("%w: source %s", ErrExclusiveGrid, b.name)
	}
	if q.Bins != nil {
		return q.Bins, nil, nil
	}
	if !b.bound {
		return nil, nil, fmt.Errorf("%w: source %s", ErrNotBound, b.name)
	}
	if q.Mask == nil {
		idx := make([]int, len(b.bins))
		for i := range idx {
			idx[i] = i
		}
		return b.bins, idx, nil
	}
	sel, err := b.bins.Select(q.Mask)
	if err != nil {
		return nil, nil, fmt.Errorf("source %s: %w", b.name, err)
	}
	idx := make([]int, 0, len(sel))
	for i, keep := range q.Mask {
		if keep {
			idx = append(idx, i)
		}
	}
	return sel, idx, nil
}

func checkChannel(name string, echan, channels int) error {
	if echan == AllChannels {
		return nil
	}
	if echan < 0 || echan >= channels {
		return fmt.Errorf("%w: source %s echan=%d channels=%d", ErrChannel, name, echan, channels)
	}
	return nil
}

// edgeRates samples fn at every bin edge; the trapezoid rule over a bin is
// then 0.5*(start+stop)*width.
type edgeRates struct {
	start, stop [][]float64
}

func sampleEdges(fn RateFunc, bins series.TimeBins) edgeRates {
	out := edgeRates{start: make([][]float64, len(bins)), stop: make([][]float64, len(bins))}
	for i, b := range bins {
		out.start[i] = fn.Rates(b.Start)
		out.stop[i] = fn.Rates(b.Stop)
	}
	return out
}

func (e edgeRates) trapezoid(i, ch int, width float64) float64 {
	return 0.5 * (at(e.start[i], ch) + at(e.stop[i], ch)) * width
}

func at(rates []float64, ch int) float64 {
	if ch < len(rates) {
		return rates[ch]
	}
	return 0
}
