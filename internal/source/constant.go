package source

import (
	"fmt"

	"gbmbkg/internal/param"
	"gbmbkg/internal/series"
)

// Constant is a flat rate on one channel, or on every channel with
// AllChannels. Parameter: "rate" (counts/s).
type Constant struct {
	Base
	echan int
	rate  *param.Parameter
}

func NewConstant(name string, channels, echan int, rate *param.Parameter) (*Constant, error) {
	if rate == nil {
		return nil, fmt.Errorf("source %s: rate parameter is required", name)
	}
	if err := checkChannel(name, echan, channels); err != nil {
		return nil, err
	}
	base, err := newBase(name, channels, rate)
	if err != nil {
		return nil, err
	}
	return &Constant{Base: base, echan: echan, rate: rate}, nil
}

func (s *Constant) PredictedCounts(q Query) (*series.Matrix, error) {
	bins, _, err := s.grid(q)
	if err != nil {
		return nil, err
	}
	m := series.NewMatrix(len(bins), s.channels)
	r := s.rate.Value()
	for i, b := range bins {
		fill(m, i, s.echan, r*b.Width())
	}
	return m, nil
}

// CosmicRay is the cosmic-ray proxy of one channel: const + norm*L(t),
// where L is the McIlwain L collaborator (first value of its rates).
// Parameters: "const", "norm".
type CosmicRay struct {
	Base
	echan    int
	constant *param.Parameter
	norm     *param.Parameter
	mcilwain RateFunc
	cache    edgeRates
}

func NewCosmicRay(name string, channels, echan int, mcilwain RateFunc, constant, norm *param.Parameter) (*CosmicRay, error) {
	if mcilwain == nil {
		return nil, fmt.Errorf("source %s: McIlwain L collaborator is required", name)
	}
	if constant == nil || norm == nil {
		return nil, fmt.Errorf("source %s: const and norm parameters are required", name)
	}
	if err := checkChannel(name, echan, channels); err != nil {
		return nil, err
	}
	base, err := newBase(name, channels, constant, norm)
	if err != nil {
		return nil, err
	}
	return &CosmicRay{Base: base, echan: echan, constant: constant, norm: norm, mcilwain: mcilwain}, nil
}

func (s *CosmicRay) BindTimeBins(bins series.TimeBins) error {
	if err := s.Base.BindTimeBins(bins); err != nil {
		return err
	}
	s.cache = sampleEdges(s.mcilwain, s.bins)
	return nil
}

func (s *CosmicRay) PredictedCounts(q Query) (*series.Matrix, error) {
	bins, idx, err := s.grid(q)
	if err != nil {
		return nil, err
	}
	edges := s.cache
	if idx == nil {
		edges = sampleEdges(s.mcilwain, bins)
	}
	c, n := s.constant.Value(), s.norm.Value()
	m := series.NewMatrix(len(bins), s.channels)
	for i, b := range bins {
		row := i
		if idx != nil {
			row = idx[i]
		}
		w := b.Width()
		l := edges.trapezoid(row, 0, w)
		fill(m, i, s.echan, c*w+n*l)
	}
	return m, nil
}

func fill(m *series.Matrix, row, echan int, v float64) {
	if echan == AllChannels {
		for j := 0; j < m.Cols(); j++ {
			m.Set(row, j, v)
		}
		return
	}
	m.Set(row, echan, v)
}
