package source

import (
	"errors"
	"fmt"
	"math"

	"gbmbkg/internal/param"
	"gbmbkg/internal/series"
)

// Default names of the continuum sources. Sub-models of a combined fit that
// use the same names share the continuum parameters.
const (
	EarthName = "earth"
	CGBName   = "cgb"
)

// PowerLawPivot is the pivot energy (keV) of PowerLaw.
const PowerLawPivot = 100.0

// Spectrum is a photon spectrum whose shape is set by its parameters.
type Spectrum interface {
	Parameters() []*param.Parameter
	// Integral returns the photon flux between e0 and e1 keV.
	Integral(e0, e1 float64) float64
}

// PowerLaw is C*(E/PowerLawPivot)^-index. Parameters: "C", "index".
type PowerLaw struct {
	C, Index *param.Parameter
}

func (p PowerLaw) Parameters() []*param.Parameter { return []*param.Parameter{p.C, p.Index} }

func (p PowerLaw) Integral(e0, e1 float64) float64 {
	return p.C.Value() * powerLawIntegral(p.Index.Value(), PowerLawPivot, e0, e1)
}

// BrokenPowerLaw is C*(E/Eb)^-index1 below Eb and C*(E/Eb)^-index2 above.
// Parameters: "C", "index1", "index2", "break_energy".
type BrokenPowerLaw struct {
	C, Index1, Index2, Break *param.Parameter
}

func (p BrokenPowerLaw) Parameters() []*param.Parameter {
	return []*param.Parameter{p.C, p.Index1, p.Index2, p.Break}
}

func (p BrokenPowerLaw) Integral(e0, e1 float64) float64 {
	eb := p.Break.Value()
	c := p.C.Value()
	switch {
	case e1 <= eb:
		return c * powerLawIntegral(p.Index1.Value(), eb, e0, e1)
	case e0 >= eb:
		return c * powerLawIntegral(p.Index2.Value(), eb, e0, e1)
	default:
		return c * (powerLawIntegral(p.Index1.Value(), eb, e0, eb) + powerLawIntegral(p.Index2.Value(), eb, eb, e1))
	}
}

// powerLawIntegral integrates (E/pivot)^-index over [e0, e1].
func powerLawIntegral(index, pivot, e0, e1 float64) float64 {
	if e1 <= e0 || e0 <= 0 {
		return 0
	}
	if math.Abs(index-1) < 1e-9 {
		return pivot * math.Log(e1/e0)
	}
	k := 1 - index
	return pivot / k * (math.Pow(e1/pivot, k) - math.Pow(e0/pivot, k))
}

// Scaled multiplies a fixed-shape rate collaborator by one normalisation:
// a point source with fixed spectrum, or the Earth albedo / CGB continuum
// with fixed spectrum. Parameter: "norm".
type Scaled struct {
	Base
	basis RateFunc
	norm  *param.Parameter
	cache edgeRates
}

func NewScaled(name string, channels int, basis RateFunc, norm *param.Parameter) (*Scaled, error) {
	if basis == nil {
		return nil, fmt.Errorf("source %s: rate collaborator is required", name)
	}
	if norm == nil {
		return nil, fmt.Errorf("source %s: norm parameter is required", name)
	}
	base, err := newBase(name, channels, norm)
	if err != nil {
		return nil, err
	}
	return &Scaled{Base: base, basis: basis, norm: norm}, nil
}

// NewFixedPointSource names a Scaled point source "ps_<name>".
func NewFixedPointSource(name string, channels int, basis RateFunc, norm *param.Parameter) (*Scaled, error) {
	return NewScaled("ps_"+name, channels, basis, norm)
}

func NewEarthFixed(channels int, basis RateFunc, norm *param.Parameter) (*Scaled, error) {
	return NewScaled(EarthName, channels, basis, norm)
}

func NewCGBFixed(channels int, basis RateFunc, norm *param.Parameter) (*Scaled, error) {
	return NewScaled(CGBName, channels, basis, norm)
}

func (s *Scaled) BindTimeBins(bins series.TimeBins) error {
	if err := s.Base.BindTimeBins(bins); err != nil {
		return err
	}
	s.cache = sampleEdges(s.basis, s.bins)
	return nil
}

func (s *Scaled) PredictedCounts(q Query) (*series.Matrix, error) {
	bins, idx, err := s.grid(q)
	if err != nil {
		return nil, err
	}
	edges := s.cache
	if idx == nil {
		edges = sampleEdges(s.basis, bins)
	}
	n := s.norm.Value()
	m := series.NewMatrix(len(bins), s.channels)
	for i, b := range bins {
		row := i
		if idx != nil {
			row = idx[i]
		}
		w := b.Width()
		for j := 0; j < s.channels; j++ {
			m.Set(i, j, n*edges.trapezoid(row, j, w))
		}
	}
	return m, nil
}

// Folded folds a free photon spectrum through a response collaborator:
// a point source with free power law, or a continuum with free broken
// power law.
type Folded struct {
	Base
	resp     Response
	spectrum Spectrum
}

func NewFolded(name string, channels int, resp Response, spectrum Spectrum) (*Folded, error) {
	if resp == nil {
		return nil, fmt.Errorf("source %s: response collaborator is required", name)
	}
	if spectrum == nil {
		return nil, fmt.Errorf("source %s: spectrum is required", name)
	}
	if len(resp.EnergyEdges()) < 2 {
		return nil, errors.New("response needs at least one photon energy bin")
	}
	base, err := newBase(name, channels, spectrum.Parameters()...)
	if err != nil {
		return nil, err
	}
	return &Folded{Base: base, resp: resp, spectrum: spectrum}, nil
}

func NewPowerLawPointSource(name string, channels int, resp Response, c, index *param.Parameter) (*Folded, error) {
	return NewFolded("ps_"+name, channels, resp, PowerLaw{C: c, Index: index})
}

func NewEarthFree(channels int, resp Response, spec BrokenPowerLaw) (*Folded, error) {
	return NewFolded(EarthName, channels, resp, spec)
}

func NewCGBFree(channels int, resp Response, spec BrokenPowerLaw) (*Folded, error) {
	return NewFolded(CGBName, channels, resp, spec)
}

func (s *Folded) PredictedCounts(q Query) (*series.Matrix, error) {
	bins, _, err := s.grid(q)
	if err != nil {
		return nil, err
	}
	edges := s.resp.EnergyEdges()
	flux := make([]float64, len(edges)-1)
	for e := range flux {
		flux[e] = s.spectrum.Integral(edges[e], edges[e+1])
	}
	m := series.NewMatrix(len(bins), s.channels)
	for i, b := range bins {
		r0 := fold(s.resp.Matrix(b.Start), flux, s.channels)
		r1 := fold(s.resp.Matrix(b.Stop), flux, s.channels)
		w := b.Width()
		for j := 0; j < s.channels; j++ {
			m.Set(i, j, 0.5*(r0[j]+r1[j])*w)
		}
	}
	return m, nil
}

func fold(resp [][]float64, flux []float64, channels int) []float64 {
	out := make([]float64, channels)
	for j := 0; j < channels && j < len(resp); j++ {
		row := resp[j]
		sum := 0.0
		for e := 0; e < len(flux) && e < len(row); e++ {
			sum += row[e] * flux[e]
		}
		out[j] = sum
	}
	return out
}
