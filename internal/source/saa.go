package source

import (
	"fmt"
	"math"

	"gbmbkg/internal/param"
	"gbmbkg/internal/series"
)

// SAADecay models the activation left after one SAA exit at T0 on one
// channel: rate amp*exp(-decay*(t-T0)) for t > T0, zero before.
// Parameters: "amp" (counts/s at exit), "decay" (1/s).
type SAADecay struct {
	Base
	echan int
	t0    float64
	amp   *param.Parameter
	decay *param.Parameter
}

func NewSAADecay(name string, channels, echan int, exit float64, amp, decay *param.Parameter) (*SAADecay, error) {
	if amp == nil || decay == nil {
		return nil, fmt.Errorf("source %s: amp and decay parameters are required", name)
	}
	if lo, _ := decay.Bounds(); lo < 0 {
		return nil, fmt.Errorf("source %s: decay constant must be bounded below by 0", name)
	}
	if err := checkChannel(name, echan, channels); err != nil {
		return nil, err
	}
	base, err := newBase(name, channels, amp, decay)
	if err != nil {
		return nil, err
	}
	return &SAADecay{Base: base, echan: echan, t0: exit, amp: amp, decay: decay}, nil
}

// Exit returns the SAA exit time the decay starts at.
func (s *SAADecay) Exit() float64 { return s.t0 }

func (s *SAADecay) PredictedCounts(q Query) (*series.Matrix, error) {
	bins, _, err := s.grid(q)
	if err != nil {
		return nil, err
	}
	a, d := s.amp.Value(), s.decay.Value()
	m := series.NewMatrix(len(bins), s.channels)
	for i, b := range bins {
		fill(m, i, s.echan, decayIntegral(a, d, s.t0, b))
	}
	return m, nil
}

// decayIntegral integrates amp*exp(-decay*(t-t0)) over the part of b after t0.
func decayIntegral(amp, decay, t0 float64, b series.Bin) float64 {
	if b.Stop <= t0 {
		return 0
	}
	start := math.Max(b.Start, t0)
	width := b.Stop - start
	if decay == 0 {
		return amp * width
	}
	return amp / decay * math.Exp(-decay*(start-t0)) * -math.Expm1(-decay*width)
}
