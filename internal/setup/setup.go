// Package setup builds the source list of one detector from a declarative
// configuration: SAA decays and cosmic-ray proxies per energy channel, then
// point sources and the Earth albedo / CGB continua shared by all channels.
package setup

import (
	"errors"
	"fmt"
	"math"

	"gbmbkg/internal/param"
	"gbmbkg/internal/source"
)

var ErrConfig = errors.New("invalid setup config")

// ParamSpec bounds one parameter. A positive Sigma selects a Gaussian prior
// truncated to the bounds, otherwise the prior is uniform.
type ParamSpec struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Mu    float64 `json:"mu,omitempty"`
	Sigma float64 `json:"sigma,omitempty"`
}

type PointSource struct {
	Name string `json:"name"`
	// Fixed scales a tabulated rate; otherwise a power law is folded
	// through the response.
	Fixed bool `json:"fixed"`
}

// Bounds holds one ParamSpec per parameter of each source kind, in the
// kind's parameter order.
type Bounds struct {
	SAA        []ParamSpec `json:"saa"`         // amp, decay
	CR         []ParamSpec `json:"cr"`          // const, norm
	PSFixed    []ParamSpec `json:"ps_fixed"`    // norm
	PSFree     []ParamSpec `json:"ps_free"`     // C, index
	EarthFixed []ParamSpec `json:"earth_fixed"` // norm
	EarthFree  []ParamSpec `json:"earth_free"`  // C, index1, index2, break_energy
	CGBFixed   []ParamSpec `json:"cgb_fixed"`   // norm
	CGBFree    []ParamSpec `json:"cgb_free"`    // C, index1, index2, break_energy
}

type Config struct {
	Channels int   `json:"channels"`
	Echans   []int `json:"echans"`

	SAAExits []float64 `json:"saa_exits"`
	// LeftoverDecay adds one more decay per channel starting at DataStart
	// for activation from an SAA passage before the data begins.
	LeftoverDecay bool    `json:"leftover_decay"`
	DataStart     float64 `json:"data_start"`

	UseSAA   bool `json:"use_saa"`
	UseCR    bool `json:"use_cr"`
	UseEarth bool `json:"use_earth"`
	UseCGB   bool `json:"use_cgb"`
	FixEarth bool `json:"fix_earth"`
	FixCGB   bool `json:"fix_cgb"`

	PointSources []PointSource `json:"point_sources"`
	Bounds       Bounds        `json:"bounds"`
}

// Collaborators supplies the tabulated inputs the sources need. Only the
// ones the config uses must be set.
type Collaborators struct {
	McIlwainL source.RateFunc
	Earth     source.RateFunc
	CGB       source.RateFunc
	// PointSources holds the fixed-spectrum rates by point source name.
	PointSources map[string]source.RateFunc
	Response     source.Response
}

func DefaultBounds() Bounds {
	return Bounds{
		SAA:        []ParamSpec{{Lower: 0, Upper: 1e4}, {Lower: 1e-5, Upper: 1e-1}},
		CR:         []ParamSpec{{Lower: 0, Upper: 100}, {Lower: 0.1, Upper: 100}},
		PSFixed:    []ParamSpec{{Lower: 0, Upper: 10}},
		PSFree:     []ParamSpec{{Lower: 1e-4, Upper: 10}, {Lower: 1, Upper: 4}},
		EarthFixed: []ParamSpec{{Lower: 0.5, Upper: 1.5, Mu: 1, Sigma: 0.1}},
		EarthFree:  []ParamSpec{{Lower: 1e-3, Upper: 1}, {Lower: -8, Upper: -3}, {Lower: 1.1, Upper: 1.9}, {Lower: 20, Upper: 40}},
		CGBFixed:   []ParamSpec{{Lower: 0.5, Upper: 1.5, Mu: 1, Sigma: 0.1}},
		CGBFree:    []ParamSpec{{Lower: 1e-3, Upper: 1}, {Lower: 1.1, Upper: 1.6}, {Lower: 2.2, Upper: 3.1}, {Lower: 27, Upper: 35}},
	}
}

// Build returns the sources in model order: per channel the SAA decays and
// the cosmic-ray proxy, then point sources, Earth and CGB.
func Build(cfg Config, collab Collaborators) ([]source.Source, error) {
	if cfg.Channels <= 0 {
		return nil, fmt.Errorf("%w: channels must be > 0", ErrConfig)
	}
	var out []source.Source
	for _, e := range cfg.Echans {
		if e < 0 || e >= cfg.Channels {
			return nil, fmt.Errorf("%w: echan %d of %d channels", ErrConfig, e, cfg.Channels)
		}
		if cfg.UseSAA {
			exits := cfg.SAAExits
			if cfg.LeftoverDecay {
				exits = append(append([]float64(nil), exits...), cfg.DataStart)
			}
			for i, exit := range exits {
				ps, err := params(cfg.Bounds.SAA, "saa", "amp", "decay")
				if err != nil {
					return nil, err
				}
				src, err := source.NewSAADecay(fmt.Sprintf("saa_%d_echan_%d", i, e), cfg.Channels, e, exit, ps[0], ps[1])
				if err != nil {
					return nil, err
				}
				out = append(out, src)
			}
		}
		if cfg.UseCR {
			if collab.McIlwainL == nil {
				return nil, fmt.Errorf("%w: cosmic-ray source needs McIlwain L", ErrConfig)
			}
			ps, err := params(cfg.Bounds.CR, "cr", "const", "norm")
			if err != nil {
				return nil, err
			}
			src, err := source.NewCosmicRay(fmt.Sprintf("cr_echan_%d", e), cfg.Channels, e, collab.McIlwainL, ps[0], ps[1])
			if err != nil {
				return nil, err
			}
			out = append(out, src)
		}
	}

	for _, ps := range cfg.PointSources {
		src, err := pointSource(cfg, collab, ps)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	if cfg.UseEarth {
		src, err := continuum(cfg.Channels, source.EarthName, cfg.FixEarth, collab.Earth, collab.Response,
			cfg.Bounds.EarthFixed, cfg.Bounds.EarthFree)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	if cfg.UseCGB {
		src, err := continuum(cfg.Channels, source.CGBName, cfg.FixCGB, collab.CGB, collab.Response,
			cfg.Bounds.CGBFixed, cfg.Bounds.CGBFree)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}

func pointSource(cfg Config, collab Collaborators, ps PointSource) (source.Source, error) {
	if ps.Name == "" {
		return nil, fmt.Errorf("%w: point source without name", ErrConfig)
	}
	if ps.Fixed {
		basis := collab.PointSources[ps.Name]
		if basis == nil {
			return nil, fmt.Errorf("%w: no rates for point source %s", ErrConfig, ps.Name)
		}
		p, err := params(cfg.Bounds.PSFixed, "ps_fixed", "norm")
		if err != nil {
			return nil, err
		}
		return source.NewFixedPointSource(ps.Name, cfg.Channels, basis, p[0])
	}
	if collab.Response == nil {
		return nil, fmt.Errorf("%w: free point source %s needs a response", ErrConfig, ps.Name)
	}
	p, err := params(cfg.Bounds.PSFree, "ps_free", "C", "index")
	if err != nil {
		return nil, err
	}
	return source.NewPowerLawPointSource(ps.Name, cfg.Channels, collab.Response, p[0], p[1])
}

func continuum(channels int, name string, fixed bool, basis source.RateFunc, resp source.Response, fixedSpec, freeSpec []ParamSpec) (source.Source, error) {
	if fixed {
		if basis == nil {
			return nil, fmt.Errorf("%w: fixed %s needs tabulated rates", ErrConfig, name)
		}
		p, err := params(fixedSpec, name+"_fixed", "norm")
		if err != nil {
			return nil, err
		}
		return source.NewScaled(name, channels, basis, p[0])
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: free %s needs a response", ErrConfig, name)
	}
	p, err := params(freeSpec, name+"_free", "C", "index1", "index2", "break_energy")
	if err != nil {
		return nil, err
	}
	spec := source.BrokenPowerLaw{C: p[0], Index1: p[1], Index2: p[2], Break: p[3]}
	return source.NewFolded(name, channels, resp, spec)
}

// params creates one parameter per name from specs, which must match in
// length. The start value is the Gaussian centre when inside the bounds,
// otherwise the midpoint.
func params(specs []ParamSpec, kind string, names ...string) ([]*param.Parameter, error) {
	if len(specs) != len(names) {
		return nil, fmt.Errorf("%w: %s bounds need %d entries, got %d", ErrConfig, kind, len(names), len(specs))
	}
	out := make([]*param.Parameter, len(names))
	for i, name := range names {
		s := specs[i]
		var prior param.Prior
		value := 0.5 * (s.Lower + s.Upper)
		if s.Sigma > 0 {
			prior = param.TruncatedGaussian{Mu: s.Mu, Sigma: s.Sigma, Lower: s.Lower, Upper: s.Upper}
			if s.Mu >= s.Lower && s.Mu <= s.Upper {
				value = s.Mu
			}
		}
		if math.IsInf(value, 0) || math.IsNaN(value) {
			return nil, fmt.Errorf("%w: %s %s bounds [%g, %g]", ErrConfig, kind, name, s.Lower, s.Upper)
		}
		p, err := param.New(name, value, s.Lower, s.Upper, prior)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		out[i] = p
	}
	return out, nil
}
