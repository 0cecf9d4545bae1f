package setup

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gbmbkg/internal/param"
	"gbmbkg/internal/source"
)

type flatRates []float64

func (f flatRates) Rates(float64) []float64 { return append([]float64(nil), f...) }

type flatResponse struct{}

func (flatResponse) EnergyEdges() []float64 { return []float64{10, 100, 1000} }

func (flatResponse) Matrix(float64) [][]float64 { return [][]float64{{1, 1}, {1, 1}} }

func fullConfig() Config {
	return Config{
		Channels:      2,
		Echans:        []int{0, 1},
		SAAExits:      []float64{100, 5000},
		LeftoverDecay: true,
		DataStart:     0,
		UseSAA:        true,
		UseCR:         true,
		UseEarth:      true,
		UseCGB:        true,
		FixEarth:      true,
		PointSources:  []PointSource{{Name: "crab", Fixed: true}, {Name: "sco_x1"}},
		Bounds:        DefaultBounds(),
	}
}

func fullCollaborators() Collaborators {
	return Collaborators{
		McIlwainL:    flatRates{1.2},
		Earth:        flatRates{3, 4},
		CGB:          flatRates{1, 1},
		PointSources: map[string]source.RateFunc{"crab": flatRates{2, 2}},
		Response:     flatResponse{},
	}
}

func names(sources []source.Source) []string {
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = s.Name()
	}
	return out
}

func TestBuildNamesSourcesInModelOrder(t *testing.T) {
	sources, err := Build(fullConfig(), fullCollaborators())
	require.NoError(t, err)
	require.Equal(t, []string{
		"saa_0_echan_0", "saa_1_echan_0", "saa_2_echan_0", "cr_echan_0",
		"saa_0_echan_1", "saa_1_echan_1", "saa_2_echan_1", "cr_echan_1",
		"ps_crab", "ps_sco_x1", "earth", "cgb",
	}, names(sources))

	leftover, ok := sources[2].(*source.SAADecay)
	require.True(t, ok)
	require.Equal(t, 0.0, leftover.Exit())

	require.Equal(t, []string{"norm"}, sources[8].Parameters().Keys())
	require.Equal(t, []string{"C", "index"}, sources[9].Parameters().Keys())
	require.Equal(t, []string{"norm"}, sources[10].Parameters().Keys())
	require.Equal(t, []string{"C", "index1", "index2", "break_energy"}, sources[11].Parameters().Keys())

	norm, ok := sources[10].Parameters().Get("norm")
	require.True(t, ok)
	require.IsType(t, param.TruncatedGaussian{}, norm.Prior())
	require.Equal(t, 1.0, norm.Value())
	require.NoError(t, sources[10].Parameters().CheckTransforms())
}

func TestBuildSourcesOwnTheirParameters(t *testing.T) {
	sources, err := Build(fullConfig(), fullCollaborators())
	require.NoError(t, err)
	a, _ := sources[0].Parameters().Get("amp")
	b, _ := sources[1].Parameters().Get("amp")
	require.NotSame(t, a, b)
}

func TestBuildSkipsDisabledSources(t *testing.T) {
	cfg := Config{Channels: 3, Echans: []int{2}, UseCR: true, Bounds: DefaultBounds()}
	sources, err := Build(cfg, Collaborators{McIlwainL: flatRates{1}})
	require.NoError(t, err)
	require.Equal(t, []string{"cr_echan_2"}, names(sources))
}

func TestBuildErrors(t *testing.T) {
	cases := map[string]func(*Config, *Collaborators){
		"no channels":      func(c *Config, _ *Collaborators) { c.Channels = 0 },
		"echan range":      func(c *Config, _ *Collaborators) { c.Echans = []int{2} },
		"no mcilwain":      func(_ *Config, k *Collaborators) { k.McIlwainL = nil },
		"saa bounds":       func(c *Config, _ *Collaborators) { c.Bounds.SAA = c.Bounds.SAA[:1] },
		"missing ps rates": func(_ *Config, k *Collaborators) { k.PointSources = nil },
		"no response":      func(_ *Config, k *Collaborators) { k.Response = nil },
		"no earth rates":   func(_ *Config, k *Collaborators) { k.Earth = nil },
		"unnamed ps":       func(c *Config, _ *Collaborators) { c.PointSources = []PointSource{{Fixed: true}} },
		"inverted bounds": func(c *Config, _ *Collaborators) {
			c.Bounds.CR = []ParamSpec{{Lower: 2, Upper: 1}, {Lower: 0, Upper: 1}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, collab := fullConfig(), fullCollaborators()
			mutate(&cfg, &collab)
			_, err := Build(cfg, collab)
			require.Error(t, err)
		})
	}
}
