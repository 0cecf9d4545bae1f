package background

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"gbmbkg/internal/fit"
	"gbmbkg/internal/nested"
	"gbmbkg/internal/param"
	"gbmbkg/internal/series"
	"gbmbkg/internal/source"
)

type flatData struct {
	counts *series.Matrix
	bins   series.TimeBins
}

// newFlatData observes value counts in every one of n unit-width bins and
// echans channels.
func newFlatData(n, echans int, value float64) *flatData {
	m := series.NewMatrix(n, echans)
	bins := make(series.TimeBins, n)
	for i := 0; i < n; i++ {
		bins[i] = series.Bin{Start: float64(i), Stop: float64(i + 1)}
		for j := 0; j < echans; j++ {
			m.Set(i, j, value)
		}
	}
	return &flatData{counts: m, bins: bins}
}

func (d *flatData) FitCounts() *series.Matrix { return d.counts }

func (d *flatData) FitTimeBins() series.TimeBins { return d.bins }

func (d *flatData) NumEchan() int { return d.counts.Cols() }

func constant(t *testing.T, name, pname string, value, lo, hi float64) *source.Constant {
	t.Helper()
	src, err := source.NewConstant(name, 1, 0, param.MustNew(pname, value, lo, hi, nil))
	require.NoError(t, err)
	return src
}

func newDet(t *testing.T, name string, sources ...source.Source) *Det {
	t.Helper()
	det, err := NewDet(name, newFlatData(10, 1, 5))
	require.NoError(t, err)
	for _, src := range sources {
		require.NoError(t, det.AddSource(src))
	}
	return det
}

func TestDetRejectsMismatchedData(t *testing.T) {
	data := newFlatData(4, 2, 1)
	data.bins = data.bins[:3]
	_, err := NewDet("n0", data)
	require.ErrorIs(t, err, series.ErrShape)
}

func TestDetNamespaceFlattensSourceParameters(t *testing.T) {
	det := newDet(t, "n0",
		constant(t, "A", "const", 1, 0, 10),
		constant(t, "B", "const", 2, 0, 10),
	)
	require.Equal(t, []string{"A_const", "B_const"}, det.Parameters().Keys())
	require.Equal(t, []string{"A", "B"}, det.SourceNames())
}

func TestDetAddSourceDuplicateLeavesModelUnchanged(t *testing.T) {
	det := newDet(t, "n0", constant(t, "const", "rate", 1, 0, 10))

	err := det.AddSource(constant(t, "const", "rate", 1, 0, 10))
	require.ErrorIs(t, err, param.ErrDuplicateName)
	require.Equal(t, 1, det.Parameters().Len())

	// "a" + "b_c" and "a_b" + "c" flatten to the same key.
	require.NoError(t, det.AddSource(constant(t, "a", "b_c", 1, 0, 10)))
	clash := constant(t, "a_b", "c", 1, 0, 10)
	err = det.AddSource(clash)
	require.ErrorIs(t, err, param.ErrDuplicateName)
	require.Equal(t, []string{"const", "a"}, det.SourceNames())
	require.Equal(t, 2, det.Parameters().Len())
	require.NoError(t, clash.BindTimeBins(det.Data().FitTimeBins()))
}

func TestDetAddSourceChecksChannels(t *testing.T) {
	det := newDet(t, "n0")
	src, err := source.NewConstant("wide", 3, source.AllChannels, param.MustNew("rate", 1, 0, 10, nil))
	require.NoError(t, err)
	require.ErrorIs(t, det.AddSource(src), ErrChannelCount)
}

func TestDetModelCountsWithoutSourcesIsZero(t *testing.T) {
	det := newDet(t, "n0")
	counts, err := det.ModelCounts(source.Query{})
	require.NoError(t, err)
	require.Equal(t, 10, counts.Rows())
	require.Equal(t, 1, counts.Cols())
	for _, v := range counts.Data() {
		require.Zero(t, v)
	}
}

func TestDetModelCountsSuperposesSources(t *testing.T) {
	det := newDet(t, "n0",
		constant(t, "a", "rate", 2, 0, 10),
		constant(t, "b", "rate", 3, 0, 10),
	)
	total, err := det.ModelCounts(source.Query{})
	require.NoError(t, err)
	for _, v := range total.Data() {
		require.InDelta(t, 5.0, v, 1e-12)
	}

	only, err := det.ModelCountsGivenSources([]string{"a"}, source.Query{})
	require.NoError(t, err)
	for _, v := range only.Data() {
		require.InDelta(t, 2.0, v, 1e-12)
	}

	_, err = det.ModelCountsGivenSources([]string{"a", "missing"}, source.Query{})
	require.ErrorIs(t, err, ErrUnknownSource)
	require.ErrorContains(t, err, "a, b")
}

func TestDetModelCountsQueries(t *testing.T) {
	det := newDet(t, "n0", constant(t, "a", "rate", 2, 0, 10))

	mask := make([]bool, 10)
	mask[1], mask[4], mask[7] = true, true, true
	masked, err := det.ModelCounts(source.Query{Mask: mask})
	require.NoError(t, err)
	require.Equal(t, 3, masked.Rows())

	fine, err := det.ModelCounts(source.Query{Bins: series.TimeBins{{Start: 0, Stop: 0.5}, {Start: 0.5, Stop: 1}}})
	require.NoError(t, err)
	require.Equal(t, 2, fine.Rows())
	require.InDelta(t, 1.0, fine.At(0, 0), 1e-12)

	_, err = det.ModelCounts(source.Query{Mask: mask[:3]})
	require.ErrorIs(t, err, series.ErrMaskLength)
	_, err = det.ModelCounts(source.Query{Mask: mask, Bins: series.TimeBins{{Start: 0, Stop: 1}}})
	require.ErrorIs(t, err, source.ErrExclusiveGrid)
}

func TestDetLogLikeExactModelIsZero(t *testing.T) {
	det := newDet(t, "n0", constant(t, "const", "rate", 5, 0, 10))
	require.InDelta(t, 0.0, det.LogLike(), 1e-12)

	require.NoError(t, det.SetParameter("const_rate", 4))
	require.Less(t, det.LogLike(), 0.0)

	require.NoError(t, det.SetParameter("const_rate", 0))
	require.True(t, math.IsInf(det.LogLike(), -1))
}

func TestDetLogPrior(t *testing.T) {
	det := newDet(t, "n0",
		constant(t, "a", "rate", 1, 0, 10),
		constant(t, "b", "rate", 1, 0, 4),
	)
	require.InDelta(t, math.Log(0.1)+math.Log(0.25), det.LogPrior([]float64{3, 2}), 1e-12)
	require.True(t, math.IsInf(det.LogPrior([]float64{3, 5}), -1))
	require.True(t, math.IsInf(det.LogPrior([]float64{3}), -1))
}

func TestDetSetParametersIsAtomic(t *testing.T) {
	det := newDet(t, "n0",
		constant(t, "a", "rate", 1, 0, 10),
		constant(t, "b", "rate", 1, 0, 4),
	)
	err := det.SetParameters([]float64{7, 9})
	require.ErrorIs(t, err, param.ErrOutOfBounds)
	require.Equal(t, []float64{1, 1}, det.Parameters().Values())

	require.ErrorIs(t, det.SetParameters([]float64{1}), param.ErrShapeMismatch)
	require.ErrorIs(t, det.SetParameter("nope", 1), ErrUnknownParameter)
}

func TestDetTransformRoundTrip(t *testing.T) {
	det := newDet(t, "n0",
		constant(t, "a", "rate", 1, 0, 10),
		constant(t, "b", "rate", 3, 2, 4),
	)
	cube := []float64{0.25, 0.5}
	require.NoError(t, det.Parameters().Transform(cube))
	require.NoError(t, det.SetParameters(cube))
	require.InDeltaSlice(t, []float64{2.5, 3}, det.Parameters().Values(), 1e-12)
}

func TestDetSetBoundsAndPriors(t *testing.T) {
	det := newDet(t, "n0", constant(t, "a", "rate", 5, 0, 10))
	require.NoError(t, det.SetParameterBounds([][2]float64{{1, 3}}))
	lo, hi := det.Parameters().At(0).Bounds()
	require.Equal(t, 1.0, lo)
	require.Equal(t, 3.0, hi)
	require.Equal(t, 3.0, det.Parameters().At(0).Value())
	require.InDelta(t, math.Log(0.5), det.LogPrior([]float64{2}), 1e-12)

	require.NoError(t, det.SetParameterPriors([]param.Prior{param.LogUniform{Lower: 1, Upper: 3}}))
	require.InDelta(t, -math.Log(2*math.Log(3)), det.LogPrior([]float64{2}), 1e-12)

	require.ErrorIs(t, det.SetParameterBounds(nil), param.ErrShapeMismatch)
	require.ErrorIs(t, det.SetParameterPriors(nil), param.ErrShapeMismatch)
}

func TestDetSetParameterMedianNeedsResult(t *testing.T) {
	det := newDet(t, "n0", constant(t, "a", "rate", 5, 0, 10))
	require.ErrorIs(t, det.SetParameterMedian(), ErrNoResult)

	det.SetResult(&fit.Result{
		Names:   []string{"a_rate"},
		Raw:     [][]float64{{1}, {2}, {3}, {4}},
		LogProb: []float64{-4, -1, -3, -2},
	})
	// middle values -3 (index 2) and -2 (index 3): lower index wins.
	require.NoError(t, det.SetParameterMedian())
	require.Equal(t, 3.0, det.Parameters().At(0).Value())
}

func TestDetSetParameterMedianSkipsNaNLogProb(t *testing.T) {
	det := newDet(t, "n0", constant(t, "a", "rate", 5, 0, 10))
	det.SetResult(&fit.Result{
		Names:   []string{"a_rate"},
		Raw:     [][]float64{{1}, {2}, {3}},
		LogProb: []float64{math.NaN(), -1, -3},
	})
	// -3 (index 2) and -1 (index 1) remain: lower index wins.
	require.NoError(t, det.SetParameterMedian())
	require.Equal(t, 2.0, det.Parameters().At(0).Value())

	det.SetResult(&fit.Result{
		Names:   []string{"a_rate"},
		Raw:     [][]float64{{1}},
		LogProb: []float64{math.NaN()},
	})
	require.Error(t, det.SetParameterMedian())
}

func TestCombinedDistinctNamesStaySeparate(t *testing.T) {
	a := newDet(t, "n0", constant(t, "A", "const", 5, 0, 10))
	b := newDet(t, "n1", constant(t, "B", "const", 5, 0, 10))
	c, err := NewCombined([]*Det{a, b})
	require.NoError(t, err)
	require.Equal(t, []string{"A_const", "B_const"}, c.Parameters().Keys())

	require.NoError(t, c.SetParameters([]float64{4, 6}))
	require.Equal(t, 4.0, a.Parameters().At(0).Value())
	require.Equal(t, 6.0, b.Parameters().At(0).Value())
}

func TestCombinedSharesParametersByName(t *testing.T) {
	a := newDet(t, "n0", constant(t, "Earth", "norm", 1, 0, 10), constant(t, "A", "const", 1, 0, 10))
	b := newDet(t, "n1", constant(t, "Earth", "norm", 1, 0, 10))
	c, err := NewCombined([]*Det{a, b})
	require.NoError(t, err)
	require.Equal(t, []string{"Earth_norm", "A_const"}, c.Parameters().Keys())

	require.NoError(t, c.SetParameters([]float64{3, 2}))
	require.Equal(t, 3.0, a.Parameters().At(0).Value())
	require.Equal(t, 3.0, b.Parameters().At(0).Value())

	require.NoError(t, c.SetParameter("Earth_norm", 4))
	require.Equal(t, 4.0, b.Parameters().At(0).Value())
	require.ErrorIs(t, c.SetParameter("nope", 1), ErrUnknownParameter)
}

func TestCombinedSetParametersValidatesEveryOwner(t *testing.T) {
	a := newDet(t, "n0", constant(t, "Earth", "norm", 1, 0, 10), constant(t, "A", "const", 1, 0, 10))
	b := newDet(t, "n1", constant(t, "Earth", "norm", 1, 0, 2))
	c, err := NewCombined([]*Det{a, b})
	require.NoError(t, err)

	err = c.SetParameters([]float64{5, 2})
	require.ErrorIs(t, err, param.ErrOutOfBounds)
	require.Equal(t, []float64{1, 1}, a.Parameters().Values())
	require.Equal(t, []float64{1}, b.Parameters().Values())

	require.ErrorIs(t, c.SetParameter("Earth_norm", 5), param.ErrOutOfBounds)
	require.Equal(t, 1.0, a.Parameters().At(0).Value())
}

func TestCombinedLogLikeSumsSubmodels(t *testing.T) {
	dets := make([]*Det, 4)
	for i := range dets {
		dets[i] = newDet(t, "n", constant(t, "const", "rate", float64(i+3), 0, 10))
	}
	want := 0.0
	for _, d := range dets {
		want += d.LogLike()
	}

	serial, err := NewCombined(dets)
	require.NoError(t, err)
	parallel, err := NewCombined(dets, WithWorkers(3))
	require.NoError(t, err)
	require.InDelta(t, want, serial.LogLike(), 1e-9)
	require.InDelta(t, want, parallel.LogLike(), 1e-9)

	// the shared "const_rate" goes to every sub-model.
	require.Equal(t, 1, parallel.Parameters().Len())
	require.NoError(t, parallel.SetParameters([]float64{5}))
	require.InDelta(t, 0.0, parallel.LogLike(), 1e-12)
}

func TestCombinedRejectsEmpty(t *testing.T) {
	_, err := NewCombined(nil)
	require.Error(t, err)
	_, err = NewCombined([]*Det{nil})
	require.Error(t, err)
}

func TestCombinedSendSamplesToSubmodels(t *testing.T) {
	a := newDet(t, "n0", constant(t, "Earth", "norm", 1, 0, 10), constant(t, "A", "const", 1, 0, 10))
	b := newDet(t, "n1", constant(t, "B", "const", 1, 0, 10), constant(t, "Earth", "norm", 1, 0, 10))
	c, err := NewCombined([]*Det{a, b})
	require.NoError(t, err)
	require.ErrorIs(t, c.SendSamplesToSubmodels(), ErrNoResult)

	c.SetResult(&fit.Result{
		Names:   []string{"Earth_norm", "A_const", "B_const"},
		Raw:     [][]float64{{1, 2, 3}, {4, 5, 6}},
		LogLike: []float64{-1, -2},
		LogProb: []float64{-3, -4},
	})
	require.NoError(t, c.SendSamplesToSubmodels())

	require.Equal(t, [][]float64{{1, 2}, {4, 5}}, a.Result().Raw)
	require.Equal(t, [][]float64{{3, 1}, {6, 4}}, b.Result().Raw)
	earthA, _ := a.Result().Column("Earth_norm")
	earthB, _ := b.Result().Column("Earth_norm")
	require.Equal(t, earthA, earthB)
	require.Same(t, &c.Result().LogProb[0], &a.Result().LogProb[0])
	require.Same(t, &c.Result().LogProb[0], &b.Result().LogProb[0])
}

func TestCombinedSendParametersToSubmodels(t *testing.T) {
	a := newDet(t, "n0", constant(t, "Earth", "norm", 1, 0, 10))
	b := newDet(t, "n1", constant(t, "Earth", "norm", 1, 0, 10))
	c, err := NewCombined([]*Det{a, b})
	require.NoError(t, err)

	// only the first owner moves.
	require.NoError(t, a.SetParameter("Earth_norm", 7))
	require.NoError(t, c.SendParametersToSubmodels())
	require.Equal(t, 7.0, b.Parameters().At(0).Value())
}

func testDriver(t *testing.T) *fit.Driver {
	t.Helper()
	d, err := fit.NewDriver(fit.Config{
		OutputRoot: t.TempDir(),
		Identifier: "bkg",
		Sampler:    nested.Config{LivePoints: 50, Tolerance: 0.5, WalkSteps: 10, Seed: 5},
	})
	require.NoError(t, err)
	return d
}

func TestDetMinimizeAndLoadFit(t *testing.T) {
	det := newDet(t, "n0", constant(t, "const", "rate", 1, 0, 10))
	dir, err := det.Minimize(context.Background(), testDriver(t))
	require.NoError(t, err)
	require.Equal(t, dir, det.OutputDir())
	require.InDelta(t, 5.0, det.Parameters().At(0).Value(), 1.5)

	again := newDet(t, "n0", constant(t, "const", "rate", 1, 0, 10))
	loader, err := fit.NewDriver(fit.Config{})
	require.NoError(t, err)
	require.NoError(t, again.LoadFit(context.Background(), loader, dir))
	require.Equal(t, det.Result().Raw, again.Result().Raw)
}

func TestCombinedMinimizeDistributesResult(t *testing.T) {
	a := newDet(t, "n0", constant(t, "const", "rate", 1, 0, 10))
	b := newDet(t, "n1", constant(t, "const", "rate", 1, 0, 10))
	c, err := NewCombined([]*Det{a, b}, WithWorkers(2))
	require.NoError(t, err)

	dir, err := c.Minimize(context.Background(), testDriver(t))
	require.NoError(t, err)
	require.NotEmpty(t, dir)
	require.Equal(t, c.Result().Len(), a.Result().Len())
	require.Equal(t, a.Result().Raw, b.Result().Raw)
	require.Equal(t, a.Parameters().At(0).Value(), b.Parameters().At(0).Value())
	require.InDelta(t, 5.0, a.Parameters().At(0).Value(), 1.5)

	fresh, err := NewCombined([]*Det{
		newDet(t, "n0", constant(t, "const", "rate", 1, 0, 10)),
		newDet(t, "n1", constant(t, "const", "rate", 1, 0, 10)),
	})
	require.NoError(t, err)
	loader, err := fit.NewDriver(fit.Config{})
	require.NoError(t, err)
	require.NoError(t, fresh.LoadFit(context.Background(), loader, dir))
	require.Equal(t, c.Result().Raw, fresh.Result().Raw)
	require.Equal(t, c.Result().Raw, fresh.Models()[1].Result().Raw)
}
