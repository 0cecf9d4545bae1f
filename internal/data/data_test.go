package data

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"gbmbkg/internal/series"
)

func TestReadCountsCSV(t *testing.T) {
	in := strings.NewReader(`start,stop,c0,c1
0,1,5,6
1,1,9,9

1,2.5,7,8
`)
	counts, err := ReadCountsCSV(in)
	require.NoError(t, err)
	require.Equal(t, 2, counts.NumEchan())
	require.Equal(t, series.TimeBins{{Start: 0, Stop: 1}, {Start: 1, Stop: 2.5}}, counts.FitTimeBins())
	require.Equal(t, []float64{5, 6, 7, 8}, counts.FitCounts().Data())
	require.Nil(t, counts.Mask())
}

func TestReadCountsCSVErrors(t *testing.T) {
	cases := map[string]string{
		"empty":      "",
		"header":     "start,stop\n",
		"no rows":    "start,stop,c0\n",
		"only empty": "start,stop,c0\n1,1,3\n",
		"ragged":     "start,stop,c0\n0,1,3,4\n",
		"number":     "start,stop,c0\n0,1,x\n",
		"reversed":   "start,stop,c0\n2,1,3\n",
		"nan":        "start,stop,c0\n0,1,NaN\n",
		"infinite":   "start,stop,c0\n0,1,inf\n",
		"neg inf":    "start,stop,c0\n-Inf,1,3\n",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ReadCountsCSV(strings.NewReader(in))
			require.Error(t, err)
		})
	}

	_, err := ReadCountsCSV(strings.NewReader("start,stop,c0\n0,1,3,4\n"))
	require.ErrorIs(t, err, ErrRagged)
	_, err = ReadCountsCSV(strings.NewReader("start,stop,c0\n2,1,3\n"))
	require.ErrorIs(t, err, ErrBadBin)
	_, err = ReadCountsCSV(strings.NewReader("start,stop,c0\n0,1,inf\n"))
	require.ErrorIs(t, err, ErrNonFinite)
}

func TestReadRateTableCSV(t *testing.T) {
	in := strings.NewReader("time,r0,r1\n0,1,10\n10,3,20\n")
	table, err := ReadRateTableCSV(in)
	require.NoError(t, err)
	require.Equal(t, 2, table.Channels())
	require.InDeltaSlice(t, []float64{2, 15}, table.Rates(5), 1e-12)

	_, err = ReadRateTableCSV(strings.NewReader("time,r0\n1,1\n0,2\n"))
	require.ErrorIs(t, err, series.ErrInterpTable)
}

func TestExcludeAfterSAA(t *testing.T) {
	bins := make(series.TimeBins, 6)
	for i := range bins {
		bins[i] = series.Bin{Start: float64(10 * i), Stop: float64(10 * (i + 1))}
	}
	mask := ExcludeAfterSAA(bins, []float64{15}, 20)
	require.Equal(t, []bool{true, false, false, false, true, true}, mask)

	require.Equal(t, []bool{true, true, true, true, true, true}, ExcludeAfterSAA(bins, nil, 20))
}

func TestCountsWithMask(t *testing.T) {
	m, err := series.FromRows([][]float64{{1}, {2}, {3}})
	require.NoError(t, err)
	bins := series.TimeBins{{Start: 0, Stop: 1}, {Start: 1, Stop: 2}, {Start: 2, Stop: 3}}
	counts, err := NewCounts(bins, m)
	require.NoError(t, err)

	masked, err := counts.WithMask([]bool{true, false, true})
	require.NoError(t, err)
	require.Equal(t, []float64{1, 3}, masked.FitCounts().Data())
	require.Len(t, masked.FitTimeBins(), 2)
	require.Equal(t, 3, masked.Counts().Rows())
	require.Equal(t, 3, counts.FitCounts().Rows())

	_, err = counts.WithMask([]bool{true})
	require.ErrorIs(t, err, series.ErrMaskLength)

	_, err = NewCounts(bins[:2], m)
	require.ErrorIs(t, err, series.ErrShape)
}

func TestReadResponseJSON(t *testing.T) {
	resp, err := ReadResponseJSON(strings.NewReader(`{"energy_edges": [10, 50, 300], "matrix": [[1, 2], [3, 4]]}`))
	require.NoError(t, err)
	require.Equal(t, []float64{10, 50, 300}, resp.EnergyEdges())
	require.Equal(t, [][]float64{{1, 2}, {3, 4}}, resp.Matrix(123))

	_, err = ReadResponseJSON(strings.NewReader(`{"energy_edges": [10, 50, 300], "matrix": [[1]]}`))
	require.ErrorIs(t, err, series.ErrShape)
	_, err = ReadResponseJSON(strings.NewReader(`{"energy_edges": [50, 10], "matrix": [[1]]}`))
	require.Error(t, err)
	_, err = ReadResponseJSON(strings.NewReader(`{`))
	require.Error(t, err)
}
