package stats

import (
	"errors"
	"math"
	"slices"
	"sort"

	"gonum.org/v1/gonum/stat"

	"gbmbkg/internal/fit"
)

var ErrEmptySamples = errors.New("no samples")

// ParameterSummary condenses the posterior samples of one parameter.
type ParameterSummary struct {
	Name   string  `json:"name"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Median float64 `json:"median"`
	Q05    float64 `json:"q05"`
	Q95    float64 `json:"q95"`
}

// Summarize returns one summary per parameter in namespace order.
func Summarize(res *fit.Result) ([]ParameterSummary, error) {
	if res.Len() == 0 {
		return nil, ErrEmptySamples
	}
	out := make([]ParameterSummary, 0, len(res.Names))
	for _, name := range res.Names {
		col, _ := res.Column(name)
		out = append(out, summarizeColumn(name, col))
	}
	return out, nil
}

func summarizeColumn(name string, col []float64) ParameterSummary {
	mean, std := stat.PopMeanStdDev(col, nil)
	sorted := slices.Clone(col)
	sort.Float64s(sorted)
	return ParameterSummary{
		Name:   name,
		Mean:   mean,
		Std:    std,
		Median: quantileSorted(sorted, 0.5),
		Q05:    quantileSorted(sorted, 0.05),
		Q95:    quantileSorted(sorted, 0.95),
	}
}

// quantileSorted interpolates linearly between the closest ranks of an
// ascending slice.
func quantileSorted(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	q = math.Max(0, math.Min(1, q))
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// ArgMedian returns the index of the median of values, ignoring NaN
// entries. For an even count it is the lower index of the two middle values.
func ArgMedian(values []float64) (int, error) {
	sorted := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			sorted = append(sorted, v)
		}
	}
	n := len(sorted)
	if n == 0 {
		return 0, ErrEmptySamples
	}
	sort.Float64s(sorted)
	if n%2 == 1 {
		return slices.Index(values, sorted[n/2]), nil
	}
	left := slices.Index(values, sorted[n/2-1])
	right := slices.Index(values, sorted[n/2])
	return min(left, right), nil
}

// MaxIndex returns the index of the largest value.
func MaxIndex(values []float64) (int, error) {
	if len(values) == 0 {
		return 0, ErrEmptySamples
	}
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best, nil
}
