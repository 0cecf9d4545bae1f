// Package likelihood implements the Cash statistic for Poisson counts.
package likelihood

import (
	"fmt"
	"math"

	"gbmbkg/internal/series"
)

// CStat returns the Cash statistic of observed counts against predicted
// means, summed over every bin and channel. A cell with predicted mean
// <= 0, or with a NaN or +Inf observed count, makes the statistic +Inf.
// The result is never NaN.
func CStat(observed, predicted *series.Matrix) (float64, error) {
	if !observed.SameShape(predicted) {
		return 0, fmt.Errorf("%w: observed %dx%d, predicted %dx%d", series.ErrShape,
			observed.Rows(), observed.Cols(), predicted.Rows(), predicted.Cols())
	}
	return cstat(observed.Data(), predicted.Data()), nil
}

// LogLike is -CStat; a degenerate model gives -Inf.
func LogLike(observed, predicted *series.Matrix) (float64, error) {
	c, err := CStat(observed, predicted)
	if err != nil {
		return math.Inf(-1), err
	}
	return -c, nil
}

func cstat(n, m []float64) float64 {
	sum := 0.0
	for i := range n {
		c := cell(n[i], m[i])
		if math.IsInf(c, 1) {
			return math.Inf(1)
		}
		sum += c
	}
	return sum
}

func cell(n, m float64) float64 {
	if !(m > 0) || math.IsInf(m, 1) || math.IsNaN(n) || math.IsInf(n, 1) {
		return math.Inf(1)
	}
	if n > 0 {
		return m - n + n*math.Log(n/m)
	}
	return m
}
