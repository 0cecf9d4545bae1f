package fit

import (
	"fmt"
	"slices"

	"gbmbkg/internal/param"
)

// Result is the equal-weighted posterior of one fit. Row i of Raw, LogLike
// and LogProb describe the same sample; Raw columns follow Names.
type Result struct {
	Names          []string
	Raw            [][]float64
	LogLike        []float64
	LogProb        []float64
	LogEvidence    float64
	LogEvidenceErr float64
	OutputDir      string
}

// Len returns the number of samples.
func (r *Result) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Raw)
}

// Column returns a copy of the samples of the named parameter.
func (r *Result) Column(name string) ([]float64, bool) {
	if r == nil {
		return nil, false
	}
	i := slices.Index(r.Names, name)
	if i < 0 {
		return nil, false
	}
	out := make([]float64, len(r.Raw))
	for k, row := range r.Raw {
		out[k] = row[i]
	}
	return out, true
}

// Columns returns every parameter column in namespace order.
func (r *Result) Columns() [][]float64 {
	out := make([][]float64, len(r.Names))
	for i, name := range r.Names {
		out[i], _ = r.Column(name)
	}
	return out
}

// Project returns the result restricted to names, in that order. The
// log-likelihood and log-probability slices are shared, not copied.
func (r *Result) Project(names []string) (*Result, error) {
	idx := make([]int, len(names))
	for i, name := range names {
		j := slices.Index(r.Names, name)
		if j < 0 {
			return nil, fmt.Errorf("parameter %s not in result", name)
		}
		idx[i] = j
	}
	raw := make([][]float64, len(r.Raw))
	for k, row := range r.Raw {
		out := make([]float64, len(idx))
		for i, j := range idx {
			out[i] = row[j]
		}
		raw[k] = out
	}
	return &Result{
		Names:          slices.Clone(names),
		Raw:            raw,
		LogLike:        r.LogLike,
		LogProb:        r.LogProb,
		LogEvidence:    r.LogEvidence,
		LogEvidenceErr: r.LogEvidenceErr,
		OutputDir:      r.OutputDir,
	}, nil
}

// newResult evaluates LogProb[i] = LogLike[i] + LogPrior(Raw[i]).
func newResult(set *param.Set, raw [][]float64, logLike []float64, logPrior func([]float64) float64) *Result {
	logProb := make([]float64, len(raw))
	for i, row := range raw {
		logProb[i] = logLike[i] + logPrior(row)
	}
	return &Result{
		Names:   set.Keys(),
		Raw:     raw,
		LogLike: logLike,
		LogProb: logProb,
	}
}
