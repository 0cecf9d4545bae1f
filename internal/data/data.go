// Package data adapts observed detector counts and tabulated rates to the
// background model: counts CSV files, rate tables and SAA exclusion masks.
package data

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"gbmbkg/internal/series"
)

var (
	ErrEmptyTable = errors.New("table has no rows")
	ErrBadBin     = errors.New("time bin stop before start")
	ErrRagged     = errors.New("row width does not match header")
	ErrNonFinite  = errors.New("value is not finite")
)

// Counts is the observed counts of one detector over a time grid. The fit
// grid is the subset of bins selected by the mask.
type Counts struct {
	bins   series.TimeBins
	counts *series.Matrix
	mask   []bool

	fitBins   series.TimeBins
	fitCounts *series.Matrix
}

// NewCounts uses every bin for the fit.
func NewCounts(bins series.TimeBins, counts *series.Matrix) (*Counts, error) {
	if counts == nil {
		return nil, errors.New("counts are required")
	}
	if counts.Rows() != len(bins) {
		return nil, fmt.Errorf("%w: %d bins, %d count rows", series.ErrShape, len(bins), counts.Rows())
	}
	if counts.Cols() == 0 {
		return nil, fmt.Errorf("%w: no energy channels", series.ErrShape)
	}
	for i, b := range bins {
		if b.Stop < b.Start {
			return nil, fmt.Errorf("%w: bin %d [%g, %g]", ErrBadBin, i, b.Start, b.Stop)
		}
	}
	return &Counts{
		bins:      bins.Clone(),
		counts:    counts.Clone(),
		fitBins:   bins.Clone(),
		fitCounts: counts.Clone(),
	}, nil
}

// WithMask returns a copy whose fit grid keeps only the bins marked true.
func (c *Counts) WithMask(mask []bool) (*Counts, error) {
	fitBins, err := c.bins.Select(mask)
	if err != nil {
		return nil, err
	}
	fitCounts, err := c.counts.SelectRows(mask)
	if err != nil {
		return nil, err
	}
	return &Counts{
		bins:      c.bins,
		counts:    c.counts,
		mask:      append([]bool(nil), mask...),
		fitBins:   fitBins,
		fitCounts: fitCounts,
	}, nil
}

func (c *Counts) TimeBins() series.TimeBins { return c.bins }

func (c *Counts) Counts() *series.Matrix { return c.counts }

// Mask returns the fit mask, nil when every bin is used.
func (c *Counts) Mask() []bool { return c.mask }

func (c *Counts) FitTimeBins() series.TimeBins { return c.fitBins }

func (c *Counts) FitCounts() *series.Matrix { return c.fitCounts }

func (c *Counts) NumEchan() int { return c.counts.Cols() }

// ReadCountsCSV reads a "start,stop,c0,c1,..." table. Zero-width bins are
// dropped.
func ReadCountsCSV(r io.Reader) (*Counts, error) {
	header, records, err := readTable(r, 3)
	if err != nil {
		return nil, fmt.Errorf("read counts csv: %w", err)
	}
	echans := len(header) - 2
	bins := make(series.TimeBins, 0, len(records))
	rows := make([][]float64, 0, len(records))
	for _, rec := range records {
		if rec.values[1] == rec.values[0] {
			continue
		}
		bins = append(bins, series.Bin{Start: rec.values[0], Stop: rec.values[1]})
		rows = append(rows, rec.values[2:2+echans])
	}
	if len(rows) == 0 {
		return nil, ErrEmptyTable
	}
	counts, err := series.FromRows(rows)
	if err != nil {
		return nil, err
	}
	return NewCounts(bins, counts)
}

// ReadRateTableCSV reads a "time,r0,r1,..." table into an interpolator.
func ReadRateTableCSV(r io.Reader) (*series.Interpolator, error) {
	_, records, err := readTable(r, 2)
	if err != nil {
		return nil, fmt.Errorf("read rate table csv: %w", err)
	}
	times := make([]float64, len(records))
	values := make([][]float64, len(records))
	for i, rec := range records {
		times[i] = rec.values[0]
		values[i] = rec.values[1:]
	}
	return series.NewInterpolator(times, values)
}

type record struct {
	values []float64
}

func readTable(r io.Reader, minColumns int) ([]string, []record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, ErrEmptyTable
	}
	if err != nil {
		return nil, nil, fmt.Errorf("header: %w", err)
	}
	if len(header) < minColumns {
		return nil, nil, fmt.Errorf("header has %d columns, want at least %d", len(header), minColumns)
	}

	out := make([]record, 0, 1024)
	for line := 2; ; line++ {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", line, err)
		}
		if blank(fields) {
			continue
		}
		if len(fields) != len(header) {
			return nil, nil, fmt.Errorf("%w: line %d has %d fields, header %d", ErrRagged, line, len(fields), len(header))
		}
		values := make([]float64, len(fields))
		for i, raw := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return nil, nil, fmt.Errorf("line %d column %s: %w", line, header[i], err)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, nil, fmt.Errorf("%w: line %d column %s: %g", ErrNonFinite, line, header[i], v)
			}
			values[i] = v
		}
		out = append(out, record{values: values})
	}
	if len(out) == 0 {
		return nil, nil, ErrEmptyTable
	}
	return header, out, nil
}

func blank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// ExcludeAfterSAA marks the bins to fit: a bin overlapping
// [exit, exit+seconds) of any SAA exit is excluded.
func ExcludeAfterSAA(bins series.TimeBins, exits []float64, seconds float64) []bool {
	mask := make([]bool, len(bins))
	for i, b := range bins {
		mask[i] = true
		for _, exit := range exits {
			if b.Stop > exit && b.Start < exit+seconds {
				mask[i] = false
				break
			}
		}
	}
	return mask
}

// StaticResponse is a time-independent effective-area matrix
// [channel][photon energy bin].
type StaticResponse struct {
	Edges []float64   `json:"energy_edges"`
	Area  [][]float64 `json:"matrix"`
}

func (r *StaticResponse) EnergyEdges() []float64 { return r.Edges }

func (r *StaticResponse) Matrix(float64) [][]float64 { return r.Area }

// ReadResponseJSON reads {"energy_edges": [...], "matrix": [[...], ...]}.
func ReadResponseJSON(r io.Reader) (*StaticResponse, error) {
	var resp StaticResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, fmt.Errorf("read response json: %w", err)
	}
	if len(resp.Edges) < 2 {
		return nil, errors.New("response needs at least one photon energy bin")
	}
	for i := 1; i < len(resp.Edges); i++ {
		if resp.Edges[i] <= resp.Edges[i-1] {
			return nil, fmt.Errorf("response energy edges not increasing at %d", i)
		}
	}
	if len(resp.Area) == 0 {
		return nil, errors.New("response has no channels")
	}
	for ch, row := range resp.Area {
		if len(row) != len(resp.Edges)-1 {
			return nil, fmt.Errorf("%w: response channel %d has %d bins, want %d", series.ErrShape, ch, len(row), len(resp.Edges)-1)
		}
	}
	return &resp, nil
}
