// Package series holds the time-bin grids and time×channel count matrices
// exchanged between the data collaborators, the source components and the
// background model.
package series

import (
	"errors"
	"fmt"
)

var (
	ErrShape      = errors.New("matrix shape mismatch")
	ErrMaskLength = errors.New("mask length does not match time bins")
)

// Bin is a half-open time interval [Start, Stop) in mission elapsed seconds.
type Bin struct {
	Start float64 `json:"start"`
	Stop  float64 `json:"stop"`
}

func (b Bin) Width() float64 { return b.Stop - b.Start }

func (b Bin) Mid() float64 { return 0.5 * (b.Start + b.Stop) }

type TimeBins []Bin

// Select returns the bins whose mask entry is true, in grid order.
func (tb TimeBins) Select(mask []bool) (TimeBins, error) {
	if len(mask) != len(tb) {
		return nil, fmt.Errorf("%w: mask=%d bins=%d", ErrMaskLength, len(mask), len(tb))
	}
	out := make(TimeBins, 0, len(tb))
	for i, keep := range mask {
		if keep {
			out = append(out, tb[i])
		}
	}
	return out, nil
}

func (tb TimeBins) Clone() TimeBins {
	if tb == nil {
		return nil
	}
	out := make(TimeBins, len(tb))
	copy(out, tb)
	return out
}

// Matrix is a dense row-major matrix with one row per time bin and one
// column per energy channel.
type Matrix struct {
	rows, cols int
	data       []float64
}

func NewMatrix(rows, cols int) *Matrix {
	if rows < 0 {
		rows = 0
	}
	if cols < 0 {
		cols = 0
	}
	return &Matrix{rows: rows, cols: cols, data: make([]float64, rows*cols)}
}

// FromRows copies a slice of equally sized rows into a new matrix.
func FromRows(rows [][]float64) (*Matrix, error) {
	if len(rows) == 0 {
		return NewMatrix(0, 0), nil
	}
	cols := len(rows[0])
	m := NewMatrix(len(rows), cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrShape, i, len(row), cols)
		}
		copy(m.data[i*cols:(i+1)*cols], row)
	}
	return m, nil
}

func (m *Matrix) Rows() int { return m.rows }

func (m *Matrix) Cols() int { return m.cols }

func (m *Matrix) At(i, j int) float64 { return m.data[i*m.cols+j] }

func (m *Matrix) Set(i, j int, v float64) { m.data[i*m.cols+j] = v }

func (m *Matrix) AddAt(i, j int, v float64) { m.data[i*m.cols+j] += v }

// Row returns a view of row i; writes go through to the matrix.
func (m *Matrix) Row(i int) []float64 { return m.data[i*m.cols : (i+1)*m.cols] }

// Data returns the backing row-major slice.
func (m *Matrix) Data() []float64 { return m.data }

func (m *Matrix) SameShape(o *Matrix) bool {
	return o != nil && m.rows == o.rows && m.cols == o.cols
}

// Add accumulates o into m elementwise.
func (m *Matrix) Add(o *Matrix) error {
	if !m.SameShape(o) {
		return fmt.Errorf("%w: %dx%d += %dx%d", ErrShape, m.rows, m.cols, o.Rows(), o.Cols())
	}
	for i, v := range o.data {
		m.data[i] += v
	}
	return nil
}

// Scale multiplies every element by f in place.
func (m *Matrix) Scale(f float64) {
	for i := range m.data {
		m.data[i] *= f
	}
}

func (m *Matrix) Clone() *Matrix {
	out := &Matrix{rows: m.rows, cols: m.cols, data: make([]float64, len(m.data))}
	copy(out.data, m.data)
	return out
}

// SelectRows returns a new matrix holding the rows whose mask entry is true.
func (m *Matrix) SelectRows(mask []bool) (*Matrix, error) {
	if len(mask) != m.rows {
		return nil, fmt.Errorf("%w: mask=%d rows=%d", ErrMaskLength, len(mask), m.rows)
	}
	n := 0
	for _, keep := range mask {
		if keep {
			n++
		}
	}
	out := NewMatrix(n, m.cols)
	r := 0
	for i, keep := range mask {
		if !keep {
			continue
		}
		copy(out.Row(r), m.Row(i))
		r++
	}
	return out, nil
}
