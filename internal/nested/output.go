package nested

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

const (
	EqualWeightsSuffix = "post_equal_weights.dat"
	SamplesSuffix      = ".txt"
	StatsSuffix        = "stats.json"
)

var ErrColumnMismatch = errors.New("posterior column count does not match parameter count")

// Posterior is an equal-weighted posterior: one row per sample with the
// parameter values, plus the log-likelihood of each row.
type Posterior struct {
	Samples [][]float64
	LogLike []float64
}

func writeOutput(basename string, dead, posterior []deadPoint, stats Stats) error {
	if err := writeRows(basename+EqualWeightsSuffix, posterior, func(w *bufio.Writer, d deadPoint) {
		for _, v := range d.theta {
			writeField(w, v)
		}
		writeField(w, d.logLike)
	}); err != nil {
		return err
	}
	if err := writeRows(basename+SamplesSuffix, dead, func(w *bufio.Writer, d deadPoint) {
		writeField(w, math.Exp(d.logWt-stats.LogEvidence))
		writeField(w, -2*d.logLike)
		for _, v := range d.theta {
			writeField(w, v)
		}
	}); err != nil {
		return err
	}
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(basename+StatsSuffix, data, 0o644)
}

func writeRows(path string, rows []deadPoint, row func(*bufio.Writer, deadPoint)) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, d := range rows {
		row(w, d)
		_ = w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func writeField(w *bufio.Writer, v float64) {
	_, _ = w.WriteString("  ")
	_, _ = w.WriteString(strconv.FormatFloat(v, 'E', 15, 64))
}

// ReadEqualWeighted reads <basename>post_equal_weights.dat. Every row must
// carry nParams values followed by the log-likelihood.
func ReadEqualWeighted(basename string, nParams int) (Posterior, error) {
	f, err := os.Open(basename + EqualWeightsSuffix)
	if err != nil {
		return Posterior{}, err
	}
	defer f.Close()

	var out Posterior
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != nParams+1 {
			return Posterior{}, fmt.Errorf("%w: line %d has %d columns, want %d", ErrColumnMismatch, line, len(fields), nParams+1)
		}
		row := make([]float64, nParams)
		for i := 0; i < nParams; i++ {
			row[i], err = parseField(fields[i])
			if err != nil {
				return Posterior{}, fmt.Errorf("line %d column %d: %w", line, i+1, err)
			}
		}
		ll, err := parseField(fields[nParams])
		if err != nil {
			return Posterior{}, fmt.Errorf("line %d log-likelihood: %w", line, err)
		}
		out.Samples = append(out.Samples, row)
		out.LogLike = append(out.LogLike, ll)
	}
	if err := sc.Err(); err != nil {
		return Posterior{}, err
	}
	return out, nil
}

// parseField also accepts the Fortran form MultiNest writes for exponents
// with three digits, e.g. 0.1-100.
func parseField(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err == nil {
		return v, nil
	}
	if i := strings.LastIndexAny(s, "+-"); i > 0 && s[i-1] != 'E' && s[i-1] != 'e' {
		return strconv.ParseFloat(s[:i]+"E"+s[i:], 64)
	}
	return 0, err
}

// ReadStats reads <basename>stats.json.
func ReadStats(basename string) (Stats, error) {
	data, err := os.ReadFile(basename + StatsSuffix)
	if err != nil {
		return Stats{}, err
	}
	var s Stats
	if err := json.Unmarshal(data, &s); err != nil {
		return Stats{}, fmt.Errorf("decode %s: %w", basename+StatsSuffix, err)
	}
	return s, nil
}
