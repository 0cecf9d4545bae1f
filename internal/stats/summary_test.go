package stats

import (
	"errors"
	"math"
	"testing"

	"gbmbkg/internal/fit"
)

func TestArgMedian(t *testing.T) {
	cases := []struct {
		name   string
		values []float64
		want   int
	}{
		{name: "odd", values: []float64{3, 1, 2}, want: 2},
		{name: "even picks lower index", values: []float64{4, 1, 3, 2}, want: 2},
		{name: "even middle order", values: []float64{1, 3, 2, 4}, want: 1},
		{name: "single", values: []float64{7}, want: 0},
		{name: "with -inf", values: []float64{math.Inf(-1), -5, -3}, want: 1},
		{name: "skips nan", values: []float64{math.NaN(), -4, -2, -3}, want: 3},
		{name: "nan between", values: []float64{-1, math.NaN(), -2}, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ArgMedian(tc.values)
			if err != nil {
				t.Fatalf("arg median: %v", err)
			}
			if got != tc.want {
				t.Fatalf("arg median of %v: got %d want %d", tc.values, got, tc.want)
			}
		})
	}
	if _, err := ArgMedian(nil); !errors.Is(err, ErrEmptySamples) {
		t.Fatalf("expected ErrEmptySamples, got %v", err)
	}
	if _, err := ArgMedian([]float64{math.NaN(), math.NaN()}); !errors.Is(err, ErrEmptySamples) {
		t.Fatalf("expected ErrEmptySamples for all-NaN input, got %v", err)
	}
}

func TestQuantileSortedInterpolates(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5}
	if q := quantileSorted(sorted, 0.5); q != 3 {
		t.Fatalf("median: got %g", q)
	}
	if q := quantileSorted(sorted, 0.05); math.Abs(q-1.2) > 1e-12 {
		t.Fatalf("q05: got %g", q)
	}
	if q := quantileSorted(sorted, 1); q != 5 {
		t.Fatalf("q100: got %g", q)
	}
	if q := quantileSorted([]float64{7}, 0.95); q != 7 {
		t.Fatalf("single sample: got %g", q)
	}
}

func TestSummarize(t *testing.T) {
	res := &fit.Result{
		Names:   []string{"a", "b"},
		Raw:     [][]float64{{1, 10}, {2, 20}, {3, 30}, {4, 40}},
		LogLike: []float64{-1, -2, -3, -4},
		LogProb: []float64{-1, -2, -3, -4},
	}
	summary, err := Summarize(res)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if len(summary) != 2 || summary[0].Name != "a" || summary[1].Name != "b" {
		t.Fatalf("unexpected order: %+v", summary)
	}
	if summary[0].Mean != 2.5 || summary[0].Median != 2.5 {
		t.Fatalf("unexpected summary for a: %+v", summary[0])
	}
	if math.Abs(summary[1].Std-math.Sqrt(125)) > 1e-12 {
		t.Fatalf("unexpected std for b: %g", summary[1].Std)
	}

	if _, err := Summarize(&fit.Result{}); !errors.Is(err, ErrEmptySamples) {
		t.Fatalf("expected ErrEmptySamples, got %v", err)
	}
}

func TestMaxIndex(t *testing.T) {
	i, err := MaxIndex([]float64{-3, -1, -2})
	if err != nil || i != 1 {
		t.Fatalf("max index: got %d err=%v", i, err)
	}
}
