// Package background holds the additive background models: Det sums
// named sources for one detector's data, Combined fits several Dets
// jointly with parameters shared by name.
package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"gbmbkg/internal/fit"
	"gbmbkg/internal/likelihood"
	"gbmbkg/internal/param"
	"gbmbkg/internal/series"
	"gbmbkg/internal/source"
	"gbmbkg/internal/stats"
)

var (
	ErrUnknownSource    = errors.New("unknown source")
	ErrUnknownParameter = errors.New("unknown parameter")
	ErrNoResult         = errors.New("model has no fit result")
	ErrChannelCount     = errors.New("source channel count does not match data")
)

// Data is the observed side of a fit.
type Data interface {
	FitCounts() *series.Matrix
	FitTimeBins() series.TimeBins
	NumEchan() int
}

type options struct {
	logger  *slog.Logger
	workers int
}

type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithWorkers evaluates Combined sub-model likelihoods on up to n
// goroutines. Det ignores it.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.New(slog.DiscardHandler), workers: 1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// Det is the background model of one detector: the sum of its sources.
// Parameters are exposed under "{source}_{param}" in registration order.
type Det struct {
	name    string
	data    Data
	sources []source.Source
	params  *param.Set
	result  *fit.Result
	logger  *slog.Logger
}

func NewDet(name string, data Data, opts ...Option) (*Det, error) {
	if data == nil {
		return nil, errors.New("data is required")
	}
	counts := data.FitCounts()
	if counts == nil {
		return nil, errors.New("data has no fit counts")
	}
	if counts.Rows() != len(data.FitTimeBins()) || counts.Cols() != data.NumEchan() {
		return nil, fmt.Errorf("%w: counts %dx%d, %d time bins, %d channels", series.ErrShape,
			counts.Rows(), counts.Cols(), len(data.FitTimeBins()), data.NumEchan())
	}
	o := buildOptions(opts)
	return &Det{name: name, data: data, params: param.NewSet(), logger: o.logger}, nil
}

func (m *Det) Name() string { return m.name }

func (m *Det) Data() Data { return m.data }

// AddSource binds the fit time bins into src and appends it. A source
// whose name or flattened parameter keys collide leaves the model
// unchanged.
func (m *Det) AddSource(src source.Source) error {
	if src == nil {
		return errors.New("source is nil")
	}
	if slices.Contains(m.SourceNames(), src.Name()) {
		return fmt.Errorf("%w: source %s", param.ErrDuplicateName, src.Name())
	}
	if src.Channels() != m.data.NumEchan() {
		return fmt.Errorf("%w: source %s has %d, data %d", ErrChannelCount, src.Name(), src.Channels(), m.data.NumEchan())
	}
	next, err := flatten(append(slices.Clone(m.sources), src))
	if err != nil {
		return err
	}
	if err := src.BindTimeBins(m.data.FitTimeBins()); err != nil {
		return err
	}
	m.sources = append(m.sources, src)
	m.params = next
	return nil
}

func flatten(sources []source.Source) (*param.Set, error) {
	set := param.NewSet()
	for _, src := range sources {
		for local, p := range src.Parameters().All() {
			if err := set.Add(src.Name()+"_"+local, p); err != nil {
				return nil, err
			}
		}
	}
	return set, nil
}

func (m *Det) SourceNames() []string {
	names := make([]string, len(m.sources))
	for i, src := range m.sources {
		names[i] = src.Name()
	}
	return names
}

func (m *Det) Sources() []source.Source { return slices.Clone(m.sources) }

func (m *Det) Source(name string) (source.Source, error) {
	for _, src := range m.sources {
		if src.Name() == name {
			return src, nil
		}
	}
	return nil, m.unknownSource(name)
}

func (m *Det) unknownSource(name string) error {
	return fmt.Errorf("%w: %q; sources: %s", ErrUnknownSource, name, strings.Join(m.SourceNames(), ", "))
}

// Parameters returns the flat namespace. It is rebuilt on AddSource and
// must not be modified by callers.
func (m *Det) Parameters() *param.Set { return m.params }

// ModelCounts sums every source's predicted counts over the grid q
// selects. With no sources it returns zeros of that shape.
func (m *Det) ModelCounts(q source.Query) (*series.Matrix, error) {
	return m.sum(m.sources, q)
}

// ModelCountsGivenSources sums the named sources only.
func (m *Det) ModelCountsGivenSources(names []string, q source.Query) (*series.Matrix, error) {
	selected := make([]source.Source, 0, len(names))
	for _, name := range names {
		src, err := m.Source(name)
		if err != nil {
			return nil, err
		}
		selected = append(selected, src)
	}
	return m.sum(selected, q)
}

func (m *Det) sum(sources []source.Source, q source.Query) (*series.Matrix, error) {
	rows, err := m.rows(q)
	if err != nil {
		return nil, err
	}
	total := series.NewMatrix(rows, m.data.NumEchan())
	for _, src := range sources {
		counts, err := src.PredictedCounts(q)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", src.Name(), err)
		}
		if err := total.Add(counts); err != nil {
			return nil, fmt.Errorf("source %s: %w", src.Name(), err)
		}
	}
	return total, nil
}

func (m *Det) rows(q source.Query) (int, error) {
	switch {
	case q.Bins != nil && q.Mask != nil:
		return 0, source.ErrExclusiveGrid
	case q.Bins != nil:
		return len(q.Bins), nil
	case q.Mask != nil:
		if len(q.Mask) != len(m.data.FitTimeBins()) {
			return 0, fmt.Errorf("%w: mask=%d bins=%d", series.ErrMaskLength, len(q.Mask), len(m.data.FitTimeBins()))
		}
		n := 0
		for _, keep := range q.Mask {
			if keep {
				n++
			}
		}
		return n, nil
	default:
		return m.data.FitCounts().Rows(), nil
	}
}

// LogLike is minus the Cash statistic of the fit counts against the
// model. A non-positive predicted mean gives -Inf.
func (m *Det) LogLike() float64 {
	pred, err := m.ModelCounts(source.Query{})
	if err != nil {
		return math.Inf(-1)
	}
	ll, err := likelihood.LogLike(m.data.FitCounts(), pred)
	if err != nil {
		return math.Inf(-1)
	}
	return ll
}

// LogPrior evaluates the priors at values without touching the parameters.
func (m *Det) LogPrior(values []float64) float64 { return m.params.LogPrior(values) }

// SetParameters writes values positionally over the namespace. Every value
// is validated before any is written.
func (m *Det) SetParameters(values []float64) error { return m.params.Assign(values) }

func (m *Det) SetParameter(key string, value float64) error {
	p, ok := m.params.Get(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParameter, key)
	}
	return p.SetValue(value)
}

// SetParameterBounds sets [lower, upper] positionally over the namespace.
func (m *Det) SetParameterBounds(bounds [][2]float64) error {
	if len(bounds) != m.params.Len() {
		return fmt.Errorf("%w: got %d bounds for %d parameters", param.ErrShapeMismatch, len(bounds), m.params.Len())
	}
	for i, b := range bounds {
		if err := m.params.At(i).SetBounds(b[0], b[1]); err != nil {
			return fmt.Errorf("%s: %w", m.params.Key(i), err)
		}
	}
	return nil
}

// SetParameterPriors sets priors positionally over the namespace.
func (m *Det) SetParameterPriors(priors []param.Prior) error {
	if len(priors) != m.params.Len() {
		return fmt.Errorf("%w: got %d priors for %d parameters", param.ErrShapeMismatch, len(priors), m.params.Len())
	}
	for i, p := range priors {
		if err := m.params.At(i).SetPrior(p); err != nil {
			return err
		}
	}
	return nil
}

// Minimize fits the model with driver, keeps the result and moves the
// parameters to the median posterior sample. It returns the output
// directory.
func (m *Det) Minimize(ctx context.Context, driver *fit.Driver) (string, error) {
	res, err := driver.Run(ctx, m)
	if err != nil {
		return "", err
	}
	m.result = res
	if err := m.SetParameterMedian(); err != nil {
		return "", err
	}
	m.logger.InfoContext(ctx, "model fitted", "model", m.name, "output_dir", res.OutputDir, "samples", res.Len())
	return res.OutputDir, nil
}

// LoadFit reads a finished run from dir with the current namespace.
func (m *Det) LoadFit(ctx context.Context, driver *fit.Driver, dir string) error {
	res, err := driver.Load(ctx, m, dir)
	if err != nil {
		return err
	}
	m.result = res
	return nil
}

func (m *Det) SetResult(res *fit.Result) { m.result = res }

func (m *Det) Result() *fit.Result { return m.result }

// OutputDir returns the directory of the current result, if any.
func (m *Det) OutputDir() string {
	if m.result == nil {
		return ""
	}
	return m.result.OutputDir
}

// SetParameterMedian sets the parameters to the sample whose posterior log
// probability is the median.
func (m *Det) SetParameterMedian() error {
	return setMedian(m.result, m.SetParameters)
}

func setMedian(res *fit.Result, set func([]float64) error) error {
	if res == nil || res.Len() == 0 {
		return ErrNoResult
	}
	idx, err := stats.ArgMedian(res.LogProb)
	if err != nil {
		return err
	}
	return set(res.Raw[idx])
}
