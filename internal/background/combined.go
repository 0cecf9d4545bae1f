package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"

	"gbmbkg/internal/fit"
	"gbmbkg/internal/param"
)

// Combined fits several Dets jointly. Its namespace is the union of the
// sub-model namespaces by name, in first-appearance order; a name owned
// by several sub-models is one parameter of the joint fit.
type Combined struct {
	dets    []*Det
	params  *param.Set
	owners  map[string][]*param.Parameter
	workers int
	result  *fit.Result
	logger  *slog.Logger
}

func NewCombined(dets []*Det, opts ...Option) (*Combined, error) {
	if len(dets) == 0 {
		return nil, errors.New("at least one model is required")
	}
	o := buildOptions(opts)
	c := &Combined{
		dets:    append([]*Det(nil), dets...),
		params:  param.NewSet(),
		owners:  make(map[string][]*param.Parameter),
		workers: max(o.workers, 1),
		logger:  o.logger,
	}
	for _, d := range dets {
		if d == nil {
			return nil, errors.New("nil model")
		}
		for key, p := range d.Parameters().All() {
			if _, ok := c.owners[key]; !ok {
				if err := c.params.Add(key, p); err != nil {
					return nil, err
				}
			}
			c.owners[key] = append(c.owners[key], p)
		}
	}
	return c, nil
}

func (c *Combined) Models() []*Det { return append([]*Det(nil), c.dets...) }

// Parameters returns the union namespace; each entry is the parameter of
// the first sub-model that declares the name.
func (c *Combined) Parameters() *param.Set { return c.params }

// LogLike sums the sub-model log-likelihoods.
func (c *Combined) LogLike() float64 {
	if c.workers <= 1 || len(c.dets) == 1 {
		total := 0.0
		for _, d := range c.dets {
			total += d.LogLike()
		}
		return total
	}
	parts := make([]float64, len(c.dets))
	var g errgroup.Group
	g.SetLimit(c.workers)
	for i, d := range c.dets {
		g.Go(func() error {
			parts[i] = d.LogLike()
			return nil
		})
	}
	_ = g.Wait()
	total := 0.0
	for _, v := range parts {
		if math.IsInf(v, -1) {
			return v
		}
		total += v
	}
	return total
}

func (c *Combined) LogPrior(values []float64) float64 { return c.params.LogPrior(values) }

// SetParameters writes values positionally over the union namespace into
// every sub-model that owns each name. All owners are validated first.
func (c *Combined) SetParameters(values []float64) error {
	if len(values) != c.params.Len() {
		return fmt.Errorf("%w: got %d values for %d parameters", param.ErrShapeMismatch, len(values), c.params.Len())
	}
	for i, key := range c.params.Keys() {
		for _, p := range c.owners[key] {
			if lo, hi := p.Bounds(); math.IsNaN(values[i]) || values[i] < lo || values[i] > hi {
				return fmt.Errorf("%w: %s=%g not in [%g, %g]", param.ErrOutOfBounds, key, values[i], lo, hi)
			}
		}
	}
	for i, key := range c.params.Keys() {
		for _, p := range c.owners[key] {
			if err := p.SetValue(values[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Combined) SetParameter(key string, value float64) error {
	owners, ok := c.owners[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParameter, key)
	}
	for _, p := range owners {
		if lo, hi := p.Bounds(); math.IsNaN(value) || value < lo || value > hi {
			return fmt.Errorf("%w: %s=%g not in [%g, %g]", param.ErrOutOfBounds, key, value, lo, hi)
		}
	}
	for _, p := range owners {
		if err := p.SetValue(value); err != nil {
			return err
		}
	}
	return nil
}

// SendSamplesToSubmodels gives every sub-model its own view of the joint
// result: its columns in its namespace order and the shared
// log-probability sequence.
func (c *Combined) SendSamplesToSubmodels() error {
	if c.result == nil {
		return ErrNoResult
	}
	for _, d := range c.dets {
		sub, err := c.result.Project(d.Parameters().Keys())
		if err != nil {
			return fmt.Errorf("model %s: %w", d.Name(), err)
		}
		d.SetResult(sub)
	}
	return nil
}

// SendParametersToSubmodels pushes the current value of every union
// parameter into each sub-model that declares the name.
func (c *Combined) SendParametersToSubmodels() error {
	for key, p := range c.params.All() {
		for _, d := range c.dets {
			if _, ok := d.Parameters().Get(key); !ok {
				continue
			}
			if err := d.SetParameter(key, p.Value()); err != nil {
				return fmt.Errorf("model %s: %w", d.Name(), err)
			}
		}
	}
	return nil
}

// Minimize fits all sub-models jointly, moves the parameters to the median
// posterior sample and hands samples and parameters to the sub-models.
func (c *Combined) Minimize(ctx context.Context, driver *fit.Driver) (string, error) {
	res, err := driver.Run(ctx, c)
	if err != nil {
		return "", err
	}
	c.result = res
	if err := setMedian(res, c.SetParameters); err != nil {
		return "", err
	}
	if err := c.distribute(); err != nil {
		return "", err
	}
	c.logger.InfoContext(ctx, "combined model fitted", "models", len(c.dets), "output_dir", res.OutputDir)
	return res.OutputDir, nil
}

// LoadFit reads a joint run and hands it to the sub-models.
func (c *Combined) LoadFit(ctx context.Context, driver *fit.Driver, dir string) error {
	res, err := driver.Load(ctx, c, dir)
	if err != nil {
		return err
	}
	c.result = res
	return c.distribute()
}

func (c *Combined) distribute() error {
	if err := c.SendSamplesToSubmodels(); err != nil {
		return err
	}
	return c.SendParametersToSubmodels()
}

func (c *Combined) SetResult(res *fit.Result) { c.result = res }

func (c *Combined) Result() *fit.Result { return c.result }

func (c *Combined) SetParameterMedian() error {
	return setMedian(c.result, c.SetParameters)
}
