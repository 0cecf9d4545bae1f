// Package nested implements a nested sampler over the unit cube and reads
// and writes its output in the MultiNest file layout
// (<basename>post_equal_weights.dat, <basename>.txt, <basename>stats.json).
package nested

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// PriorFunc maps a unit-cube point to parameter values in place.
type PriorFunc func(cube []float64) error

// LogLikeFunc evaluates the log-likelihood at parameter values. -Inf
// rejects the point.
type LogLikeFunc func(theta []float64) float64

type Config struct {
	LivePoints int `json:"live_points"`
	// Tolerance stops the run once the live points can raise the log
	// evidence by less than this amount.
	Tolerance     float64 `json:"tolerance"`
	MaxIterations int     `json:"max_iterations,omitempty"`
	// WalkSteps is the number of constrained random-walk proposals used to
	// replace one dead point.
	WalkSteps int   `json:"walk_steps"`
	Seed      int64 `json:"seed"`
	// ConstEfficiency keeps the random-walk step scale fixed instead of
	// adapting it to the acceptance rate.
	ConstEfficiency bool `json:"const_efficiency,omitempty"`
}

const (
	DefaultLivePoints = 400
	DefaultTolerance  = 0.5
	DefaultWalkSteps  = 25
	maxInitAttempts   = 1000
)

func DefaultConfig() Config {
	return Config{LivePoints: DefaultLivePoints, Tolerance: DefaultTolerance, WalkSteps: DefaultWalkSteps, Seed: 1}
}

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	if c.LivePoints == 0 {
		c.LivePoints = DefaultLivePoints
	}
	if c.Tolerance == 0 {
		c.Tolerance = DefaultTolerance
	}
	if c.WalkSteps == 0 {
		c.WalkSteps = DefaultWalkSteps
	}
	return c
}

func (c Config) Validate() error {
	if c.LivePoints < 2 {
		return errors.New("live points must be >= 2")
	}
	if c.Tolerance <= 0 {
		return errors.New("tolerance must be > 0")
	}
	if c.MaxIterations < 0 {
		return errors.New("max iterations must be >= 0")
	}
	if c.WalkSteps <= 0 {
		return errors.New("walk steps must be > 0")
	}
	return nil
}

var ErrNoValidPoint = errors.New("no prior draw with finite likelihood")

// Stats summarises a finished run.
type Stats struct {
	LogEvidence    float64 `json:"log_evidence"`
	LogEvidenceErr float64 `json:"log_evidence_err"`
	Information    float64 `json:"information"`
	Iterations     int     `json:"iterations"`
	Evaluations    int     `json:"evaluations"`
	Samples        int     `json:"equal_weighted_samples"`
	Converged      bool    `json:"converged"`
}

type point struct {
	cube    []float64
	theta   []float64
	logLike float64
}

type deadPoint struct {
	theta   []float64
	logLike float64
	logWt   float64
}

type sampler struct {
	cfg     Config
	ndim    int
	prior   PriorFunc
	like    LogLikeFunc
	rng     *rand.Rand
	evals   int
	scale   float64
	live    []point
	dead    []deadPoint
	logZ    float64
	info    float64
	logLMax float64
}

// Run samples the posterior of loglike under prior and writes the output
// files at basename. It blocks until the run converges, reaches
// MaxIterations or ctx is cancelled; a cancelled run writes nothing.
func Run(ctx context.Context, cfg Config, ndim int, prior PriorFunc, loglike LogLikeFunc, basename string) (Stats, error) {
	if err := cfg.Validate(); err != nil {
		return Stats{}, err
	}
	if ndim <= 0 {
		return Stats{}, errors.New("ndim must be > 0")
	}
	if prior == nil || loglike == nil {
		return Stats{}, errors.New("prior and log-likelihood callbacks are required")
	}
	s := &sampler{
		cfg:   cfg,
		ndim:  ndim,
		prior: prior,
		like:  loglike,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		scale: 0.1,
		logZ:  math.Inf(-1),
	}
	stats, err := s.run(ctx)
	if err != nil {
		return Stats{}, err
	}
	posterior := s.equalWeighted()
	stats.Samples = len(posterior)
	if err := writeOutput(basename, s.dead, posterior, stats); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

func (s *sampler) run(ctx context.Context) (Stats, error) {
	if err := s.initLive(ctx); err != nil {
		return Stats{}, err
	}
	n := float64(s.cfg.LivePoints)
	// log(1 - exp(-1/n)): width of the first prior-volume shell
	logWidth := math.Log(-math.Expm1(-1 / n))
	iter := 0
	converged := false
	for {
		if err := ctx.Err(); err != nil {
			return Stats{}, err
		}
		worst := s.worst()
		lmin := s.live[worst].logLike
		logWt := logWidth + lmin
		s.accumulate(logWt, lmin)
		s.dead = append(s.dead, deadPoint{theta: clone(s.live[worst].theta), logLike: lmin, logWt: logWt})

		s.replace(worst, lmin)
		iter++
		logWidth -= 1 / n

		logX := -float64(iter) / n
		remain := s.maxLive() + logX
		if logAddExp(s.logZ, remain)-s.logZ < s.cfg.Tolerance {
			converged = true
			break
		}
		if s.cfg.MaxIterations > 0 && iter >= s.cfg.MaxIterations {
			break
		}
	}
	// remaining live points share the last shell equally
	logX := -float64(iter) / n
	sort.Slice(s.live, func(i, j int) bool { return s.live[i].logLike < s.live[j].logLike })
	for _, p := range s.live {
		logWt := logX - math.Log(n) + p.logLike
		s.accumulate(logWt, p.logLike)
		s.dead = append(s.dead, deadPoint{theta: clone(p.theta), logLike: p.logLike, logWt: logWt})
	}
	info := s.info
	if info < 0 || math.IsNaN(info) {
		info = 0
	}
	return Stats{
		LogEvidence:    s.logZ,
		LogEvidenceErr: math.Sqrt(info / n),
		Information:    info,
		Iterations:     iter,
		Evaluations:    s.evals,
		Converged:      converged,
	}, nil
}

func (s *sampler) initLive(ctx context.Context) error {
	s.live = make([]point, 0, s.cfg.LivePoints)
	for len(s.live) < s.cfg.LivePoints {
		if err := ctx.Err(); err != nil {
			return err
		}
		var p point
		ok := false
		for attempt := 0; attempt < maxInitAttempts; attempt++ {
			cube := make([]float64, s.ndim)
			for i := range cube {
				cube[i] = s.rng.Float64()
			}
			var err error
			p, err = s.evaluate(cube)
			if err != nil {
				return err
			}
			if !math.IsInf(p.logLike, -1) {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("%w after %d draws", ErrNoValidPoint, maxInitAttempts)
		}
		s.live = append(s.live, p)
	}
	return nil
}

func (s *sampler) evaluate(cube []float64) (point, error) {
	theta := clone(cube)
	if err := s.prior(theta); err != nil {
		return point{}, fmt.Errorf("prior transform: %w", err)
	}
	s.evals++
	ll := s.like(theta)
	if math.IsNaN(ll) {
		ll = math.Inf(-1)
	}
	return point{cube: cube, theta: theta, logLike: ll}, nil
}

// accumulate adds one weighted sample to the evidence and information.
func (s *sampler) accumulate(logWt, logL float64) {
	logZNew := logAddExp(s.logZ, logWt)
	if math.IsInf(logZNew, -1) {
		return
	}
	h := math.Exp(logWt-logZNew) * logL
	if !math.IsInf(s.logZ, -1) {
		h += math.Exp(s.logZ-logZNew) * (s.info + s.logZ)
	}
	s.info = h - logZNew
	s.logZ = logZNew
}

func (s *sampler) worst() int {
	w := 0
	for i := 1; i < len(s.live); i++ {
		if s.live[i].logLike < s.live[w].logLike {
			w = i
		}
	}
	return w
}

func (s *sampler) maxLive() float64 {
	m := math.Inf(-1)
	for _, p := range s.live {
		if p.logLike > m {
			m = p.logLike
		}
	}
	return m
}

// replace overwrites live point worst with a point of likelihood above
// lmin, found by a random walk from a copy of another live point.
func (s *sampler) replace(worst int, lmin float64) {
	j := worst
	for j == worst {
		j = s.rng.Intn(len(s.live))
	}
	cur := s.live[j]
	accepted, rejected := 0, 0
	for step := 0; step < s.cfg.WalkSteps; step++ {
		trial := make([]float64, s.ndim)
		inside := true
		for d := range trial {
			trial[d] = cur.cube[d] + s.scale*s.rng.NormFloat64()
			if trial[d] < 0 || trial[d] > 1 {
				inside = false
			}
		}
		if !inside {
			rejected++
			continue
		}
		p, err := s.evaluate(trial)
		if err != nil || !(p.logLike > lmin) {
			rejected++
			continue
		}
		cur = p
		accepted++
	}
	if !s.cfg.ConstEfficiency {
		if accepted > rejected {
			s.scale *= math.Exp(1 / float64(accepted))
		} else if rejected > 0 {
			s.scale /= math.Exp(1 / float64(rejected))
		}
		s.scale = math.Min(s.scale, 1)
	}
	s.live[worst] = point{cube: clone(cur.cube), theta: clone(cur.theta), logLike: cur.logLike}
}

// equalWeighted resamples the dead points to uniform weight with
// systematic resampling; the sample count is the effective sample size.
func (s *sampler) equalWeighted() []deadPoint {
	if len(s.dead) == 0 || math.IsInf(s.logZ, -1) {
		return nil
	}
	w := make([]float64, len(s.dead))
	sumSq := 0.0
	for i, d := range s.dead {
		w[i] = math.Exp(d.logWt - s.logZ)
		sumSq += w[i] * w[i]
	}
	total := 0.0
	for _, v := range w {
		total += v
	}
	n := 1
	if sumSq > 0 {
		n = max(1, int(math.Floor(total*total/sumSq)))
	}
	out := make([]deadPoint, 0, n)
	u := s.rng.Float64() / float64(n)
	cum := 0.0
	k := 0
	for i := 0; i < n; i++ {
		target := (u + float64(i)/float64(n)) * total
		for k < len(w)-1 && cum+w[k] < target {
			cum += w[k]
			k++
		}
		out = append(out, s.dead[k])
	}
	return out
}

func logAddExp(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	if a > b {
		return a + math.Log1p(math.Exp(b-a))
	}
	return b + math.Log1p(math.Exp(a-b))
}

func clone(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
