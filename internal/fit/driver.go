// Package fit runs nested-sampling fits of a background model and reloads
// finished runs. Filesystem side effects are gated to rank 0 of an explicit
// execution context (Comm); every participant loads the result.
package fit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"gbmbkg/internal/archive"
	"gbmbkg/internal/nested"
	"gbmbkg/internal/param"
)

var ErrDriverUsed = errors.New("fit driver already used")

// Objective is the model a driver fits.
type Objective interface {
	Parameters() *param.Set
	LogLike() float64
	LogPrior(values []float64) float64
	SetParameters(values []float64) error
}

type State int

const (
	StateIdle State = iota
	StateRunning
	StateLoading
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateLoading:
		return "loading"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	DefaultIdentifier = "gbmbkg_fit"

	modeRun  = "run"
	modeLoad = "load"
)

type Config struct {
	// OutputRoot holds one directory per run.
	OutputRoot string
	Identifier string
	Sampler    nested.Config
	// SkipArchive disables the posterior archive next to the sampler files.
	SkipArchive bool
}

// Driver runs or loads exactly one fit.
type Driver struct {
	cfg     Config
	comm    Comm
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
	rng     *rand.Rand

	mu    sync.Mutex
	state State
}

type Option func(*Driver)

func WithComm(c Comm) Option {
	return func(d *Driver) {
		d.comm = c
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(d *Driver) {
		d.metrics = m
	}
}

// WithClock sets the clock used to name output directories.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		d.now = now
	}
}

func NewDriver(cfg Config, opts ...Option) (*Driver, error) {
	if cfg.Identifier == "" {
		cfg.Identifier = DefaultIdentifier
	}
	cfg.Sampler = cfg.Sampler.WithDefaults()
	if err := cfg.Sampler.Validate(); err != nil {
		return nil, fmt.Errorf("sampler config: %w", err)
	}
	d := &Driver{
		cfg:    cfg,
		comm:   Solo(),
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.comm == nil {
		return nil, errors.New("execution context is required")
	}
	if d.logger == nil {
		d.logger = slog.New(slog.DiscardHandler)
	}
	return d, nil
}

func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Driver) begin(next State) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateIdle {
		return fmt.Errorf("%w: state %s", ErrDriverUsed, d.state)
	}
	d.state = next
	return nil
}

func (d *Driver) finish(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.state = StateFailed
		return
	}
	d.state = StateCompleted
}

// runStatus is what rank 0 broadcasts once the sampler has finished.
type runStatus struct {
	Err string `json:"err,omitempty"`
}

// Run samples obj's posterior and returns it together with the real output
// directory. The call blocks until the sampler converges; obj's parameters
// hold the last evaluated sample afterwards.
func (d *Driver) Run(ctx context.Context, obj Objective) (res *Result, err error) {
	if err := d.begin(StateRunning); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		d.finish(err)
		d.metrics.observeRun(modeRun, err, start)
	}()

	set := obj.Parameters()
	if err := checkTransforms(set); err != nil {
		return nil, err
	}

	rank := d.comm.Rank()
	var payload []byte
	if rank == 0 {
		dirs, prepErr := prepareOutputDir(d.cfg.OutputRoot, d.cfg.Identifier, d.now(), d.rng)
		if prepErr != nil {
			dirs = outputDirs{Err: prepErr.Error()}
		}
		if payload, err = json.Marshal(dirs); err != nil {
			return nil, err
		}
	}
	payload, err = d.comm.Broadcast(ctx, 0, payload)
	if err != nil {
		return nil, fmt.Errorf("broadcast output dir: %w", err)
	}
	var dirs outputDirs
	if err := json.Unmarshal(payload, &dirs); err != nil {
		return nil, fmt.Errorf("decode output dir: %w", err)
	}
	if dirs.Err != "" {
		return nil, fmt.Errorf("prepare output dir: %s", dirs.Err)
	}
	if err := d.comm.Barrier(ctx); err != nil {
		return nil, err
	}

	var status runStatus
	var sampleErr error
	if rank == 0 {
		if sampleErr = d.sample(ctx, obj, dirs); sampleErr != nil {
			status.Err = sampleErr.Error()
		}
		if payload, err = json.Marshal(status); err != nil {
			return nil, err
		}
	}
	if sampleErr != nil && d.comm.Size() == 1 {
		return nil, fmt.Errorf("sampler: %w", sampleErr)
	}
	payload, err = d.comm.Broadcast(ctx, 0, payload)
	if err != nil {
		return nil, fmt.Errorf("broadcast run status: %w", err)
	}
	if sampleErr != nil {
		return nil, fmt.Errorf("sampler: %w", sampleErr)
	}
	if err := json.Unmarshal(payload, &status); err != nil {
		return nil, fmt.Errorf("decode run status: %w", err)
	}
	if status.Err != "" {
		return nil, fmt.Errorf("sampler: %s", status.Err)
	}

	res, err = d.read(obj, dirs.Real)
	if err != nil {
		return nil, err
	}
	if rank == 0 && !d.cfg.SkipArchive {
		d.writeArchive(set, res)
	}
	if err := d.comm.Barrier(ctx); err != nil {
		return nil, err
	}
	d.logger.InfoContext(ctx, "fit completed",
		"output_dir", res.OutputDir,
		"samples", res.Len(),
		"log_evidence", res.LogEvidence,
		"rank", rank,
	)
	return res, nil
}

// sample runs the sampler through the work directory and removes the
// alias afterwards. Rank 0 only.
func (d *Driver) sample(ctx context.Context, obj Objective, dirs outputDirs) error {
	set := obj.Parameters()
	prior := func(cube []float64) error {
		return set.Transform(cube)
	}
	like := func(theta []float64) float64 {
		if err := obj.SetParameters(theta); err != nil {
			d.metrics.observeEvaluation(true)
			return math.Inf(-1)
		}
		ll := obj.LogLike()
		d.metrics.observeEvaluation(math.IsInf(ll, -1) || math.IsNaN(ll))
		return ll
	}
	d.logger.InfoContext(ctx, "starting sampler",
		"output_dir", dirs.Real,
		"alias", dirs.Alias,
		"parameters", set.Len(),
		"live_points", d.cfg.Sampler.LivePoints,
	)
	stats, runErr := nested.Run(ctx, d.cfg.Sampler, set.Len(), prior, like, filepath.Join(dirs.work(), SamplerBasename))
	if err := removeAlias(dirs); err != nil {
		d.logger.WarnContext(ctx, "remove output alias", "alias", dirs.Alias, "error", err)
	}
	if runErr != nil {
		return runErr
	}
	d.logger.InfoContext(ctx, "sampler finished",
		"iterations", stats.Iterations,
		"evaluations", stats.Evaluations,
		"converged", stats.Converged,
	)
	return nil
}

// Load reads the run stored in dir using obj's current namespace. The
// column count is always checked; when dir carries an archive manifest its
// namespace must match and its samples must agree with the text posterior.
func (d *Driver) Load(ctx context.Context, obj Objective, dir string) (res *Result, err error) {
	if err := d.begin(StateLoading); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		d.finish(err)
		d.metrics.observeRun(modeLoad, err, start)
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	archived := archive.Exists(dir)
	if archived {
		if err := archive.Verify(dir, obj.Parameters()); err != nil {
			return nil, err
		}
	} else {
		d.logger.WarnContext(ctx, "no archive manifest, checking column count only", "dir", dir)
	}
	res, err = d.read(obj, dir)
	if err != nil {
		return nil, err
	}
	if archived {
		if err := matchArchive(dir, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// matchArchive fails when the archived posterior disagrees with the text
// posterior read from the same directory.
func matchArchive(dir string, res *Result) error {
	_, post, err := archive.Read(dir)
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}
	if post.Len() != len(res.LogLike) {
		return fmt.Errorf("%w: archive has %d samples, text posterior %d",
			archive.ErrColumnLength, post.Len(), len(res.LogLike))
	}
	for i, v := range post.LogLike {
		w := res.LogLike[i]
		if v == w {
			continue
		}
		if math.Abs(v-w) > 1e-12*math.Max(1, math.Max(math.Abs(v), math.Abs(w))) || math.IsNaN(v-w) {
			return fmt.Errorf("%w: log_like sample %d is %g in archive, %g in text posterior",
				archive.ErrColumnLength, i, v, w)
		}
	}
	return nil
}

func (d *Driver) read(obj Objective, dir string) (*Result, error) {
	set := obj.Parameters()
	base := filepath.Join(dir, SamplerBasename)
	post, err := nested.ReadEqualWeighted(base, set.Len())
	if err != nil {
		return nil, fmt.Errorf("read posterior: %w", err)
	}
	res := newResult(set, post.Samples, post.LogLike, obj.LogPrior)
	res.OutputDir = dir
	if stats, err := nested.ReadStats(base); err == nil {
		res.LogEvidence = stats.LogEvidence
		res.LogEvidenceErr = stats.LogEvidenceErr
	} else {
		d.logger.Warn("sampler stats unavailable", "dir", dir, "error", err)
	}
	return res, nil
}

func (d *Driver) writeArchive(set *param.Set, res *Result) {
	if archive.Exists(res.OutputDir) {
		return
	}
	post := archive.Posterior{
		Names:   res.Names,
		Columns: res.Columns(),
		LogLike: res.LogLike,
		LogProb: res.LogProb,
	}
	if _, err := archive.Write(res.OutputDir, post, set.Fingerprint(), res.LogEvidence, res.LogEvidenceErr); err != nil {
		d.logger.Warn("posterior archive not written", "dir", res.OutputDir, "error", err)
	}
}

// checkTransforms fails before any sampling when a prior cannot map the
// unit cube, then dry-runs the transform at the cube midpoint.
func checkTransforms(set *param.Set) error {
	if set.Len() == 0 {
		return errors.New("model has no parameters")
	}
	if err := set.CheckTransforms(); err != nil {
		return err
	}
	mid := make([]float64, set.Len())
	for i := range mid {
		mid[i] = 0.5
	}
	if err := set.Transform(mid); err != nil {
		return fmt.Errorf("prior transform dry run: %w", err)
	}
	for i, v := range mid {
		lo, hi := set.At(i).Bounds()
		if v < lo || v > hi || math.IsNaN(v) {
			return fmt.Errorf("%w: dry run maps %s to %g", param.ErrOutOfBounds, set.Key(i), v)
		}
	}
	return nil
}
