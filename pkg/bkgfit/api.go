package bkgfit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"gbmbkg/internal/archive"
	"gbmbkg/internal/background"
	"gbmbkg/internal/data"
	"gbmbkg/internal/fit"
	"gbmbkg/internal/model"
	"gbmbkg/internal/nested"
	"gbmbkg/internal/param"
	"gbmbkg/internal/setup"
	"gbmbkg/internal/source"
	"gbmbkg/internal/stats"
	"gbmbkg/internal/storage"
)

const (
	defaultFitsDir    = "fits"
	defaultExportsDir = "exports"
	defaultDBPath     = "gbmbkg.db"
	defaultRunsLimit  = 20
)

var ErrRunNotFound = errors.New("run not found")

type Options struct {
	StoreKind  string
	DBPath     string
	FitsDir    string
	ExportsDir string
	Logger     *slog.Logger
	// Registerer receives the fit metrics; nil uses a private registry.
	Registerer prometheus.Registerer
	// Now names output directories and stamps catalog records.
	Now func() time.Time
}

type Client struct {
	store   storage.Store
	logger  *slog.Logger
	metrics *fit.Metrics
	now     func() time.Time

	fitsDir    string
	exportsDir string

	initOnce sync.Once
	initErr  error
}

// DetectorInput describes one detector's data files and its sources.
type DetectorInput struct {
	Name      string `json:"name"`
	CountsCSV string `json:"counts_csv"`
	// Rate tables "time,r0,r1,..." for the collaborators the setup uses.
	McIlwainCSV    string            `json:"mcilwain_csv,omitempty"`
	EarthCSV       string            `json:"earth_csv,omitempty"`
	CGBCSV         string            `json:"cgb_csv,omitempty"`
	PointSourceCSV map[string]string `json:"point_source_csv,omitempty"`
	ResponseJSON   string            `json:"response_json,omitempty"`
	Setup          setup.Config      `json:"setup"`
}

type FitRequest struct {
	Identifier string          `json:"identifier"`
	Detectors  []DetectorInput `json:"detectors"`
	// ExcludeAfterSAA drops this many seconds after every SAA exit from
	// the fit grid.
	ExcludeAfterSAA float64       `json:"exclude_after_saa,omitempty"`
	Sampler         nested.Config `json:"sampler"`
	// Workers bounds the per-detector likelihood fan-out of joint fits.
	Workers int `json:"workers,omitempty"`
	// Participants runs the fit in a local group of this many ranks.
	Participants int  `json:"participants,omitempty"`
	SkipArchive  bool `json:"skip_archive,omitempty"`
}

type FitSummary struct {
	RunID          string                   `json:"run_id,omitempty"`
	OutputDir      string                   `json:"output_dir"`
	Samples        int                      `json:"samples"`
	LogEvidence    float64                  `json:"log_evidence"`
	LogEvidenceErr float64                  `json:"log_evidence_err"`
	MaxLogLike     float64                  `json:"max_log_like"`
	ArchiveBytes   int64                    `json:"archive_bytes"`
	Median         map[string]float64       `json:"median"`
	Parameters     []stats.ParameterSummary `json:"parameters"`
}

type LoadRequest struct {
	Fit FitRequest
	Dir string
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string
	CreatedAtUTC string
	Identifier   string
	OutputDir    string
	Parameters   int
	Samples      int
	LogEvidence  float64
	MaxLogLike   float64
}

type SummaryRequest struct {
	RunID  string
	Latest bool
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type DeleteRequest struct {
	RunID string
	// RemoveOutput also deletes the run's output directory.
	RemoveOutput bool
}

type DeleteSummary struct {
	RunID         string
	OutputDir     string
	RemovedOutput bool
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	fitsDir := opts.FitsDir
	if fitsDir == "" {
		fitsDir = defaultFitsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		logger:     logger,
		metrics:    fit.NewMetrics(reg),
		now:        now,
		fitsDir:    fitsDir,
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.ensureStore(ctx)
}

func (c *Client) ensureStore(ctx context.Context) error {
	c.initOnce.Do(func() {
		if err := os.MkdirAll(c.fitsDir, 0o755); err != nil {
			c.initErr = err
			return
		}
		c.initErr = c.store.Init(ctx)
	})
	return c.initErr
}

// Fit runs a nested-sampling fit of the detectors in req, one detector
// alone or several jointly, and records it in the run index and catalog.
func (c *Client) Fit(ctx context.Context, req FitRequest) (FitSummary, error) {
	if err := c.ensureStore(ctx); err != nil {
		return FitSummary{}, err
	}
	req, err := normalize(req)
	if err != nil {
		return FitSummary{}, err
	}

	runID := uuid.NewString()
	logger := c.logger.With("run_id", runID)
	models := make([]fitModel, req.Participants)
	for i := range models {
		if models[i], err = buildModel(req, logger); err != nil {
			return FitSummary{}, err
		}
	}

	drivers := make([]*fit.Driver, req.Participants)
	comms := []fit.Comm{fit.Solo()}
	if req.Participants > 1 {
		comms = fit.NewLocalGroup(req.Participants)
	}
	for i, comm := range comms {
		drivers[i], err = fit.NewDriver(fit.Config{
			OutputRoot:  c.fitsDir,
			Identifier:  req.Identifier,
			Sampler:     req.Sampler,
			SkipArchive: req.SkipArchive,
		},
			fit.WithComm(comm),
			fit.WithLogger(logger.With("rank", comm.Rank())),
			fit.WithMetrics(c.metrics),
			fit.WithClock(c.now),
		)
		if err != nil {
			return FitSummary{}, err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range drivers {
		g.Go(func() error {
			_, err := models[i].Minimize(gctx, drivers[i])
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return FitSummary{}, err
	}

	m := models[0]
	summary, err := summarize(runID, m.Result())
	if err != nil {
		return FitSummary{}, err
	}
	summary.ArchiveBytes = archiveBytes(summary.OutputDir)
	if err := c.record(ctx, req, m, summary); err != nil {
		return FitSummary{}, err
	}
	logger.InfoContext(ctx, "fit recorded", "output_dir", summary.OutputDir, "samples", summary.Samples)
	return summary, nil
}

// Load reads a finished run from req.Dir with the namespace req.Fit
// builds. Nothing is recorded.
func (c *Client) Load(ctx context.Context, req LoadRequest) (FitSummary, error) {
	if req.Dir == "" {
		return FitSummary{}, errors.New("load requires an output directory")
	}
	fr, err := normalize(req.Fit)
	if err != nil {
		return FitSummary{}, err
	}
	m, err := buildModel(fr, c.logger)
	if err != nil {
		return FitSummary{}, err
	}
	driver, err := fit.NewDriver(fit.Config{Identifier: fr.Identifier}, fit.WithLogger(c.logger), fit.WithMetrics(c.metrics))
	if err != nil {
		return FitSummary{}, err
	}
	if err := m.LoadFit(ctx, driver, req.Dir); err != nil {
		return FitSummary{}, err
	}
	if err := m.SetParameterMedian(); err != nil {
		return FitSummary{}, err
	}
	summary, err := summarize("", m.Result())
	if err != nil {
		return FitSummary{}, err
	}
	summary.ArchiveBytes = archiveBytes(summary.OutputDir)
	return summary, nil
}

// Runs lists recorded runs, newest first. Catalog records win over run
// index entries with the same run id; runs only the index knows about come
// from earlier processes that used another catalog.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = defaultRunsLimit
	}
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}
	records, err := c.store.ListFits(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := stats.ListRunIndex(c.fitsDir)
	if err != nil {
		return nil, err
	}

	out := make([]RunItem, 0, len(records)+len(entries))
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		seen[r.RunID] = true
		out = append(out, RunItem{
			RunID:        r.RunID,
			CreatedAtUTC: r.CreatedAtUTC,
			Identifier:   r.Identifier,
			OutputDir:    r.OutputDir,
			Parameters:   len(r.Parameters),
			Samples:      r.Samples,
			LogEvidence:  r.LogEvidence,
			MaxLogLike:   r.MaxLogLike,
		})
	}
	for _, e := range entries {
		if seen[e.RunID] {
			continue
		}
		out = append(out, RunItem{
			RunID:        e.RunID,
			CreatedAtUTC: e.CreatedAtUTC,
			Identifier:   e.Identifier,
			OutputDir:    e.OutputDir,
			Parameters:   e.Parameters,
			Samples:      e.Samples,
			LogEvidence:  e.LogEvidence,
			MaxLogLike:   e.MaxLogLike,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAtUTC > out[j].CreatedAtUTC
	})
	if len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}

// Delete forgets a run in the catalog and the run index. The output
// directory is kept unless req.RemoveOutput is set.
func (c *Client) Delete(ctx context.Context, req DeleteRequest) (DeleteSummary, error) {
	if req.RunID == "" {
		return DeleteSummary{}, errors.New("run id is required")
	}
	if err := c.ensureStore(ctx); err != nil {
		return DeleteSummary{}, err
	}
	record, inCatalog, err := c.store.GetFit(ctx, req.RunID)
	if err != nil {
		return DeleteSummary{}, err
	}
	entry, inIndex, err := stats.FindRun(c.fitsDir, req.RunID)
	if err != nil {
		return DeleteSummary{}, err
	}
	if !inCatalog && !inIndex {
		return DeleteSummary{}, fmt.Errorf("%w: %s", ErrRunNotFound, req.RunID)
	}
	out := DeleteSummary{RunID: req.RunID, OutputDir: entry.OutputDir}
	if inCatalog {
		out.OutputDir = record.OutputDir
		if err := c.store.DeleteFit(ctx, req.RunID); err != nil {
			return DeleteSummary{}, err
		}
	}
	if _, err := stats.RemoveRunIndex(c.fitsDir, req.RunID); err != nil {
		return DeleteSummary{}, err
	}
	if req.RemoveOutput && out.OutputDir != "" {
		if err := os.RemoveAll(out.OutputDir); err != nil {
			return DeleteSummary{}, fmt.Errorf("remove output: %w", err)
		}
		out.RemovedOutput = true
	}
	c.logger.InfoContext(ctx, "run deleted", "run_id", req.RunID, "output_dir", out.OutputDir, "removed_output", out.RemovedOutput)
	return out, nil
}

// Summary returns the recorded summary of one run. The catalog is asked
// first; runs from earlier processes are read back from their artifacts.
func (c *Client) Summary(ctx context.Context, req SummaryRequest) (FitSummary, error) {
	if err := c.ensureStore(ctx); err != nil {
		return FitSummary{}, err
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return FitSummary{}, err
	}
	record, ok, err := c.store.GetFit(ctx, runID)
	if err != nil {
		return FitSummary{}, err
	}
	if ok {
		return summaryFromRecord(record), nil
	}

	entry, ok, err := stats.FindRun(c.fitsDir, runID)
	if err != nil {
		return FitSummary{}, err
	}
	if !ok {
		return FitSummary{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	fs, ok, err := stats.ReadFitSummary(entry.OutputDir)
	if err != nil {
		return FitSummary{}, err
	}
	if !ok {
		return FitSummary{}, fmt.Errorf("summary not found for run id: %s", runID)
	}
	params, _, err := stats.ReadParameterSummaries(entry.OutputDir)
	if err != nil {
		return FitSummary{}, err
	}
	cfg, _, err := stats.ReadRunConfig(entry.OutputDir)
	if err != nil {
		return FitSummary{}, err
	}
	out := FitSummary{
		RunID:          fs.RunID,
		OutputDir:      fs.OutputDir,
		Samples:        fs.Samples,
		LogEvidence:    fs.LogEvidence,
		LogEvidenceErr: fs.LogEvidenceErr,
		MaxLogLike:     fs.MaxLogLike,
		ArchiveBytes:   archiveBytes(fs.OutputDir),
		Median:         make(map[string]float64, len(fs.MedianValues)),
		Parameters:     params,
	}
	for i, v := range fs.MedianValues {
		if i < len(cfg.Parameters) {
			out.Median[cfg.Parameters[i]] = v
		}
	}
	return out, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}
	entry, ok, err := stats.FindRun(c.fitsDir, runID)
	if err != nil {
		return ExportSummary{}, err
	}
	if !ok {
		return ExportSummary{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	exportedDir, err := stats.ExportRunArtifacts(entry.OutputDir, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) resolveRunID(runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if runID != "" {
		return runID, nil
	}
	if !latest {
		return "", errors.New("run id or latest is required")
	}
	entries, err := stats.ListRunIndex(c.fitsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}

func (c *Client) record(ctx context.Context, req FitRequest, m fitModel, summary FitSummary) error {
	res := m.Result()
	names := m.Parameters().Keys()
	detectors := make([]string, len(req.Detectors))
	for i, d := range req.Detectors {
		detectors[i] = d.Name
	}
	medianIdx, err := stats.ArgMedian(res.LogProb)
	if err != nil {
		return err
	}
	createdAt := c.now().UTC().Format(time.RFC3339Nano)

	if err := stats.WriteRunArtifacts(summary.OutputDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:           summary.RunID,
			Identifier:      req.Identifier,
			Detectors:       detectors,
			Echans:          echans(req),
			Sources:         m.SourceNames(),
			Parameters:      names,
			LivePoints:      req.Sampler.LivePoints,
			Tolerance:       req.Sampler.Tolerance,
			WalkSteps:       req.Sampler.WalkSteps,
			MaxIterations:   req.Sampler.MaxIterations,
			ConstEfficiency: req.Sampler.ConstEfficiency,
			Seed:            req.Sampler.Seed,
			Workers:         req.Workers,
			Participants:    req.Participants,
		},
		Summary: stats.FitSummary{
			RunID:          summary.RunID,
			OutputDir:      summary.OutputDir,
			Samples:        summary.Samples,
			LogEvidence:    summary.LogEvidence,
			LogEvidenceErr: summary.LogEvidenceErr,
			MaxLogLike:     summary.MaxLogLike,
			MedianIndex:    medianIdx,
			MedianValues:   append([]float64(nil), res.Raw[medianIdx]...),
		},
		Parameters: summary.Parameters,
	}); err != nil {
		return err
	}
	if err := stats.AppendRunIndex(c.fitsDir, stats.RunIndexEntry{
		RunID:        summary.RunID,
		Identifier:   req.Identifier,
		OutputDir:    summary.OutputDir,
		Parameters:   len(names),
		Samples:      summary.Samples,
		LogEvidence:  summary.LogEvidence,
		MaxLogLike:   summary.MaxLogLike,
		CreatedAtUTC: createdAt,
	}); err != nil {
		return err
	}

	records := make([]model.ParameterRecord, len(summary.Parameters))
	for i, p := range summary.Parameters {
		records[i] = model.ParameterRecord(p)
	}
	return c.store.SaveFit(ctx, model.FitRecord{
		VersionedRecord: storage.Versioned(),
		RunID:           summary.RunID,
		Identifier:      req.Identifier,
		OutputDir:       summary.OutputDir,
		Detectors:       detectors,
		Parameters:      names,
		Fingerprint:     fmt.Sprintf("%016x", m.Parameters().Fingerprint()),
		Samples:         summary.Samples,
		LogEvidence:     summary.LogEvidence,
		LogEvidenceErr:  summary.LogEvidenceErr,
		MaxLogLike:      summary.MaxLogLike,
		Summaries:       records,
		CreatedAtUTC:    createdAt,
	})
}

func summarize(runID string, res *fit.Result) (FitSummary, error) {
	params, err := stats.Summarize(res)
	if err != nil {
		return FitSummary{}, err
	}
	best, err := stats.MaxIndex(res.LogLike)
	if err != nil {
		return FitSummary{}, err
	}
	medianIdx, err := stats.ArgMedian(res.LogProb)
	if err != nil {
		return FitSummary{}, err
	}
	median := make(map[string]float64, len(res.Names))
	for i, name := range res.Names {
		median[name] = res.Raw[medianIdx][i]
	}
	return FitSummary{
		RunID:          runID,
		OutputDir:      res.OutputDir,
		Samples:        res.Len(),
		LogEvidence:    res.LogEvidence,
		LogEvidenceErr: res.LogEvidenceErr,
		MaxLogLike:     res.LogLike[best],
		Median:         median,
		Parameters:     params,
	}, nil
}

func summaryFromRecord(record model.FitRecord) FitSummary {
	params := make([]stats.ParameterSummary, len(record.Summaries))
	median := make(map[string]float64, len(record.Summaries))
	for i, p := range record.Summaries {
		params[i] = stats.ParameterSummary(p)
		median[p.Name] = p.Median
	}
	return FitSummary{
		RunID:          record.RunID,
		OutputDir:      record.OutputDir,
		Samples:        record.Samples,
		LogEvidence:    record.LogEvidence,
		LogEvidenceErr: record.LogEvidenceErr,
		MaxLogLike:     record.MaxLogLike,
		ArchiveBytes:   archiveBytes(record.OutputDir),
		Median:         median,
		Parameters:     params,
	}
}

func archiveBytes(dir string) int64 {
	m, err := archive.ReadManifest(dir)
	if err != nil {
		return 0
	}
	return m.BlobBytes
}

func echans(req FitRequest) []int {
	seen := map[int]bool{}
	var out []int
	for _, d := range req.Detectors {
		for _, e := range d.Setup.Echans {
			if !seen[e] {
				seen[e] = true
				out = append(out, e)
			}
		}
	}
	return out
}

func normalize(req FitRequest) (FitRequest, error) {
	if len(req.Detectors) == 0 {
		return FitRequest{}, errors.New("at least one detector is required")
	}
	seen := map[string]bool{}
	for _, d := range req.Detectors {
		if d.Name == "" {
			return FitRequest{}, errors.New("detector name is required")
		}
		if seen[d.Name] {
			return FitRequest{}, fmt.Errorf("%w: detector %s", param.ErrDuplicateName, d.Name)
		}
		seen[d.Name] = true
	}
	if req.Identifier == "" {
		req.Identifier = fit.DefaultIdentifier
	}
	if req.Workers <= 0 {
		req.Workers = 1
	}
	if req.Participants <= 0 {
		req.Participants = 1
	}
	if req.ExcludeAfterSAA < 0 {
		return FitRequest{}, errors.New("exclude_after_saa must be >= 0")
	}
	req.Sampler = req.Sampler.WithDefaults()
	if err := req.Sampler.Validate(); err != nil {
		return FitRequest{}, err
	}
	return req, nil
}

// fitModel is what Fit and Load need from a single-detector or joint
// model.
type fitModel interface {
	Parameters() *param.Set
	Minimize(ctx context.Context, driver *fit.Driver) (string, error)
	LoadFit(ctx context.Context, driver *fit.Driver, dir string) error
	SetParameterMedian() error
	Result() *fit.Result
	SourceNames() []string
}

type jointModel struct {
	*background.Combined
}

func (j jointModel) SourceNames() []string {
	var out []string
	for _, d := range j.Models() {
		for _, name := range d.SourceNames() {
			out = append(out, d.Name()+"/"+name)
		}
	}
	return out
}

func buildModel(req FitRequest, logger *slog.Logger) (fitModel, error) {
	dets := make([]*background.Det, len(req.Detectors))
	for i, in := range req.Detectors {
		det, err := buildDet(in, req.ExcludeAfterSAA, logger)
		if err != nil {
			return nil, fmt.Errorf("detector %s: %w", in.Name, err)
		}
		dets[i] = det
	}
	if len(dets) == 1 {
		return dets[0], nil
	}
	combined, err := background.NewCombined(dets, background.WithWorkers(req.Workers), background.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return jointModel{combined}, nil
}

func buildDet(in DetectorInput, excludeAfterSAA float64, logger *slog.Logger) (*background.Det, error) {
	counts, err := readFile(in.CountsCSV, data.ReadCountsCSV)
	if err != nil {
		return nil, err
	}
	if excludeAfterSAA > 0 && len(in.Setup.SAAExits) > 0 {
		mask := data.ExcludeAfterSAA(counts.TimeBins(), in.Setup.SAAExits, excludeAfterSAA)
		if counts, err = counts.WithMask(mask); err != nil {
			return nil, err
		}
	}
	collab, err := collaborators(in)
	if err != nil {
		return nil, err
	}
	cfg := in.Setup
	if cfg.Channels == 0 {
		cfg.Channels = counts.NumEchan()
	}
	if len(cfg.Echans) == 0 {
		for e := 0; e < cfg.Channels; e++ {
			cfg.Echans = append(cfg.Echans, e)
		}
	}
	if cfg.LeftoverDecay && cfg.DataStart == 0 {
		cfg.DataStart = counts.TimeBins()[0].Start
	}
	sources, err := setup.Build(cfg, collab)
	if err != nil {
		return nil, err
	}
	det, err := background.NewDet(in.Name, counts, background.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	for _, src := range sources {
		if err := det.AddSource(src); err != nil {
			return nil, err
		}
	}
	return det, nil
}

func collaborators(in DetectorInput) (setup.Collaborators, error) {
	var (
		collab setup.Collaborators
		err    error
	)
	rate := func(path string) (source.RateFunc, error) {
		if path == "" {
			return nil, nil
		}
		return readFile(path, data.ReadRateTableCSV)
	}
	if collab.McIlwainL, err = rate(in.McIlwainCSV); err != nil {
		return collab, err
	}
	if collab.Earth, err = rate(in.EarthCSV); err != nil {
		return collab, err
	}
	if collab.CGB, err = rate(in.CGBCSV); err != nil {
		return collab, err
	}
	if len(in.PointSourceCSV) > 0 {
		collab.PointSources = make(map[string]source.RateFunc, len(in.PointSourceCSV))
		for name, path := range in.PointSourceCSV {
			if collab.PointSources[name], err = rate(path); err != nil {
				return collab, err
			}
		}
	}
	if in.ResponseJSON != "" {
		resp, err := readFile(in.ResponseJSON, data.ReadResponseJSON)
		if err != nil {
			return collab, err
		}
		collab.Response = resp
	}
	return collab, nil
}

func readFile[T any](path string, read func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, err
	}
	defer f.Close()
	out, err := read(f)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}
