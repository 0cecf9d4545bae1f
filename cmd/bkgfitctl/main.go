package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"

	"gbmbkg/internal/storage"
	"gbmbkg/pkg/bkgfit"
)

const (
	fitsDir    = "fits"
	exportsDir = "exports"
	dbPath     = "gbmbkg.db"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "fit":
		return runFit(ctx, args[1:])
	case "load":
		return runLoad(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "summary":
		return runSummary(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "delete":
		return runDelete(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

type clientFlags struct {
	storeKind *string
	dbPath    *string
	fitsDir   *string
	logLevel  *string
}

func addClientFlags(fs *flag.FlagSet) clientFlags {
	return clientFlags{
		storeKind: fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite"),
		dbPath:    fs.String("db-path", dbPath, "sqlite database path"),
		fitsDir:   fs.String("fits-dir", fitsDir, "root directory of fit output directories"),
		logLevel:  fs.String("log-level", "warn", "log level: debug|info|warn|error"),
	}
}

func (f clientFlags) open() (*bkgfit.Client, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(*f.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return bkgfit.New(bkgfit.Options{
		StoreKind: *f.storeKind,
		DBPath:    *f.dbPath,
		FitsDir:   *f.fitsDir,
		Logger:    logger,
	})
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	cf := addClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}
	fmt.Printf("initialized store=%s fits_dir=%s\n", *cf.storeKind, filepath.Clean(*cf.fitsDir))
	return nil
}

func runFit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fit", flag.ContinueOnError)
	cf := addClientFlags(fs)
	configPath := fs.String("config", "", "fit config JSON path")
	identifier := fs.String("identifier", "", "output directory prefix")
	livePoints := fs.Int("live-points", 0, "sampler live points")
	tolerance := fs.Float64("tolerance", 0, "evidence tolerance")
	maxIterations := fs.Int("max-iterations", 0, "sampler iteration cap (0 disables)")
	seed := fs.Int64("seed", 0, "sampler rng seed")
	workers := fs.Int("workers", 1, "per-detector likelihood workers for joint fits")
	participants := fs.Int("participants", 1, "ranks in the local fit group")
	excludeAfterSAA := fs.Float64("exclude-after-saa", 0, "seconds after each SAA exit dropped from the fit")
	skipArchive := fs.Bool("skip-archive", false, "do not write the compressed posterior archive")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	req, err := loadFitRequest(*configPath)
	if err != nil {
		return err
	}
	overrideFromFlags(&req, setFlags, map[string]any{
		"identifier":        *identifier,
		"live-points":       *livePoints,
		"tolerance":         *tolerance,
		"max-iterations":    *maxIterations,
		"seed":              *seed,
		"workers":           *workers,
		"participants":      *participants,
		"exclude-after-saa": *excludeAfterSAA,
		"skip-archive":      *skipArchive,
	})

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	summary, err := client.Fit(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("fit completed run_id=%s detectors=%d samples=%d\n", summary.RunID, len(req.Detectors), summary.Samples)
	printSummary(summary)
	return nil
}

func runLoad(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("load", flag.ContinueOnError)
	cf := addClientFlags(fs)
	configPath := fs.String("config", "", "fit config JSON path the run was produced with")
	dir := fs.String("dir", "", "fit output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dir == "" {
		return errors.New("load requires --dir")
	}
	req, err := loadFitRequest(*configPath)
	if err != nil {
		return err
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	summary, err := client.Load(ctx, bkgfit.LoadRequest{Fit: req, Dir: *dir})
	if err != nil {
		return err
	}
	fmt.Printf("loaded dir=%s samples=%d\n", filepath.Clean(*dir), summary.Samples)
	printSummary(summary)
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	cf := addClientFlags(fs)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	items, err := client.Runs(ctx, bkgfit.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	if *jsonOut {
		type runsItem struct {
			RunID        string  `json:"run_id"`
			CreatedAtUTC string  `json:"created_at_utc"`
			Identifier   string  `json:"identifier"`
			OutputDir    string  `json:"output_dir"`
			Parameters   int     `json:"parameters"`
			Samples      int     `json:"samples"`
			LogEvidence  float64 `json:"log_evidence"`
			MaxLogLike   float64 `json:"max_log_like"`
		}
		out := make([]runsItem, 0, len(items))
		for _, item := range items {
			out = append(out, runsItem(item))
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	for _, item := range items {
		fmt.Printf("run_id=%s created_at=%s identifier=%s parameters=%d samples=%d log_evidence=%.6f max_log_like=%.6f dir=%s\n",
			item.RunID,
			item.CreatedAtUTC,
			item.Identifier,
			item.Parameters,
			item.Samples,
			item.LogEvidence,
			item.MaxLogLike,
			item.OutputDir,
		)
	}
	return nil
}

func runSummary(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("summary", flag.ContinueOnError)
	cf := addClientFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "summarize the most recent run from run index")
	jsonOut := fs.Bool("json", false, "emit summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("summary requires --run-id or --latest")
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	summary, err := client.Summary(ctx, bkgfit.SummaryRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	fmt.Printf("run_id=%s samples=%d\n", summary.RunID, summary.Samples)
	printSummary(summary)
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	cf := addClientFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", exportsDir, "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	exported, err := client.Export(ctx, bkgfit.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s to=%s\n", exported.RunID, exported.Directory)
	return nil
}

func runDelete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	cf := addClientFlags(fs)
	runID := fs.String("run-id", "", "run id")
	removeOutput := fs.Bool("remove-output", false, "also delete the run's output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return errors.New("delete requires --run-id")
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	deleted, err := client.Delete(ctx, bkgfit.DeleteRequest{RunID: *runID, RemoveOutput: *removeOutput})
	if err != nil {
		return err
	}
	fmt.Printf("deleted run_id=%s output_dir=%s removed_output=%t\n", deleted.RunID, filepath.Clean(deleted.OutputDir), deleted.RemovedOutput)
	return nil
}

func printSummary(summary bkgfit.FitSummary) {
	fmt.Printf("log_evidence=%.6f log_evidence_err=%.6f max_log_like=%.6f\n",
		summary.LogEvidence, summary.LogEvidenceErr, summary.MaxLogLike)
	if summary.ArchiveBytes > 0 {
		fmt.Printf("archive_size=%s\n", humanize.Bytes(uint64(summary.ArchiveBytes)))
	}
	if len(summary.Parameters) > 0 {
		for _, p := range summary.Parameters {
			fmt.Printf("parameter=%s median=%.6g mean=%.6g std=%.6g q05=%.6g q95=%.6g\n",
				p.Name, p.Median, p.Mean, p.Std, p.Q05, p.Q95)
		}
	} else {
		names := make([]string, 0, len(summary.Median))
		for name := range summary.Median {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("parameter=%s median=%.6g\n", name, summary.Median[name])
		}
	}
	fmt.Printf("output_dir=%s\n", filepath.Clean(summary.OutputDir))
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: bkgfitctl <init|fit|load|runs|summary|export|delete> [flags]", msg)
}
