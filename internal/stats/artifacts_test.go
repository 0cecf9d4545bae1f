package stats

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteAndExportRunArtifacts(t *testing.T) {
	runDir := filepath.Join(t.TempDir(), "gbm_fit_03-07_09-05")
	outDir := filepath.Join(t.TempDir(), "exports")

	artifacts := RunArtifacts{
		Config: RunConfig{
			RunID:      "run-123",
			Identifier: "gbm_fit",
			Detectors:  []string{"n0"},
			Echans:     []int{0, 1},
			Sources:    []string{"cr_echan_0", "earth"},
			Parameters: []string{"cr_echan_0_const", "earth_norm"},
			LivePoints: 400,
			Tolerance:  0.5,
			Seed:       1,
		},
		Summary: FitSummary{
			RunID:        "run-123",
			OutputDir:    runDir,
			Samples:      3,
			LogEvidence:  -12.5,
			MaxLogLike:   -3,
			MedianIndex:  1,
			MedianValues: []float64{1.5, 0.25},
		},
		Parameters: []ParameterSummary{
			{Name: "cr_echan_0_const", Mean: 1.5, Std: 0.1, Median: 1.5, Q05: 1.3, Q95: 1.7},
			{Name: "earth_norm", Mean: 0.25, Std: 0.01, Median: 0.25, Q05: 0.23, Q95: 0.27},
		},
	}

	if err := WriteRunArtifacts(runDir, artifacts); err != nil {
		t.Fatalf("write artifacts: %v", err)
	}
	for _, file := range []string{"config.json", "summary.json", "parameters.csv"} {
		if _, err := os.Stat(filepath.Join(runDir, file)); err != nil {
			t.Fatalf("expected file %s: %v", file, err)
		}
	}

	cfg, ok, err := ReadRunConfig(runDir)
	if err != nil || !ok {
		t.Fatalf("read config: ok=%t err=%v", ok, err)
	}
	if cfg.Identifier != "gbm_fit" || len(cfg.Parameters) != 2 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	summary, ok, err := ReadFitSummary(runDir)
	if err != nil || !ok {
		t.Fatalf("read summary: ok=%t err=%v", ok, err)
	}
	if summary.MedianIndex != 1 || summary.LogEvidence != -12.5 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	params, ok, err := ReadParameterSummaries(runDir)
	if err != nil || !ok {
		t.Fatalf("read parameters: ok=%t err=%v", ok, err)
	}
	if len(params) != 2 || params[1] != artifacts.Parameters[1] {
		t.Fatalf("unexpected parameters: %+v", params)
	}

	exportedDir, err := ExportRunArtifacts(runDir, outDir)
	if err != nil {
		t.Fatalf("export artifacts: %v", err)
	}
	if filepath.Base(exportedDir) != filepath.Base(runDir) {
		t.Fatalf("unexpected export dir %s", exportedDir)
	}
	for _, file := range []string{"config.json", "summary.json", "parameters.csv"} {
		if _, err := os.Stat(filepath.Join(exportedDir, file)); err != nil {
			t.Fatalf("expected exported file %s: %v", file, err)
		}
	}
	if _, err := os.Stat(filepath.Join(exportedDir, "manifest.json")); !os.IsNotExist(err) {
		t.Fatalf("expected no manifest in export, got err=%v", err)
	}
}

func TestWriteRunArtifactsRequiresRunID(t *testing.T) {
	if err := WriteRunArtifacts(t.TempDir(), RunArtifacts{}); err == nil {
		t.Fatal("expected missing run id error")
	}
}

func TestReadArtifactsMissing(t *testing.T) {
	dir := t.TempDir()
	if _, ok, err := ReadRunConfig(dir); err != nil || ok {
		t.Fatalf("expected missing config; ok=%t err=%v", ok, err)
	}
	if _, ok, err := ReadParameterSummaries(dir); err != nil || ok {
		t.Fatalf("expected missing parameters; ok=%t err=%v", ok, err)
	}
}

func TestRunIndexAppendListAndUpsert(t *testing.T) {
	baseDir := t.TempDir()

	err := AppendRunIndex(baseDir, RunIndexEntry{
		RunID:        "run-1",
		Identifier:   "gbm_fit",
		Parameters:   4,
		Samples:      900,
		LogEvidence:  -120.5,
		CreatedAtUTC: "2026-02-10T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("append run-1: %v", err)
	}

	err = AppendRunIndex(baseDir, RunIndexEntry{
		RunID:        "run-2",
		Identifier:   "gbm_fit",
		Parameters:   4,
		Samples:      850,
		LogEvidence:  -119.0,
		CreatedAtUTC: "2026-02-10T11:00:00Z",
	})
	if err != nil {
		t.Fatalf("append run-2: %v", err)
	}

	entries, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].RunID != "run-2" || entries[1].RunID != "run-1" {
		t.Fatalf("unexpected order: %+v", entries)
	}

	err = AppendRunIndex(baseDir, RunIndexEntry{
		RunID:        "run-1",
		Identifier:   "gbm_fit",
		Parameters:   4,
		Samples:      910,
		LogEvidence:  -118.0,
		CreatedAtUTC: "2026-02-10T12:00:00Z",
	})
	if err != nil {
		t.Fatalf("upsert run-1: %v", err)
	}

	entries, err = ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list after upsert: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after upsert, got %d", len(entries))
	}
	if entries[0].RunID != "run-1" || entries[0].LogEvidence != -118.0 {
		t.Fatalf("unexpected upsert result: %+v", entries[0])
	}

	entry, ok, err := FindRun(baseDir, "run-2")
	if err != nil || !ok || entry.Samples != 850 {
		t.Fatalf("find run-2: entry=%+v ok=%t err=%v", entry, ok, err)
	}
	if _, ok, _ := FindRun(baseDir, "run-9"); ok {
		t.Fatal("expected run-9 to be missing")
	}
}

func TestRunIndexEqualTimestampPrefersLaterAppend(t *testing.T) {
	baseDir := t.TempDir()
	ts := "2026-02-10T12:00:00Z"

	if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: "run-a", CreatedAtUTC: ts}); err != nil {
		t.Fatalf("append run-a: %v", err)
	}
	if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: "run-b", CreatedAtUTC: ts}); err != nil {
		t.Fatalf("append run-b: %v", err)
	}

	entries, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].RunID != "run-b" {
		t.Fatalf("expected latest appended run-b first, got %+v", entries)
	}
}

func TestRemoveRunIndex(t *testing.T) {
	baseDir := t.TempDir()
	ts := "2026-02-10T12:00:00Z"
	for _, id := range []string{"run-a", "run-b", "run-c"} {
		if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: id, CreatedAtUTC: ts}); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}

	removed, err := RemoveRunIndex(baseDir, "run-b")
	if err != nil || !removed {
		t.Fatalf("remove run-b: removed=%t err=%v", removed, err)
	}
	removed, err = RemoveRunIndex(baseDir, "run-b")
	if err != nil || removed {
		t.Fatalf("second remove run-b: removed=%t err=%v", removed, err)
	}

	entries, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[0].RunID != "run-c" || entries[1].RunID != "run-a" {
		t.Fatalf("expected append order to survive removal, got %+v", entries)
	}

	if removed, err := RemoveRunIndex(t.TempDir(), "run-a"); err != nil || removed {
		t.Fatalf("remove from empty index: removed=%t err=%v", removed, err)
	}
}
