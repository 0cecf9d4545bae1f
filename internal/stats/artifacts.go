package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
)

const (
	runIndexFile   = "run_index.json"
	configFile     = "config.json"
	summaryFile    = "summary.json"
	parametersFile = "parameters.csv"
)

type RunConfig struct {
	RunID           string   `json:"run_id"`
	Identifier      string   `json:"identifier"`
	Detectors       []string `json:"detectors"`
	Echans          []int    `json:"echans"`
	Sources         []string `json:"sources"`
	Parameters      []string `json:"parameters"`
	LivePoints      int      `json:"live_points"`
	Tolerance       float64  `json:"tolerance"`
	WalkSteps       int      `json:"walk_steps"`
	MaxIterations   int      `json:"max_iterations,omitempty"`
	ConstEfficiency bool     `json:"const_efficiency"`
	Seed            int64    `json:"seed"`
	Workers         int      `json:"workers"`
	Participants    int      `json:"participants"`
}

type FitSummary struct {
	RunID          string    `json:"run_id"`
	OutputDir      string    `json:"output_dir"`
	Samples        int       `json:"samples"`
	LogEvidence    float64   `json:"log_evidence"`
	LogEvidenceErr float64   `json:"log_evidence_err"`
	MaxLogLike     float64   `json:"max_log_like"`
	MedianIndex    int       `json:"median_index"`
	MedianValues   []float64 `json:"median_values"`
}

type RunArtifacts struct {
	Config     RunConfig          `json:"config"`
	Summary    FitSummary         `json:"summary"`
	Parameters []ParameterSummary `json:"parameters"`
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	Identifier   string  `json:"identifier"`
	OutputDir    string  `json:"output_dir"`
	Parameters   int     `json:"parameters"`
	Samples      int     `json:"samples"`
	LogEvidence  float64 `json:"log_evidence"`
	MaxLogLike   float64 `json:"max_log_like"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

// WriteRunArtifacts writes config.json, summary.json and parameters.csv
// into runDir.
func WriteRunArtifacts(runDir string, artifacts RunArtifacts) error {
	if artifacts.Config.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(runDir, summaryFile), artifacts.Summary); err != nil {
		return err
	}
	return WriteParameterSummaries(runDir, artifacts.Parameters)
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// RemoveRunIndex drops runID from the index under baseDir and reports
// whether it was present.
func RemoveRunIndex(baseDir, runID string) (bool, error) {
	index, err := ListRunIndex(baseDir)
	if err != nil {
		return false, err
	}
	kept := index[:0]
	for _, entry := range index {
		if entry.RunID != runID {
			kept = append(kept, entry)
		}
	}
	if len(kept) == len(index) {
		return false, nil
	}
	// Oldest first on disk, matching append order.
	slices.Reverse(kept)
	return true, writeJSON(filepath.Join(baseDir, runIndexFile), kept)
}

// ListRunIndex returns the runs recorded under baseDir, newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// FindRun looks runID up in the index under baseDir.
func FindRun(baseDir, runID string) (RunIndexEntry, bool, error) {
	index, err := ListRunIndex(baseDir)
	if err != nil {
		return RunIndexEntry{}, false, err
	}
	for _, entry := range index {
		if entry.RunID == runID {
			return entry, true, nil
		}
	}
	return RunIndexEntry{}, false, nil
}

// ExportRunArtifacts copies the artifacts of runDir into outDir/<base of runDir>.
func ExportRunArtifacts(runDir, outDir string) (string, error) {
	if strings.TrimSpace(runDir) == "" {
		return "", fmt.Errorf("run dir is required")
	}
	if _, err := os.Stat(runDir); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, filepath.Base(runDir))
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{configFile, summaryFile, parametersFile} {
		if err := copyFile(filepath.Join(runDir, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	// archive files are optional
	for _, file := range []string{"manifest.json", "posterior.mebo"} {
		src := filepath.Join(runDir, file)
		if _, err := os.Stat(src); err == nil {
			if err := copyFile(src, filepath.Join(dst, file)); err != nil {
				return "", err
			}
		} else if !os.IsNotExist(err) {
			return "", err
		}
	}
	return dst, nil
}

func ReadRunConfig(runDir string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(runDir, configFile), &cfg)
	return cfg, ok, err
}

func ReadFitSummary(runDir string) (FitSummary, bool, error) {
	var summary FitSummary
	ok, err := readJSON(filepath.Join(runDir, summaryFile), &summary)
	return summary, ok, err
}

func WriteParameterSummaries(runDir string, params []ParameterSummary) error {
	file, err := os.Create(filepath.Join(runDir, parametersFile))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"name", "mean", "std", "median", "q05", "q95"}); err != nil {
		return err
	}
	format := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	for _, p := range params {
		if err := writer.Write([]string{
			p.Name,
			format(p.Mean),
			format(p.Std),
			format(p.Median),
			format(p.Q05),
			format(p.Q95),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadParameterSummaries(runDir string) ([]ParameterSummary, bool, error) {
	file, err := os.Open(filepath.Join(runDir, parametersFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []ParameterSummary{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 6 {
		return nil, false, fmt.Errorf("parameter summary header must have 6 columns")
	}

	out := make([]ParameterSummary, 0, 16)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 6 {
			return nil, false, fmt.Errorf("parameter summary row must have 6 columns")
		}
		values := make([]float64, 5)
		for i := range values {
			values[i], err = strconv.ParseFloat(record[i+1], 64)
			if err != nil {
				return nil, false, fmt.Errorf("parameter %s column %s: %w", record[0], header[i+1], err)
			}
		}
		out = append(out, ParameterSummary{
			Name:   record[0],
			Mean:   values[0],
			Std:    values[1],
			Median: values[2],
			Q05:    values[3],
			Q95:    values[4],
		})
	}
	return out, true, nil
}

func readJSON(path string, value any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, value); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
