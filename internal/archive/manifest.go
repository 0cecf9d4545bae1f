package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Manifest describes an archived posterior.
type Manifest struct {
	SchemaVersion  int      `json:"schema_version"`
	Names          []string `json:"names"`
	Samples        int      `json:"samples"`
	ChunkSamples   int      `json:"chunk_samples"`
	Fingerprint    string   `json:"fingerprint"`
	LogEvidence    float64  `json:"log_evidence"`
	LogEvidenceErr float64  `json:"log_evidence_err"`
	BlobBytes      int64    `json:"blob_bytes"`
}

func ReadManifest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, fmt.Errorf("%w: %s", ErrNoManifest, dir)
		}
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

func writeManifest(dir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644)
}
