package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// FitRecord catalogs one finished fit. The posterior itself stays in the
// run's output directory; the record points at it.
type FitRecord struct {
	VersionedRecord
	RunID          string            `json:"run_id"`
	Identifier     string            `json:"identifier"`
	OutputDir      string            `json:"output_dir"`
	Detectors      []string          `json:"detectors"`
	Parameters     []string          `json:"parameters"`
	Fingerprint    string            `json:"fingerprint"`
	Samples        int               `json:"samples"`
	LogEvidence    float64           `json:"log_evidence"`
	LogEvidenceErr float64           `json:"log_evidence_err"`
	MaxLogLike     float64           `json:"max_log_like"`
	Summaries      []ParameterRecord `json:"summaries,omitempty"`
	CreatedAtUTC   string            `json:"created_at_utc"`
}

type ParameterRecord struct {
	Name   string  `json:"name"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Median float64 `json:"median"`
	Q05    float64 `json:"q05"`
	Q95    float64 `json:"q95"`
}
