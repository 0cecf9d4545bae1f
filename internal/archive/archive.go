// Package archive stores an equal-weighted posterior as one compressed
// columnar blob next to the sampler's text output, together with a JSON
// manifest describing the parameter namespace that produced it.
package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/arloliu/mebo/blob"
	"github.com/arloliu/mebo/format"

	"gbmbkg/internal/param"
)

const (
	BlobFile      = "posterior.mebo"
	ManifestFile  = "manifest.json"
	SchemaVersion = 2

	LogLikeColumn = "log_like"
	LogProbColumn = "log_prob"

	// ChunkSamples is the number of samples stored per blob metric. A blob
	// metric holds at most 65535 encoded value bytes, and Gorilla spends up
	// to about ten bytes on an incompressible float.
	ChunkSamples = 4096
)

var (
	ErrSchemaMismatch = errors.New("archive schema does not match parameter namespace")
	ErrNoManifest     = errors.New("archive manifest not found")
	ErrTooManySamples = errors.New("too many posterior samples for archive")
	ErrColumnLength   = errors.New("archive column length mismatch")
)

// Posterior is the archived content: parameter columns in namespace order
// plus per-sample log-likelihood and log-probability.
type Posterior struct {
	Names   []string
	Columns [][]float64
	LogLike []float64
	LogProb []float64
}

// Len returns the number of samples.
func (p Posterior) Len() int { return len(p.LogLike) }

// Column returns the samples of the named parameter.
func (p Posterior) Column(name string) ([]float64, bool) {
	i := slices.Index(p.Names, name)
	if i < 0 {
		return nil, false
	}
	return p.Columns[i], true
}

// Write encodes post into dir/posterior.mebo and writes dir/manifest.json.
func Write(dir string, post Posterior, fingerprint uint64, logEvidence, logEvidenceErr float64) (Manifest, error) {
	n := post.Len()
	if err := post.check(); err != nil {
		return Manifest{}, err
	}
	if n == 0 {
		return Manifest{}, errors.New("archive needs at least one sample")
	}
	chunks := (n + ChunkSamples - 1) / ChunkSamples
	if metrics := (len(post.Names) + 2) * chunks; metrics > blob.MaxMetricCount {
		return Manifest{}, fmt.Errorf("%w: %d samples of %d columns need %d blob metrics, max %d",
			ErrTooManySamples, n, len(post.Names)+2, metrics, blob.MaxMetricCount)
	}

	enc, err := blob.NewNumericEncoder(time.Unix(0, 0).UTC(),
		blob.WithTimestampEncoding(format.TypeDelta),
		blob.WithValueEncoding(format.TypeGorilla),
		blob.WithValueCompression(format.CompressionZstd),
		blob.WithLittleEndian(),
		blob.WithTagsEnabled(false),
	)
	if err != nil {
		return Manifest{}, fmt.Errorf("create encoder: %w", err)
	}
	add := func(name string, values []float64) error {
		for k := 0; k < chunks; k++ {
			lo := k * ChunkSamples
			hi := min(lo+ChunkSamples, n)
			metric := chunkName(name, k)
			if err := enc.StartMetricName(metric, hi-lo); err != nil {
				return fmt.Errorf("start column %s: %w", metric, err)
			}
			for i := lo; i < hi; i++ {
				if err := enc.AddDataPoint(int64(i), values[i], ""); err != nil {
					return fmt.Errorf("column %s sample %d: %w", name, i, err)
				}
			}
			if err := enc.EndMetric(); err != nil {
				return fmt.Errorf("end column %s: %w", metric, err)
			}
		}
		return nil
	}
	for i, name := range post.Names {
		if err := add(name, post.Columns[i]); err != nil {
			return Manifest{}, err
		}
	}
	if err := add(LogLikeColumn, post.LogLike); err != nil {
		return Manifest{}, err
	}
	if err := add(LogProbColumn, post.LogProb); err != nil {
		return Manifest{}, err
	}
	data, err := enc.Finish()
	if err != nil {
		return Manifest{}, fmt.Errorf("finish archive: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, BlobFile), data, 0o644); err != nil {
		return Manifest{}, err
	}

	m := Manifest{
		SchemaVersion:  SchemaVersion,
		Names:          slices.Clone(post.Names),
		Samples:        n,
		ChunkSamples:   ChunkSamples,
		Fingerprint:    fmt.Sprintf("%016x", fingerprint),
		LogEvidence:    logEvidence,
		LogEvidenceErr: logEvidenceErr,
		BlobBytes:      int64(len(data)),
	}
	if err := writeManifest(dir, m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Read decodes the archive in dir.
func Read(dir string) (Manifest, Posterior, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return Manifest{}, Posterior{}, err
	}
	data, err := os.ReadFile(filepath.Join(dir, BlobFile))
	if err != nil {
		return Manifest{}, Posterior{}, err
	}
	dec, err := blob.NewNumericDecoder(data)
	if err != nil {
		return Manifest{}, Posterior{}, fmt.Errorf("open archive: %w", err)
	}
	b, err := dec.Decode()
	if err != nil {
		return Manifest{}, Posterior{}, fmt.Errorf("decode archive: %w", err)
	}
	if m.SchemaVersion != SchemaVersion {
		return Manifest{}, Posterior{}, fmt.Errorf("%w: schema version %d, want %d", ErrSchemaMismatch, m.SchemaVersion, SchemaVersion)
	}
	if m.ChunkSamples <= 0 {
		return Manifest{}, Posterior{}, fmt.Errorf("%w: chunk size %d", ErrColumnLength, m.ChunkSamples)
	}
	chunks := (m.Samples + m.ChunkSamples - 1) / m.ChunkSamples
	column := func(name string) ([]float64, error) {
		values := make([]float64, 0, m.Samples)
		for k := 0; k < chunks; k++ {
			values = slices.AppendSeq(values, b.AllValuesByName(chunkName(name, k)))
		}
		if len(values) != m.Samples {
			return nil, fmt.Errorf("%w: %s has %d samples, manifest %d", ErrColumnLength, name, len(values), m.Samples)
		}
		return values, nil
	}
	post := Posterior{Names: slices.Clone(m.Names), Columns: make([][]float64, len(m.Names))}
	for i, name := range m.Names {
		if post.Columns[i], err = column(name); err != nil {
			return Manifest{}, Posterior{}, err
		}
	}
	if post.LogLike, err = column(LogLikeColumn); err != nil {
		return Manifest{}, Posterior{}, err
	}
	if post.LogProb, err = column(LogProbColumn); err != nil {
		return Manifest{}, Posterior{}, err
	}
	return m, post, nil
}

// Verify checks that the archive in dir was produced by a model with the
// namespace set: same keys, same order.
func Verify(dir string, set *param.Set) error {
	m, err := ReadManifest(dir)
	if err != nil {
		return err
	}
	if m.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: schema version %d, want %d", ErrSchemaMismatch, m.SchemaVersion, SchemaVersion)
	}
	keys := set.Keys()
	if !slices.Equal(m.Names, keys) {
		return fmt.Errorf("%w: archive has %v, model has %v", ErrSchemaMismatch, m.Names, keys)
	}
	if want := fmt.Sprintf("%016x", set.Fingerprint()); m.Fingerprint != want {
		return fmt.Errorf("%w: fingerprint %s, model %s", ErrSchemaMismatch, m.Fingerprint, want)
	}
	return nil
}

func chunkName(column string, k int) string {
	return column + "#" + strconv.Itoa(k)
}

// Exists reports whether dir holds an archive manifest.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ManifestFile))
	return err == nil
}

func (p Posterior) check() error {
	if len(p.Columns) != len(p.Names) {
		return fmt.Errorf("%w: %d names, %d columns", ErrColumnLength, len(p.Names), len(p.Columns))
	}
	n := len(p.LogLike)
	if len(p.LogProb) != n {
		return fmt.Errorf("%w: log_prob has %d samples, log_like %d", ErrColumnLength, len(p.LogProb), n)
	}
	for i, c := range p.Columns {
		if len(c) != n {
			return fmt.Errorf("%w: %s has %d samples, log_like %d", ErrColumnLength, p.Names[i], len(c), n)
		}
	}
	return nil
}
