package nested

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func uniformPrior(lo, hi float64) PriorFunc {
	return func(cube []float64) error {
		for i := range cube {
			cube[i] = lo + cube[i]*(hi-lo)
		}
		return nil
	}
}

func gaussianLike(mu, sigma float64) LogLikeFunc {
	norm := -0.5 * math.Log(2*math.Pi*sigma*sigma)
	return func(theta []float64) float64 {
		z := (theta[0] - mu) / sigma
		return norm - 0.5*z*z
	}
}

func TestRunRecoversGaussianPosteriorAndEvidence(t *testing.T) {
	base := filepath.Join(t.TempDir(), "fit_")
	cfg := Config{LivePoints: 200, Tolerance: 0.1, WalkSteps: 20, Seed: 7}

	stats, err := Run(context.Background(), cfg, 1, uniformPrior(0, 10), gaussianLike(5, 0.5), base)
	require.NoError(t, err)
	require.True(t, stats.Converged)
	require.InDelta(t, math.Log(0.1), stats.LogEvidence, 0.5)
	require.Positive(t, stats.Evaluations)

	post, err := ReadEqualWeighted(base, 1)
	require.NoError(t, err)
	require.Equal(t, stats.Samples, len(post.Samples))
	require.Len(t, post.LogLike, len(post.Samples))

	mean := 0.0
	for _, row := range post.Samples {
		require.GreaterOrEqual(t, row[0], 0.0)
		require.LessOrEqual(t, row[0], 10.0)
		mean += row[0]
	}
	mean /= float64(len(post.Samples))
	require.InDelta(t, 5.0, mean, 0.25)

	read, err := ReadStats(base)
	require.NoError(t, err)
	require.Equal(t, stats, read)

	_, err = os.Stat(base + SamplesSuffix)
	require.NoError(t, err)
}

func TestRunIsDeterministicForSeed(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{LivePoints: 30, Tolerance: 0.5, WalkSteps: 5, Seed: 3}
	a, err := Run(context.Background(), cfg, 1, uniformPrior(0, 1), gaussianLike(0.5, 0.2), filepath.Join(dir, "a_"))
	require.NoError(t, err)
	b, err := Run(context.Background(), cfg, 1, uniformPrior(0, 1), gaussianLike(0.5, 0.2), filepath.Join(dir, "b_"))
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestReadEqualWeightedColumnMismatch(t *testing.T) {
	base := filepath.Join(t.TempDir(), "fit_")
	require.NoError(t, os.WriteFile(base+EqualWeightsSuffix, []byte("  1.0  2.0  -3.5\n  1.5  2.5  -3.0\n"), 0o644))

	post, err := ReadEqualWeighted(base, 2)
	require.NoError(t, err)
	require.Equal(t, [][]float64{{1, 2}, {1.5, 2.5}}, post.Samples)
	require.Equal(t, []float64{-3.5, -3}, post.LogLike)

	_, err = ReadEqualWeighted(base, 3)
	require.ErrorIs(t, err, ErrColumnMismatch)
}

func TestRunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	base := filepath.Join(t.TempDir(), "fit_")
	_, err := Run(ctx, Config{LivePoints: 10, Tolerance: 0.5, WalkSteps: 2}, 1, uniformPrior(0, 1), gaussianLike(0.5, 0.1), base)
	require.ErrorIs(t, err, context.Canceled)
	_, statErr := os.Stat(base + EqualWeightsSuffix)
	require.True(t, os.IsNotExist(statErr))
}

func TestRunRejectsImpossibleLikelihood(t *testing.T) {
	base := filepath.Join(t.TempDir(), "fit_")
	never := func([]float64) float64 { return math.Inf(-1) }
	_, err := Run(context.Background(), Config{LivePoints: 2, Tolerance: 0.5, WalkSteps: 1}, 1, uniformPrior(0, 1), never, base)
	require.ErrorIs(t, err, ErrNoValidPoint)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	require.NoError(t, Config{}.WithDefaults().Validate())
	require.Error(t, Config{LivePoints: 1, Tolerance: 1, WalkSteps: 1}.Validate())
	require.Error(t, Config{LivePoints: 2, Tolerance: 0, WalkSteps: 1}.Validate())
	require.Error(t, Config{LivePoints: 2, Tolerance: 1, WalkSteps: 0}.Validate())
	require.Error(t, Config{LivePoints: 2, Tolerance: 1, WalkSteps: 1, MaxIterations: -1}.Validate())
}

func TestParseFieldFortranExponent(t *testing.T) {
	v, err := parseField("0.123456789012345-100")
	require.NoError(t, err)
	require.InDelta(t, 0.123456789012345e-100, v, 1e-110)

	v, err = parseField("-2.5E+01")
	require.NoError(t, err)
	require.Equal(t, -25.0, v)

	_, err = parseField("abc")
	require.Error(t, err)
}
