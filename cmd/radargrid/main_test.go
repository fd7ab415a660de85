package main

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateEnv clears every setting the configuration reads from the
// environment and shrinks the grid so commands run quickly.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"RADARGRID_CONFIG", "SOURCE_ROOT", "DEST_ROOT", "MONTH_FILTER", "MASK_THRESHOLD",
		"REFLECTIVITY_FIELD", "INPUT_FORMAT", "SCAN_EXTENSION", "ARTIFACT_FORMAT", "FILE_TIMEOUT",
		"SHARD", "LEDGER_PATH", "KAFKA_BROKERS", "KAFKA_TOPIC", "METRICS_ADDR",
		"GRID_Z_LIMITS", "GRID_Y_LIMITS", "GRID_X_LIMITS", "SHUTDOWN_TIMEOUT",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("GRID_SHAPE", "1,32,32")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("LOG_FORMAT", "json")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// summaryValue extracts a value from the run summary table.
func summaryValue(t *testing.T, out, key string) string {
	t.Helper()
	m := regexp.MustCompile(`│ ` + regexp.QuoteMeta(key) + `\s+│\s+(\S+) │`).FindStringSubmatch(out)
	require.NotNil(t, m, "no %q row in:\n%s", key, out)
	return m[1]
}

func TestCLI_SynthRunValidateInspectAnomalies(t *testing.T) {
	isolateEnv(t)
	src, dst := t.TempDir(), t.TempDir()

	out, err := execute(t, "synth", src, "--days", "2", "--files", "2", "--fallback", "--corrupt")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 5 scans")

	out, err = execute(t, "run", "--source", src, "--dest", dst)
	require.NoError(t, err)
	assert.Equal(t, "completed", summaryValue(t, out, "status"))
	assert.Equal(t, "4", summaryValue(t, out, "processed"))
	assert.Equal(t, "1", summaryValue(t, out, "failed"))
	assert.Equal(t, "1", summaryValue(t, out, "geometry fallbacks"))
	assert.Contains(t, out, "01/01/corrupt.uf")

	first := filepath.Join(dst, "01", "01", "KTLX20240101_000000.npz")
	assert.FileExists(t, first)
	assert.FileExists(t, filepath.Join(dst, "01", "02", "KTLX20240102_000500.npz"))
	assert.NoFileExists(t, filepath.Join(dst, "01", "01", "corrupt.npz"))

	out, err = execute(t, "validate", "--source", src, "--dest", dst)
	require.EqualError(t, err, "validation failed")
	assert.Contains(t, out, "01/01/corrupt.uf: no artifact")

	out, err = execute(t, "inspect", first)
	require.NoError(t, err)
	assert.Contains(t, out, "32x32")
	assert.Contains(t, out, "/ 1024")

	out, err = execute(t, "anomalies", "--dest", dst)
	require.NoError(t, err)
	assert.Contains(t, out, "geometry_fallback")
	assert.Contains(t, out, "01/01/KTLX20240101_000000.uf")
	assert.Contains(t, out, "decode")

	out, err = execute(t, "anomalies", "--dest", dst, "--kind", "decode")
	require.NoError(t, err)
	assert.NotContains(t, out, "geometry_fallback")
	assert.Contains(t, out, "01/01/corrupt.uf")
}

func TestCLI_SecondRunSkipsAndValidates(t *testing.T) {
	isolateEnv(t)
	src, dst := t.TempDir(), t.TempDir()

	_, err := execute(t, "synth", src, "--days", "1", "--files", "3")
	require.NoError(t, err)

	out, err := execute(t, "run", "--source", src, "--dest", dst)
	require.NoError(t, err)
	assert.Equal(t, "3", summaryValue(t, out, "processed"))

	out, err = execute(t, "run", "--source", src, "--dest", dst)
	require.NoError(t, err)
	assert.Equal(t, "0", summaryValue(t, out, "processed"))
	assert.Equal(t, "3", summaryValue(t, out, "skipped"))

	out, err = execute(t, "validate", "--source", src, "--dest", dst)
	require.NoError(t, err)
	assert.Contains(t, out, "All validations passed.")
	assert.Contains(t, out, "Scans: 3")
}

func TestCLI_SkipMonth(t *testing.T) {
	isolateEnv(t)
	src, dst := t.TempDir(), t.TempDir()

	_, err := execute(t, "synth", src, "--months", "2", "--days", "1", "--files", "1")
	require.NoError(t, err)

	out, err := execute(t, "run", "--source", src, "--dest", dst, "--skip-month", "01", "--format", "nc")
	require.NoError(t, err)
	assert.Equal(t, "1", summaryValue(t, out, "processed"))
	assert.NoDirExists(t, filepath.Join(dst, "01"))
	assert.FileExists(t, filepath.Join(dst, "02", "01", "KTLX20240201_000000.nc"))
}

func TestCLI_ConvertCfRadial(t *testing.T) {
	isolateEnv(t)
	src, dst := t.TempDir(), t.TempDir()

	_, err := execute(t, "synth", src, "--format", "cfradial", "--days", "1", "--files", "1")
	require.NoError(t, err)

	scan := filepath.Join(src, "01", "01", "KTLX20240101_000000.nc")
	out, err := execute(t, "convert", scan, dst, "--input-format", "cfradial")
	require.NoError(t, err)
	assert.Contains(t, out, "none", "no fallback sweeps")

	artifactPath := filepath.Join(dst, "KTLX20240101_000000.npz")
	assert.FileExists(t, artifactPath)

	out, err = execute(t, "inspect", artifactPath)
	require.NoError(t, err)
	assert.Contains(t, out, "32x32")
}

func TestCLI_ConvertDefaultsNextToSource(t *testing.T) {
	isolateEnv(t)
	src := t.TempDir()

	_, err := execute(t, "synth", src, "--days", "1", "--files", "1")
	require.NoError(t, err)

	scan := filepath.Join(src, "01", "01", "KTLX20240101_000000.uf")
	_, err = execute(t, "convert", scan)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(src, "01", "01", "KTLX20240101_000000.npz"))
}

func TestCLI_RunRequiresRoots(t *testing.T) {
	isolateEnv(t)
	_, err := execute(t, "run", "--dest", t.TempDir())
	require.EqualError(t, err, "SOURCE_ROOT is required")
}

func TestCLI_RunRejectsBadThreshold(t *testing.T) {
	isolateEnv(t)
	_, err := execute(t, "run", "--source", t.TempDir(), "--dest", t.TempDir(), "--threshold", "loud")
	require.EqualError(t, err, "invalid MASK_THRESHOLD")
}

func TestCLI_AnomaliesWithoutLedger(t *testing.T) {
	isolateEnv(t)
	_, err := execute(t, "anomalies", "--dest", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no ledger")

	t.Setenv("LEDGER_PATH", "off")
	_, err = execute(t, "anomalies", "--dest", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger is disabled")
}

func TestCLI_SynthRejectsUnknownFormat(t *testing.T) {
	isolateEnv(t)
	_, err := execute(t, "synth", t.TempDir(), "--format", "hdf5")
	require.Error(t, err)
}

func TestSynthesize_Reproducible(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	opts := synthOptions{Year: 2024, Months: 1, Days: 1, Files: 1, Format: "uf", Seed: 7}

	_, err := synthesize(a, opts)
	require.NoError(t, err)
	written, err := synthesize(b, opts)
	require.NoError(t, err)
	require.Equal(t, []string{"01/01/KTLX20240101_000000.uf"}, written)

	da, err := os.ReadFile(filepath.Join(a, written[0]))
	require.NoError(t, err)
	db, err := os.ReadFile(filepath.Join(b, written[0]))
	require.NoError(t, err)
	assert.Equal(t, da, db)
}
