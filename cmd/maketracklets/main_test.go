package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctslater/mops-daymops/internal/db"
	"github.com/ctslater/mops-daymops/internal/detection"
	"github.com/ctslater/mops-daymops/internal/monitoring"
	"github.com/ctslater/mops-daymops/internal/testutil"
)

// diaSourceFile writes two objects seen three times each, plus a lone
// detection, as a DIA source catalogue.
func diaSourceFile(t *testing.T) string {
	t.Helper()
	epochs := []float64{53736, 53736.01, 53736.02}
	dets := testutil.Linear(testutil.BigID, 10, 0, 0.5, 0.2, 53736, epochs...)
	dets = append(dets, testutil.Linear(testutil.BigID+100, 20, 5, -0.3, 0.1, 53736, epochs...)...)
	dets = append(dets, detection.New(testutil.BigID+500, 53736.01, 200, -40))

	var b strings.Builder
	b.WriteString("# diaId obsHistId ssmId ra decl MJD mag snr\n")
	for _, d := range dets {
		b.WriteString(detection.FormatDiaSource(d))
		b.WriteByte('\n')
	}
	return testutil.WriteFile(t, "dias.txt", b.String())
}

func runCmd(t *testing.T, args []string, environ ...string) (string, error) {
	t.Helper()
	prev := monitoring.Logf
	t.Cleanup(func() { monitoring.Logf = prev })

	var stdout, stderr bytes.Buffer
	environ = append([]string{"MOPS_LOG_ENV=development", "MOPS_LOG_LEVEL=error"}, environ...)
	err := run(t.Context(), args, &stdout, &stderr, environ)
	return stdout.String() + stderr.String(), err
}

func TestRun_WritesOutputs(t *testing.T) {
	input := diaSourceFile(t)
	outDir := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "tracklets.db")
	promPath := filepath.Join(t.TempDir(), "mops.prom")

	_, err := runCmd(t, []string{
		"-out-dir", outDir,
		"-detail", "detail.txt",
		"-png", "sky.png",
		"-html", "sky.html",
		"-persist",
		"-db", dbPath,
		input,
	}, "MOPS_METRICS_FILE="+promPath)
	require.NoError(t, err)

	idx, err := os.ReadFile(filepath.Join(outDir, "tracklets.txt"))
	require.NoError(t, err)
	assert.Equal(t, "0 1 2\n3 4 5\n", string(idx))

	detail, err := os.ReadFile(filepath.Join(outDir, "detail.txt"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(detail)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "0,10.000000,0.000000,10.0,1,"))

	for _, f := range []string{"sky.png", "sky.html"} {
		info, err := os.Stat(filepath.Join(outDir, f))
		require.NoError(t, err, f)
		assert.Positive(t, info.Size(), f)
	}

	prom, err := os.ReadFile(promPath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "mops_tracklets_total 2")

	database, err := db.NewDB(dbPath)
	require.NoError(t, err)
	defer database.Close()
	runs, err := database.Runs(t.Context())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 7, runs[0].DetectionCount)
	assert.Equal(t, 2, runs[0].TrackletCount)
}

func TestRun_ConfigMinOutputDetections(t *testing.T) {
	input := diaSourceFile(t)
	outDir := t.TempDir()
	cfg := testutil.WriteFile(t, "linking.yaml", "min_output_detections: 4\n")

	_, err := runCmd(t, []string{"-out-dir", outDir, "-config", cfg, input})
	require.NoError(t, err)

	idx, err := os.ReadFile(filepath.Join(outDir, "tracklets.txt"))
	require.NoError(t, err)
	assert.Empty(t, string(idx))
}

func TestRun_Errors(t *testing.T) {
	input := diaSourceFile(t)
	badCfg := testutil.WriteFile(t, "bad.json", `{"max_v": -1}`)

	tests := []struct {
		name    string
		args    []string
		environ []string
	}{
		{"no inputs", []string{"-out-dir", t.TempDir()}, nil},
		{"unknown flag", []string{"-bogus", input}, nil},
		{"escaping output", []string{"-out-dir", t.TempDir(), "-out", "../escape.txt", input}, nil},
		{"invalid config", []string{"-out-dir", t.TempDir(), "-config", badCfg, input}, nil},
		{"missing input", []string{"-out-dir", t.TempDir(), filepath.Join(t.TempDir(), "none.txt")}, nil},
		{"bad env", []string{"-out-dir", t.TempDir(), input}, []string{"MOPS_WORKERS=lots"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCmd(t, tt.args, tt.environ...)
			assert.Error(t, err)
		})
	}
}

func TestRun_Version(t *testing.T) {
	out, err := runCmd(t, []string{"-version"})
	require.NoError(t, err)
	assert.Contains(t, out, "maketracklets dev")
}

func TestEnvMap(t *testing.T) {
	m := envMap([]string{"A=1", "B=x=y", "C"})
	assert.Equal(t, map[string]string{"A": "1", "B": "x=y"}, m)
}
