package main

import (
	"bytes"
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctslater/mops-daymops/internal/config"
	"github.com/ctslater/mops-daymops/internal/db"
	"github.com/ctslater/mops-daymops/internal/monitoring"
	"github.com/ctslater/mops-daymops/internal/pipeline"
	"github.com/ctslater/mops-daymops/internal/testutil"
)

func seededDB(t *testing.T) (string, *pipeline.Result) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tracklets.db")
	database, err := db.NewDB(path)
	require.NoError(t, err)
	defer database.Close()

	epochs := []float64{53736, 53736.01, 53736.02}
	store := testutil.Store(testutil.Linear(testutil.BigID, 10, 0, 0.5, 0.2, 53736, epochs...)...)
	res, err := (&pipeline.Runner{Config: config.EmptyLinkingConfig(), Sink: database}).Run(t.Context(), store)
	require.NoError(t, err)
	return path, res
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	prev := monitoring.Logf
	t.Cleanup(func() { monitoring.Logf = prev })
	t.Setenv("MOPS_LOG_ENV", "development")
	t.Setenv("MOPS_LOG_LEVEL", "error")

	var stdout, stderr bytes.Buffer
	err := run(t.Context(), args, &stdout, &stderr)
	return stdout.String(), err
}

func TestRuns(t *testing.T) {
	path, res := seededDB(t)
	out, err := runCmd(t, "-db", path, "runs")
	require.NoError(t, err)
	assert.Contains(t, out, res.RunID)
	assert.Contains(t, out, "TRACKLETS")
}

func TestTracklets(t *testing.T) {
	path, res := seededDB(t)
	out, err := runCmd(t, "-db", path, "tracklets", res.RunID)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "130344998938869947,130344998938869948,130344998938869949")

	_, err = runCmd(t, "-db", path, "tracklets", "no-such-run")
	assert.ErrorIs(t, err, db.ErrRunNotFound)
}

func TestMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.db")
	out, err := runCmd(t, "-db", path, "migrate", "up")
	require.NoError(t, err)
	assert.Contains(t, out, "Current version: 3")
}

func TestUsageErrors(t *testing.T) {
	for _, args := range [][]string{
		nil,
		{"tracklets"},
		{"frobnicate"},
		{"-nope"},
	} {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			_, err := runCmd(t, args...)
			testutil.AssertError(t, err)
		})
	}
}

func TestVersion(t *testing.T) {
	out, err := runCmd(t, "-version")
	require.NoError(t, err)
	assert.Contains(t, out, "trackletdb dev")
}

func TestServeMux(t *testing.T) {
	path, res := seededDB(t)
	database, err := db.NewDB(path)
	testutil.AssertNoError(t, err)
	defer database.Close()

	mux, err := newServeMux(database)
	testutil.AssertNoError(t, err)

	w := testutil.NewTestRecorder()
	mux.ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, "/metrics"))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Contains(t, w.Body.String(), "mops_linking_runs 1")

	req := testutil.NewTestRequest(http.MethodGet, "/debug/run?id="+res.RunID)
	req.RemoteAddr = "127.0.0.1:12345"
	w = testutil.NewTestRecorder()
	mux.ServeHTTP(w, req)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Contains(t, w.Body.String(), res.RunID)
}

func TestServe_StopsOnCancel(t *testing.T) {
	path, _ := seededDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	prev := monitoring.Logf
	t.Cleanup(func() { monitoring.Logf = prev })
	env := &config.Env{LogEnv: "development", LogLevel: "error"}
	var stderr bytes.Buffer
	assert.NoError(t, serve(ctx, path, []string{"-listen", "127.0.0.1:0"}, env, &stderr))
}
