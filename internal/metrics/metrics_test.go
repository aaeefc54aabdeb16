package metrics

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mopstest "github.com/ctslater/mops-daymops/internal/testutil"
)

func TestLinking_Independent(t *testing.T) {
	a := NewLinking()
	b := NewLinking()

	a.Candidates.Add(6)
	assert.Equal(t, 6.0, testutil.ToFloat64(a.Candidates))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Candidates))
}

func TestLinking_ObserveStage(t *testing.T) {
	m := NewLinking()
	m.ObserveStage("find", 20*time.Millisecond)
	m.ObserveStage("collapse", time.Second)

	assert.Equal(t, 2, testutil.CollectAndCount(m.StageDuration))
}

func TestLinking_WriteTextfile(t *testing.T) {
	m := NewLinking()
	m.Detections.Add(4)
	m.TrackletSize.Observe(4)

	path := filepath.Join(t.TempDir(), "linking.prom")
	require.NoError(t, m.WriteTextfile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "mops_detections_total 4")
	assert.Contains(t, string(b), "mops_tracklet_detections_count 1")
}

func TestLinking_Handler(t *testing.T) {
	m := NewLinking()
	m.Tracklets.Inc()

	rec := mopstest.NewTestRecorder()
	m.Handler().ServeHTTP(rec, mopstest.NewTestRequest(http.MethodGet, "/metrics"))

	mopstest.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.True(t, strings.Contains(rec.Body.String(), "mops_tracklets_total 1"))
}
