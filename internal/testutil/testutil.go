// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers and synthetic detection
// catalogues to reduce duplication across test files.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ctslater/mops-daymops/internal/detection"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// BigID is a detection id of the magnitude produced by the survey database.
// Tests offset from it to make sure ids are never used as indices.
const BigID int64 = 130344998938869947

// Linear returns detections of one object moving linearly in RA and Dec,
// observed at each of the given epochs. vRA and vDec are in coordinate
// degrees per day; RA is wrapped into [0, 360). Ids count up from firstID.
func Linear(firstID int64, ra0, dec0, vRA, vDec, epoch0 float64, epochs ...float64) []detection.Detection {
	out := make([]detection.Detection, len(epochs))
	for k, e := range epochs {
		dt := e - epoch0
		ra := ra0 + vRA*dt
		for ra < 0 {
			ra += 360
		}
		for ra >= 360 {
			ra -= 360
		}
		d := detection.New(firstID+int64(k), e, ra, dec0+vDec*dt)
		d.ImageID = int64(k)
		d.SNR = 10
		out[k] = d
	}
	return out
}

// Store builds a detection store from dets, in order.
func Store(dets ...detection.Detection) *detection.Store {
	return detection.FromDetections(dets)
}

// FourDetections is the two-pair catalogue used throughout the linker tests:
// two objects near (10, 10) and (12, 12) seen on four consecutive days.
func FourDetections() *detection.Store {
	return Store(
		detection.New(BigID, 5330.0, 10.0, 10.0),
		detection.New(BigID+1, 5331.0, 11.0, 11.0),
		detection.New(BigID+2, 5332.0, 12.0, 12.0),
		detection.New(BigID+3, 5333.0, 13.0, 13.0),
	)
}

// WriteFile writes content to name inside a fresh temporary directory and
// returns its path.
func WriteFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}
