package testutil

import (
	"errors"
	"net/http"
	"os"
	"testing"
)

func TestAssertHelpers_Pass(t *testing.T) {
	t.Parallel()

	AssertStatusCode(t, http.StatusOK, http.StatusOK)
	AssertNoError(t, nil)
	AssertError(t, errors.New("test error"))
}

func TestNewTestRequest(t *testing.T) {
	t.Parallel()

	req := NewTestRequest("GET", "/debug/tailsql")
	if req.Method != "GET" {
		t.Errorf("method = %s, want GET", req.Method)
	}
	if req.URL.Path != "/debug/tailsql" {
		t.Errorf("path = %s, want /debug/tailsql", req.URL.Path)
	}
	if NewTestRecorder() == nil {
		t.Fatal("recorder is nil")
	}
}

func TestLinear(t *testing.T) {
	t.Parallel()

	dets := Linear(BigID, 359.5, -5, 1, 0.5, 100, 100, 101)
	if len(dets) != 2 {
		t.Fatalf("len = %d, want 2", len(dets))
	}
	if dets[1].RA != 0.5 {
		t.Errorf("RA wrapped = %v, want 0.5", dets[1].RA)
	}
	if dets[1].Dec != -4.5 {
		t.Errorf("Dec = %v, want -4.5", dets[1].Dec)
	}
	if dets[1].ID != BigID+1 {
		t.Errorf("ID = %d, want %d", dets[1].ID, BigID+1)
	}
}

func TestFourDetections(t *testing.T) {
	t.Parallel()

	s := FourDetections()
	if s.Len() != 4 {
		t.Fatalf("Len = %d, want 4", s.Len())
	}
	for i := 0; i < s.Len(); i++ {
		if s.At(i).Index() != i {
			t.Errorf("At(%d).Index() = %d", i, s.At(i).Index())
		}
	}
}

func TestWriteFile(t *testing.T) {
	t.Parallel()

	p := WriteFile(t, "cat.txt", "hello")
	b, err := os.ReadFile(p)
	AssertNoError(t, err)
	if string(b) != "hello" {
		t.Errorf("content = %q", b)
	}
}
