package security

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	outDir := filepath.Join(tmpDir, "out")
	otherDir := filepath.Join(tmpDir, "other")
	for _, d := range []string{outDir, otherDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", d, err)
		}
	}
	link := filepath.Join(outDir, "night-link")
	if err := os.Symlink(otherDir, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	tests := []struct {
		name      string
		filePath  string
		dir       string
		wantError bool
	}{
		{"tracklet file in dir", filepath.Join(outDir, "tracklets.txt"), outDir, false},
		{"nested new file", filepath.Join(outDir, "plots", "run.png"), outDir, false},
		{"dot dot escape", filepath.Join(outDir, "..", "tracklets.txt"), outDir, true},
		{"relative escape", "../../../etc/passwd", outDir, true},
		{"absolute outside", "/etc/passwd", outDir, true},
		{"through symlinked parent", filepath.Join(link, "tracklets.txt"), outDir, true},
		{"symlink itself", link, outDir, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.filePath, tt.dir)
			if (err != nil) != tt.wantError {
				t.Fatalf("ValidatePathWithinDirectory() error = %v, wantError %v", err, tt.wantError)
			}
			if err != nil && !errors.Is(err, ErrPathEscape) {
				t.Errorf("error %v does not wrap ErrPathEscape", err)
			}
		})
	}
}

func TestValidatePathWithinAllowedDirs(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()

	tests := []struct {
		name      string
		filePath  string
		dirs      []string
		wantError bool
	}{
		{"first dir", filepath.Join(a, "pairs.txt"), []string{a, b}, false},
		{"second dir", filepath.Join(b, "pairs.txt"), []string{a, b}, false},
		{"outside all", "/etc/passwd", []string{a, b}, true},
		{"no dirs", filepath.Join(a, "pairs.txt"), nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinAllowedDirs(tt.filePath, tt.dirs)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidatePathWithinAllowedDirs() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestValidateOutputPath(t *testing.T) {
	extra := t.TempDir()

	tests := []struct {
		name      string
		filePath  string
		extra     []string
		wantError bool
	}{
		{"temp dir", filepath.Join(os.TempDir(), "tracklets.txt"), nil, false},
		{"working dir", "tracklets.txt", nil, false},
		{"extra dir", filepath.Join(extra, "metrics.prom"), []string{extra}, false},
		{"system file", "/etc/passwd", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOutputPath(tt.filePath, tt.extra...)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidateOutputPath() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "unknown"},
		{"0b9d5c1e-6f3a-4c55-9d7e-2f1a3b4c5d6e", "0b9d5c1e-6f3a-4c55-9d7e-2f1a3b4c5d6e"},
		{"night 53736/run#1", "night_53736_run_1"},
		{"../../etc", "etc"},
		{"a  //  b", "a_b"},
		{"...", "unknown"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
