package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctslater/mops-daymops/internal/testutil"
)

const pairs = `# tracklets
0 1
0 1 2
2 3
1 2
4 5
4 5
`

func TestRun(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"subsets removed", nil, "0 1 2\n2 3\n4 5\n"},
		{"keep longest", []string{"-keep-longest", "-remove-subsets=false"}, "0 1 2\n2 3\n4 5\n"},
		{"nothing enabled sorts", []string{"-remove-subsets=false"}, "0 1\n0 1 2\n1 2\n2 3\n4 5\n4 5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			args := append([]string{"-log-env", "development"}, tt.args...)
			require.NoError(t, run(args, strings.NewReader(pairs), &stdout, &stderr))
			assert.Equal(t, tt.want, stdout.String())
		})
	}
}

func TestRun_Files(t *testing.T) {
	in := testutil.WriteFile(t, "pairs.txt", pairs)
	out := filepath.Join(t.TempDir(), "collapsed.txt")

	var stdout, stderr bytes.Buffer
	require.NoError(t, run([]string{"-log-env", "development", "-in", in, "-out", out}, nil, &stdout, &stderr))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "0 1 2\n2 3\n4 5\n", string(got))
	assert.Empty(t, stdout.String())
}

func TestRun_Errors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Error(t, run([]string{"-log-env", "development"}, strings.NewReader("0 x\n"), &stdout, &stderr))
	assert.Error(t, run([]string{"-log-env", "development", "-in", filepath.Join(t.TempDir(), "missing")}, nil, &stdout, &stderr))
	assert.Error(t, run([]string{"-log-env", "nowhere"}, strings.NewReader(pairs), &stdout, &stderr))
	assert.Error(t, run([]string{"-nope"}, nil, &stdout, &stderr))
}
