package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simagg/internal/errors"
	"simagg/internal/testkit"
)

func TestParseAssignments(t *testing.T) {
	values, err := parseAssignments([]string{"size=10", "range=2.5"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"size": 10, "range": 2.5}, values)

	for _, bad := range []string{"size", "=1", "size=ten"} {
		_, err := parseAssignments([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestLoadConfigAppliesFlags(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SIMAGG_CONFIG", "")

	cfg, err := loadConfig(&globalOptions{dataDir: "runs", experiments: []string{"a", "b"}, workers: 3})
	require.NoError(t, err)
	assert.Equal(t, "runs", cfg.Data.Dir)
	assert.Equal(t, []string{"a", "b"}, cfg.Data.Experiments)
	assert.Equal(t, 3, cfg.Workers)
}

func TestLoadConfigRejectsUnknownLogLevel(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SIMAGG_CONFIG", "")

	_, err := loadConfig(&globalOptions{logLevel: "chatty"})
	assert.Error(t, err)
}

func TestCommandsAgainstBatch(t *testing.T) {
	work := t.TempDir()
	chdir(t, work)
	t.Setenv("SIMAGG_CONFIG", "")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "simagg.db")

	data := filepath.Join(work, "data")
	require.NoError(t, os.Mkdir(data, 0o755))
	testkit.WriteRun(t, data, "consensus", map[string]float64{"size": 1}, 1, 0, 0, 1, 1, 1)
	testkit.WriteRun(t, data, "consensus", map[string]float64{"size": 1}, 2, 0, 0, 0, 0, 1)
	testkit.WriteRun(t, data, "consensus", map[string]float64{"size": 2}, 1, 0, 0, 0, 1, 1)

	global := []string{"--data-dir", data, "--experiments", "consensus", "--workers", "1"}

	// cases run in order: export reads the batch stored by convergence
	cases := []struct {
		name     string
		args     []string
		contains []string
		files    []string
		errCode  string
	}{
		{
			name:     "aggregate",
			args:     []string{"aggregate", "--out", "agg.xlsx"},
			contains: []string{"consensus: axes [size time]", "variables [state[mean]]"},
			files:    []string{"agg.xlsx"},
		},
		{
			name:     "convergence",
			args:     []string{"convergence", "consensus", "--group-by", "size"},
			contains: []string{"size\tmean\tmin\tmax\truns", "1\t 3.000\t 2.000\t 4.000\t2", "stored as batch"},
			files:    []string{"simagg.db"},
		},
		{
			name:     "partial lookup",
			args:     []string{"lookup", "consensus", "size=1", "--partial", "--csv", "runs.csv"},
			contains: []string{"seed=1", "seed=2", "2 runs"},
			files:    []string{"runs.csv"},
		},
		{
			name:    "exact lookup missing parameter",
			args:    []string{"lookup", "consensus"},
			errCode: errors.CodeMissingParameter,
		},
		{
			name:     "export",
			args:     []string{"export", "consensus", "--out", "book.xlsx"},
			contains: []string{"wrote book.xlsx"},
			files:    []string{"book.xlsx"},
		},
		{
			name:    "unknown experiment",
			args:    []string{"convergence", "gossip", "--no-store"},
			errCode: errors.CodeNotFound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			cmd := newRootCmd()
			cmd.SetOut(&out)
			cmd.SetArgs(append(append([]string(nil), tc.args...), global...))

			err := cmd.ExecuteContext(context.Background())
			if tc.errCode != "" {
				require.Error(t, err)
				assert.True(t, errors.HasCode(err, tc.errCode), err.Error())
				return
			}
			require.NoError(t, err)
			for _, want := range tc.contains {
				assert.Contains(t, out.String(), want)
			}
			for _, f := range tc.files {
				assert.FileExists(t, filepath.Join(work, f))
			}
		})
	}

	csv, err := os.ReadFile(filepath.Join(work, "runs.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(csv), "time,state[mean],size,seed")
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (stand-in for testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
