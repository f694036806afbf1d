// Package testkit writes simulator run files for tests.
package testkit

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"simagg/internal/params"
)

// Run describes one run file. Rows are written under a "# time <metric>"
// header, one row per step, with the step index as time.
type Run struct {
	Prefix string
	Params map[string]float64
	Seed   float64
	Header map[string]string
	Metric string
	Values []float64
}

// Write writes the run into dir and returns its path
func (r Run) Write(t testing.TB, dir string) string {
	t.Helper()
	metric := r.Metric
	if metric == "" {
		metric = "state[mean]"
	}

	var b strings.Builder
	if len(r.Header) > 0 {
		names := make([]string, 0, len(r.Header))
		for n := range r.Header {
			names = append(names, n)
		}
		sort.Strings(names)
		parts := make([]string, len(names))
		for i, n := range names {
			parts[i] = n + " = " + r.Header[n]
		}
		b.WriteString("# " + strings.Join(parts, ", ") + "\n")
	}
	fmt.Fprintf(&b, "# time %s\n", metric)
	for i, v := range r.Values {
		fmt.Fprintf(&b, "%d %g\n", i, v)
	}

	path := filepath.Join(dir, params.FormatFileName(r.Prefix, r.Params, r.Seed))
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

// WriteRun is shorthand for a run without header assignments
func WriteRun(t testing.TB, dir, prefix string, ps map[string]float64, seed float64, values ...float64) string {
	t.Helper()
	return Run{Prefix: prefix, Params: ps, Seed: seed, Values: values}.Write(t, dir)
}
