// Package convergence derives first-passage statistics from per-seed runs.
package convergence

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/montanaflynn/stats"

	"simagg/domain/experiment"
	"simagg/internal/errors"
	"simagg/internal/grouping"
)

// DropWindow is the time up to which samples are ignored (the first tick).
const DropWindow = 1.0

// Options configure a convergence query
type Options struct {
	Metric     string
	Threshold  float64
	GroupBy    []string // nil auto-detects parameter-like columns
	TimeColumn string
	SeedColumn string
}

// DefaultOptions mirrors the usual consensus query
func DefaultOptions() Options {
	return Options{
		Metric:     "state[mean]",
		Threshold:  1.0,
		TimeColumn: "time",
		SeedColumn: experiment.SeedParam,
	}
}

func (o *Options) normalize() {
	if o.TimeColumn == "" {
		o.TimeColumn = "time"
	}
	if o.SeedColumn == "" {
		o.SeedColumn = experiment.SeedParam
	}
}

// TimeOf returns the first time after DropWindow at which metric equals
// threshold exactly, or NaN if it never does. A value that only crosses the
// threshold is not a match.
func TimeOf(t *experiment.Table, metric, timeColumn string, threshold float64) float64 {
	m, tc := t.ColumnIndex(metric), t.ColumnIndex(timeColumn)
	if m < 0 || tc < 0 {
		return math.NaN()
	}
	for _, row := range t.Rows {
		if row[tc] <= DropWindow {
			continue
		}
		if row[m] == threshold {
			return row[tc]
		}
	}
	return math.NaN()
}

// DetectGroupBy picks the columns that look like parameters rather than
// metrics: every column other than seed and time whose distinct value count
// is at most a tenth of the combined row count.
func DetectGroupBy(runs []*experiment.Run, timeColumn, seedColumn string) []string {
	combined := grouping.Concat(runs)
	limit := float64(combined.Len()) / 10
	var out []string
	for _, c := range combined.Columns {
		if c == timeColumn || c == seedColumn {
			continue
		}
		if float64(distinct(combined.Column(c))) <= limit {
			out = append(out, c)
		}
	}
	return out
}

// TimeStatistics computes, per group of runs sharing the same group-by
// values, the mean, min and max convergence time over the runs that
// converged. Groups appear in the order their first run was seen.
func TimeStatistics(runs []*experiment.Run, opts Options) ([]experiment.ConvergenceRecord, error) {
	opts.normalize()
	if len(runs) == 0 {
		return nil, nil
	}
	if opts.Metric == "" {
		return nil, errors.InvalidInput("convergence metric is required")
	}
	groupBy := opts.GroupBy
	if groupBy == nil {
		groupBy = DetectGroupBy(runs, opts.TimeColumn, opts.SeedColumn)
	}

	type group struct {
		values []float64
		times  []float64
	}
	var order []string
	groups := map[string]*group{}

	for _, r := range runs {
		if !r.HasColumn(opts.Metric) {
			return nil, errors.InvalidInput(fmt.Sprintf("run %s has no column %q", r.Source, opts.Metric))
		}
		values := make([]float64, len(groupBy))
		for i, p := range groupBy {
			if !r.HasColumn(p) {
				return nil, errors.InvalidInput(fmt.Sprintf("run %s has no grouping column %q", r.Source, p))
			}
			values[i] = r.Value(0, p)
		}
		id := keyOf(values)
		g, ok := groups[id]
		if !ok {
			g = &group{values: values}
			groups[id] = g
			order = append(order, id)
		}
		g.times = append(g.times, TimeOf(r.Table, opts.Metric, opts.TimeColumn, opts.Threshold))
	}

	records := make([]experiment.ConvergenceRecord, 0, len(order))
	for _, id := range order {
		g := groups[id]
		rec := experiment.ConvergenceRecord{
			GroupBy: append([]string(nil), groupBy...),
			Values:  g.values,
			Runs:    len(g.times),
			Mean:    math.NaN(),
			Min:     math.NaN(),
			Max:     math.NaN(),
		}
		converged := stats.Float64Data{}
		for _, t := range g.times {
			if !math.IsNaN(t) {
				converged = append(converged, t)
			}
		}
		if len(converged) > 0 {
			rec.Mean, _ = stats.Mean(converged)
			rec.Min, _ = stats.Min(converged)
			rec.Max, _ = stats.Max(converged)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Sort orders records by their group values, for stable presentation
func Sort(records []experiment.ConvergenceRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i].Values, records[j].Values
		for k := range a {
			if k < len(b) && a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return len(a) < len(b)
	})
}

func keyOf(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, "|")
}

// distinct counts distinct non-NaN values
func distinct(vals []float64) int {
	seen := make(map[float64]struct{}, len(vals))
	for _, v := range vals {
		if !math.IsNaN(v) {
			seen[v] = struct{}{}
		}
	}
	return len(seen)
}
