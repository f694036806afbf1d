// Package resample maps irregularly sampled runs onto a shared time grid.
//
// The policy is nearest sample, not interpolation: each grid point takes the
// recorded row whose time is closest and stamps it with the grid time, so
// every resampled run lines up exactly on the common axis.
package resample

import (
	"math"

	"simagg/domain/experiment"
)

// Nearest returns a copy of the row of sorted whose time column is closest to
// target, with its time overwritten by target. sorted must be ascending by
// time. Targets outside the recorded range get the boundary row.
//
// The search halves the candidate range while keeping one row of overlap at
// the split, then compares the last (at most three) survivors directly.
func Nearest(sorted [][]float64, timeCol int, target float64) []float64 {
	if len(sorted) == 0 {
		return nil
	}
	candidates := sorted
	for len(candidates) > 3 {
		half := len(candidates) / 2
		if candidates[half][timeCol] < target {
			candidates = candidates[len(candidates)-half-1:]
		} else {
			candidates = candidates[:half+1]
		}
	}

	best := 0
	bestDist := math.Abs(candidates[0][timeCol] - target)
	for i := 1; i < len(candidates); i++ {
		if d := math.Abs(candidates[i][timeCol] - target); d < bestDist {
			best, bestDist = i, d
		}
	}

	out := append([]float64(nil), candidates[best]...)
	out[timeCol] = target
	return out
}

// Table resamples t onto grid. The result has one row per grid point and the
// same columns as t. A table without rows yields NaN rows carrying only the
// grid time, so missing data never fails a batch.
func Table(t *experiment.Table, timeColumn string, grid []float64) *experiment.Table {
	out := experiment.NewTable(t.Columns)
	timeCol := t.ColumnIndex(timeColumn)
	out.Rows = make([][]float64, len(grid))

	if timeCol < 0 || t.Len() == 0 {
		for i, g := range grid {
			row := make([]float64, len(t.Columns))
			for j := range row {
				row[j] = math.NaN()
			}
			if timeCol >= 0 {
				row[timeCol] = g
			}
			out.Rows[i] = row
		}
		return out
	}

	for i, g := range grid {
		out.Rows[i] = Nearest(t.Rows, timeCol, g)
	}
	return out
}
