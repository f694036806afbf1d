package resample

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"simagg/domain/experiment"
	"simagg/internal/errors"
)

// Spacing selects how grid points are distributed between the bounds
type Spacing string

const (
	SpacingLinear      Spacing = "linear"
	SpacingLogarithmic Spacing = "log"
)

// GridConfig describes the common time axis. Nil bounds are computed from
// the runs.
type GridConfig struct {
	Samples int
	Min     *float64
	Max     *float64
	Spacing Spacing
}

// Linear returns n evenly spaced points from min to max inclusive
func Linear(min, max float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{min}
	}
	return floats.Span(make([]float64, n), min, max)
}

// Logarithmic returns n points evenly spaced on a log scale between
// 10^min and 10^max, matching the usual logspace convention.
func Logarithmic(min, max float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{math.Pow(10, min)}
	}
	return floats.LogSpan(make([]float64, n), math.Pow(10, min), math.Pow(10, max))
}

// Bounds computes the time range shared by every table: the latest first
// sample and the earliest last sample. When the runs do not overlap at all
// it falls back to the overall range. Tables without rows are ignored.
func Bounds(tables []*experiment.Table, timeColumn string) (min, max float64, ok bool) {
	lo, hi := math.Inf(-1), math.Inf(1)
	uLo, uHi := math.Inf(1), math.Inf(-1)
	for _, t := range tables {
		idx := t.ColumnIndex(timeColumn)
		if idx < 0 || t.Len() == 0 {
			continue
		}
		first, last := t.Rows[0][idx], t.Rows[t.Len()-1][idx]
		lo, hi = math.Max(lo, first), math.Min(hi, last)
		uLo, uHi = math.Min(uLo, first), math.Max(uHi, last)
		ok = true
	}
	if !ok {
		return 0, 0, false
	}
	if lo <= hi {
		return lo, hi, true
	}
	return uLo, uHi, true
}

// Build produces the grid described by cfg, filling missing bounds from the
// tables. Configured bounds of a logarithmic grid are base-10 exponents;
// inferred bounds are times and are converted to exponents here.
func Build(cfg GridConfig, tables []*experiment.Table, timeColumn string) ([]float64, error) {
	if cfg.Samples <= 0 {
		return nil, errors.InvalidInput("time samples must be positive")
	}
	logarithmic := cfg.Spacing == SpacingLogarithmic

	var min, max float64
	if cfg.Min == nil || cfg.Max == nil {
		lo, hi, ok := Bounds(tables, timeColumn)
		if !ok {
			return nil, errors.InvalidInput("cannot infer time bounds: no run has samples")
		}
		if logarithmic {
			if cfg.Min == nil && lo <= 0 {
				return nil, errors.InvalidInput(fmt.Sprintf("logarithmic grid needs a positive lower time bound, runs start at %g", lo))
			}
			if cfg.Max == nil && hi <= 0 {
				return nil, errors.InvalidInput(fmt.Sprintf("logarithmic grid needs a positive upper time bound, runs end at %g", hi))
			}
			lo, hi = math.Log10(lo), math.Log10(hi)
		}
		min, max = lo, hi
	}
	if cfg.Min != nil {
		min = *cfg.Min
	}
	if cfg.Max != nil {
		max = *cfg.Max
	}
	if max < min {
		return nil, errors.InvalidInput("time grid upper bound is below the lower bound")
	}

	if logarithmic {
		return Logarithmic(min, max, cfg.Samples), nil
	}
	return Linear(min, max, cfg.Samples), nil
}
