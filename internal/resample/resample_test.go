package resample

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simagg/domain/experiment"
	"simagg/internal/errors"
)

func rowsAt(times ...float64) [][]float64 {
	rows := make([][]float64, len(times))
	for i, t := range times {
		rows[i] = []float64{t, 100 + t}
	}
	return rows
}

func TestNearest_PicksClosestRowNotInterpolation(t *testing.T) {
	rows := rowsAt(0, 1, 2, 3, 4)

	got := Nearest(rows, 0, 2.4)
	assert.Equal(t, []float64{2.4, 102}, got)

	got = Nearest(rows, 0, 2.6)
	assert.Equal(t, []float64{2.6, 103}, got)
}

func TestNearest_SingleRowAlwaysReturned(t *testing.T) {
	rows := rowsAt(5)
	for _, target := range []float64{-10, 0, 5, 5.0001, 1e9} {
		got := Nearest(rows, 0, target)
		assert.Equal(t, []float64{target, 105}, got)
	}
	assert.Equal(t, 5.0, rows[0][0], "input must not be mutated")
}

func TestNearest_OutOfRangeUsesBoundary(t *testing.T) {
	rows := rowsAt(10, 20, 30, 40, 50, 60)

	assert.Equal(t, []float64{-5, 110}, Nearest(rows, 0, -5))
	assert.Equal(t, []float64{1000, 160}, Nearest(rows, 0, 1000))
}

func TestNearest_EmptyInput(t *testing.T) {
	assert.Nil(t, Nearest(nil, 0, 1))
}

func TestNearest_MatchesLinearScan(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	times := make([]float64, 0, 200)
	cur := 0.0
	for i := 0; i < 200; i++ {
		cur += rng.Float64()*3 + 0.01
		times = append(times, cur)
	}
	rows := rowsAt(times...)

	for i := 0; i < 500; i++ {
		target := rng.Float64()*cur*1.2 - cur*0.1
		got := Nearest(rows, 0, target)

		bestDist := math.Inf(1)
		for _, r := range rows {
			bestDist = math.Min(bestDist, math.Abs(r[0]-target))
		}
		assert.InDelta(t, bestDist, math.Abs(got[1]-100-target), 1e-9, "target %v", target)
	}
}

func TestTable_ResamplesOntoGrid(t *testing.T) {
	table := experiment.NewTable([]string{"time", "m"})
	table.Rows = rowsAt(0, 1, 2, 3, 4)

	out := Table(table, "time", []float64{0.2, 2.4, 2.6, 9})
	require.Equal(t, 4, out.Len())
	assert.Equal(t, []float64{0.2, 2.4, 2.6, 9}, out.Column("time"))
	assert.Equal(t, []float64{100, 102, 103, 104}, out.Column("m"))
}

func TestTable_EmptyRunYieldsNaN(t *testing.T) {
	table := experiment.NewTable([]string{"time", "m"})

	out := Table(table, "time", []float64{1, 2})
	require.Equal(t, 2, out.Len())
	assert.Equal(t, []float64{1, 2}, out.Column("time"))
	assert.True(t, math.IsNaN(out.Value(0, "m")))
}

func TestGrids(t *testing.T) {
	assert.InDeltaSlice(t, []float64{0, 2.5, 5, 7.5, 10}, Linear(0, 10, 5), 1e-12)
	assert.InDeltaSlice(t, []float64{1, 10, 100}, Logarithmic(0, 2, 3), 1e-9)
	assert.Equal(t, []float64{3}, Linear(3, 9, 1))
	assert.Nil(t, Linear(0, 1, 0))
}

func TestBounds_IntersectionWithUnionFallback(t *testing.T) {
	a := experiment.NewTable([]string{"time"})
	a.Rows = [][]float64{{0}, {10}}
	b := experiment.NewTable([]string{"time"})
	b.Rows = [][]float64{{2}, {8}}

	lo, hi, ok := Bounds([]*experiment.Table{a, b}, "time")
	require.True(t, ok)
	assert.Equal(t, 2.0, lo)
	assert.Equal(t, 8.0, hi)

	c := experiment.NewTable([]string{"time"})
	c.Rows = [][]float64{{20}, {30}}
	lo, hi, ok = Bounds([]*experiment.Table{a, c}, "time")
	require.True(t, ok)
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 30.0, hi)

	_, _, ok = Bounds([]*experiment.Table{experiment.NewTable([]string{"time"})}, "time")
	assert.False(t, ok)
}

func TestBuild_FixedAndInferredBounds(t *testing.T) {
	a := experiment.NewTable([]string{"time"})
	a.Rows = [][]float64{{1}, {5}}

	grid, err := Build(GridConfig{Samples: 5}, []*experiment.Table{a}, "time")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 2, 3, 4, 5}, grid, 1e-12)

	lo := 0.0
	grid, err = Build(GridConfig{Samples: 3, Min: &lo}, []*experiment.Table{a}, "time")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 2.5, 5}, grid, 1e-12)

	_, err = Build(GridConfig{Samples: 0}, nil, "time")
	assert.Error(t, err)
}

func TestBuild_LogarithmicInferredBounds(t *testing.T) {
	a := experiment.NewTable([]string{"time"})
	a.Rows = [][]float64{{1}, {10}, {100}, {1000}}

	grid, err := Build(GridConfig{Samples: 4, Spacing: SpacingLogarithmic}, []*experiment.Table{a}, "time")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 10, 100, 1000}, grid, 1e-9)

	// a configured exponent is combined with an inferred time bound
	lo := 1.0
	grid, err = Build(GridConfig{Samples: 3, Min: &lo, Spacing: SpacingLogarithmic}, []*experiment.Table{a}, "time")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{10, 100, 1000}, grid, 1e-9)

	zero := experiment.NewTable([]string{"time"})
	zero.Rows = [][]float64{{0}, {10}}
	_, err = Build(GridConfig{Samples: 3, Spacing: SpacingLogarithmic}, []*experiment.Table{zero}, "time")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))

	// a configured lower exponent makes the non-positive first sample irrelevant
	grid, err = Build(GridConfig{Samples: 2, Min: &lo, Spacing: SpacingLogarithmic}, []*experiment.Table{zero}, "time")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{10, 10}, grid, 1e-9)
}
