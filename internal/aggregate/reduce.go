package aggregate

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"simagg/internal/errors"
)

// ReduceOp is a NaN-skipping reduction applied along one or more axes
type ReduceOp string

const (
	OpMean ReduceOp = "mean"
	OpStd  ReduceOp = "std"
	OpMax  ReduceOp = "max"
	OpMin  ReduceOp = "min"
)

// Reduce collapses the named axes of ds with op and returns a new dataset.
// NaN cells are excluded from both the statistic and the count; a cell whose
// inputs are all NaN stays NaN. Standard deviation is the population one.
func Reduce(ds *Dataset, op ReduceOp, dims ...string) (*Dataset, error) {
	drop := make([]bool, len(ds.Axes))
	for _, d := range dims {
		_, pos, ok := ds.Axis(d)
		if !ok {
			return nil, errors.InvalidInput(fmt.Sprintf("cannot reduce over unknown axis %q", d))
		}
		drop[pos] = true
	}
	if _, err := reducer(op); err != nil {
		return nil, err
	}

	var keptAxes []Axis
	var keptShape []int
	for i, a := range ds.Axes {
		if !drop[i] {
			keptAxes = append(keptAxes, a)
			keptShape = append(keptShape, len(a.Values))
		}
	}
	out := &Dataset{Axes: keptAxes, Vars: make(map[string][]float64, len(ds.Vars))}
	outStrides := strides(keptShape)
	outSize := out.Size()

	// output cell of every input cell, computed once for all variables
	shape := ds.Shape()
	target := make([]int, ds.Size())
	forEachIndex(shape, func(flat int, idx []int) {
		o, k := 0, 0
		for i, x := range idx {
			if drop[i] {
				continue
			}
			o += x * outStrides[k]
			k++
		}
		target[flat] = o
	})

	fn, _ := reducer(op)
	for name, arr := range ds.Vars {
		buckets := make([][]float64, outSize)
		for flat, v := range arr {
			if math.IsNaN(v) {
				continue
			}
			buckets[target[flat]] = append(buckets[target[flat]], v)
		}
		res := make([]float64, outSize)
		for i, b := range buckets {
			res[i] = fn(b)
		}
		out.Vars[name] = res
	}
	return out, nil
}

// Fold collapses the seed-like axes of ds into a mean and a standard
// deviation dataset sharing the remaining axes. Names that are not axes of
// ds are ignored; with no axis left to fold both results equal the input
// statistics of a single sample (mean = value, std = 0).
func Fold(ds *Dataset, seedVars ...string) (mean, std *Dataset, err error) {
	var dims []string
	for _, s := range seedVars {
		if _, _, ok := ds.Axis(s); ok {
			dims = append(dims, s)
		}
	}
	mean, err = Reduce(ds, OpMean, dims...)
	if err != nil {
		return nil, nil, err
	}
	std, err = Reduce(ds, OpStd, dims...)
	if err != nil {
		return nil, nil, err
	}
	return mean, std, nil
}

func reducer(op ReduceOp) (func([]float64) float64, error) {
	var f func(stats.Float64Data) (float64, error)
	switch op {
	case OpMean:
		f = stats.Mean
	case OpStd:
		f = stats.StandardDeviationPopulation
	case OpMax:
		f = stats.Max
	case OpMin:
		f = stats.Min
	default:
		return nil, errors.InvalidInput(fmt.Sprintf("unknown reduction %q", op))
	}
	return func(vals []float64) float64 {
		if len(vals) == 0 {
			return math.NaN()
		}
		v, err := f(vals)
		if err != nil {
			return math.NaN()
		}
		return v
	}, nil
}
