// Package aggregate assembles resampled runs into dense labeled arrays and
// folds them across seeds.
//
// A Dataset is a set of equally shaped row-major float64 arrays (one per
// metric) plus a side table of named axes. Cells are addressed by parameter
// value, never by bare position, so consumers select "size=10" rather than
// index 3.
package aggregate

import (
	"fmt"
	"math"
	"sort"

	"simagg/domain/experiment"
	"simagg/internal/errors"
)

// Axis is one labeled dimension: a name and its sorted coordinate values
type Axis struct {
	Name   string
	Values []experiment.Value
}

// Index returns the position of v on the axis, or -1
func (a Axis) Index(v experiment.Value) int {
	for i, x := range a.Values {
		if x.Equal(v) {
			return i
		}
	}
	return -1
}

// Floats returns numeric coordinates, NaN for non-numeric ones
func (a Axis) Floats() []float64 {
	out := make([]float64, len(a.Values))
	for i, v := range a.Values {
		out[i] = v.Float64()
	}
	return out
}

// Dataset holds one dense array per variable, all sharing Axes
type Dataset struct {
	Axes []Axis
	Vars map[string][]float64
}

// NewDataset allocates NaN-filled arrays for the given variables
func NewDataset(axes []Axis, variables []string) *Dataset {
	ds := &Dataset{Axes: axes, Vars: make(map[string][]float64, len(variables))}
	size := ds.Size()
	for _, v := range variables {
		arr := make([]float64, size)
		for i := range arr {
			arr[i] = math.NaN()
		}
		ds.Vars[v] = arr
	}
	return ds
}

// Shape returns the length of each axis
func (ds *Dataset) Shape() []int {
	shape := make([]int, len(ds.Axes))
	for i, a := range ds.Axes {
		shape[i] = len(a.Values)
	}
	return shape
}

// Size is the number of cells of each variable array
func (ds *Dataset) Size() int {
	size := 1
	for _, a := range ds.Axes {
		size *= len(a.Values)
	}
	return size
}

// Axis looks an axis up by name
func (ds *Dataset) Axis(name string) (Axis, int, bool) {
	for i, a := range ds.Axes {
		if a.Name == name {
			return a, i, true
		}
	}
	return Axis{}, -1, false
}

// AxisNames returns the axis names in storage order
func (ds *Dataset) AxisNames() []string {
	names := make([]string, len(ds.Axes))
	for i, a := range ds.Axes {
		names[i] = a.Name
	}
	return names
}

// Variables returns the variable names sorted
func (ds *Dataset) Variables() []string {
	names := make([]string, 0, len(ds.Vars))
	for k := range ds.Vars {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Sel selects one coordinate on each named axis and drops those axes.
// The result owns its arrays; ds is left untouched.
func (ds *Dataset) Sel(coords map[string]experiment.Value) (*Dataset, error) {
	fixed := make([]int, len(ds.Axes))
	for i := range fixed {
		fixed[i] = -1
	}
	for name, v := range coords {
		axis, pos, ok := ds.Axis(name)
		if !ok {
			return nil, errors.InvalidInput(fmt.Sprintf("unknown axis %q (axes: %v)", name, ds.AxisNames()))
		}
		idx := axis.Index(v)
		if idx < 0 {
			return nil, errors.NotFound(fmt.Sprintf("coordinate %s=%s", name, v))
		}
		fixed[pos] = idx
	}

	var keptAxes []Axis
	for i, a := range ds.Axes {
		if fixed[i] < 0 {
			keptAxes = append(keptAxes, a)
		}
	}
	out := &Dataset{Axes: keptAxes, Vars: make(map[string][]float64, len(ds.Vars))}
	outSize := out.Size()

	shape := ds.Shape()
	for name, arr := range ds.Vars {
		dst := make([]float64, 0, outSize)
		forEachIndex(shape, func(flat int, idx []int) {
			for i, f := range fixed {
				if f >= 0 && idx[i] != f {
					return
				}
			}
			dst = append(dst, arr[flat])
		})
		out.Vars[name] = dst
	}
	return out, nil
}

// Values selects coords and returns the remaining cells of one variable.
// Selecting every axis but time yields that configuration's time series.
func (ds *Dataset) Values(variable string, coords map[string]experiment.Value) ([]float64, error) {
	if _, ok := ds.Vars[variable]; !ok {
		return nil, errors.NotFound(fmt.Sprintf("variable %q", variable))
	}
	sel, err := ds.Sel(coords)
	if err != nil {
		return nil, err
	}
	return sel.Vars[variable], nil
}

// Each visits every cell in row-major order with its axis coordinates.
// The coords slice is reused between calls.
func (ds *Dataset) Each(fn func(flat int, coords []experiment.Value)) {
	coords := make([]experiment.Value, len(ds.Axes))
	forEachIndex(ds.Shape(), func(flat int, idx []int) {
		for d, i := range idx {
			coords[d] = ds.Axes[d].Values[i]
		}
		fn(flat, coords)
	})
}

// forEachIndex walks every multi-index of shape in row-major order
func forEachIndex(shape []int, fn func(flat int, idx []int)) {
	total := 1
	for _, n := range shape {
		total *= n
	}
	if total == 0 {
		return
	}
	idx := make([]int, len(shape))
	for flat := 0; flat < total; flat++ {
		fn(flat, idx)
		for d := len(shape) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
}

func strides(shape []int) []int {
	s := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= shape[i]
	}
	return s
}
