package aggregate

import (
	"context"
	"log"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"simagg/domain/experiment"
	"simagg/internal"
	"simagg/internal/grouping"
	"simagg/internal/params"
	"simagg/internal/resample"
)

// Builder turns labeled runs into a dense dataset over the parameter domain
// and a shared time grid.
type Builder struct {
	axes     []Axis
	timeName string
	grid     []float64
	workers  int
}

// NewBuilder prepares axes from every parameter in domain (sorted by name,
// values sorted) followed by the time axis.
func NewBuilder(domain params.Domain, grid []float64, timeName string) *Builder {
	var axes []Axis
	for _, name := range domain.Names() {
		if name == timeName {
			continue
		}
		axes = append(axes, Axis{Name: name, Values: domain.Sorted(name)})
	}
	timeValues := make([]experiment.Value, len(grid))
	for i, g := range grid {
		timeValues[i] = experiment.Float(g)
	}
	axes = append(axes, Axis{Name: timeName, Values: timeValues})

	return &Builder{
		axes:     axes,
		timeName: timeName,
		grid:     append([]float64(nil), grid...),
		workers:  runtime.GOMAXPROCS(0),
	}
}

// WithWorkers bounds the number of runs resampled concurrently
func (b *Builder) WithWorkers(n int) *Builder {
	if n > 0 {
		b.workers = n
	}
	return b
}

// Build allocates one NaN array per metric, resamples every run onto the
// grid and writes it at the cell selected by its coordinates. Metrics are
// the columns of the first run that are neither time nor a parameter axis.
// Runs whose coordinates do not fall on the axes are skipped; cells nobody
// writes stay NaN.
func (b *Builder) Build(ctx context.Context, runs []grouping.LabeledRun) (*Dataset, error) {
	start := time.Now()
	variables := b.metrics(runs)
	ds := NewDataset(b.axes, variables)
	if len(runs) == 0 {
		return ds, nil
	}

	resampled := make([]*experiment.Table, len(runs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i := range runs {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			resampled[i] = resample.Table(runs[i].Table, b.timeName, b.grid)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	shape := ds.Shape()
	st := strides(shape)
	timeAxis := len(b.axes) - 1
	written := 0
	for i, run := range runs {
		base, ok := b.offset(run.Coords, st)
		if !ok {
			internal.DefaultLogger.Warn("[Aggregate] Skipping %s: coordinates %v not on axes", filepath.Base(run.Source), run.Coords)
			continue
		}
		table := resampled[i]
		for _, v := range variables {
			col := table.ColumnIndex(v)
			if col < 0 {
				continue
			}
			arr := ds.Vars[v]
			for t, row := range table.Rows {
				arr[base+t*st[timeAxis]] = row[col]
			}
		}
		written++
	}

	log.Printf("[Aggregate] Built %d variables over shape %v from %d/%d runs in %.2fms",
		len(variables), shape, written, len(runs), float64(time.Since(start).Nanoseconds())/1e6)
	return ds, nil
}

func (b *Builder) metrics(runs []grouping.LabeledRun) []string {
	if len(runs) == 0 {
		return nil
	}
	isAxis := make(map[string]bool, len(b.axes))
	for _, a := range b.axes {
		isAxis[a.Name] = true
	}
	var vars []string
	for _, c := range runs[0].Table.Columns {
		if !isAxis[c] {
			vars = append(vars, c)
		}
	}
	return vars
}

// offset computes the flat index of time zero for the given coordinates
func (b *Builder) offset(coords experiment.ParameterSet, st []int) (int, bool) {
	base := 0
	for i, a := range b.axes[:len(b.axes)-1] {
		v, ok := coords[a.Name]
		if !ok {
			return 0, false
		}
		idx := a.Index(v)
		if idx < 0 {
			return 0, false
		}
		base += idx * st[i]
	}
	return base, true
}
