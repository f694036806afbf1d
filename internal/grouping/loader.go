// Package grouping loads the runs of an experiment batch and organizes them
// by parameter configuration.
package grouping

import (
	"context"
	"log"
	"math"
	"path/filepath"
	"sort"
	"time"

	"simagg/adapters/simfile"
	"simagg/domain/experiment"
	"simagg/internal"
	"simagg/internal/errors"
	"simagg/internal/params"
)

// LoaderConfig points a Loader at one experiment's files
type LoaderConfig struct {
	Dir     string
	Prefix  string
	Variant simfile.HeaderVariant
}

// LoadReport summarizes one population pass
type LoadReport struct {
	Files          int
	Loaded         int
	Unparseable    []string
	Drifted        []string
	Failed         map[string]error
	Configurations int
	Duration       time.Duration
}

// Loader is the batch aggregator: empty on construction, filled once by Load,
// read-only afterwards.
type Loader struct {
	cfg    LoaderConfig
	canon  params.Canon
	groups *experiment.GroupedRuns
	loaded bool
}

// NewLoader creates an empty loader
func NewLoader(cfg LoaderConfig) *Loader {
	if cfg.Variant == "" {
		cfg.Variant = simfile.CommentHeader
	}
	return &Loader{
		cfg:    cfg,
		groups: experiment.NewGroupedRuns(),
	}
}

// Load performs the single population pass over the experiment's files.
// Files whose names do not parse are skipped; a file that parses but cannot
// be read is recorded in the report and skipped as well. Files introducing a
// parameter set different from the first parsed file are skipped: all files
// of a batch must share the same parameter names.
func (l *Loader) Load(ctx context.Context) (*LoadReport, error) {
	if l.loaded {
		return nil, errors.InvalidInput("loader already populated")
	}
	start := time.Now()

	files, err := simfile.ListExperimentFiles(l.cfg.Dir, l.cfg.Prefix)
	if err != nil {
		return nil, err
	}
	log.Printf("[Loader] Found %d CSV files in %s", len(files), l.cfg.Dir)

	report := &LoadReport{Files: len(files), Failed: make(map[string]error)}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ps, seed, ok := params.ParseFileName(filepath.Base(path), l.cfg.Prefix)
		if !ok {
			report.Unparseable = append(report.Unparseable, path)
			continue
		}
		if l.canon.Freeze(ps) {
			log.Printf("[Loader] Parameter names: %v", l.canon.Names())
		} else if !l.canon.Matches(ps) {
			internal.DefaultLogger.Warn("[Loader] Skipping %s: parameters %v differ from %v", filepath.Base(path), ps.Keys(), l.canon.Names())
			report.Drifted = append(report.Drifted, path)
			continue
		}

		table, err := simfile.ReadTable(path, l.cfg.Variant)
		if err != nil {
			internal.DefaultLogger.Warn("[Loader] Failed to load %s: %v", filepath.Base(path), err)
			report.Failed[path] = err
			continue
		}

		l.add(&experiment.Run{Table: table, Params: ps, Seed: seed, Source: path})
		report.Loaded++
	}

	l.loaded = true
	report.Configurations = l.groups.Len()
	report.Duration = time.Since(start)
	log.Printf("[Loader] Parameter combinations found: %d (%d runs) in %.2fms",
		report.Configurations, report.Loaded, float64(report.Duration.Nanoseconds())/1e6)
	return report, nil
}

// Add inserts an already loaded run, freezing the canonical order if this is
// the first one. Used for in-memory batches.
func (l *Loader) Add(run *experiment.Run) error {
	if !l.canon.Freeze(run.Params) && !l.canon.Matches(run.Params) {
		return errors.InvalidInput("run parameters differ from the batch's parameter names")
	}
	l.add(run)
	l.loaded = true
	return nil
}

func (l *Loader) add(run *experiment.Run) {
	for _, name := range run.Params.Keys() {
		run.AppendConstantColumn(name, run.Params[name].Float64())
	}
	run.AppendConstantColumn(experiment.SeedParam, run.Seed)
	l.groups.Add(l.canon.Key(run.Params), run)
}

// ParamNames returns the canonical parameter names
func (l *Loader) ParamNames() []string {
	return l.canon.Names()
}

// Groups exposes the grouped runs
func (l *Loader) Groups() *experiment.GroupedRuns {
	return l.groups
}

// Configurations returns every configuration as named values, sorted by key
func (l *Loader) Configurations() []map[string]float64 {
	keys := l.groups.Keys()
	sort.Slice(keys, func(i, j int) bool { return lessKey(keys[i], keys[j]) })
	out := make([]map[string]float64, len(keys))
	for i, k := range keys {
		out[i] = l.canon.Params(k)
	}
	return out
}

// ByParameters returns the runs of the configuration identified by values.
// Every canonical name is required; an unknown configuration yields an empty
// result.
func (l *Loader) ByParameters(values map[string]float64) ([]*experiment.Run, error) {
	names := l.canon.Names()
	key := make(experiment.ConfigurationKey, len(names))
	for i, n := range names {
		v, ok := values[n]
		if !ok {
			return nil, errors.MissingParameter(n, names)
		}
		key[i] = v
	}
	runs := l.groups.Get(key)
	if runs == nil {
		return []*experiment.Run{}, nil
	}
	return runs, nil
}

// Filter concatenates the runs of every configuration that matches filters on
// the given names; names not mentioned are unconstrained. Filter names that
// are not parameters of the batch match nothing.
func (l *Loader) Filter(filters map[string]float64) []*experiment.Run {
	names := l.canon.Names()
	position := make(map[string]int, len(names))
	for i, n := range names {
		position[n] = i
	}

	out := []*experiment.Run{}
	for _, key := range l.groups.Keys() {
		if matches(key, position, filters) {
			out = append(out, l.groups.Get(key)...)
		}
	}
	return out
}

// CombinedTable flattens every run matching filters into one table
func (l *Loader) CombinedTable(filters map[string]float64) *experiment.Table {
	return Concat(l.Filter(filters))
}

// LabeledRun pairs a run's table with its full coordinates (seed included)
type LabeledRun struct {
	Coords experiment.ParameterSet
	Table  *experiment.Table
	Source string
}

// LabeledRuns returns every run with its coordinates, in discovery order
func (l *Loader) LabeledRuns() []LabeledRun {
	all := l.groups.All()
	out := make([]LabeledRun, len(all))
	for i, r := range all {
		out[i] = LabeledRun{Coords: r.Coordinates(), Table: r.Table, Source: r.Source}
	}
	return out
}

func matches(key experiment.ConfigurationKey, position map[string]int, filters map[string]float64) bool {
	for name, want := range filters {
		i, ok := position[name]
		if !ok || key[i] != want {
			return false
		}
	}
	return true
}

func lessKey(a, b experiment.ConfigurationKey) bool {
	for i := range a {
		if i >= len(b) {
			return false
		}
		if a[i] != b[i] {
			return a[i] < b[i] || (math.IsNaN(a[i]) && !math.IsNaN(b[i]))
		}
	}
	return len(a) < len(b)
}
