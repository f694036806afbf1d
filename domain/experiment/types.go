package experiment

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// SeedParam is the nuisance parameter folded away by aggregation
const SeedParam = "seed"

// ParameterSet maps a parameter name to its value for one input file
type ParameterSet map[string]Value

// Keys returns the parameter names in lexicographic order
func (ps ParameterSet) Keys() []string {
	keys := make([]string, 0, len(ps))
	for k := range ps {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy
func (ps ParameterSet) Clone() ParameterSet {
	out := make(ParameterSet, len(ps))
	for k, v := range ps {
		out[k] = v
	}
	return out
}

// Without returns a copy lacking the named parameters
func (ps ParameterSet) Without(names ...string) ParameterSet {
	out := ps.Clone()
	for _, n := range names {
		delete(out, n)
	}
	return out
}

// Floats converts a numeric-only parameter set, as produced from file names
func Floats(m map[string]float64) ParameterSet {
	ps := make(ParameterSet, len(m))
	for k, v := range m {
		ps[k] = Float(v)
	}
	return ps
}

// ConfigurationKey is the ordered tuple of configuration values of a run.
// The order is given by the batch's canonical parameter names.
type ConfigurationKey []float64

// String encodes the tuple so it can be used as a map key
func (k ConfigurationKey) String() string {
	parts := make([]string, len(k))
	for i, v := range k {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Table is a row-major numeric table with named columns
type Table struct {
	Columns []string
	Rows    [][]float64
	index   map[string]int
}

// NewTable creates an empty table with the given columns
func NewTable(columns []string) *Table {
	t := &Table{Columns: append([]string(nil), columns...)}
	t.reindex()
	return t
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		if _, dup := t.index[c]; !dup {
			t.index[c] = i
		}
	}
}

// ColumnIndex returns the position of a column or -1
func (t *Table) ColumnIndex(name string) int {
	if t.index == nil {
		t.reindex()
	}
	if i, ok := t.index[name]; ok {
		return i
	}
	return -1
}

// HasColumn reports whether the column exists
func (t *Table) HasColumn(name string) bool {
	return t.ColumnIndex(name) >= 0
}

// Len returns the number of rows
func (t *Table) Len() int {
	return len(t.Rows)
}

// Column copies out one column; nil if it does not exist
func (t *Table) Column(name string) []float64 {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil
	}
	out := make([]float64, len(t.Rows))
	for i, row := range t.Rows {
		if idx < len(row) {
			out[i] = row[idx]
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// Value returns a single cell, NaN when out of range
func (t *Table) Value(row int, column string) float64 {
	idx := t.ColumnIndex(column)
	if idx < 0 || row < 0 || row >= len(t.Rows) || idx >= len(t.Rows[row]) {
		return math.NaN()
	}
	return t.Rows[row][idx]
}

// AppendConstantColumn adds (or overwrites) a column holding v on every row
func (t *Table) AppendConstantColumn(name string, v float64) {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		t.Columns = append(t.Columns, name)
		idx = len(t.Columns) - 1
		t.index[name] = idx
	}
	for i, row := range t.Rows {
		for len(row) <= idx {
			row = append(row, math.NaN())
		}
		row[idx] = v
		t.Rows[i] = row
	}
}

// Run is one simulation execution: a time series plus the configuration and
// seed that produced it
type Run struct {
	*Table
	Params ParameterSet
	Seed   float64
	Source string
}

// Coordinates returns the configuration parameters together with the seed
func (r *Run) Coordinates() ParameterSet {
	coords := r.Params.Clone()
	coords[SeedParam] = Float(r.Seed)
	return coords
}

// GroupedRuns keeps runs per configuration in discovery order
type GroupedRuns struct {
	order []string
	keys  map[string]ConfigurationKey
	runs  map[string][]*Run
}

// NewGroupedRuns creates an empty grouping
func NewGroupedRuns() *GroupedRuns {
	return &GroupedRuns{
		keys: make(map[string]ConfigurationKey),
		runs: make(map[string][]*Run),
	}
}

// Add appends a run under its configuration key
func (g *GroupedRuns) Add(key ConfigurationKey, run *Run) {
	id := key.String()
	if _, ok := g.runs[id]; !ok {
		g.order = append(g.order, id)
		g.keys[id] = append(ConfigurationKey(nil), key...)
	}
	g.runs[id] = append(g.runs[id], run)
}

// Get returns the runs of one configuration, nil if unknown
func (g *GroupedRuns) Get(key ConfigurationKey) []*Run {
	return g.runs[key.String()]
}

// Keys returns every configuration in discovery order
func (g *GroupedRuns) Keys() []ConfigurationKey {
	out := make([]ConfigurationKey, len(g.order))
	for i, id := range g.order {
		out[i] = g.keys[id]
	}
	return out
}

// Len returns the number of configurations
func (g *GroupedRuns) Len() int {
	return len(g.order)
}

// All flattens every run, configuration by configuration
func (g *GroupedRuns) All() []*Run {
	var out []*Run
	for _, id := range g.order {
		out = append(out, g.runs[id]...)
	}
	return out
}

// ConvergenceRecord summarizes convergence times for one parameter group.
// NaN statistics mean no run of the group converged.
type ConvergenceRecord struct {
	GroupBy []string
	Values  []float64
	Mean    float64
	Min     float64
	Max     float64
	Runs    int
}

// Param returns the group's value for a grouping parameter
func (r ConvergenceRecord) Param(name string) (float64, bool) {
	for i, n := range r.GroupBy {
		if n == name {
			return r.Values[i], true
		}
	}
	return math.NaN(), false
}

// Converged reports whether at least one run of the group converged
func (r ConvergenceRecord) Converged() bool {
	return !math.IsNaN(r.Mean)
}
