package grouping

import (
	"math"

	"simagg/domain/experiment"
)

// Concat stacks the tables of runs row-wise
func Concat(runs []*experiment.Run) *experiment.Table {
	tables := make([]*experiment.Table, len(runs))
	for i, r := range runs {
		tables[i] = r.Table
	}
	return ConcatTables(tables)
}

// ConcatTables stacks tables row-wise. The result carries the union of
// columns in first-seen order; cells of columns a table lacks are NaN.
func ConcatTables(tables []*experiment.Table) *experiment.Table {
	var columns []string
	seen := map[string]bool{}
	total := 0
	for _, t := range tables {
		total += t.Len()
		for _, c := range t.Columns {
			if !seen[c] {
				seen[c] = true
				columns = append(columns, c)
			}
		}
	}

	out := experiment.NewTable(columns)
	out.Rows = make([][]float64, 0, total)
	for _, t := range tables {
		mapping := make([]int, len(columns))
		for i, c := range columns {
			mapping[i] = t.ColumnIndex(c)
		}
		for _, row := range t.Rows {
			merged := make([]float64, len(columns))
			for i, src := range mapping {
				if src >= 0 && src < len(row) {
					merged[i] = row[src]
				} else {
					merged[i] = math.NaN()
				}
			}
			out.Rows = append(out.Rows, merged)
		}
	}
	return out
}
