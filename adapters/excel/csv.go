package excel

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"

	"simagg/domain/experiment"
)

// WriteTableCSV writes a table with a header row. NaN cells are empty.
func WriteTableCSV(w io.Writer, t *experiment.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) && !math.IsNaN(row[i]) {
				record[i] = strconv.FormatFloat(row[i], 'g', -1, 64)
			}
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
