// Package excel exports aggregates and convergence statistics as workbooks
// and CSV tables.
package excel

import (
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"simagg/domain/experiment"
	"simagg/internal/aggregate"
)

const maxSheetName = 31

// ConvergenceSheet is one block of convergence records, written to its own sheet
type ConvergenceSheet struct {
	Name    string
	Records []experiment.ConvergenceRecord
}

// Workbook accumulates sheets and writes them in one go
type Workbook struct {
	f      *excelize.File
	used   map[string]bool
	sheets int
	bold   int
}

// NewWorkbook creates an empty workbook
func NewWorkbook() (*Workbook, error) {
	f := excelize.NewFile()
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}
	return &Workbook{f: f, used: map[string]bool{}, bold: bold}, nil
}

// AddConvergence writes one row per record: group values, then mean, min,
// max and run count. Groups that never converged keep blank times.
func (w *Workbook) AddConvergence(sheet ConvergenceSheet) error {
	name, err := w.sheet(sheet.Name)
	if err != nil {
		return err
	}
	var groupBy []string
	if len(sheet.Records) > 0 {
		groupBy = sheet.Records[0].GroupBy
	}
	header := append(append([]string(nil), groupBy...), "mean", "min", "max", "runs")
	if err := w.header(name, header); err != nil {
		return err
	}
	for i, rec := range sheet.Records {
		row := make([]interface{}, 0, len(header))
		for _, v := range rec.Values {
			row = append(row, cell(v))
		}
		row = append(row, cell(rec.Mean), cell(rec.Min), cell(rec.Max), rec.Runs)
		if err := w.row(name, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

// AddAggregate writes one sheet per variable of the folded datasets. Each
// row holds the coordinates of a cell followed by its mean and std.
func (w *Workbook) AddAggregate(prefix string, mean, std *aggregate.Dataset) error {
	axes := mean.AxisNames()
	for _, variable := range mean.Variables() {
		name, err := w.sheet(prefix + "_" + variable)
		if err != nil {
			return err
		}
		header := append(append([]string(nil), axes...), "mean", "std")
		if err := w.header(name, header); err != nil {
			return err
		}

		means := mean.Vars[variable]
		stds := std.Vars[variable]
		var rowErr error
		rowIdx := 2
		mean.Each(func(flat int, coords []experiment.Value) {
			if rowErr != nil {
				return
			}
			row := make([]interface{}, 0, len(header))
			for _, c := range coords {
				row = append(row, c.Interface())
			}
			s := math.NaN()
			if flat < len(stds) {
				s = stds[flat]
			}
			row = append(row, cell(means[flat]), cell(s))
			rowErr = w.row(name, rowIdx, row)
			rowIdx++
		})
		if rowErr != nil {
			return rowErr
		}
	}
	return nil
}

// SaveAs writes the workbook to path and releases it
func (w *Workbook) SaveAs(path string) error {
	start := time.Now()
	defer w.f.Close()
	if w.sheets == 0 {
		if err := w.header("Sheet1", []string{"empty"}); err != nil {
			return err
		}
	}
	if err := w.f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", path, err)
	}
	log.Printf("[Export] Wrote %d sheets to %s in %.2fms", w.sheets, path,
		float64(time.Since(start).Nanoseconds())/1e6)
	return nil
}

// sheet creates a uniquely named sheet, reusing the default Sheet1 first
func (w *Workbook) sheet(raw string) (string, error) {
	name := sheetName(raw)
	base := name
	for i := 2; w.used[name]; i++ {
		suffix := fmt.Sprintf("~%d", i)
		name = truncate(base, maxSheetName-len(suffix)) + suffix
	}
	w.used[name] = true

	if w.sheets == 0 {
		if err := w.f.SetSheetName("Sheet1", name); err != nil {
			return "", fmt.Errorf("failed to rename sheet: %w", err)
		}
	} else if _, err := w.f.NewSheet(name); err != nil {
		return "", fmt.Errorf("failed to create sheet %s: %w", name, err)
	}
	w.sheets++
	return name, nil
}

func (w *Workbook) header(sheet string, cols []string) error {
	row := make([]interface{}, len(cols))
	for i, c := range cols {
		row[i] = c
	}
	if err := w.row(sheet, 1, row); err != nil {
		return err
	}
	last, _ := excelize.CoordinatesToCellName(len(cols), 1)
	return w.f.SetCellStyle(sheet, "A1", last, w.bold)
}

func (w *Workbook) row(sheet string, idx int, values []interface{}) error {
	start, err := excelize.CoordinatesToCellName(1, idx)
	if err != nil {
		return err
	}
	return w.f.SetSheetRow(sheet, start, &values)
}

// cell leaves NaN and infinities blank
func cell(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// sheetName maps an arbitrary label onto the characters Excel allows
func sheetName(raw string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '[', ']', ':', '*', '?', '/', '\\':
			return '_'
		}
		return r
	}, strings.Trim(raw, "'"))
	if name == "" {
		name = "sheet"
	}
	return truncate(name, maxSheetName)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
