// Package simfile reads simulator run exports: whitespace separated numeric
// tables preceded by comment or free-text header lines.
package simfile

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"simagg/domain/experiment"
	"simagg/internal"
	"simagg/internal/errors"
)

// HeaderVariant selects how column names are located in a file
type HeaderVariant string

const (
	// CommentHeader takes columns from the first "# time ..." line; every
	// other non-comment line is data.
	CommentHeader HeaderVariant = "comment"
	// DataBlock takes columns from the last line preceding the first line
	// that starts with a digit; only digit-led lines are data.
	DataBlock HeaderVariant = "block"
)

const timeHeaderMarker = "# time"

// ParseVariant validates a variant name coming from configuration
func ParseVariant(s string) (HeaderVariant, error) {
	switch HeaderVariant(strings.ToLower(strings.TrimSpace(s))) {
	case CommentHeader, "":
		return CommentHeader, nil
	case DataBlock:
		return DataBlock, nil
	default:
		return "", errors.InvalidInput(fmt.Sprintf("unknown header variant %q", s))
	}
}

// ReadCommentHeader parses a table whose header is the first line starting
// with "# time". A malformed numeric field fails the whole table.
func ReadCommentHeader(r io.Reader, source string) (*experiment.Table, error) {
	scanner := newScanner(r)
	var table *experiment.Table
	var pending [][]float64
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		trimmed := strings.TrimSpace(scanner.Text())
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			if table == nil && strings.HasPrefix(trimmed, timeHeaderMarker) {
				table = experiment.NewTable(headerTokens(trimmed))
			}
			continue
		}
		row, err := parseRow(trimmed)
		if err != nil {
			return nil, errors.ParseError(source, lineNo, err)
		}
		pending = append(pending, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", source)
	}
	if table == nil {
		return nil, errors.New(errors.CodeParseError, fmt.Sprintf("%s: no %q header line", source, timeHeaderMarker))
	}
	table.Rows = alignRows(pending, len(table.Columns))
	return table, nil
}

// ReadDataBlock parses a table whose column names sit on the line right
// before the first digit-led line. Non digit-led lines after the header are
// ignored.
func ReadDataBlock(r io.Reader, source string) (*experiment.Table, error) {
	scanner := newScanner(r)
	var lastHeader string
	var table *experiment.Table
	var pending [][]float64
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if !startsWithDigit(line) {
			if table == nil {
				lastHeader = line
			}
			continue
		}
		if table == nil {
			table = experiment.NewTable(headerTokens(lastHeader))
		}
		row, err := parseRow(line)
		if err != nil {
			return nil, errors.ParseError(source, lineNo, err)
		}
		pending = append(pending, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", source)
	}
	if table == nil {
		table = experiment.NewTable(headerTokens(lastHeader))
	}
	table.Rows = alignRows(pending, len(table.Columns))
	return table, nil
}

// ReadTable opens path and parses it with the requested variant
func ReadTable(path string, variant HeaderVariant) (*experiment.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	start := time.Now()
	var table *experiment.Table
	switch variant {
	case DataBlock:
		table, err = ReadDataBlock(f, path)
	default:
		table, err = ReadCommentHeader(f, path)
	}
	if err != nil {
		return nil, err
	}
	internal.DefaultLogger.Debug("[SimFile] %s read in %.2fms (%d rows, %d columns)",
		filepath.Base(path), float64(time.Since(start).Nanoseconds())/1e6, table.Len(), len(table.Columns))
	return table, nil
}

// ListExperimentFiles returns the sorted paths of <prefix>_*.csv in dir.
// A missing directory is fatal: nothing can be aggregated without input.
func ListExperimentFiles(dir, prefix string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, errors.NotFound(fmt.Sprintf("directory %s", dir))
	}
	pattern := filepath.Join(dir, prefix+"_*.csv")
	if prefix == "" {
		pattern = filepath.Join(dir, "*.csv")
	}
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid file pattern %s", pattern)
	}
	sort.Strings(files)
	return files, nil
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return scanner
}

func headerTokens(line string) []string {
	line = strings.TrimSpace(line)
	line = strings.TrimLeft(line, "#")
	return strings.Fields(line)
}

func parseRow(line string) ([]float64, error) {
	fields := strings.Fields(line)
	row := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		row[i] = v
	}
	return row, nil
}

// alignRows pads short rows with NaN and truncates long ones so that every
// row lines up with the header.
func alignRows(rows [][]float64, width int) [][]float64 {
	for i, row := range rows {
		switch {
		case len(row) > width:
			rows[i] = row[:width]
		case len(row) < width:
			padded := make([]float64, width)
			copy(padded, row)
			for j := len(row); j < width; j++ {
				padded[j] = math.NaN()
			}
			rows[i] = padded
		}
	}
	return rows
}

func startsWithDigit(line string) bool {
	return line != "" && line[0] >= '0' && line[0] <= '9'
}

// ModTimes returns the modification time of every experiment file in dir
func ModTimes(dir, prefix string) (map[string]time.Time, error) {
	files, err := ListExperimentFiles(dir, prefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(files))
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		out[filepath.Base(f)] = info.ModTime()
	}
	return out, nil
}
