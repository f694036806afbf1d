package params

import (
	"bufio"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"simagg/domain/experiment"
	"simagg/internal/errors"
)

// InfinitySentinel replaces the literal Infinity some simulators print for
// unbounded parameters.
const InfinitySentinel = math.MaxFloat64

var (
	assignmentPattern = regexp.MustCompile(`([a-zA-Z._-]+) = ([^,]*),?`)
	numericPattern    = regexp.MustCompile(`^[-+]?\d*\.?\d+(?:[eE][-+]?\d+)?$`)
)

// ParseHeader scans a data file header for the first line carrying
// "name = value" assignments and returns them as a ParameterSet.
// Reaching a line that starts with a digit first means the file has no
// parameter header; the result is then an empty set, not an error.
func ParseHeader(r io.Reader) (experiment.ParameterSet, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	sentinel := strconv.FormatFloat(InfinitySentinel, 'g', -1, 64)
	for scanner.Scan() {
		line := strings.ReplaceAll(scanner.Text(), "Infinity", sentinel)
		matches := assignmentPattern.FindAllStringSubmatch(line, -1)
		if len(matches) > 0 {
			ps := make(experiment.ParameterSet, len(matches))
			for _, m := range matches {
				ps[m[1]] = Coerce(m[2])
			}
			return ps, nil
		}
		if startsWithDigit(line) {
			return experiment.ParameterSet{}, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to scan header")
	}
	return experiment.ParameterSet{}, nil
}

// ParseHeaderFile opens path and parses its header
func ParseHeaderFile(path string) (experiment.ParameterSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()
	return ParseHeader(f)
}

// Coerce interprets a raw header value as a number, a boolean or a string
func Coerce(raw string) experiment.Value {
	s := strings.TrimSpace(raw)
	if numericPattern.MatchString(s) {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return experiment.Float(v)
		}
	}
	switch strings.ToLower(s) {
	case "true":
		return experiment.Bool(true)
	case "false":
		return experiment.Bool(false)
	}
	return experiment.String(s)
}

func startsWithDigit(line string) bool {
	return line != "" && line[0] >= '0' && line[0] <= '9'
}
