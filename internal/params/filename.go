// Package params extracts experiment parameters from run file names and from
// the free-text headers that simulators write at the top of their exports.
package params

import (
	"path/filepath"
	"strconv"
	"strings"

	"simagg/domain/experiment"
)

// ParseFileName extracts the configuration parameters and the seed from a
// name shaped like prefix_key1-value1_key2-value2_..._seed-N.csv.
//
// Each underscore separated token containing a hyphen is split on its first
// hyphen, so negative values survive ("bias--0.5"). Every value must parse as
// a float and seed must appear exactly once; otherwise ok is false and the
// caller skips the file. An empty prefix accepts any leading token.
func ParseFileName(name, prefix string) (ps experiment.ParameterSet, seed float64, ok bool) {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	if prefix != "" {
		if !strings.HasPrefix(base, prefix+"_") {
			return nil, 0, false
		}
		base = strings.TrimPrefix(base, prefix+"_")
	}
	if base == "" {
		return nil, 0, false
	}

	ps = make(experiment.ParameterSet)
	seenSeed := false
	for _, token := range strings.Split(base, "_") {
		key, raw, found := strings.Cut(token, "-")
		if !found || key == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, 0, false
		}
		if key == experiment.SeedParam {
			if seenSeed {
				return nil, 0, false
			}
			seed, seenSeed = v, true
			continue
		}
		ps[key] = experiment.Float(v)
	}
	if !seenSeed {
		return nil, 0, false
	}
	return ps, seed, true
}

// FormatFileName is the inverse of ParseFileName, with keys in sorted order
// and the seed last. Used to generate fixtures and synthetic batches.
func FormatFileName(prefix string, ps map[string]float64, seed float64) string {
	set := experiment.Floats(ps)
	var b strings.Builder
	b.WriteString(prefix)
	for _, k := range set.Keys() {
		b.WriteString("_")
		b.WriteString(k)
		b.WriteString("-")
		b.WriteString(strconv.FormatFloat(ps[k], 'g', -1, 64))
	}
	b.WriteString("_seed-")
	b.WriteString(strconv.FormatFloat(seed, 'g', -1, 64))
	b.WriteString(".csv")
	return b.String()
}
