package params

import (
	"math"
	"sort"

	"simagg/domain/experiment"
)

// Canon holds the canonical parameter ordering of a batch. The ordering is
// frozen by the first non-empty ParameterSet and never changes afterwards.
type Canon struct {
	names []string
}

// Frozen reports whether an ordering has been fixed
func (c *Canon) Frozen() bool {
	return c.names != nil
}

// Freeze fixes the ordering from ps (minus seed) unless already frozen.
// It reports whether this call performed the freeze.
func (c *Canon) Freeze(ps experiment.ParameterSet) bool {
	if c.Frozen() {
		return false
	}
	names := ps.Without(experiment.SeedParam).Keys()
	if names == nil {
		names = []string{}
	}
	c.names = names
	return true
}

// Names returns a copy of the canonical names
func (c *Canon) Names() []string {
	return append([]string(nil), c.names...)
}

// Matches reports whether ps carries exactly the canonical names, seed aside
func (c *Canon) Matches(ps experiment.ParameterSet) bool {
	conf := ps.Without(experiment.SeedParam)
	if len(conf) != len(c.names) {
		return false
	}
	for _, n := range c.names {
		if _, ok := conf[n]; !ok {
			return false
		}
	}
	return true
}

// Key builds the configuration key of ps. Names absent from ps produce NaN.
func (c *Canon) Key(ps experiment.ParameterSet) experiment.ConfigurationKey {
	key := make(experiment.ConfigurationKey, len(c.names))
	for i, n := range c.names {
		if v, ok := ps[n]; ok {
			key[i] = v.Float64()
		} else {
			key[i] = math.NaN()
		}
	}
	return key
}

// Params maps a configuration key back to named values
func (c *Canon) Params(key experiment.ConfigurationKey) map[string]float64 {
	out := make(map[string]float64, len(c.names))
	for i, n := range c.names {
		if i < len(key) {
			out[n] = key[i]
		}
	}
	return out
}

// Domain accumulates every distinct value seen per parameter name across
// the files of an experiment.
type Domain map[string][]experiment.Value

// Merge adds the values of ps into the domain, keeping names from both
func (d Domain) Merge(ps experiment.ParameterSet) {
	for k, v := range ps {
		seen := false
		for _, existing := range d[k] {
			if existing.Equal(v) {
				seen = true
				break
			}
		}
		if !seen {
			d[k] = append(d[k], v)
		}
	}
}

// Names returns the parameter names in lexicographic order
func (d Domain) Names() []string {
	names := make([]string, 0, len(d))
	for k := range d {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Sorted returns the distinct values of one parameter, sorted
func (d Domain) Sorted(name string) []experiment.Value {
	vals := append([]experiment.Value(nil), d[name]...)
	return experiment.SortValues(vals)
}
