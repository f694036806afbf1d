package params

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simagg/domain/experiment"
)

func TestParseFileName(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		prefix   string
		wantOK   bool
		wantSeed float64
		want     map[string]float64
	}{
		{"basic", "simulation_size-10_range-1.5_seed-3.csv", "simulation", true, 3, map[string]float64{"size": 10, "range": 1.5}},
		{"token order irrelevant", "simulation_seed-7_range-2_size-1.csv", "simulation", true, 7, map[string]float64{"size": 1, "range": 2}},
		{"negative value", "simulation_bias--0.5_seed-1.csv", "simulation", true, 1, map[string]float64{"bias": -0.5}},
		{"scientific notation", "simulation_rate-1e-3_seed-2.0.csv", "simulation", true, 2, map[string]float64{"rate": 0.001}},
		{"only seed", "simulation_seed-4.csv", "simulation", true, 4, map[string]float64{}},
		{"missing seed", "simulation_size-10_range-1.5.csv", "simulation", false, 0, nil},
		{"duplicate seed", "simulation_seed-1_seed-2.csv", "simulation", false, 0, nil},
		{"bad value", "simulation_size-ten_seed-1.csv", "simulation", false, 0, nil},
		{"wrong prefix", "other_size-1_seed-1.csv", "simulation", false, 0, nil},
		{"empty prefix accepts any", "whatever_size-1_seed-1.csv", "", true, 1, map[string]float64{"size": 1}},
		{"path is stripped", "/data/simulation_size-2_seed-9.csv", "simulation", true, 9, map[string]float64{"size": 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps, seed, ok := ParseFileName(tt.file, tt.prefix)
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				assert.Nil(t, ps)
				return
			}
			assert.Equal(t, tt.wantSeed, seed)
			assert.Equal(t, experiment.Floats(tt.want), ps)
			_, hasSeed := ps[experiment.SeedParam]
			assert.False(t, hasSeed, "seed must not be a configuration parameter")
		})
	}
}

func TestFileNameRoundTripMatchesCanonicalOrder(t *testing.T) {
	configs := []map[string]float64{
		{"size": 1, "range": 2, "alpha": 0.25},
		{"size": 3, "range": -1, "alpha": 1e-4},
		{"size": 10, "range": 0, "alpha": 7},
	}

	var canon Canon
	for i, cfg := range configs {
		name := FormatFileName("simulation", cfg, float64(i))
		ps, seed, ok := ParseFileName(name, "simulation")
		require.True(t, ok, name)
		assert.Equal(t, float64(i), seed)

		canon.Freeze(ps)
		assert.Equal(t, []string{"alpha", "range", "size"}, canon.Names())
		assert.Equal(t, ps.Keys(), canon.Names())
		assert.True(t, canon.Matches(ps))

		key := canon.Key(ps)
		require.Len(t, key, 3)
		assert.Equal(t, experiment.ConfigurationKey{cfg["alpha"], cfg["range"], cfg["size"]}, key)
		assert.Equal(t, cfg, canon.Params(key))
	}
}

func TestCanonFrozenOnFirstParse(t *testing.T) {
	var canon Canon
	assert.False(t, canon.Frozen())

	assert.True(t, canon.Freeze(experiment.Floats(map[string]float64{"b": 1, "a": 2, "seed": 3})))
	assert.False(t, canon.Freeze(experiment.Floats(map[string]float64{"z": 1})))
	assert.Equal(t, []string{"a", "b"}, canon.Names())

	drifted := experiment.Floats(map[string]float64{"a": 1, "b": 2, "c": 3})
	assert.False(t, canon.Matches(drifted))
}

func TestParseHeader(t *testing.T) {
	header := strings.Join([]string{
		"#####################################",
		"# Alchemist log file - simulation started at: Thu Oct 12 2023",
		"#####################################",
		"# seed = 3.0, size = 10, range = Infinity, mobile = TRUE, strategy = greedy, rate = 1e-3",
		"#",
		"# time nodeCount state[mean]",
		"0.0 10 0.5",
		"1.0 10 0.7",
	}, "\n")

	ps, err := ParseHeader(strings.NewReader(header))
	require.NoError(t, err)

	assert.Equal(t, experiment.Float(3), ps["seed"])
	assert.Equal(t, experiment.Float(10), ps["size"])
	assert.Equal(t, experiment.Float(InfinitySentinel), ps["range"])
	assert.Equal(t, experiment.Bool(true), ps["mobile"])
	assert.Equal(t, experiment.String("greedy"), ps["strategy"])
	assert.Equal(t, experiment.Float(0.001), ps["rate"])
	assert.Len(t, ps, 6)
}

func TestParseHeader_NoAssignmentsBeforeData(t *testing.T) {
	content := "# time value\n0 1\n1 2\n# late = 5\n"

	ps, err := ParseHeader(strings.NewReader(content))
	require.NoError(t, err)
	assert.NotNil(t, ps)
	assert.Empty(t, ps)
}

func TestDomainMergeUnionsNamesAndValues(t *testing.T) {
	d := Domain{}
	d.Merge(experiment.Floats(map[string]float64{"size": 2, "seed": 1}))
	d.Merge(experiment.Floats(map[string]float64{"size": 1, "seed": 1}))
	d.Merge(experiment.ParameterSet{"size": experiment.Float(2), "mode": experiment.String("fast")})

	assert.Equal(t, []string{"mode", "seed", "size"}, d.Names())
	assert.Equal(t, []experiment.Value{experiment.Float(1), experiment.Float(2)}, d.Sorted("size"))
	assert.Equal(t, []experiment.Value{experiment.Float(1)}, d.Sorted("seed"))
	assert.Equal(t, []experiment.Value{experiment.String("fast")}, d.Sorted("mode"))
}
