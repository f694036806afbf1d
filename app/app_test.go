package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simagg/adapters/sqlstore"
	"simagg/domain/experiment"
	"simagg/internal/cache"
	"simagg/internal/config"
	"simagg/internal/errors"
	"simagg/internal/testkit"
)

func writeRun(t *testing.T, dir string, size, seed float64, metric ...float64) {
	t.Helper()
	testkit.Run{
		Prefix: "consensus",
		Params: map[string]float64{"size": size},
		Seed:   seed,
		Header: map[string]string{"density": "0.5"},
		Values: metric,
	}.Write(t, dir)
}

func fixtureConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	writeRun(t, dir, 1, 1, 0, 0, 1, 1, 1)
	writeRun(t, dir, 1, 2, 0, 0, 0, 0, 1)
	writeRun(t, dir, 2, 1, 0, 0, 0, 1, 1)

	cfg := config.Default()
	cfg.Data.Dir = dir
	cfg.Data.Experiments = []string{"consensus"}
	cfg.Grid.Samples = 3
	cfg.Workers = 2
	cfg.Convergence.GroupBy = []string{"size"}
	return cfg
}

func newAggregationService(t *testing.T, cfg *config.Config) *AggregationService {
	t.Helper()
	store, err := cache.NewLocalBlobStore(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	return NewAggregationService(cfg, cache.New(store, ""))
}

func sizeCoords(size float64) map[string]experiment.Value {
	return map[string]experiment.Value{"size": experiment.Float(size), "density": experiment.Float(0.5)}
}

func TestAggregationServiceBuildsAndCaches(t *testing.T) {
	ctx := context.Background()
	cfg := fixtureConfig(t)
	svc := newAggregationService(t, cfg)

	first, err := svc.Run(ctx, false)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.NotEmpty(t, first.BatchID)
	assert.Equal(t, 3, first.Reports["consensus"].Loaded)

	entry := first.Entries["consensus"]
	assert.Equal(t, []string{"density", "size", "time"}, entry.Mean.AxisNames())
	mean, err := entry.Mean.Values("state[mean]", sizeCoords(1))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 0.5, 1}, mean, 1e-12)
	std, err := entry.Std.Values("state[mean]", sizeCoords(1))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 0.5, 0}, std, 1e-12)

	second, err := svc.Run(ctx, false)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	cached, err := second.Entries["consensus"].Mean.Values("state[mean]", sizeCoords(1))
	require.NoError(t, err)
	assert.InDeltaSlice(t, mean, cached, 1e-12)

	// touching an input invalidates the cache
	future := time.Now().Add(time.Hour)
	files, err := filepath.Glob(filepath.Join(cfg.Data.Dir, "*.csv"))
	require.NoError(t, err)
	require.NoError(t, os.Chtimes(files[0], future, future))
	third, err := svc.Run(ctx, false)
	require.NoError(t, err)
	assert.False(t, third.FromCache)

	forced, err := svc.Run(ctx, true)
	require.NoError(t, err)
	assert.False(t, forced.FromCache)
}

func TestAggregationServiceUnknownPrefix(t *testing.T) {
	cfg := fixtureConfig(t)
	cfg.Data.Experiments = []string{"gossip"}
	svc := newAggregationService(t, cfg)

	_, err := svc.Run(context.Background(), true)
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
}

func TestAggregationServiceReportsProgress(t *testing.T) {
	ctx := context.Background()
	cfg := fixtureConfig(t)
	svc := newAggregationService(t, cfg)

	var stages []string
	svc.OnProgress(func(ev ProgressEvent) { stages = append(stages, ev.Stage) })

	_, err := svc.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{StageStarted, StageExperiment, StageCompleted}, stages)

	stages = nil
	_, err = svc.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{StageStarted, StageCacheHit}, stages)

	stages = nil
	cfg.Data.Experiments = []string{"gossip"}
	_, err = svc.Run(ctx, true)
	require.Error(t, err)
	assert.Equal(t, []string{StageStarted, StageFailed}, stages)
}

func TestQueryServiceLookups(t *testing.T) {
	ctx := context.Background()
	svc := NewQueryService(fixtureConfig(t), nil)

	runs, err := svc.Lookup(ctx, "consensus", map[string]float64{"size": 1})
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	_, err = svc.Lookup(ctx, "consensus", map[string]float64{})
	assert.True(t, errors.HasCode(err, errors.CodeMissingParameter))
	assert.Contains(t, err.Error(), "size")

	filtered, err := svc.Filter(ctx, "consensus", map[string]float64{"size": 2})
	require.NoError(t, err)
	assert.Len(t, filtered, 1)

	table, err := svc.CombinedTable(ctx, "consensus", nil)
	require.NoError(t, err)
	assert.Equal(t, 15, table.Len())
	assert.True(t, table.HasColumn("seed"))

	_, err = svc.Filter(ctx, "unknown", nil)
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
}

func TestQueryServiceConvergencePersists(t *testing.T) {
	ctx := context.Background()
	db, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	svc := NewQueryService(fixtureConfig(t), sqlstore.NewConvergenceRepository(db))
	batch, records, err := svc.Convergence(ctx, "consensus", svc.ConvergenceOptions())
	require.NoError(t, err)
	assert.Equal(t, 3, batch.RunCount)
	require.Len(t, records, 2)
	assert.Equal(t, []float64{1}, records[0].Values)
	assert.Equal(t, 3.0, records[0].Mean)
	assert.Equal(t, 3.0, records[1].Mean)

	stored, storedRecords, err := svc.StoredConvergence(ctx, "consensus", "state[mean]")
	require.NoError(t, err)
	assert.Equal(t, batch.ID, stored.ID)
	assert.Equal(t, records, storedRecords)

	_, _, err = NewQueryService(fixtureConfig(t), nil).StoredConvergence(ctx, "consensus", "state[mean]")
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
}
