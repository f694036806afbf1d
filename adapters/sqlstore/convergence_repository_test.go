package sqlstore

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simagg/domain/experiment"
	"simagg/internal/errors"
)

func openTestDB(t *testing.T) *ConvergenceRepository {
	t.Helper()
	db, err := Open(context.Background(), DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewConvergenceRepository(db)
}

func sampleRecords() []experiment.ConvergenceRecord {
	groupBy := []string{"size", "range"}
	return []experiment.ConvergenceRecord{
		{GroupBy: groupBy, Values: []float64{1, 2}, Mean: 3, Min: 2, Max: 4, Runs: 2},
		{GroupBy: groupBy, Values: []float64{2, 2}, Mean: math.NaN(), Min: math.NaN(), Max: math.NaN(), Runs: 2},
	}
}

func TestSaveAndLoadLatestBatch(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t)

	old := &experiment.ConvergenceBatch{Experiment: "consensus", Metric: "state[mean]", Threshold: 1, GroupBy: []string{"size"},
		CreatedAt: time.Unix(1000, 0)}
	require.NoError(t, repo.SaveBatch(ctx, old, nil))

	batch := &experiment.ConvergenceBatch{Experiment: "consensus", Metric: "state[mean]", Threshold: 1,
		GroupBy: []string{"size", "range"}, RunCount: 4}
	require.NoError(t, repo.SaveBatch(ctx, batch, sampleRecords()))
	assert.NotEmpty(t, batch.ID)

	latest, err := repo.LatestBatch(ctx, "consensus", "state[mean]")
	require.NoError(t, err)
	assert.Equal(t, batch.ID, latest.ID)
	assert.Equal(t, []string{"size", "range"}, latest.GroupBy)
	assert.Equal(t, 4, latest.RunCount)

	records, err := repo.Records(ctx, latest)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []float64{1, 2}, records[0].Values)
	assert.Equal(t, 3.0, records[0].Mean)
	assert.Equal(t, 4.0, records[0].Max)
	assert.True(t, math.IsNaN(records[1].Mean))
	assert.False(t, records[1].Converged())

	batches, err := repo.ListBatches(ctx, "consensus")
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, batch.ID, batches[0].ID)
}

func TestLatestBatchNotFound(t *testing.T) {
	repo := openTestDB(t)
	_, err := repo.LatestBatch(context.Background(), "none", "m")
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
}

func TestDeleteBatch(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t)

	batch := &experiment.ConvergenceBatch{Experiment: "e", Metric: "m", Threshold: 1}
	require.NoError(t, repo.SaveBatch(ctx, batch, sampleRecords()))
	require.NoError(t, repo.DeleteBatch(ctx, batch.ID))

	records, err := repo.Records(ctx, batch)
	require.NoError(t, err)
	assert.Empty(t, records)

	err = repo.DeleteBatch(ctx, batch.ID)
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "")
	assert.True(t, errors.HasCode(err, errors.CodeConfigInvalid))
}
