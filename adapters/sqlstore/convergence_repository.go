package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"simagg/domain/core"
	"simagg/domain/experiment"
	"simagg/internal/errors"
)

type batchRow struct {
	ID         string  `db:"id"`
	Experiment string  `db:"experiment"`
	Metric     string  `db:"metric"`
	Threshold  float64 `db:"threshold"`
	GroupBy    string  `db:"group_by"`
	RunCount   int     `db:"run_count"`
	CreatedAt  int64   `db:"created_at"`
}

type recordRow struct {
	Position    int             `db:"position"`
	GroupValues string          `db:"group_values"`
	MeanTime    sql.NullFloat64 `db:"mean_time"`
	MinTime     sql.NullFloat64 `db:"min_time"`
	MaxTime     sql.NullFloat64 `db:"max_time"`
	Runs        int             `db:"runs"`
}

// ConvergenceRepository stores convergence statistics per batch
type ConvergenceRepository struct {
	db *sqlx.DB
}

// NewConvergenceRepository creates a new convergence repository
func NewConvergenceRepository(db *sqlx.DB) *ConvergenceRepository {
	return &ConvergenceRepository{db: db}
}

// SaveBatch stores the batch and its records in one transaction. Records
// that never converged keep NULL times.
func (r *ConvergenceRepository) SaveBatch(ctx context.Context, batch *experiment.ConvergenceBatch, records []experiment.ConvergenceRecord) error {
	if batch.ID == "" {
		batch.ID = core.NewBatchID()
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	groupBy, err := json.Marshal(batch.GroupBy)
	if err != nil {
		return fmt.Errorf("failed to marshal group by: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.DatabaseError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	query := tx.Rebind(`
		INSERT INTO convergence_batches (
			id, experiment, metric, threshold, group_by, run_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, query,
		batch.ID.String(),
		batch.Experiment,
		batch.Metric,
		batch.Threshold,
		string(groupBy),
		batch.RunCount,
		batch.CreatedAt.UnixMilli(),
	); err != nil {
		return errors.DatabaseError("failed to insert convergence batch", err)
	}

	insert := tx.Rebind(`
		INSERT INTO convergence_records (
			batch_id, position, group_values, mean_time, min_time, max_time, runs
		) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	for i, rec := range records {
		values, err := encodeValues(rec.Values)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, insert,
			batch.ID.String(),
			i,
			values,
			nullable(rec.Mean),
			nullable(rec.Min),
			nullable(rec.Max),
			rec.Runs,
		); err != nil {
			return errors.DatabaseError("failed to insert convergence record", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.DatabaseError("failed to commit convergence batch", err)
	}
	return nil
}

// LatestBatch returns the newest batch for an experiment and metric
func (r *ConvergenceRepository) LatestBatch(ctx context.Context, experimentName, metric string) (*experiment.ConvergenceBatch, error) {
	query := r.db.Rebind(`
		SELECT id, experiment, metric, threshold, group_by, run_count, created_at
		FROM convergence_batches
		WHERE experiment = ? AND metric = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`)

	var row batchRow
	if err := r.db.GetContext(ctx, &row, query, experimentName, metric); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound(fmt.Sprintf("convergence batch for %s/%s", experimentName, metric))
		}
		return nil, errors.DatabaseError("failed to get latest convergence batch", err)
	}
	return row.toBatch()
}

// ListBatches returns every batch of an experiment, newest first
func (r *ConvergenceRepository) ListBatches(ctx context.Context, experimentName string) ([]*experiment.ConvergenceBatch, error) {
	query := r.db.Rebind(`
		SELECT id, experiment, metric, threshold, group_by, run_count, created_at
		FROM convergence_batches
		WHERE experiment = ?
		ORDER BY created_at DESC, id DESC`)

	var rows []batchRow
	if err := r.db.SelectContext(ctx, &rows, query, experimentName); err != nil {
		return nil, errors.DatabaseError("failed to list convergence batches", err)
	}
	out := make([]*experiment.ConvergenceBatch, 0, len(rows))
	for i := range rows {
		b, err := rows[i].toBatch()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// Records loads the records of a batch in their stored order
func (r *ConvergenceRepository) Records(ctx context.Context, batch *experiment.ConvergenceBatch) ([]experiment.ConvergenceRecord, error) {
	query := r.db.Rebind(`
		SELECT position, group_values, mean_time, min_time, max_time, runs
		FROM convergence_records
		WHERE batch_id = ?
		ORDER BY position`)

	var rows []recordRow
	if err := r.db.SelectContext(ctx, &rows, query, batch.ID.String()); err != nil {
		return nil, errors.DatabaseError("failed to load convergence records", err)
	}

	records := make([]experiment.ConvergenceRecord, 0, len(rows))
	for _, row := range rows {
		values, err := decodeValues(row.GroupValues)
		if err != nil {
			return nil, err
		}
		records = append(records, experiment.ConvergenceRecord{
			GroupBy: append([]string(nil), batch.GroupBy...),
			Values:  values,
			Mean:    fromNullable(row.MeanTime),
			Min:     fromNullable(row.MinTime),
			Max:     fromNullable(row.MaxTime),
			Runs:    row.Runs,
		})
	}
	return records, nil
}

// DeleteBatch removes a batch and its records
func (r *ConvergenceRepository) DeleteBatch(ctx context.Context, id core.BatchID) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.DatabaseError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM convergence_records WHERE batch_id = ?`), id.String()); err != nil {
		return errors.DatabaseError("failed to delete convergence records", err)
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM convergence_batches WHERE id = ?`), id.String())
	if err != nil {
		return errors.DatabaseError("failed to delete convergence batch", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound(fmt.Sprintf("convergence batch %s", id))
	}
	return tx.Commit()
}

func (row batchRow) toBatch() (*experiment.ConvergenceBatch, error) {
	var groupBy []string
	if err := json.Unmarshal([]byte(row.GroupBy), &groupBy); err != nil {
		return nil, fmt.Errorf("failed to unmarshal group by: %w", err)
	}
	return &experiment.ConvergenceBatch{
		ID:         core.BatchID(row.ID),
		Experiment: row.Experiment,
		Metric:     row.Metric,
		Threshold:  row.Threshold,
		GroupBy:    groupBy,
		RunCount:   row.RunCount,
		CreatedAt:  time.UnixMilli(row.CreatedAt).UTC(),
	}, nil
}

// group values may be NaN, which JSON numbers cannot carry
func encodeValues(values []float64) (string, error) {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	data, err := json.Marshal(parts)
	if err != nil {
		return "", fmt.Errorf("failed to marshal group values: %w", err)
	}
	return string(data), nil
}

func decodeValues(s string) ([]float64, error) {
	var parts []string
	if err := json.Unmarshal([]byte(s), &parts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal group values: %w", err)
	}
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid group value %q: %w", p, err)
		}
		out[i] = v
	}
	return out, nil
}

func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func fromNullable(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
