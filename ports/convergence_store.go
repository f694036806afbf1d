package ports

import (
	"context"

	"simagg/domain/core"
	"simagg/domain/experiment"
)

// ConvergenceStore persists convergence statistics per query batch
type ConvergenceStore interface {
	SaveBatch(ctx context.Context, batch *experiment.ConvergenceBatch, records []experiment.ConvergenceRecord) error
	LatestBatch(ctx context.Context, experimentName, metric string) (*experiment.ConvergenceBatch, error)
	ListBatches(ctx context.Context, experimentName string) ([]*experiment.ConvergenceBatch, error)
	Records(ctx context.Context, batch *experiment.ConvergenceBatch) ([]experiment.ConvergenceRecord, error)
	DeleteBatch(ctx context.Context, id core.BatchID) error
}
