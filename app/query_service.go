package app

import (
	"context"
	"fmt"
	"log"
	"sync"

	"simagg/domain/experiment"
	"simagg/internal/config"
	"simagg/internal/convergence"
	"simagg/internal/errors"
	"simagg/internal/grouping"
	"simagg/ports"
)

// QueryService answers lookups and convergence queries against loaded
// experiments. Each experiment is loaded once and then shared read-only.
type QueryService struct {
	cfg   *config.Config
	store ports.ConvergenceStore

	mu      sync.Mutex
	loaders map[string]*grouping.Loader
}

// NewQueryService creates a query service; store may be nil, in which case
// convergence results are computed but not persisted.
func NewQueryService(cfg *config.Config, store ports.ConvergenceStore) *QueryService {
	return &QueryService{
		cfg:     cfg,
		store:   store,
		loaders: make(map[string]*grouping.Loader),
	}
}

// Experiments returns the configured experiment prefixes
func (s *QueryService) Experiments() []string {
	return append([]string(nil), s.cfg.Data.Experiments...)
}

// TimeColumn returns the configured time column name
func (s *QueryService) TimeColumn() string {
	return s.cfg.Data.TimeColumn
}

// Loader returns the populated loader of an experiment, loading it on first use
func (s *QueryService) Loader(ctx context.Context, name string) (*grouping.Loader, error) {
	if !s.known(name) {
		return nil, errors.NotFound(fmt.Sprintf("experiment %s", name))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.loaders[name]; ok {
		return l, nil
	}
	l := grouping.NewLoader(grouping.LoaderConfig{
		Dir:     s.cfg.Data.Dir,
		Prefix:  name,
		Variant: s.cfg.Variant(),
	})
	if _, err := l.Load(ctx); err != nil {
		return nil, err
	}
	s.loaders[name] = l
	return l, nil
}

// Reload drops the loaded runs of an experiment so the next query re-reads them
func (s *QueryService) Reload(name string) {
	s.mu.Lock()
	delete(s.loaders, name)
	s.mu.Unlock()
}

// Lookup returns the runs of the configuration given by values, which must
// name every parameter.
func (s *QueryService) Lookup(ctx context.Context, name string, values map[string]float64) ([]*experiment.Run, error) {
	l, err := s.Loader(ctx, name)
	if err != nil {
		return nil, err
	}
	return l.ByParameters(values)
}

// Filter returns the runs of every configuration matching filters
func (s *QueryService) Filter(ctx context.Context, name string, filters map[string]float64) ([]*experiment.Run, error) {
	l, err := s.Loader(ctx, name)
	if err != nil {
		return nil, err
	}
	return l.Filter(filters), nil
}

// CombinedTable concatenates the runs matching filters
func (s *QueryService) CombinedTable(ctx context.Context, name string, filters map[string]float64) (*experiment.Table, error) {
	l, err := s.Loader(ctx, name)
	if err != nil {
		return nil, err
	}
	return l.CombinedTable(filters), nil
}

// Convergence computes convergence statistics over every run of an
// experiment and, when a store is configured, records them as a new batch.
func (s *QueryService) Convergence(ctx context.Context, name string, opts convergence.Options) (*experiment.ConvergenceBatch, []experiment.ConvergenceRecord, error) {
	l, err := s.Loader(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	runs := l.Groups().All()
	records, err := convergence.TimeStatistics(runs, opts)
	if err != nil {
		return nil, nil, err
	}

	batch := &experiment.ConvergenceBatch{
		Experiment: name,
		Metric:     opts.Metric,
		Threshold:  opts.Threshold,
		GroupBy:    opts.GroupBy,
		RunCount:   len(runs),
	}
	if len(records) > 0 {
		batch.GroupBy = records[0].GroupBy
	}
	if s.store != nil {
		if err := s.store.SaveBatch(ctx, batch, records); err != nil {
			return nil, nil, err
		}
		log.Printf("[Query] Stored convergence batch %s for %s (%d groups)", batch.ID, name, len(records))
	}
	return batch, records, nil
}

// StoredConvergence returns the most recent persisted convergence batch
func (s *QueryService) StoredConvergence(ctx context.Context, name, metric string) (*experiment.ConvergenceBatch, []experiment.ConvergenceRecord, error) {
	if s.store == nil {
		return nil, nil, errors.NotFound("convergence store")
	}
	batch, err := s.store.LatestBatch(ctx, name, metric)
	if err != nil {
		return nil, nil, err
	}
	records, err := s.store.Records(ctx, batch)
	if err != nil {
		return nil, nil, err
	}
	return batch, records, nil
}

// ConvergenceOptions builds query options from the configured defaults
func (s *QueryService) ConvergenceOptions() convergence.Options {
	opts := convergence.DefaultOptions()
	opts.Metric = s.cfg.Convergence.Metric
	opts.Threshold = s.cfg.Convergence.Threshold
	opts.TimeColumn = s.cfg.Data.TimeColumn
	if len(s.cfg.Convergence.GroupBy) > 0 {
		opts.GroupBy = append([]string(nil), s.cfg.Convergence.GroupBy...)
	}
	return opts
}

func (s *QueryService) known(name string) bool {
	for _, e := range s.cfg.Data.Experiments {
		if e == name {
			return true
		}
	}
	return false
}
