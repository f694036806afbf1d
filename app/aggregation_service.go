package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"simagg/adapters/simfile"
	"simagg/domain/core"
	"simagg/domain/experiment"
	"simagg/internal"
	"simagg/internal/aggregate"
	"simagg/internal/cache"
	"simagg/internal/config"
	"simagg/internal/errors"
	"simagg/internal/grouping"
	"simagg/internal/params"
	"simagg/internal/resample"
	"simagg/ports"
)

// AggregationService runs the batch pipeline: load every experiment, resample
// onto a common grid, fold across seeds and cache the result.
type AggregationService struct {
	cfg      *config.Config
	cache    ports.AggregateCache
	progress []ProgressFunc
}

// Progress stages reported while aggregating
const (
	StageStarted    = "started"
	StageCacheHit   = "cache_hit"
	StageExperiment = "experiment_built"
	StageCompleted  = "completed"
	StageFailed     = "failed"
)

// ProgressEvent reports one step of an aggregation run
type ProgressEvent struct {
	Stage      string    `json:"stage"`
	Experiment string    `json:"experiment,omitempty"`
	Progress   float64   `json:"progress"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ProgressFunc receives progress events. It is called synchronously from Run
// and must not block.
type ProgressFunc func(ProgressEvent)

// AggregateResult holds the folded datasets of every configured experiment
type AggregateResult struct {
	Entries   map[string]cache.Entry
	Reports   map[string]*grouping.LoadReport
	FromCache bool
	BatchID   core.BatchID
}

func NewAggregationService(cfg *config.Config, aggregateCache ports.AggregateCache) *AggregationService {
	return &AggregationService{cfg: cfg, cache: aggregateCache}
}

// OnProgress registers fn to receive progress events. Not safe to call
// concurrently with Run.
func (s *AggregationService) OnProgress(fn ProgressFunc) {
	s.progress = append(s.progress, fn)
}

func (s *AggregationService) emit(stage, exp string, progress float64, msg string) {
	ev := ProgressEvent{Stage: stage, Experiment: exp, Progress: progress, Message: msg, Timestamp: time.Now().UTC()}
	for _, fn := range s.progress {
		fn(ev)
	}
}

// Inputs captures the current state of the data directory
func (s *AggregationService) Inputs() (cache.Inputs, error) {
	modTimes, err := simfile.ModTimes(s.cfg.Data.Dir, "")
	if err != nil {
		return cache.Inputs{}, err
	}
	var newest time.Time
	for _, t := range modTimes {
		if t.After(newest) {
			newest = t
		}
	}
	return cache.Inputs{NewestModTime: newest, Fingerprint: core.InputFingerprint(modTimes)}, nil
}

// Run returns cached aggregates when the inputs are unchanged, and rebuilds
// every experiment otherwise. force skips the cache check.
func (s *AggregationService) Run(ctx context.Context, force bool) (*AggregateResult, error) {
	start := time.Now()
	in, err := s.Inputs()
	if err != nil {
		return nil, err
	}
	s.emit(StageStarted, "", 0, "")

	if !force && s.cache != nil && !s.cache.ShouldRecompute(ctx, in) {
		entries, err := s.cache.Load(ctx, s.cfg.Data.Experiments)
		if err == nil {
			log.Printf("[Aggregation] Loaded %d experiments from cache in %.2fms",
				len(entries), float64(time.Since(start).Nanoseconds())/1e6)
			s.emit(StageCacheHit, "", 1, "")
			return &AggregateResult{Entries: entries, FromCache: true}, nil
		}
		log.Printf("[Aggregation] ⚠️ Cache unreadable, recomputing: %v", err)
	}

	result := &AggregateResult{
		Entries: make(map[string]cache.Entry, len(s.cfg.Data.Experiments)),
		Reports: make(map[string]*grouping.LoadReport, len(s.cfg.Data.Experiments)),
	}
	total := len(s.cfg.Data.Experiments)
	for i, exp := range s.cfg.Data.Experiments {
		entry, report, err := s.BuildExperiment(ctx, exp)
		if err != nil {
			s.emit(StageFailed, exp, float64(i)/float64(total), err.Error())
			return nil, errors.Wrapf(err, "failed to aggregate experiment %s", exp)
		}
		result.Entries[exp] = entry
		result.Reports[exp] = report
		s.emit(StageExperiment, exp, float64(i+1)/float64(total), "")
	}

	if s.cache != nil {
		marker, err := s.cache.Save(ctx, result.Entries, in)
		if err != nil {
			log.Printf("[Aggregation] ⚠️ Failed to store aggregates: %v", err)
		} else {
			result.BatchID = marker.BatchID
		}
	}
	s.emit(StageCompleted, "", 1, result.BatchID.String())
	log.Printf("[Aggregation] Aggregated %d experiments in %.2fms",
		len(result.Entries), float64(time.Since(start).Nanoseconds())/1e6)
	return result, nil
}

// BuildExperiment aggregates the runs of one experiment prefix
func (s *AggregationService) BuildExperiment(ctx context.Context, prefix string) (cache.Entry, *grouping.LoadReport, error) {
	loader := grouping.NewLoader(grouping.LoaderConfig{
		Dir:     s.cfg.Data.Dir,
		Prefix:  prefix,
		Variant: s.cfg.Variant(),
	})
	report, err := loader.Load(ctx)
	if err != nil {
		return cache.Entry{}, nil, err
	}
	runs := loader.LabeledRuns()
	if len(runs) == 0 {
		return cache.Entry{}, report, errors.NotFound(fmt.Sprintf("runs for experiment %s", prefix))
	}

	timeColumn := s.cfg.Data.TimeColumn
	mergeHeaderParams(runs, timeColumn)

	domain := params.Domain{}
	tables := make([]*experiment.Table, len(runs))
	for i, r := range runs {
		domain.Merge(r.Coords)
		tables[i] = r.Table
	}

	grid, err := resample.Build(s.cfg.TimeGrid(), tables, timeColumn)
	if err != nil {
		return cache.Entry{}, report, err
	}

	ds, err := aggregate.NewBuilder(domain, grid, timeColumn).
		WithWorkers(s.cfg.Workers).
		Build(ctx, runs)
	if err != nil {
		return cache.Entry{}, report, err
	}
	mean, std, err := aggregate.Fold(ds, s.cfg.Data.SeedVars...)
	if err != nil {
		return cache.Entry{}, report, err
	}
	return cache.Entry{Mean: mean, Std: std}, report, nil
}

// mergeHeaderParams adds header assignments shared by every run to the run
// coordinates, so simulator settings that are not in the file names still
// become axes. File name values win over header values.
func mergeHeaderParams(runs []grouping.LabeledRun, timeColumn string) {
	headers := make([]experiment.ParameterSet, len(runs))
	common := map[string]int{}
	for i, r := range runs {
		hdr, err := params.ParseHeaderFile(r.Source)
		if err != nil {
			internal.DefaultLogger.Warn("[Aggregation] Cannot read header of %s: %v", r.Source, err)
			return
		}
		headers[i] = hdr
		for name := range hdr {
			common[name]++
		}
	}
	for i, r := range runs {
		for name, v := range headers[i] {
			if common[name] != len(runs) || name == timeColumn {
				continue
			}
			if _, ok := r.Coords[name]; !ok {
				r.Coords[name] = v
			}
		}
	}
}
