// Package cache persists folded aggregates between invocations and decides
// when they must be recomputed.
package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	stderrors "errors"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"simagg/domain/core"
	"simagg/internal/aggregate"
)

// ErrCacheMiss means the requested blob is absent
var ErrCacheMiss = stderrors.New("cache miss")

const (
	markerKey   = "timeprocessed"
	meanSuffix  = "_mean"
	stdevSuffix = "_std"
)

// Inputs describes the state of the experiment directory
type Inputs struct {
	NewestModTime time.Time
	Fingerprint   core.Hash
}

// Marker records which input state the cached aggregates were built from
type Marker struct {
	BatchID       core.BatchID
	NewestModTime time.Time
	Fingerprint   core.Hash
	ProcessedAt   time.Time
	Experiments   []string
}

// Entry is the cached pair for one experiment
type Entry struct {
	Mean *aggregate.Dataset
	Std  *aggregate.Dataset
}

// AggregateCache stores mean/std datasets keyed by experiment name
type AggregateCache struct {
	store      BlobStore
	skipMarker string
}

// New creates a cache over store. When skipMarker names an existing file a
// readable cache is always reused.
func New(store BlobStore, skipMarker string) *AggregateCache {
	return &AggregateCache{store: store, skipMarker: skipMarker}
}

// Marker loads the processing marker
func (c *AggregateCache) Marker(ctx context.Context) (*Marker, error) {
	var m Marker
	if err := c.get(ctx, markerKey, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ShouldRecompute reports whether the aggregates must be rebuilt for inputs
// in state in. An unreadable marker always forces a rebuild; so does a newer
// input file or a changed file set (a deleted run leaves the newest time
// unchanged).
func (c *AggregateCache) ShouldRecompute(ctx context.Context, in Inputs) bool {
	m, err := c.Marker(ctx)
	if err != nil {
		log.Printf("[Cache] No usable marker (%v), recomputing", err)
		return true
	}
	if c.skipRequested() {
		log.Printf("[Cache] %s present, reusing cached aggregates", c.skipMarker)
		return false
	}
	if in.NewestModTime.After(m.NewestModTime) {
		log.Printf("[Cache] Inputs changed since %s, recomputing", m.NewestModTime.Format(time.RFC3339))
		return true
	}
	if !in.Fingerprint.IsEmpty() && in.Fingerprint != m.Fingerprint {
		log.Printf("[Cache] Input set changed (%s -> %s), recomputing", m.Fingerprint.Short(), in.Fingerprint.Short())
		return true
	}
	return false
}

// Load returns the cached aggregates of every experiment. Any unreadable
// blob is an error so the caller can fall back to recomputing.
func (c *AggregateCache) Load(ctx context.Context, experiments []string) (map[string]Entry, error) {
	out := make(map[string]Entry, len(experiments))
	for _, exp := range experiments {
		var e Entry
		e.Mean = &aggregate.Dataset{}
		e.Std = &aggregate.Dataset{}
		if err := c.get(ctx, exp+meanSuffix, e.Mean); err != nil {
			return nil, err
		}
		if err := c.get(ctx, exp+stdevSuffix, e.Std); err != nil {
			return nil, err
		}
		out[exp] = e
	}
	return out, nil
}

// Save stores the aggregates and then the marker, so a crash between the two
// leaves a stale marker that forces recomputation.
func (c *AggregateCache) Save(ctx context.Context, entries map[string]Entry, in Inputs) (*Marker, error) {
	m := &Marker{
		BatchID:       core.NewBatchID(),
		NewestModTime: in.NewestModTime,
		Fingerprint:   in.Fingerprint,
		ProcessedAt:   time.Now().UTC(),
	}
	names := make([]string, 0, len(entries))
	for exp := range entries {
		names = append(names, exp)
	}
	sort.Strings(names)
	for _, exp := range names {
		e := entries[exp]
		if err := c.put(ctx, exp+meanSuffix, e.Mean); err != nil {
			return nil, err
		}
		if err := c.put(ctx, exp+stdevSuffix, e.Std); err != nil {
			return nil, err
		}
		m.Experiments = append(m.Experiments, exp)
	}
	if err := c.put(ctx, markerKey, m); err != nil {
		return nil, err
	}
	log.Printf("[Cache] Stored %d experiments (batch %s)", len(entries), m.BatchID)
	return m, nil
}

func (c *AggregateCache) skipRequested() bool {
	if c.skipMarker == "" {
		return false
	}
	_, err := os.Stat(c.skipMarker)
	return err == nil
}

func (c *AggregateCache) put(ctx context.Context, key string, v interface{}) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return c.store.StoreBlob(ctx, key, &buf)
}

func (c *AggregateCache) get(ctx context.Context, key string, v interface{}) error {
	rc, err := c.store.GetBlob(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := gob.NewDecoder(rc).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}
