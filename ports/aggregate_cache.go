package ports

import (
	"context"

	"simagg/internal/cache"
)

// AggregateCache keeps folded aggregates between invocations
type AggregateCache interface {
	ShouldRecompute(ctx context.Context, in cache.Inputs) bool
	Load(ctx context.Context, experiments []string) (map[string]cache.Entry, error)
	Save(ctx context.Context, entries map[string]cache.Entry, in cache.Inputs) (*cache.Marker, error)
}
