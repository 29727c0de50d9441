// Package genstore keeps per-resource generations for the response cache.
//
// Every write to an API resource bumps the generation of the resource and of
// each parent collection. Cached responses carry the generation they were
// fetched under; a mismatch on read means the response predates a write and
// is dropped.
package genstore

import (
	"context"
	"time"
)

// GenStore abstracts where generations live.
// Use LocalGenStore (default) for in-process gens, or RedisGenStore to share
// them between processes.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, resource string) (uint64, error)
	// SnapshotMany returns gens for many resources; missing => 0.
	SnapshotMany(ctx context.Context, resources []string) (map[string]uint64, error)
	// BumpMany atomically increments each resource and returns the new gens.
	BumpMany(ctx context.Context, resources []string) (map[string]uint64, error)
	// Cleanup prunes old metadata if applicable (no-op for Redis).
	Cleanup(retention time.Duration)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
