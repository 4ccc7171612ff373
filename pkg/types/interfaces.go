package types

import (
	"context"
	"time"
)

// Fetcher retrieves an asset's bytes from its source location. The single
// consumer is the loader; implementations must honor context deadlines and
// report timeout failures distinguishably from other fetch failures.
type Fetcher interface {
	Fetch(ctx context.Context, location string) (*FetchResult, error)
}

// DurableStore is the persistent tier: serialized CachedAsset records keyed
// by id, surviving process restarts, with secondary lookups by session,
// asset type, and expiry for efficient sweeps.
type DurableStore interface {
	// Record operations
	Get(ctx context.Context, id string) (*CachedAsset, error)
	Put(ctx context.Context, asset *CachedAsset) error
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error

	// Touch writes back access bookkeeping for id. Best-effort; callers
	// treat failures as log-only.
	Touch(ctx context.Context, id string, at time.Time) error

	// Secondary lookups
	BySession(ctx context.Context, sessionID string) ([]string, error)
	ByType(ctx context.Context, assetType string) ([]string, error)
	ExpiredBefore(ctx context.Context, cutoff time.Time) ([]string, error)

	// LeastRecent returns up to n record ids ordered oldest last-access
	// first, for capacity eviction.
	LeastRecent(ctx context.Context, n int) ([]string, error)

	Stats(ctx context.Context) (StoreStats, error)
	Close() error
}
