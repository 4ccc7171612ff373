package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/assetcache/assetcache/internal/cache"
	"github.com/assetcache/assetcache/internal/config"
	"github.com/assetcache/assetcache/internal/fetch"
	"github.com/assetcache/assetcache/internal/loader"
	"github.com/assetcache/assetcache/internal/logging"
	"github.com/assetcache/assetcache/internal/metrics"
	"github.com/assetcache/assetcache/internal/preload"
	"github.com/assetcache/assetcache/internal/store"
	"github.com/assetcache/assetcache/pkg/errors"
	"github.com/assetcache/assetcache/pkg/types"
)

// PreloadRequest names one asset in a preload batch.
type PreloadRequest = preload.Request

// PreloadResult aggregates the outcome of one preload batch.
type PreloadResult = preload.Result

// ClearMode selects what ClearCache removes.
type ClearMode string

const (
	// ClearAll empties both tiers.
	ClearAll ClearMode = "all"
	// ClearExpired removes TTL-expired records from both tiers.
	ClearExpired ClearMode = "expired"
	// ClearVolatile empties the volatile tier only; durable copies remain.
	ClearVolatile ClearMode = "volatile"
	// ClearDurable empties the durable tier only.
	ClearDurable ClearMode = "durable"
	// ClearLRU applies the batch LRU policy to the volatile tier and trims
	// the durable tier to capacity.
	ClearLRU ClearMode = "lru"
)

// Manager is the cache engine's single entry point, composing the volatile
// tier, the durable store, the single-flight loader, the strategy selector,
// the preloader, and the metrics collector. Construct one per process and
// pass it to consumers; all operations are safe for concurrent use.
type Manager struct {
	cfg      *config.Configuration
	logger   *zap.Logger
	volatile *cache.VolatileCache
	durable  types.DurableStore
	strategy *cache.StrategySelector
	loader   *loader.Loader
	preload  *preload.Preloader
	metrics  *metrics.Collector

	stopCh chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New constructs the engine from a validated configuration. Options inject
// alternatives for the logger, the source fetcher, and the durable store;
// anything not injected is built from the configuration. The maintenance
// goroutine starts immediately; Close releases everything.
func New(cfg *config.Configuration, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = config.New()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		built, err := logging.New(cfg.Logging)
		if err != nil {
			return nil, err
		}
		logger = built
	}

	collector, err := metrics.NewCollector(cfg.Metrics, logger)
	if err != nil {
		return nil, err
	}

	durable := o.store
	if durable == nil {
		opened, err := store.Open(cfg.Store, cfg.Cache.DurableCapacityBytes(), logger)
		if err != nil {
			return nil, err
		}
		durable = opened
	}

	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = fetch.NewDispatcher(cfg.Fetch, logger)
	}

	m := &Manager{
		cfg:      cfg,
		logger:   logger.Named("engine"),
		volatile: cache.NewVolatileCache(cfg.Cache.VolatileCapacityBytes(), cfg.Cache.EvictionFraction, logger),
		durable:  durable,
		strategy: cache.NewStrategySelector(&cfg.Cache),
		metrics:  collector,
		stopCh:   make(chan struct{}),
	}

	m.volatile.SetEvictionCallback(func(asset *types.CachedAsset, reason cache.EvictionReason) {
		switch reason {
		case cache.ReasonCapacity:
			m.metrics.RecordEviction(types.TierVolatile)
		case cache.ReasonExpired:
			m.metrics.RecordExpiration(types.TierVolatile)
		}
	})

	m.loader = loader.New(fetcher, cfg.Retry, cfg.Fetch.Timeout, m.metrics.RecordRetry, logger)
	m.preload = preload.New(cfg.Preload, cfg.Cache.PreloadMode, m.preloadOne,
		func(id string) bool { return m.volatile.Contains(id, time.Now()) },
		m.strategy.PriorityFor, logger)
	m.metrics.SetPreloadConcurrency(m.preload.Concurrency())

	m.metrics.Start()
	m.startMaintenance()

	m.logger.Info("engine started",
		zap.Int64("volatile_capacity", cfg.Cache.VolatileCapacityBytes()),
		zap.Int64("durable_capacity", cfg.Cache.DurableCapacityBytes()),
		zap.Duration("default_ttl", cfg.Cache.DefaultTTL),
		zap.String("preload_mode", cfg.Cache.PreloadMode))
	return m, nil
}

// Close stops maintenance, the metrics listener, and the durable store.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(m.stopCh)
	m.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.metrics.Stop(ctx); err != nil {
		m.logger.Warn("metrics listener shutdown failed", zap.Error(err))
	}

	err := m.durable.Close()
	m.logger.Info("engine closed")
	return err
}

// LoadAsset returns the asset for id, serving it from the volatile tier,
// then the durable tier, then a single-flight fetch of sourceLocation.
// Concurrent callers for the same id share one fetch and observe the same
// terminal outcome. Only a terminal fetch failure is returned as an error;
// durable-store problems degrade to a miss.
func (m *Manager) LoadAsset(ctx context.Context, id, sourceLocation string, meta types.AssetMetadata, opts *LoadOptions) (*types.CachedAsset, error) {
	if m.closed.Load() {
		return nil, errors.NewError(errors.ErrCodeEngineClosed, "engine is closed")
	}
	if id == "" {
		return nil, errors.NewError(errors.ErrCodeAssetNotFound, "empty asset id")
	}
	opts = opts.withDefaults()

	start := time.Now()

	if opts.UseCache {
		if asset, ok := m.volatile.Get(id, start); ok {
			m.metrics.RecordHit(time.Since(start))
			return asset, nil
		}

		if asset, ok := m.durableLookup(ctx, id, start, true); ok {
			m.metrics.RecordHit(time.Since(start))
			return asset, nil
		}
	}

	req := loader.Request{
		ID:             id,
		SourceLocation: sourceLocation,
		Metadata:       meta,
		Timeout:        opts.Timeout,
		ExpiresAt:      m.strategy.ExpiryFor(start, opts.TTL),
		Priority:       m.strategy.PriorityFor(meta.AssetType),
		EncodeContent:  opts.EncodeContent,
	}

	record, err := m.loader.Load(ctx, req, m.commit)
	elapsed := time.Since(start)
	m.metrics.RecordMiss(elapsed)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if asset, ok := m.volatile.Get(id, now); ok {
		return asset, nil
	}

	// Durable-only or uncached: account the retrieval on the caller's
	// snapshot and write bookkeeping back best-effort.
	out := record.Clone()
	out.Touch(now)
	if out.CacheInfo.StorageTier == types.TierDurable {
		if err := m.durable.Touch(ctx, id, now); err != nil {
			m.logger.Warn("durable access write-back failed",
				zap.String("id", id), zap.Error(err))
		}
	}
	return out, nil
}

// GetCachedAsset is a pure lookup: volatile tier first, then durable, never
// the network and never a promotion. Expired records are absent regardless
// of physical residency.
func (m *Manager) GetCachedAsset(ctx context.Context, id string) (*types.CachedAsset, bool) {
	if m.closed.Load() {
		return nil, false
	}

	start := time.Now()
	if asset, ok := m.volatile.Get(id, start); ok {
		m.metrics.RecordHit(time.Since(start))
		return asset, true
	}

	if asset, ok := m.durableLookup(ctx, id, start, false); ok {
		m.metrics.RecordHit(time.Since(start))
		return asset, true
	}

	m.metrics.RecordMiss(time.Since(start))
	return nil, false
}

// PreloadAssets runs one best-effort preload batch and returns aggregate
// counts once every attempt has settled. Individual failures never surface.
func (m *Manager) PreloadAssets(ctx context.Context, reqs []PreloadRequest) *PreloadResult {
	return m.preload.Preload(ctx, reqs)
}

// ClearCache removes records per the mode.
func (m *Manager) ClearCache(ctx context.Context, mode ClearMode) error {
	if m.closed.Load() {
		return errors.NewError(errors.ErrCodeEngineClosed, "engine is closed")
	}

	switch mode {
	case ClearAll:
		m.volatile.Clear()
		if err := m.durable.Clear(ctx); err != nil {
			return err
		}
	case ClearExpired:
		m.removeExpired(ctx)
	case ClearVolatile:
		m.volatile.Clear()
	case ClearDurable:
		if err := m.durable.Clear(ctx); err != nil {
			return err
		}
	case ClearLRU:
		m.volatile.EvictBatch(m.cfg.Cache.EvictionFraction)
		m.trimDurable(ctx)
	default:
		return errors.NewError(errors.ErrCodeInternalError,
			fmt.Sprintf("unknown clear mode %q", mode))
	}

	m.refreshGauges(ctx)
	m.logger.Info("cache cleared", zap.String("mode", string(mode)))
	return nil
}

// OptimizeCache runs one full maintenance sweep on demand: expiry removal
// in both tiers, per-tier capacity eviction, and gauge refresh.
func (m *Manager) OptimizeCache(ctx context.Context) error {
	if m.closed.Load() {
		return errors.NewError(errors.ErrCodeEngineClosed, "engine is closed")
	}
	m.sweep(ctx)
	return nil
}

// Metrics returns the canonical performance snapshot with fresh occupancy
// gauges.
func (m *Manager) Metrics() types.CachePerformance {
	m.refreshGauges(context.Background())
	return m.metrics.Snapshot()
}

// durableLookup consults the durable tier. A hit bumps access bookkeeping
// (best-effort) and, when promote is set, copies the record into the
// volatile tier so later lookups take the fast path. Store failures are
// logged and degrade to a miss.
func (m *Manager) durableLookup(ctx context.Context, id string, now time.Time, promote bool) (*types.CachedAsset, bool) {
	record, err := m.durable.Get(ctx, id)
	if err != nil {
		if !errors.IsNotFound(err) {
			m.logger.Warn("durable read failed, treating as miss",
				zap.String("id", id), zap.Error(err))
		}
		return nil, false
	}

	if record.Expired(now) {
		m.metrics.RecordExpiration(types.TierDurable)
		if err := m.durable.Delete(ctx, id); err != nil {
			m.logger.Warn("failed to delete expired record",
				zap.String("id", id), zap.Error(err))
		}
		return nil, false
	}

	record.Touch(now)
	if err := m.durable.Touch(ctx, id, now); err != nil {
		m.logger.Warn("durable access write-back failed",
			zap.String("id", id), zap.Error(err))
	}

	if promote {
		promoted := record.Clone()
		promoted.CacheInfo.StorageTier = types.TierHybrid
		if m.volatile.Add(promoted, now) {
			record.CacheInfo.StorageTier = types.TierHybrid
			m.logger.Debug("promoted record to volatile tier", zap.String("id", id))
		}
	}

	return record.Clone(), true
}

// commit runs inside the loader flight exactly once per successful fetch:
// it routes the record through the strategy selector and writes the chosen
// tier(s). Tier writes degrade rather than fail: a record the volatile tier
// rejects falls back to durable-only, and a durable write failure leaves
// the record served from memory for this call only.
func (m *Manager) commit(record *types.CachedAsset) {
	now := time.Now()
	tier := m.strategy.SelectTier(record.Metadata.AssetType, record.SizeBytes())
	record.CacheInfo.StorageTier = tier

	wantVolatile := tier == types.TierVolatile || tier == types.TierHybrid
	wantDurable := tier == types.TierDurable || tier == types.TierHybrid

	if wantVolatile {
		if !m.volatile.Add(record.Clone(), now) {
			// Too large for the volatile tier; degrade.
			wantDurable = true
			tier = types.TierDurable
			record.CacheInfo.StorageTier = tier
		}
	}

	if wantDurable {
		if err := m.durable.Put(context.Background(), record); err != nil {
			m.logger.Warn("durable write failed, serving uncached",
				zap.String("id", record.ID), zap.Error(err))
		}
	}

	m.logger.Debug("admitted asset",
		zap.String("id", record.ID),
		zap.String("tier", string(tier)),
		zap.Int64("size", record.SizeBytes()))
}

// preloadOne is the preloader's load path: the regular LoadAsset with
// preload quality and the shorter preload timeout.
func (m *Manager) preloadOne(ctx context.Context, req preload.Request) error {
	meta := req.Metadata
	if m.cfg.Preload.Quality != "" {
		meta.Quality = m.cfg.Preload.Quality
	}
	opts := &LoadOptions{UseCache: true, Timeout: m.cfg.Preload.Timeout}
	_, err := m.LoadAsset(ctx, req.ID, req.SourceLocation, meta, opts)
	return err
}
