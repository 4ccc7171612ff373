package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/assetcache/assetcache/pkg/types"
)

// startMaintenance launches the background sweep loop on the configured
// interval. The loop also drives the adaptive preload concurrency.
func (m *Manager) startMaintenance() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.cfg.Cache.MaintenanceInterval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.runMaintenance(context.Background())
			}
		}
	}()
}

// runMaintenance is one background iteration: the sweep plus the adaptive
// concurrency step.
func (m *Manager) runMaintenance(ctx context.Context) {
	start := time.Now()
	expired := m.removeExpired(ctx)
	evicted := m.enforceCapacity(ctx)
	m.refreshGauges(ctx)

	hitRate := m.metrics.HitRate()
	concurrency := m.preload.Adjust(hitRate)
	m.metrics.SetPreloadConcurrency(concurrency)

	m.logger.Info("maintenance sweep complete",
		zap.Int("expired", expired),
		zap.Int("evicted", evicted),
		zap.Float64("hit_rate", hitRate),
		zap.Int("preload_concurrency", concurrency),
		zap.Duration("elapsed", time.Since(start)))
}

// sweep is the on-demand variant used by OptimizeCache: expiry removal,
// capacity enforcement, and gauge refresh without the adaptive step.
func (m *Manager) sweep(ctx context.Context) {
	expired := m.removeExpired(ctx)
	evicted := m.enforceCapacity(ctx)
	m.refreshGauges(ctx)

	m.logger.Info("optimize sweep complete",
		zap.Int("expired", expired),
		zap.Int("evicted", evicted))
}

// removeExpired sweeps TTL-expired records out of both tiers.
func (m *Manager) removeExpired(ctx context.Context) int {
	now := time.Now()
	removed := m.volatile.RemoveExpired(now)

	ids, err := m.durable.ExpiredBefore(ctx, now)
	if err != nil {
		m.logger.Warn("durable expiry scan failed", zap.Error(err))
		return removed
	}
	for _, id := range ids {
		if err := m.durable.Delete(ctx, id); err != nil {
			m.logger.Warn("failed to delete expired record",
				zap.String("id", id), zap.Error(err))
			continue
		}
		m.metrics.RecordExpiration(types.TierDurable)
		removed++
	}
	return removed
}

// enforceCapacity applies the LRU policy independently per tier when a tier
// exceeds its capacity.
func (m *Manager) enforceCapacity(ctx context.Context) int {
	evicted := 0
	for m.volatile.OverCapacity() {
		n := m.volatile.EvictBatch(m.cfg.Cache.EvictionFraction)
		if n == 0 {
			break
		}
		evicted += n
	}
	evicted += m.trimDurable(ctx)
	return evicted
}

// trimDurable deletes least-recently-accessed durable records until the
// tier is back under capacity.
func (m *Manager) trimDurable(ctx context.Context) int {
	capacity := m.cfg.Cache.DurableCapacityBytes()
	evicted := 0

	for {
		stats, err := m.durable.Stats(ctx)
		if err != nil {
			m.logger.Warn("durable stats failed", zap.Error(err))
			return evicted
		}
		if stats.UsedBytes <= capacity || stats.Count == 0 {
			return evicted
		}

		batch := int(float64(stats.Count) * m.cfg.Cache.EvictionFraction)
		if batch == 0 {
			batch = 1
		}
		ids, err := m.durable.LeastRecent(ctx, batch)
		if err != nil || len(ids) == 0 {
			if err != nil {
				m.logger.Warn("durable LRU scan failed", zap.Error(err))
			}
			return evicted
		}

		for _, id := range ids {
			if err := m.durable.Delete(ctx, id); err != nil {
				m.logger.Warn("durable eviction failed",
					zap.String("id", id), zap.Error(err))
				continue
			}
			m.metrics.RecordEviction(types.TierDurable)
			evicted++
		}
	}
}

// refreshGauges recomputes the occupancy gauges from tier state.
func (m *Manager) refreshGauges(ctx context.Context) {
	volatileCount, volatileBytes := m.volatile.Resident()

	stats, err := m.durable.Stats(ctx)
	if err != nil {
		m.logger.Warn("durable stats failed", zap.Error(err))
	}

	m.metrics.SetTierUsage(volatileBytes, stats.UsedBytes, int64(volatileCount)+stats.Count)
}
