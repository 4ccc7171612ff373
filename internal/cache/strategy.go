package cache

import (
	"time"

	"github.com/assetcache/assetcache/internal/config"
	"github.com/assetcache/assetcache/pkg/types"
)

// StrategySelector decides, per asset, which storage tier(s) to use and
// computes TTL. Pure functions over the immutable cache strategy; for fixed
// inputs the outputs are always identical.
type StrategySelector struct {
	strategy *config.CacheStrategy
}

// NewStrategySelector creates a selector over the validated cache strategy.
func NewStrategySelector(strategy *config.CacheStrategy) *StrategySelector {
	return &StrategySelector{strategy: strategy}
}

// PriorityFor looks up the asset type's priority from the configured table,
// defaulting to medium for unknown types.
func (s *StrategySelector) PriorityFor(assetType string) types.Priority {
	switch s.strategy.TypePriorities[assetType] {
	case "high":
		return types.PriorityHigh
	case "low":
		return types.PriorityLow
	default:
		return types.PriorityMedium
	}
}

// SelectTier maps (assetType, sizeBytes) to a storage tier: small and
// high-priority records go volatile-only, medium records go to both tiers,
// large records go durable-only.
func (s *StrategySelector) SelectTier(assetType string, sizeBytes int64) types.StorageTier {
	if sizeBytes < s.strategy.SmallThresholdBytes() && s.PriorityFor(assetType) == types.PriorityHigh {
		return types.TierVolatile
	}
	if sizeBytes < s.strategy.MediumThresholdBytes() {
		return types.TierHybrid
	}
	return types.TierDurable
}

// ExpiryFor computes the record's expiry: now plus the default TTL unless a
// positive request-level override is supplied.
func (s *StrategySelector) ExpiryFor(now time.Time, override time.Duration) time.Time {
	ttl := s.strategy.DefaultTTL
	if override > 0 {
		ttl = override
	}
	return now.Add(ttl)
}
