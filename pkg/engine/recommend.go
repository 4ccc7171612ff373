package engine

import (
	"fmt"
	"time"
)

// Recommendation trigger thresholds.
const (
	minRequestsForAdvice = 20
	lowHitRate           = 0.5
	highUtilization      = 0.9
	slowShareLimit       = 0.25
	slowAvgLatencyMillis = 500
)

// Recommendations derives heuristic diagnostics from the current snapshot.
// Purely advisory text for operators; nothing reads these for control flow.
func (m *Manager) Recommendations() []string {
	perf := m.Metrics()
	var recs []string

	if perf.TotalRequests >= minRequestsForAdvice && perf.HitRate < lowHitRate {
		recs = append(recs, fmt.Sprintf(
			"hit rate is low (%.0f%%): consider a longer TTL, a larger volatile tier, or a more aggressive preload mode",
			perf.HitRate*100))
	}

	if capacity := m.cfg.Cache.VolatileCapacityBytes(); capacity > 0 {
		if util := float64(perf.VolatileUsageBytes) / float64(capacity); util > highUtilization {
			recs = append(recs, fmt.Sprintf(
				"volatile tier is %.0f%% full: eviction pressure is imminent, consider raising volatile_capacity",
				util*100))
		}
	}
	if capacity := m.cfg.Cache.DurableCapacityBytes(); capacity > 0 {
		if util := float64(perf.DurableUsageBytes) / float64(capacity); util > highUtilization {
			recs = append(recs, fmt.Sprintf(
				"durable tier is %.0f%% full: consider raising durable_capacity or shortening the TTL",
				util*100))
		}
	}

	samples := perf.Latency.Fast + perf.Latency.Medium + perf.Latency.Slow
	if samples >= minRequestsForAdvice {
		if share := float64(perf.Latency.Slow) / float64(samples); share > slowShareLimit {
			recs = append(recs, fmt.Sprintf(
				"%.0f%% of loads take over 1s: source fetches dominate, consider preloading or a nearer source",
				share*100))
		}
	}
	if perf.TotalRequests >= minRequestsForAdvice && perf.AvgLoadLatency.Milliseconds() > slowAvgLatencyMillis {
		recs = append(recs, fmt.Sprintf(
			"average load latency is %v: check source transport health",
			perf.AvgLoadLatency.Round(time.Millisecond)))
	}

	if perf.TotalMisses > 0 && float64(perf.FetchRetries) > float64(perf.TotalMisses)*0.5 {
		recs = append(recs, fmt.Sprintf(
			"%d fetch retries across %d misses: the source transport is flaky, review retry and timeout settings",
			perf.FetchRetries, perf.TotalMisses))
	}

	if len(recs) == 0 {
		recs = append(recs, "cache is operating within healthy bounds")
	}
	return recs
}
