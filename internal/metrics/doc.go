/*
Package metrics tracks the asset cache engine's performance counters.

The Collector keeps relaxed atomic counters for requests, hits, misses,
evictions, expirations, and fetch retries, plus a three-bucket latency
histogram (fast <100ms, medium 100ms-1s, slow >1s) and tier-occupancy
gauges. Snapshot derives the canonical CachePerformance view, including
hit/miss rates and the running average load latency.

When metrics are enabled every counter is mirrored into prometheus
collectors on a private registry; setting a listen address additionally
serves /metrics and /health over HTTP.
*/
package metrics
