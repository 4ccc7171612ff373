/*
Package cache implements the volatile tier and the tier-selection policy of
the asset cache engine.

VolatileCache is the fastest access path: an in-process, capacity-bounded
map from asset id to record, LRU-ordered by last access. When an insertion
would exceed the byte ceiling the least-recently-accessed 20% of resident
records are evicted in one batch, amortizing eviction cost. Eviction from
this tier only demotes an asset's access speed; any durable copy remains.

StrategySelector is the admission policy: a pure mapping from asset type and
size to a storage tier (volatile, hybrid, or durable) plus TTL computation.
Priorities come from the configured per-type table.
*/
package cache
