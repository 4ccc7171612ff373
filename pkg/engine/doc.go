// Package engine is the public entry point of the asset cache: a Manager
// composes the volatile in-process tier, the durable bbolt-backed tier, the
// single-flight loader with retry, the tier-selection strategy, the
// preloader, and the metrics collector behind one concurrency-safe facade.
//
// Construct one Manager per process with New, serve loads through LoadAsset,
// and release everything with Close. Background maintenance (TTL expiry,
// per-tier LRU capacity enforcement, adaptive preload concurrency) runs on
// the configured interval; OptimizeCache triggers the same sweep on demand.
package engine
