/*
Package types provides the core interfaces, data structures, and type
definitions for the asset cache engine.

This package is the foundation of the system: it defines the contracts between
components and the data structures shared across the codebase.

# Architecture Overview

The engine is a two-tier cache with a single public facade:

	┌─────────────────────────────────────────────┐
	│            Cache Manager Facade             │
	│                (pkg/engine)                 │
	└─────────────────────────────────────────────┘
	      │           │            │         │
	┌─────┴────┐ ┌────┴─────┐ ┌────┴────┐ ┌──┴──────┐
	│ Volatile │ │ Durable  │ │ Loader  │ │ Metrics │
	│  Cache   │ │  Store   │ │ (fetch) │ │         │
	└──────────┘ └──────────┘ └─────────┘ └─────────┘

# Core Interfaces

Fetcher:
Abstracts retrieval of asset bytes from a source location (HTTP or S3).
Used exclusively by the single-flight loader; implementations must honor
context deadlines and make timeouts distinguishable from other failures.

DurableStore:
The persistent tier contract. Serialized CachedAsset records keyed by id,
surviving process restarts, with secondary lookups by session id, asset
type, and expiry time for efficient maintenance sweeps.

# Data Structures

CachedAsset:
The central entity. One generated binary asset (image) plus immutable
metadata, mutable cache bookkeeping (CacheInfo), and the load state machine
position (LoadState). Content is exclusively owned by the record once
loaded and never mutated afterward, so snapshot clones share the buffer.

CachePerformance:
A point-in-time snapshot of hit/miss counters, the three-bucket latency
histogram, tier usage, and adaptive preload concurrency.

Configuration Types:
Aliases of the internal configuration hierarchy (YAML, environment
variables, validation) re-exported so consumers can build a Configuration
without importing internal packages.

# Interface Contracts

All interfaces in this package follow these principles:

 1. Context awareness: blocking operations accept context.Context
 2. Explicit errors: all operations return errors following Go conventions
 3. Thread safety: implementations are safe for concurrent use
 4. Statistics: tiers expose occupancy for capacity decisions

# Concurrency

CachedAsset values returned by the engine are snapshots: CacheInfo and
LoadState are copied, Content is shared read-only. The canonical record
lives inside the tiers and is only mutated under their locks.
*/
package types
