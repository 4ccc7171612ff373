package types

import (
	"time"

	"github.com/assetcache/assetcache/internal/config"
)

// StorageTier identifies which tier(s) hold an asset's content
type StorageTier string

const (
	// TierVolatile - in-process memory only, lost on restart
	TierVolatile StorageTier = "volatile"
	// TierDurable - local persistent store only, survives restart
	TierDurable StorageTier = "durable"
	// TierHybrid - resident in both tiers simultaneously
	TierHybrid StorageTier = "hybrid"
)

// Priority ranks an asset for tier selection and preload ordering
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// LoadStatus is the loading state machine position of an asset record
type LoadStatus string

const (
	StatusPending LoadStatus = "pending"
	StatusLoading LoadStatus = "loading"
	StatusLoaded  LoadStatus = "loaded"
	StatusError   LoadStatus = "error"
	StatusExpired LoadStatus = "expired"
)

// Dimensions represents pixel dimensions of an image asset
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// AssetMetadata describes a generated asset. Set once when the load is
// first requested and immutable thereafter.
type AssetMetadata struct {
	AssetType     string      `json:"asset_type"`
	Quality       string      `json:"quality"`
	FileSizeBytes int64       `json:"file_size_bytes"`
	MimeType      string      `json:"mime_type"`
	Dimensions    *Dimensions `json:"dimensions,omitempty"`
	GeneratedAt   time.Time   `json:"generated_at"`
	SessionID     string      `json:"session_id"`
}

// CacheInfo is the mutable cache bookkeeping attached to an asset record,
// updated on every access and on storage decisions.
type CacheInfo struct {
	CachedAt     time.Time   `json:"cached_at"`
	LastAccessed time.Time   `json:"last_accessed"`
	AccessCount  int64       `json:"access_count"`
	ExpiresAt    time.Time   `json:"expires_at"`
	StorageTier  StorageTier `json:"storage_tier"`
	Priority     Priority    `json:"priority"`
}

// LoadState tracks the load state machine for an asset record
type LoadState struct {
	Status          LoadStatus `json:"status"`
	ProgressPercent int        `json:"progress_percent"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	RetryCount      int        `json:"retry_count"`
	LastRetryAt     *time.Time `json:"last_retry_at,omitempty"`
}

// CachedAsset is the central cache entity: one generated binary asset plus
// its metadata and cache bookkeeping, keyed by ID across all tiers.
type CachedAsset struct {
	ID             string        `json:"id"`
	SourceLocation string        `json:"source_location"`
	Content        []byte        `json:"content,omitempty"`
	EncodedContent string        `json:"encoded_content,omitempty"`
	Metadata       AssetMetadata `json:"metadata"`
	CacheInfo      CacheInfo     `json:"cache_info"`
	LoadState      LoadState     `json:"load_state"`
}

// SizeBytes returns the resident size of the asset. Before content arrives
// the declared metadata size is used so tier selection can run up front.
func (a *CachedAsset) SizeBytes() int64 {
	if len(a.Content) > 0 {
		return int64(len(a.Content))
	}
	return a.Metadata.FileSizeBytes
}

// Expired reports whether the record's TTL has elapsed at the given time.
// A zero ExpiresAt means the record never expires.
func (a *CachedAsset) Expired(now time.Time) bool {
	if a.CacheInfo.ExpiresAt.IsZero() {
		return false
	}
	return now.After(a.CacheInfo.ExpiresAt)
}

// Loaded reports whether the record carries authoritative content
func (a *CachedAsset) Loaded() bool {
	return a.LoadState.Status == StatusLoaded
}

// Touch records one successful retrieval of the asset
func (a *CachedAsset) Touch(now time.Time) {
	a.CacheInfo.LastAccessed = now
	a.CacheInfo.AccessCount++
}

// Clone returns a snapshot copy of the record. Content is shared rather
// than copied: it is never mutated after the record reaches StatusLoaded,
// so callers must treat the returned buffer as read-only.
func (a *CachedAsset) Clone() *CachedAsset {
	if a == nil {
		return nil
	}
	out := *a
	if a.Metadata.Dimensions != nil {
		dims := *a.Metadata.Dimensions
		out.Metadata.Dimensions = &dims
	}
	if a.LoadState.LastRetryAt != nil {
		at := *a.LoadState.LastRetryAt
		out.LoadState.LastRetryAt = &at
	}
	return &out
}

// LatencyBuckets is the three-bucket load latency histogram:
// fast <100ms, medium 100ms-1s, slow >1s.
type LatencyBuckets struct {
	Fast   int64 `json:"fast"`
	Medium int64 `json:"medium"`
	Slow   int64 `json:"slow"`
}

// CachePerformance is a point-in-time snapshot of engine performance,
// recomputed continuously from the shared counters.
type CachePerformance struct {
	TotalRequests      int64          `json:"total_requests"`
	TotalHits          int64          `json:"total_hits"`
	TotalMisses        int64          `json:"total_misses"`
	HitRate            float64        `json:"hit_rate"`
	MissRate           float64        `json:"miss_rate"`
	AvgLoadLatency     time.Duration  `json:"avg_load_latency"`
	Latency            LatencyBuckets `json:"latency"`
	VolatileUsageBytes int64          `json:"volatile_usage_bytes"`
	DurableUsageBytes  int64          `json:"durable_usage_bytes"`
	TotalBytesStored   int64          `json:"total_bytes_stored"`
	AssetCount         int64          `json:"asset_count"`
	Evictions          int64          `json:"evictions"`
	Expirations        int64          `json:"expirations"`
	FetchRetries       int64          `json:"fetch_retries"`
	PreloadConcurrency int            `json:"preload_concurrency"`
}

// FetchResult is the outcome of one successful source fetch
type FetchResult struct {
	Data     []byte `json:"-"`
	MimeType string `json:"mime_type"`
}

// StoreStats summarizes durable-store occupancy
type StoreStats struct {
	Count     int64 `json:"count"`
	UsedBytes int64 `json:"used_bytes"`
}

// Configuration type aliases re-exported so library consumers can construct
// and inspect engine configuration without importing internal packages.
type (
	Configuration   = config.Configuration
	CacheStrategy   = config.CacheStrategy
	PreloadStrategy = config.PreloadStrategy
	RetryConfig     = config.RetryConfig
	FetchConfig     = config.FetchConfig
	S3Config        = config.S3Config
	StoreConfig     = config.StoreConfig
	MetricsConfig   = config.MetricsConfig
	LoggingConfig   = config.LoggingConfig
)
