package metrics

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/assetcache/assetcache/internal/config"
	"github.com/assetcache/assetcache/pkg/errors"
	"github.com/assetcache/assetcache/pkg/types"
)

// Latency bucket boundaries: fast <100ms, medium 100ms-1s, slow >1s.
const (
	fastBound   = 100 * time.Millisecond
	mediumBound = time.Second
)

// Collector tracks engine performance with relaxed atomic counters and
// mirrors them into prometheus collectors on a private registry. The
// CachePerformance snapshot is the canonical metrics surface; prometheus
// export is ambient instrumentation on top.
type Collector struct {
	cfg    config.MetricsConfig
	logger *zap.Logger

	requests    atomic.Int64
	hits        atomic.Int64
	misses      atomic.Int64
	evictions   atomic.Int64
	expirations atomic.Int64
	retries     atomic.Int64

	latencyTotal atomic.Int64 // nanoseconds
	fast         atomic.Int64
	medium       atomic.Int64
	slow         atomic.Int64

	volatileBytes      atomic.Int64
	durableBytes       atomic.Int64
	assetCount         atomic.Int64
	preloadConcurrency atomic.Int64

	registry         *prometheus.Registry
	promRequests     *prometheus.CounterVec
	promEvictions    *prometheus.CounterVec
	promExpirations  *prometheus.CounterVec
	promRetries      prometheus.Counter
	promLoadDuration prometheus.Histogram
	promTierUsage    *prometheus.GaugeVec
	promAssetCount   prometheus.Gauge
	promPreload      prometheus.Gauge

	server *http.Server
}

// NewCollector creates a collector. When the configuration disables metrics
// the atomic counters still run (the snapshot stays canonical) but nothing
// is registered or served.
func NewCollector(cfg config.MetricsConfig, logger *zap.Logger) (*Collector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Collector{
		cfg:    cfg,
		logger: logger.Named("metrics"),
	}

	if !cfg.Enabled {
		return c, nil
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "assetcache"
	}

	c.registry = prometheus.NewRegistry()
	c.promRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total lookup requests by result",
		},
		[]string{"result"},
	)
	c.promEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Records evicted for capacity, by tier",
		},
		[]string{"tier"},
	)
	c.promExpirations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expirations_total",
			Help:      "Records removed by TTL expiry, by tier",
		},
		[]string{"tier"},
	)
	c.promRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Fetch attempts beyond the first",
		},
	)
	c.promLoadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "load_duration_seconds",
			Help:      "Observed load latency",
			Buckets:   []float64{fastBound.Seconds(), mediumBound.Seconds()},
		},
	)
	c.promTierUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tier_usage_bytes",
			Help:      "Resident bytes per storage tier",
		},
		[]string{"tier"},
	)
	c.promAssetCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "assets",
			Help:      "Records resident across tiers",
		},
	)
	c.promPreload = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "preload_concurrency",
			Help:      "Current adaptive preload concurrency",
		},
	)

	collectors := []prometheus.Collector{
		c.promRequests, c.promEvictions, c.promExpirations, c.promRetries,
		c.promLoadDuration, c.promTierUsage, c.promAssetCount, c.promPreload,
	}
	for _, collector := range collectors {
		if err := c.registry.Register(collector); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternalError,
				"failed to register prometheus collector", err)
		}
	}

	return c, nil
}

// Start serves the prometheus and health endpoints when a listen address is
// configured. No-op otherwise.
func (c *Collector) Start() {
	if !c.cfg.Enabled || c.cfg.ListenAddress == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy","service":"assetcache"}`))
	})

	c.server = &http.Server{
		Addr:              c.cfg.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func() {
		c.logger.Info("metrics listener started", zap.String("address", c.cfg.ListenAddress))
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("metrics listener failed", zap.Error(err))
		}
	}()
}

// Stop shuts down the metrics listener, if one was started.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// RecordHit files one successful lookup and its observed latency.
func (c *Collector) RecordHit(latency time.Duration) {
	c.requests.Add(1)
	c.hits.Add(1)
	c.observeLatency(latency)
	if c.cfg.Enabled {
		c.promRequests.WithLabelValues("hit").Inc()
		c.promLoadDuration.Observe(latency.Seconds())
	}
}

// RecordMiss files one lookup that had to go to the source (or found
// nothing) and its observed latency.
func (c *Collector) RecordMiss(latency time.Duration) {
	c.requests.Add(1)
	c.misses.Add(1)
	c.observeLatency(latency)
	if c.cfg.Enabled {
		c.promRequests.WithLabelValues("miss").Inc()
		c.promLoadDuration.Observe(latency.Seconds())
	}
}

// RecordEviction files one capacity eviction from the given tier.
func (c *Collector) RecordEviction(tier types.StorageTier) {
	c.evictions.Add(1)
	if c.cfg.Enabled {
		c.promEvictions.WithLabelValues(string(tier)).Inc()
	}
}

// RecordExpiration files one TTL removal from the given tier.
func (c *Collector) RecordExpiration(tier types.StorageTier) {
	c.expirations.Add(1)
	if c.cfg.Enabled {
		c.promExpirations.WithLabelValues(string(tier)).Inc()
	}
}

// RecordRetry files one fetch attempt beyond the first.
func (c *Collector) RecordRetry() {
	c.retries.Add(1)
	if c.cfg.Enabled {
		c.promRetries.Inc()
	}
}

// SetTierUsage refreshes the occupancy gauges.
func (c *Collector) SetTierUsage(volatileBytes, durableBytes, assetCount int64) {
	c.volatileBytes.Store(volatileBytes)
	c.durableBytes.Store(durableBytes)
	c.assetCount.Store(assetCount)
	if c.cfg.Enabled {
		c.promTierUsage.WithLabelValues(string(types.TierVolatile)).Set(float64(volatileBytes))
		c.promTierUsage.WithLabelValues(string(types.TierDurable)).Set(float64(durableBytes))
		c.promAssetCount.Set(float64(assetCount))
	}
}

// SetPreloadConcurrency mirrors the adaptive preload concurrency.
func (c *Collector) SetPreloadConcurrency(n int) {
	c.preloadConcurrency.Store(int64(n))
	if c.cfg.Enabled {
		c.promPreload.Set(float64(n))
	}
}

// HitRate returns hits/requests, 0 when nothing was requested yet.
func (c *Collector) HitRate() float64 {
	requests := c.requests.Load()
	if requests == 0 {
		return 0
	}
	return float64(c.hits.Load()) / float64(requests)
}

// Snapshot produces the canonical point-in-time performance view.
func (c *Collector) Snapshot() types.CachePerformance {
	requests := c.requests.Load()
	hits := c.hits.Load()
	misses := c.misses.Load()

	perf := types.CachePerformance{
		TotalRequests: requests,
		TotalHits:     hits,
		TotalMisses:   misses,
		Latency: types.LatencyBuckets{
			Fast:   c.fast.Load(),
			Medium: c.medium.Load(),
			Slow:   c.slow.Load(),
		},
		VolatileUsageBytes: c.volatileBytes.Load(),
		DurableUsageBytes:  c.durableBytes.Load(),
		AssetCount:         c.assetCount.Load(),
		Evictions:          c.evictions.Load(),
		Expirations:        c.expirations.Load(),
		FetchRetries:       c.retries.Load(),
		PreloadConcurrency: int(c.preloadConcurrency.Load()),
	}
	perf.TotalBytesStored = perf.VolatileUsageBytes + perf.DurableUsageBytes

	if requests > 0 {
		perf.HitRate = float64(hits) / float64(requests)
		perf.MissRate = float64(misses) / float64(requests)
		perf.AvgLoadLatency = time.Duration(c.latencyTotal.Load() / requests)
	}
	return perf
}

func (c *Collector) observeLatency(latency time.Duration) {
	c.latencyTotal.Add(int64(latency))
	switch {
	case latency < fastBound:
		c.fast.Add(1)
	case latency <= mediumBound:
		c.medium.Add(1)
	default:
		c.slow.Add(1)
	}
}
