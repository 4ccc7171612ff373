// Package preload issues bounded-concurrency anticipatory loads for a
// predicted set of assets. Preloading is best-effort: individual failures
// are captured and aggregated, never propagated to the caller.
package preload

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/assetcache/assetcache/internal/config"
	"github.com/assetcache/assetcache/pkg/types"
)

// Request names one asset to preload.
type Request struct {
	ID             string
	SourceLocation string
	Metadata       types.AssetMetadata
}

// Result aggregates one batch. The batch id correlates log lines across the
// batch's individual attempts.
type Result struct {
	BatchID   string        `json:"batch_id"`
	Requested int           `json:"requested"`
	Loaded    int           `json:"loaded"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Elapsed   time.Duration `json:"elapsed"`
}

// LoadFunc performs one anticipatory load; the engine supplies its LoadAsset
// path with preload options applied.
type LoadFunc func(ctx context.Context, req Request) error

// ResidentFunc reports whether an asset is already volatile-resident, so the
// batch can skip it.
type ResidentFunc func(id string) bool

// PriorityFunc resolves an asset type's priority for batch ordering.
type PriorityFunc func(assetType string) types.Priority

// Preloader runs preload batches under the process-wide preload strategy
// with an adaptive concurrency cap.
type Preloader struct {
	strategy    config.PreloadStrategy
	mode        string
	load        LoadFunc
	resident    ResidentFunc
	priorityFor PriorityFunc
	concurrency atomic.Int64
	logger      *zap.Logger
}

// New creates a preloader. mode is the cache strategy's preload mode
// (aggressive, smart, or lazy).
func New(strategy config.PreloadStrategy, mode string, load LoadFunc, resident ResidentFunc, priorityFor PriorityFunc, logger *zap.Logger) *Preloader {
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Preloader{
		strategy:    strategy,
		mode:        mode,
		load:        load,
		resident:    resident,
		priorityFor: priorityFor,
		logger:      logger.Named("preload"),
	}
	p.concurrency.Store(int64(strategy.MaxConcurrent))
	return p
}

// Concurrency returns the current adaptive concurrency cap.
func (p *Preloader) Concurrency() int {
	return int(p.concurrency.Load())
}

// Adjust moves the concurrency cap by the closed-loop rule: raise it when
// the hit rate is low (more anticipatory loading), lower it when the hit
// rate is high (bandwidth over staleness). Returns the new cap.
func (p *Preloader) Adjust(hitRate float64) int {
	current := int(p.concurrency.Load())
	next := current
	switch {
	case hitRate < 0.6 && current < p.strategy.AdaptiveMax:
		next = current + 1
	case hitRate > 0.9 && current > p.strategy.AdaptiveMin:
		next = current - 1
	}
	if next != current {
		p.concurrency.Store(int64(next))
		p.logger.Info("adjusted preload concurrency",
			zap.Float64("hit_rate", hitRate),
			zap.Int("from", current),
			zap.Int("to", next))
	}
	return next
}

// Preload runs one batch: filters requests by the strategy, orders them by
// priority, skips volatile residents, and loads the rest with bounded
// concurrency. It returns once every attempt has settled; failures are
// logged and counted, never returned.
func (p *Preloader) Preload(ctx context.Context, reqs []Request) *Result {
	start := time.Now()
	result := &Result{
		BatchID:   uuid.New().String(),
		Requested: len(reqs),
	}

	eligible := p.filter(reqs, result)
	p.order(eligible)

	if len(eligible) == 0 {
		result.Elapsed = time.Since(start)
		return result
	}

	var loaded, failed atomic.Int64
	workers := pool.New().WithMaxGoroutines(p.Concurrency())
	for _, req := range eligible {
		req := req
		workers.Go(func() {
			if err := p.load(ctx, req); err != nil {
				failed.Add(1)
				p.logger.Warn("preload attempt failed",
					zap.String("batch_id", result.BatchID),
					zap.String("id", req.ID),
					zap.Error(err))
				return
			}
			loaded.Add(1)
		})
	}
	workers.Wait()

	result.Loaded = int(loaded.Load())
	result.Failed = int(failed.Load())
	result.Elapsed = time.Since(start)

	p.logger.Info("preload batch settled",
		zap.String("batch_id", result.BatchID),
		zap.Int("requested", result.Requested),
		zap.Int("loaded", result.Loaded),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Duration("elapsed", result.Elapsed))
	return result
}

// filter applies the preload strategy: disabled or lazy mode skips all,
// smart mode admits only eligible asset types, aggressive admits everything.
// Volatile residents are always skipped.
func (p *Preloader) filter(reqs []Request, result *Result) []Request {
	if !p.strategy.Enabled || p.mode == "lazy" {
		result.Skipped = len(reqs)
		return nil
	}

	eligibleTypes := make(map[string]bool, len(p.strategy.AssetTypes))
	for _, t := range p.strategy.AssetTypes {
		eligibleTypes[t] = true
	}

	var eligible []Request
	for _, req := range reqs {
		if p.mode == "smart" && !eligibleTypes[req.Metadata.AssetType] {
			result.Skipped++
			continue
		}
		if p.resident != nil && p.resident(req.ID) {
			result.Skipped++
			continue
		}
		eligible = append(eligible, req)
	}
	return eligible
}

// order sorts the batch by the configured priority order, stable within one
// priority.
func (p *Preloader) order(reqs []Request) {
	if p.priorityFor == nil || len(p.strategy.PriorityOrder) == 0 {
		return
	}

	rank := make(map[string]int, len(p.strategy.PriorityOrder))
	for i, priority := range p.strategy.PriorityOrder {
		rank[priority] = i
	}

	sort.SliceStable(reqs, func(i, j int) bool {
		ri, iok := rank[string(p.priorityFor(reqs[i].Metadata.AssetType))]
		rj, jok := rank[string(p.priorityFor(reqs[j].Metadata.AssetType))]
		if !iok {
			ri = len(rank)
		}
		if !jok {
			rj = len(rank)
		}
		return ri < rj
	})
}
