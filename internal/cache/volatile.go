package cache

import (
	"container/list"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/assetcache/assetcache/pkg/types"
)

// EvictionReason distinguishes why a record left the volatile tier.
type EvictionReason string

const (
	ReasonCapacity EvictionReason = "capacity"
	ReasonExpired  EvictionReason = "expired"
	ReasonExplicit EvictionReason = "explicit"
)

// EvictionCallback is invoked after a record is removed from the tier.
// Called outside the critical path but while the cache lock is held, so
// callbacks must not call back into the cache.
type EvictionCallback func(asset *types.CachedAsset, reason EvictionReason)

// VolatileCache is the fast in-process tier: a thread-safe map from asset id
// to record with LRU ordering by last access and a byte-capacity ceiling over
// resident content sizes. Eviction here is demotion in access speed, never
// deletion of the asset; a durable copy, if one exists, is untouched.
type VolatileCache struct {
	mu          sync.RWMutex
	capacity    int64
	currentSize int64
	items       map[string]*volatileItem
	evictList   *list.List // front = most recently accessed

	evictionFraction float64
	onEvict          EvictionCallback
	logger           *zap.Logger
}

type volatileItem struct {
	asset   *types.CachedAsset
	element *list.Element
}

// listEntry is the value stored in eviction list elements
type listEntry struct {
	id string
}

// NewVolatileCache creates a volatile tier with the given byte capacity and
// batch eviction fraction.
func NewVolatileCache(capacity int64, evictionFraction float64, logger *zap.Logger) *VolatileCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if evictionFraction <= 0 || evictionFraction > 1 {
		evictionFraction = 0.20
	}

	return &VolatileCache{
		capacity:         capacity,
		items:            make(map[string]*volatileItem),
		evictList:        list.New(),
		evictionFraction: evictionFraction,
		logger:           logger.Named("volatile"),
	}
}

// SetEvictionCallback registers the callback notified on every removal.
func (c *VolatileCache) SetEvictionCallback(cb EvictionCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = cb
}

// Get returns a snapshot of the resident record for id and records one
// access, moving it to the front of the LRU order. Expired records are
// removed and reported absent. The snapshot shares the immutable content
// buffer but its bookkeeping is the caller's own copy.
func (c *VolatileCache) Get(id string, now time.Time) (*types.CachedAsset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.items[id]
	if !exists {
		return nil, false
	}

	if item.asset.Expired(now) {
		c.removeLocked(id, ReasonExpired)
		return nil, false
	}

	item.asset.Touch(now)
	c.evictList.MoveToFront(item.element)
	return item.asset.Clone(), true
}

// Peek returns a snapshot of the resident record without recording an
// access or changing LRU order. Expired records are reported absent but
// left for the sweep.
func (c *VolatileCache) Peek(id string, now time.Time) (*types.CachedAsset, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.items[id]
	if !exists || item.asset.Expired(now) {
		return nil, false
	}
	return item.asset.Clone(), true
}

// Contains reports whether a non-expired record for id is resident.
func (c *VolatileCache) Contains(id string, now time.Time) bool {
	_, ok := c.Peek(id, now)
	return ok
}

// Add inserts a record, evicting least-recently-accessed batches as needed
// to stay under capacity. Returns false when the record alone exceeds total
// capacity; the caller's tier choice degrades instead of erroring.
func (c *VolatileCache) Add(asset *types.CachedAsset, now time.Time) bool {
	size := asset.SizeBytes()
	if size > c.capacity {
		c.logger.Debug("record exceeds tier capacity, not admitted",
			zap.String("id", asset.ID),
			zap.Int64("size", size),
			zap.Int64("capacity", c.capacity))
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Replace an existing record in place. A larger replacement can push the
	// tier over its ceiling, so the eviction loop runs here too; the replaced
	// entry sits at the front and is never a victim while others remain.
	if item, exists := c.items[asset.ID]; exists {
		c.currentSize -= item.asset.SizeBytes()
		item.asset = asset
		c.currentSize += size
		c.evictList.MoveToFront(item.element)
		for c.currentSize > c.capacity && c.evictList.Len() > 1 {
			element := c.evictList.Back()
			entry := element.Value.(*listEntry)
			if !c.removeLocked(entry.id, ReasonCapacity) {
				c.evictList.Remove(element)
			}
		}
		return true
	}

	for c.currentSize+size > c.capacity && c.evictList.Len() > 0 {
		c.evictBatchLocked(c.evictionFraction)
	}

	element := c.evictList.PushFront(&listEntry{id: asset.ID})
	c.items[asset.ID] = &volatileItem{asset: asset, element: element}
	c.currentSize += size
	return true
}

// Remove deletes the record for id from this tier only.
func (c *VolatileCache) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(id, ReasonExplicit)
}

// Clear empties the tier and returns the number of records removed.
func (c *VolatileCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := len(c.items)
	if c.onEvict != nil {
		for _, item := range c.items {
			c.onEvict(item.asset, ReasonExplicit)
		}
	}
	c.items = make(map[string]*volatileItem)
	c.evictList.Init()
	c.currentSize = 0
	return removed
}

// EvictBatch removes the least-recently-accessed fraction of resident
// records and returns how many were evicted.
func (c *VolatileCache) EvictBatch(fraction float64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictBatchLocked(fraction)
}

// RemoveExpired sweeps out every record whose TTL elapsed before now.
func (c *VolatileCache) RemoveExpired(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []string
	for id, item := range c.items {
		if item.asset.Expired(now) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		c.removeLocked(id, ReasonExpired)
	}
	return len(expired)
}

// Resident returns the current record count and resident bytes.
func (c *VolatileCache) Resident() (int, int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items), c.currentSize
}

// Capacity returns the configured byte ceiling.
func (c *VolatileCache) Capacity() int64 {
	return c.capacity
}

// OverCapacity reports whether resident bytes exceed the ceiling.
func (c *VolatileCache) OverCapacity() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentSize > c.capacity
}

// Keys returns the ids of all resident records.
func (c *VolatileCache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.items))
	for id := range c.items {
		keys = append(keys, id)
	}
	return keys
}

func (c *VolatileCache) evictBatchLocked(fraction float64) int {
	if fraction <= 0 || fraction > 1 {
		fraction = c.evictionFraction
	}
	count := int(math.Ceil(float64(len(c.items)) * fraction))
	if count == 0 && len(c.items) > 0 {
		count = 1
	}

	evicted := 0
	for evicted < count {
		element := c.evictList.Back()
		if element == nil {
			break
		}
		entry := element.Value.(*listEntry)
		if c.removeLocked(entry.id, ReasonCapacity) {
			evicted++
		} else {
			c.evictList.Remove(element)
		}
	}

	if evicted > 0 {
		c.logger.Debug("evicted LRU batch",
			zap.Int("evicted", evicted),
			zap.Int64("resident_bytes", c.currentSize))
	}
	return evicted
}

func (c *VolatileCache) removeLocked(id string, reason EvictionReason) bool {
	item, exists := c.items[id]
	if !exists {
		return false
	}

	c.evictList.Remove(item.element)
	delete(c.items, id)
	c.currentSize -= item.asset.SizeBytes()

	if c.onEvict != nil {
		c.onEvict(item.asset, reason)
	}
	return true
}
