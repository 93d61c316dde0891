package core

import (
	"MarginLedger/internal/observability"
	"container/list"
	"context"
	"fmt"
	"sync"
)

// IdempotencyChecker implements two-tier command deduplication
type IdempotencyChecker struct {
	// Tier 1: In-memory LRU
	lru *IdempotencyLRU

	// Tier 2: durable command log (injected via interface)
	log CommandLog

	metrics *observability.Metrics
}

// CommandLog is the durable record of applied commands.
type CommandLog interface {
	IsDuplicate(ctx context.Context, kind, commandID string) (bool, error)
	Record(ctx context.Context, kind, commandID string) error
}

func NewIdempotencyChecker(capacity int, log CommandLog, metrics *observability.Metrics) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:     NewIdempotencyLRU(capacity),
		log:     log,
		metrics: metrics,
	}
}

func compositeKey(kind, commandID string) string {
	return fmt.Sprintf("%s:%s", kind, commandID)
}

// IsDuplicate reports whether the command has already been applied. Unlike a
// pure cache, a failing tier 2 is surfaced so the caller can redeliver later
// instead of applying a command twice.
func (ic *IdempotencyChecker) IsDuplicate(ctx context.Context, kind, commandID string) (bool, error) {
	key := compositeKey(kind, commandID)

	if ic.lru.Contains(key) {
		ic.recordDuplicate(kind, "lru")
		return true, nil
	}

	if ic.log == nil {
		return false, nil
	}

	isDup, err := ic.log.IsDuplicate(ctx, kind, commandID)
	if err != nil {
		return false, fmt.Errorf("command log lookup: %w", err)
	}
	if isDup {
		ic.recordDuplicate(kind, "postgres")
		ic.lru.Add(key)
		return true, nil
	}
	return false, nil
}

// MarkProcessed records the command in both tiers after it was applied.
func (ic *IdempotencyChecker) MarkProcessed(ctx context.Context, kind, commandID string) error {
	ic.lru.Add(compositeKey(kind, commandID))
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Size()))
	}
	if ic.log == nil {
		return nil
	}
	if err := ic.log.Record(ctx, kind, commandID); err != nil {
		return fmt.Errorf("record command %s: %w", commandID, err)
	}
	return nil
}

// Warm preloads composite keys (kind:command_id), typically the most recent
// rows of the command log, so restarts do not fall through to tier 2.
func (ic *IdempotencyChecker) Warm(keys []string) {
	ic.lru.WarmFromKeys(keys)
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Size()))
	}
}

// LRU exposes the first tier for inspection.
func (ic *IdempotencyChecker) LRU() *IdempotencyLRU {
	return ic.lru
}

func (ic *IdempotencyChecker) recordDuplicate(kind, tier string) {
	if ic.metrics != nil {
		ic.metrics.CommandDuplicates.WithLabelValues(kind, tier).Inc()
	}
}

// --- LRU Implementation ---

// IdempotencyLRU is a bounded LRU set of keys, safe for concurrent use.
type IdempotencyLRU struct {
	mu       sync.Mutex
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity < 1 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key string) bool {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
	}
	return exists
}

// Add inserts a key (or promotes if exists)
func (lru *IdempotencyLRU) Add(key string) {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	lru.add(key)
}

func (lru *IdempotencyLRU) add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	lru.cache[key] = lru.lruList.PushFront(key)
	if lru.lruList.Len() > lru.capacity {
		oldest := lru.lruList.Back()
		lru.lruList.Remove(oldest)
		delete(lru.cache, oldest.Value.(string))
		lru.evictions++
	}
}

// WarmFromKeys loads keys oldest first, so the last key ends up most recent.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	for _, key := range keys {
		lru.add(key)
	}
}

// Size returns current number of entries
func (lru *IdempotencyLRU) Size() int {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	return lru.lruList.Len()
}

// Evictions returns total evictions
func (lru *IdempotencyLRU) Evictions() int64 {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	return lru.evictions
}
