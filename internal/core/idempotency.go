package core

import (
	"container/list"
)

// IdempotencyChecker implements two-tier operation deduplication
type IdempotencyChecker struct {
	// Tier 1: In-memory LRU
	lru *IdempotencyLRU

	// Tier 2: Postgres (injected via interface)
	dbChecker DBIdempotencyChecker
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(opType string, operationID string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
	}
}

// IsDuplicate checks if the operation has been applied (two-tier lookup).
// Operation ids are globally unique, so the id alone is the cache key; the
// type only travels along for the cold-tier lookup and metrics.
func (ic *IdempotencyChecker) IsDuplicate(opType string, operationID string) bool {
	// Tier 1: LRU check (hot path)
	if ic.lru.Contains(operationID) {
		return true
	}

	// Tier 2: Postgres check (cold path)
	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(opType, operationID)
		if err != nil {
			// Conservative: a DB issue must not block operation processing,
			// so assume not duplicate.
			return false
		}

		if isDup {
			// Add to LRU so we don't hit DB again
			ic.lru.Add(operationID)
			return true
		}
	}

	return false
}

// MarkApplied adds the operation id to the LRU after successful processing
func (ic *IdempotencyChecker) MarkApplied(opType string, operationID string) {
	ic.lru.Add(operationID)
}

// --- LRU Implementation ---

// IdempotencyLRU is an LRU cache for operation ids.
// Not thread-safe — only accessed from the single-threaded engine.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

type lruEntry struct {
	key string
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key (or promotes if exists)
func (lru *IdempotencyLRU) Add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	entry := &lruEntry{key: key}
	elem := lru.lruList.PushFront(entry)
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		entry := elem.Value.(*lruEntry)
		delete(lru.cache, entry.key)
		lru.evictions++
	}
}

// WarmFromKeys loads a batch of composite keys into the LRU, used on restart
// to avoid cold-path DB lookups for recently applied operations.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		if _, exists := lru.cache[key]; exists {
			continue
		}
		entry := &lruEntry{key: key}
		elem := lru.lruList.PushFront(entry)
		lru.cache[key] = elem

		if lru.lruList.Len() > lru.capacity {
			lru.evictOldest()
		}
	}
}

// Size returns current number of entries
func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

// Evictions returns total evictions (for metrics)
func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}

// GetAllKeys returns every cached key (for snapshot creation)
func (lru *IdempotencyLRU) GetAllKeys() []string {
	keys := make([]string, 0, lru.lruList.Len())
	for elem := lru.lruList.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*lruEntry).key)
	}
	return keys
}
