package idempotency

import (
	"sync"
	"time"
)

// HotCacheEntry records when a key was last seen present, so the shared
// tier can expire it independently of any per-request state.
type HotCacheEntry struct {
	SeenAt time.Time
}

// HotCache is the two-tier "recent-seen" set that short-circuits the
// durable storage lookup (§4.5). Semantics are positive-only: a hit means
// "the record exists or was just written, so skip the lock and fetch
// straight from storage"; a miss carries no information and always falls
// through to storage. HotCache must never be used to prove absence.
//
// Tier (i) is a per-request in-process set, modeled here simply as the
// caller checking Seen before doing any work at all — a single interceptor
// instance reuses the same HotCache across requests, so that tier is really
// the shared map below with a TTL short enough to behave like "this
// process, this burst of retries".
// Tier (ii) is the shared map itself, with a small TTL (2-5s) intended to
// absorb a thundering-herd burst of retries without hammering storage.
type HotCache struct {
	mu      sync.RWMutex
	entries map[string]HotCacheEntry
	ttl     time.Duration
}

// NewHotCache builds a hot cache with the given shared-tier TTL.
func NewHotCache(ttl time.Duration) *HotCache {
	return &HotCache{
		entries: make(map[string]HotCacheEntry),
		ttl:     ttl,
	}
}

// Seen reports whether key was marked present within the TTL window. A
// false return carries no information about durable storage.
func (h *HotCache) Seen(key string, now time.Time) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	entry, ok := h.entries[key]
	if !ok {
		return false
	}
	return now.Sub(entry.SeenAt) < h.ttl
}

// Warm marks key as recently seen, e.g. immediately after a successful
// Storage.Put.
func (h *HotCache) Warm(key string, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[key] = HotCacheEntry{SeenAt: now}
}

// Evict drops any entries older than the TTL, bounding memory growth for
// long-lived processes. Safe to call periodically from Maintenance.
func (h *HotCache) Evict(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	removed := 0
	for key, entry := range h.entries {
		if now.Sub(entry.SeenAt) >= h.ttl {
			delete(h.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the current number of tracked entries, for diagnostics.
func (h *HotCache) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
