// Package prepare implements the server-prepared-statement result and
// its LRU-backed cache from spec.md §4.5 (M2): a prepared statement
// handle is reference-counted so it can be shared by concurrent callers
// and only torn down on the server once the last sharer and the cache
// itself have both let go of it.
//
// Grounded on iperfex-team-burrowctl/server/query_cache.go's cache
// lifecycle (get/put/evict), replumbed onto internal/lru's generic
// Cache and generalized from "cache a response" to "cache a shared,
// reference-counted server handle".
package prepare

import (
	"fmt"
	"sync"

	"github.com/lordbasex/mdriver/internal/lru"
)

// Handle is whatever the transport layer needs to address a prepared
// statement on the server (its statement ID, bound column/parameter
// metadata, etc). internal/prepare only manages its lifecycle, not its
// contents.
type Handle interface {
	// Close releases the server-side resources for this handle. Called
	// at most once, only once the reference count reaches zero and the
	// cache itself no longer holds a reference.
	Close() error
}

// ServerPrepareResult owns one server statement handle plus the
// reference-count bookkeeping spec.md §4.5 describes: share count,
// addedToCache flag, markedForRemoval flag.
type ServerPrepareResult struct {
	mu sync.Mutex

	Key    string
	Handle Handle

	shareCount    int
	addedToCache  bool
	removeOnDrain bool // marked for removal, waiting for shareCount to hit 0
	released      bool
}

// incrementShareCounter returns false iff the entry was already marked
// for removal, per spec.md §4.5: "returns false iff the entry was
// already marked for removal from cache, in which case the caller must
// not use it."
func (r *ServerPrepareResult) incrementShareCounter() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removeOnDrain {
		return false
	}
	r.shareCount++
	return true
}

// decrementShareCounter returns true iff the share count has reached
// zero and the entry is marked for removal, meaning the caller should
// now physically release the server handle.
func (r *ServerPrepareResult) decrementShareCounter() (deallocatable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shareCount > 0 {
		r.shareCount--
	}
	return r.removeOnDrain && r.shareCount == 0
}

// evictFromCache marks the entry as removed from the cache and gives up
// the cache's own share (the one taken at Put time), returning true iff
// that was the last outstanding share (safe to release now). This is
// the eviction-time equivalent of decrementShareCounter, combined with
// the removeFromCache flag per spec.md §4.5's eviction step.
func (r *ServerPrepareResult) evictFromCache() (deallocatable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeOnDrain = true
	if r.shareCount > 0 {
		r.shareCount--
	}
	return r.shareCount == 0
}

// Unshare is called by a statement holder (not the cache itself) when
// it is done with the entry. If this was the last outstanding share and
// the entry has already been evicted from the cache, Unshare releases
// the server handle itself (the cache, having already given up its own
// share at eviction time, will not release it again).
func (r *ServerPrepareResult) Unshare() (deallocatable bool) {
	deallocatable = r.decrementShareCounter()
	if deallocatable {
		r.release()
	}
	return deallocatable
}

// release physically closes the server handle exactly once.
func (r *ServerPrepareResult) release() error {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return nil
	}
	r.released = true
	h := r.Handle
	r.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.Close()
}

// PendingRelease is a statement ID whose deallocation could not happen
// immediately because the protocol lock could not be acquired (spec.md
// §4.5 step 3 / §4.6's cmdPrologue step 2). The caller's cmdPrologue
// flushes these on the next public operation.
type PendingRelease struct {
	Key    string
	Handle Handle
}

// Cache is the prepared-statement cache from spec.md §4.5: keyed by
// "database-sql", bounded by prepStmtCacheSize, with oversize keys
// (beyond prepStmtCacheSqlLimit) never cached at all.
type Cache struct {
	mu        sync.Mutex
	entries   *lru.Cache[string, *ServerPrepareResult]
	sqlLimit  int
	pending   []PendingRelease
	tryAcquireLock func() (release func(), ok bool)
}

// NewCache builds a Cache bounded to maxSize entries, rejecting keys
// longer than sqlLimit bytes from being cached at all. tryAcquireLock
// lets the owning protocol offer a non-blocking lock acquisition for
// forceReleasePrepareStatement (spec.md §4.5 step 3); if nil, release
// always proceeds synchronously (suitable for tests and for callers
// that already hold their own external locking).
func NewCache(maxSize, sqlLimit int, tryAcquireLock func() (func(), bool)) *Cache {
	c := &Cache{sqlLimit: sqlLimit, tryAcquireLock: tryAcquireLock}
	c.entries = lru.New[string, *ServerPrepareResult](maxSize, c.onEvict)
	return c
}

// Key builds the cache key per spec.md §4.5: "database + '-' + sql".
func Key(database, sql string) string { return database + "-" + sql }

// onEvict is the lru.RemovalHook: it marks the victim for removal and
// releases it immediately if its share count is already zero, otherwise
// defers release until the last sharer calls Unshare.
func (c *Cache) onEvict(key string, entry *ServerPrepareResult) bool {
	if entry.evictFromCache() {
		c.forceRelease(entry)
	}
	return true
}

// forceRelease implements spec.md §4.5's "issue forceReleasePrepareStatement
// on the server (non-blocking if lock cannot be acquired — in that case
// store the handle ... for the next cmdPrologue to flush)".
func (c *Cache) forceRelease(entry *ServerPrepareResult) {
	if c.tryAcquireLock == nil {
		entry.release()
		return
	}
	release, ok := c.tryAcquireLock()
	if !ok {
		c.mu.Lock()
		c.pending = append(c.pending, PendingRelease{Key: entry.Key, Handle: entry.Handle})
		c.mu.Unlock()
		return
	}
	defer release()
	entry.release()
}

// DrainPending flushes any PendingRelease entries queued because the
// lock could not be acquired at eviction time, per spec.md §4.6's
// cmdPrologue step 2.
func (c *Cache) DrainPending() []PendingRelease {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending := c.pending
	c.pending = nil
	return pending
}

// Get looks up key, promotes it to the front, and increments its share
// counter on a hit, per spec.md §4.5's get().
func (c *Cache) Get(key string) (*ServerPrepareResult, bool) {
	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	if !entry.incrementShareCounter() {
		return nil, false
	}
	return entry, true
}

// Put implements spec.md §4.5's put(key, entry): on a race where key was
// concurrently inserted, the existing entry is returned (after a
// successful share-counter increment) instead of entry; the caller
// should discard its own entry's handle if a different one comes back.
func (c *Cache) Put(key string, entry *ServerPrepareResult) (*ServerPrepareResult, error) {
	if c.sqlLimit > 0 && len(key) > c.sqlLimit {
		return entry, fmt.Errorf("prepare: key length %d exceeds prepStmtCacheSqlLimit %d, not cached", len(key), c.sqlLimit)
	}

	entry.addedToCache = true
	entry.shareCount = 1 // the cache's own reference

	existing, hadExisting := c.entries.Put(key, entry)
	if hadExisting {
		if existing.incrementShareCounter() {
			return existing, nil
		}
		// existing was marked for removal between Put's lookup and our
		// increment attempt; insert ours in its place.
		c.entries.Remove(key)
		c.entries.Put(key, entry)
		return entry, nil
	}
	return entry, nil
}

// Len reports the number of cached entries.
func (c *Cache) Len() int { return c.entries.Len() }

// Close evicts every entry, forcing immediate release of any whose
// share count is already zero.
func (c *Cache) Close() {
	for _, key := range c.entries.Keys() {
		c.entries.EvictKey(key)
	}
}
