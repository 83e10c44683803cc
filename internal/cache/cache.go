// Package cache implements the proxy's shared response cache: a
// fixed-size bucket array of singly-linked chains, each node owning one
// Entry, looked up by request fingerprint with hand-over-hand locking and
// reclaimed either explicitly or by a background age-based expirer.
//
// This is a from-scratch port of the project's original cache.c, fixing
// the two concurrency defects that source exhibits: the head-deletion path
// only swung the bucket head to the successor when the deleted node had no
// successor, silently orphaning the rest of the chain otherwise; and the
// expirer acquired a node's read lock twice in a row on the expiring
// branch before ever releasing it once. Both are fixed here by giving each
// bucket head its own atomic pointer (updated via compare-and-swap,
// eliminating the orphaning bug entirely) and by having the expirer take
// each node's read lock exactly once per sweep.
package cache

import (
	"bytes"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/maxermolaev/cache-proxy-go/internal/logging"
)

// node is one link in a bucket chain. Its rwlock guards lastActivity reads
// alongside .next: a reader takes RLock to inspect either field and to
// move to the successor; only the node currently acting as predecessor
// takes Lock to rewrite its own .next during an unlink.
type node struct {
	entry *Entry

	mu           sync.RWMutex
	next         *node
	lastActivity int64 // unix nanoseconds, updated via atomic store
}

func (n *node) touch() {
	atomic.StoreInt64(&n.lastActivity, time.Now().UnixNano())
}

func (n *node) activityAge(now time.Time) time.Duration {
	last := time.Unix(0, atomic.LoadInt64(&n.lastActivity))
	return now.Sub(last)
}

// bucket is one slot of the cache's array. head is a single atomic word:
// readers load it without any lock; Add publishes a new head via
// compare-and-swap after wiring the new node's next to the old head.
type bucket struct {
	head atomic.Pointer[node]
	// mu serializes GetOrCreate's check-then-insert only; ordinary Add and
	// Delete never take it, so it adds no contention to the hot
	// get/add/delete paths.
	mu sync.Mutex
}

// Cache is a fingerprint-indexed store of Entry values with time-based
// expiry. New spawns a background expirer goroutine; Destroy stops it.
type Cache struct {
	buckets []bucket
	expiry  time.Duration

	filter   *bloom.BloomFilter
	filterMu sync.Mutex

	entries int64 // atomic count of live nodes, incremented/decremented on insert/destroy
	hits    int64 // atomic count of Get/GetOrCreate calls resolved by an existing node
	misses  int64 // atomic count of Get/GetOrCreate calls that found no existing node

	running int32 // atomic bool, expirer loop condition
	stopped chan struct{}
}

// Stats is a point-in-time snapshot of cache activity, exposed to the
// admin surface alongside the worker pool's own Stats.
type Stats struct {
	Buckets int
	Entries int64
	Hits    int64
	Misses  int64
}

// Stats reports the cache's current bucket count, live entry count, and
// cumulative hit/miss counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Buckets: len(c.buckets),
		Entries: atomic.LoadInt64(&c.entries),
		Hits:    atomic.LoadInt64(&c.hits),
		Misses:  atomic.LoadInt64(&c.misses),
	}
}

// New creates a cache with the given bucket-array capacity and expiry
// duration, and starts its background expirer. capacity must be positive.
func New(capacity int, expiry time.Duration) (*Cache, error) {
	if capacity <= 0 {
		logging.Log("Cache creation error: capacity must be positive")
		return nil, ErrGeneric
	}
	if expiry <= 0 {
		logging.Log("Cache creation error: expiry must be positive")
		return nil, ErrGeneric
	}

	c := &Cache{
		buckets: make([]bucket, capacity),
		expiry:  expiry,
		filter:  bloom.NewWithEstimates(uint(capacity*4), 0.01),
		stopped: make(chan struct{}),
	}
	atomic.StoreInt32(&c.running, 1)

	go c.expirerRoutine()

	return c, nil
}

func (c *Cache) hash(fingerprint []byte) int {
	h := 0
	capacity := len(c.buckets)
	for _, b := range fingerprint {
		h = (h*31 + int(b)) % capacity
	}
	if h < 0 {
		h += capacity
	}
	return h
}

// Get returns the entry for fingerprint, or ErrNotFound. On success the
// matching node's last-activity timestamp is refreshed to now.
func (c *Cache) Get(fingerprint []byte) (*Entry, error) {
	if c.filter != nil {
		c.filterMu.Lock()
		maybePresent := c.filter.Test(fingerprint)
		c.filterMu.Unlock()
		if !maybePresent {
			atomic.AddInt64(&c.misses, 1)
			return nil, ErrNotFound
		}
	}

	b := &c.buckets[c.hash(fingerprint)]
	curr := b.head.Load()
	for curr != nil {
		curr.mu.RLock()
		if bytes.Equal(curr.entry.Fingerprint(), fingerprint) && !curr.entry.isDeleted() {
			curr.touch()
			curr.mu.RUnlock()
			atomic.AddInt64(&c.hits, 1)
			return curr.entry, nil
		}
		next := curr.next
		curr.mu.RUnlock()
		curr = next
	}
	atomic.AddInt64(&c.misses, 1)
	return nil, ErrNotFound
}

// Add wraps entry in a fresh node and prepends it to its bucket's head.
// Duplicate-fingerprint insertion is not checked: callers must Get first.
func (c *Cache) Add(entry *Entry) error {
	if entry == nil {
		logging.Log("Cache adding error: entry is nil")
		return ErrGeneric
	}

	b := &c.buckets[c.hash(entry.Fingerprint())]
	n := &node{entry: entry}
	n.touch()
	b.prepend(n)

	c.noteFilter(entry.Fingerprint())
	atomic.AddInt64(&c.entries, 1)

	logging.Log("Add new cache entry")
	return nil
}

func (b *bucket) prepend(n *node) {
	for {
		old := b.head.Load()
		n.next = old
		if b.head.CompareAndSwap(old, n) {
			return
		}
	}
}

func (c *Cache) noteFilter(fingerprint []byte) {
	if c.filter == nil {
		return
	}
	c.filterMu.Lock()
	c.filter.Add(fingerprint)
	c.filterMu.Unlock()
}

// GetOrCreate returns the existing entry for fingerprint if one exists, or
// atomically inserts and returns a freshly created one. created reports
// whether this call is the one that created the entry. This is the
// get-or-create primitive the transport layer uses to guarantee exactly
// one producer task per fingerprint — see DESIGN.md's Open Question
// resolution. Cache.Add remains available, undeduplicated, for direct
// callers.
func (c *Cache) GetOrCreate(fingerprint []byte, create func() *Entry) (entry *Entry, created bool) {
	b := &c.buckets[c.hash(fingerprint)]

	b.mu.Lock()
	defer b.mu.Unlock()

	curr := b.head.Load()
	for curr != nil {
		curr.mu.RLock()
		if bytes.Equal(curr.entry.Fingerprint(), fingerprint) {
			curr.touch()
			curr.mu.RUnlock()
			atomic.AddInt64(&c.hits, 1)
			return curr.entry, false
		}
		next := curr.next
		curr.mu.RUnlock()
		curr = next
	}

	e := create()
	n := &node{entry: e}
	n.touch()
	b.prepend(n)
	c.noteFilter(fingerprint)
	atomic.AddInt64(&c.entries, 1)
	atomic.AddInt64(&c.misses, 1)

	logging.Log("Add new cache entry")
	return e, true
}

// Delete unlinks and destroys the node matching fingerprint, returning
// ErrNotFound if none matches.
func (c *Cache) Delete(fingerprint []byte) error {
	b := &c.buckets[c.hash(fingerprint)]
	return b.delete(fingerprint, c)
}

func (b *bucket) delete(fingerprint []byte, c *Cache) error {
	for {
		head := b.head.Load()
		if head == nil {
			return ErrNotFound
		}

		head.mu.Lock()
		if bytes.Equal(head.entry.Fingerprint(), fingerprint) {
			next := head.next
			if b.head.CompareAndSwap(head, next) {
				head.mu.Unlock()
				c.destroyNode(head)
				logging.Log("Cache entry destroy")
				return nil
			}
			// A concurrent Add prepended ahead of us; retry from the new
			// head rather than risk unlinking the wrong node.
			head.mu.Unlock()
			continue
		}

		// Walk hand-over-hand with write locks: move forward only after
		// reading the successor while still holding the predecessor's
		// lock, then hand the lock to the successor.
		prev := head
		curr := prev.next
		for curr != nil {
			curr.mu.Lock()
			if bytes.Equal(curr.entry.Fingerprint(), fingerprint) {
				prev.next = curr.next
				curr.mu.Unlock()
				prev.mu.Unlock()
				c.destroyNode(curr)
				logging.Log("Cache entry destroy")
				return nil
			}
			prevDone := prev
			prev = curr
			curr = curr.next
			prevDone.mu.Unlock()
		}
		prev.mu.Unlock()
		return ErrNotFound
	}
}

// destroyNode retires an unlinked node. The entry's response is left in
// place so subscribers still holding the entry can drain it; it is
// reclaimed by the garbage collector once the last holder drops it.
func (c *Cache) destroyNode(n *node) {
	n.entry.markDeleted()
	atomic.AddInt64(&c.entries, -1)
}

// Destroy stops the expirer, waiting up to a 5-second grace period with
// one-second polling granularity before giving up on it, then walks every
// bucket destroying every remaining node.
func (c *Cache) Destroy() {
	atomic.StoreInt32(&c.running, 0)

	const grace = 5 * time.Second
	select {
	case <-c.stopped:
	case <-time.After(grace):
		logging.Log("Cache garbage collector did not stop within grace period; detaching")
	}

	for i := range c.buckets {
		b := &c.buckets[i]
		curr := b.head.Load()
		for curr != nil {
			next := curr.next
			logging.Log("Delete entry: %s", string(curr.entry.Fingerprint()))
			c.destroyNode(curr)
			curr = next
		}
		b.head.Store(nil)
	}
}

func (c *Cache) expirerRoutine() {
	logging.SetGoroutineName("garbage-collector")
	defer logging.ClearGoroutineName()
	defer close(c.stopped)

	logging.Log("Cache garbage collector start")

	interval := c.expiry / 2
	if interval > time.Second {
		interval = time.Second
	}
	if interval <= 0 {
		interval = time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for atomic.LoadInt32(&c.running) != 0 {
		<-ticker.C
		if atomic.LoadInt32(&c.running) == 0 {
			break
		}
		c.expireSweep()
	}

	logging.Log("Cache garbage collector destroy")
}

// expireSweep removes every node whose last-activity age has reached the
// cache's expiry. Each node's read lock is taken exactly once per node per
// sweep.
func (c *Cache) expireSweep() {
	now := time.Now()

	for i := range c.buckets {
		b := &c.buckets[i]
		curr := b.head.Load()
		for curr != nil {
			curr.mu.RLock()
			age := curr.activityAge(now)
			fingerprint := curr.entry.Fingerprint()
			next := curr.next
			curr.mu.RUnlock()

			if age >= c.expiry {
				_ = c.Delete(fingerprint)
			}
			curr = next
		}
	}
}
