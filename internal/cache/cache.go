// Package cache implements the resolver's TTL-aware answer store: a map from
// owner name to per-type record buckets, with CNAME chasing, ANY-query
// unioning and functional TTL accounting. A single Cache also owns the
// in-flight question-set tracked for request de-duplication, guarded by the
// same lock as the store itself.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dnscached/dnscached/internal/dnsmessage"
)

const (
	defaultCleanupInterval = 60 * time.Second
	maxCNAMEChainLength    = 16 // bounds CNAME loops independent of visited-set bugs
)

// entry is a single cached resource record together with the wall-clock time
// it was inserted. Effective TTL is always derived from these two fields; the
// stored record's TTL is never mutated in place.
type entry struct {
	rr       dnsmessage.ResourceRecord
	inserted time.Time
}

func (e *entry) remainingTTL(now time.Time) (uint32, bool) {
	elapsed := now.Sub(e.inserted).Seconds()
	remaining := float64(e.rr.TTL) - elapsed
	if remaining <= 0 {
		return 0, false
	}
	return uint32(remaining), true
}

// recordKey identifies a cached record independent of TTL: owner, type,
// class and raw RDATA. Re-inserting the same key refreshes its entry instead
// of duplicating it.
type recordKey struct {
	name  string
	typ   dnsmessage.Type
	class dnsmessage.Class
	raw   string
}

func keyOf(rr dnsmessage.ResourceRecord) recordKey {
	return recordKey{
		name:  lowerName(rr.Name),
		typ:   rr.Type,
		class: rr.Class,
		raw:   string(rr.RawRData),
	}
}

func lowerName(name string) string {
	if name == "" {
		return "."
	}
	b := []byte(name)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// domainBucket holds every record cached for one owner name: records grouped
// by type, plus the authority/additional side-sets that arrived alongside an
// answer for this exact name.
type domainBucket struct {
	types      map[dnsmessage.Type]map[recordKey]*entry
	authority  map[recordKey]*entry
	additional map[recordKey]*entry
}

func newDomainBucket() *domainBucket {
	return &domainBucket{
		types:      make(map[dnsmessage.Type]map[recordKey]*entry),
		authority:  make(map[recordKey]*entry),
		additional: make(map[recordKey]*entry),
	}
}

// Stats summarizes cache activity, refreshed on demand from atomic counters.
type Stats struct {
	Hits       uint64
	Misses     uint64
	Insertions uint64
	Evictions  uint64
	Domains    int
}

// Config controls the cache's optional behaviors. The zero Config is a
// usable single-shard cache with no serve-stale window.
type Config struct {
	CleanupInterval time.Duration
}

// Cache is the resolver's answer store. All methods are safe for concurrent
// use; the same lock also guards the in-flight de-duplication set so callers
// never need a second guard.
type Cache struct {
	mu      sync.Mutex
	domains map[string]*domainBucket
	inFlight map[uint64]struct{}

	now func() time.Time

	hits       atomic.Uint64
	misses     atomic.Uint64
	insertions atomic.Uint64
	evictions  atomic.Uint64

	stopCleanup chan struct{}
	cleanupDone sync.WaitGroup
}

// New creates an empty Cache and starts its background expiry sweep.
func New(cfg Config) *Cache {
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = defaultCleanupInterval
	}
	c := &Cache{
		domains:     make(map[string]*domainBucket),
		inFlight:    make(map[uint64]struct{}),
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	c.cleanupDone.Add(1)
	go c.sweepLoop(interval)
	return c
}

// Close stops the background sweep goroutine.
func (c *Cache) Close() {
	close(c.stopCleanup)
	c.cleanupDone.Wait()
}

func (c *Cache) sweepLoop(interval time.Duration) {
	defer c.cleanupDone.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweepAll()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *Cache) sweepAll() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, bucket := range c.domains {
		c.sweepBucket(bucket, now)
		if len(bucket.types) == 0 && len(bucket.authority) == 0 && len(bucket.additional) == 0 {
			delete(c.domains, name)
		}
	}
}

// sweepBucket removes expired entries from one domain's bucket. Caller must
// hold c.mu.
func (c *Cache) sweepBucket(b *domainBucket, now time.Time) {
	for typ, entries := range b.types {
		for k, e := range entries {
			if _, ok := e.remainingTTL(now); !ok {
				delete(entries, k)
				c.evictions.Add(1)
			}
		}
		if len(entries) == 0 {
			delete(b.types, typ)
		}
	}
	sweepSideSet(b.authority, now, &c.evictions)
	sweepSideSet(b.additional, now, &c.evictions)
}

func sweepSideSet(set map[recordKey]*entry, now time.Time, evictions *atomic.Uint64) {
	for k, e := range set {
		if _, ok := e.remainingTTL(now); !ok {
			delete(set, k)
			evictions.Add(1)
		}
	}
}

// Insert indexes every record from a forwarder response into the cache: each
// record in answer/authority/additional is stored under its own owner name's
// type bucket, and the authority/additional lists are additionally attached
// as the question owner's side-sets.
func (c *Cache) Insert(qname string, answer, authority, additional []dnsmessage.ResourceRecord) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, rr := range answer {
		c.storeRecord(rr, now)
	}
	for _, rr := range authority {
		c.storeRecord(rr, now)
	}
	for _, rr := range additional {
		c.storeRecord(rr, now)
	}

	owner := lowerName(qname)
	bucket := c.bucketLocked(owner)
	for _, rr := range authority {
		bucket.authority[keyOf(rr)] = &entry{rr: rr, inserted: now}
	}
	for _, rr := range additional {
		bucket.additional[keyOf(rr)] = &entry{rr: rr, inserted: now}
	}
}

func (c *Cache) bucketLocked(name string) *domainBucket {
	b, ok := c.domains[name]
	if !ok {
		b = newDomainBucket()
		c.domains[name] = b
	}
	return b
}

func (c *Cache) storeRecord(rr dnsmessage.ResourceRecord, now time.Time) {
	owner := lowerName(rr.Name)
	bucket := c.bucketLocked(owner)
	byType, ok := bucket.types[rr.Type]
	if !ok {
		byType = make(map[recordKey]*entry)
		bucket.types[rr.Type] = byType
	}
	byType[keyOf(rr)] = &entry{rr: rr, inserted: now}
	c.insertions.Add(1)
}

// Lookup resolves a question against the cache. It returns the matching
// answer records plus any authority/additional side-sets collected along the
// way. An empty answer slice means a cache miss: the caller must forward the
// query upstream.
func (c *Cache) Lookup(q dnsmessage.Question) (answer, authority, additional []dnsmessage.ResourceRecord) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	owner := lowerName(q.Name)

	if q.Type == dnsmessage.TypeANY {
		bucket, ok := c.domains[owner]
		if !ok {
			c.misses.Add(1)
			return nil, nil, nil
		}
		c.sweepBucket(bucket, now)
		for _, byType := range bucket.types {
			for _, e := range byType {
				answer = append(answer, withTTL(e, now))
			}
		}
		if len(answer) == 0 {
			c.misses.Add(1)
			return nil, nil, nil
		}
		c.hits.Add(1)
		return answer, nil, nil
	}

	visited := make(map[string]bool)
	name := owner

	for i := 0; i < maxCNAMEChainLength; i++ {
		if visited[name] {
			break
		}
		visited[name] = true

		bucket, ok := c.domains[name]
		if !ok {
			break
		}
		c.sweepBucket(bucket, now)

		if byType, ok := bucket.types[q.Type]; ok {
			for _, e := range byType {
				answer = append(answer, withTTL(e, now))
			}
		}
		for _, e := range bucket.authority {
			authority = append(authority, withTTL(e, now))
		}
		for _, e := range bucket.additional {
			additional = append(additional, withTTL(e, now))
		}

		cnames, ok := bucket.types[dnsmessage.TypeCNAME]
		if !ok || q.Type == dnsmessage.TypeCNAME {
			break
		}
		var next string
		for _, e := range cnames {
			rr := withTTL(e, now)
			answer = append(answer, rr)
			if target, ok := e.rr.RData.(dnsmessage.RDataName); ok {
				next = lowerName(target.Name)
			}
			break // a name has at most one CNAME per RFC 1035; take the first
		}
		if next == "" || next == name {
			break
		}
		name = next
	}

	if len(answer) == 0 {
		c.misses.Add(1)
		return nil, nil, nil
	}
	c.hits.Add(1)
	return answer, authority, additional
}

// withTTL materializes a ResourceRecord with its effective TTL computed from
// the entry's insert time, without mutating the stored entry.
func withTTL(e *entry, now time.Time) dnsmessage.ResourceRecord {
	ttl, ok := e.remainingTTL(now)
	if !ok {
		ttl = 0
	}
	rr := e.rr
	rr.TTL = ttl
	return rr
}

// BeginInFlight registers key as an in-progress query. It reports false if
// the key was already in flight, in which case the caller must drop the
// datagram instead of proceeding.
func (c *Cache) BeginInFlight(key uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inFlight[key]; ok {
		return false
	}
	c.inFlight[key] = struct{}{}
	return true
}

// EndInFlight releases a key registered by BeginInFlight.
func (c *Cache) EndInFlight(key uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, key)
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	domains := len(c.domains)
	c.mu.Unlock()
	return Stats{
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Insertions: c.insertions.Load(),
		Evictions:  c.evictions.Load(),
		Domains:    domains,
	}
}
