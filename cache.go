package energygrid

import (
	"hash/fnv"
	"sync"
	"time"
)

// Freshness classifies a cache entry's age.
type Freshness int

const (
	// Fresh entries are served without any network activity.
	Fresh Freshness = iota
	// Stale entries are served immediately while the caller triggers a
	// background refresh (stale-while-revalidate).
	Stale
	// Expired entries are misses and are evicted on the next read.
	Expired
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "expired"
	}
}

// Entry is a cached normalized result. Owned exclusively by the cache; the
// Requester reads it but never mutates it.
type Entry struct {
	Key       string
	Data      any
	Page      *PageInfo
	Timestamp time.Time
	TTL       time.Duration
	// StaleFor extends servability past TTL: within [TTL, TTL+StaleFor) the
	// entry is Stale: still returned, but a background refresh is expected.
	StaleFor time.Duration
}

// Freshness classifies the entry relative to now.
func (e *Entry) Freshness(now time.Time) Freshness {
	age := now.Sub(e.Timestamp)
	if age < e.TTL {
		return Fresh
	}
	if age < e.TTL+e.StaleFor {
		return Stale
	}
	return Expired
}

// Cache is the keyed store of normalized results shared across all Requester
// instances. Concurrent writers to the same key are last-write-wins.
type Cache interface {
	// Get returns fresh or stale entries; expired entries are a miss.
	Get(key string) (*Entry, bool)
	Set(entry *Entry)
	Delete(key string)
	Clear()
	Len() int
}

// MemoryCache is a sharded in-memory Cache implementation.
type MemoryCache struct {
	shards    []*cacheShard
	numShards int
	now       func() time.Time
}

type cacheShard struct {
	mu    sync.RWMutex
	store map[string]*Entry
}

// NewMemoryCache creates the default 16-shard in-memory cache.
func NewMemoryCache() *MemoryCache {
	numShards := 16
	shards := make([]*cacheShard, numShards)
	for i := range shards {
		shards[i] = &cacheShard{store: make(map[string]*Entry)}
	}
	return &MemoryCache{
		shards:    shards,
		numShards: numShards,
		now:       time.Now,
	}
}

func (c *MemoryCache) getShard(key string) *cacheShard {
	hash := fnv.New32a()
	hash.Write([]byte(key))
	return c.shards[hash.Sum32()%uint32(c.numShards)]
}

// Get returns the entry for key while it is fresh or stale. Expired entries
// are evicted and reported as a miss.
func (c *MemoryCache) Get(key string) (*Entry, bool) {
	shard := c.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, exists := shard.store[key]
	if !exists {
		return nil, false
	}
	if entry.Freshness(c.now()) == Expired {
		delete(shard.store, key)
		return nil, false
	}
	return entry, true
}

// Set stores the entry, stamping Timestamp if unset and clamping StaleFor.
func (c *MemoryCache) Set(entry *Entry) {
	if entry == nil || entry.Key == "" {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = c.now()
	}
	if entry.StaleFor < 0 {
		entry.StaleFor = 0
	}

	shard := c.getShard(entry.Key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.store[entry.Key] = entry
}

// Delete removes the entry for key.
func (c *MemoryCache) Delete(key string) {
	shard := c.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	delete(shard.store, key)
}

// Clear removes all entries.
func (c *MemoryCache) Clear() {
	for _, shard := range c.shards {
		shard.mu.Lock()
		shard.store = make(map[string]*Entry)
		shard.mu.Unlock()
	}
}

// Len reports the total entry count across shards.
func (c *MemoryCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.store)
		shard.mu.RUnlock()
	}
	return total
}
