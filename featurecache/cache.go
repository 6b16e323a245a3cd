// Package featurecache keeps recently extracted feature vectors in memory,
// serialized with msgpack and bounded both by entry count and total bytes.
package featurecache

import (
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/vmihailenco/msgpack/v5"

	"simfinder/logging"
	"simfinder/types"
)

const (
	DefaultMaxEntries = 2000
	DefaultMaxBytes   = 512 << 20
)

// Options bounds the cache. Zero values select the defaults.
type Options struct {
	MaxEntries int
	MaxBytes   int64
}

// Stats is a point-in-time view of the cache counters
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Rejects   uint64 `json:"rejects"`
	Entries   int    `json:"entries"`
	Bytes     int64  `json:"bytes"`
	MaxBytes  int64  `json:"max_bytes"`
}

// Cache is an LRU of encoded feature vectors keyed by image identity.
// A single mutex serializes every operation.
type Cache struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[string, []byte]
	maxBytes int64
	bytes    int64

	hits      uint64
	misses    uint64
	evictions uint64
	rejects   uint64
}

// New creates an empty cache
func New(opts Options) (*Cache, error) {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}

	c := &Cache{maxBytes: opts.MaxBytes}
	lru, err := simplelru.NewLRU[string, []byte](opts.MaxEntries, func(_ string, data []byte) {
		c.bytes -= int64(len(data))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create feature cache: %w", err)
	}
	c.lru = lru
	return c, nil
}

// Get returns the cached vector for identity. An entry that no longer
// decodes is dropped and reported as a miss.
func (c *Cache) Get(identity string) (*types.FeatureVector, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, ok := c.lru.Get(identity)
	if !ok {
		c.misses++
		return nil, false
	}

	f, err := decode(identity, data)
	if err != nil {
		logging.LogWarning("dropping unreadable cache entry", "identity", identity, "error", err)
		c.lru.Remove(identity)
		c.misses++
		return nil, false
	}

	c.hits++
	return f, true
}

// Put stores a vector, evicting least recently used entries until both
// limits hold. Returns ErrCache if the vector cannot be encoded or is larger
// than the whole byte budget.
func (c *Cache) Put(f *types.FeatureVector) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrCache, err)
	}
	data, err := msgpack.Marshal(f)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", types.ErrCache, f.Identity, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	size := int64(len(data))
	if size > c.maxBytes {
		c.rejects++
		return fmt.Errorf("%w: entry %s needs %d bytes, budget is %d", types.ErrCache, f.Identity, size, c.maxBytes)
	}

	// Add on an existing key skips the evict callback, so drop the old value first
	c.lru.Remove(f.Identity)
	if c.lru.Add(f.Identity, data) {
		c.evictions++
	}
	c.bytes += size

	for c.bytes > c.maxBytes {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
		c.evictions++
	}
	return nil
}

// Contains reports whether identity is cached without touching recency
func (c *Cache) Contains(identity string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(identity)
}

// Clear drops every entry
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.bytes = 0
}

// Len returns the number of entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Bytes returns the total encoded size of all entries
func (c *Cache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

// Stats returns a snapshot of the counters
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Rejects:   c.rejects,
		Entries:   c.lru.Len(),
		Bytes:     c.bytes,
		MaxBytes:  c.maxBytes,
	}
}

func decode(identity string, data []byte) (*types.FeatureVector, error) {
	var f types.FeatureVector
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", types.ErrCache, identity, err)
	}
	if f.Identity != identity {
		return nil, fmt.Errorf("%w: entry for %s holds %s", types.ErrCache, identity, f.Identity)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCache, err)
	}
	return &f, nil
}
