// Package pagecache provides a per-NUMA-node snapshot page cache
// (spec §9 "Non-goals carried forward" still expects a cache sitting in
// front of the storage backends' durable mirrors even though full
// snapshot-page-pool internals are out of scope). VictoriaMetrics/fastcache
// gives a fixed-memory, GC-friendly byte-cache, grounded on the dependency
// the teacher's go.mod already pulls in for exactly this off-heap-cache
// role.
package pagecache

import (
	"github.com/VictoriaMetrics/fastcache"
)

// Cache wraps one fastcache instance per NUMA group, so a worker pinned to
// group g only ever touches its own group's cache line, the way the
// engine's page pool is partitioned per spec §4.3.
type Cache struct {
	shards []*fastcache.Cache
}

// New creates a Cache with one shard per group, each capped at
// maxBytesPerShard.
func New(groups int, maxBytesPerShard int) *Cache {
	shards := make([]*fastcache.Cache, groups)
	for i := range shards {
		shards[i] = fastcache.New(maxBytesPerShard)
	}
	return &Cache{shards: shards}
}

func (c *Cache) shard(group int) *fastcache.Cache {
	return c.shards[group%len(c.shards)]
}

// Get returns a copy of the cached bytes for key in group's shard, and
// whether it was present.
func (c *Cache) Get(group int, key []byte) ([]byte, bool) {
	dst, found := c.shard(group).HasGet(nil, key)
	return dst, found
}

// Set stores value under key in group's shard, evicting older entries under
// memory pressure per fastcache's own LRU-ish policy.
func (c *Cache) Set(group int, key, value []byte) {
	c.shard(group).Set(key, value)
}

// Reset clears every shard, used when a storage is dropped or recreated.
func (c *Cache) Reset() {
	for _, s := range c.shards {
		s.Reset()
	}
}

// Stats aggregates UpdateStats across every shard.
func (c *Cache) Stats() fastcache.Stats {
	var total fastcache.Stats
	for _, s := range c.shards {
		var st fastcache.Stats
		s.UpdateStats(&st)
		total.GetCalls += st.GetCalls
		total.SetCalls += st.SetCalls
		total.Misses += st.Misses
		total.EntriesCount += st.EntriesCount
		total.BytesSize += st.BytesSize
	}
	return total
}
