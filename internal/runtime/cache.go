package runtime

import (
	"sync"

	"github.com/trellisdev/trellis/internal/ir"
)

// defaultCacheShards is the shard count used when no option overrides it.
const defaultCacheShards = 16

// evalCache memoizes evaluation results keyed by (identity, context hash).
// Identities are content hashes, so the low bits pick a uniform shard; all
// entries of one identity land in the same shard, which keeps eviction a
// single map delete under one lock.
//
// Shard locks are independent of the borrow tree's lock: concurrent
// evaluations contend only when they touch the same shard.
type evalCache struct {
	shards []cacheShard
	mask   uint64
}

type cacheShard struct {
	mu      sync.RWMutex
	entries map[ir.SNI]map[uint64]ir.Value
}

func newEvalCache(shards int) *evalCache {
	if shards < 1 {
		shards = defaultCacheShards
	}
	// Round up to a power of two so masking replaces modulo.
	n := 1
	for n < shards {
		n <<= 1
	}
	c := &evalCache{shards: make([]cacheShard, n), mask: uint64(n - 1)}
	for i := range c.shards {
		c.shards[i].entries = make(map[ir.SNI]map[uint64]ir.Value)
	}
	return c
}

func (c *evalCache) shard(sni ir.SNI) *cacheShard {
	return &c.shards[uint64(sni)&c.mask]
}

func (c *evalCache) get(sni ir.SNI, ctxHash uint64) (ir.Value, bool) {
	s := c.shard(sni)
	s.mu.RLock()
	defer s.mu.RUnlock()
	byCtx, ok := s.entries[sni]
	if !ok {
		return nil, false
	}
	v, ok := byCtx[ctxHash]
	return v, ok
}

func (c *evalCache) put(sni ir.SNI, ctxHash uint64, v ir.Value) {
	s := c.shard(sni)
	s.mu.Lock()
	defer s.mu.Unlock()
	byCtx, ok := s.entries[sni]
	if !ok {
		byCtx = make(map[uint64]ir.Value)
		s.entries[sni] = byCtx
	}
	byCtx[ctxHash] = v
}

// evict drops every entry of one identity.
func (c *evalCache) evict(sni ir.SNI) {
	s := c.shard(sni)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sni)
}

// reset drops everything.
func (c *evalCache) reset() {
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		s.entries = make(map[ir.SNI]map[uint64]ir.Value)
		s.mu.Unlock()
	}
}

// len counts entries across all shards.
func (c *evalCache) len() int {
	total := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		for _, byCtx := range s.entries {
			total += len(byCtx)
		}
		s.mu.RUnlock()
	}
	return total
}
