// Package cache wraps inject.Orchestrator with a content-hash-keyed LRU, so
// a caller that re-injects the same module under the same rule set (a
// contract redeployed unchanged) through the same InjectionCache never
// redoes the linear analyze-and-inject pass. Grounded on the reference
// codebase's JIT module cache: a mutex-guarded map plus a move-to-front
// order slice, sized by entry count rather than byte size.
package cache

import (
	"sync"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/near/wasm-utils/inject"
	"github.com/near/wasm-utils/metrics"
	"github.com/near/wasm-utils/rules"
	"github.com/near/wasm-utils/wasmmodule"
)

// DefaultCapacity is the number of entries kept when a caller passes a
// non-positive capacity to New.
const DefaultCapacity = 256

// Digest is the content-hash key an injected module is cached under: a
// SHA3-256 hash of the encoded module bytes followed by the rule-set
// identity string. Exported so a caller (the CLI's -digest mode) can
// compute it independently of performing an injection.
type Digest [32]byte

// ComputeDigest hashes moduleBytes and ruleSetID together. ruleSetID
// distinguishes rule sets that produce different injected output for the
// same input -- rules.Oracle is an interface with no canonical encoding of
// its own, so callers name their profile (e.g. "default", "no-floats")
// rather than the cache hashing arbitrary closures.
func ComputeDigest(moduleBytes []byte, ruleSetID string) Digest {
	h := sha3.New256()
	h.Write(moduleBytes)
	h.Write([]byte{0}) // separator: ruleSetID is length-unbounded
	h.Write([]byte(ruleSetID))
	var d Digest
	h.Sum(d[:0])
	return d
}

type entry struct {
	module *wasmmodule.Module
}

// InjectionCache caches the result of Orchestrator.Inject keyed by Digest.
// Safe for concurrent use.
type InjectionCache struct {
	mu       sync.Mutex
	capacity int
	items    map[Digest]entry
	order    []Digest // front = most recently used

	orchestrator *inject.Orchestrator
	metrics      *metrics.Registry
}

// New builds an InjectionCache that runs oracle through an Orchestrator on
// a miss, caches the result under capacity entries (DefaultCapacity if
// capacity <= 0), and records hit/miss/eviction/duration metrics on reg if
// reg is non-nil.
func New(oracle rules.Oracle, capacity int, reg *metrics.Registry) *InjectionCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &InjectionCache{
		capacity:     capacity,
		items:        make(map[Digest]entry, capacity),
		order:        make([]Digest, 0, capacity),
		orchestrator: inject.NewOrchestrator(oracle),
		metrics:      reg,
	}
}

// Inject returns the metered module for input under ruleSetID, serving it
// from the cache when the same (encoded module bytes, ruleSetID) pair was
// injected successfully before. A failed injection is never cached: the
// caller gets a fresh attempt every time, since the input may be fixed up
// and retried.
func (c *InjectionCache) Inject(input *wasmmodule.Module, ruleSetID string) (*wasmmodule.Module, Digest, error) {
	digest := ComputeDigest(input.Encode(), ruleSetID)

	c.mu.Lock()
	if e, ok := c.items[digest]; ok {
		c.moveToFront(digest)
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.CacheHits.Inc()
		}
		return e.module, digest, nil
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}

	start := time.Now()
	out, err := c.orchestrator.Inject(input)
	elapsed := time.Since(start)

	if c.metrics != nil {
		c.metrics.Duration.Observe(elapsed.Seconds())
		if err != nil {
			c.metrics.InjectErrors.Inc()
		} else {
			c.metrics.InputBytes.Observe(float64(len(input.Encode())))
			c.metrics.OutputBytes.Observe(float64(len(out.Encode())))
		}
	}
	if err != nil {
		return nil, digest, err
	}

	c.mu.Lock()
	c.store(digest, out)
	c.mu.Unlock()
	return out, digest, nil
}

// store inserts or refreshes digest's entry, evicting the least-recently
// used entry first if at capacity. Must be called with mu held.
func (c *InjectionCache) store(digest Digest, module *wasmmodule.Module) {
	if _, ok := c.items[digest]; ok {
		c.items[digest] = entry{module: module}
		c.moveToFront(digest)
		return
	}
	if len(c.items) >= c.capacity {
		c.evictLRU()
	}
	c.items[digest] = entry{module: module}
	c.order = append([]Digest{digest}, c.order...)
}

// evictLRU drops the least-recently used entry. Must be called with mu held.
func (c *InjectionCache) evictLRU() {
	if len(c.order) == 0 {
		return
	}
	lru := c.order[len(c.order)-1]
	c.order = c.order[:len(c.order)-1]
	delete(c.items, lru)
	if c.metrics != nil {
		c.metrics.CacheEvictions.Inc()
	}
}

// moveToFront promotes digest to the most-recently-used position. Must be
// called with mu held.
func (c *InjectionCache) moveToFront(digest Digest) {
	for i, d := range c.order {
		if d == digest {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append([]Digest{digest}, c.order...)
}

// Size returns the number of entries currently cached.
func (c *InjectionCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Clear removes every cached entry.
func (c *InjectionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[Digest]entry, c.capacity)
	c.order = c.order[:0]
}
