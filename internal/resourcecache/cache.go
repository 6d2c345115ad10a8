// Package resourcecache implements C2: the fixed-size set of NC
// descriptors with liveness state, capacity, and power state, addressable
// both by hostname and by positional index (the scheduler and fan-out
// engine address nodes by index — spec.md §3, §4.4, §4.5).
package resourcecache

import (
	"sync"

	"github.com/oriys/cc/internal/domain"
)

// Cache is C2. Nodes enter on config load and remain until reconfiguration
// (spec.md §3); their slot identity (index) is stable across state/avail
// changes, which is what lets InstanceRecord.NCHostIdx remain a valid
// pointer into this cache between writes.
type Cache struct {
	mu    sync.RWMutex
	nodes []*domain.NodeRecord // index is the stable "ncHostIdx"
	byHost map[string]int
}

// New creates an empty resource cache.
func New() *Cache {
	return &Cache{byHost: make(map[string]int)}
}

// Add appends a node (or updates it in place if the hostname is already
// present — idempotent, spec.md §4.2). Returns the node's stable index.
func (c *Cache) Add(rec *domain.NodeRecord) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.byHost[rec.Hostname]; ok {
		c.nodes[idx] = rec
		return idx
	}
	idx := len(c.nodes)
	c.nodes = append(c.nodes, rec)
	c.byHost[rec.Hostname] = idx
	return idx
}

// NumResources returns the current fleet size.
func (c *Cache) NumResources() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.nodes)
}

// At returns the node at index idx, or nil if out of range. The returned
// pointer aliases the cache's internal record — callers that mutate it
// must hold the cache's external lock discipline (RESCACHE) themselves;
// this mirrors the original's direct &(resourceCache->resources[i]) access
// pattern. The scheduler, launch pipeline and monitor do not use it: they
// work on Snapshot copies and write back with Commit.
func (c *Cache) At(idx int) *domain.NodeRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if idx < 0 || idx >= len(c.nodes) {
		return nil
	}
	return c.nodes[idx]
}

// FindByHostname returns (index, node) or (-1, nil) if absent.
func (c *Cache) FindByHostname(hostname string) (int, *domain.NodeRecord) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.byHost[hostname]
	if !ok {
		return -1, nil
	}
	return idx, c.nodes[idx]
}

// FindByIP returns (index, node) or (-1, nil) if absent.
func (c *Cache) FindByIP(ip string) (int, *domain.NodeRecord) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i, n := range c.nodes {
		if n.IP == ip {
			return i, n
		}
	}
	return -1, nil
}

// Snapshot copies the whole node list out under lock, for callers (the
// scheduler, the monitor's fan-out) that need a consistent view before
// releasing the lock and doing NC I/O (spec.md §4.6, §5).
func (c *Cache) Snapshot() []*domain.NodeRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*domain.NodeRecord, len(c.nodes))
	for i, n := range c.nodes {
		cp := *n
		out[i] = &cp
	}
	return out
}

// Commit writes back a node at idx (e.g. after the monitor refreshed a
// snapshot copy and needs to apply it under lock again).
func (c *Cache) Commit(idx int, rec *domain.NodeRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx < 0 || idx >= len(c.nodes) {
		return
	}
	c.nodes[idx] = rec
}
