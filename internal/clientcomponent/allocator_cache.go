package clientcomponent

import (
	"fmt"
	"sync"

	"github.com/senscord/multi-server/internal/shm"
)

// AllocatorResolver maps an allocator_key to the shared-memory arena a
// client component must map read-only to resolve AddressSizeOnly channels,
// and the arena's total size. Both sides agree on this mapping out of band
// (deployment configuration), the same way they agree on listener
// addresses; the wire descriptor itself never carries a path or region id
// (§4.11).
type AllocatorResolver func(allocatorKey string) (path string, size int64, ok bool)

// mappedRegion is one lazily-opened read-only mapping, reference-counted
// across every Port currently using it.
type mappedRegion struct {
	bytes  []byte
	closer func() error
	refs   int
}

// AllocatorCache lazily opens and reference-counts the read-only mappings a
// set of Ports shares, keyed by allocator_key, tearing one down once its
// last referencing Port is done with it. Grounded on shm.Manager's
// analogous server-side refcounting (internal/shm/region.go), mirrored here
// for the client's read-only side of the same arena.
type AllocatorCache struct {
	resolve AllocatorResolver

	mu    sync.Mutex
	byKey map[string]*mappedRegion
}

// NewAllocatorCache builds an empty cache using resolve to locate each
// allocator_key's backing arena on first use.
func NewAllocatorCache(resolve AllocatorResolver) *AllocatorCache {
	return &AllocatorCache{resolve: resolve, byKey: make(map[string]*mappedRegion)}
}

// Open maps allocatorKey's arena if it is not already mapped, and retains a
// reference for the caller. Every successful Open must be matched by a
// Close.
func (c *AllocatorCache) Open(allocatorKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if region, ok := c.byKey[allocatorKey]; ok {
		region.refs++
		return nil
	}
	path, size, ok := c.resolve(allocatorKey)
	if !ok {
		return fmt.Errorf("clientcomponent: no shared-memory mapping configured for allocator_key %q", allocatorKey)
	}
	bytes, closer, err := shm.MapReadOnly(path, size)
	if err != nil {
		return err
	}
	c.byKey[allocatorKey] = &mappedRegion{bytes: bytes, closer: closer, refs: 1}
	return nil
}

// Read copies out the addr-described slice of allocatorKey's mapping. Open
// must have succeeded for allocatorKey first.
func (c *AllocatorCache) Read(allocatorKey string, addr shm.Address) ([]byte, error) {
	c.mu.Lock()
	region, ok := c.byKey[allocatorKey]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("clientcomponent: allocator_key %q is not open", allocatorKey)
	}
	start := int64(addr.PhysicalAddress) + int64(addr.Offset)
	end := start + int64(addr.Size)
	if start < 0 || end > int64(len(region.bytes)) {
		return nil, fmt.Errorf("clientcomponent: address [%d,%d) out of bounds for allocator_key %q (size %d)", start, end, allocatorKey, len(region.bytes))
	}
	out := make([]byte, addr.Size)
	copy(out, region.bytes[start:end])
	return out, nil
}

// Close drops one reference to allocatorKey's mapping, unmapping it once
// the last holder is done.
func (c *AllocatorCache) Close(allocatorKey string) error {
	c.mu.Lock()
	region, ok := c.byKey[allocatorKey]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	region.refs--
	if region.refs > 0 {
		c.mu.Unlock()
		return nil
	}
	delete(c.byKey, allocatorKey)
	c.mu.Unlock()
	return region.closer()
}
