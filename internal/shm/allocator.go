// Package shm implements the first-fit shared-memory block allocator and
// the 20-byte shared-address descriptor used by publisher resource adapters
// running in DeliverAddressSizeOnly mode (§4.6).
package shm

import (
	"sort"
	"sync"

	"github.com/senscord/multi-server/internal/sderr"
)

// block is a contiguous [Offset, Offset+Size) run.
type block struct {
	Offset int64
	Size   int64
}

// Allocator is a first-fit allocator over a fixed-size arena, grounded on
// the teacher pack's original first-fit block allocator: a sorted free list
// is walked in order, the first block large enough satisfies the request,
// and Free merges the released block back into its neighbors. The mutex
// serializes Allocate/Free the way the resource adapter serializes frame
// production against release (§5.2).
type Allocator struct {
	mu        sync.Mutex
	totalSize int64
	free      []block // kept sorted by Offset
	used      map[int64]int64 // offset -> size
}

// NewAllocator creates a first-fit Allocator over an arena of totalSize
// bytes, starting as a single free block.
func NewAllocator(totalSize int64) (*Allocator, error) {
	if totalSize <= 0 {
		return nil, sderr.New(sderr.CauseInvalidArgument, "shm: total size must be positive, got %d", totalSize)
	}
	return &Allocator{
		totalSize: totalSize,
		free:      []block{{Offset: 0, Size: totalSize}},
		used:      make(map[int64]int64),
	}, nil
}

// Allocate reserves size bytes, returning the offset of the reserved block.
func (a *Allocator) Allocate(size int64) (int64, error) {
	if size <= 0 {
		return 0, sderr.New(sderr.CauseInvalidArgument, "shm: allocate size must be positive, got %d", size)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if size > a.totalSize {
		return 0, sderr.New(sderr.CauseInvalidArgument, "shm: allocate size %d exceeds arena size %d", size, a.totalSize).WithBlock("shm_allocator")
	}

	for i := range a.free {
		b := &a.free[i]
		if size <= b.Size {
			offset := b.Offset
			b.Offset += size
			b.Size -= size
			if b.Size == 0 {
				a.free = append(a.free[:i], a.free[i+1:]...)
			}
			a.used[offset] = size
			return offset, nil
		}
	}
	return 0, sderr.New(sderr.CauseResourceExhausted, "shm: cannot allocate %d bytes from free space", size).WithBlock("shm_allocator")
}

// Free releases a block previously returned by Allocate, merging it with
// adjacent free neighbors.
func (a *Allocator) Free(offset int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	size, ok := a.used[offset]
	if !ok {
		return sderr.New(sderr.CauseNotFound, "shm: offset %d is not currently allocated", offset).WithBlock("shm_allocator")
	}
	delete(a.used, offset)

	// Find insertion point preserving sort-by-offset order.
	idx := sort.Search(len(a.free), func(i int) bool { return a.free[i].Offset >= offset })

	mergedPrev := idx > 0 && a.free[idx-1].Offset+a.free[idx-1].Size == offset
	mergedNext := idx < len(a.free) && offset+size == a.free[idx].Offset

	switch {
	case mergedPrev && mergedNext:
		a.free[idx-1].Size += size + a.free[idx].Size
		a.free = append(a.free[:idx], a.free[idx+1:]...)
	case mergedPrev:
		a.free[idx-1].Size += size
	case mergedNext:
		a.free[idx].Offset = offset
		a.free[idx].Size += size
	default:
		a.free = append(a.free, block{})
		copy(a.free[idx+1:], a.free[idx:])
		a.free[idx] = block{Offset: offset, Size: size}
	}
	return nil
}

// FreeBytes returns the total bytes currently unallocated, for metrics.
func (a *Allocator) FreeBytes() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total int64
	for _, b := range a.free {
		total += b.Size
	}
	return total
}

// UsedBytes returns the total bytes currently allocated, for metrics.
func (a *Allocator) UsedBytes() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalSize - a.sumFreeLocked()
}

func (a *Allocator) sumFreeLocked() int64 {
	var total int64
	for _, b := range a.free {
		total += b.Size
	}
	return total
}
