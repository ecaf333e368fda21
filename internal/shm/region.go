package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/senscord/multi-server/internal/sderr"
)

// DefaultBaseDir is where named regions are created, mirroring POSIX shared
// memory's conventional /dev/shm mount.
const DefaultBaseDir = "/dev/shm"

// Region is one named, memory-mapped POSIX shared-memory arena plus the
// first-fit Allocator carving it up. Every server-side shared allocator
// resource (§4.6) owns exactly one Region; a client component maps the same
// file read-only to resolve AddressSizeOnly channels without an extra copy.
type Region struct {
	ID       uint64
	Name     string
	Path     string
	Size     int64
	Alloc    *Allocator
	fd       int
	mapping  []byte
	refCount int32
}

// CreateRegion creates (or truncates) a shared memory file at baseDir/name,
// maps it, and wraps it with a first-fit Allocator. The file is opened
// O_CREAT|O_RDWR; an exclusive flock is held briefly during sizing to avoid
// racing a concurrent creator, then downgraded to shared for the region's
// lifetime so Close can detect "am I the last holder" via a non-blocking
// exclusive flock attempt.
func CreateRegion(baseDir string, id uint64, name string, size int64) (*Region, error) {
	if size <= 0 {
		return nil, sderr.New(sderr.CauseInvalidArgument, "shm: region size must be positive, got %d", size)
	}
	if baseDir == "" {
		baseDir = DefaultBaseDir
	}
	path := filepath.Join(baseDir, name)

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR, 0o600)
	if err != nil {
		return nil, sderr.New(sderr.CauseAborted, "shm: open %s: %v", path, err).WithBlock("shm_region")
	}

	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		unix.Close(fd)
		return nil, sderr.New(sderr.CauseAborted, "shm: exclusive lock %s: %v", path, err).WithBlock("shm_region")
	}
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Flock(fd, unix.LOCK_UN)
		unix.Close(fd)
		return nil, sderr.New(sderr.CauseAborted, "shm: truncate %s to %d: %v", path, size, err).WithBlock("shm_region")
	}
	if err := unix.Flock(fd, unix.LOCK_UN); err != nil {
		unix.Close(fd)
		return nil, sderr.New(sderr.CauseAborted, "shm: downgrade lock %s: %v", path, err).WithBlock("shm_region")
	}
	if err := unix.Flock(fd, unix.LOCK_SH); err != nil {
		unix.Close(fd)
		return nil, sderr.New(sderr.CauseAborted, "shm: shared lock %s: %v", path, err).WithBlock("shm_region")
	}

	mapping, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, sderr.New(sderr.CauseAborted, "shm: mmap %s: %v", path, err).WithBlock("shm_region")
	}

	alloc, err := NewAllocator(size)
	if err != nil {
		unix.Munmap(mapping)
		unix.Close(fd)
		return nil, err
	}

	return &Region{
		ID:       id,
		Name:     name,
		Path:     path,
		Size:     size,
		Alloc:    alloc,
		fd:       fd,
		mapping:  mapping,
		refCount: 1,
	}, nil
}

// Bytes returns the region's backing slice. Writes at [offset, offset+n)
// must stay within a block this Region's Allocator actually granted.
func (r *Region) Bytes() []byte { return r.mapping }

// Retain increments the reference count for an additional resource adapter
// sharing this region (e.g. two publishers configured with the same
// allocator key, §4.6).
func (r *Region) Retain() { atomic.AddInt32(&r.refCount, 1) }

// Release decrements the reference count and, on reaching zero, unmaps the
// region and unlinks its backing file — but only if this process turns out
// to be the last holder of the shared lock, the same "last one out turns
// off the lights" trick used for the OS-level shared memory object: attempt
// a non-blocking upgrade to an exclusive flock; success means no other
// process holds the shared lock (MapReadOnly readers take no lock and are
// not counted). The bool return reports
// whether the region was actually torn down, so callers (Manager) know
// whether to drop their registry entry.
func (r *Region) Release() (bool, error) {
	if atomic.AddInt32(&r.refCount, -1) > 0 {
		return false, nil
	}
	if err := unix.Flock(r.fd, unix.LOCK_EX|unix.LOCK_NB); err == nil {
		os.Remove(r.Path)
	}
	if err := unix.Munmap(r.mapping); err != nil {
		unix.Close(r.fd)
		return true, sderr.New(sderr.CauseAborted, "shm: munmap %s: %v", r.Path, err).WithBlock("shm_region")
	}
	return true, unix.Close(r.fd)
}

// MapReadOnly opens an existing region by path for read-only access, used
// by a client component resolving an AddressSizeOnly Channel without
// needing write permission on the arena.
func MapReadOnly(path string, size int64) ([]byte, func() error, error) {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, nil, sderr.New(sderr.CauseNotFound, "shm: open %s for read: %v", path, err).WithBlock("shm_region")
	}
	mapping, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, nil, sderr.New(sderr.CauseAborted, "shm: mmap %s read-only: %v", path, err).WithBlock("shm_region")
	}
	closer := func() error {
		if err := unix.Munmap(mapping); err != nil {
			unix.Close(fd)
			return err
		}
		return unix.Close(fd)
	}
	return mapping, closer, nil
}

// Manager is the process-wide registry of live Regions, keyed by the
// numeric Region.ID assigned at creation (Address descriptors carry no
// region ID; see LookupByKey). A server allocates at
// most one Region per configured allocator key; Manager deduplicates
// concurrent Open calls for the same key onto the same Region.
type Manager struct {
	mu      sync.Mutex
	byID    map[uint64]*Region
	byKey   map[string]uint64
	nextID  uint64
	baseDir string
}

// NewManager creates an empty region Manager rooted at baseDir (DefaultBaseDir
// if empty).
func NewManager(baseDir string) *Manager {
	return &Manager{
		byID:    make(map[uint64]*Region),
		byKey:   make(map[string]uint64),
		baseDir: baseDir,
	}
}

// OpenOrCreate returns the Region for allocatorKey, creating a new
// size-byte arena on first use and retaining the existing one on repeat
// calls with the same key.
func (m *Manager) OpenOrCreate(allocatorKey string, size int64) (*Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byKey[allocatorKey]; ok {
		region := m.byID[id]
		region.Retain()
		return region, nil
	}

	m.nextID++
	id := m.nextID
	name := fmt.Sprintf("senscord-multiserver-%s-%d", sanitize(allocatorKey), id)
	region, err := CreateRegion(m.baseDir, id, name, size)
	if err != nil {
		return nil, err
	}
	m.byID[id] = region
	m.byKey[allocatorKey] = id
	return region, nil
}

// Lookup resolves a Region.ID back to its Region.
func (m *Manager) Lookup(id uint64) (*Region, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	region, ok := m.byID[id]
	return region, ok
}

// LookupByKey resolves the Region currently open for allocatorKey, the way
// a resource adapter resolves a Channel's AllocatorKey field to a region
// without any region identifier having crossed the wire (§4.11's
// descriptor intentionally carries no region identity, only an offset and
// size within whichever region the allocator_key names).
func (m *Manager) LookupByKey(allocatorKey string) (*Region, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byKey[allocatorKey]
	if !ok {
		return nil, false
	}
	region, ok := m.byID[id]
	return region, ok
}

// Release drops one reference to the region backing allocatorKey, removing
// it from the registry once its refcount reaches zero.
func (m *Manager) Release(allocatorKey string) error {
	m.mu.Lock()
	id, ok := m.byKey[allocatorKey]
	if !ok {
		m.mu.Unlock()
		return sderr.New(sderr.CauseNotFound, "shm: no region registered for key %q", allocatorKey)
	}
	region := m.byID[id]
	m.mu.Unlock()

	closed, err := region.Release()
	if err != nil {
		return err
	}
	if !closed {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	delete(m.byKey, allocatorKey)
	return nil
}

func sanitize(key string) string {
	out := make([]byte, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
