package shm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegionCreateWriteReadRelease(t *testing.T) {
	dir := t.TempDir()
	region, err := CreateRegion(dir, 1, "test-region", 4096)
	require.NoError(t, err)

	off, err := region.Alloc.Allocate(16)
	require.NoError(t, err)
	copy(region.Bytes()[off:off+16], []byte("hello, senscord!"))

	mapping, closer, err := MapReadOnly(region.Path, 4096)
	require.NoError(t, err)
	require.Equal(t, []byte("hello, senscord!"), mapping[off:off+16])
	require.NoError(t, closer())

	closed, err := region.Release()
	require.NoError(t, err)
	require.True(t, closed)
}

func TestManagerDeduplicatesByAllocatorKey(t *testing.T) {
	dir := t.TempDir()
	mgr := NewManager(dir)

	r1, err := mgr.OpenOrCreate("image_stream.0", 4096)
	require.NoError(t, err)
	r2, err := mgr.OpenOrCreate("image_stream.0", 4096)
	require.NoError(t, err)
	require.Equal(t, r1.ID, r2.ID)

	found, ok := mgr.Lookup(r1.ID)
	require.True(t, ok)
	require.Equal(t, r1.Path, found.Path)

	// Two opens, two releases: first must keep the region alive.
	require.NoError(t, mgr.Release("image_stream.0"))
	_, ok = mgr.Lookup(r1.ID)
	require.True(t, ok)

	require.NoError(t, mgr.Release("image_stream.0"))
	_, ok = mgr.Lookup(r1.ID)
	require.False(t, ok)
}
