package shm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocatorFirstFit(t *testing.T) {
	a, err := NewAllocator(100)
	require.NoError(t, err)

	off1, err := a.Allocate(30)
	require.NoError(t, err)
	require.Equal(t, int64(0), off1)

	off2, err := a.Allocate(20)
	require.NoError(t, err)
	require.Equal(t, int64(30), off2)

	require.Equal(t, int64(50), a.FreeBytes())
	require.Equal(t, int64(50), a.UsedBytes())
}

func TestAllocatorExhaustion(t *testing.T) {
	a, err := NewAllocator(10)
	require.NoError(t, err)

	_, err = a.Allocate(10)
	require.NoError(t, err)

	_, err = a.Allocate(1)
	require.Error(t, err)
}

func TestAllocatorFreeMergesNeighbors(t *testing.T) {
	a, err := NewAllocator(100)
	require.NoError(t, err)

	off1, err := a.Allocate(10)
	require.NoError(t, err)
	off2, err := a.Allocate(10)
	require.NoError(t, err)
	off3, err := a.Allocate(10)
	require.NoError(t, err)

	require.NoError(t, a.Free(off2))
	require.NoError(t, a.Free(off1))
	require.NoError(t, a.Free(off3))

	// All three adjacent blocks should have merged back into the single
	// original free run, leaving room for one allocation spanning them.
	off, err := a.Allocate(30)
	require.NoError(t, err)
	require.Equal(t, int64(0), off)
	require.Equal(t, int64(70), a.FreeBytes())
}

func TestAllocatorFreeUnknownOffset(t *testing.T) {
	a, err := NewAllocator(10)
	require.NoError(t, err)
	require.Error(t, a.Free(5))
}

func TestAddressRoundTrip(t *testing.T) {
	addr := Address{PhysicalAddress: 0, AllocatedSize: 64, Offset: 0, Size: 64}
	encoded := addr.Encode()
	require.Len(t, encoded, AddressSize)

	decoded, err := DecodeAddress(encoded)
	require.NoError(t, err)
	require.Equal(t, addr, decoded)
}

func TestAddressRejectsCorruption(t *testing.T) {
	addr := Address{PhysicalAddress: 4096, AllocatedSize: 128, Offset: 0, Size: 128}
	encoded := addr.Encode()
	encoded[0] ^= 0xFF

	_, err := DecodeAddress(encoded)
	require.Error(t, err)
	require.True(t, IsNotDescriptor(err))
}

func TestAddressRejectsWrongLength(t *testing.T) {
	_, err := DecodeAddress([]byte{1, 2, 3})
	require.Error(t, err)
	require.True(t, IsNotDescriptor(err))
}
