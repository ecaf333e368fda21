package shm

import (
	"encoding/binary"
	"hash/crc32"
)

// AddressSize is the fixed wire size of a SharedAddressInfo descriptor
// (§4.11, §6): four little-endian int32 fields (16 bytes) plus a trailing
// uint32 checksum (4 bytes) == 20 bytes total.
const AddressSize = 20

// Address is the 20-byte descriptor a stream or publisher resource adapter
// embeds in Channel.RawDataInfo when delivering_mode is address_size_only.
// Which named region it refers to travels out of band, in
// Channel.AllocatorKey, not in the descriptor itself — matching the
// original's single-region-per-allocator-key model. PhysicalAddress is the
// offset the allocator returned for this block; AllocatedSize is the
// block's reserved size; Offset/Size describe the logical payload within
// it (usually Offset==0, Size==AllocatedSize).
type Address struct {
	PhysicalAddress int32
	AllocatedSize   int32
	Offset          int32
	Size            int32
}

// crc32Table is the reflected CRC-32 table (polynomial 0xEDB88320) the
// descriptor checksum uses. Go's IEEE table already implements this
// reflected form with init/xorout 0xFFFFFFFF, so crc32.ChecksumIEEE
// reproduces the original's hand-rolled table exactly (§4.11).
var crc32Table = crc32.IEEETable

// Encode serializes the Address into its 20-byte wire form: the four
// fields little-endian, followed by a little-endian CRC-32 of the first
// 16 bytes.
func (a Address) Encode() []byte {
	buf := make([]byte, AddressSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(a.PhysicalAddress))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(a.AllocatedSize))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(a.Offset))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(a.Size))
	sum := crc32.Checksum(buf[:16], crc32Table)
	binary.LittleEndian.PutUint32(buf[16:20], sum)
	return buf
}

// notDescriptorError marks a DecodeAddress failure meaning "this is not a
// SharedAddressInfo descriptor at all", as opposed to an I/O or bounds
// fault further up the stack.
type notDescriptorError struct{ reason string }

func (e *notDescriptorError) Error() string { return "shm: not a descriptor: " + e.reason }

// IsNotDescriptor reports whether err came from DecodeAddress observing a
// size or checksum mismatch (§4.11: "detected by size mismatch or checksum
// mismatch; in that case the receiver allocates a private block" — this is
// the boundary behavior scenario 5 exercises, not a wire-protocol fault).
func IsNotDescriptor(err error) bool {
	_, ok := err.(*notDescriptorError)
	return ok
}

// DecodeAddress parses a 20-byte buffer produced by Address.Encode. A
// length or checksum mismatch returns a *notDescriptorError rather than a
// generic error, so callers can distinguish "fall back to a private
// allocation" from a real fault.
func DecodeAddress(buf []byte) (Address, error) {
	if len(buf) != AddressSize {
		return Address{}, &notDescriptorError{reason: "wrong length"}
	}
	want := binary.LittleEndian.Uint32(buf[16:20])
	got := crc32.Checksum(buf[:16], crc32Table)
	if want != got {
		return Address{}, &notDescriptorError{reason: "checksum mismatch"}
	}
	return Address{
		PhysicalAddress: int32(binary.LittleEndian.Uint32(buf[0:4])),
		AllocatedSize:   int32(binary.LittleEndian.Uint32(buf[4:8])),
		Offset:          int32(binary.LittleEndian.Uint32(buf[8:12])),
		Size:            int32(binary.LittleEndian.Uint32(buf[12:16])),
	}, nil
}
