// Package transport abstracts the byte-stream carrying proto.Message values
// between a client adapter and a client component, so the resource and
// adapter layers never touch net.Conn directly. The reference implementation
// is internal/transport/tcp.
package transport

import "github.com/senscord/multi-server/internal/proto"

// Transport is a full-duplex, message-oriented channel. Send/Recv are each
// expected to be called from a single goroutine (one reader, one writer);
// Close unblocks a goroutine blocked in Recv.
type Transport interface {
	Send(msg *proto.Message) error
	Recv() (*proto.Message, error)
	Close() error
	RemoteAddr() string

	// GetChannelRawData is the extensibility point of §4.1: it lets a
	// transport decide whether a channel's raw bytes cross the wire inline
	// (DeliverAllData) or by shared-memory reference (DeliverAddressSizeOnly).
	// allocatorKey is the channel's raw-data memory affinity, empty if none;
	// a transport with no same-system shared-memory allocator for that key
	// must fall back to returning raw unchanged as DeliverAllData.
	GetChannelRawData(allocatorKey string, raw []byte) (proto.RawDataInfo, error)
}

// Dialer opens an outbound Transport, used by the client component to reach
// a listening client adapter.
type Dialer interface {
	Dial(addr string) (Transport, error)
}
