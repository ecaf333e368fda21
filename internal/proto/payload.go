package proto

import "github.com/senscord/multi-server/internal/sderr"

// DeliveringMode selects how Channel.RawData reaches the client, per the
// resource-adapter delivering_mode setting (§4.6).
type DeliveringMode uint8

const (
	DeliverAllData DeliveringMode = iota
	DeliverAddressSizeOnly
)

// RawDataInfo carries either the full payload (DeliverAllData) or a shared
// memory Address descriptor only (DeliverAddressSizeOnly); Bytes holds
// whichever representation Mode selects.
type RawDataInfo struct {
	Mode  DeliveringMode
	Bytes []byte
}

// PropertySnapshot is one key/serialized-value pair attached to a Channel.
// A Channel carries every property the SDK attached to it; the keys that
// changed on this frame are listed separately in Channel.UpdatedKeys.
type PropertySnapshot struct {
	Key   string
	Value []byte
}

// Channel is one data channel within a Frame.
type Channel struct {
	ChannelID    uint32
	RawDataType  string
	AllocatorKey string
	Raw          RawDataInfo
	Timestamp    uint64
	Properties   []PropertySnapshot
	UpdatedKeys  []string
}

// Frame is the unit delivered by SendFrame: a monotonic sequence number and
// one or more channels captured at the same instant.
type Frame struct {
	SequenceNumber uint64
	SentTime       uint64
	UserData       []byte
	Channels       []Channel
}

// Empty is the payload for requests/replies that carry no fields beyond the
// Header (Start, Stop, Disconnect request, SecondaryConnect request).
type Empty struct{}

// StandardReply is the generic reply shape: a Status and nothing else
// (Close, Start, Stop, SetProperty, UnlockProperty, Disconnect,
// RegisterEvent, UnregisterEvent replies).
type StandardReply struct {
	Status *sderr.Status
}

// OpenRequest opens a stream or publisher by key with adapter-specific
// arguments (§4.2).
type OpenRequest struct {
	Key       string
	Arguments map[string]string
}

// OpenReply answers OpenRequest with the resource's initial property key
// list, used by the client component to seed its property cache.
type OpenReply struct {
	Status         *sderr.Status
	PropertyKeyList []string
}

// VersionInfo is the SDK/stream version block returned by GetVersion.
type VersionInfo struct {
	Name           string
	Major          uint32
	Minor          uint32
	Patch          uint32
	Description    string
	StreamVersions map[string]string
}

// VersionReply answers GetVersion.
type VersionReply struct {
	Status  *sderr.Status
	Version VersionInfo
}

// StreamListEntry names one catalog-registered stream type (§4.9).
type StreamListEntry struct {
	Key  string
	Type string
}

// StreamListReply answers GetStreamList.
type StreamListReply struct {
	Status     *sderr.Status
	StreamList []StreamListEntry
}

// ServerConfigReply answers GetServerConfig with the facade's effective
// (non-secret) configuration, exposed for diagnostics.
type ServerConfigReply struct {
	Status *sderr.Status
	Config map[string]string
}

// PropertyRequest carries a GetProperty/GetPropertyList key (Property empty)
// or a SetProperty key+serialized value.
type PropertyRequest struct {
	Key      string
	Property []byte
}

// PropertyReply answers GetProperty/GetPropertyList with the serialized
// property value(s); for GetPropertyList, Property holds a concatenated
// key listing understood by the caller's codec layer, not this package.
type PropertyReply struct {
	Status   *sderr.Status
	Key      string
	Property []byte
}

// LockPropertyRequest requests exclusive access to one or more property
// keys, bounded by TimeoutMsec (negative means infinite, §4.7).
type LockPropertyRequest struct {
	Keys        []string
	TimeoutMsec int32
}

// LockPropertyReply answers LockPropertyRequest with the resource ID that
// must accompany the matching UnlockPropertyRequest.
type LockPropertyReply struct {
	Status     *sderr.Status
	ResourceID uint64
}

// UnlockPropertyRequest releases a previously granted property lock.
type UnlockPropertyRequest struct {
	ResourceID uint64
}

// SendFramePayload carries one or more Frames: pushed by a stream adapter
// to its client connection, or sent by a client's publisher Port to a
// publisher adapter.
type SendFramePayload struct {
	Frames []Frame
}

// SendFrameReply acknowledges the sequence numbers the client has accepted;
// used to drive ReleaseFrame bookkeeping upstream.
type SendFrameReply struct {
	SequenceNumbers []uint64
}

// ReleaseFrameRequest tells the resource adapter the client component is
// done with a frame's raw data, removing it from the stream adapter's
// pending-release table.
type ReleaseFrameRequest struct {
	SequenceNumber  uint64
	RawDataAccessed bool
}

// RegisterEventRequest subscribes the connection to an event type (§4.8).
type RegisterEventRequest struct {
	EventType string
}

// SendEventPayload is an asynchronous, unsolicited notification such as
// Error or FrameDropped (§4.8).
type SendEventPayload struct {
	EventType string
	Args      map[string]string
}
