// Package sdkcore defines the boundary to the sensor-device SDK that
// stream and publisher resource adapters drive: an opaque frame producer
// with a small, well-defined callback surface, grounded on the shape of the
// teacher's media.Subscriber/CodecDetector collaborators but generalized
// from "decode an RTMP media track" to "open/start/stop a configured
// stream and drain frames from it".
package sdkcore

import (
	"context"
	"time"

	"github.com/senscord/multi-server/internal/sderr"
)

// FrameData is one raw channel sample as handed up from the SDK, before a
// resource adapter wraps it in a proto.Channel/proto.Frame envelope.
// AllocatorKey names the shared-memory arena Raw's bytes live in, empty if
// the SDK handed over a private, non-shared buffer (§4.6 step 2).
type FrameData struct {
	ChannelID    uint32
	RawDataType  string
	AllocatorKey string
	Raw          []byte
	Timestamp    uint64
	Properties   map[string][]byte
	UpdatedKeys  []string
}

// SDKFrame is one captured instant, possibly spanning several channels.
type SDKFrame struct {
	SequenceNumber uint64
	SentTime       uint64
	UserData       []byte
	Channels       []FrameData
}

// Stream is a single opened sensor stream, driven by resource.StreamAdapter.
type Stream interface {
	Start() *sderr.Status
	Stop() *sderr.Status
	Close() *sderr.Status

	// ArrivedFrameCount reports frames buffered and not yet drained via
	// GetFrame, used by the publishing loop to decide whether to poll.
	ArrivedFrameCount() int
	// GetFrame blocks up to ctx's deadline for the next frame.
	GetFrame(ctx context.Context) (*SDKFrame, *sderr.Status)
	// ReleaseFrame tells the SDK the resource adapter is done with a
	// frame's raw buffers, mirroring the wire ReleaseFrame request.
	// rawDataAccessed is the merged accessed flag from §4.6 (stored
	// build-time flag OR'd with whatever the client reported); false
	// routes to the SDK's release_frame_unused semantics.
	ReleaseFrame(sequenceNumber uint64, rawDataAccessed bool) *sderr.Status

	GetProperty(key string) ([]byte, *sderr.Status)
	SetProperty(key string, value []byte) *sderr.Status
	PropertyKeyList() []string

	// RegisterEventCallback arranges for fn to be called when the stream
	// emits eventType (e.g. "FrameDropped"); returns an unregister func.
	RegisterEventCallback(eventType string, fn func(args map[string]string)) func()
}

// Publisher is a single opened sensor publisher, driven by
// resource.PublisherAdapter: frames flow IN from a client and are handed to
// the device/pipeline this publisher represents.
type Publisher interface {
	Close() *sderr.Status
	// PublishFrames delivers frames captured upstream (by a client
	// component acting as a data source) into this publisher's pipeline.
	PublishFrames(frames []SDKFrame) *sderr.Status
}

// Core is the SDK entry point a server.Server holds: it opens streams and
// publishers by key, and exposes the static stream catalog used by
// GetStreamList/VerifySupportedStreams.
type Core interface {
	OpenStream(key string, args map[string]string) (Stream, *sderr.Status)
	OpenPublisher(key string, args map[string]string) (Publisher, *sderr.Status)
	StreamTypes() map[string]string // stream_key -> stream_type, catalog order not significant
	Version() VersionInfo
}

// VersionInfo mirrors proto.VersionInfo at the SDK boundary so sdkcore has
// no dependency on the wire package.
type VersionInfo struct {
	Name           string
	Major          uint32
	Minor          uint32
	Patch          uint32
	Description    string
	StreamVersions map[string]string
}

// PollInterval is the default spacing between ArrivedFrameCount polls in
// the stream-adapter publishing loop, used when a Core implementation has
// no push-based notification of its own.
const PollInterval = 10 * time.Millisecond
