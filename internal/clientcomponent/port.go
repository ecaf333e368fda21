package clientcomponent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/senscord/multi-server/internal/proto"
	"github.com/senscord/multi-server/internal/sderr"
	"github.com/senscord/multi-server/internal/shm"
)

// Port is the client-side handle for one opened stream or publisher: a
// server_stream_id riding on a shared Messenger. A stream Port reconstructs
// each delivered frame (mapping shared memory where the server used
// address_size_only delivery) before handing it to the caller's onFrame
// callback, and tracks outstanding frames via FrameManager until the
// caller releases them.
type Port struct {
	id        uint64
	kind      string // "stream" or "publisher"
	messenger *Messenger
	allocs    *AllocatorCache
	frames    *FrameManager
	onFrame   func(proto.Frame)
	onEvent   func(eventType string, args map[string]string)
	onClosed  func()
	log       *slog.Logger

	usedKeysMu sync.Mutex
	usedKeys   map[string]bool
}

func newPort(id uint64, kind string, messenger *Messenger, allocs *AllocatorCache, onFrame func(proto.Frame), log *slog.Logger) *Port {
	p := &Port{
		id:        id,
		kind:      kind,
		messenger: messenger,
		allocs:    allocs,
		onFrame:   onFrame,
		log:       log,
		usedKeys:  make(map[string]bool),
	}
	p.frames = newFrameManager(p.releaseAllocators)
	return p
}

// ResourceID returns the port's server_stream_id.
func (p *Port) ResourceID() uint64 { return p.id }

// Kind returns "stream" or "publisher".
func (p *Port) Kind() string { return p.kind }

func (p *Port) request(ctx context.Context, dataType proto.DataType, payload any) (*proto.Message, error) {
	return p.messenger.Request(ctx, p.id, dataType, payload)
}

// Start begins frame delivery for a stream Port.
func (p *Port) Start(ctx context.Context) *sderr.Status {
	reply, err := p.request(ctx, proto.DataStart, &proto.Empty{})
	if err != nil {
		return sderr.FromError(err)
	}
	return proto.StatusOf(reply.Payload)
}

// Stop asks the server to pause producing new frames. Frames already
// delivered and not yet released remain valid; FrameManager fires its
// release-all hook once the last of them drains.
func (p *Port) Stop(ctx context.Context) *sderr.Status {
	reply, err := p.request(ctx, proto.DataStop, &proto.Empty{})
	if err != nil {
		return sderr.FromError(err)
	}
	p.frames.Stop()
	return proto.StatusOf(reply.Payload)
}

// Close releases the resource server-side via Close/ClosePublisher and
// forgets this Port's registration.
func (p *Port) Close(ctx context.Context) *sderr.Status {
	dataType := proto.DataClose
	if p.kind == "publisher" {
		dataType = proto.DataClosePublisher
	}
	reply, err := p.request(ctx, dataType, &proto.Empty{})
	if p.onClosed != nil {
		p.onClosed()
	}
	if err != nil {
		return sderr.FromError(err)
	}
	return proto.StatusOf(reply.Payload)
}

// GetProperty fetches one property's serialized value.
func (p *Port) GetProperty(ctx context.Context, key string) ([]byte, *sderr.Status) {
	reply, err := p.request(ctx, proto.DataGetProperty, &proto.PropertyRequest{Key: key})
	if err != nil {
		return nil, sderr.FromError(err)
	}
	pr := reply.Payload.(*proto.PropertyReply)
	return pr.Property, pr.Status
}

// SetProperty writes one property's serialized value.
func (p *Port) SetProperty(ctx context.Context, key string, value []byte) *sderr.Status {
	reply, err := p.request(ctx, proto.DataSetProperty, &proto.PropertyRequest{Key: key, Property: value})
	if err != nil {
		return sderr.FromError(err)
	}
	return proto.StatusOf(reply.Payload)
}

// GetPropertyList returns the resource's supported property keys.
func (p *Port) GetPropertyList(ctx context.Context) ([]byte, *sderr.Status) {
	reply, err := p.request(ctx, proto.DataGetPropertyList, &proto.PropertyRequest{})
	if err != nil {
		return nil, sderr.FromError(err)
	}
	pr := reply.Payload.(*proto.PropertyReply)
	return pr.Property, pr.Status
}

// LockProperty requests exclusive access to keys, bounded by timeout
// (negative means infinite, per §4.7). The budget travels on the wire in
// the request itself; ctx additionally bounds how long this call is
// willing to wait locally for the reply to arrive.
func (p *Port) LockProperty(ctx context.Context, keys []string, timeout time.Duration) (uint64, *sderr.Status) {
	timeoutMsec := int32(-1)
	if timeout >= 0 {
		timeoutMsec = int32(timeout.Milliseconds())
	}
	reply, err := p.request(ctx, proto.DataLockProperty, &proto.LockPropertyRequest{Keys: keys, TimeoutMsec: timeoutMsec})
	if err != nil {
		return 0, sderr.FromError(err)
	}
	lr := reply.Payload.(*proto.LockPropertyReply)
	return lr.ResourceID, lr.Status
}

// UnlockProperty releases a lock previously granted by LockProperty.
func (p *Port) UnlockProperty(ctx context.Context, lockID uint64) *sderr.Status {
	reply, err := p.request(ctx, proto.DataUnlockProperty, &proto.UnlockPropertyRequest{ResourceID: lockID})
	if err != nil {
		return sderr.FromError(err)
	}
	return proto.StatusOf(reply.Payload)
}

// ReleaseFrame tells the server the client is done with sequenceNumber's raw
// buffers. A Cancelled reply — the connection tore down mid-flight — is
// treated as success: there is no longer a peer to leak a reference to.
func (p *Port) ReleaseFrame(ctx context.Context, sequenceNumber uint64, rawDataAccessed bool) *sderr.Status {
	reply, err := p.request(ctx, proto.DataReleaseFrame, &proto.ReleaseFrameRequest{SequenceNumber: sequenceNumber, RawDataAccessed: rawDataAccessed})
	p.frames.Release(sequenceNumber)
	if err != nil {
		if st := sderr.FromError(err); st.Cause == sderr.CauseCancelled {
			return sderr.OKStatus()
		}
		return sderr.FromError(err)
	}
	return proto.StatusOf(reply.Payload)
}

// SendFrame pushes frames upstream through a publisher Port and reports
// which sequence numbers the server accepted.
func (p *Port) SendFrame(ctx context.Context, frames []proto.Frame) ([]uint64, *sderr.Status) {
	reply, err := p.request(ctx, proto.DataSendFrame, &proto.SendFramePayload{Frames: frames})
	if err != nil {
		return nil, sderr.FromError(err)
	}
	sfr := reply.Payload.(*proto.SendFrameReply)
	return sfr.SequenceNumbers, sderr.OKStatus()
}

// deliverFrame reconstructs raw data on frame's channels (mapping shared
// memory where needed), tracks the sequence number as outstanding, and
// hands the result to onFrame.
func (p *Port) deliverFrame(frame proto.Frame) {
	for i, ch := range frame.Channels {
		if ch.Raw.Mode != proto.DeliverAddressSizeOnly {
			continue
		}
		if p.allocs == nil {
			continue
		}
		addr, err := shm.DecodeAddress(ch.Raw.Bytes)
		if err != nil {
			if shm.IsNotDescriptor(err) {
				// Not actually a shared-memory descriptor: treat the bytes
				// as a private, inline payload instead of rejecting them.
				frame.Channels[i].Raw = proto.RawDataInfo{Mode: proto.DeliverAllData, Bytes: ch.Raw.Bytes}
				continue
			}
			p.warn("bad shared-address descriptor", ch.AllocatorKey, err)
			continue
		}
		if err := p.ensureAllocatorOpen(ch.AllocatorKey); err != nil {
			p.warn("open shared-memory mapping failed", ch.AllocatorKey, err)
			continue
		}
		raw, err := p.allocs.Read(ch.AllocatorKey, addr)
		if err != nil {
			p.warn("read shared memory failed", ch.AllocatorKey, err)
			continue
		}
		frame.Channels[i].Raw = proto.RawDataInfo{Mode: proto.DeliverAllData, Bytes: raw}
	}
	p.frames.Track(frame.SequenceNumber)
	if p.onFrame != nil {
		p.onFrame(frame)
	}
}

func (p *Port) warn(msg, allocatorKey string, err error) {
	if p.log == nil {
		return
	}
	p.log.Warn("clientcomponent: "+msg, "resource_id", p.id, "allocator_key", allocatorKey, "error", err)
}

func (p *Port) ensureAllocatorOpen(key string) error {
	p.usedKeysMu.Lock()
	already := p.usedKeys[key]
	p.usedKeysMu.Unlock()
	if already {
		return nil
	}
	if err := p.allocs.Open(key); err != nil {
		return err
	}
	p.usedKeysMu.Lock()
	p.usedKeys[key] = true
	p.usedKeysMu.Unlock()
	return nil
}

// releaseAllocators closes every allocator_key mapping this Port opened,
// called once FrameManager observes stopped+drained.
func (p *Port) releaseAllocators() {
	if p.allocs == nil {
		return
	}
	p.usedKeysMu.Lock()
	keys := make([]string, 0, len(p.usedKeys))
	for k := range p.usedKeys {
		keys = append(keys, k)
	}
	p.usedKeys = make(map[string]bool)
	p.usedKeysMu.Unlock()
	for _, k := range keys {
		if err := p.allocs.Close(k); err != nil {
			p.warn("release shared-memory mapping failed", k, err)
		}
	}
}
