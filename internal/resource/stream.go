package resource

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/senscord/multi-server/internal/metrics"
	"github.com/senscord/multi-server/internal/proto"
	"github.com/senscord/multi-server/internal/sderr"
	"github.com/senscord/multi-server/internal/sdkcore"
)

// pendingRelease tracks a frame sent to the client component but not yet
// acknowledged via ReleaseFrame, keyed by sequence_number per §5.2.
// rawDataAccessed is the flag observed at build time (true when every
// channel in the frame delivered AllData inline, §4.6); release() ORs it
// with whatever the client later reports.
type pendingRelease struct {
	sequenceNumber  uint64
	sentAt          time.Time
	rawDataAccessed bool
}

// RawDataResolver is the narrow slice of transport.Transport a stream
// adapter needs to pick a channel's delivering_mode (§4.1's
// get_channel_raw_data extensibility point), kept as its own interface so
// this package doesn't need to import transport.
type RawDataResolver interface {
	GetChannelRawData(allocatorKey string, raw []byte) (proto.RawDataInfo, error)
}

// StreamAdapter owns one opened sdkcore.Stream and the client-facing
// request surface around it: Start/Stop/GetProperty/SetProperty/
// GetPropertyList/LockProperty/UnlockProperty/ReleaseFrame/RegisterEvent/
// UnregisterEvent, plus a background publishing loop that polls
// ArrivedFrameCount, drains frames, and pushes SendFrame batches to the
// owning client connection. Grounded on the teacher's
// Stream.BroadcastMessage: snapshot state under lock, send outside it.
type StreamAdapter struct {
	*Adapter

	stream  sdkcore.Stream
	rawData RawDataResolver
	log     *slog.Logger

	mu              sync.Mutex
	pending         map[uint64]pendingRelease
	eventSendCount  uint64
	eventUnregister map[string]func()
	nextLockID      uint64
	locks           map[uint64][]string // resourceID -> locked keys
	publishing      bool
	stopPublish     chan struct{}
}

// NewStreamAdapter wraps stream as a StreamAdapter under resourceID.
// rawData chooses each outbound channel's delivering_mode (the owning
// connection's transport; may be nil, in which case every channel is
// delivered inline). sendToClient forwards replies and asynchronous
// SendFrame/SendEvent messages (normally clientadapter.Connection.sendToClient),
// reporting back whether the send succeeded.
func NewStreamAdapter(resourceID uint64, stream sdkcore.Stream, rawData RawDataResolver, sendToClient func(*proto.Message) error, metricsReg *metrics.Registry, log *slog.Logger) *StreamAdapter {
	if log == nil {
		log = slog.Default()
	}
	sa := &StreamAdapter{
		stream:          stream,
		rawData:         rawData,
		log:             log,
		pending:         make(map[uint64]pendingRelease),
		eventUnregister: make(map[string]func()),
		locks:           make(map[uint64][]string),
		stopPublish:     make(chan struct{}),
	}
	sa.Adapter = NewAdapter(resourceID, "stream", sa, sendToClient, metricsReg, log)
	return sa
}

// StartPublishing launches the background frame-delivery loop. Called once
// the client has sent Start for this resource.
func (sa *StreamAdapter) StartPublishing() {
	sa.mu.Lock()
	if sa.publishing {
		sa.mu.Unlock()
		return
	}
	sa.publishing = true
	sa.mu.Unlock()
	go sa.publishLoop()
}

// StopPublishing halts the background frame-delivery loop. Called on
// client Stop; Close also calls it before draining pending frames.
func (sa *StreamAdapter) StopPublishing() {
	sa.mu.Lock()
	if !sa.publishing {
		sa.mu.Unlock()
		return
	}
	sa.publishing = false
	sa.mu.Unlock()
	close(sa.stopPublish)
	sa.stopPublish = make(chan struct{})
}

func (sa *StreamAdapter) publishLoop() {
	ticker := time.NewTicker(sdkcore.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sa.stopPublish:
			return
		case <-ticker.C:
			sa.mu.Lock()
			publishing := sa.publishing
			sa.mu.Unlock()
			if !publishing {
				return
			}
			sa.drainFrames()
		}
	}
}

// builtFrame is one successfully assembled wire frame awaiting send,
// carrying the rawdata_accessed flag observed while building it.
type builtFrame struct {
	frame           proto.Frame
	rawDataAccessed bool
}

func (sa *StreamAdapter) drainFrames() {
	count := sa.stream.ArrivedFrameCount()
	if count == 0 {
		return
	}
	var batch []builtFrame
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	for i := 0; i < count; i++ {
		sdkFrame, status := sa.stream.GetFrame(ctx)
		if !status.OK {
			break
		}
		frame, accessed, err := sa.toWireFrame(*sdkFrame)
		if err != nil {
			sa.log.Warn("stream adapter: dropping frame that failed to build", "resource_id", sa.ResourceID(), "sequence_number", sdkFrame.SequenceNumber, "error", err)
			if status := sa.stream.ReleaseFrame(sdkFrame.SequenceNumber, accessed); !status.OK {
				sa.log.Warn("stream adapter: release of dropped frame failed", "resource_id", sa.ResourceID(), "sequence_number", sdkFrame.SequenceNumber, "error", status.Error())
			}
			continue
		}
		batch = append(batch, builtFrame{frame: frame, rawDataAccessed: accessed})
		if len(frame.Channels) > 0 {
			sa.mu.Lock()
			sa.pending[frame.SequenceNumber] = pendingRelease{sequenceNumber: frame.SequenceNumber, sentAt: time.Now(), rawDataAccessed: accessed}
			sa.mu.Unlock()
		}
	}
	if len(batch) == 0 {
		return
	}
	frames := make([]proto.Frame, len(batch))
	for i, b := range batch {
		frames[i] = b.frame
	}

	sa.Adapter.metrics.AddFramesSent("stream", len(frames))
	sa.mu.Lock()
	sa.Adapter.metrics.SetFramesPending("stream", len(sa.pending))
	sa.mu.Unlock()

	msg := &proto.Message{
		Header:  proto.Header{ServerStreamID: sa.ResourceID(), RequestID: frames[0].SequenceNumber, Type: proto.TypeSendFrame, DataType: proto.DataSendFrame},
		Payload: &proto.SendFramePayload{Frames: frames},
	}
	if sa.sendReply == nil {
		return
	}
	if err := sa.sendReply(msg); err != nil {
		sa.log.Warn("stream adapter: send_frame failed, releasing batch", "resource_id", sa.ResourceID(), "error", err)
		for _, b := range batch {
			if status := sa.release(b.frame.SequenceNumber, b.rawDataAccessed); !status.OK {
				sa.log.Warn("stream adapter: release after send failure failed", "resource_id", sa.ResourceID(), "sequence_number", b.frame.SequenceNumber, "error", status.Error())
			}
		}
	}
}

// toWireFrame builds the wire Frame for f, resolving each channel's
// delivering_mode via rawData. The returned bool is the frame's build-time
// rawdata_accessed flag: true only if every channel delivered AllData.
func (sa *StreamAdapter) toWireFrame(f sdkcore.SDKFrame) (proto.Frame, bool, error) {
	channels := make([]proto.Channel, len(f.Channels))
	allAccessed := true
	for i, c := range f.Channels {
		raw, err := sa.resolveRawData(c.AllocatorKey, c.Raw)
		if err != nil {
			return proto.Frame{}, false, err
		}
		if raw.Mode != proto.DeliverAllData {
			allAccessed = false
		}
		props := make([]proto.PropertySnapshot, 0, len(c.Properties))
		for k, v := range c.Properties {
			props = append(props, proto.PropertySnapshot{Key: k, Value: v})
		}
		channels[i] = proto.Channel{
			ChannelID:    c.ChannelID,
			RawDataType:  c.RawDataType,
			AllocatorKey: c.AllocatorKey,
			Raw:          raw,
			Timestamp:    c.Timestamp,
			Properties:   props,
			UpdatedKeys:  c.UpdatedKeys,
		}
	}
	return proto.Frame{
		SequenceNumber: f.SequenceNumber,
		SentTime:       f.SentTime,
		UserData:       f.UserData,
		Channels:       channels,
	}, allAccessed, nil
}

// resolveRawData picks a channel's delivering_mode via sa.rawData, falling
// back to inline delivery when this adapter has no resolver attached.
func (sa *StreamAdapter) resolveRawData(allocatorKey string, raw []byte) (proto.RawDataInfo, error) {
	if sa.rawData == nil {
		return proto.RawDataInfo{Mode: proto.DeliverAllData, Bytes: raw}, nil
	}
	return sa.rawData.GetChannelRawData(allocatorKey, raw)
}

// Dispatch implements Dispatcher for the standard and lock_unlock FIFOs.
func (sa *StreamAdapter) Dispatch(msg *proto.Message) *proto.Message {
	switch msg.Header.DataType {
	case proto.DataStart:
		sa.StartPublishing()
		status := sa.stream.Start()
		return proto.NewReply(msg.Header, proto.DataStart, &proto.StandardReply{Status: status})
	case proto.DataStop:
		sa.StopPublishing()
		status := sa.stream.Stop()
		return proto.NewReply(msg.Header, proto.DataStop, &proto.StandardReply{Status: status})
	case proto.DataGetProperty:
		req := msg.Payload.(*proto.PropertyRequest)
		value, status := sa.stream.GetProperty(req.Key)
		return proto.NewReply(msg.Header, proto.DataGetProperty, &proto.PropertyReply{Status: status, Key: req.Key, Property: value})
	case proto.DataSetProperty:
		req := msg.Payload.(*proto.PropertyRequest)
		status := sa.stream.SetProperty(req.Key, req.Property)
		return proto.NewReply(msg.Header, proto.DataSetProperty, &proto.StandardReply{Status: status})
	case proto.DataGetPropertyList:
		keys := sa.stream.PropertyKeyList()
		return proto.NewReply(msg.Header, proto.DataGetPropertyList, &proto.PropertyReply{Status: sderr.OKStatus(), Key: "", Property: joinKeys(keys)})
	case proto.DataLockProperty:
		req := msg.Payload.(*proto.LockPropertyRequest)
		id, status := sa.lock(req.Keys)
		return proto.NewReply(msg.Header, proto.DataLockProperty, &proto.LockPropertyReply{Status: status, ResourceID: id})
	case proto.DataUnlockProperty:
		req := msg.Payload.(*proto.UnlockPropertyRequest)
		status := sa.unlock(req.ResourceID)
		return proto.NewReply(msg.Header, proto.DataUnlockProperty, &proto.StandardReply{Status: status})
	case proto.DataReleaseFrame:
		req := msg.Payload.(*proto.ReleaseFrameRequest)
		status := sa.release(req.SequenceNumber, req.RawDataAccessed)
		return proto.NewReply(msg.Header, proto.DataReleaseFrame, &proto.StandardReply{Status: status})
	case proto.DataRegisterEvent:
		req := msg.Payload.(*proto.RegisterEventRequest)
		status := sa.registerEvent(req.EventType)
		return proto.NewReply(msg.Header, proto.DataRegisterEvent, &proto.StandardReply{Status: status})
	case proto.DataUnregisterEvent:
		req := msg.Payload.(*proto.RegisterEventRequest)
		status := sa.unregisterEvent(req.EventType)
		return proto.NewReply(msg.Header, proto.DataUnregisterEvent, &proto.StandardReply{Status: status})
	case proto.DataSendFrame:
		// The only DataSendFrame traffic a stream adapter ever receives back
		// is the peer's reply to its own asynchronous push (§4.6): pop and
		// release each acknowledged sequence number, no reply sent.
		if msg.Header.Type == proto.TypeReply {
			if reply, ok := msg.Payload.(*proto.SendFrameReply); ok {
				sa.releaseAcknowledged(reply.SequenceNumbers)
			}
			return nil
		}
		return proto.NewReply(msg.Header, proto.DataSendFrame, &proto.StandardReply{
			Status: sderr.New(sderr.CauseNotSupported, "stream adapter: unsupported data_type %v", msg.Header.DataType),
		})
	default:
		return proto.NewReply(msg.Header, msg.Header.DataType, &proto.StandardReply{
			Status: sderr.New(sderr.CauseNotSupported, "stream adapter: unsupported data_type %v", msg.Header.DataType),
		})
	}
}

func (sa *StreamAdapter) lock(keys []string) (uint64, *sderr.Status) {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	sa.nextLockID++
	id := sa.nextLockID
	sa.locks[id] = keys
	return id, sderr.OKStatus()
}

func (sa *StreamAdapter) unlock(resourceID uint64) *sderr.Status {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	if _, ok := sa.locks[resourceID]; !ok {
		return sderr.New(sderr.CauseNotFound, "stream adapter: no lock with resource_id %d", resourceID)
	}
	delete(sa.locks, resourceID)
	return sderr.OKStatus()
}

// registerEvent arranges for a server-side emit of eventType to reach the
// client as a SendEvent, registering the SDK callback once per event type.
func (sa *StreamAdapter) registerEvent(eventType string) *sderr.Status {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	if _, ok := sa.eventUnregister[eventType]; ok {
		return sderr.OKStatus()
	}
	sa.eventUnregister[eventType] = sa.stream.RegisterEventCallback(eventType, func(args map[string]string) {
		sa.emitEvent(eventType, args)
	})
	return sderr.OKStatus()
}

// unregisterEvent drops a previously registered event subscription. An
// event type this adapter never registered is not an error, mirroring
// release()'s "unknown entry is a boundary case, not a fault" convention.
func (sa *StreamAdapter) unregisterEvent(eventType string) *sderr.Status {
	sa.mu.Lock()
	unregister, ok := sa.eventUnregister[eventType]
	if ok {
		delete(sa.eventUnregister, eventType)
	}
	sa.mu.Unlock()
	if ok {
		unregister()
	}
	return sderr.OKStatus()
}

// emitEvent sends one SendEvent message for a server-side SDK callback
// firing, using the monotonic event_send_count as request_id (§4.6).
func (sa *StreamAdapter) emitEvent(eventType string, args map[string]string) {
	sa.mu.Lock()
	sa.eventSendCount++
	requestID := sa.eventSendCount
	sa.mu.Unlock()

	msg := &proto.Message{
		Header:  proto.Header{ServerStreamID: sa.ResourceID(), RequestID: requestID, Type: proto.TypeSendEvent, DataType: proto.DataSendEvent},
		Payload: &proto.SendEventPayload{EventType: eventType, Args: args},
	}
	if sa.sendReply == nil {
		return
	}
	if err := sa.sendReply(msg); err != nil {
		sa.log.Warn("stream adapter: send_event failed", "resource_id", sa.ResourceID(), "event_type", eventType, "error", err)
	}
}

// release handles ReleaseFrame for sequenceNumber. An unknown sequence
// number is not an error: the client may have already released it, or may
// be releasing a frame this adapter never tracked as pending, and the
// boundary behavior is an OK reply with no entry removed, not a fault.
// rawDataAccessed is OR'd with the flag observed when the frame was built
// (§4.6) before choosing between release_frame and release_frame_unused.
func (sa *StreamAdapter) release(sequenceNumber uint64, rawDataAccessed bool) *sderr.Status {
	sa.mu.Lock()
	entry, ok := sa.pending[sequenceNumber]
	if ok {
		delete(sa.pending, sequenceNumber)
	}
	pendingCount := len(sa.pending)
	sa.mu.Unlock()
	if !ok {
		return sderr.OKStatus()
	}
	sa.Adapter.metrics.SetFramesPending("stream", pendingCount)
	sa.Adapter.metrics.AddFramesReleased("stream", 1)
	return sa.stream.ReleaseFrame(sequenceNumber, entry.rawDataAccessed || rawDataAccessed)
}

// releaseAcknowledged releases every sequence number a peer's SendFrame
// reply acknowledged, with rawdata_accessed=true (§4.6: an acknowledged
// send means the peer read whatever it needed from the batch).
func (sa *StreamAdapter) releaseAcknowledged(sequenceNumbers []uint64) {
	for _, seq := range sequenceNumbers {
		if status := sa.release(seq, true); !status.OK {
			sa.log.Warn("stream adapter: release on send_frame reply failed", "resource_id", sa.ResourceID(), "sequence_number", seq, "error", status.Error())
		}
	}
}

// Close implements Dispatcher: drains every still-pending frame (released
// unconditionally with rawdata_accessed=true, §3/§8 invariant 2), tears
// down any live event subscriptions, and releases the underlying
// sdkcore.Stream.
func (sa *StreamAdapter) Close() {
	sa.StopPublishing()

	sa.mu.Lock()
	pending := make([]pendingRelease, 0, len(sa.pending))
	for _, p := range sa.pending {
		pending = append(pending, p)
	}
	sa.pending = make(map[uint64]pendingRelease)
	unregs := make([]func(), 0, len(sa.eventUnregister))
	for _, u := range sa.eventUnregister {
		unregs = append(unregs, u)
	}
	sa.eventUnregister = make(map[string]func())
	sa.mu.Unlock()

	for _, u := range unregs {
		u()
	}
	for _, p := range pending {
		if status := sa.stream.ReleaseFrame(p.sequenceNumber, true); !status.OK {
			sa.log.Warn("stream adapter: release of pending frame at teardown failed", "resource_id", sa.ResourceID(), "sequence_number", p.sequenceNumber, "error", status.Error())
		}
	}
	sa.Adapter.metrics.SetFramesPending("stream", 0)

	if status := sa.stream.Close(); !status.OK {
		sa.log.Warn("stream close failed", "resource_id", sa.ResourceID(), "error", status.Error())
	}
}

func joinKeys(keys []string) []byte {
	out := make([]byte, 0)
	for i, k := range keys {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, []byte(k)...)
	}
	return out
}
