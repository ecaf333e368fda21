package resource

import (
	"log/slog"
	"sync"

	"github.com/senscord/multi-server/internal/metrics"
	"github.com/senscord/multi-server/internal/proto"
	"github.com/senscord/multi-server/internal/sderr"
	"github.com/senscord/multi-server/internal/sdkcore"
	"github.com/senscord/multi-server/internal/shm"
)

// PublisherAdapter owns one opened sdkcore.Publisher and handles SendFrame
// requests arriving from a client: resolving each channel's raw data
// (inline bytes or a shm.Address to map), assembling sdkcore.SDKFrames, and
// forwarding them downstream via Publisher.PublishFrames. Grounded on
// relay/destination.go's SendMessage: status-gated send, metrics update,
// error classification feeding back to the caller as a SendFrameReply.
type PublisherAdapter struct {
	*Adapter

	publisher sdkcore.Publisher
	regions   *shm.Manager
	log       *slog.Logger

	mu   sync.Mutex
	open bool
}

// NewPublisherAdapter wraps publisher as a PublisherAdapter under
// resourceID. regions resolves AddressSizeOnly channels to mapped bytes; it
// may be nil if this server never expects address-only SendFrame payloads.
func NewPublisherAdapter(resourceID uint64, publisher sdkcore.Publisher, regions *shm.Manager, sendToClient func(*proto.Message) error, metricsReg *metrics.Registry, log *slog.Logger) *PublisherAdapter {
	if log == nil {
		log = slog.Default()
	}
	pa := &PublisherAdapter{publisher: publisher, regions: regions, log: log, open: true}
	pa.Adapter = NewAdapter(resourceID, "publisher", pa, sendToClient, metricsReg, log)
	return pa
}

// Dispatch implements Dispatcher.
func (pa *PublisherAdapter) Dispatch(msg *proto.Message) *proto.Message {
	switch msg.Header.DataType {
	case proto.DataSendFrame:
		req := msg.Payload.(*proto.SendFramePayload)
		accepted, status := pa.ingest(req.Frames)
		if !status.OK {
			pa.Adapter.metrics.AddFramesDropped("publisher", "ingest_error", len(req.Frames))
			return proto.NewReply(msg.Header, proto.DataSendFrame, &proto.SendFrameReply{})
		}
		pa.Adapter.metrics.AddFramesSent("publisher", len(accepted))
		return proto.NewReply(msg.Header, proto.DataSendFrame, &proto.SendFrameReply{SequenceNumbers: accepted})
	case proto.DataClosePublisher:
		return proto.NewReply(msg.Header, proto.DataClosePublisher, &proto.StandardReply{Status: sderr.OKStatus()})
	default:
		return proto.NewReply(msg.Header, msg.Header.DataType, &proto.StandardReply{
			Status: sderr.New(sderr.CauseNotSupported, "publisher adapter: unsupported data_type %v", msg.Header.DataType),
		})
	}
}

func (pa *PublisherAdapter) ingest(frames []proto.Frame) ([]uint64, *sderr.Status) {
	sdkFrames := make([]sdkcore.SDKFrame, 0, len(frames))
	accepted := make([]uint64, 0, len(frames))
	for _, f := range frames {
		channels := make([]sdkcore.FrameData, 0, len(f.Channels))
		for _, ch := range f.Channels {
			raw, status := pa.resolveRaw(ch)
			if !status.OK {
				return accepted, status
			}
			props := make(map[string][]byte, len(ch.Properties))
			for _, p := range ch.Properties {
				props[p.Key] = p.Value
			}
			channels = append(channels, sdkcore.FrameData{
				ChannelID:   ch.ChannelID,
				RawDataType: ch.RawDataType,
				Raw:         raw,
				Timestamp:   ch.Timestamp,
				Properties:  props,
				UpdatedKeys: ch.UpdatedKeys,
			})
		}
		sdkFrames = append(sdkFrames, sdkcore.SDKFrame{
			SequenceNumber: f.SequenceNumber,
			SentTime:       f.SentTime,
			UserData:       f.UserData,
			Channels:       channels,
		})
		accepted = append(accepted, f.SequenceNumber)
	}

	if status := pa.publisher.PublishFrames(sdkFrames); !status.OK {
		return nil, status
	}
	return accepted, sderr.OKStatus()
}

// resolveRaw returns the channel's payload bytes: verbatim for
// DeliverAllData, or mapped from shared memory for DeliverAddressSizeOnly.
// A descriptor that fails to decode (wrong length or bad checksum) is not
// a wire fault per §4.11/§8 — it means the sender wasn't actually sharing
// memory, so the bytes are treated as a private, non-shared payload
// instead of being rejected.
func (pa *PublisherAdapter) resolveRaw(ch proto.Channel) ([]byte, *sderr.Status) {
	if ch.Raw.Mode == proto.DeliverAllData {
		return ch.Raw.Bytes, sderr.OKStatus()
	}
	addr, err := shm.DecodeAddress(ch.Raw.Bytes)
	if err != nil {
		if shm.IsNotDescriptor(err) {
			out := make([]byte, len(ch.Raw.Bytes))
			copy(out, ch.Raw.Bytes)
			return out, sderr.OKStatus()
		}
		return nil, sderr.New(sderr.CauseInvalidArgument, "publisher adapter: %v", err)
	}
	if pa.regions == nil {
		return nil, sderr.New(sderr.CauseInvalidOperation, "publisher adapter: no shared-memory manager configured for address_size_only delivery")
	}
	region, ok := pa.regions.LookupByKey(ch.AllocatorKey)
	if !ok {
		return nil, sderr.New(sderr.CauseNotFound, "publisher adapter: unknown shared-memory allocator_key %q", ch.AllocatorKey)
	}
	start := int64(addr.PhysicalAddress) + int64(addr.Offset)
	end := start + int64(addr.Size)
	if start < 0 || end > region.Size {
		return nil, sderr.New(sderr.CauseInvalidArgument, "publisher adapter: address [%d,%d) out of bounds for region size %d", start, end, region.Size)
	}
	out := make([]byte, addr.Size)
	copy(out, region.Bytes()[start:end])
	return out, sderr.OKStatus()
}

// Close implements Dispatcher: releases the underlying sdkcore.Publisher.
func (pa *PublisherAdapter) Close() {
	pa.mu.Lock()
	if !pa.open {
		pa.mu.Unlock()
		return
	}
	pa.open = false
	pa.mu.Unlock()
	if status := pa.publisher.Close(); !status.OK {
		pa.log.Warn("publisher close failed", "resource_id", pa.ResourceID(), "error", status.Error())
	}
}
