package resource

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/senscord/multi-server/internal/proto"
	"github.com/senscord/multi-server/internal/sdkcore"
	"github.com/senscord/multi-server/internal/sdkcore/fake"
	"github.com/senscord/multi-server/internal/shm"
)

func TestPublisherAdapterIngestsFrames(t *testing.T) {
	core := fake.New(map[string]string{}, sdkcore.VersionInfo{Name: "test"})
	pub, status := core.OpenPublisher("ingest.0", nil)
	require.True(t, status.OK)

	received := make(chan *proto.Message, 4)
	pa := NewPublisherAdapter(9, pub, nil, func(msg *proto.Message) error { received <- msg; return nil }, nil, nil)
	defer pa.Adapter.Close()

	sendMsg := &proto.Message{
		Header: proto.Header{ServerStreamID: 9, Type: proto.TypeRequest, DataType: proto.DataSendFrame},
		Payload: &proto.SendFramePayload{Frames: []proto.Frame{
			{
				SequenceNumber: 1,
				Channels: []proto.Channel{
					{ChannelID: 0, RawDataType: "raw", Raw: proto.RawDataInfo{Mode: proto.DeliverAllData, Bytes: []byte("hi")}},
				},
			},
		}},
	}
	pa.PushMessage(sendMsg)

	select {
	case reply := <-received:
		sfr := reply.Payload.(*proto.SendFrameReply)
		require.Equal(t, []uint64{1}, sfr.SequenceNumbers)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for send_frame reply")
	}
}

func TestPublisherAdapterRejectsAddressWithoutRegionManager(t *testing.T) {
	core := fake.New(map[string]string{}, sdkcore.VersionInfo{Name: "test"})
	pub, status := core.OpenPublisher("ingest.1", nil)
	require.True(t, status.OK)

	pa := NewPublisherAdapter(10, pub, nil, nil, nil, nil)
	defer pa.Adapter.Close()

	addr := shm.Address{PhysicalAddress: 0, AllocatedSize: 64, Offset: 0, Size: 64}
	_, derr := pa.resolveRaw(proto.Channel{
		AllocatorKey: "ingest.1",
		Raw:          proto.RawDataInfo{Mode: proto.DeliverAddressSizeOnly, Bytes: addr.Encode()},
	})
	require.False(t, derr.OK)
}

func TestPublisherAdapterFallsBackToPrivateBlockOnBadDescriptor(t *testing.T) {
	core := fake.New(map[string]string{}, sdkcore.VersionInfo{Name: "test"})
	pub, status := core.OpenPublisher("ingest.2", nil)
	require.True(t, status.OK)

	pa := NewPublisherAdapter(11, pub, nil, nil, nil, nil)
	defer pa.Adapter.Close()

	raw, derr := pa.resolveRaw(proto.Channel{
		Raw: proto.RawDataInfo{Mode: proto.DeliverAddressSizeOnly, Bytes: []byte("not a descriptor, just private bytes")},
	})
	require.True(t, derr.OK)
	require.Equal(t, "not a descriptor, just private bytes", string(raw))
}
