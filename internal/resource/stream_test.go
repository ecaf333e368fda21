package resource

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/senscord/multi-server/internal/proto"
	"github.com/senscord/multi-server/internal/sdkcore"
	"github.com/senscord/multi-server/internal/sdkcore/fake"
)

func TestStreamAdapterStartProducesSendFrame(t *testing.T) {
	core := fake.New(map[string]string{"image_stream.0": "image"}, sdkcore.VersionInfo{Name: "test"})
	stream, status := core.OpenStream("image_stream.0", map[string]string{"frame_rate": "5"})
	require.True(t, status.OK)

	received := make(chan *proto.Message, 16)
	sa := NewStreamAdapter(1, stream, nil, func(msg *proto.Message) error { received <- msg; return nil }, nil, nil)
	defer sa.Adapter.Close()

	startMsg := &proto.Message{Header: proto.Header{ServerStreamID: 1, Type: proto.TypeRequest, DataType: proto.DataStart}, Payload: &proto.Empty{}}
	sa.PushMessage(startMsg)

	select {
	case reply := <-received:
		require.Equal(t, proto.DataStart, reply.Header.DataType)
		require.True(t, reply.Payload.(*proto.StandardReply).Status.OK)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Start reply")
	}

	var gotFrame bool
	deadline := time.After(500 * time.Millisecond)
	for !gotFrame {
		select {
		case msg := <-received:
			if msg.Header.DataType == proto.DataSendFrame {
				gotFrame = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for a SendFrame message")
		}
	}
}

func TestStreamAdapterLockUnlock(t *testing.T) {
	core := fake.New(map[string]string{"s": "t"}, sdkcore.VersionInfo{Name: "test"})
	stream, status := core.OpenStream("s", nil)
	require.True(t, status.OK)

	received := make(chan *proto.Message, 4)
	sa := NewStreamAdapter(2, stream, nil, func(msg *proto.Message) error { received <- msg; return nil }, nil, nil)
	defer sa.Adapter.Close()

	lockMsg := &proto.Message{
		Header:  proto.Header{ServerStreamID: 2, Type: proto.TypeRequest, DataType: proto.DataLockProperty},
		Payload: &proto.LockPropertyRequest{Keys: []string{"exposure_property"}, TimeoutMsec: -1},
	}
	sa.PushMessage(lockMsg)

	var lockID uint64
	select {
	case reply := <-received:
		lp := reply.Payload.(*proto.LockPropertyReply)
		require.True(t, lp.Status.OK)
		lockID = lp.ResourceID
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for lock reply")
	}

	unlockMsg := &proto.Message{
		Header:  proto.Header{ServerStreamID: 2, Type: proto.TypeRequest, DataType: proto.DataUnlockProperty},
		Payload: &proto.UnlockPropertyRequest{ResourceID: lockID},
	}
	sa.PushMessage(unlockMsg)

	select {
	case reply := <-received:
		require.True(t, reply.Payload.(*proto.StandardReply).Status.OK)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for unlock reply")
	}
}
