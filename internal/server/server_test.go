package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/senscord/multi-server/internal/config"
	"github.com/senscord/multi-server/internal/proto"
	"github.com/senscord/multi-server/internal/sdkcore"
	"github.com/senscord/multi-server/internal/sdkcore/fake"
	"github.com/senscord/multi-server/internal/transport/tcp"
)

func newTestFacade(t *testing.T) *config.StaticFacade {
	t.Helper()
	f := config.NewStaticFacade(true)
	f.AddListener(config.ListenerEntry{ConnectionKey: "default", PrimaryAddress: "127.0.0.1:0"})
	return f
}

func TestServerStartOpenCloseStop(t *testing.T) {
	core := fake.New(map[string]string{"pseudo_image_stream.0": "image"}, sdkcore.VersionInfo{Name: "test"})
	s, err := New(Config{Core: core, Facade: newTestFacade(t)})
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()

	addrs := s.Addrs()
	require.Len(t, addrs, 1)

	client, err := (tcp.Dialer{}).Dial(addrs[0])
	require.NoError(t, err)
	defer client.Close()

	openReq := &proto.Message{
		Header:  proto.Header{RequestID: 1, Type: proto.TypeRequest, DataType: proto.DataOpen},
		Payload: &proto.OpenRequest{Key: "pseudo_image_stream.0", Arguments: map[string]string{}},
	}
	require.NoError(t, client.Send(openReq))
	reply := recvWithTimeout(t, client)
	or := reply.Payload.(*proto.OpenReply)
	require.True(t, or.Status.OK)
	require.Contains(t, or.PropertyKeyList, "frame_rate_property")
	streamID := reply.Header.ServerStreamID
	require.NotZero(t, streamID)

	closeReq := &proto.Message{
		Header:  proto.Header{ServerStreamID: streamID, RequestID: 2, Type: proto.TypeRequest, DataType: proto.DataClose},
		Payload: &proto.Empty{},
	}
	require.NoError(t, client.Send(closeReq))
	closeReply := recvWithTimeout(t, client)
	cr := closeReply.Payload.(*proto.StandardReply)
	require.True(t, cr.Status.OK)
}

func TestServerOpenUnknownStreamReturnsNotFound(t *testing.T) {
	core := fake.New(map[string]string{}, sdkcore.VersionInfo{Name: "test"})
	s, err := New(Config{Core: core, Facade: newTestFacade(t)})
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()

	client, err := (tcp.Dialer{}).Dial(s.Addrs()[0])
	require.NoError(t, err)
	defer client.Close()

	req := &proto.Message{
		Header:  proto.Header{RequestID: 1, Type: proto.TypeRequest, DataType: proto.DataOpen},
		Payload: &proto.OpenRequest{Key: "does_not_exist", Arguments: map[string]string{}},
	}
	require.NoError(t, client.Send(req))
	reply := recvWithTimeout(t, client)
	or := reply.Payload.(*proto.OpenReply)
	require.False(t, or.Status.OK)
}

func recvWithTimeout(t *testing.T, c interface {
	Recv() (*proto.Message, error)
}) *proto.Message {
	t.Helper()
	type result struct {
		msg *proto.Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := c.Recv()
		ch <- result{msg, err}
	}()
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
		return nil
	}
}
