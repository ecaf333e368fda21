package clientadapter

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

func dialLoopback(t *testing.T) (*tcp.Conn, *tcp.Conn) {
	t.Helper()
	ln, err := tcp.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverConns := make(chan *tcp.Conn, 1)
	go func() {
		c, err := ln.Accept()
		require.NoError(t, err)
		serverConns <- c
	}()

	client, err := (tcp.Dialer{}).Dial(ln.Addr().String())
	require.NoError(t, err)

	var server *tcp.Conn
	select {
	case server = <-serverConns:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server accept")
	}
	return client.(*tcp.Conn), server
}

func newTestDeps() Deps {
	core := fake.New(map[string]string{"image_stream.0": "image"}, sdkcore.VersionInfo{Name: "test"})
	cfg := config.NewStaticFacade(true)
	return Deps{Core: core, Config: cfg}
}

// TestSecondaryFanOutPrefersSecondary verifies that once a Secondary adapter
// attaches itself to an open stream via SecondaryConnect, SendFrame traffic
// for that stream is routed to the secondary transport instead of the
// primary's.
func TestSecondaryFanOutPrefersSecondary(t *testing.T) {
	mgr := NewManager(nil)

	primaryClient, primaryServer := dialLoopback(t)
	defer primaryClient.Close()
	conn := NewConnection("primary-1", "conn-a", primaryServer, newTestDeps(), mgr)

	openReq := &proto.Message{
		Header:  proto.Header{RequestID: 1, Type: proto.TypeRequest, DataType: proto.DataOpen},
		Payload: &proto.OpenRequest{Key: "image_stream.0"},
	}
	require.NoError(t, primaryClient.Send(openReq))

	openReply, err := primaryClient.Recv()
	require.NoError(t, err)
	or := openReply.Payload.(*proto.OpenReply)
	require.True(t, or.Status.OK)
	streamID := openReply.Header.ServerStreamID

	secondaryClient, secondaryServer := dialLoopback(t)
	defer secondaryClient.Close()
	NewSecondary("secondary-1", secondaryServer, mgr, nil)

	connectReq := &proto.Message{
		Header:  proto.Header{ServerStreamID: streamID, RequestID: 2, Type: proto.TypeRequest, DataType: proto.DataSecondaryConnect},
		Payload: &proto.Empty{},
	}
	require.NoError(t, secondaryClient.Send(connectReq))

	connectReply, err := secondaryClient.Recv()
	require.NoError(t, err)
	require.True(t, connectReply.Payload.(*proto.StandardReply).Status.OK)

	startReq := &proto.Message{
		Header:  proto.Header{ServerStreamID: streamID, RequestID: 3, Type: proto.TypeRequest, DataType: proto.DataStart},
		Payload: &proto.Empty{},
	}
	require.NoError(t, primaryClient.Send(startReq))

	startReply, err := primaryClient.Recv()
	require.NoError(t, err)
	require.True(t, startReply.Payload.(*proto.StandardReply).Status.OK)

	frameMsg, err := secondaryClient.Recv()
	require.NoError(t, err)
	require.Equal(t, proto.TypeSendFrame, frameMsg.Header.Type)

	conn.close()
}
