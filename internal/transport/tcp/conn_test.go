package tcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/senscord/multi-server/internal/proto"
	"github.com/senscord/multi-server/internal/sderr"
)

func TestConnSendRecvRoundTrip(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverConns := make(chan *Conn, 1)
	go func() {
		c, err := ln.Accept()
		require.NoError(t, err)
		serverConns <- c
	}()

	clientConn, err := (Dialer{}).Dial(ln.Addr().String())
	require.NoError(t, err)
	defer clientConn.Close()

	var serverConn *Conn
	select {
	case serverConn = <-serverConns:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server accept")
	}
	defer serverConn.Close()

	want := &proto.Message{
		Header: proto.Header{RequestID: 42, Type: proto.TypeRequest, DataType: proto.DataGetVersion},
		Payload: &proto.Empty{},
	}
	require.NoError(t, clientConn.Send(want))

	got, err := serverConn.Recv()
	require.NoError(t, err)
	require.Equal(t, want.Header, got.Header)

	reply := proto.NewReply(got.Header, proto.DataGetVersion, &proto.VersionReply{
		Status:  sderr.OKStatus(),
		Version: proto.VersionInfo{Name: "multi-server", Major: 1},
	})
	require.NoError(t, serverConn.Send(reply))

	gotReply, err := clientConn.Recv()
	require.NoError(t, err)
	vr := gotReply.Payload.(*proto.VersionReply)
	require.Equal(t, "multi-server", vr.Version.Name)
}

func TestConnRecvReturnsErrorAfterClose(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverConns := make(chan *Conn, 1)
	go func() {
		c, err := ln.Accept()
		require.NoError(t, err)
		serverConns <- c
	}()

	clientConn, err := (Dialer{}).Dial(ln.Addr().String())
	require.NoError(t, err)

	var serverConn *Conn
	select {
	case serverConn = <-serverConns:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server accept")
	}
	defer serverConn.Close()

	require.NoError(t, clientConn.Close())

	_, err = serverConn.Recv()
	require.Error(t, err)
}
