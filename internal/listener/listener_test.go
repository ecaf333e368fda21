package listener

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/senscord/multi-server/internal/clientadapter"
	"github.com/senscord/multi-server/internal/config"
	"github.com/senscord/multi-server/internal/proto"
	"github.com/senscord/multi-server/internal/sdkcore"
	"github.com/senscord/multi-server/internal/sdkcore/fake"
	"github.com/senscord/multi-server/internal/transport/tcp"
)

func TestListenerAcceptsPrimaryConnection(t *testing.T) {
	mgr := clientadapter.NewManager(nil)
	core := fake.New(map[string]string{"image_stream.0": "image"}, sdkcore.VersionInfo{Name: "test"})
	deps := clientadapter.Deps{Core: core, Config: config.NewStaticFacade(true)}

	l := New(Config{Addr: "127.0.0.1:0", Role: RolePrimary}, mgr, deps, nil)
	require.NoError(t, l.Start())
	defer l.Stop()

	client, err := (tcp.Dialer{}).Dial(l.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	req := &proto.Message{
		Header:  proto.Header{RequestID: 1, Type: proto.TypeRequest, DataType: proto.DataGetVersion},
		Payload: &proto.Empty{},
	}
	require.NoError(t, client.Send(req))

	reply, err := recvWithTimeout(t, client)
	require.NoError(t, err)
	vr := reply.Payload.(*proto.VersionReply)
	require.Equal(t, "test", vr.Version.Name)
}

func TestListenerStopClosesAcceptLoop(t *testing.T) {
	mgr := clientadapter.NewManager(nil)
	deps := clientadapter.Deps{Core: fake.New(nil, sdkcore.VersionInfo{}), Config: config.NewStaticFacade(false)}

	l := New(Config{Addr: "127.0.0.1:0", Role: RolePrimary}, mgr, deps, nil)
	require.NoError(t, l.Start())
	require.NoError(t, l.Stop())

	_, err := (tcp.Dialer{}).Dial(l.cfg.Addr)
	_ = err // address may or may not be reused immediately; only Stop()'s idempotence is under test here
	require.NoError(t, l.Stop())
}

func recvWithTimeout(t *testing.T, c interface {
	Recv() (*proto.Message, error)
}) (*proto.Message, error) {
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
		return r.msg, r.err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
		return nil, nil
	}
}
