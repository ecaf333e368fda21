package clientcomponent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/senscord/multi-server/internal/clientadapter"
	"github.com/senscord/multi-server/internal/config"
	"github.com/senscord/multi-server/internal/listener"
	"github.com/senscord/multi-server/internal/proto"
	"github.com/senscord/multi-server/internal/sdkcore"
	"github.com/senscord/multi-server/internal/sdkcore/fake"
	"github.com/senscord/multi-server/internal/transport/tcp"
)

func startTestListener(t *testing.T) string {
	t.Helper()
	mgr := clientadapter.NewManager(nil)
	core := fake.New(map[string]string{"image_stream.0": "image"}, sdkcore.VersionInfo{Name: "test-server"})
	deps := clientadapter.Deps{Core: core, Config: config.NewStaticFacade(true)}

	l := listener.New(listener.Config{Addr: "127.0.0.1:0", Role: listener.RolePrimary}, mgr, deps, nil)
	require.NoError(t, l.Start())
	t.Cleanup(func() { l.Stop() })
	return l.Addr().String()
}

func TestClientOpenStreamAndGetVersion(t *testing.T) {
	addr := startTestListener(t)

	client, err := Connect(Config{Dialer: tcp.Dialer{}, Addr: addr})
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	version, status := client.GetVersion(ctx)
	require.True(t, status.OK)
	require.Equal(t, "test-server", version.Name)

	frames := make(chan proto.Frame, 8)
	port, status := client.OpenStream(ctx, "image_stream.0", nil, func(f proto.Frame) { frames <- f }, nil)
	require.True(t, status.OK)
	require.NotZero(t, port.ResourceID())

	require.True(t, port.Start(ctx).OK)

	select {
	case f := <-frames:
		require.Equal(t, uint64(1), f.SequenceNumber)
		require.True(t, port.ReleaseFrame(ctx, f.SequenceNumber, true).OK)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a delivered frame")
	}

	require.True(t, port.Stop(ctx).OK)
	require.True(t, port.Close(ctx).OK)
}

func TestClientPropertyRoundTrip(t *testing.T) {
	addr := startTestListener(t)

	client, err := Connect(Config{Dialer: tcp.Dialer{}, Addr: addr})
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	port, status := client.OpenStream(ctx, "image_stream.0", nil, func(proto.Frame) {}, nil)
	require.True(t, status.OK)

	require.True(t, port.SetProperty(ctx, "custom_key", []byte("value")).OK)
	value, status := port.GetProperty(ctx, "custom_key")
	require.True(t, status.OK)
	require.Equal(t, []byte("value"), value)

	lockID, status := port.LockProperty(ctx, []string{"custom_key"}, time.Second)
	require.True(t, status.OK)
	require.True(t, port.UnlockProperty(ctx, lockID).OK)
}

func TestClientGetStreamListAndServerConfig(t *testing.T) {
	addr := startTestListener(t)

	client, err := Connect(Config{Dialer: tcp.Dialer{}, Addr: addr})
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	list, status := client.GetStreamList(ctx)
	require.True(t, status.OK)
	require.Len(t, list, 1)
	require.Equal(t, "image_stream.0", list[0].Key)

	cfg, status := client.GetServerConfig(ctx)
	require.True(t, status.OK)
	require.Equal(t, "true", cfg["client_enabled"])
}

func TestClientReleaseFrameUnknownSequenceIsNoFatalError(t *testing.T) {
	addr := startTestListener(t)

	client, err := Connect(Config{Dialer: tcp.Dialer{}, Addr: addr})
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	port, status := client.OpenStream(ctx, "image_stream.0", nil, func(proto.Frame) {}, nil)
	require.True(t, status.OK)

	require.True(t, port.ReleaseFrame(ctx, 999, false).OK)
}
