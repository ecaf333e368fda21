package clientcomponent

import (
	"context"
	"log/slog"
	"sync"

	"github.com/senscord/multi-server/internal/metrics"
	"github.com/senscord/multi-server/internal/proto"
	"github.com/senscord/multi-server/internal/sderr"
	"github.com/senscord/multi-server/internal/transport"
)

// ConnectionEventHandler receives an asynchronous SendEvent registered at
// connection scope (not tied to one resource).
type ConnectionEventHandler func(eventType string, args map[string]string)

// Config bundles what Connect needs beyond the dial target.
type Config struct {
	Dialer      transport.Dialer
	Addr        string
	Allocators  AllocatorResolver // nil if address_size_only delivery is never expected
	Metrics     *metrics.Registry
	Log         *slog.Logger
	OnConnEvent ConnectionEventHandler
}

// Client is the client-side counterpart to one client adapter connection
// (§4.10): it owns the Messenger and every Port opened over it, and routes
// Messenger's async callbacks to the right Port by server_stream_id.
type Client struct {
	messenger   *Messenger
	allocs      *AllocatorCache
	log         *slog.Logger
	onConnEvent ConnectionEventHandler

	mu    sync.Mutex
	ports map[uint64]*Port
}

// Connect dials addr and returns a ready Client.
func Connect(cfg Config) (*Client, error) {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		log:         log,
		ports:       make(map[uint64]*Port),
		onConnEvent: cfg.OnConnEvent,
	}
	if cfg.Allocators != nil {
		c.allocs = NewAllocatorCache(cfg.Allocators)
	}
	messenger, err := Dial(cfg.Dialer, cfg.Addr, c.dispatchFrame, c.dispatchEvent, cfg.Metrics, log)
	if err != nil {
		return nil, err
	}
	c.messenger = messenger
	return c, nil
}

func (c *Client) dispatchFrame(serverStreamID uint64, frame proto.Frame) {
	c.mu.Lock()
	port, ok := c.ports[serverStreamID]
	c.mu.Unlock()
	if !ok {
		return
	}
	port.deliverFrame(frame)
}

func (c *Client) dispatchEvent(serverStreamID uint64, eventType string, args map[string]string) {
	if serverStreamID == proto.ServerStreamIDNone {
		if c.onConnEvent != nil {
			c.onConnEvent(eventType, args)
		}
		return
	}
	c.mu.Lock()
	port, ok := c.ports[serverStreamID]
	c.mu.Unlock()
	if !ok || port.onEvent == nil {
		return
	}
	port.onEvent(eventType, args)
}

// OpenStream opens a stream by key and returns a Port delivering
// reconstructed frames to onFrame as they arrive.
func (c *Client) OpenStream(ctx context.Context, key string, args map[string]string, onFrame func(proto.Frame), onEvent func(eventType string, args map[string]string)) (*Port, *sderr.Status) {
	return c.open(ctx, proto.DataOpen, key, args, "stream", onFrame, onEvent)
}

// OpenPublisher opens a publisher by key and returns a Port for pushing
// frames upstream via Port.SendFrame.
func (c *Client) OpenPublisher(ctx context.Context, key string, args map[string]string) (*Port, *sderr.Status) {
	return c.open(ctx, proto.DataOpenPublisher, key, args, "publisher", nil, nil)
}

func (c *Client) open(ctx context.Context, dataType proto.DataType, key string, args map[string]string, kind string, onFrame func(proto.Frame), onEvent func(string, map[string]string)) (*Port, *sderr.Status) {
	reply, err := c.messenger.Request(ctx, proto.ServerStreamIDNone, dataType, &proto.OpenRequest{Key: key, Arguments: args})
	if err != nil {
		return nil, sderr.FromError(err)
	}
	or := reply.Payload.(*proto.OpenReply)
	if !or.Status.OK {
		return nil, or.Status
	}

	port := newPort(reply.Header.ServerStreamID, kind, c.messenger, c.allocs, onFrame, c.log)
	port.onEvent = onEvent
	port.onClosed = func() { c.forgetPort(port.id) }
	c.mu.Lock()
	c.ports[port.id] = port
	c.mu.Unlock()
	return port, or.Status
}

func (c *Client) forgetPort(id uint64) {
	c.mu.Lock()
	delete(c.ports, id)
	c.mu.Unlock()
}

// GetVersion fetches the server's version block.
func (c *Client) GetVersion(ctx context.Context) (proto.VersionInfo, *sderr.Status) {
	reply, err := c.messenger.Request(ctx, proto.ServerStreamIDNone, proto.DataGetVersion, &proto.Empty{})
	if err != nil {
		return proto.VersionInfo{}, sderr.FromError(err)
	}
	vr := reply.Payload.(*proto.VersionReply)
	return vr.Version, vr.Status
}

// GetStreamList fetches the server's stream catalog.
func (c *Client) GetStreamList(ctx context.Context) ([]proto.StreamListEntry, *sderr.Status) {
	reply, err := c.messenger.Request(ctx, proto.ServerStreamIDNone, proto.DataGetStreamList, &proto.Empty{})
	if err != nil {
		return nil, sderr.FromError(err)
	}
	sr := reply.Payload.(*proto.StreamListReply)
	return sr.StreamList, sr.Status
}

// GetServerConfig fetches the server's effective, non-secret configuration.
func (c *Client) GetServerConfig(ctx context.Context) (map[string]string, *sderr.Status) {
	reply, err := c.messenger.Request(ctx, proto.ServerStreamIDNone, proto.DataGetServerConfig, &proto.Empty{})
	if err != nil {
		return nil, sderr.FromError(err)
	}
	cr := reply.Payload.(*proto.ServerConfigReply)
	return cr.Config, cr.Status
}

// ConnectSecondary dials addr as a second transport and binds it as the
// egress-only secondary for an already-open resourceID, per §4.8. The
// returned Messenger carries no further request surface; its only purpose
// is to receive SendFrame/SendEvent fan-out, so onFrame/onEvent are the
// caller's only hooks into it.
func ConnectSecondary(ctx context.Context, dialer transport.Dialer, addr string, resourceID uint64, onFrame FrameHandler, onEvent EventHandler, log *slog.Logger) (*Messenger, *sderr.Status) {
	m, err := Dial(dialer, addr, onFrame, onEvent, nil, log)
	if err != nil {
		return nil, sderr.New(sderr.CauseAborted, "clientcomponent: secondary dial %s: %v", addr, err)
	}
	reply, err := m.Request(ctx, resourceID, proto.DataSecondaryConnect, &proto.Empty{})
	if err != nil {
		_ = m.Close()
		return nil, sderr.FromError(err)
	}
	status := proto.StatusOf(reply.Payload)
	if !status.OK {
		_ = m.Close()
		return nil, status
	}
	return m, status
}

// Disconnect asks the server to close the connection gracefully, then tears
// the Messenger down.
func (c *Client) Disconnect(ctx context.Context) *sderr.Status {
	reply, err := c.messenger.Request(ctx, proto.ServerStreamIDNone, proto.DataDisconnect, &proto.Empty{})
	var status *sderr.Status
	if err != nil {
		status = sderr.FromError(err)
	} else {
		status = proto.StatusOf(reply.Payload)
	}
	_ = c.messenger.Close()
	return status
}

// Close tears the connection down without a graceful Disconnect handshake.
func (c *Client) Close() error {
	return c.messenger.Close()
}
