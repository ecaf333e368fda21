// Package clientadapter implements the server-side adapter for one accepted
// client transport: dispatching wire requests to the right resource
// adapter, fanning SendFrame traffic out to a secondary egress connection
// when one is attached, and tracking per-connection resources. Grounded on
// the teacher's conn.Connection (Accept/startReadLoop/startWriteLoop) and
// command_integration.go's dispatcher-attachment pattern.
package clientadapter

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/senscord/multi-server/internal/config"
	"github.com/senscord/multi-server/internal/hooks"
	"github.com/senscord/multi-server/internal/metrics"
	"github.com/senscord/multi-server/internal/proto"
	"github.com/senscord/multi-server/internal/resource"
	"github.com/senscord/multi-server/internal/sderr"
	"github.com/senscord/multi-server/internal/sdkcore"
	"github.com/senscord/multi-server/internal/shm"
	"github.com/senscord/multi-server/internal/transport"
)

// resourceIDCounter hands out process-wide monotonic resource_ids. The
// original spec's Design Notes call for resource ids to be a plain
// monotonic handle, not a UUID (reserving github.com/google/uuid for
// connection identity only), so a single atomic counter is shared across
// every Connection in the process.
var resourceIDCounter uint64

func nextResourceID() uint64 { return atomic.AddUint64(&resourceIDCounter, 1) }

// Connection is the primary-role client adapter: one accepted transport,
// a receive goroutine, an outbound fan-in, and the resource table for
// everything this client has opened.
type Connection struct {
	id             string
	connectionKey  string
	transport      transport.Transport
	core           sdkcore.Core
	cfg            config.Facade
	regions        *shm.Manager
	metrics        *metrics.Registry
	hookMgr        *hooks.Manager
	log            *slog.Logger
	manager        *Manager

	resMu     sync.Mutex
	resources map[uint64]*resource.Adapter

	secMu     sync.Mutex
	secondary *Secondary

	stopOnce sync.Once
	stopped  chan struct{}
}

// Deps bundles the collaborators every Connection needs, so Manager can
// construct them uniformly for both primary and secondary accepts.
type Deps struct {
	Core    sdkcore.Core
	Config  config.Facade
	Regions *shm.Manager
	Metrics *metrics.Registry
	Hooks   *hooks.Manager
	Log     *slog.Logger
}

// NewConnection wraps an accepted transport as a primary client adapter and
// starts its receive loop.
func NewConnection(id, connectionKey string, t transport.Transport, deps Deps, mgr *Manager) *Connection {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	c := &Connection{
		id:            id,
		connectionKey: connectionKey,
		transport:     t,
		core:          deps.Core,
		cfg:           deps.Config,
		regions:       deps.Regions,
		metrics:       deps.Metrics,
		hookMgr:       deps.Hooks,
		log:           log.With("conn_id", id, "peer_addr", t.RemoteAddr()),
		manager:       mgr,
		resources:     make(map[uint64]*resource.Adapter),
		stopped:       make(chan struct{}),
	}
	if mgr != nil {
		mgr.Register(c)
	}
	go c.receiveLoop()
	return c
}

// ID returns the connection's logical identifier (a UUID, per the spec's
// "connection identity" use of github.com/google/uuid).
func (c *Connection) ID() string { return c.id }

// SetSecondaryAdapter attaches sec as this connection's secondary egress
// channel for SendFrame traffic; passing nil detaches whatever is attached.
func (c *Connection) SetSecondaryAdapter(sec *Secondary) {
	c.secMu.Lock()
	defer c.secMu.Unlock()
	c.secondary = sec
}

func (c *Connection) receiveLoop() {
	defer c.close()
	c.hookMgr.FireConnectionAccept(c.id, c.transport.RemoteAddr())
	for {
		select {
		case <-c.stopped:
			return
		default:
		}
		msg, err := c.transport.Recv()
		if err != nil {
			c.log.Debug("receive loop ended", "error", err)
			return
		}
		c.dispatch(msg)
	}
}

// dispatch routes one request Message exactly per §4.4's table.
// Connection-scoped requests (Open*, GetVersion, GetStreamList,
// GetServerConfig, Disconnect, SecondaryConnect) are answered inline;
// everything else, including RegisterEvent/UnregisterEvent/ReleaseFrame/
// SendFrame replies, is resource-scoped and pushed onto the owning
// resource.Adapter's FIFOs via routeToResource.
func (c *Connection) dispatch(msg *proto.Message) {
	switch msg.Header.DataType {
	case proto.DataOpen:
		c.handleOpenStream(msg)
	case proto.DataOpenPublisher:
		c.handleOpenPublisher(msg)
	case proto.DataClose, proto.DataClosePublisher:
		c.handleClose(msg)
	case proto.DataGetVersion:
		c.handleGetVersion(msg)
	case proto.DataGetStreamList:
		c.handleGetStreamList(msg)
	case proto.DataGetServerConfig:
		c.handleGetServerConfig(msg)
	case proto.DataDisconnect:
		c.send(proto.NewReply(msg.Header, proto.DataDisconnect, &proto.StandardReply{Status: sderr.OKStatus()}))
		c.close()
	case proto.DataSecondaryConnect:
		// A primary connection never originates SecondaryConnect; it is
		// only meaningful from a Secondary adapter's receive loop.
		c.send(proto.NewReply(msg.Header, proto.DataSecondaryConnect, &proto.StandardReply{
			Status: sderr.New(sderr.CauseInvalidOperation, "secondary_connect is not valid on a primary connection"),
		}))
	default:
		c.routeToResource(msg)
	}
}

func (c *Connection) routeToResource(msg *proto.Message) {
	c.resMu.Lock()
	adapter, ok := c.resources[msg.Header.ServerStreamID]
	c.resMu.Unlock()
	if !ok {
		c.send(proto.NewReply(msg.Header, msg.Header.DataType, &proto.StandardReply{
			Status: sderr.New(sderr.CauseNotFound, "no resource open for server_stream_id %d", msg.Header.ServerStreamID),
		}))
		return
	}
	adapter.PushMessage(msg)
}

func (c *Connection) handleOpenStream(msg *proto.Message) {
	req := msg.Payload.(*proto.OpenRequest)
	setting, _ := c.cfg.StreamSetting(req.Key, c.connectionKey)
	args := mergeArgs(setting.Arguments, req.Arguments)

	stream, status := c.core.OpenStream(req.Key, args)
	if !status.OK {
		c.send(proto.NewReply(msg.Header, proto.DataOpen, &proto.OpenReply{Status: status}))
		return
	}

	id := nextResourceID()
	adapter := resource.NewStreamAdapter(id, stream, c.transport, c.sendToClient, c.metrics, c.log)
	c.resMu.Lock()
	c.resources[id] = adapter.Adapter
	c.resMu.Unlock()
	if c.manager != nil {
		c.manager.RegisterResourceOwner(id, c)
	}
	c.hookMgr.FireStreamOpen(c.id, req.Key, id)

	reply := proto.NewReply(msg.Header, proto.DataOpen, &proto.OpenReply{
		Status:          sderr.OKStatus(),
		PropertyKeyList: stream.PropertyKeyList(),
	})
	reply.Header.ServerStreamID = id
	c.send(reply)
}

func (c *Connection) handleOpenPublisher(msg *proto.Message) {
	req := msg.Payload.(*proto.OpenRequest)
	publisher, status := c.core.OpenPublisher(req.Key, req.Arguments)
	if !status.OK {
		c.send(proto.NewReply(msg.Header, proto.DataOpenPublisher, &proto.OpenReply{Status: status}))
		return
	}

	id := nextResourceID()
	adapter := resource.NewPublisherAdapter(id, publisher, c.regions, c.sendToClient, c.metrics, c.log)
	c.resMu.Lock()
	c.resources[id] = adapter.Adapter
	c.resMu.Unlock()
	if c.manager != nil {
		c.manager.RegisterResourceOwner(id, c)
	}
	c.hookMgr.FirePublisherOpen(c.id, req.Key, id)

	reply := proto.NewReply(msg.Header, proto.DataOpenPublisher, &proto.OpenReply{Status: sderr.OKStatus()})
	reply.Header.ServerStreamID = id
	c.send(reply)
}

func (c *Connection) handleClose(msg *proto.Message) {
	c.resMu.Lock()
	adapter, ok := c.resources[msg.Header.ServerStreamID]
	if ok {
		delete(c.resources, msg.Header.ServerStreamID)
	}
	c.resMu.Unlock()

	if !ok {
		c.send(proto.NewReply(msg.Header, msg.Header.DataType, &proto.StandardReply{
			Status: sderr.New(sderr.CauseNotFound, "no resource open for server_stream_id %d", msg.Header.ServerStreamID),
		}))
		return
	}
	adapter.Close()
	if c.manager != nil {
		c.manager.UnregisterResourceOwner(msg.Header.ServerStreamID)
	}
	c.hookMgr.FireResourceClose(c.id, adapter.Kind(), msg.Header.ServerStreamID)
	c.send(proto.NewReply(msg.Header, msg.Header.DataType, &proto.StandardReply{Status: sderr.OKStatus()}))
}

func (c *Connection) handleGetVersion(msg *proto.Message) {
	v := c.core.Version()
	c.send(proto.NewReply(msg.Header, proto.DataGetVersion, &proto.VersionReply{
		Status: sderr.OKStatus(),
		Version: proto.VersionInfo{
			Name: v.Name, Major: v.Major, Minor: v.Minor, Patch: v.Patch,
			Description: v.Description, StreamVersions: v.StreamVersions,
		},
	}))
}

func (c *Connection) handleGetStreamList(msg *proto.Message) {
	types := c.core.StreamTypes()
	entries := make([]proto.StreamListEntry, 0, len(types))
	for key, typ := range types {
		entries = append(entries, proto.StreamListEntry{Key: key, Type: typ})
	}
	c.send(proto.NewReply(msg.Header, proto.DataGetStreamList, &proto.StreamListReply{
		Status: sderr.OKStatus(), StreamList: entries,
	}))
}

func (c *Connection) handleGetServerConfig(msg *proto.Message) {
	cfg := map[string]string{"client_enabled": boolString(c.cfg.IsClientEnabled())}
	c.send(proto.NewReply(msg.Header, proto.DataGetServerConfig, &proto.ServerConfigReply{
		Status: sderr.OKStatus(), Config: cfg,
	}))
}

// sendToClient is the resource adapter callback: a reply or an
// asynchronous SendFrame/SendEvent. SendFrame traffic prefers the attached
// secondary egress channel, falling back to the primary transport, per
// §4.4/§4.8's "secondary-first for SendFrame" rule. The error return lets a
// resource adapter react to a failed send (e.g. a stream adapter releasing
// frames a dropped peer will never acknowledge).
func (c *Connection) sendToClient(msg *proto.Message) error {
	if msg.Header.Type == proto.TypeSendFrame {
		c.secMu.Lock()
		sec := c.secondary
		c.secMu.Unlock()
		if sec != nil {
			if err := sec.send(msg); err == nil {
				return nil
			}
		}
	}
	return c.send(msg)
}

func (c *Connection) send(msg *proto.Message) error {
	if err := c.transport.Send(msg); err != nil {
		c.log.Warn("send failed", "error", err)
		return err
	}
	return nil
}

// close tears down every open resource and the underlying transport. Safe
// to call more than once (e.g. from both Disconnect handling and
// Manager.Stop).
func (c *Connection) close() {
	c.stopOnce.Do(func() {
		close(c.stopped)
		c.resMu.Lock()
		adapters := make([]*resource.Adapter, 0, len(c.resources))
		for _, a := range c.resources {
			adapters = append(adapters, a)
		}
		c.resources = make(map[uint64]*resource.Adapter)
		c.resMu.Unlock()

		for _, a := range adapters {
			a.Close()
		}
		_ = c.transport.Close()
		c.hookMgr.FireConnectionClose(c.id)
		if c.manager != nil {
			c.manager.notifyClosed(c)
		}
	})
}

func mergeArgs(base, override map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// waitClosed blocks until close has started (the stopped channel is
// closed), ctx is done, or five seconds pass, whichever comes first. It does
// not wait for the receive goroutine itself to return.
func (c *Connection) waitClosed(ctx context.Context) {
	select {
	case <-c.stopped:
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
	}
}
