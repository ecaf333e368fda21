// Package clientcomponent implements the client-side counterpart to a
// client adapter (§4.10): dialing a listener, pairing outbound requests
// with their replies by request_id, reconstructing delivered frames
// (inline or via shared memory), and routing asynchronous SendFrame/
// SendEvent traffic to whichever Port opened the resource. Grounded on the
// teacher's client dial/handshake/request-reply pattern and
// relay/destination.go's reconnect + status-gated send discipline,
// generalized from "one RTMP publish session" to "N logical ports sharing
// one Messenger".
package clientcomponent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/senscord/multi-server/internal/metrics"
	"github.com/senscord/multi-server/internal/proto"
	"github.com/senscord/multi-server/internal/sderr"
	"github.com/senscord/multi-server/internal/transport"
)

// requestIDCounter hands out process-wide monotonic request_ids. Resource
// identity on the server side is a separate monotonic counter
// (clientadapter.nextResourceID); request_id only needs to be unique per
// Messenger, but a single process-wide counter costs nothing and rules out
// any cross-Messenger collision if a client ever opens more than one
// connection.
var requestIDCounter uint64

func nextRequestID() uint64 { return atomic.AddUint64(&requestIDCounter, 1) }

// FrameHandler receives one asynchronous SendFrame frame for serverStreamID.
type FrameHandler func(serverStreamID uint64, frame proto.Frame)

// EventHandler receives one asynchronous SendEvent for serverStreamID (or
// proto.ServerStreamIDNone for a connection-wide subscription).
type EventHandler func(serverStreamID uint64, eventType string, args map[string]string)

// Messenger owns one dialed transport.Transport and matches replies back to
// their originating request by request_id. A single receive-loop goroutine
// demultiplexes: TypeReply wakes the waiting caller; TypeSendFrame/
// TypeSendEvent fan out to the registered handlers.
type Messenger struct {
	t       transport.Transport
	log     *slog.Logger
	metrics *metrics.Registry

	onFrame FrameHandler
	onEvent EventHandler

	mu      sync.Mutex
	waiters map[uint64]chan *proto.Message
	closed  bool
	stopped chan struct{}
}

// Dial connects to addr via dialer and starts the Messenger's receive loop.
func Dial(dialer transport.Dialer, addr string, onFrame FrameHandler, onEvent EventHandler, metricsReg *metrics.Registry, log *slog.Logger) (*Messenger, error) {
	if log == nil {
		log = slog.Default()
	}
	t, err := dialer.Dial(addr)
	if err != nil {
		return nil, fmt.Errorf("clientcomponent: dial %s: %w", addr, err)
	}
	m := &Messenger{
		t:       t,
		log:     log.With("peer_addr", addr),
		metrics: metricsReg,
		onFrame: onFrame,
		onEvent: onEvent,
		waiters: make(map[uint64]chan *proto.Message),
		stopped: make(chan struct{}),
	}
	go m.receiveLoop()
	return m, nil
}

// Request sends a request for serverStreamID/dataType/payload, stamped with
// a fresh request_id, and blocks for the matching reply, ctx's deadline, or
// the Messenger closing, whichever comes first. ctx is the only bound on the
// wait: there is no built-in default reply timeout, and the lock budget
// inside a LockPropertyRequest is not added to it.
func (m *Messenger) Request(ctx context.Context, serverStreamID uint64, dataType proto.DataType, payload any) (*proto.Message, error) {
	reqID := nextRequestID()
	wait := make(chan *proto.Message, 1)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, sderr.New(sderr.CauseCancelled, "clientcomponent: messenger closed")
	}
	m.waiters[reqID] = wait
	m.mu.Unlock()

	msg := &proto.Message{
		Header:  proto.Header{ServerStreamID: serverStreamID, RequestID: reqID, Type: proto.TypeRequest, DataType: dataType},
		Payload: payload,
	}
	if err := m.t.Send(msg); err != nil {
		m.dropWaiter(reqID)
		return nil, err
	}

	select {
	case reply := <-wait:
		return reply, nil
	case <-ctx.Done():
		m.dropWaiter(reqID)
		return nil, sderr.New(sderr.CauseTimeout, "clientcomponent: request_id %d: %v", reqID, ctx.Err())
	case <-m.stopped:
		m.dropWaiter(reqID)
		return nil, sderr.New(sderr.CauseCancelled, "clientcomponent: messenger closed while awaiting reply to request_id %d", reqID)
	}
}

func (m *Messenger) dropWaiter(reqID uint64) {
	m.mu.Lock()
	delete(m.waiters, reqID)
	m.mu.Unlock()
}

func (m *Messenger) receiveLoop() {
	for {
		msg, err := m.t.Recv()
		if err != nil {
			m.log.Debug("messenger receive loop ended", "error", err)
			m.Close()
			return
		}
		switch msg.Header.Type {
		case proto.TypeReply:
			m.mu.Lock()
			wait, ok := m.waiters[msg.Header.RequestID]
			if ok {
				delete(m.waiters, msg.Header.RequestID)
			}
			m.mu.Unlock()
			if ok {
				wait <- msg
			}
		case proto.TypeSendFrame:
			payload, ok := msg.Payload.(*proto.SendFramePayload)
			if !ok || m.onFrame == nil {
				continue
			}
			for _, f := range payload.Frames {
				m.onFrame(msg.Header.ServerStreamID, f)
			}
		case proto.TypeSendEvent:
			payload, ok := msg.Payload.(*proto.SendEventPayload)
			if !ok || m.onEvent == nil {
				continue
			}
			m.onEvent(msg.Header.ServerStreamID, payload.EventType, payload.Args)
		}
	}
}

// Close shuts the receive loop down and unblocks every outstanding Request
// with a Cancelled status.
func (m *Messenger) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	close(m.stopped)
	return m.t.Close()
}
