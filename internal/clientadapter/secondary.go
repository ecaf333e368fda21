package clientadapter

import (
	"log/slog"
	"sync"

	"github.com/senscord/multi-server/internal/proto"
	"github.com/senscord/multi-server/internal/sderr"
	"github.com/senscord/multi-server/internal/transport"
)

// Secondary is the thin client adapter for an egress-only connection: a
// client dials in and sends exactly one SecondaryConnect(server_stream_id)
// naming the stream whose SendFrame traffic it wants fanned out to it, per
// §4.8; SendEvent traffic stays on the primary. It never answers resource
// requests itself; everything other than SecondaryConnect and Disconnect is
// rejected with InvalidOperation.
type Secondary struct {
	id        string
	transport transport.Transport
	manager   *Manager
	log       *slog.Logger

	mu       sync.Mutex
	attached *Connection

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewSecondary wraps an accepted transport as a secondary adapter and
// starts its receive loop.
func NewSecondary(id string, t transport.Transport, mgr *Manager, log *slog.Logger) *Secondary {
	if log == nil {
		log = slog.Default()
	}
	s := &Secondary{
		id:        id,
		transport: t,
		manager:   mgr,
		log:       log.With("conn_id", id, "role", "secondary", "peer_addr", t.RemoteAddr()),
		stopped:   make(chan struct{}),
	}
	go s.receiveLoop()
	return s
}

func (s *Secondary) receiveLoop() {
	defer s.close()
	for {
		msg, err := s.transport.Recv()
		if err != nil {
			s.log.Debug("secondary receive loop ended", "error", err)
			return
		}
		s.dispatch(msg)
	}
}

func (s *Secondary) dispatch(msg *proto.Message) {
	switch msg.Header.DataType {
	case proto.DataSecondaryConnect:
		ok := s.manager.AttachSecondary(msg.Header.ServerStreamID, s)
		status := sderr.OKStatus()
		if !ok {
			status = sderr.New(sderr.CauseNotFound, "no open resource for server_stream_id %d", msg.Header.ServerStreamID)
		} else {
			s.mu.Lock()
			s.attached = nil // recorded via AttachSecondary -> owner.SetSecondaryAdapter; detach tracked below
			s.mu.Unlock()
			s.setAttachedOwner(msg.Header.ServerStreamID)
		}
		s.send(proto.NewReply(msg.Header, proto.DataSecondaryConnect, &proto.StandardReply{Status: status}))
	case proto.DataDisconnect:
		s.send(proto.NewReply(msg.Header, proto.DataDisconnect, &proto.StandardReply{Status: sderr.OKStatus()}))
		s.close()
	default:
		s.send(proto.NewReply(msg.Header, msg.Header.DataType, &proto.StandardReply{
			Status: sderr.New(sderr.CauseInvalidOperation, "secondary adapters only accept secondary_connect and disconnect"),
		}))
	}
}

// setAttachedOwner records which primary Connection this secondary is
// attached to, purely so close() can detach itself cleanly on exit; the
// Manager already pointed the owner's secondary slot at s.
func (s *Secondary) setAttachedOwner(resourceID uint64) {
	s.manager.mu.Lock()
	owner := s.manager.owners[resourceID]
	s.manager.mu.Unlock()

	s.mu.Lock()
	s.attached = owner
	s.mu.Unlock()
}

// send delivers a SendFrame message or a reply to this secondary's
// transport. It is the callback a primary Connection calls through when
// fanning SendFrame traffic out to an attached secondary.
func (s *Secondary) send(msg *proto.Message) error {
	if err := s.transport.Send(msg); err != nil {
		s.log.Warn("secondary send failed", "error", err)
		return err
	}
	return nil
}

func (s *Secondary) close() {
	s.stopOnce.Do(func() {
		close(s.stopped)
		s.mu.Lock()
		owner := s.attached
		s.attached = nil
		s.mu.Unlock()
		if owner != nil {
			owner.SetSecondaryAdapter(nil)
		}
		_ = s.transport.Close()
	})
}
