package clientadapter

import (
	"log/slog"
	"sync"
)

// Manager tracks every live primary Connection and which Connection owns
// which open resource (server_stream_id), so a Secondary adapter's
// SecondaryConnect can find the primary to attach to. Teardown is deferred
// to a reaper goroutine rather than done inline by Connection.close, since
// a receive loop must never delete its own entry from shared state while
// still running on that same goroutine (mirrors the teacher's Stop()
// acquiring the same lock the accept loop uses to register connections,
// generalized into an explicit background reaper here).
type Manager struct {
	mu          sync.Mutex
	connections map[string]*Connection
	owners      map[uint64]*Connection

	closeCh chan *Connection
	stopCh  chan struct{}
	wg      sync.WaitGroup
	log     *slog.Logger
}

// NewManager creates a Manager and starts its reaper goroutine.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		connections: make(map[string]*Connection),
		owners:      make(map[uint64]*Connection),
		closeCh:     make(chan *Connection, 256),
		stopCh:      make(chan struct{}),
		log:         log,
	}
	m.wg.Add(1)
	go m.reap()
	return m
}

// Register records a newly accepted primary connection.
func (m *Manager) Register(c *Connection) {
	m.mu.Lock()
	m.connections[c.ID()] = c
	m.mu.Unlock()
}

// RegisterResourceOwner records that c owns the resource identified by
// resourceID, so AttachSecondary can route a later SecondaryConnect there.
func (m *Manager) RegisterResourceOwner(resourceID uint64, c *Connection) {
	m.mu.Lock()
	m.owners[resourceID] = c
	m.mu.Unlock()
}

// UnregisterResourceOwner drops the ownership record once the resource is
// closed, so a stale owner can't be handed a SecondaryConnect.
func (m *Manager) UnregisterResourceOwner(resourceID uint64) {
	m.mu.Lock()
	delete(m.owners, resourceID)
	m.mu.Unlock()
}

// AttachSecondary finds the primary connection that owns resourceID and
// attaches sec as its secondary egress channel. Returns false if no
// connection currently owns that resource.
func (m *Manager) AttachSecondary(resourceID uint64, sec *Secondary) bool {
	m.mu.Lock()
	owner, ok := m.owners[resourceID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	owner.SetSecondaryAdapter(sec)
	return true
}

// notifyClosed is called by a Connection once its own teardown has run; the
// actual removal from shared maps happens on the reaper goroutine, never on
// the calling connection's receive-loop goroutine.
func (m *Manager) notifyClosed(c *Connection) {
	select {
	case m.closeCh <- c:
	default:
		go func() { m.closeCh <- c }()
	}
}

func (m *Manager) reap() {
	defer m.wg.Done()
	for {
		select {
		case c := <-m.closeCh:
			m.mu.Lock()
			delete(m.connections, c.ID())
			for id, owner := range m.owners {
				if owner == c {
					delete(m.owners, id)
				}
			}
			m.mu.Unlock()
		case <-m.stopCh:
			return
		}
	}
}

// Stop closes every tracked connection and shuts the reaper down. Insertion
// order isn't tracked separately; map iteration order is good enough here
// since connections are closed independently of one another.
func (m *Manager) Stop() {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.close()
	}

	close(m.stopCh)
	m.wg.Wait()
}
