// Package listener runs the accept loop for one configured address: a
// state machine (Idle -> Listening -> Stopping -> Idle) around a
// transport.Dialer-compatible net listener, handing every accepted
// connection to the clientadapter.Manager as either a primary or a
// secondary adapter. Grounded on the teacher's server.go acceptLoop/
// Start/Stop, generalized from a bare net.Listener to transport.Transport.
package listener

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/senscord/multi-server/internal/clientadapter"
	"github.com/senscord/multi-server/internal/transport/tcp"
)

// Role distinguishes a primary listener (full request surface) from a
// secondary listener (SendFrame fan-out only, via SecondaryConnect).
type Role int

const (
	RolePrimary Role = iota
	RoleSecondary
)

func (r Role) String() string {
	if r == RoleSecondary {
		return "secondary"
	}
	return "primary"
}

// state is the listener's own lifecycle, independent of any one connection.
type state int

const (
	stateIdle state = iota
	stateListening
	stateStopping
)

// Config configures one Listener.
type Config struct {
	Addr          string
	Role          Role
	ConnectionKey string // only meaningful for RolePrimary; used for config.Facade lookups
}

// Listener owns one bound address and the accept loop feeding it.
type Listener struct {
	cfg  Config
	mgr  *clientadapter.Manager
	deps clientadapter.Deps
	log  *slog.Logger

	mu    sync.Mutex
	st    state
	inner *tcp.Listener
	wg    sync.WaitGroup
}

// New creates an unstarted Listener.
func New(cfg Config, mgr *clientadapter.Manager, deps clientadapter.Deps, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	return &Listener{cfg: cfg, mgr: mgr, deps: deps, log: log.With("listener_addr", cfg.Addr, "role", cfg.Role.String())}
}

// Start binds the configured address and launches the accept loop. Safe to
// call only once per Listener; repeated calls return an error.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.st != stateIdle {
		return fmt.Errorf("listener: already started")
	}
	ln, err := tcp.Listen(l.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listener: listen %s: %w", l.cfg.Addr, err)
	}
	l.inner = ln
	l.st = stateListening
	l.wg.Add(1)
	go l.acceptLoop()
	l.log.Info("listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil if Start hasn't run.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inner == nil {
		return nil
	}
	return l.inner.Addr()
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		ln := l.inner
		stopping := l.st == stateStopping
		l.mu.Unlock()
		if ln == nil || stopping {
			return
		}

		conn, err := ln.Accept()
		if err != nil {
			l.mu.Lock()
			stopping := l.st == stateStopping
			l.mu.Unlock()
			if stopping || errors.Is(err, net.ErrClosed) {
				return
			}
			l.log.Warn("accept error", "error", err)
			continue
		}

		conn.SetSharedMemory(l.deps.Regions)

		id := uuid.NewString()
		switch l.cfg.Role {
		case RoleSecondary:
			clientadapter.NewSecondary(id, conn, l.mgr, l.log)
		default:
			clientadapter.NewConnection(id, l.cfg.ConnectionKey, conn, l.deps, l.mgr)
		}
		l.log.Info("accepted connection", "conn_id", id, "remote", conn.RemoteAddr())
	}
}

// Stop closes the listening socket and waits for the accept loop to exit.
// It does not touch connections already accepted; the owning
// clientadapter.Manager is responsible for tearing those down.
func (l *Listener) Stop() error {
	l.mu.Lock()
	if l.st != stateListening {
		l.mu.Unlock()
		return nil
	}
	l.st = stateStopping
	ln := l.inner
	l.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	l.wg.Wait()

	l.mu.Lock()
	l.inner = nil
	l.st = stateIdle
	l.mu.Unlock()
	l.log.Info("stopped")
	return nil
}
