// Package server is the composition root: it wires config, the SDK core
// collaborator, shared-memory region management, hooks, metrics, and one
// listener per configured connection key into a single running process.
// Grounded on the teacher's internal/rtmp/server/server.go (a Server
// struct, New/Start/Stop, defaults applied once at construction).
package server

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/senscord/multi-server/internal/clientadapter"
	"github.com/senscord/multi-server/internal/config"
	"github.com/senscord/multi-server/internal/hooks"
	"github.com/senscord/multi-server/internal/listener"
	"github.com/senscord/multi-server/internal/metrics"
	"github.com/senscord/multi-server/internal/sdkcore"
	"github.com/senscord/multi-server/internal/shm"
)

// Config bundles everything New needs to assemble a Server. Registerer may
// be nil (metrics become a no-op); HooksConfig defaults per
// hooks.DefaultConfig when zero-valued.
type Config struct {
	Core        sdkcore.Core
	Facade      config.Facade
	Registerer  prometheus.Registerer
	HooksConfig hooks.Config
	ShmBaseDir  string
	Log         *slog.Logger
}

// Server owns every listener and the shared collaborators (manager,
// region/allocator registry, hooks, metrics) they're built from. Its
// lifetime is New -> Start -> (serve) -> Stop.
type Server struct {
	cfg     Config
	log     *slog.Logger
	manager *clientadapter.Manager
	regions *shm.Manager
	metrics *metrics.Registry
	hookMgr *hooks.Manager
	deps    clientadapter.Deps

	mu        sync.Mutex
	listeners []*listener.Listener
	started   bool
}

// New assembles a Server from cfg. It does not bind any socket; call Start
// for that.
func New(cfg Config) (*Server, error) {
	if cfg.Core == nil {
		return nil, fmt.Errorf("server: Config.Core is required")
	}
	if cfg.Facade == nil {
		return nil, fmt.Errorf("server: Config.Facade is required")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	var metricsReg *metrics.Registry
	if cfg.Registerer != nil {
		metricsReg = metrics.New(cfg.Registerer)
	}

	hooksCfg := cfg.HooksConfig
	if hooksCfg.Concurrency == 0 && hooksCfg.Timeout == "" {
		hooksCfg = hooks.DefaultConfig()
	}
	hookMgr := hooks.NewManager(hooksCfg, log)

	regions := shm.NewManager(cfg.ShmBaseDir)
	manager := clientadapter.NewManager(log)

	s := &Server{
		cfg:     cfg,
		log:     log,
		manager: manager,
		regions: regions,
		metrics: metricsReg,
		hookMgr: hookMgr,
		deps: clientadapter.Deps{
			Core:    cfg.Core,
			Config:  cfg.Facade,
			Regions: regions,
			Metrics: metricsReg,
			Hooks:   hookMgr,
			Log:     log,
		},
	}

	if warnings := cfg.Facade.VerifySupportedStreams(cfg.Core.StreamTypes()); len(warnings) > 0 {
		for _, w := range warnings {
			log.Warn("configured stream not in catalog", "detail", w)
		}
	}

	return s, nil
}

// Start binds every listener named in the Facade's ListenerList: a primary
// listener per entry, plus a secondary listener when the entry names a
// secondary address. Partial failure tears down everything already
// started.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("server: already started")
	}

	for _, entry := range s.cfg.Facade.ListenerList() {
		primary := listener.New(listener.Config{
			Addr:          entry.PrimaryAddress,
			Role:          listener.RolePrimary,
			ConnectionKey: entry.ConnectionKey,
		}, s.manager, s.deps, s.log)
		if err := primary.Start(); err != nil {
			s.stopLocked()
			return fmt.Errorf("server: start primary listener %s: %w", entry.ConnectionKey, err)
		}
		s.listeners = append(s.listeners, primary)

		if entry.HasSecondaryAddr {
			secondary := listener.New(listener.Config{
				Addr:          entry.SecondaryAddress,
				Role:          listener.RoleSecondary,
				ConnectionKey: entry.ConnectionKey,
			}, s.manager, s.deps, s.log)
			if err := secondary.Start(); err != nil {
				s.stopLocked()
				return fmt.Errorf("server: start secondary listener %s: %w", entry.ConnectionKey, err)
			}
			s.listeners = append(s.listeners, secondary)
		}
	}

	s.started = true
	s.log.Info("server started", "listener_count", len(s.listeners))
	return nil
}

// Stop stops every listener (so no new connection is accepted), then the
// adapter manager (closing every live connection and its resources), then
// the hook manager, matching the teacher's Stop() ordering.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Server) stopLocked() {
	for _, l := range s.listeners {
		if err := l.Stop(); err != nil {
			s.log.Warn("listener stop error", "error", err)
		}
	}
	s.listeners = nil
	s.manager.Stop()
	if err := s.hookMgr.Close(); err != nil {
		s.log.Warn("hook manager close error", "error", err)
	}
	s.started = false
	s.log.Info("server stopped")
}

// Manager exposes the client-adapter manager, mainly for tests that need to
// assert on live-connection bookkeeping.
func (s *Server) Manager() *clientadapter.Manager { return s.manager }

// Regions exposes the shared-memory region registry, mainly for tests.
func (s *Server) Regions() *shm.Manager { return s.regions }

// Addrs returns the bound address of every listener, in Start order; useful
// for tests that start on ":0" and need the ephemeral port.
func (s *Server) Addrs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.listeners))
	for _, l := range s.listeners {
		if a := l.Addr(); a != nil {
			out = append(out, a.String())
		}
	}
	return out
}
