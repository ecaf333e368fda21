// Hook manager implementation: registration, dispatch, and the
// bounded-concurrency execution pool. Kept near-verbatim from the teacher's
// HookManager — only the event taxonomy in events.go changed.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Manager manages hook registration and execution for the event taxonomy
// in events.go. A nil *Manager is a valid no-op receiver everywhere, so
// callers that never configured hooks don't need a sentinel check.
type Manager struct {
	hooks     map[EventType][]Hook
	stdioHook *StdioHook
	mu        sync.RWMutex
	pool      *executionPool
	logger    *slog.Logger
	config    Config
}

// Config represents the configuration for hooks.
type Config struct {
	// Timeout for hook execution (default: 30s)
	Timeout string `json:"timeout"`

	// Maximum number of concurrent hook executions (default: 10)
	Concurrency int `json:"concurrency"`

	// Whether to enable structured stdio output
	StdioFormat string `json:"stdio_format"` // "json", "env", or ""
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:     "30s",
		Concurrency: 10,
		StdioFormat: "",
	}
}

// NewManager creates a new hook manager.
func NewManager(config Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := time.ParseDuration(config.Timeout); err != nil {
		logger.Warn("invalid hook timeout, using default", "timeout", config.Timeout, "error", err)
	}

	manager := &Manager{
		hooks:  make(map[EventType][]Hook),
		logger: logger,
		config: config,
		pool:   newExecutionPool(config.Concurrency, logger),
	}

	if config.StdioFormat != "" {
		manager.EnableStdioOutput(config.StdioFormat)
	}

	return manager
}

// RegisterHook registers a hook for the specified event type.
func (hm *Manager) RegisterHook(eventType EventType, hook Hook) error {
	if hook == nil {
		return fmt.Errorf("cannot register nil hook")
	}

	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.hooks[eventType] = append(hm.hooks[eventType], hook)
	hm.logger.Info("hook registered", "event_type", eventType, "hook_type", hook.Type(), "hook_id", hook.ID())

	return nil
}

// UnregisterHook removes a hook by ID from the specified event type.
func (hm *Manager) UnregisterHook(eventType EventType, hookID string) bool {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hooks := hm.hooks[eventType]
	for i, hook := range hooks {
		if hook.ID() == hookID {
			hm.hooks[eventType] = append(hooks[:i], hooks[i+1:]...)
			hm.logger.Info("hook unregistered", "event_type", eventType, "hook_id", hookID)
			return true
		}
	}
	return false
}

// TriggerEvent executes all registered hooks for the given event. A nil
// Manager is a no-op, matching the teacher's nil-safe method set so
// clientadapter/resource code can hold a possibly-unconfigured *Manager
// without special-casing it at every call site.
func (hm *Manager) TriggerEvent(ctx context.Context, event Event) {
	if hm == nil {
		return
	}

	hm.mu.RLock()
	registered := make([]Hook, len(hm.hooks[event.Type]))
	copy(registered, hm.hooks[event.Type])
	stdio := hm.stdioHook
	hm.mu.RUnlock()

	if stdio != nil {
		registered = append(registered, stdio)
	}
	if len(registered) == 0 {
		return
	}

	hm.logger.Debug("triggering event", "event_type", event.Type, "hook_count", len(registered), "event", event.String())
	for _, hook := range registered {
		hm.pool.execute(ctx, hook, event)
	}
}

// EnableStdioOutput enables structured output to stdout/stderr.
func (hm *Manager) EnableStdioOutput(format string) error {
	if format != "json" && format != "env" {
		return fmt.Errorf("unsupported stdio format: %s", format)
	}

	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.stdioHook = NewStdioHook("stdio", format)
	hm.logger.Info("stdio output enabled", "format", format)
	return nil
}

// DisableStdioOutput disables structured output.
func (hm *Manager) DisableStdioOutput() {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.stdioHook = nil
}

// Close shuts down the hook manager and waits for pending executions.
func (hm *Manager) Close() error {
	if hm == nil || hm.pool == nil {
		return nil
	}
	hm.pool.close()
	return nil
}

// --- Convenience firers used by clientadapter/resource/server --------------
//
// These wrap TriggerEvent with the specific Event shape each lifecycle
// moment needs, so call sites don't build an Event by hand. All are
// nil-safe via TriggerEvent's nil receiver check.

func (hm *Manager) FireConnectionAccept(connID, peerAddr string) {
	hm.TriggerEvent(context.Background(), *NewEvent(EventConnectionAccept).WithConnID(connID).WithData("peer_addr", peerAddr))
}

func (hm *Manager) FireConnectionClose(connID string) {
	hm.TriggerEvent(context.Background(), *NewEvent(EventConnectionClose).WithConnID(connID))
}

func (hm *Manager) FireStreamOpen(connID, streamKey string, resourceID uint64) {
	hm.TriggerEvent(context.Background(), *NewEvent(EventStreamOpen).WithConnID(connID).WithStreamKey(streamKey).WithResourceID(resourceID))
}

func (hm *Manager) FirePublisherOpen(connID, streamKey string, resourceID uint64) {
	hm.TriggerEvent(context.Background(), *NewEvent(EventPublisherOpen).WithConnID(connID).WithStreamKey(streamKey).WithResourceID(resourceID))
}

func (hm *Manager) FireResourceClose(connID, kind string, resourceID uint64) {
	eventType := EventStreamClose
	if kind == "publisher" {
		eventType = EventPublisherClose
	}
	hm.TriggerEvent(context.Background(), *NewEvent(eventType).WithConnID(connID).WithResourceID(resourceID))
}

func (hm *Manager) FireError(connID string, resourceID uint64, err error) {
	hm.TriggerEvent(context.Background(), *NewEvent(EventError).WithConnID(connID).WithResourceID(resourceID).WithData("error", err.Error()))
}

func (hm *Manager) FireFrameDropped(connID string, resourceID uint64, policy string, count int) {
	hm.TriggerEvent(context.Background(), *NewEvent(EventFrameDropped).WithConnID(connID).WithResourceID(resourceID).
		WithData("policy", policy).WithData("count", count))
}

// executionPool manages concurrent hook execution.
type executionPool struct {
	workers chan struct{}
	size    int
	active  int
	mu      sync.Mutex
	logger  *slog.Logger
}

func newExecutionPool(size int, logger *slog.Logger) *executionPool {
	if size <= 0 {
		size = 10
	}
	return &executionPool{
		workers: make(chan struct{}, size),
		size:    size,
		logger:  logger,
	}
}

func (ep *executionPool) execute(ctx context.Context, hook Hook, event Event) {
	go func() {
		ep.workers <- struct{}{}
		defer func() { <-ep.workers }()

		ep.mu.Lock()
		ep.active++
		ep.mu.Unlock()
		defer func() {
			ep.mu.Lock()
			ep.active--
			ep.mu.Unlock()
		}()

		start := time.Now()
		err := hook.Execute(ctx, event)
		duration := time.Since(start)

		if err != nil {
			ep.logger.Error("hook execution failed", "hook_type", hook.Type(), "hook_id", hook.ID(),
				"event_type", event.Type, "duration_ms", duration.Milliseconds(), "error", err)
		} else {
			ep.logger.Debug("hook executed", "hook_type", hook.Type(), "hook_id", hook.ID(),
				"event_type", event.Type, "duration_ms", duration.Milliseconds())
		}
	}()
}

func (ep *executionPool) close() {
	for i := 0; i < cap(ep.workers); i++ {
		ep.workers <- struct{}{}
	}
}
