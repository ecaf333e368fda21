// Package fake is an in-memory sdkcore.Core used by tests and the demo
// binary: streams self-generate synthetic frames on a timer, publishers
// just record what they receive. It exists so higher layers can be
// exercised end to end without a real sensor-device SDK present.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/senscord/multi-server/internal/sderr"
	"github.com/senscord/multi-server/internal/sdkcore"
)

// Core is a minimal in-memory sdkcore.Core keyed by stream/publisher key.
type Core struct {
	mu          sync.Mutex
	streamTypes map[string]string
	version     sdkcore.VersionInfo
}

// New creates a Core whose catalog is streamTypes (stream_key -> stream_type).
func New(streamTypes map[string]string, version sdkcore.VersionInfo) *Core {
	return &Core{streamTypes: streamTypes, version: version}
}

func (c *Core) OpenStream(key string, args map[string]string) (sdkcore.Stream, *sderr.Status) {
	c.mu.Lock()
	_, known := c.streamTypes[key]
	c.mu.Unlock()
	if !known {
		return nil, sderr.New(sderr.CauseNotFound, "fake sdkcore: stream %q not in catalog", key)
	}
	interval := 33 * time.Millisecond
	if rate, ok := args["frame_rate"]; ok {
		if d, err := time.ParseDuration(rate + "ms"); err == nil && d > 0 {
			interval = d
		}
	}
	return newStream(key, interval, args["allocator_key"]), sderr.OKStatus()
}

func (c *Core) OpenPublisher(key string, args map[string]string) (sdkcore.Publisher, *sderr.Status) {
	return &publisher{key: key}, sderr.OKStatus()
}

func (c *Core) StreamTypes() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.streamTypes))
	for k, v := range c.streamTypes {
		out[k] = v
	}
	return out
}

func (c *Core) Version() sdkcore.VersionInfo { return c.version }

// stream generates a monotonically sequenced synthetic frame every
// interval while started, with a trivial property store.
type stream struct {
	key          string
	interval     time.Duration
	allocatorKey string

	mu        sync.Mutex
	started   bool
	stopped   chan struct{}
	seq       uint64
	pending   []sdkcore.SDKFrame
	props     map[string][]byte
	callbacks map[string][]func(map[string]string)
}

func newStream(key string, interval time.Duration, allocatorKey string) *stream {
	return &stream{
		key:          key,
		interval:     interval,
		allocatorKey: allocatorKey,
		props:        map[string][]byte{"frame_rate_property": []byte(interval.String())},
		callbacks:    make(map[string][]func(map[string]string)),
	}
}

func (s *stream) Start() *sderr.Status {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return sderr.New(sderr.CauseInvalidOperation, "fake stream %q already started", s.key)
	}
	s.started = true
	s.stopped = make(chan struct{})
	stopped := s.stopped
	s.mu.Unlock()

	go s.generate(stopped)
	return sderr.OKStatus()
}

func (s *stream) generate(stopped chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopped:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.seq++
			frame := sdkcore.SDKFrame{
				SequenceNumber: s.seq,
				SentTime:       uint64(time.Now().UnixNano()),
				Channels: []sdkcore.FrameData{
					{
						ChannelID:    0,
						RawDataType:  "synthetic_raw",
						AllocatorKey: s.allocatorKey,
						Raw:          []byte(s.key),
						Timestamp:    uint64(time.Now().UnixNano()),
					},
				},
			}
			if len(s.pending) < 64 {
				s.pending = append(s.pending, frame)
			}
			s.mu.Unlock()
		}
	}
}

func (s *stream) Stop() *sderr.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return sderr.New(sderr.CauseInvalidOperation, "fake stream %q not started", s.key)
	}
	close(s.stopped)
	s.started = false
	return sderr.OKStatus()
}

func (s *stream) Close() *sderr.Status { return sderr.OKStatus() }

func (s *stream) ArrivedFrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *stream) GetFrame(ctx context.Context) (*sdkcore.SDKFrame, *sderr.Status) {
	deadline := time.NewTimer(50 * time.Millisecond)
	defer deadline.Stop()
	for {
		s.mu.Lock()
		if len(s.pending) > 0 {
			frame := s.pending[0]
			s.pending = s.pending[1:]
			s.mu.Unlock()
			return &frame, sderr.OKStatus()
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, sderr.New(sderr.CauseTimeout, "fake stream %q: no frame available", s.key)
		case <-deadline.C:
			return nil, sderr.New(sderr.CauseTimeout, "fake stream %q: no frame available", s.key)
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func (s *stream) ReleaseFrame(sequenceNumber uint64, rawDataAccessed bool) *sderr.Status {
	return sderr.OKStatus()
}

func (s *stream) GetProperty(key string) ([]byte, *sderr.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.props[key]
	if !ok {
		return nil, sderr.New(sderr.CauseNotFound, "fake stream %q: no property %q", s.key, key)
	}
	return v, sderr.OKStatus()
}

func (s *stream) SetProperty(key string, value []byte) *sderr.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.props[key] = value
	return sderr.OKStatus()
}

func (s *stream) PropertyKeyList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.props))
	for k := range s.props {
		keys = append(keys, k)
	}
	return keys
}

func (s *stream) RegisterEventCallback(eventType string, fn func(args map[string]string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks[eventType] = append(s.callbacks[eventType], fn)
	idx := len(s.callbacks[eventType]) - 1
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.callbacks[eventType][idx] = nil
	}
}

// publisher just records the frames it was handed; a real implementation
// would forward them into a device pipeline.
type publisher struct {
	key string

	mu       sync.Mutex
	received []sdkcore.SDKFrame
}

func (p *publisher) Close() *sderr.Status { return sderr.OKStatus() }

func (p *publisher) PublishFrames(frames []sdkcore.SDKFrame) *sderr.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.received = append(p.received, frames...)
	return sderr.OKStatus()
}

// Received returns the frames accumulated so far, for test assertions.
func (p *publisher) Received() []sdkcore.SDKFrame {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]sdkcore.SDKFrame, len(p.received))
	copy(out, p.received)
	return out
}
