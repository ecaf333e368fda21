// Event system for the multi-server's hook mechanism. A hook subscribes to
// one of the EventTypes below and is invoked asynchronously through the
// Manager's executionPool whenever that event fires.
package hooks

import (
	"time"
)

// EventType enumerates every event a hook can subscribe to: connection and
// resource lifecycle, plus the two fault-reporting events the spec
// requires to be the sole channel for background faults (§7) rather than
// surfacing them as request failures after the fact.
type EventType string

const (
	EventConnectionAccept EventType = "connection_accept"
	EventConnectionClose  EventType = "connection_close"
	EventStreamOpen       EventType = "stream_open"
	EventStreamClose      EventType = "stream_close"
	EventPublisherOpen    EventType = "publisher_open"
	EventPublisherClose   EventType = "publisher_close"
	EventError            EventType = "error"
	EventFrameDropped     EventType = "frame_dropped"
)

// Event represents a single notification that can trigger hooks.
type Event struct {
	Type       EventType              `json:"type"`
	Timestamp  int64                  `json:"timestamp"`
	ConnID     string                 `json:"conn_id,omitempty"`
	StreamKey  string                 `json:"stream_key,omitempty"`
	ResourceID uint64                 `json:"resource_id,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now().Unix(),
		Data:      make(map[string]interface{}),
	}
}

// WithConnID sets the connection ID for the event.
func (e *Event) WithConnID(connID string) *Event {
	e.ConnID = connID
	return e
}

// WithStreamKey sets the stream/publisher key for the event.
func (e *Event) WithStreamKey(streamKey string) *Event {
	e.StreamKey = streamKey
	return e
}

// WithResourceID sets the resource_id for the event.
func (e *Event) WithResourceID(id uint64) *Event {
	e.ResourceID = id
	return e
}

// WithData adds data fields to the event.
func (e *Event) WithData(key string, value interface{}) *Event {
	if e.Data == nil {
		e.Data = make(map[string]interface{})
	}
	e.Data[key] = value
	return e
}

// String returns a human-readable string representation of the event.
func (e *Event) String() string {
	if e.StreamKey != "" {
		return string(e.Type) + ":" + e.StreamKey
	}
	if e.ConnID != "" {
		return string(e.Type) + ":" + e.ConnID
	}
	return string(e.Type)
}
