// Package proto defines the wire message types carried over a
// transport.Transport: the Header, the closed set of payload schemas, and
// the Frame/Channel structures used by SendFrame. Field order within each
// payload is part of the wire contract (§6) and must not be reordered
// without a protocol version bump.
package proto

import "github.com/senscord/multi-server/internal/sderr"

// MessageType discriminates the five protocol roles a Message can play.
type MessageType uint8

const (
	TypeRequest MessageType = iota
	TypeReply
	TypeSendFrame
	TypeSendEvent
	TypeHandshake
)

func (t MessageType) String() string {
	switch t {
	case TypeRequest:
		return "request"
	case TypeReply:
		return "reply"
	case TypeSendFrame:
		return "send_frame"
	case TypeSendEvent:
		return "send_event"
	case TypeHandshake:
		return "handshake"
	default:
		return "unknown"
	}
}

// DataType discriminates the payload among the closed set defined in §3.
type DataType uint8

const (
	DataOpen DataType = iota
	DataClose
	DataStart
	DataStop
	DataReleaseFrame
	DataGetProperty
	DataSetProperty
	DataLockProperty
	DataUnlockProperty
	DataSendFrame
	DataSendEvent
	DataDisconnect
	DataSecondaryConnect
	DataRegisterEvent
	DataUnregisterEvent
	DataGetVersion
	DataGetPropertyList
	DataGetStreamList
	DataGetServerConfig
	DataOpenPublisher
	DataClosePublisher
)

// ServerStreamIDNone is the reserved header value meaning "no resource /
// global" (§3).
const ServerStreamIDNone uint64 = 0

// Header is the fixed-width preamble common to every Message.
type Header struct {
	ServerStreamID uint64
	RequestID      uint64
	Type           MessageType
	DataType       DataType
}

// Message is the unit of transport: a Header plus a typed Payload. Payload
// is one of the structs in payload.go, selected by (Type, DataType).
type Message struct {
	Header  Header
	Payload any
}

// NewReply builds a reply Message echoing the request's ServerStreamID and
// RequestID, per the "replies echo request_id" rule in §3.
func NewReply(req Header, dataType DataType, payload any) *Message {
	return &Message{
		Header: Header{
			ServerStreamID: req.ServerStreamID,
			RequestID:      req.RequestID,
			Type:           TypeReply,
			DataType:       dataType,
		},
		Payload: payload,
	}
}

// StatusOf extracts the *sderr.Status embedded in a reply payload, if any.
// Returns nil if the payload carries no status (e.g. a bare SendFrameReply).
func StatusOf(payload any) *sderr.Status {
	switch p := payload.(type) {
	case *StandardReply:
		return p.Status
	case *OpenReply:
		return p.Status
	case *VersionReply:
		return p.Status
	case *StreamListReply:
		return p.Status
	case *PropertyReply:
		return p.Status
	case *LockPropertyReply:
		return p.Status
	case *ServerConfigReply:
		return p.Status
	}
	return nil
}
