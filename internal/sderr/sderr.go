// Package sderr defines the wire-level status taxonomy shared by every layer
// of the multi-server core (transport, resource adapters, client component).
package sderr

import "fmt"

// Cause is the closed set of wire status causes from the spec's error
// taxonomy (§7). It is carried verbatim in MessageStatus.Cause on the wire.
type Cause int32

const (
	CauseNone Cause = iota
	CauseNotFound
	CauseInvalidArgument
	CauseInvalidOperation
	CauseNotSupported
	CauseAborted
	CauseResourceExhausted
	CauseTimeout
	CauseCancelled
	CauseUnknown
)

func (c Cause) String() string {
	switch c {
	case CauseNone:
		return "none"
	case CauseNotFound:
		return "not_found"
	case CauseInvalidArgument:
		return "invalid_argument"
	case CauseInvalidOperation:
		return "invalid_operation"
	case CauseNotSupported:
		return "not_supported"
	case CauseAborted:
		return "aborted"
	case CauseResourceExhausted:
		return "resource_exhausted"
	case CauseTimeout:
		return "timeout"
	case CauseCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Level mirrors the wire MessageStatus level field: a free-form severity
// tag that accompanies Cause. 0 is unset/info.
type Level int32

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
	LevelFatal
)

// Status is the wire's MessageStatus: {ok, level, cause, message, block}.
// Every reply begins with one; on OK==false the remaining reply fields are
// unspecified (§3). Status implements error so it can flow through normal
// Go error-handling idiom while still carrying the wire taxonomy.
type Status struct {
	OK      bool
	Level   Level
	Cause   Cause
	Message string
	Block   string // free-form cross-process diagnostic tag
}

// OKStatus is the canonical success status.
func OKStatus() *Status { return &Status{OK: true} }

// New builds a failing Status for the given cause.
func New(cause Cause, format string, args ...any) *Status {
	return &Status{
		OK:      false,
		Level:   LevelError,
		Cause:   cause,
		Message: fmt.Sprintf(format, args...),
	}
}

// WithBlock attaches a free-form diagnostic tag (e.g. component name) and
// returns the receiver for chaining.
func (s *Status) WithBlock(block string) *Status {
	if s == nil {
		return s
	}
	s.Block = block
	return s
}

func (s *Status) Error() string {
	if s == nil || s.OK {
		return "ok"
	}
	if s.Block != "" {
		return fmt.Sprintf("%s: %s [%s]", s.Cause, s.Message, s.Block)
	}
	return fmt.Sprintf("%s: %s", s.Cause, s.Message)
}

// Is lets errors.Is match against a sentinel *Status such as
// errors.Is(err, sderr.NotFound) by comparing the Cause field of two
// *Status values; a bare Cause is not an error and cannot be a target.
func (s *Status) Is(target error) bool {
	other, ok := target.(*Status)
	if !ok || s == nil || other == nil {
		return false
	}
	return s.Cause == other.Cause
}

// Sentinel statuses for errors.Is comparisons (e.g. errors.Is(err, sderr.NotFound)).
var (
	NotFound          = &Status{Cause: CauseNotFound}
	InvalidArgument   = &Status{Cause: CauseInvalidArgument}
	InvalidOperation  = &Status{Cause: CauseInvalidOperation}
	NotSupported      = &Status{Cause: CauseNotSupported}
	Aborted           = &Status{Cause: CauseAborted}
	ResourceExhausted = &Status{Cause: CauseResourceExhausted}
	Timeout           = &Status{Cause: CauseTimeout}
	Cancelled         = &Status{Cause: CauseCancelled}
)

// FromError wraps a non-Status error as Unknown, preserving the message.
func FromError(err error) *Status {
	if err == nil {
		return OKStatus()
	}
	if st, ok := err.(*Status); ok {
		return st
	}
	return New(CauseUnknown, "%v", err)
}
