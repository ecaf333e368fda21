// Package resource implements the server-side resource adapters a client
// connection opens: stream adapters (subscribe to sensor data) and
// publisher adapters (accept sensor data from a client). Both embed the
// common Adapter harness in this file.
package resource

import (
	"log/slog"
	"sync"

	"github.com/senscord/multi-server/internal/metrics"
	"github.com/senscord/multi-server/internal/proto"
)

// Dispatcher handles one decoded request Message for a resource and
// returns the reply to send back (or nil for fire-and-forget messages like
// SendFrame acks that the caller emits separately).
type Dispatcher interface {
	Dispatch(msg *proto.Message) *proto.Message
	// Close releases the resource's underlying sdkcore handle. Called once
	// the Adapter's queues have drained and its workers have stopped.
	Close()
}

// queueKind names the Adapter's two FIFOs for logging and metrics labels.
type queueKind string

const (
	queueStandard   queueKind = "standard"
	queueLockUnlock queueKind = "lock_unlock"
)

// Adapter is the common worker harness every resource adapter embeds: two
// independent FIFOs (standard and lock/unlock) so a slow Standard-queue
// consumer never head-of-line-blocks LockProperty/UnlockProperty traffic
// (§5.2), each drained by its own goroutine under a mutex+condition
// variable exactly as the spec's "no lock-free structures" constraint
// requires. Grounded on the teacher's hooks.executionPool channel-handoff
// worker, generalized from "N bounded workers draining one channel" to
// "two independently-drained FIFOs per resource".
type Adapter struct {
	resourceID uint64
	kind       string // "stream" or "publisher", used for logging/metrics

	mu          sync.Mutex
	cond        *sync.Cond
	standard    []*proto.Message
	lockUnlock  []*proto.Message
	closed      bool
	workersDone sync.WaitGroup

	dispatcher Dispatcher
	sendReply  func(msg *proto.Message) error // hands a reply/event back to the owning connection
	metrics    *metrics.Registry
	log        *slog.Logger
}

// NewAdapter starts an Adapter's two worker goroutines. sendReply is called
// from a worker goroutine whenever dispatcher.Dispatch returns a non-nil
// reply; it must not block indefinitely (the caller's transport.Send
// already enforces its own send-queue timeout). Its error return reports a
// failed send back to the caller so a resource adapter can react (e.g. a
// stream adapter releasing frames a dropped peer will never acknowledge).
func NewAdapter(resourceID uint64, kind string, dispatcher Dispatcher, sendReply func(*proto.Message) error, metricsReg *metrics.Registry, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	a := &Adapter{
		resourceID: resourceID,
		kind:       kind,
		dispatcher: dispatcher,
		sendReply:  sendReply,
		metrics:    metricsReg,
		log:        log,
	}
	a.cond = sync.NewCond(&a.mu)
	a.workersDone.Add(2)
	go a.worker(queueStandard)
	go a.worker(queueLockUnlock)
	return a
}

// ResourceID returns the resource's server_stream_id.
func (a *Adapter) ResourceID() uint64 { return a.resourceID }

// Kind returns "stream" or "publisher".
func (a *Adapter) Kind() string { return a.kind }

// PushMessage enqueues a request Message onto the appropriate FIFO: lock/
// unlock requests go to the lockUnlock queue, everything else to standard.
func (a *Adapter) PushMessage(msg *proto.Message) {
	queue := queueStandard
	if msg.Header.DataType == proto.DataLockProperty || msg.Header.DataType == proto.DataUnlockProperty {
		queue = queueLockUnlock
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	switch queue {
	case queueLockUnlock:
		a.lockUnlock = append(a.lockUnlock, msg)
	default:
		a.standard = append(a.standard, msg)
	}
	depth := len(a.standard)
	if queue == queueLockUnlock {
		depth = len(a.lockUnlock)
	}
	a.mu.Unlock()
	a.metrics.SetQueueDepth(a.kind, string(queue), depth)
	a.cond.Broadcast()
}

// worker drains one of the two FIFOs until Close is called. Once closed, it
// stops dispatching and instead drains whatever is left in its queue without
// calling into the (possibly already-released) underlying sdkcore handle —
// the Go analogue of "drain and release any messages still queued" from a
// stop_monitoring teardown: there is no reply channel left worth writing to,
// so the queued requests are simply discarded rather than processed.
func (a *Adapter) worker(queue queueKind) {
	defer a.workersDone.Done()
	for {
		a.mu.Lock()
		for a.queueEmptyLocked(queue) && !a.closed {
			a.cond.Wait()
		}
		closed := a.closed
		msg := a.popLocked(queue)
		a.mu.Unlock()

		if msg == nil {
			if closed {
				return
			}
			continue
		}
		if closed {
			continue
		}
		if reply := a.dispatcher.Dispatch(msg); reply != nil && a.sendReply != nil {
			if err := a.sendReply(reply); err != nil {
				a.log.Warn("send reply failed", "resource_id", a.resourceID, "resource_kind", a.kind, "error", err)
			}
		}
	}
}

func (a *Adapter) queueEmptyLocked(queue queueKind) bool {
	if queue == queueLockUnlock {
		return len(a.lockUnlock) == 0
	}
	return len(a.standard) == 0
}

func (a *Adapter) popLocked(queue queueKind) *proto.Message {
	if queue == queueLockUnlock {
		if len(a.lockUnlock) == 0 {
			return nil
		}
		msg := a.lockUnlock[0]
		a.lockUnlock = a.lockUnlock[1:]
		return msg
	}
	if len(a.standard) == 0 {
		return nil
	}
	msg := a.standard[0]
	a.standard = a.standard[1:]
	return msg
}

// Close stops both workers once their queues drain, then releases the
// underlying sdkcore handle via the dispatcher. Safe to call once;
// subsequent calls are no-ops.
func (a *Adapter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()
	a.cond.Broadcast()
	a.workersDone.Wait()
	a.dispatcher.Close()
	a.log.Debug("resource adapter closed", "resource_id", a.resourceID, "resource_kind", a.kind)
}
