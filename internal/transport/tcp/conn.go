// Package tcp is the reference transport.Transport implementation: a
// length-prefixed proto.Message stream over net.Conn, grounded on the
// teacher's connection wrapper (read goroutine decoding into a handler,
// buffered outbound queue, context-driven shutdown).
package tcp

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/senscord/multi-server/internal/bufpool"
	"github.com/senscord/multi-server/internal/logger"
	"github.com/senscord/multi-server/internal/proto"
	"github.com/senscord/multi-server/internal/shm"
)

// maxFrameSize bounds a single Message on the wire, guarding against a
// corrupt or hostile length prefix requesting an unbounded allocation.
const maxFrameSize = 64 << 20

// shmRegionSize is the arena size a Conn creates on first use of a given
// allocator key for outbound zero-copy delivery (§4.1). This binary has no
// per-key sizing knob of its own, so it reuses one fixed arena size the way
// the teacher's fixed-capacity ring buffers are sized once up front.
const shmRegionSize = 4 << 20

// sendQueueDepth is how many outbound messages can be buffered before
// Send starts blocking the caller (same backpressure shape as the
// teacher's outboundQueue).
const sendQueueDepth = 256

// Conn is a transport.Transport over a net.Conn.
type Conn struct {
	netConn    net.Conn
	remoteAddr string
	codec      *proto.Codec

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	reader  *bufio.Reader
	outbox  chan *proto.Message
	recvErr chan error
	recvCh  chan *proto.Message

	closeOnce sync.Once

	shmMu   sync.Mutex
	regions *shm.Manager
}

// New wraps an already-accepted or already-dialed net.Conn as a Conn,
// starting its write loop. The caller must call Close when done.
func New(netConn net.Conn) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		netConn:    netConn,
		remoteAddr: netConn.RemoteAddr().String(),
		codec:      proto.NewCodec(),
		ctx:        ctx,
		cancel:     cancel,
		reader:     bufio.NewReader(netConn),
		outbox:     make(chan *proto.Message, sendQueueDepth),
		recvErr:    make(chan error, 1),
		recvCh:     make(chan *proto.Message, sendQueueDepth),
	}
	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()
	return c
}

// RemoteAddr returns the peer's address string.
func (c *Conn) RemoteAddr() string { return c.remoteAddr }

// SetSharedMemory attaches the region Manager this Conn consults for
// GetChannelRawData's same-system shared-memory path. A nil regions (the
// default) makes GetChannelRawData always fall back to inline delivery.
func (c *Conn) SetSharedMemory(regions *shm.Manager) {
	c.shmMu.Lock()
	c.regions = regions
	c.shmMu.Unlock()
}

// GetChannelRawData implements transport.Transport's §4.1 extensibility
// point: it places raw into a named shared-memory region and returns the
// 20-byte descriptor for DeliverAddressSizeOnly, or falls back to
// DeliverAllData when this Conn has no region Manager, the channel carries
// no allocator_key, or raw is empty.
func (c *Conn) GetChannelRawData(allocatorKey string, raw []byte) (proto.RawDataInfo, error) {
	c.shmMu.Lock()
	regions := c.regions
	c.shmMu.Unlock()
	if regions == nil || allocatorKey == "" || len(raw) == 0 {
		return proto.RawDataInfo{Mode: proto.DeliverAllData, Bytes: raw}, nil
	}

	region, err := regions.OpenOrCreate(allocatorKey, shmRegionSize)
	if err != nil {
		return proto.RawDataInfo{}, err
	}
	offset, err := region.Alloc.Allocate(int64(len(raw)))
	if err != nil {
		return proto.RawDataInfo{}, err
	}
	copy(region.Bytes()[offset:offset+int64(len(raw))], raw)

	addr := shm.Address{PhysicalAddress: int32(offset), AllocatedSize: int32(len(raw)), Offset: 0, Size: int32(len(raw))}
	return proto.RawDataInfo{Mode: proto.DeliverAddressSizeOnly, Bytes: addr.Encode()}, nil
}

// Send enqueues msg for transmission, applying a short send-queue timeout
// identical in spirit to the teacher's SendMessage backpressure guard.
func (c *Conn) Send(msg *proto.Message) error {
	timer := time.NewTimer(2 * time.Second)
	defer timer.Stop()
	select {
	case <-c.ctx.Done():
		return net.ErrClosed
	case c.outbox <- msg:
		return nil
	case <-timer.C:
		return fmt.Errorf("tcp: send queue full (len=%d) to %s", len(c.outbox), c.remoteAddr)
	}
}

// Recv blocks for the next decoded Message, or returns the error that ended
// the read loop (io.EOF on a clean peer close, or the Close()-induced
// net.ErrClosed).
func (c *Conn) Recv() (*proto.Message, error) {
	select {
	case msg, ok := <-c.recvCh:
		if !ok {
			return nil, <-c.recvErr
		}
		return msg, nil
	case <-c.ctx.Done():
		return nil, net.ErrClosed
	}
}

// Close tears down both loops and the underlying net.Conn. Safe to call
// more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.netConn.Close()
		c.wg.Wait()
	})
	return err
}

func (c *Conn) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.outbox:
			if err := c.writeFrame(msg); err != nil {
				if !errors.Is(err, net.ErrClosed) {
					logger.Warn("tcp: write frame failed", "remote_addr", c.remoteAddr, "error", err)
				}
				return
			}
		}
	}
}

func (c *Conn) writeFrame(msg *proto.Message) error {
	body, err := c.codec.Encode(msg)
	if err != nil {
		return err
	}
	header := bufpool.Get(4)
	defer bufpool.Put(header)
	binary.BigEndian.PutUint32(header, uint32(len(body)))
	if _, err := c.netConn.Write(header); err != nil {
		return err
	}
	_, err = c.netConn.Write(body)
	return err
}

func (c *Conn) readLoop() {
	defer c.wg.Done()
	defer close(c.recvCh)
	for {
		msg, err := c.readFrame()
		if err != nil {
			c.recvErr <- err
			return
		}
		select {
		case c.recvCh <- msg:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Conn) readFrame() (*proto.Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.reader, lenBuf[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	if size > maxFrameSize {
		return nil, fmt.Errorf("tcp: frame size %d exceeds max %d", size, maxFrameSize)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(c.reader, body); err != nil {
		return nil, err
	}
	return c.codec.Decode(body)
}
