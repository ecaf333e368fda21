package proto

// Encoding/decoding follows the teacher's control-message discipline: fixed
// fields via encoding/binary, explicit length checks, structured errors via
// fmt.Errorf. Variable-length fields (strings, byte slices, maps) are
// length-prefixed with a uint32 count/len so the wire format stays
// self-describing without a schema side-channel.

import (
	"encoding/binary"
	"fmt"

	"github.com/senscord/multi-server/internal/bufpool"
	"github.com/senscord/multi-server/internal/sderr"
)

// Codec encodes and decodes Messages to/from the flat byte stream a
// transport.Transport carries. It is stateless and safe for concurrent use.
type Codec struct{}

// NewCodec builds the default wire Codec.
func NewCodec() *Codec { return &Codec{} }

// cursor is a growable little encoder scratchpad, mirroring the teacher's
// fixed-size-array-and-slice style but sized dynamically for variable
// payloads. Buffers come from bufpool and are returned by the caller.
type cursor struct {
	buf []byte
}

func newCursor(hint int) *cursor {
	return &cursor{buf: bufpool.Get(max(hint, 64))[:0]}
}

func (c *cursor) putUint8(v uint8)   { c.buf = append(c.buf, v) }
func (c *cursor) putUint32(v uint32) { c.buf = binary.BigEndian.AppendUint32(c.buf, v) }
func (c *cursor) putUint64(v uint64) { c.buf = binary.BigEndian.AppendUint64(c.buf, v) }
func (c *cursor) putBool(v bool) {
	if v {
		c.putUint8(1)
	} else {
		c.putUint8(0)
	}
}
func (c *cursor) putBytes(b []byte) {
	c.putUint32(uint32(len(b)))
	c.buf = append(c.buf, b...)
}
func (c *cursor) putString(s string) { c.putBytes([]byte(s)) }
func (c *cursor) putStringSlice(ss []string) {
	c.putUint32(uint32(len(ss)))
	for _, s := range ss {
		c.putString(s)
	}
}
func (c *cursor) putStringMap(m map[string]string) {
	c.putUint32(uint32(len(m)))
	for k, v := range m {
		c.putString(k)
		c.putString(v)
	}
}
func (c *cursor) putStatus(st *sderr.Status) {
	if st == nil {
		st = sderr.OKStatus()
	}
	c.putBool(st.OK)
	c.putUint32(uint32(st.Level))
	c.putUint32(uint32(st.Cause))
	c.putString(st.Message)
	c.putString(st.Block)
}

// reader walks a byte slice left to right, tracking position. Every get*
// call bounds-checks and returns an error rather than panicking, per the
// teacher's "expected N bytes got=M" error style.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return fmt.Errorf("proto: truncated message: need %d bytes at offset %d, have %d", n, r.pos, len(r.buf))
	}
	return nil
}

func (r *reader) getUint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) getBool() (bool, error) {
	v, err := r.getUint8()
	return v != 0, err
}

func (r *reader) getUint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) getUint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) getBytes() ([]byte, error) {
	n, err := r.getUint32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return b, nil
}

func (r *reader) getString() (string, error) {
	b, err := r.getBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) getStringSlice() ([]string, error) {
	n, err := r.getUint32()
	if err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		if out[i], err = r.getString(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *reader) getStringMap() (map[string]string, error) {
	n, err := r.getUint32()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, n)
	for i := uint32(0); i < n; i++ {
		k, err := r.getString()
		if err != nil {
			return nil, err
		}
		v, err := r.getString()
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (r *reader) getStatus() (*sderr.Status, error) {
	ok, err := r.getBool()
	if err != nil {
		return nil, err
	}
	level, err := r.getUint32()
	if err != nil {
		return nil, err
	}
	cause, err := r.getUint32()
	if err != nil {
		return nil, err
	}
	msg, err := r.getString()
	if err != nil {
		return nil, err
	}
	block, err := r.getString()
	if err != nil {
		return nil, err
	}
	return &sderr.Status{
		OK:      ok,
		Level:   sderr.Level(level),
		Cause:   sderr.Cause(cause),
		Message: msg,
		Block:   block,
	}, nil
}

// headerSize is the fixed number of bytes the Header occupies on the wire.
const headerSize = 8 + 8 + 1 + 1

// Encode serializes a Message to a freshly-sized byte slice (not pooled;
// callers that need pooling should wrap bufpool.Put themselves once the
// bytes are flushed to the transport).
func (c *Codec) Encode(msg *Message) ([]byte, error) {
	cur := newCursor(256)
	cur.putUint64(msg.Header.ServerStreamID)
	cur.putUint64(msg.Header.RequestID)
	cur.putUint8(uint8(msg.Header.Type))
	cur.putUint8(uint8(msg.Header.DataType))

	if err := encodePayload(cur, msg.Header, msg.Payload); err != nil {
		return nil, fmt.Errorf("proto: encode %s/%v: %w", msg.Header.Type, msg.Header.DataType, err)
	}

	out := make([]byte, len(cur.buf))
	copy(out, cur.buf)
	bufpool.Put(cur.buf[:cap(cur.buf)])
	return out, nil
}

// Decode parses a byte slice previously produced by Encode back into a
// Message. The returned Payload's concrete type depends on (Type, DataType)
// exactly as encodePayload/decodePayload dispatch them.
func (c *Codec) Decode(raw []byte) (*Message, error) {
	if len(raw) < headerSize {
		return nil, fmt.Errorf("proto: message too short: %d bytes, need at least %d", len(raw), headerSize)
	}
	r := &reader{buf: raw}
	serverStreamID, _ := r.getUint64()
	requestID, _ := r.getUint64()
	typeByte, _ := r.getUint8()
	dataTypeByte, _ := r.getUint8()

	hdr := Header{
		ServerStreamID: serverStreamID,
		RequestID:      requestID,
		Type:           MessageType(typeByte),
		DataType:       DataType(dataTypeByte),
	}

	payload, err := decodePayload(r, hdr)
	if err != nil {
		return nil, fmt.Errorf("proto: decode %s/%v: %w", hdr.Type, hdr.DataType, err)
	}
	return &Message{Header: hdr, Payload: payload}, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
