package zk

import (
	"encoding/binary"
	"fmt"
)

// jute encoding primitives. The codec is pure (buffer-in / buffer-out, no
// I/O, spec.md §4.1) so it can be unit tested without a socket. The
// writer and reader only ever see one frame's payload at a time; the
// 4-byte big-endian length prefix is added by encodeFrame below, which
// the transport calls when writing.

// writer accumulates a single jute-encoded record.
type writer struct {
	buf []byte
}

func newWriter() *writer { return &writer{buf: make([]byte, 0, 64)} }

func (w *writer) bytes() []byte { return w.buf }

func (w *writer) writeInt(v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) writeLong(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) writeBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

// writeBuffer writes a jute buffer: a length-prefixed byte blob, or -1 for
// nil (the wire's way of distinguishing an empty node from a missing one).
func (w *writer) writeBuffer(b []byte) {
	if b == nil {
		w.writeInt(-1)
		return
	}
	w.writeInt(int32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) writeString(s string) {
	w.writeBuffer([]byte(s))
}

func (w *writer) writeStringVector(v []string) {
	w.writeInt(int32(len(v)))
	for _, s := range v {
		w.writeString(s)
	}
}

func (w *writer) writeACLVector(v []ACL) {
	w.writeInt(int32(len(v)))
	for _, acl := range v {
		w.writeInt(acl.Perms)
		w.writeString(acl.Scheme)
		w.writeString(acl.ID)
	}
}

func (w *writer) writeStat(s Stat) {
	w.writeLong(s.Czxid)
	w.writeLong(s.Mzxid)
	w.writeLong(s.Ctime)
	w.writeLong(s.Mtime)
	w.writeInt(s.Version)
	w.writeInt(s.Cversion)
	w.writeInt(s.Aversion)
	w.writeLong(s.EphemeralOwner)
	w.writeInt(s.DataLength)
	w.writeInt(s.NumChildren)
	w.writeLong(s.Pzxid)
}

// reader consumes a single jute-encoded record. A malformed frame (not
// enough bytes for the field being read) is a fatal ProtocolError per
// spec.md §4.1.
type reader struct {
	buf []byte
	pos int
}

func newReader(buf []byte) *reader { return &reader{buf: buf} }

func (r *reader) remaining() int { return len(r.buf) - r.pos }

func (r *reader) need(n int) error {
	if r.remaining() < n {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrProtocolError, n, r.remaining())
	}
	return nil
}

func (r *reader) readInt() (int32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := int32(binary.BigEndian.Uint32(r.buf[r.pos:]))
	r.pos += 4
	return v, nil
}

func (r *reader) readLong() (int64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := int64(binary.BigEndian.Uint64(r.buf[r.pos:]))
	r.pos += 8
	return v, nil
}

func (r *reader) readBool() (bool, error) {
	if err := r.need(1); err != nil {
		return false, err
	}
	v := r.buf[r.pos] != 0
	r.pos++
	return v, nil
}

func (r *reader) readBuffer() ([]byte, error) {
	n, err := r.readInt()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return b, nil
}

func (r *reader) readString() (string, error) {
	b, err := r.readBuffer()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) readStringVector() ([]string, error) {
	n, err := r.readInt()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	out := make([]string, 0, n)
	for i := int32(0); i < n; i++ {
		s, err := r.readString()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *reader) readACLVector() ([]ACL, error) {
	n, err := r.readInt()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	out := make([]ACL, 0, n)
	for i := int32(0); i < n; i++ {
		perms, err := r.readInt()
		if err != nil {
			return nil, err
		}
		scheme, err := r.readString()
		if err != nil {
			return nil, err
		}
		id, err := r.readString()
		if err != nil {
			return nil, err
		}
		out = append(out, ACL{Perms: perms, Scheme: scheme, ID: id})
	}
	return out, nil
}

func (r *reader) readStat() (Stat, error) {
	var s Stat
	var err error
	if s.Czxid, err = r.readLong(); err != nil {
		return s, err
	}
	if s.Mzxid, err = r.readLong(); err != nil {
		return s, err
	}
	if s.Ctime, err = r.readLong(); err != nil {
		return s, err
	}
	if s.Mtime, err = r.readLong(); err != nil {
		return s, err
	}
	if s.Version, err = r.readInt(); err != nil {
		return s, err
	}
	if s.Cversion, err = r.readInt(); err != nil {
		return s, err
	}
	if s.Aversion, err = r.readInt(); err != nil {
		return s, err
	}
	if s.EphemeralOwner, err = r.readLong(); err != nil {
		return s, err
	}
	if s.DataLength, err = r.readInt(); err != nil {
		return s, err
	}
	if s.NumChildren, err = r.readInt(); err != nil {
		return s, err
	}
	if s.Pzxid, err = r.readLong(); err != nil {
		return s, err
	}
	return s, nil
}

// frameLengthSize is the size of the length prefix every jute frame carries on the wire in
// both directions: len:u32 || payload, length excluding itself (spec.md §4.1).
const frameLengthSize = 4

func encodeFrame(payload []byte) []byte {
	frame := make([]byte, frameLengthSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[frameLengthSize:], payload)
	return frame
}
