package zk

import (
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	w := newWriter()
	w.writeInt(-42)
	w.writeLong(1234567890123)
	w.writeBool(true)
	w.writeBuffer([]byte("hello"))
	w.writeBuffer(nil)
	w.writeString("/a/b")
	w.writeStringVector([]string{"x", "y", "z"})
	w.writeACLVector(WorldACL(PermAll))
	st := Stat{Czxid: 1, Mzxid: 2, Version: 3, DataLength: 5}
	w.writeStat(st)

	r := newReader(w.bytes())
	if v, err := r.readInt(); err != nil || v != -42 {
		t.Fatalf("readInt: %v, %v", v, err)
	}
	if v, err := r.readLong(); err != nil || v != 1234567890123 {
		t.Fatalf("readLong: %v, %v", v, err)
	}
	if v, err := r.readBool(); err != nil || v != true {
		t.Fatalf("readBool: %v, %v", v, err)
	}
	if b, err := r.readBuffer(); err != nil || string(b) != "hello" {
		t.Fatalf("readBuffer: %v, %v", b, err)
	}
	if b, err := r.readBuffer(); err != nil || b != nil {
		t.Fatalf("readBuffer nil: %v, %v", b, err)
	}
	if s, err := r.readString(); err != nil || s != "/a/b" {
		t.Fatalf("readString: %v, %v", s, err)
	}
	if v, err := r.readStringVector(); err != nil || len(v) != 3 || v[1] != "y" {
		t.Fatalf("readStringVector: %v, %v", v, err)
	}
	if acl, err := r.readACLVector(); err != nil || len(acl) != 1 || acl[0].Scheme != "world" {
		t.Fatalf("readACLVector: %v, %v", acl, err)
	}
	got, err := r.readStat()
	if err != nil || got != st {
		t.Fatalf("readStat: %v, %v", got, err)
	}
	if r.remaining() != 0 {
		t.Fatalf("expected reader to be exhausted, %d bytes left", r.remaining())
	}
}

func TestReaderTruncatedFrame(t *testing.T) {
	r := newReader([]byte{0, 0, 0})
	if _, err := r.readInt(); err == nil {
		t.Fatal("expected protocol error reading int from a truncated frame")
	}
}

func TestEncodeFrame(t *testing.T) {
	payload := []byte("abc")
	frame := encodeFrame(payload)
	if len(frame) != frameLengthSize+len(payload) {
		t.Fatalf("unexpected frame length %d", len(frame))
	}
	n := int32(frame[0])<<24 | int32(frame[1])<<16 | int32(frame[2])<<8 | int32(frame[3])
	if int(n) != len(payload) {
		t.Fatalf("length prefix %d does not match payload length %d", n, len(payload))
	}
}
