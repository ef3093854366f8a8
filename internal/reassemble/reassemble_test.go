// SPDX-License-Identifier: AGPL-3.0-only

package reassemble

import (
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/amr8t/gelfgate/internal/metrics"
)

func chunk(id uint64, seq, total uint8, payload string) []byte {
	buf := make([]byte, chunkHeaderSize+len(payload))
	buf[0], buf[1] = magicByte0, magicByte1
	binary.BigEndian.PutUint64(buf[2:10], id)
	buf[10] = seq
	buf[11] = total
	copy(buf[chunkHeaderSize:], payload)
	return buf
}

func newTestReassembler(cfg Config) (*Reassembler, *metrics.Registry) {
	reg := metrics.New()
	re := New(cfg, &reg.Receive)
	return re, reg
}

func readAll(t *testing.T, r interface {
	Reader() (io.Reader, error)
}) string {
	t.Helper()
	rd, err := r.Reader()
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}
	buf, err := io.ReadAll(rd)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return string(buf)
}

func TestDecodeUnchunkedDatagram(t *testing.T) {
	re, _ := newTestReassembler(DefaultConfig())

	msg, err := re.Decode([]byte("plain GELF payload"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg == nil {
		t.Fatal("expected an immediate message for an unchunked datagram")
	}
	if got := readAll(t, msg); got != "plain GELF payload" {
		t.Fatalf("content = %q", got)
	}
}

func TestDecodeEmptyDatagramYieldsNothing(t *testing.T) {
	re, _ := newTestReassembler(DefaultConfig())

	msg, err := re.Decode(nil)
	if msg != nil || err != nil {
		t.Fatalf("Decode(nil) = (%v, %v), want (nil, nil)", msg, err)
	}
}

func TestDecodeSingleChunkMessage(t *testing.T) {
	re, _ := newTestReassembler(DefaultConfig())

	msg, err := re.Decode(chunk(1, 0, 1, "solo chunk"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg == nil {
		t.Fatal("a chunk header declaring seqCount 1 should complete immediately")
	}
	if got := readAll(t, msg); got != "solo chunk" {
		t.Fatalf("content = %q", got)
	}
}

func TestDecodeReassemblesOutOfOrderChunks(t *testing.T) {
	re, _ := newTestReassembler(DefaultConfig())

	if msg, err := re.Decode(chunk(42, 1, 3, "B")); msg != nil || err != nil {
		t.Fatalf("first chunk should not complete: (%v, %v)", msg, err)
	}
	if msg, err := re.Decode(chunk(42, 0, 3, "A")); msg != nil || err != nil {
		t.Fatalf("second chunk should not complete: (%v, %v)", msg, err)
	}

	msg, err := re.Decode(chunk(42, 2, 3, "C"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg == nil {
		t.Fatal("the final chunk should complete the message")
	}
	if got := readAll(t, msg); got != "ABC" {
		t.Fatalf("content = %q, want ABC", got)
	}
}

func TestDecodeDuplicateSeqNumOverwrites(t *testing.T) {
	re, _ := newTestReassembler(DefaultConfig())

	re.Decode(chunk(7, 0, 2, "first"))
	re.Decode(chunk(7, 0, 2, "second"))
	msg, err := re.Decode(chunk(7, 1, 2, "-tail"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := readAll(t, msg); got != "second-tail" {
		t.Fatalf("content = %q, want the later duplicate to win", got)
	}
}

func TestDecodeRejectsOversizedChunkCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxChunksPerMessage = 4
	re, _ := newTestReassembler(cfg)

	_, err := re.Decode(chunk(9, 0, 5, "x"))
	if err == nil {
		t.Fatal("expected an error when seqCount exceeds MaxChunksPerMessage")
	}
}

func TestDecodeRejectsInconsistentSeqCount(t *testing.T) {
	re, _ := newTestReassembler(DefaultConfig())

	re.Decode(chunk(5, 0, 3, "a"))
	_, err := re.Decode(chunk(5, 1, 4, "b"))
	if err == nil {
		t.Fatal("expected an error when a later chunk disagrees on seqCount")
	}
}

func TestGCFlushesAtCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IncompleteCapacity = 1
	re, reg := newTestReassembler(cfg)

	re.Decode(chunk(1, 0, 2, "a"))
	re.Decode(chunk(2, 0, 2, "b"))

	if len(re.byID) != 1 {
		t.Fatalf("byID len = %d, want 1 after a capacity flush drops the old table and inserts the new entry", len(re.byID))
	}
	if reg.Receive.OverflowIncompleteChunks.Load() != 1 {
		t.Fatalf("overflow counter = %d, want 1", reg.Receive.OverflowIncompleteChunks.Load())
	}
}

func TestGCExpiresOldEntries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IncompleteTimeout = time.Millisecond
	re, _ := newTestReassembler(cfg)

	now := time.Now()
	re.now = func() time.Time { return now }
	re.Decode(chunk(1, 0, 2, "a"))

	re.now = func() time.Time { return now.Add(time.Second) }
	re.Decode(chunk(2, 0, 2, "b"))

	if _, ok := re.byID[1]; ok {
		t.Fatal("expired entry should have been swept by gc")
	}
}
