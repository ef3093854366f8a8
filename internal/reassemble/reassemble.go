// SPDX-License-Identifier: AGPL-3.0-only

// Package reassemble reconstructs fragmented UDP GELF messages under
// bounded capacity and deadline pressure (C3), grounded on
// original_source/sqelf/src/receive.rs's Gelf/ById/ByArrival/gc/push.
package reassemble

import (
	"encoding/binary"
	"time"

	"github.com/amr8t/gelfgate/internal/ierror"
	"github.com/amr8t/gelfgate/internal/message"
	"github.com/amr8t/gelfgate/internal/metrics"
)

const (
	chunkHeaderSize = 12
	magicByte0      = 0x1e
	magicByte1      = 0x0f
)

// Config tunes the reassembler's capacity and timeout behavior.
type Config struct {
	// IncompleteCapacity is the maximum number of distinct partial
	// messages the table may hold before a full flush.
	IncompleteCapacity int
	// MaxChunksPerMessage is the rejection threshold on a message's
	// declared chunk count.
	MaxChunksPerMessage uint8
	// IncompleteTimeout is the deadline from first-chunk arrival to
	// completion.
	IncompleteTimeout time.Duration
}

// DefaultConfig matches the original's defaults: 1024 incomplete
// messages, 128 chunks per message, a 5 second reassembly window.
func DefaultConfig() Config {
	return Config{
		IncompleteCapacity:  1024,
		MaxChunksPerMessage: 128,
		IncompleteTimeout:   5 * time.Second,
	}
}

// arrivalKey is (monotonic instant, tiebreak counter) so that two
// chunks arriving in the same instant still receive distinct index
// keys, per spec.md §4.3's "Arrival uniqueness".
type arrivalKey struct {
	at      time.Time
	counter uint64
}

func (k arrivalKey) before(other arrivalKey) bool {
	if k.at.Equal(other.at) {
		return k.counter < other.counter
	}
	return k.at.Before(other.at)
}

type partial struct {
	expectedTotal uint8
	chunks        map[uint8][]byte
	arrival       arrivalKey
}

func (p *partial) isComplete() bool {
	return len(p.chunks) == int(p.expectedTotal)
}

func (p *partial) ordered() [][]byte {
	out := make([][]byte, p.expectedTotal)
	for seq, buf := range p.chunks {
		out[seq] = buf
	}
	return out
}

// Reassembler holds the in-flight chunk table. It is owned exclusively
// by a single goroutine (the transport's receive loop); no internal
// locking is performed, matching §5's single-writer invariant.
type Reassembler struct {
	config  Config
	metrics *metrics.Receive

	byID      map[uint64]*partial
	byArrival map[arrivalKey]uint64
	counter   uint64

	now func() time.Time
}

// New builds a Reassembler with the given config. A nil metrics
// registry is not permitted; callers should pass &metrics.New().Receive.
func New(config Config, m *metrics.Receive) *Reassembler {
	return &Reassembler{
		config:    config,
		metrics:   m,
		byID:      make(map[uint64]*partial),
		byArrival: make(map[arrivalKey]uint64),
		now:       time.Now,
	}
}

type chunkHeader struct {
	id       uint64
	seqNum   uint8
	seqCount uint8
}

func peekMagic(buf []byte) bool {
	return len(buf) >= 2 && buf[0] == magicByte0 && buf[1] == magicByte1
}

func parseChunkHeader(buf []byte) (chunkHeader, []byte, error) {
	if len(buf) < chunkHeaderSize {
		return chunkHeader{}, nil, ierror.New("buffer is too small to contain a valid chunk header")
	}

	id := binary.BigEndian.Uint64(buf[2:10])
	seqNum := buf[10]
	seqCount := buf[11]

	if seqNum >= seqCount {
		return chunkHeader{}, nil, ierror.New("expected %d chunks but got %d", seqCount, seqNum)
	}

	return chunkHeader{id: id, seqNum: seqNum, seqCount: seqCount}, buf[chunkHeaderSize:], nil
}

// Decode processes one datagram. It returns a complete *message.Raw
// when the datagram completes a message (single-chunk, or the final
// fragment of a chunked one); a nil Raw with a nil error means the
// datagram was accepted as a partial chunk and no message is ready
// yet. Zero-length datagrams yield (nil, nil).
func (re *Reassembler) Decode(buf []byte) (*message.Raw, error) {
	if len(buf) == 0 {
		return nil, nil
	}

	if !peekMagic(buf) {
		re.metrics.MsgUnchunked.Inc()
		return message.Single(buf), nil
	}

	re.metrics.Chunk.Inc()
	return re.decodeChunked(buf)
}

func (re *Reassembler) decodeChunked(buf []byte) (*message.Raw, error) {
	header, payload, err := parseChunkHeader(buf)
	if err != nil {
		return nil, err
	}

	if header.seqNum == 0 && header.seqCount == 1 {
		return message.Single(payload), nil
	}

	if header.seqCount > re.config.MaxChunksPerMessage {
		return nil, ierror.New("message expects %d chunks but the max allowed is %d", header.seqCount, re.config.MaxChunksPerMessage)
	}

	re.gc()

	return re.push(header, payload)
}

// gc runs before every insertion: a full-capacity flush takes priority
// over selective eviction (the capacity signal is treated as strong
// enough to warrant dropping everything), then expired entries are
// swept. Deadlines never reset on subsequent chunk arrivals.
func (re *Reassembler) gc() {
	if len(re.byID) >= re.config.IncompleteCapacity {
		re.metrics.OverflowIncompleteChunks.Inc()
		re.byID = make(map[uint64]*partial)
		re.byArrival = make(map[arrivalKey]uint64)
	}

	deadline := re.now().Add(-re.config.IncompleteTimeout)

	for key, id := range re.byArrival {
		if key.at.Before(deadline) {
			delete(re.byID, id)
			delete(re.byArrival, key)
		}
	}
}

func (re *Reassembler) nextArrival() arrivalKey {
	k := arrivalKey{at: re.now(), counter: re.counter}
	re.counter++
	return k
}

func (re *Reassembler) push(header chunkHeader, payload []byte) (*message.Raw, error) {
	existing, ok := re.byID[header.id]
	if !ok {
		p := &partial{
			expectedTotal: header.seqCount,
			chunks:        map[uint8][]byte{header.seqNum: payload},
			arrival:       re.nextArrival(),
		}
		re.byID[header.id] = p
		re.byArrival[p.arrival] = header.id
		return nil, nil
	}

	if existing.expectedTotal != header.seqCount {
		return nil, ierror.New("chunk expected total %d is not consistent with previous value %d", header.seqCount, existing.expectedTotal)
	}

	// Duplicate sequence numbers overwrite (last-writer-wins) and do
	// not restart the deadline.
	existing.chunks[header.seqNum] = payload

	if !existing.isComplete() {
		return nil, nil
	}

	delete(re.byID, header.id)
	delete(re.byArrival, existing.arrival)

	re.metrics.MsgChunked.Inc()
	return message.Chunked(existing.ordered()), nil
}
