// SPDX-License-Identifier: AGPL-3.0-only

// Package message implements the unified byte-stream view over
// single-chunk and multi-chunk, optionally-compressed GELF payloads
// (C2 in the component design), grounded on
// original_source/sqelf/src/receive.rs's MemRead/Message/Reader types
// and the io.rs MemRead trait.
package message

import (
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"

	"github.com/amr8t/gelfgate/internal/compress"
	"github.com/amr8t/gelfgate/internal/ierror"
)

// Raw is the unit handed from transport to decoder: either a single
// contiguous buffer with a known compression tag, or an ordered,
// dense sequence of chunk payloads whose compression is only knowable
// once the first bytes of the first chunk are inspected.
type Raw struct {
	single      []byte
	chunks      [][]byte
	compression compress.Kind
	chunked     bool
}

// Single builds a Raw from one contiguous buffer. Compression is
// detected immediately from its first two bytes.
func Single(buf []byte) *Raw {
	return &Raw{
		single:      buf,
		compression: compress.Detect(buf),
	}
}

// Chunked builds a Raw from an ordered sequence of chunk payloads.
// Compression is detected from the first chunk's leading bytes; an
// empty chunk list yields Kind None.
func Chunked(chunks [][]byte) *Raw {
	r := &Raw{chunks: chunks, chunked: true}
	if len(chunks) > 0 {
		r.compression = compress.Detect(chunks[0])
	}
	return r
}

// Compression reports the payload's detected compression envelope.
func (r *Raw) Compression() compress.Kind {
	return r.compression
}

// Bytes returns a direct borrow of the underlying bytes iff the
// message is single-chunk and uncompressed. Otherwise it returns
// (nil, false), and the caller must fall back to Reader.
func (r *Raw) Bytes() ([]byte, bool) {
	if !r.chunked && r.compression == compress.None {
		return r.single, true
	}
	return nil, false
}

// Reader returns a streaming byte reader over the message body,
// transparently concatenating chunks and decompressing gzip/zlib
// payloads. Bytes() and Reader() always yield byte-identical content
// for the same message.
func (r *Raw) Reader() (io.Reader, error) {
	body := &chunkReader{single: r.single, chunks: r.chunks, chunked: r.chunked}

	switch r.compression {
	case compress.Gzip:
		gz, err := gzip.NewReader(body)
		if err != nil {
			return nil, ierror.Wrap(err, "failed to open gzip stream")
		}
		return gz, nil
	case compress.Zlib:
		zl, err := zlib.NewReader(body)
		if err != nil {
			return nil, ierror.Wrap(err, "failed to open zlib stream")
		}
		return zl, nil
	default:
		return body, nil
	}
}

// chunkReader concatenates a single buffer or an ordered sequence of
// chunk payloads into one logical byte stream, advancing across chunk
// boundaries transparently.
type chunkReader struct {
	single  []byte
	chunks  [][]byte
	chunked bool

	cursor int // read offset into the current buffer (single, or chunks[idx])
	idx    int // current chunk index, when chunked
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if !c.chunked {
		readable := c.single[c.cursor:]
		if len(readable) == 0 {
			return 0, io.EOF
		}
		n := copy(p, readable)
		c.cursor += n
		return n, nil
	}

	total := 0
	for len(p) > 0 {
		if c.idx >= len(c.chunks) {
			break
		}

		readable := c.chunks[c.idx][c.cursor:]
		n := copy(p, readable)
		total += n
		p = p[n:]

		if n == len(readable) {
			c.idx++
			c.cursor = 0
		} else {
			c.cursor += n
		}
	}

	if total == 0 {
		return 0, io.EOF
	}
	return total, nil
}
