// SPDX-License-Identifier: AGPL-3.0-only

// Package gelf deserializes GELF 1.x envelopes (C6), grounded on
// original_source/sqelf/src/process/gelf.rs's Message<TString,
// TMessage> struct and endeveit-go-gelf's Reader.readToMap field
// mapping.
package gelf

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/amr8t/gelfgate/internal/ierror"
)

// Envelope is the deserialized form of a GELF message. Required:
// ShortMessage. Everything else is optional. Fields whose JSON name
// begins with an underscore are collected into Additional with the
// underscore stripped, per spec.md §3.
type Envelope struct {
	Version        string
	Host           string
	HasHost        bool
	ShortMessage   string
	FullMessage    string
	HasFullMessage bool
	// Timestamp is the exact decimal token as it appeared on the
	// wire (e.g. "1385053862.3072"), not a float64: a GELF timestamp
	// carries more significant decimal digits than float64 can round
	// trip, so it is kept as text and parsed digit-by-digit by
	// internal/clef's decimalToTime.
	Timestamp    string
	HasTimestamp bool
	Level        uint8
	HasLevel     bool
	Facility     string
	HasFacility  bool
	File         string
	HasFile      bool
	Line         uint32
	HasLine      bool

	// Additional holds every other field, keyed without a leading
	// underscore when one was present on the wire.
	Additional map[string]json.RawMessage
}

// wireEnvelope mirrors the JSON shape directly; Envelope above is the
// friendlier public type built from it. Timestamp is json.Number
// rather than float64 so its original decimal digits survive
// unrounded.
type wireEnvelope struct {
	Version      *string      `json:"version"`
	Host         *string      `json:"host"`
	ShortMessage *string      `json:"short_message"`
	FullMessage  *string      `json:"full_message"`
	Timestamp    *json.Number `json:"timestamp"`
	Level        *uint8       `json:"level"`
	Facility     *string      `json:"facility"`
	File         *string      `json:"file"`
	Line         *uint32      `json:"line"`
}

// Parse deserializes a byte buffer directly. This is the "borrowed"
// fast path used when the message is a single uncompressed chunk and
// the raw bytes are available without going through a streaming
// reader: encoding/json still copies string contents into Go strings
// (the runtime has no public zero-copy string decode API), but this
// path avoids the intermediate io.Reader and its buffering.
//
// includeRawPayload gates whether a JSON parse failure's error
// message includes the offending bytes, matching spec.md's error
// table: raw bytes are only surfaced when raw-payload mode is on.
func Parse(buf []byte, includeRawPayload bool) (*Envelope, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(buf, &raw); err != nil {
		return nil, parseError(err, buf, includeRawPayload)
	}

	var wire wireEnvelope
	if err := json.Unmarshal(buf, &wire); err != nil {
		return nil, parseError(err, buf, includeRawPayload)
	}

	if wire.ShortMessage == nil {
		return nil, ierror.New("GELF envelope is missing required field short_message")
	}

	env := &Envelope{ShortMessage: *wire.ShortMessage}

	if wire.Version != nil {
		env.Version = *wire.Version
	}
	if wire.Host != nil {
		env.Host, env.HasHost = *wire.Host, true
	}
	if wire.FullMessage != nil {
		env.FullMessage, env.HasFullMessage = *wire.FullMessage, true
	}
	if wire.Timestamp != nil {
		env.Timestamp, env.HasTimestamp = wire.Timestamp.String(), true
	}
	if wire.Level != nil {
		env.Level, env.HasLevel = *wire.Level, true
	}
	if wire.Facility != nil {
		env.Facility, env.HasFacility = *wire.Facility, true
	}
	if wire.File != nil {
		env.File, env.HasFile = *wire.File, true
	}
	if wire.Line != nil {
		env.Line, env.HasLine = *wire.Line, true
	}

	env.Additional = make(map[string]json.RawMessage)
	for k, v := range raw {
		switch k {
		case "version", "host", "short_message", "full_message", "timestamp", "level", "facility", "file", "line":
			continue
		}
		key := strings.TrimPrefix(k, "_")
		env.Additional[key] = v
	}

	return env, nil
}

func parseError(err error, buf []byte, includeRawPayload bool) error {
	if includeRawPayload {
		return ierror.Wrap(err, "could not parse GELF from: %q", string(buf))
	}
	return ierror.Wrap(err, "could not parse GELF message")
}

// ParseReader deserializes a GELF envelope from a streaming reader —
// the path used for chunked and/or compressed messages, where the
// bytes only exist as a stream of decompressed output rather than a
// single borrowable buffer.
func ParseReader(r io.Reader, includeRawPayload bool) (*Envelope, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, ierror.Wrap(err, "failed to read GELF message body")
	}
	return Parse(body, includeRawPayload)
}
