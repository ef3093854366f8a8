// SPDX-License-Identifier: AGPL-3.0-only

// Package clef transforms a parsed GELF envelope into a CLEF event
// (C7), applying the envelope/payload field precedence rules of
// spec.md §4.7. It is grounded on
// original_source/sqelf/src/process/mod.rs's to_clef, adapted to a
// flat property map since this implementation carries no Docker/GELF
// sub-struct grouping requirement.
package clef

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/amr8t/gelfgate/internal/gelf"
)

// Event is a CLEF event: a flat, string-keyed JSON object where
// built-in fields use "@"-prefixed keys. It is deliberately a map
// rather than a struct, since both the embedded-payload base and the
// envelope-derived overlay operate on arbitrary property sets.
type Event map[string]json.RawMessage

func newEvent() Event {
	return make(Event)
}

func (e Event) has(key string) bool {
	_, ok := e[key]
	return ok
}

func stringValue(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func quoteString(s string) json.RawMessage {
	// encoding/json can't fail marshaling a string.
	b, _ := json.Marshal(s)
	return json.RawMessage(b)
}

// override sets key to value, preserving any previous value at key
// under a "__"-prefixed name. Only one level of shadowing is defined:
// a third write to the same key overwrites the "__" slot.
func (e Event) override(key string, value json.RawMessage) {
	if old, ok := e[key]; ok {
		e["__"+key] = old
	}
	e[key] = value
}

// levelName maps a GELF numeric Syslog severity (defaulting to 6,
// "info") to its CLEF level name.
func levelName(level uint8, has bool) string {
	if !has {
		level = 6
	}
	switch level {
	case 0:
		return "emerg"
	case 1:
		return "alert"
	case 2:
		return "crit"
	case 3:
		return "err"
	case 4:
		return "warning"
	case 5:
		return "notice"
	case 6:
		return "info"
	default:
		// 7, and anything >= 8 per spec.md §4.7 step 2.
		return "debug"
	}
}

// FormatTimestamp renders t as RFC 3339 with fixed nanosecond
// precision, matching spec.md §3's "emitted as RFC 3339 with
// nanosecond precision" regardless of how many significant digits the
// source timestamp actually carried.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}

// decimalToTime converts a GELF decimal-seconds timestamp token into
// an instant, clamping negative inputs to the epoch. It parses the
// integer and fractional parts of the token directly rather than
// going through float64: a float64 only carries about 15-17
// significant decimal digits, which is not enough to keep a 10-digit
// Unix-seconds value and a nanosecond-scale fraction both exact (the
// same reason original_source/sqelf/src/process/gelf.rs types this
// field as rust_decimal::Decimal instead of a float).
func decimalToTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "-") {
		return time.Unix(0, 0).UTC()
	}

	intPart, fracPart := raw, ""
	if dot := strings.IndexByte(raw, '.'); dot >= 0 {
		intPart, fracPart = raw[:dot], raw[dot+1:]
	}

	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		whole = 0
	}

	switch {
	case len(fracPart) < 9:
		fracPart += strings.Repeat("0", 9-len(fracPart))
	case len(fracPart) > 9:
		fracPart = fracPart[:9]
	}

	nanos, err := strconv.ParseInt(fracPart, 10, 64)
	if err != nil {
		nanos = 0
	}

	return time.Unix(whole, nanos).UTC()
}

// maybeEmbedded attempts to parse msg as a CLEF-shaped JSON object.
// Per spec.md §9's open question, only object JSON is accepted — a
// short_message that parses as a non-object JSON value (e.g. an
// array) is treated as a literal string, consistent with the
// original's object-only parse attempt.
func maybeEmbedded(msg string) (Event, bool) {
	if len(msg) == 0 || msg[0] != '{' {
		return nil, false
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(msg), &m); err != nil {
		return nil, false
	}

	return Event(m), true
}

// Transform converts a GELF envelope into a CLEF event, following the
// seven-step algorithm of spec.md §4.7. Callers that want the
// optional raw-payload property (step 7) must have already added a
// "raw_payload" entry to env.Additional before calling Transform.
func Transform(env *gelf.Envelope) Event {
	// Step 1 — embedded payload.
	base, ok := maybeEmbedded(env.ShortMessage)
	if !ok {
		base = newEvent()
		base["@m"] = quoteString(env.ShortMessage)
	}

	// Step 2 — level.
	if !base.has("@l") {
		base["@l"] = quoteString(levelName(env.Level, env.HasLevel))
	}

	// Step 3 — timestamp.
	if !base.has("@t") {
		var ts time.Time
		if env.HasTimestamp {
			ts = decimalToTime(env.Timestamp)
		} else {
			ts = time.Now()
		}
		base["@t"] = quoteString(FormatTimestamp(ts))
	}

	// Step 4 — exception.
	if !base.has("@x") {
		if env.HasFullMessage && env.FullMessage != env.ShortMessage {
			base["@x"] = quoteString(env.FullMessage)
		}
	}

	// Step 5 — property precedence, lowest to highest. The embedded
	// payload's own additional properties are already present in
	// base at the lowest tier; GELF user fields override those, and
	// GELF envelope built-ins override both.
	for k, v := range env.Additional {
		base.override(k, v)
	}

	if env.HasHost {
		base.override("host", quoteString(env.Host))
	}
	if env.HasFacility {
		base.override("facility", quoteString(env.Facility))
	}
	if env.HasFile {
		base.override("file", quoteString(env.File))
	}
	if env.HasLine {
		line, _ := json.Marshal(env.Line)
		base.override("line", json.RawMessage(line))
	}

	// Step 6 — message fallback. Only the first of "message"/"msg"
	// that exists is considered; a type mismatch there does not fall
	// through to the other key, matching find_first's short-circuit
	// in original_source/sqelf/src/process/mod.rs.
	if !base.has("@m") && !base.has("@mt") {
		for _, name := range []string{"message", "msg"} {
			raw, ok := base[name]
			if !ok {
				continue
			}
			if s, ok := stringValue(raw); ok {
				base["@m"] = quoteString(s)
			}
			break
		}
	}

	return base
}
