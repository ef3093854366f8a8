// SPDX-License-Identifier: AGPL-3.0-only

package process

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/atomic"

	"github.com/amr8t/gelfgate/internal/message"
)

func TestProcessWritesOneCLEFLine(t *testing.T) {
	var out bytes.Buffer
	var counter atomic.Int64
	p := New(&out, false, &counter)

	err := p.Process(message.Single([]byte(`{"short_message":"hi","host":"box"}`)))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if counter.Load() != 1 {
		t.Fatalf("msgCounter = %d, want 1", counter.Load())
	}

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) != 1 {
		t.Fatalf("wrote %d lines, want 1: %q", len(lines), out.String())
	}

	var event map[string]json.RawMessage
	if err := json.Unmarshal([]byte(lines[0]), &event); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if string(event["@m"]) != `"hi"` {
		t.Fatalf("@m = %s", event["@m"])
	}
	if string(event["host"]) != `"box"` {
		t.Fatalf("host = %s", event["host"])
	}
	if _, ok := event["raw_payload"]; ok {
		t.Fatal("raw_payload should be absent when IncludeRawPayload is false")
	}
}

func TestProcessInjectsRawPayloadWhenEnabled(t *testing.T) {
	var out bytes.Buffer
	p := New(&out, true, nil)

	body := `{"short_message":"hi"}`
	if err := p.Process(message.Single([]byte(body))); err != nil {
		t.Fatalf("Process: %v", err)
	}

	var event map[string]json.RawMessage
	json.Unmarshal(out.Bytes(), &event)

	var gotRaw string
	if err := json.Unmarshal(event["raw_payload"], &gotRaw); err != nil {
		t.Fatalf("raw_payload is not a JSON string: %v", err)
	}
	if gotRaw != body {
		t.Fatalf("raw_payload = %q, want %q", gotRaw, body)
	}
}

func TestProcessDoesNotOverwriteExistingRawPayloadField(t *testing.T) {
	var out bytes.Buffer
	p := New(&out, true, nil)

	body := `{"short_message":"hi","_raw_payload":"already set"}`
	if err := p.Process(message.Single([]byte(body))); err != nil {
		t.Fatalf("Process: %v", err)
	}

	var event map[string]json.RawMessage
	json.Unmarshal(out.Bytes(), &event)

	var gotRaw string
	json.Unmarshal(event["raw_payload"], &gotRaw)
	if gotRaw != "already set" {
		t.Fatalf("raw_payload = %q, want the pre-existing value preserved", gotRaw)
	}
}

func TestProcessRejectsInvalidGELF(t *testing.T) {
	var out bytes.Buffer
	p := New(&out, false, nil)

	if err := p.Process(message.Single([]byte(`{}`))); err == nil {
		t.Fatal("expected an error for a GELF envelope missing short_message")
	}
}
