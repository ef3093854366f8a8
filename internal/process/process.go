// SPDX-License-Identifier: AGPL-3.0-only

// Package process wires the message reader, GELF parser, and CLEF
// transformer into the pipeline driver's process_fn, grounded on
// original_source/sqelf/src/process/mod.rs's Process.with_clef (the
// borrowed-vs-owned split and the raw_payload injection point).
package process

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"sync"

	"go.uber.org/atomic"

	"github.com/amr8t/gelfgate/internal/clef"
	"github.com/amr8t/gelfgate/internal/gelf"
	"github.com/amr8t/gelfgate/internal/ierror"
	"github.com/amr8t/gelfgate/internal/message"
)

// Processor turns a decoded message.Raw into a line of CLEF JSON on
// an output stream. It is safe for concurrent use: writes are
// serialized, matching §5's "synchronous and blocking" stdout write.
type Processor struct {
	out               *bufio.Writer
	mu                sync.Mutex
	includeRawPayload bool
	msgCounter        *atomic.Int64
}

// New builds a Processor writing to w (typically os.Stdout).
// msgCounter, if non-nil, is incremented once per processed message,
// backing C9's process.msg counter.
func New(w io.Writer, includeRawPayload bool, msgCounter *atomic.Int64) *Processor {
	return &Processor{
		out:               bufio.NewWriter(w),
		includeRawPayload: includeRawPayload,
		msgCounter:        msgCounter,
	}
}

// NewStdout builds a Processor over os.Stdout.
func NewStdout(includeRawPayload bool, msgCounter *atomic.Int64) *Processor {
	return New(os.Stdout, includeRawPayload, msgCounter)
}

// Process implements pipeline.Process: it reads msg's body (borrowing
// the bytes when possible), parses it as GELF, optionally injects the
// raw_payload additional property, transforms it to a CLEF event, and
// writes one UTF-8 JSON line terminated by '\n'.
func (p *Processor) Process(msg *message.Raw) error {
	if p.msgCounter != nil {
		p.msgCounter.Inc()
	}

	if buf, ok := msg.Bytes(); ok {
		return p.processBytes(buf)
	}

	r, err := msg.Reader()
	if err != nil {
		return err
	}
	buf, err := io.ReadAll(r)
	if err != nil {
		return ierror.Wrap(err, "failed to read GELF message body")
	}
	return p.processBytes(buf)
}

func (p *Processor) processBytes(buf []byte) error {
	env, err := gelf.Parse(buf, p.includeRawPayload)
	if err != nil {
		return err
	}

	if p.includeRawPayload {
		raw, _ := json.Marshal(string(buf))
		if env.Additional == nil {
			env.Additional = make(map[string]json.RawMessage)
		}
		if _, exists := env.Additional["raw_payload"]; !exists {
			env.Additional["raw_payload"] = raw
		}
	}

	event := clef.Transform(env)
	line, err := json.Marshal(event)
	if err != nil {
		return ierror.Wrap(err, "failed to marshal CLEF event")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.out.Write(line); err != nil {
		return ierror.Wrap(err, "failed to write CLEF event")
	}
	if err := p.out.WriteByte('\n'); err != nil {
		return ierror.Wrap(err, "failed to write CLEF event")
	}
	return p.out.Flush()
}
