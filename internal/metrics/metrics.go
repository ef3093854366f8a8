// SPDX-License-Identifier: AGPL-3.0-only

// Package metrics holds the gateway's process-wide monotonic counters
// and a background emitter that periodically summarizes and resets
// them, mirroring original_source/sqelf/src/diagnostics.rs's
// metrics!/increment! macros.
package metrics

import (
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Receive counters, incremented by the UDP reassembler.
type Receive struct {
	Chunk                  atomic.Int64
	MsgChunked             atomic.Int64
	MsgUnchunked           atomic.Int64
	OverflowIncompleteChunks atomic.Int64
}

// Process counters, incremented by the message processor
// (internal/process) once per message it is handed.
type Process struct {
	Msg atomic.Int64
}

// Server counters, incremented by the pipeline driver and TCP transport.
type Server struct {
	ReceiveOK     atomic.Int64
	ReceiveErr    atomic.Int64
	ProcessOK     atomic.Int64
	ProcessErr    atomic.Int64
	TCPConnAccept atomic.Int64
	TCPConnClose  atomic.Int64
	TCPConnTimeout atomic.Int64
	TCPMsgOverflow atomic.Int64
}

// Registry is the fixed set of counters shared across the pipeline.
// All fields are safe for concurrent use from any goroutine.
type Registry struct {
	Receive Receive
	Process Process
	Server  Server
}

// New builds a zeroed Registry.
func New() *Registry {
	return &Registry{}
}

type snapshot struct {
	Receive map[string]int64 `json:"receive"`
	Process map[string]int64 `json:"process"`
	Server  map[string]int64 `json:"server"`
}

// take atomically swaps every counter to zero and returns the deltas
// collected since the previous call.
func (r *Registry) take() snapshot {
	return snapshot{
		Receive: map[string]int64{
			"chunk":                    r.Receive.Chunk.Swap(0),
			"msg_chunked":              r.Receive.MsgChunked.Swap(0),
			"msg_unchunked":            r.Receive.MsgUnchunked.Swap(0),
			"overflow_incomplete_chunks": r.Receive.OverflowIncompleteChunks.Swap(0),
		},
		Process: map[string]int64{
			"msg": r.Process.Msg.Swap(0),
		},
		Server: map[string]int64{
			"receive_ok":       r.Server.ReceiveOK.Swap(0),
			"receive_err":      r.Server.ReceiveErr.Swap(0),
			"process_ok":       r.Server.ProcessOK.Swap(0),
			"process_err":      r.Server.ProcessErr.Swap(0),
			"tcp_conn_accept":  r.Server.TCPConnAccept.Swap(0),
			"tcp_conn_close":   r.Server.TCPConnClose.Swap(0),
			"tcp_conn_timeout": r.Server.TCPConnTimeout.Swap(0),
			"tcp_msg_overflow": r.Server.TCPMsgOverflow.Swap(0),
		},
	}
}

// Emitter periodically logs a diagnostic summary of the registry and
// resets it. It runs on its own goroutine, independent of the main
// event loop, matching the original's dedicated metrics thread.
type Emitter struct {
	registry *Registry
	log      *zap.Logger
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewEmitter constructs an Emitter. Call Start to begin the
// background loop and Stop to join it.
func NewEmitter(registry *Registry, log *zap.Logger, interval time.Duration) *Emitter {
	return &Emitter{
		registry: registry,
		log:      log,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background emission loop.
func (e *Emitter) Start() {
	go e.run()
}

func (e *Emitter) run() {
	defer close(e.done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snap := e.registry.take()
			e.log.Debug("collected GELF server metrics",
				zap.Any("receive", snap.Receive),
				zap.Any("process", snap.Process),
				zap.Any("server", snap.Server),
			)
		case <-e.stop:
			return
		}
	}
}

// Stop signals the background loop to exit and waits for it to do so.
func (e *Emitter) Stop() {
	close(e.stop)
	<-e.done
}
