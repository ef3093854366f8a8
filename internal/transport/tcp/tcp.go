// SPDX-License-Identifier: AGPL-3.0-only

// Package tcp implements the NUL-delimited framing transport (C5),
// grounded on original_source/sqelf/src/server/tcp.rs's Decode and
// TimeoutStream, and on the teacher's handleGELFConnection in
// cmd/ingestor/gelf.go for the accept-loop shape.
package tcp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/amr8t/gelfgate/internal/diagnostics"
	"github.com/amr8t/gelfgate/internal/ierror"
	"github.com/amr8t/gelfgate/internal/metrics"
)

// Config tunes the TCP transport's framing limits, connection
// lifetime, and pool size.
type Config struct {
	// KeepAlive bounds the time between successfully framed messages
	// before a connection is closed. Resets after every emitted
	// frame.
	KeepAlive time.Duration
	// MaxSizeBytes is the largest frame (excluding its NUL
	// terminator) accepted; larger frames are discarded up to and
	// including their terminator.
	MaxSizeBytes int
	// MaxConnections bounds concurrently handled connections; new
	// connections wait for a free slot.
	MaxConnections int
	// TLS, when non-nil, wraps every accepted connection in a TLS
	// session before framing begins.
	TLS *tls.Config
}

// DefaultConfig matches the original's defaults: a two minute
// keep-alive, a 1024-connection pool. MaxSizeBytes has no universal
// default in the original (it is operator-configured); callers should
// set it explicitly.
func DefaultConfig() Config {
	return Config{
		KeepAlive:      2 * time.Minute,
		MaxConnections: 1024,
	}
}

// Receive is invoked once per complete frame (the bytes between two
// NUL delimiters, or the final unterminated frame flushed on an
// orderly EOF). The buffer is only valid for the duration of the
// call.
type Receive func(buf []byte) error

// Server owns a bound TCP listener.
type Server struct {
	listener net.Listener
	cfg      Config
	metrics  *metrics.Server
	log      *zap.Logger
	slots    chan struct{}
}

// Bind opens the TCP listener at addr, wrapping it in TLS when
// cfg.TLS is set.
func Bind(addr string, cfg Config, m *metrics.Server, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, ierror.Wrap(err, "failed to bind TCP listener on %s", addr)
	}

	if cfg.TLS != nil {
		ln = tls.NewListener(ln, cfg.TLS)
	}

	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 1024
	}

	log.Debug("Setting up for TCP", zap.String("addr", addr), zap.Bool("tls", cfg.TLS != nil))

	return &Server{
		listener: ln,
		cfg:      cfg,
		metrics:  m,
		log:      log,
		slots:    make(chan struct{}, cfg.MaxConnections),
	}, nil
}

// Close releases the underlying listener.
func (s *Server) Close() error {
	return s.listener.Close()
}

// Run accepts connections until ctx is canceled or the listener is
// closed. An accept error terminates only that attempt, not the
// listener's loop.
func (s *Server) Run(ctx context.Context, receive Receive) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			s.log.Error("failed to accept TCP connection", diagnostics.ErrField(err))
			continue
		}

		go s.serve(ctx, conn, receive)
	}
}

// serve blocks acquiring a pool slot before handling conn, so that a
// connection accepted above the pool limit waits rather than being
// dropped.
func (s *Server) serve(ctx context.Context, conn net.Conn, receive Receive) {
	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		conn.Close()
		return
	}
	defer func() { <-s.slots }()

	s.handleConn(conn, receive)
}

type frameState struct {
	buf        []byte
	readHead   int
	discarding bool
}

func (s *Server) handleConn(conn net.Conn, receive Receive) {
	defer conn.Close()

	id := uuid.New().String()
	s.metrics.TCPConnAccept.Inc()
	s.log.Debug("tcp connection accepted", zap.String("conn_id", id))
	defer func() {
		s.metrics.TCPConnClose.Inc()
		s.log.Debug("tcp connection closed", zap.String("conn_id", id))
	}()

	st := &frameState{buf: make([]byte, 0, 4096)}
	readChunk := make([]byte, 4096)

	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.KeepAlive)); err != nil {
		return
	}

	for {
		n, err := conn.Read(readChunk)
		if n > 0 {
			st.buf = append(st.buf, readChunk[:n]...)
			s.drainFrames(st, conn, id, receive)
		}

		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				s.metrics.TCPConnTimeout.Inc()
				return
			}
			if errors.Is(err, io.EOF) {
				s.flushFinalFrame(st, id, receive)
			}
			return
		}
	}
}

// deadlineSetter is the narrow slice of net.Conn that drainFrames
// needs, kept separate so tests can exercise the state machine
// without a real socket.
type deadlineSetter interface {
	SetReadDeadline(time.Time) error
}

// drainFrames runs the Reading/Discarding state machine over st.buf
// until it needs more bytes from the socket.
func (s *Server) drainFrames(st *frameState, conn deadlineSetter, connID string, receive Receive) {
	for {
		readTo := s.cfg.MaxSizeBytes + 1
		if readTo > len(st.buf) {
			readTo = len(st.buf)
		}

		sep := bytes.IndexByte(st.buf[st.readHead:], 0)

		switch {
		case !st.discarding && sep >= 0:
			frameEnd := sep + st.readHead
			if frameEnd > s.cfg.MaxSizeBytes {
				s.metrics.TCPMsgOverflow.Inc()
				st.discarding = true
				continue
			}

			st.readHead = 0
			frame := st.buf[:frameEnd]
			if len(frame) > 0 {
				if err := receive(frame); err != nil {
					s.log.Error("failed to process TCP frame", diagnostics.ErrField(err), zap.String("conn_id", connID))
				}
			}
			st.buf = append([]byte(nil), st.buf[frameEnd+1:]...)

			if err := conn.SetReadDeadline(time.Now().Add(s.cfg.KeepAlive)); err != nil {
				return
			}

		case !st.discarding && sep < 0 && len(st.buf) > s.cfg.MaxSizeBytes:
			s.metrics.TCPMsgOverflow.Inc()
			st.discarding = true

		case !st.discarding && sep < 0:
			st.readHead = readTo
			return

		case st.discarding && sep >= 0:
			advance := sep + st.readHead + 1
			st.buf = append([]byte(nil), st.buf[advance:]...)
			st.discarding = false
			st.readHead = 0

		default: // st.discarding && sep < 0
			st.buf = append([]byte(nil), st.buf[readTo:]...)
			st.readHead = 0
			if len(st.buf) == 0 {
				return
			}
		}
	}
}

// flushFinalFrame treats a connection's orderly EOF with a leftover,
// un-terminated buffer as one final message, matching
// original_source's decode_eof fallback. A connection left mid-discard
// at EOF yields nothing.
func (s *Server) flushFinalFrame(st *frameState, connID string, receive Receive) {
	if st.discarding || len(st.buf) == 0 {
		return
	}

	if err := receive(st.buf); err != nil {
		s.log.Error("failed to process final TCP frame", diagnostics.ErrField(err), zap.String("conn_id", connID))
	}
}
