// SPDX-License-Identifier: AGPL-3.0-only

// Package udp implements the datagram-oriented transport (C4),
// grounded on original_source/sqelf/src/server/udp.rs's Decoder and
// the teacher's StartGELFUDPServer in cmd/ingestor/gelf.go.
package udp

import (
	"context"
	"net"

	"go.uber.org/zap"

	"github.com/amr8t/gelfgate/internal/diagnostics"
	"github.com/amr8t/gelfgate/internal/ierror"
)

// MaxDatagramSize bounds a single read. GELF chunk payloads are
// restricted by transport MTU in practice; this is generous headroom
// for jumbo-frame deployments while keeping the receive buffer fixed.
const MaxDatagramSize = 65507

// Receive is invoked once per non-empty datagram, carrying the raw
// bytes straight from the socket read. The buffer is only valid for
// the duration of the call; implementations that retain it must copy.
type Receive func(buf []byte) error

// Server owns a bound UDP socket.
type Server struct {
	conn *net.UDPConn
	log  *zap.Logger
}

// ListenConfig optionally tunes the socket before it is bound. RcvBuf,
// when non-zero, requests a kernel receive buffer size via SO_RCVBUF
// (see sockopt_unix.go / sockopt_other.go).
type ListenConfig struct {
	RcvBuf int
}

// Bind opens the UDP socket at addr.
func Bind(addr string, cfg ListenConfig, log *zap.Logger) (*Server, error) {
	lc := net.ListenConfig{}
	if cfg.RcvBuf > 0 {
		lc.Control = controlSetRcvBuf(cfg.RcvBuf, log)
	}

	pc, err := lc.ListenPacket(context.Background(), "udp", addr)
	if err != nil {
		return nil, ierror.Wrap(err, "failed to bind UDP socket on %s", addr)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, ierror.New("unexpected packet conn type for UDP bind")
	}

	log.Debug("Setting up for UDP", zap.String("addr", addr))
	return &Server{conn: conn, log: log}, nil
}

// Close releases the underlying socket.
func (s *Server) Close() error {
	return s.conn.Close()
}

// Run blocks, reading datagrams until ctx is canceled or the socket is
// closed. Each non-empty datagram is passed to receive before the next
// read begins; there is no per-connection state and no internal
// queue, matching §4.4's "no per-connection state exists".
func (s *Server) Run(ctx context.Context, receive Receive) error {
	buf := make([]byte, MaxDatagramSize)

	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	for {
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return ierror.Wrap(err, "UDP read failed")
		}

		if n == 0 {
			continue
		}

		if err := receive(buf[:n]); err != nil {
			s.log.Error("failed to process UDP datagram", diagnostics.ErrField(err))
		}
	}
}
