// SPDX-License-Identifier: AGPL-3.0-only

// Package pipeline owns the event loop driver (C8), grounded on
// original_source/sqelf/src/server/mod.rs's build/Server/Handle and
// its select! loop over incoming messages, a close handle, and an OS
// interrupt.
package pipeline

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/amr8t/gelfgate/internal/diagnostics"
	"github.com/amr8t/gelfgate/internal/ierror"
	"github.com/amr8t/gelfgate/internal/message"
	"github.com/amr8t/gelfgate/internal/metrics"
	"github.com/amr8t/gelfgate/internal/reassemble"
	"github.com/amr8t/gelfgate/internal/transport/tcp"
	"github.com/amr8t/gelfgate/internal/transport/udp"
)

// Protocol selects which transport a Bind address is served over.
type Protocol int

const (
	ProtocolUDP Protocol = iota
	ProtocolTCP
)

// Bind is a parsed listen address, per spec.md §6's "host:port,
// udp://host:port, tcp://host:port; unqualified defaults to UDP".
type Bind struct {
	Addr     string
	Protocol Protocol
}

// DefaultBindAddr is used when the configured address is empty.
const DefaultBindAddr = "0.0.0.0:12201"

// ParseBind parses a bind address string into its protocol and
// network address.
func ParseBind(s string) (Bind, error) {
	if s == "" {
		s = DefaultBindAddr
	}

	switch {
	case strings.HasPrefix(s, "tcp://"):
		return Bind{Addr: strings.TrimPrefix(s, "tcp://"), Protocol: ProtocolTCP}, nil
	case strings.HasPrefix(s, "udp://"):
		return Bind{Addr: strings.TrimPrefix(s, "udp://"), Protocol: ProtocolUDP}, nil
	default:
		return Bind{Addr: s, Protocol: ProtocolUDP}, nil
	}
}

// Config gathers everything needed to build a Server.
type Config struct {
	Bind       Bind
	TCP        tcp.Config
	UDPRcvBuf  int
	Reassemble reassemble.Config
}

// Process is invoked synchronously, once per complete message, on the
// driver's event-loop goroutine: it runs GELF parse, CLEF transform,
// and the stdout write.
type Process func(*message.Raw) error

type received struct {
	msg *message.Raw
	err error
}

// Server owns a bound transport and the event loop that drains it.
// It is constructed but not started by Build; Run blocks until a
// close handle fires or the process receives an interrupt.
type Server struct {
	cfg      Config
	metrics  *metrics.Registry
	log      *zap.Logger
	process  Process
	incoming chan received

	runTransport func(ctx context.Context) error
	closeFn      func() error

	handle     *Handle
	handleOnce sync.Once
}

// Handle is a one-shot close signal for a running Server, per
// spec.md §4.8's "Server.take_handle() → Handle".
type Handle struct {
	close chan struct{}
	once  sync.Once
}

// Close signals the server to shut down gracefully. It returns true
// the first time it is called, false on any subsequent call.
func (h *Handle) Close() bool {
	closed := false
	h.once.Do(func() {
		close(h.close)
		closed = true
	})
	return closed
}

// Build binds the configured transport and constructs a Server. It
// does not start accepting connections or datagrams until Run is
// called.
func Build(cfg Config, m *metrics.Registry, log *zap.Logger, process Process) (*Server, error) {
	log.Debug("Starting GELF server")

	s := &Server{
		cfg:      cfg,
		metrics:  m,
		log:      log,
		process:  process,
		incoming: make(chan received),
		handle:   &Handle{close: make(chan struct{})},
	}

	switch cfg.Bind.Protocol {
	case ProtocolUDP:
		reassembler := reassemble.New(cfg.Reassemble, &m.Receive)

		srv, err := udp.Bind(cfg.Bind.Addr, udp.ListenConfig{RcvBuf: cfg.UDPRcvBuf}, log)
		if err != nil {
			return nil, err
		}

		s.closeFn = srv.Close
		s.runTransport = func(ctx context.Context) error {
			return srv.Run(ctx, func(buf []byte) error {
				// The socket read buffer is reused for the next datagram,
				// and the reassembler keeps chunk payloads across calls.
				buf = append([]byte(nil), buf...)
				msg, err := reassembler.Decode(buf)
				if err != nil {
					s.incoming <- received{err: err}
					return err
				}
				if msg == nil {
					return nil
				}
				s.incoming <- received{msg: msg}
				return nil
			})
		}

	case ProtocolTCP:
		srv, err := tcp.Bind(cfg.Bind.Addr, cfg.TCP, &m.Server, log)
		if err != nil {
			return nil, err
		}

		s.closeFn = srv.Close
		s.runTransport = func(ctx context.Context) error {
			return srv.Run(ctx, func(buf []byte) error {
				s.incoming <- received{msg: message.Single(append([]byte(nil), buf...))}
				return nil
			})
		}

	default:
		return nil, ierror.New("unknown bind protocol")
	}

	return s, nil
}

// TakeHandle returns the server's close handle exactly once; later
// calls return nil.
func (s *Server) TakeHandle() *Handle {
	var h *Handle
	s.handleOnce.Do(func() {
		h = s.handle
	})
	return h
}

// Run blocks, cooperatively multiplexing incoming messages, the close
// handle, and OS interrupt signals, matching §4.8's event loop. It
// returns when the handle is closed, an interrupt is received, or the
// transport fails irrecoverably.
func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	transportErr := make(chan error, 1)
	go func() { transportErr <- s.runTransport(ctx) }()

	var finalErr error
loop:
	for {
		select {
		case rcv := <-s.incoming:
			if rcv.err != nil {
				s.metrics.Server.ReceiveErr.Inc()
				s.log.Error("GELF processing failed", diagnostics.ErrField(rcv.err))
				continue
			}

			s.metrics.Server.ReceiveOK.Inc()
			if err := s.process(rcv.msg); err != nil {
				s.metrics.Server.ProcessErr.Inc()
				s.log.Error("GELF processing failed", diagnostics.ErrField(err))
			} else {
				s.metrics.Server.ProcessOK.Inc()
			}

		case <-s.handle.close:
			s.log.Debug("Handle closed; shutting down")
			break loop

		case <-sigCh:
			s.log.Debug("Termination signal received; shutting down")
			break loop

		case err := <-transportErr:
			if err != nil {
				finalErr = err
				s.log.Error("GELF server failed", diagnostics.ErrField(err))
			}
			break loop
		}
	}

	cancel()
	if s.closeFn != nil {
		s.closeFn()
	}

	s.log.Debug("Stopping GELF server")
	return finalErr
}
