// SPDX-License-Identifier: AGPL-3.0-only

package udp

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestServerRunSkipsEmptyDatagrams(t *testing.T) {
	log := zap.NewNop()
	s, err := Bind("127.0.0.1:0", ListenConfig{}, log)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer s.Close()

	addr := s.conn.LocalAddr().(*net.UDPAddr)

	var received [][]byte
	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		s.Run(ctx, func(buf []byte) error {
			received = append(received, append([]byte(nil), buf...))
			if len(received) == 1 {
				close(done)
			}
			return nil
		})
	}()

	client, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer client.Close()

	client.Write([]byte{})
	client.Write([]byte("hello"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}

	cancel()

	if len(received) != 1 || string(received[0]) != "hello" {
		t.Fatalf("received = %v, want exactly [hello]", received)
	}
}
