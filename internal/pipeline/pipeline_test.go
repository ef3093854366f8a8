// SPDX-License-Identifier: AGPL-3.0-only

package pipeline

import "testing"

func TestParseBindDefaultsToUDP(t *testing.T) {
	b, err := ParseBind("0.0.0.0:12201")
	if err != nil {
		t.Fatalf("ParseBind: %v", err)
	}
	if b.Protocol != ProtocolUDP || b.Addr != "0.0.0.0:12201" {
		t.Fatalf("ParseBind = %+v", b)
	}
}

func TestParseBindEmptyUsesDefaultAddr(t *testing.T) {
	b, err := ParseBind("")
	if err != nil {
		t.Fatalf("ParseBind: %v", err)
	}
	if b.Addr != DefaultBindAddr || b.Protocol != ProtocolUDP {
		t.Fatalf("ParseBind(\"\") = %+v", b)
	}
}

func TestParseBindTCPScheme(t *testing.T) {
	b, err := ParseBind("tcp://127.0.0.1:9000")
	if err != nil {
		t.Fatalf("ParseBind: %v", err)
	}
	if b.Protocol != ProtocolTCP || b.Addr != "127.0.0.1:9000" {
		t.Fatalf("ParseBind = %+v", b)
	}
}

func TestParseBindUDPScheme(t *testing.T) {
	b, err := ParseBind("udp://127.0.0.1:9000")
	if err != nil {
		t.Fatalf("ParseBind: %v", err)
	}
	if b.Protocol != ProtocolUDP || b.Addr != "127.0.0.1:9000" {
		t.Fatalf("ParseBind = %+v", b)
	}
}

func TestHandleCloseIsOneShot(t *testing.T) {
	h := &Handle{close: make(chan struct{})}

	if !h.Close() {
		t.Fatal("first Close() should return true")
	}
	if h.Close() {
		t.Fatal("second Close() should return false")
	}

	select {
	case <-h.close:
	default:
		t.Fatal("the close channel should be closed")
	}
}

func TestTakeHandleIsOneShot(t *testing.T) {
	s := &Server{handle: &Handle{close: make(chan struct{})}}

	if s.TakeHandle() == nil {
		t.Fatal("first TakeHandle() should return the handle")
	}
	if s.TakeHandle() != nil {
		t.Fatal("second TakeHandle() should return nil")
	}
}
