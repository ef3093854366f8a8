// SPDX-License-Identifier: AGPL-3.0-only

package metrics

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestTakeResetsCounters(t *testing.T) {
	reg := New()
	reg.Receive.Chunk.Add(3)
	reg.Process.Msg.Add(1)
	reg.Server.ReceiveOK.Add(5)

	snap := reg.take()

	if snap.Receive["chunk"] != 3 || snap.Process["msg"] != 1 || snap.Server["receive_ok"] != 5 {
		t.Fatalf("snapshot = %+v", snap)
	}

	if reg.Receive.Chunk.Load() != 0 || reg.Process.Msg.Load() != 0 || reg.Server.ReceiveOK.Load() != 0 {
		t.Fatal("take should zero every counter it reports")
	}
}

func TestEmitterStopJoinsTheBackgroundLoop(t *testing.T) {
	reg := New()
	e := NewEmitter(reg, zap.NewNop(), time.Millisecond)
	e.Start()

	time.Sleep(5 * time.Millisecond)
	e.Stop()

	select {
	case <-e.done:
	default:
		t.Fatal("Stop should leave the run goroutine fully exited")
	}
}
