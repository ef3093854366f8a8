// SPDX-License-Identifier: AGPL-3.0-only

package config

import (
	"os"
	"testing"
	"time"

	"github.com/amr8t/gelfgate/internal/diagnostics"
	"github.com/amr8t/gelfgate/internal/pipeline"
)

func TestFromEnvDefaultsWhenUnset(t *testing.T) {
	clearAllKnownVars(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}

	want := Default()
	if cfg != want {
		t.Fatalf("FromEnv() = %+v, want Default() = %+v", cfg, want)
	}
}

func TestFromEnvOverridesBindAddress(t *testing.T) {
	clearAllKnownVars(t)
	t.Setenv("GELF_ADDRESS", "tcp://0.0.0.0:9000")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Bind.Protocol != pipeline.ProtocolTCP || cfg.Bind.Addr != "0.0.0.0:9000" {
		t.Fatalf("Bind = %+v", cfg.Bind)
	}
}

func TestFromEnvSeqAppSwitchesVariableNames(t *testing.T) {
	clearAllKnownVars(t)
	t.Setenv("SEQ_APP_ID", "anything")
	t.Setenv("SEQ_APP_SETTING_GELFADDRESS", "udp://0.0.0.0:5555")
	t.Setenv("SEQ_APP_SETTING_ENABLEDIAGNOSTICS", "true")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Bind.Addr != "0.0.0.0:5555" {
		t.Fatalf("Bind.Addr = %q, want the Seq-prefixed variable to take effect", cfg.Bind.Addr)
	}
	if cfg.DiagnosticsLevel != diagnostics.LevelDebug {
		t.Fatal("diagnostics should be enabled via the Seq-prefixed variable")
	}
}

func TestFromEnvPlainGelfAddressIgnoredUnderSeqApp(t *testing.T) {
	clearAllKnownVars(t)
	t.Setenv("SEQ_APP_ID", "anything")
	t.Setenv("GELF_ADDRESS", "tcp://0.0.0.0:1")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Bind.Addr != Default().Bind.Addr {
		t.Fatalf("Bind.Addr = %q, the non-prefixed variable should be ignored under a Seq app", cfg.Bind.Addr)
	}
}

func TestFromEnvOnlyLiteralTrueIsTruthy(t *testing.T) {
	clearAllKnownVars(t)
	t.Setenv("GELF_ENABLE_DIAGNOSTICS", "1")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.DiagnosticsLevel != diagnostics.LevelError {
		t.Fatal("a non-\"true\"/\"True\" value must not enable diagnostics")
	}
}

func TestFromEnvMalformedIntegerIsAnError(t *testing.T) {
	clearAllKnownVars(t)
	t.Setenv("GELF_TCP_MAX_SIZE_BYTES", "not-a-number")

	if _, err := FromEnv(); err == nil {
		t.Fatal("expected an error for a malformed integer env var")
	}
}

func TestFromEnvDurationMillis(t *testing.T) {
	clearAllKnownVars(t)
	t.Setenv("GELF_UDP_INCOMPLETE_TIMEOUT_MS", "2500")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Reassemble.IncompleteTimeout != 2500*time.Millisecond {
		t.Fatalf("IncompleteTimeout = %v", cfg.Reassemble.IncompleteTimeout)
	}
}

func clearAllKnownVars(t *testing.T) {
	t.Helper()
	for _, n := range []string{
		"SEQ_APP_ID", "GELF_ADDRESS", "SEQ_APP_SETTING_GELFADDRESS",
		"GELF_ENABLE_DIAGNOSTICS", "SEQ_APP_SETTING_ENABLEDIAGNOSTICS",
		"GELF_TCP_KEEP_ALIVE_SECS", "GELF_TCP_MAX_SIZE_BYTES",
		"GELF_UDP_INCOMPLETE_CAPACITY", "GELF_UDP_MAX_CHUNKS",
		"GELF_UDP_INCOMPLETE_TIMEOUT_MS", "GELF_TLS_CERT_PATH",
		"GELF_TLS_KEY_PATH", "GELF_INCLUDE_RAW_PAYLOAD", "GELF_METRICS_INTERVAL_MS",
	} {
		t.Setenv(n, "")
		// isSeqApp checks presence, not value, so the variable must be
		// unset rather than left empty; t.Setenv restores it afterwards.
		os.Unsetenv(n)
	}
}
