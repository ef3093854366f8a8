// SPDX-License-Identifier: AGPL-3.0-only

// Package config reads gelfgate's environment-variable contract (A1),
// grounded on original_source/sqelf/src/config.rs's Config::from_env,
// is_seq_app, is_truthy, and read_environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/amr8t/gelfgate/internal/diagnostics"
	"github.com/amr8t/gelfgate/internal/ierror"
	"github.com/amr8t/gelfgate/internal/pipeline"
	"github.com/amr8t/gelfgate/internal/reassemble"
	"github.com/amr8t/gelfgate/internal/transport/tcp"
)

// Config is the fully-resolved process configuration.
type Config struct {
	Bind              pipeline.Bind
	DiagnosticsLevel  diagnostics.Level
	TCP               tcp.Config
	Reassemble        reassemble.Config
	UDPRcvBuf         int
	TLSCertPath       string
	TLSKeyPath        string
	IncludeRawPayload bool
	MetricsInterval   time.Duration
}

// Default mirrors original_source/sqelf/src/server/mod.rs's
// Config::default: a 2 minute TCP keep-alive, a 256KiB max frame.
func Default() Config {
	return Config{
		Bind:             pipeline.Bind{Addr: pipeline.DefaultBindAddr, Protocol: pipeline.ProtocolUDP},
		DiagnosticsLevel: diagnostics.LevelError,
		TCP: tcp.Config{
			KeepAlive:      2 * time.Minute,
			MaxSizeBytes:   256 * 1024,
			MaxConnections: 1024,
		},
		Reassemble:      reassemble.DefaultConfig(),
		MetricsInterval: 10 * time.Second,
	}
}

// isSeqApp mirrors is_seq_app: presence, not value, of SEQ_APP_ID
// selects the Seq-packaged app's env var naming convention.
func isSeqApp() bool {
	_, ok := os.LookupEnv("SEQ_APP_ID")
	return ok
}

// readString returns the value of name, or "" if unset or empty. It
// never errors: unlike numeric/bool fields, an empty bind address is
// indistinguishable from "use the default" and is handled by the
// caller.
func readString(name string) string {
	v, ok := os.LookupEnv(name)
	if !ok {
		return ""
	}
	return v
}

// readInt parses name as a decimal integer if present and non-empty,
// leaving into untouched otherwise. An unparsable value is a startup
// error, matching read_environment's "absence does not error, a
// malformed value does" contract.
func readInt(into *int, name string) error {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return ierror.Wrap(err, "invalid value for %s", name)
	}
	*into = n
	return nil
}

func readDurationMillis(into *time.Duration, name string) error {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return ierror.Wrap(err, "invalid value for %s", name)
	}
	*into = time.Duration(ms) * time.Millisecond
	return nil
}

func readUint8(into *uint8, name string) error {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.ParseUint(v, 10, 8)
	if err != nil {
		return ierror.Wrap(err, "invalid value for %s", name)
	}
	*into = uint8(n)
	return nil
}

// isTruthy mirrors is_truthy: only the literal strings "true"/"True"
// enable the flag; absence or any other value is false.
func isTruthy(name string) bool {
	v, ok := os.LookupEnv(name)
	return ok && (v == "true" || v == "True")
}

// FromEnv reads the process environment into a Config, starting from
// Default and overriding whatever is present.
func FromEnv() (Config, error) {
	cfg := Default()
	seqApp := isSeqApp()

	bindVar := "GELF_ADDRESS"
	diagVar := "GELF_ENABLE_DIAGNOSTICS"
	if seqApp {
		bindVar = "SEQ_APP_SETTING_GELFADDRESS"
		diagVar = "SEQ_APP_SETTING_ENABLEDIAGNOSTICS"
	}

	if addr := readString(bindVar); addr != "" {
		bind, err := pipeline.ParseBind(addr)
		if err != nil {
			return Config{}, err
		}
		cfg.Bind = bind
	}

	if isTruthy(diagVar) {
		cfg.DiagnosticsLevel = diagnostics.LevelDebug
	}

	var keepAliveSecs int
	if err := readInt(&keepAliveSecs, "GELF_TCP_KEEP_ALIVE_SECS"); err != nil {
		return Config{}, err
	} else if keepAliveSecs > 0 {
		cfg.TCP.KeepAlive = time.Duration(keepAliveSecs) * time.Second
	}

	if err := readInt(&cfg.TCP.MaxSizeBytes, "GELF_TCP_MAX_SIZE_BYTES"); err != nil {
		return Config{}, err
	}

	if err := readInt(&cfg.Reassemble.IncompleteCapacity, "GELF_UDP_INCOMPLETE_CAPACITY"); err != nil {
		return Config{}, err
	}
	if err := readUint8(&cfg.Reassemble.MaxChunksPerMessage, "GELF_UDP_MAX_CHUNKS"); err != nil {
		return Config{}, err
	}
	if err := readDurationMillis(&cfg.Reassemble.IncompleteTimeout, "GELF_UDP_INCOMPLETE_TIMEOUT_MS"); err != nil {
		return Config{}, err
	}

	cfg.TLSCertPath = readString("GELF_TLS_CERT_PATH")
	cfg.TLSKeyPath = readString("GELF_TLS_KEY_PATH")

	cfg.IncludeRawPayload = isTruthy("GELF_INCLUDE_RAW_PAYLOAD")

	if err := readDurationMillis(&cfg.MetricsInterval, "GELF_METRICS_INTERVAL_MS"); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
