// SPDX-License-Identifier: AGPL-3.0-only

// Command gelfgate runs the GELF ingestion gateway: it binds a UDP or
// TCP listener, decodes GELF envelopes, transforms them to CLEF, and
// writes one JSON line per event to standard output.
package main

import (
	"fmt"
	"os"

	"github.com/amr8t/gelfgate/internal/config"
	"github.com/amr8t/gelfgate/internal/diagnostics"
	"github.com/amr8t/gelfgate/internal/metrics"
	"github.com/amr8t/gelfgate/internal/pipeline"
	"github.com/amr8t/gelfgate/internal/process"
	"github.com/amr8t/gelfgate/internal/tlsconfig"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	log := diagnostics.New(cfg.DiagnosticsLevel)
	defer log.Sync()

	log.Debug("gelfgate starting")

	if cfg.TLSCertPath != "" && cfg.TLSKeyPath != "" {
		tlsCfg, err := tlsconfig.Load(cfg.TLSCertPath, cfg.TLSKeyPath)
		if err != nil {
			return err
		}
		cfg.TCP.TLS = tlsCfg
	}

	registry := metrics.New()

	emitter := metrics.NewEmitter(registry, log, cfg.MetricsInterval)
	if cfg.DiagnosticsLevel == diagnostics.LevelDebug {
		emitter.Start()
		defer emitter.Stop()
	}

	proc := process.NewStdout(cfg.IncludeRawPayload, &registry.Process.Msg)

	server, err := pipeline.Build(pipeline.Config{
		Bind:       cfg.Bind,
		TCP:        cfg.TCP,
		UDPRcvBuf:  cfg.UDPRcvBuf,
		Reassemble: cfg.Reassemble,
	}, registry, log, proc.Process)
	if err != nil {
		return err
	}

	runShutdownWatcher(server)

	return server.Run()
}

// runShutdownWatcher starts a background goroutine that reads this
// process's stdin to EOF and signals the server's close handle, for
// platforms where closing gelfgate's stdin is the intended shutdown
// mechanism (§5's stdin-EOF watcher).
func runShutdownWatcher(server *pipeline.Server) {
	handle := server.TakeHandle()
	if handle == nil {
		return
	}

	go func() {
		buf := make([]byte, 1)
		for {
			if _, err := os.Stdin.Read(buf); err != nil {
				handle.Close()
				return
			}
		}
	}()
}
