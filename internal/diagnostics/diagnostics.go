// SPDX-License-Identifier: AGPL-3.0-only

// Package diagnostics builds the gateway's self-diagnostic logger:
// JSON lines on stderr shaped like CLEF (@t/@l/@mt/@x), gated by a
// minimum level, grounded on
// original_source/sqelf/src/diagnostics.rs but built on zap instead
// of a hand-rolled encoder.
package diagnostics

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level mirrors the original's two-level diagnostics gate. There is
// no Info/Warn tier: either only errors are surfaced, or everything
// (including periodic metrics) is.
type Level int

const (
	LevelError Level = iota
	LevelDebug
)

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "@t"
	cfg.LevelKey = "@l"
	cfg.MessageKey = "@mt"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = func(lvl zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		if lvl >= zapcore.ErrorLevel {
			enc.AppendString("ERROR")
		} else {
			enc.AppendString("DEBUG")
		}
	}
	// The original never nests a "caller"/"stacktrace" field into its
	// diagnostic line; suppress the keys zap would otherwise reserve.
	cfg.CallerKey = zapcore.OmitKey
	cfg.StacktraceKey = zapcore.OmitKey
	return cfg
}

// New builds a diagnostics logger gated at the given minimum level.
// At LevelError, Debug-level calls (including metrics) are dropped
// before any encoding work happens.
func New(min Level) *zap.Logger {
	zapMin := zapcore.ErrorLevel
	if min == LevelDebug {
		zapMin = zapcore.DebugLevel
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig()),
		zapcore.Lock(os.Stderr),
		zapMin,
	)

	return zap.New(core)
}

// ErrField attaches an error under the CLEF exception key, matching
// the original's optional "@x" diagnostic field.
func ErrField(err error) zap.Field {
	return zap.String("@x", err.Error())
}
