// SPDX-License-Identifier: AGPL-3.0-only

//go:build !linux && !darwin

package udp

import (
	"syscall"

	"go.uber.org/zap"
)

// controlSetRcvBuf is a no-op on platforms without a wired SO_RCVBUF
// path; the requested size is silently ignored.
func controlSetRcvBuf(_ int, _ *zap.Logger) func(string, string, syscall.RawConn) error {
	return func(_, _ string, _ syscall.RawConn) error {
		return nil
	}
}
