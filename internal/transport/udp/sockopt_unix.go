// SPDX-License-Identifier: AGPL-3.0-only

//go:build linux || darwin

package udp

import (
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/amr8t/gelfgate/internal/diagnostics"
)

// controlSetRcvBuf returns a net.ListenConfig.Control callback that
// raises SO_RCVBUF on the bound socket's file descriptor. A failure to
// set it is logged and otherwise ignored: the bind itself must not
// fail because the kernel clamped or rejected the hint.
func controlSetRcvBuf(bytes int, log *zap.Logger) func(string, string, syscall.RawConn) error {
	return func(_, _ string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, bytes)
		})
		if err != nil {
			return err
		}
		if sockErr != nil {
			log.Debug("could not raise SO_RCVBUF", zap.Int("requested_bytes", bytes), diagnostics.ErrField(sockErr))
		}
		return nil
	}
}
