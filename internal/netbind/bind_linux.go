//go:build linux

package netbind

import (
	"log/slog"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/dispatch-proxy/dispatch/internal/logging"
)

// bindControl applies SO_REUSEADDR and, when iface is set, SO_BINDTODEVICE.
// SO_BINDTODEVICE needs CAP_NET_RAW; a denied bind is logged as a warning and
// never aborts the dial, so unprivileged runs fall back to source-address
// binding alone.
func bindControl(iface string, logger *slog.Logger) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		return c.Control(func(fd uintptr) {
			unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)

			if iface == "" {
				return
			}
			if err := unix.BindToDevice(int(fd), iface); err != nil {
				logger.Warn("interface bind failed, falling back to source address binding",
					logging.KeyIface, iface,
					logging.KeyError, err)
			}
		})
	}
}
