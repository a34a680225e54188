//go:build darwin

package netbind

import (
	"log/slog"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/dispatch-proxy/dispatch/internal/logging"
)

// bindControl applies SO_REUSEADDR and, when iface is set, IP_BOUND_IF or
// IPV6_BOUND_IF depending on the dial network. A failed interface bind is
// logged and ignored so source-address binding still applies.
func bindControl(iface string, logger *slog.Logger) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		return c.Control(func(fd uintptr) {
			unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)

			if iface == "" {
				return
			}
			ifi, err := net.InterfaceByName(iface)
			if err != nil {
				logger.Warn("interface lookup failed, falling back to source address binding",
					logging.KeyIface, iface,
					logging.KeyError, err)
				return
			}

			if network == "tcp6" {
				err = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_BOUND_IF, ifi.Index)
			} else {
				err = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_BOUND_IF, ifi.Index)
			}
			if err != nil {
				logger.Warn("interface bind failed, falling back to source address binding",
					logging.KeyIface, iface,
					logging.KeyError, err)
			}
		})
	}
}
