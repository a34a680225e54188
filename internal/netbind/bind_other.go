//go:build !linux && !darwin

package netbind

import (
	"log/slog"
	"syscall"
)

// bindControl is a no-op on platforms without per-socket interface binding:
// neither address reuse nor an interface bind is applied. Source-address
// binding is the only egress selection mechanism available.
func bindControl(iface string, logger *slog.Logger) func(network, address string, c syscall.RawConn) error {
	return nil
}
