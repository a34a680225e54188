// Package netbind creates outbound TCP connections bound to a specific
// egress path: the source address always, and on platforms that support it
// the owning network interface as well.
package netbind

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/dispatch-proxy/dispatch/internal/egress"
	"github.com/dispatch-proxy/dispatch/internal/logging"
)

// Dialer dials targets through a chosen egress path.
type Dialer struct {
	// Logger receives interface-bind warnings. Defaults to a nop logger.
	Logger *slog.Logger
}

// New creates a dialer.
func New(logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Dialer{Logger: logger}
}

// Dial connects to target ("host:port") with the outbound socket bound to the
// egress path. The dial network is restricted to the egress's family, so both
// the local bind address and the target resolve within that family or the
// dial fails.
//
// The underlying socket is set up in this order: create, address reuse and
// interface bind (both applied on Linux and macOS only; other platforms skip
// them), source-address bind, non-blocking connect, wait for writability,
// surface the pending socket error. The Go
// runtime performs the non-blocking connect and readiness wait; the Control
// hook applies the socket options in between creation and bind. A rejected
// interface bind is logged and ignored: source-address binding alone selects
// the right egress when the routing table is cooperative.
func (d *Dialer) Dial(ctx context.Context, eg *egress.Egress, target string) (net.Conn, error) {
	network := eg.Network()

	laddr, err := net.ResolveTCPAddr(network, eg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve bind address %s: %w", eg.BindAddr, err)
	}

	nd := &net.Dialer{
		LocalAddr: laddr,
		Control:   bindControl(eg.Iface, d.Logger),
	}

	conn, err := nd.DialContext(ctx, network, target)
	if err != nil {
		return nil, fmt.Errorf("connect %s via %s: %w", target, eg.BindAddr, err)
	}
	return conn, nil
}
