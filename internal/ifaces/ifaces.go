// Package ifaces enumerates candidate egress interfaces and probes their
// connectivity for auto-detection.
package ifaces

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/dispatch-proxy/dispatch/internal/egress"
	"github.com/dispatch-proxy/dispatch/internal/logging"
)

// Address is a local IP assigned to a named, non-loopback interface.
type Address struct {
	Name string
	IP   net.IP
}

// IsIPv6 reports whether the address is IPv6.
func (a Address) IsIPv6() bool {
	return a.IP.To4() == nil
}

// List enumerates addresses on non-loopback interfaces that are up.
// Link-local addresses are excluded: they cannot carry internet egress.
func List() ([]Address, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("enumerate interfaces: %w", err)
	}

	var out []Address
	for _, ifi := range interfaces {
		if ifi.Flags&net.FlagLoopback != 0 || ifi.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP
			if ip.IsLoopback() || ip.IsLinkLocalUnicast() {
				continue
			}
			out = append(out, Address{Name: ifi.Name, IP: ip})
		}
	}
	return out, nil
}

// NameForIP resolves a local IP back to the interface that owns it.
func NameForIP(ip net.IP) (string, bool) {
	addrs, err := List()
	if err != nil {
		return "", false
	}
	for _, a := range addrs {
		if a.IP.Equal(ip) {
			return a.Name, true
		}
	}
	return "", false
}

// Probe targets: a well-known public DNS service per family. Reaching TCP 53
// from a source-bound socket is a connectivity heuristic, not a guarantee;
// captive networks can pass it.
const (
	ProbeTargetV4 = "1.1.1.1:53"
	ProbeTargetV6 = "[2606:4700:4700::1111]:53"

	// ProbeTimeout bounds each connectivity probe.
	ProbeTimeout = 3 * time.Second
)

// Probe tests whether addr can reach target with the source bound to the
// address's IP. Success means the connect completed within the deadline.
func Probe(ctx context.Context, addr Address, target string) error {
	network := "tcp4"
	if addr.IsIPv6() {
		network = "tcp6"
	}

	d := &net.Dialer{
		LocalAddr: &net.TCPAddr{IP: addr.IP},
		Timeout:   ProbeTimeout,
	}

	conn, err := d.DialContext(ctx, network, target)
	if err != nil {
		return err
	}
	return conn.Close()
}

// AutoDetect probes every candidate interface address for working internet
// connectivity and returns a weight-1 egress path for each one that passes.
// An empty result is an error: the caller has nothing to balance across.
func AutoDetect(ctx context.Context, logger *slog.Logger) ([]*egress.Egress, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}

	addrs, err := List()
	if err != nil {
		return nil, err
	}

	var out []*egress.Egress
	for _, addr := range addrs {
		target := ProbeTargetV4
		if addr.IsIPv6() {
			target = ProbeTargetV6
		}

		if err := Probe(ctx, addr, target); err != nil {
			logger.Debug("interface failed connectivity probe",
				logging.KeyIface, addr.Name,
				logging.KeyAddress, addr.IP.String(),
				logging.KeyError, err)
			continue
		}

		eg, err := egress.New(net.JoinHostPort(addr.IP.String(), "0"), addr.Name, 1)
		if err != nil {
			continue
		}
		logger.Debug("interface passed connectivity probe",
			logging.KeyIface, addr.Name,
			logging.KeyAddress, addr.IP.String())
		out = append(out, eg)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no interface with working internet connectivity found")
	}
	return out, nil
}
