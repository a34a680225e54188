// Package egress defines the egress paths dispatch balances across and the
// weighted round-robin pool that selects among them.
package egress

import (
	"fmt"
	"net"
)

// Family is the address family of an egress path or connect target.
type Family int

const (
	// FamilyNone expresses no preference. Used by tunnel mode selections.
	FamilyNone Family = iota

	// FamilyV4 is IPv4.
	FamilyV4

	// FamilyV6 is IPv6.
	FamilyV6

	// FamilyDomain is a hostname target whose family is unknown until DNS.
	FamilyDomain
)

// String returns a human-readable family name.
func (f Family) String() string {
	switch f {
	case FamilyV4:
		return "ipv4"
	case FamilyV6:
		return "ipv6"
	case FamilyDomain:
		return "domain"
	default:
		return "any"
	}
}

// Egress is a single egress path. Immutable after construction.
//
// In SOCKS mode BindAddr is a local "ip:0" source address; the connection
// engine binds outbound sockets to it before connecting to the SOCKS target.
// In tunnel mode BindAddr is an upstream "host:port" relay endpoint that the
// engine connects to directly.
type Egress struct {
	// BindAddr is "ip:0" (SOCKS mode) or "host:port" (tunnel mode).
	// IPv6 literals are always bracketed.
	BindAddr string

	// Iface is the OS interface name owning the bind IP, when known.
	// Empty in tunnel mode.
	Iface string

	// Weight is the contention ratio: the number of consecutive selections
	// this egress receives before the round-robin cursor advances.
	Weight int

	family Family
}

// New constructs an egress path. The family is derived from the host part of
// bindAddr: IP literals map to their family, hostnames default to IPv4.
// Hostnames only occur as tunnel upstreams, which are never family-filtered.
func New(bindAddr, iface string, weight int) (*Egress, error) {
	if weight < 1 {
		return nil, fmt.Errorf("egress %s: weight must be at least 1, got %d", bindAddr, weight)
	}

	host, _, err := net.SplitHostPort(bindAddr)
	if err != nil {
		return nil, fmt.Errorf("egress %s: %w", bindAddr, err)
	}

	family := FamilyV4
	if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
		family = FamilyV6
	}

	return &Egress{
		BindAddr: bindAddr,
		Iface:    iface,
		Weight:   weight,
		family:   family,
	}, nil
}

// Family returns the address family of the bind address.
func (e *Egress) Family() Family {
	return e.family
}

// Network returns the dial network for this egress: "tcp4" or "tcp6".
// Restricting the network keeps resolution on the egress's own family.
func (e *Egress) Network() string {
	if e.family == FamilyV6 {
		return "tcp6"
	}
	return "tcp4"
}

// String returns the bind address, with the interface name when present.
func (e *Egress) String() string {
	if e.Iface != "" {
		return e.BindAddr + "%" + e.Iface
	}
	return e.BindAddr
}
