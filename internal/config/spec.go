package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// EgressSpec is a parsed egress specification.
//
// SOCKS mode grammar:  <local-ip>[@weight]
// Tunnel mode grammar: <host>:<port>[@weight]
type EgressSpec struct {
	// Address is "ip:0" (SOCKS mode) or "host:port" (tunnel mode), with
	// IPv6 literals bracketed.
	Address string

	// IP is the parsed bind IP in SOCKS mode; nil for tunnel hostnames.
	IP net.IP

	// Weight is the contention ratio. Defaults to 1.
	Weight int
}

// ParseEgressSpec parses a single egress specification argument.
func ParseEgressSpec(spec string, tunnel bool) (*EgressSpec, error) {
	parts := strings.Split(spec, "@")
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid egress specification %s", spec)
	}
	addrPart := parts[0]

	weight := 1
	if len(parts) == 2 {
		w, err := strconv.Atoi(parts[1])
		if err != nil || w < 1 {
			return nil, fmt.Errorf("invalid contention ratio for %s", addrPart)
		}
		weight = w
	}

	if tunnel {
		host, portStr, err := net.SplitHostPort(addrPart)
		if err != nil {
			return nil, fmt.Errorf("invalid address specification %s", addrPart)
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil || port == 0 {
			return nil, fmt.Errorf("invalid port %s", addrPart)
		}
		return &EgressSpec{
			Address: net.JoinHostPort(host, portStr),
			IP:      net.ParseIP(host),
			Weight:  weight,
		}, nil
	}

	// SOCKS mode: a bare IP literal, possibly bracketed when IPv6.
	host := addrPart
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("invalid address %s", addrPart)
	}
	if ip.IsLoopback() {
		return nil, fmt.Errorf("loopback address %s cannot be used for egress", addrPart)
	}

	return &EgressSpec{
		Address: net.JoinHostPort(ip.String(), "0"),
		IP:      ip,
		Weight:  weight,
	}, nil
}
