package engine

import (
	"errors"
	"fmt"
	"net"

	"github.com/dispatch-proxy/dispatch/internal/egress"
	"github.com/dispatch-proxy/dispatch/internal/logging"
)

// ErrPoolExhausted is returned internally when every tunnel upstream has
// failed for a single client connection.
var ErrPoolExhausted = errors.New("all egress paths failed")

// handleTunnel forwards the client to one of the upstream relays. There is
// no handshake to respect, so failover is exhaustive: each failed upstream is
// marked in the per-connection skip vector and selection continues until one
// connects or the pool runs dry.
func (s *Server) handleTunnel(conn net.Conn) {
	if err := s.tunnel(conn); err != nil {
		s.logger.Warn("tunnel connection failed", logging.KeyError, err)
	}
}

func (s *Server) tunnel(conn net.Conn) error {
	skip := make([]bool, s.cfg.Pool.Len())

	for {
		eg, idx := s.cfg.Pool.Select(egress.FamilyNone, skip)
		s.mtr.SelectionsTotal.WithLabelValues(eg.BindAddr).Inc()

		d := &net.Dialer{}
		remote, err := d.DialContext(s.ctx, "tcp", eg.BindAddr)
		if err == nil {
			s.logger.Info(fmt.Sprintf("Tunnelled to %s LB: %d", eg.BindAddr, idx))
			defer remote.Close()
			s.relay(conn, remote)
			return nil
		}

		s.mtr.ConnectFailures.WithLabelValues(eg.BindAddr).Inc()
		s.logger.Warn(fmt.Sprintf("%s {%v} LB: %d", eg.BindAddr, err, idx))

		skip[idx] = true
		if allTrue(skip) {
			s.mtr.PoolExhausted.Inc()
			return ErrPoolExhausted
		}
	}
}

func allTrue(v []bool) bool {
	for _, b := range v {
		if !b {
			return false
		}
	}
	return true
}
