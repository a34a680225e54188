package engine

import (
	"fmt"
	"net"
	"time"

	"github.com/dispatch-proxy/dispatch/internal/logging"
	"github.com/dispatch-proxy/dispatch/internal/socks5"
)

// handleSocks runs the SOCKS5 handshake, selects an egress by the target's
// address family and connects through it. SOCKS mode performs a single
// selection with no retry: the protocol expects an early reply, so a connect
// failure surfaces to the client immediately as NETWORK_UNREACHABLE.
func (s *Server) handleSocks(conn net.Conn) {
	target, err := socks5.Handshake(conn)
	if err != nil {
		s.mtr.ProtocolErrors.Inc()
		s.logger.Warn("SOCKS handshake failed",
			logging.KeyRemoteAddr, conn.RemoteAddr().String(),
			logging.KeyError, err)
		return
	}

	eg, idx := s.cfg.Pool.Select(target.Family, nil)
	s.mtr.SelectionsTotal.WithLabelValues(eg.BindAddr).Inc()

	start := time.Now()
	remote, err := s.dialer.Dial(s.ctx, eg, target.Addr)
	if err != nil {
		s.mtr.ConnectFailures.WithLabelValues(eg.BindAddr).Inc()
		s.logger.Warn(fmt.Sprintf("%s -> %s {%v} LB: %d", target.Addr, eg.BindAddr, err, idx))
		socks5.SendReply(conn, socks5.ReplyNetworkUnreachable)
		return
	}
	defer remote.Close()
	s.mtr.ConnectLatency.Observe(time.Since(start).Seconds())

	s.logger.Info(fmt.Sprintf("%s -> %s LB: %d", target.Addr, eg.BindAddr, idx))

	if err := socks5.SendReply(conn, socks5.ReplySucceeded); err != nil {
		return
	}

	s.relay(conn, remote)
}
