// Package engine accepts client connections and drives each one through
// egress selection, outbound binding and the bidirectional relay.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/dispatch-proxy/dispatch/internal/egress"
	"github.com/dispatch-proxy/dispatch/internal/health"
	"github.com/dispatch-proxy/dispatch/internal/logging"
	"github.com/dispatch-proxy/dispatch/internal/metrics"
	"github.com/dispatch-proxy/dispatch/internal/netbind"
)

// Dialer makes outbound connections bound to an egress path.
type Dialer interface {
	Dial(ctx context.Context, eg *egress.Egress, target string) (net.Conn, error)
}

// Config holds engine configuration.
type Config struct {
	// Address to listen on (e.g., "127.0.0.1:8080")
	Address string

	// Tunnel selects tunnel mode: no SOCKS framing, each connection is
	// forwarded to an upstream from the pool with exhaustive failover.
	Tunnel bool

	// Pool of egress paths.
	Pool *egress.Pool

	// Dialer for SOCKS-mode outbound connections. Defaults to a netbind
	// dialer.
	Dialer Dialer

	// MaxConnections limits concurrent client connections (0 = unlimited).
	MaxConnections int

	// Logger for logging.
	Logger *slog.Logger

	// Metrics instance. Defaults to the shared default.
	Metrics *metrics.Metrics
}

// Server is the proxy engine: one accept loop, one goroutine per client.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	mtr     *metrics.Metrics
	dialer  Dialer
	tracker *connTracker

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc

	running  atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewServer creates a new engine server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("engine needs an egress pool")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	mtr := cfg.Metrics
	if mtr == nil {
		mtr = metrics.Default()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = netbind.New(logger)
	}

	return &Server{
		cfg:     cfg,
		logger:  logger,
		mtr:     mtr,
		dialer:  dialer,
		tracker: newConnTracker(),
	}, nil
}

// Start binds the listener and begins accepting connections.
func (s *Server) Start() error {
	if s.running.Load() {
		return fmt.Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop closes the listener, aborts in-flight connects and closes every
// tracked client connection, then waits for the per-connection goroutines.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.running.Store(false)
		if s.cancel != nil {
			s.cancel()
		}
		if s.listener != nil {
			err = s.listener.Close()
		}
		s.tracker.closeAll()
	})

	s.wg.Wait()
	return err
}

// Address returns the listening address.
func (s *Server) Address() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ConnectionCount returns the number of active client connections.
func (s *Server) ConnectionCount() int64 {
	return s.tracker.count()
}

// IsRunning returns true if the server is accepting connections.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// Stats implements health.StatsProvider.
func (s *Server) Stats() health.Stats {
	mode := "socks"
	if s.cfg.Tunnel {
		mode = "tunnel"
	}
	addr := ""
	if s.listener != nil {
		addr = s.listener.Addr().String()
	}
	return health.Stats{
		Mode:              mode,
		ListenAddress:     addr,
		EgressCount:       s.cfg.Pool.Len(),
		ActiveConnections: s.tracker.count(),
	}
}

// acceptLoop accepts new connections until the listener closes.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Warn("could not accept connection", logging.KeyError, err)
				continue
			}
		}

		if s.cfg.MaxConnections > 0 && s.tracker.count() >= int64(s.cfg.MaxConnections) {
			s.logger.Warn("connection limit reached, dropping client",
				logging.KeyRemoteAddr, conn.RemoteAddr().String())
			conn.Close()
			continue
		}

		s.tracker.add(conn)
		s.mtr.ConnectionsTotal.Inc()
		s.mtr.ConnectionsActive.Inc()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn handles a single client connection.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.mtr.ConnectionsActive.Dec()
	defer s.tracker.remove(conn)
	defer conn.Close()

	if s.cfg.Tunnel {
		s.handleTunnel(conn)
	} else {
		s.handleSocks(conn)
	}
}
