// Package health provides the health check and metrics HTTP endpoints for
// dispatch.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dispatch-proxy/dispatch/internal/logging"
)

// StatsProvider provides proxy statistics for the health endpoint.
type StatsProvider interface {
	// IsRunning returns true if the proxy is accepting connections.
	IsRunning() bool

	// Stats returns a snapshot of the proxy state.
	Stats() Stats
}

// Stats is a snapshot of the proxy state.
type Stats struct {
	Mode              string `json:"mode"`
	ListenAddress     string `json:"listen_address"`
	EgressCount       int    `json:"egress_count"`
	ActiveConnections int64  `json:"active_connections"`
}

// ServerConfig holds health server configuration.
type ServerConfig struct {
	// Address to listen on (e.g., "127.0.0.1:9090")
	Address string

	// Provider supplies proxy statistics. Optional.
	Provider StatsProvider

	// Gatherer serves /metrics. Defaults to the prometheus default gatherer.
	Gatherer prometheus.Gatherer

	// Logger for logging.
	Logger *slog.Logger
}

// Server serves /healthz and /metrics.
type Server struct {
	cfg      ServerConfig
	logger   *slog.Logger
	server   *http.Server
	listener net.Listener

	started  time.Time
	running  atomic.Bool
	stopOnce sync.Once
}

// NewServer creates a new health server.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		cfg:    cfg,
		logger: logger,
	}
}

// Start begins serving. It returns once the listener is bound.
func (s *Server) Start() error {
	if s.running.Load() {
		return fmt.Errorf("health server already running")
	}

	listener, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))

	s.listener = listener
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.started = time.Now()
	s.running.Store(true)

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("health server failed", logging.KeyError, err)
		}
	}()

	return nil
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.running.Store(false)
		if s.server != nil {
			err = s.server.Shutdown(ctx)
		}
	})
	return err
}

// Address returns the bound listener address.
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status string `json:"status"`
		Uptime string `json:"uptime"`
		Stats  *Stats `json:"stats,omitempty"`
	}

	resp := response{
		Status: "ok",
		Uptime: time.Since(s.started).Round(time.Second).String(),
	}
	if s.cfg.Provider != nil {
		if !s.cfg.Provider.IsRunning() {
			resp.Status = "stopped"
		}
		stats := s.cfg.Provider.Stats()
		resp.Stats = &stats
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(resp)
}
