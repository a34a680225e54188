package health

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dispatch-proxy/dispatch/internal/metrics"
)

type fakeProvider struct {
	running bool
	stats   Stats
}

func (f *fakeProvider) IsRunning() bool { return f.running }
func (f *fakeProvider) Stats() Stats    { return f.stats }

func startServer(t *testing.T, cfg ServerConfig) *Server {
	t.Helper()
	cfg.Address = "127.0.0.1:0"
	s := NewServer(cfg)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestHealthz(t *testing.T) {
	provider := &fakeProvider{
		running: true,
		stats: Stats{
			Mode:              "socks",
			ListenAddress:     "127.0.0.1:8080",
			EgressCount:       2,
			ActiveConnections: 3,
		},
	}
	s := startServer(t, ServerConfig{Provider: provider})

	resp, err := http.Get("http://" + s.Address() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
		Stats  *Stats `json:"stats"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	if body.Stats == nil || body.Stats.EgressCount != 2 {
		t.Errorf("stats = %+v, want egress_count 2", body.Stats)
	}
}

func TestHealthz_Stopped(t *testing.T) {
	s := startServer(t, ServerConfig{Provider: &fakeProvider{running: false}})

	resp, err := http.Get("http://" + s.Address() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetricsWithRegistry(reg)
	m.ConnectionsTotal.Inc()

	s := startServer(t, ServerConfig{Gatherer: reg})

	resp, err := http.Get("http://" + s.Address() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "dispatch_connections_total 1") {
		t.Errorf("metrics output missing counter:\n%s", body)
	}
}

func TestStart_Twice(t *testing.T) {
	s := startServer(t, ServerConfig{})
	if err := s.Start(); err == nil {
		t.Error("second Start() should fail")
	}
}
