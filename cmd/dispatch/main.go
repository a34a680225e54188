// Package main provides the CLI entry point for the dispatch proxy.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dispatch-proxy/dispatch/internal/config"
	"github.com/dispatch-proxy/dispatch/internal/egress"
	"github.com/dispatch-proxy/dispatch/internal/engine"
	"github.com/dispatch-proxy/dispatch/internal/health"
	"github.com/dispatch-proxy/dispatch/internal/ifaces"
	"github.com/dispatch-proxy/dispatch/internal/logging"
)

// Version is set at build time via ldflags.
var Version = "dev"

func init() {
	if Version == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, setting := range info.Settings {
				if setting.Key == "vcs.revision" && len(setting.Value) >= 7 {
					Version = "dev-" + setting.Value[:7]
				}
			}
		}
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath  string
		lhost       string
		lport       uint16
		list        bool
		tunnel      bool
		quiet       bool
		auto        bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "dispatch [egress...]",
		Short: "SOCKS5 load balancing proxy across multiple egress paths",
		Long: `dispatch is a SOCKS5 load balancing proxy that spreads outbound TCP
connections across several local egress paths, each bound to a distinct
source IP and interface.

Egress specifications are <local-ip>[@weight] in SOCKS mode, or
<host>:<port>[@weight] upstream relays in tunnel mode. The weight is the
contention ratio: the number of consecutive connections an egress receives
before the round-robin cursor advances.`,
		Version:       Version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				return listInterfaces()
			}

			cfg, err := buildConfig(cmd, configPath, lhost, lport, tunnel, quiet, auto, metricsAddr, args)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to optional YAML configuration file")
	cmd.Flags().StringVar(&lhost, "lhost", "127.0.0.1", "Local IP to listen for SOCKS connections")
	cmd.Flags().Uint16Var(&lport, "lport", 8080, "Local port to listen for SOCKS connections")
	cmd.Flags().BoolVarP(&list, "list", "l", false, "List the available addresses for dispatching and exit")
	cmd.Flags().BoolVarP(&tunnel, "tunnel", "t", false, "Tunnel mode: forward to upstream relays without SOCKS framing")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Disable logging")
	cmd.Flags().BoolVarP(&auto, "auto", "a", false, "Auto-detect interfaces with working connectivity and use each with weight 1")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Address to serve /healthz and /metrics on (disabled when empty)")

	return cmd
}

// buildConfig merges the optional config file with the CLI surface. Flags the
// user set explicitly override file values; positional arguments replace the
// file's egress list.
func buildConfig(cmd *cobra.Command, configPath, lhost string, lport uint16, tunnel, quiet, auto bool, metricsAddr string, args []string) (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("lhost") || cfg.Listen.Host == "" {
		cfg.Listen.Host = lhost
	}
	if flags.Changed("lport") {
		cfg.Listen.Port = lport
	}
	if flags.Changed("tunnel") {
		cfg.Tunnel = tunnel
	}
	if flags.Changed("auto") {
		cfg.Auto = auto
	}
	if flags.Changed("quiet") {
		cfg.Log.Quiet = quiet
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Address = metricsAddr
	}
	if len(args) > 0 {
		cfg.Egress = args
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// listInterfaces prints the candidate dispatch addresses.
func listInterfaces() error {
	fmt.Println("--- Listing the available addresses for dispatching")

	addrs, err := ifaces.List()
	if err != nil {
		return err
	}
	for _, a := range addrs {
		family := "IPv4"
		if a.IsIPv6() {
			family = "IPv6"
		}
		fmt.Printf("[+] %s, %s:%s\n", a.Name, family, a.IP)
	}
	return nil
}

func run(cfg *config.Config) error {
	logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if cfg.Log.Quiet {
		logger = logging.NopLogger()
	}

	pool, err := buildPool(cfg, logger)
	if err != nil {
		return err
	}

	srv, err := engine.NewServer(engine.Config{
		Address:        cfg.Listen.Address(),
		Tunnel:         cfg.Tunnel,
		Pool:           pool,
		MaxConnections: cfg.Limits.MaxConnections,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start local server on %s: %w", cfg.Listen.Address(), err)
	}
	logger.Info(fmt.Sprintf("Local server started on %s", cfg.Listen.Address()))

	var healthSrv *health.Server
	if cfg.Metrics.Address != "" {
		healthSrv = health.NewServer(health.ServerConfig{
			Address:  cfg.Metrics.Address,
			Provider: srv,
			Logger:   logger,
		})
		if err := healthSrv.Start(); err != nil {
			srv.Stop()
			return fmt.Errorf("failed to start health server: %w", err)
		}
		logger.Info("health endpoint started", logging.KeyAddress, healthSrv.Address())
	}

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	if healthSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		healthSrv.Stop(ctx)
	}
	return srv.Stop()
}

// buildPool assembles the egress pool from the configuration: auto-detected
// interfaces, or the parsed egress specifications.
func buildPool(cfg *config.Config, logger *slog.Logger) (*egress.Pool, error) {
	var egresses []*egress.Egress

	if cfg.Auto {
		// Each probe carries its own deadline; no overall bound.
		detected, err := ifaces.AutoDetect(context.Background(), logger)
		if err != nil {
			return nil, err
		}
		egresses = detected

		for i, eg := range egresses {
			logger.Info(fmt.Sprintf("Load balancer %d: %s, contention ratio: %d", i+1, eg.BindAddr, eg.Weight))
		}
		return egress.NewPool(egresses)
	}

	for i, spec := range cfg.Egress {
		parsed, err := config.ParseEgressSpec(spec, cfg.Tunnel)
		if err != nil {
			return nil, err
		}
		addrPart, _, _ := strings.Cut(spec, "@")

		iface := ""
		if !cfg.Tunnel {
			name, ok := ifaces.NameForIP(parsed.IP)
			if !ok {
				return nil, fmt.Errorf("IP address not associated with an interface: %s", parsed.IP)
			}
			iface = name
		}

		eg, err := egress.New(parsed.Address, iface, parsed.Weight)
		if err != nil {
			return nil, err
		}

		logger.Info(fmt.Sprintf("Load balancer %d: %s, contention ratio: %d", i+1, addrPart, eg.Weight))
		egresses = append(egresses, eg)
	}

	return egress.NewPool(egresses)
}
