// Package main implements the NADI daemon: it hosts a datastream graph with
// the context controller at handle 0, exposes the control channel over
// WebSocket, serves Prometheus metrics, and forwards envelopes to remote
// graphs over configured NATS bridges.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	nadi "github.com/skunkforce/node-agnostic-datastream-interface"
	"github.com/skunkforce/node-agnostic-datastream-interface/envelope"
	"github.com/skunkforce/node-agnostic-datastream-interface/gateway"
	"github.com/skunkforce/node-agnostic-datastream-interface/metric"
	"github.com/skunkforce/node-agnostic-datastream-interface/natsbridge"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "nadi"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Daemon failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return err
	}
	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	shutdownTimeout, err := cfg.ShutdownTimeout()
	if err != nil {
		return err
	}

	slog.Info("Starting NADI daemon",
		"version", Version,
		"config_path", cliCfg.ConfigPath,
		"bridges", len(cfg.Bridges))

	metricsRegistry := metric.NewRegistry()
	sys, err := nadi.NewSystem(
		nadi.WithLogger(logger),
		nadi.WithMetrics(metricsRegistry.Metrics),
	)
	if err != nil {
		return fmt.Errorf("system setup: %w", err)
	}

	if err := registerBuiltins(sys, logger); err != nil {
		return fmt.Errorf("builtin types: %w", err)
	}

	bridges, bridgeHandles, err := startBridges(cfg, sys, logger)
	if err != nil {
		return err
	}
	defer stopBridges(bridges, logger)

	if err := applyBootstrap(cfg, sys, bridgeHandles, logger); err != nil {
		return fmt.Errorf("graph bootstrap: %w", err)
	}

	servers, gw := startServers(cfg, sys, metricsRegistry, logger)

	return awaitShutdown(servers, gw, shutdownTimeout, logger)
}

// startBridges creates, registers, and starts every configured NATS bridge.
// The returned handle map lets bootstrap connections reference bridges by
// name.
func startBridges(cfg *Config, sys *nadi.System, logger *slog.Logger) ([]*natsbridge.Bridge, map[string]envelope.Handle, error) {
	bridges := make([]*natsbridge.Bridge, 0, len(cfg.Bridges))
	handles := make(map[string]envelope.Handle, len(cfg.Bridges))
	for _, bc := range cfg.Bridges {
		bridgeCfg, err := bc.bridgeConfig()
		if err != nil {
			return bridges, nil, err
		}

		bridge, err := natsbridge.New(bridgeCfg, sys.Router(), natsbridge.WithLogger(logger))
		if err != nil {
			return bridges, nil, fmt.Errorf("bridge %q: %w", bc.Name, err)
		}

		handle, err := sys.Create(bridge.Receive)
		if err != nil {
			return bridges, nil, fmt.Errorf("bridge %q: %w", bc.Name, err)
		}
		if err := sys.SetDescriptor(handle, bridge.Descriptor()); err != nil {
			return bridges, nil, fmt.Errorf("bridge %q: %w", bc.Name, err)
		}
		bridge.Bind(handle)

		if err := bridge.Start(); err != nil {
			return bridges, nil, fmt.Errorf("bridge %q: %w", bc.Name, err)
		}
		bridges = append(bridges, bridge)
		handles[bc.Name] = handle

		slog.Info("Bridge started", "bridge", bc.Name, "node", uint64(handle))
	}
	return bridges, handles, nil
}

func stopBridges(bridges []*natsbridge.Bridge, logger *slog.Logger) {
	for _, b := range bridges {
		if err := b.Stop(); err != nil {
			logger.Warn("bridge stop failed", "error", err)
		}
	}
}

// startServers brings up the gateway and metrics HTTP listeners.
func startServers(cfg *Config, sys *nadi.System, metricsRegistry *metric.Registry, logger *slog.Logger) ([]*http.Server, *gateway.Gateway) {
	var servers []*http.Server
	var gw *gateway.Gateway

	if cfg.Gateway.Enabled {
		gw = gateway.New(sys.Registry(), sys.Router(), gateway.WithLogger(logger))
		mux := http.NewServeMux()
		mux.Handle(cfg.Gateway.Path, gw)
		server := &http.Server{Addr: cfg.Gateway.Listen, Handler: mux}
		servers = append(servers, server)
		go serveHTTP(server, "gateway", logger)
		slog.Info("Control gateway listening", "addr", cfg.Gateway.Listen, "path", cfg.Gateway.Path)
	}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(
			metricsRegistry.PrometheusRegistry(),
			promhttp.HandlerOpts{},
		))
		server := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		servers = append(servers, server)
		go serveHTTP(server, "metrics", logger)
		slog.Info("Metrics listening", "addr", cfg.Metrics.Listen, "path", cfg.Metrics.Path)
	}

	return servers, gw
}

func serveHTTP(server *http.Server, name string, logger *slog.Logger) {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "server", name, "error", err)
	}
}

// awaitShutdown blocks until a termination signal, then drains everything
// within the configured timeout.
func awaitShutdown(servers []*http.Server, gw *gateway.Gateway, timeout time.Duration, logger *slog.Logger) error {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals
	slog.Info("Shutting down", "signal", sig.String(), "timeout", timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for _, server := range servers {
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("http shutdown incomplete", "error", err)
		}
	}
	if gw != nil {
		if err := gw.Close(); err != nil {
			logger.Warn("gateway shutdown incomplete", "error", err)
		}
	}

	slog.Info("Shutdown complete")
	return nil
}
