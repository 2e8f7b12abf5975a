package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/skunkforce/node-agnostic-datastream-interface/descriptor"
	"github.com/skunkforce/node-agnostic-datastream-interface/natsbridge"
)

// Config is the daemon configuration, loaded from a JSON file.
type Config struct {
	Gateway  GatewayConfig  `json:"gateway"`
	Metrics  MetricsConfig  `json:"metrics"`
	Bridges  []BridgeConfig `json:"bridges"`
	Graph    GraphConfig    `json:"graph"`
	Shutdown ShutdownConfig `json:"shutdown"`
}

// GraphConfig bootstraps instances and connections at startup, applied
// through the control channel.
type GraphConfig struct {
	Instances   []InstanceConfig   `json:"instances"`
	Connections []ConnectionConfig `json:"connections"`
}

// InstanceConfig names one instance of a registered abstract node type.
type InstanceConfig struct {
	Abstract string `json:"abstract"`
	Name     string `json:"name"`
}

// ConnectionConfig is one directed edge of the bootstrap graph.
type ConnectionConfig struct {
	Source EndpointConfig `json:"source"`
	Target EndpointConfig `json:"target"`
}

// EndpointConfig references a node by instance or bridge name plus a channel
// number.
type EndpointConfig struct {
	Node    string `json:"node"`
	Channel uint32 `json:"channel"`
}

// GatewayConfig controls the WebSocket control endpoint.
type GatewayConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
	Path    string `json:"path"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
	Path    string `json:"path"`
}

// BridgeConfig declares one outbound NATS bridge node. Local nodes are
// connected to it through the control channel like to any other node.
type BridgeConfig struct {
	Name            string               `json:"name"`
	URL             string               `json:"url"`
	OutboundSubject string               `json:"outbound_subject"`
	Channels        []descriptor.Channel `json:"channels"`
	ConnectTimeout  string               `json:"connect_timeout,omitempty"`
}

// ShutdownConfig bounds graceful shutdown.
type ShutdownConfig struct {
	Timeout string `json:"timeout"`
}

func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Enabled: true,
			Listen:  ":8090",
			Path:    "/control",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  ":9090",
			Path:    "/metrics",
		},
		Shutdown: ShutdownConfig{Timeout: "30s"},
	}
}

// loadConfig reads the file at path, or returns defaults when path is empty.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Gateway.Enabled && c.Gateway.Listen == "" {
		return fmt.Errorf("gateway enabled without a listen address")
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics enabled without a listen address")
	}

	seen := make(map[string]bool, len(c.Bridges))
	for i, b := range c.Bridges {
		if b.Name == "" {
			return fmt.Errorf("bridge %d: missing name", i)
		}
		if seen[b.Name] {
			return fmt.Errorf("bridge %q: duplicate name", b.Name)
		}
		seen[b.Name] = true
		if _, err := b.bridgeConfig(); err != nil {
			return fmt.Errorf("bridge %q: %w", b.Name, err)
		}
	}

	for i, inst := range c.Graph.Instances {
		if inst.Abstract == "" || inst.Name == "" {
			return fmt.Errorf("graph instance %d: abstract and name are required", i)
		}
	}
	for i, conn := range c.Graph.Connections {
		if conn.Source.Node == "" || conn.Target.Node == "" {
			return fmt.Errorf("graph connection %d: source and target nodes are required", i)
		}
	}

	if _, err := c.ShutdownTimeout(); err != nil {
		return fmt.Errorf("shutdown timeout: %w", err)
	}
	return nil
}

// ShutdownTimeout parses the configured graceful shutdown bound.
func (c *Config) ShutdownTimeout() (time.Duration, error) {
	if c.Shutdown.Timeout == "" {
		return 30 * time.Second, nil
	}
	return time.ParseDuration(c.Shutdown.Timeout)
}

// bridgeConfig converts the file form into the bridge package's config.
func (b BridgeConfig) bridgeConfig() (natsbridge.Config, error) {
	cfg := natsbridge.Config{
		URL:             b.URL,
		Name:            b.Name,
		OutboundSubject: b.OutboundSubject,
		InputChannels:   b.Channels,
	}
	if b.ConnectTimeout != "" {
		timeout, err := time.ParseDuration(b.ConnectTimeout)
		if err != nil {
			return natsbridge.Config{}, fmt.Errorf("connect timeout: %w", err)
		}
		cfg.ConnectTimeout = timeout
	}
	if err := cfg.Validate(); err != nil {
		return natsbridge.Config{}, err
	}
	return cfg, nil
}
