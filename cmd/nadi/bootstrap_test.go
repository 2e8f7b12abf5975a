package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nadi "github.com/skunkforce/node-agnostic-datastream-interface"
	"github.com/skunkforce/node-agnostic-datastream-interface/control"
	"github.com/skunkforce/node-agnostic-datastream-interface/descriptor"
	"github.com/skunkforce/node-agnostic-datastream-interface/envelope"
	"github.com/skunkforce/node-agnostic-datastream-interface/registry"
)

func newBootstrapSystem(t *testing.T) *nadi.System {
	t.Helper()

	sys, err := nadi.NewSystem()
	require.NoError(t, err)
	require.NoError(t, registerBuiltins(sys, slog.Default()))

	// A source type so connections into core.logger instances can be made.
	require.NoError(t, sys.RegisterAbstract(control.AbstractType{
		Name:    "test.source",
		Version: "1.0.0",
		Channels: descriptor.Channels{
			Output: []descriptor.Channel{{Number: 1, Name: "messages"}},
		},
		Factory: func(string) (registry.Receiver, error) { return nil, nil },
	}))
	return sys
}

func TestApplyBootstrapBuildsGraph(t *testing.T) {
	sys := newBootstrapSystem(t)

	cfg := defaultConfig()
	cfg.Graph = GraphConfig{
		Instances: []InstanceConfig{
			{Abstract: "test.source", Name: "src"},
			{Abstract: "core.logger", Name: "trace"},
		},
		Connections: []ConnectionConfig{
			{
				Source: EndpointConfig{Node: "src", Channel: 1},
				Target: EndpointConfig{Node: "trace", Channel: 1},
			},
		},
	}

	require.NoError(t, applyBootstrap(cfg, sys, nil, slog.Default()))

	instances := sys.Controller().Instances()
	assert.Contains(t, instances, "src")
	assert.Contains(t, instances, "trace")
	assert.Equal(t, 1, sys.Registry().ConnectionCount())

	// The bootstrap requester node is torn down again; only the controller
	// and the two instances remain.
	assert.Equal(t, 3, sys.Registry().Count())
}

func TestApplyBootstrapReportsFailures(t *testing.T) {
	sys := newBootstrapSystem(t)

	cfg := defaultConfig()
	cfg.Graph = GraphConfig{
		Instances: []InstanceConfig{
			{Abstract: "core.logger", Name: "trace"},
		},
		Connections: []ConnectionConfig{
			{
				// A confirmed-but-failed request must surface its own error,
				// not the outcome of the create before it.
				Source: EndpointConfig{Node: "ghost", Channel: 1},
				Target: EndpointConfig{Node: "trace", Channel: 1},
			},
		},
	}

	err := applyBootstrap(cfg, sys, nil, slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestApplyBootstrapUnknownAbstract(t *testing.T) {
	sys := newBootstrapSystem(t)

	cfg := defaultConfig()
	cfg.Graph = GraphConfig{
		Instances: []InstanceConfig{{Abstract: "no.such.type", Name: "x"}},
	}

	err := applyBootstrap(cfg, sys, nil, slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no.such.type")
}

func TestApplyBootstrapEmptyGraphIsNoop(t *testing.T) {
	sys := newBootstrapSystem(t)

	require.NoError(t, applyBootstrap(defaultConfig(), sys, nil, slog.Default()))
	assert.Equal(t, 1, sys.Registry().Count(), "only the controller exists")
}

func TestResolveEndpointPrefersBridgeHandles(t *testing.T) {
	bridges := map[string]envelope.Handle{"uplink": 7}

	ep := resolveEndpoint(EndpointConfig{Node: "uplink", Channel: 2}, bridges)
	assert.False(t, ep.ByName)
	assert.Equal(t, envelope.Handle(7), ep.Handle)
	assert.Equal(t, envelope.Channel(2), ep.Channel)

	ep = resolveEndpoint(EndpointConfig{Node: "trace", Channel: 1}, bridges)
	assert.True(t, ep.ByName)
	assert.Equal(t, "trace", ep.Name)
}
