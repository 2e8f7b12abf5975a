package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	nadi "github.com/skunkforce/node-agnostic-datastream-interface"
	"github.com/skunkforce/node-agnostic-datastream-interface/control"
	"github.com/skunkforce/node-agnostic-datastream-interface/controlclient"
	"github.com/skunkforce/node-agnostic-datastream-interface/descriptor"
	"github.com/skunkforce/node-agnostic-datastream-interface/envelope"
	"github.com/skunkforce/node-agnostic-datastream-interface/registry"
)

// loggerNode is the built-in sink type: it logs envelope metadata and
// releases. Useful for wiring a graph before real node libraries are linked
// in, and for tracing live traffic.
type loggerNode struct {
	name   string
	logger *slog.Logger
}

func (n *loggerNode) Receive(env *envelope.Envelope) {
	defer env.Release()
	n.logger.Info("envelope received",
		"instance", n.name,
		"channel", uint32(env.Channel),
		"sender", uint64(env.Sender),
		"meta", env.Meta,
		"payload_bytes", len(env.Data))
}

// registerBuiltins publishes the abstract node types the daemon ships with.
func registerBuiltins(sys *nadi.System, logger *slog.Logger) error {
	return sys.RegisterAbstract(control.AbstractType{
		Name:        "core.logger",
		Version:     Version,
		Description: "logs received envelopes",
		Channels: descriptor.Channels{
			Input: []descriptor.Channel{{Number: 1, Name: "messages"}},
		},
		Factory: func(instanceName string) (registry.Receiver, error) {
			return &loggerNode{name: instanceName, logger: logger}, nil
		},
	})
}

// applyBootstrap creates the configured instances and connections through
// the control channel, exactly as an external client would.
func applyBootstrap(cfg *Config, sys *nadi.System, bridgeHandles map[string]envelope.Handle, logger *slog.Logger) error {
	if len(cfg.Graph.Instances) == 0 && len(cfg.Graph.Connections) == 0 {
		return nil
	}

	var replies []map[string]any
	requester, err := sys.Create(func(env *envelope.Envelope) {
		defer env.Release()
		var reply map[string]any
		if err := json.Unmarshal([]byte(env.Meta), &reply); err != nil {
			logger.Error("unreadable bootstrap confirm", "error", err)
			return
		}
		replies = append(replies, reply)
	})
	if err != nil {
		return fmt.Errorf("bootstrap requester: %w", err)
	}
	defer func() {
		if err := sys.Destroy(requester); err != nil {
			logger.Warn("bootstrap requester teardown failed", "error", err)
		}
	}()
	if err := sys.SetDescriptor(requester, descriptor.New(Version, "bootstrap requester", descriptor.Channels{
		Input:  []descriptor.Channel{{Number: envelope.ChannelConfiguration, Name: "configuration"}},
		Output: []descriptor.Channel{{Number: envelope.ChannelConfigureContext, Name: "configure context"}},
	})); err != nil {
		return fmt.Errorf("bootstrap requester: %w", err)
	}

	// Delivery is synchronous, so the confirm for each request is in place
	// when Send returns.
	execute := func(what string, req controlclient.Request) error {
		before := len(replies)
		if err := sys.Send(req.Envelope(requester), envelope.ContextHandle); err != nil {
			return fmt.Errorf("%s: %w", what, err)
		}
		if len(replies) <= before {
			return fmt.Errorf("%s: no confirm received", what)
		}
		reply := replies[len(replies)-1]
		if reply["status"] != "ok" {
			return fmt.Errorf("%s: %v", what, reply["message"])
		}
		return nil
	}

	for _, inst := range cfg.Graph.Instances {
		what := fmt.Sprintf("creating %q as %s", inst.Name, inst.Abstract)
		if err := execute(what, controlclient.NodeCreate(inst.Abstract, inst.Name)); err != nil {
			return err
		}
		logger.Info("bootstrap instance created", "instance", inst.Name, "abstract", inst.Abstract)
	}

	for _, conn := range cfg.Graph.Connections {
		source := resolveEndpoint(conn.Source, bridgeHandles)
		target := resolveEndpoint(conn.Target, bridgeHandles)
		what := fmt.Sprintf("connecting %s -> %s", conn.Source.Node, conn.Target.Node)
		if err := execute(what, controlclient.Connect(source, target)); err != nil {
			return err
		}
		logger.Info("bootstrap connection made",
			"source", conn.Source.Node, "source_channel", conn.Source.Channel,
			"target", conn.Target.Node, "target_channel", conn.Target.Channel)
	}

	return nil
}

// resolveEndpoint maps a configured endpoint onto the control message form.
// Bridge names resolve to the handles allocated at startup; everything else
// is referenced by instance name and resolved by the controller.
func resolveEndpoint(ep EndpointConfig, bridgeHandles map[string]envelope.Handle) control.Endpoint {
	if handle, isBridge := bridgeHandles[ep.Node]; isBridge {
		return control.HandleEndpoint(handle, envelope.Channel(ep.Channel))
	}
	return control.NamedEndpoint(ep.Node, envelope.Channel(ep.Channel))
}
