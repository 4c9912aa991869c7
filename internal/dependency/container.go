// Package dependency wires core mcpipe services using go.uber.org/dig.
package dependency

import (
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/dig"

	"github.com/mcpipe/mcpipe/internal/config"
	"github.com/mcpipe/mcpipe/internal/runner"
	"github.com/mcpipe/mcpipe/internal/transport"
)

// Container holds the resolved session singletons.
// Callers use the typed getter methods; they never need to import dig directly.
type Container struct {
	cfg *config.Config
	run *runner.Runner
}

func (c *Container) Config() *config.Config { return c.cfg }
func (c *Container) Runner() *runner.Runner { return c.run }

// ServerName is a named string type so dig can distinguish the selected
// server entry from plain strings.
type ServerName string

// Mode selects the runner variant.
type Mode int

const (
	// ModeStdio relays stdin/stdout to the remote transport.
	ModeStdio Mode = iota
	// ModeBridge serves the local HTTP bridge in front of the transport.
	ModeBridge
)

// New builds and wires a runner for the named server entry from cfg.
func New(cfg *config.Config, name string, mode Mode) (*Container, error) {
	d := dig.New()

	if err := d.Provide(func() *config.Config { return cfg }); err != nil {
		return nil, err
	}
	if err := d.Provide(func() ServerName { return ServerName(name) }); err != nil {
		return nil, err
	}
	if err := d.Provide(func() Mode { return mode }); err != nil {
		return nil, err
	}
	if err := d.Provide(resolveServer); err != nil {
		return nil, err
	}
	if err := d.Provide(newBackoff); err != nil {
		return nil, err
	}
	if err := d.Provide(newTransportFactory); err != nil {
		return nil, err
	}
	if err := d.Provide(newRunnerOptions); err != nil {
		return nil, err
	}
	if err := d.Provide(runner.New); err != nil {
		return nil, err
	}

	var result *Container
	err := d.Invoke(func(run *runner.Runner) {
		result = &Container{cfg: cfg, run: run}
	})
	return result, err
}

func resolveServer(cfg *config.Config, name ServerName) (config.ServerConfig, error) {
	sc, ok := cfg.Servers[string(name)]
	if !ok {
		return config.ServerConfig{}, fmt.Errorf("server %q not found in %s", name, config.ConfigPath())
	}
	if sc.Kind() == "invalid" {
		return config.ServerConfig{}, fmt.Errorf("server %q has neither command, url, nor factory", name)
	}
	return sc, nil
}

func newBackoff(cfg *config.Config) transport.Backoff {
	rc := cfg.Reconnect
	b := transport.DefaultBackoff()
	if rc.BaseMs > 0 {
		b.Base = time.Duration(rc.BaseMs) * time.Millisecond
	}
	if rc.JitterMs > 0 {
		b.Jitter = time.Duration(rc.JitterMs) * time.Millisecond
	}
	if rc.MaxRetries > 0 {
		b.MaxRetries = rc.MaxRetries
	}
	return b
}

// newTransportFactory returns the per-connection transport constructor. For
// streamable HTTP it captures the previous instance so a reconnect can
// resume the server-assigned session.
func newTransportFactory(sc config.ServerConfig) (runner.TransportFactory, error) {
	switch sc.Kind() {
	case "stdio":
		return func(events transport.Events) (transport.Transport, error) {
			return transport.NewStdio(transport.StdioConfig{
				Command: sc.Command,
				Args:    sc.Args,
				Env:     sc.Env,
				Dir:     sc.Dir,
			}, events)
		}, nil
	case "http":
		if strings.HasPrefix(sc.URL, "ws://") || strings.HasPrefix(sc.URL, "wss://") {
			return func(events transport.Events) (transport.Transport, error) {
				return transport.NewWS(transport.WSConfig{URL: sc.URL, Headers: sc.Headers}, events)
			}, nil
		}
		var last *transport.StreamHTTP
		return func(events transport.Events) (transport.Transport, error) {
			streamCfg := transport.StreamConfig{URL: sc.URL, Headers: sc.Headers}
			if last != nil {
				streamCfg.SessionID = last.SessionID()
			}
			t, err := transport.NewStreamHTTP(streamCfg, events)
			if err != nil {
				return nil, err
			}
			last = t
			return t, nil
		}, nil
	default:
		return nil, fmt.Errorf("server kind %q has no transport", sc.Kind())
	}
}

func newRunnerOptions(cfg *config.Config, name ServerName, mode Mode, factory runner.TransportFactory, backoff transport.Backoff) runner.Options {
	opts := runner.Options{
		Name:              string(name),
		NewTransport:      factory,
		Backoff:           backoff,
		IdleTimeout:       cfg.Timeouts.Idle(),
		HeartbeatInterval: cfg.Timeouts.Heartbeat(),
		BridgeTimeout:     cfg.Timeouts.Call(),
	}
	switch mode {
	case ModeStdio:
		opts.Stdio = true
	case ModeBridge:
		opts.BridgeAddr = net.JoinHostPort(cfg.Bridge.Host, fmt.Sprint(cfg.Bridge.Port))
	}
	return opts
}
