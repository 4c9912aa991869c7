// Package config defines the mcpipe configuration schema and its JSON
// loader. The file lives at ~/.mcpipe/config.json; a missing or unparseable
// file falls back to DefaultConfig so the CLI always starts.
package config

import "time"

// ServerConfig describes one named MCP server. Command-style entries run a
// subprocess over stdio; URL-style entries speak streamable HTTP or
// WebSocket. Exactly one of Command, URL, or Factory should be set.
type ServerConfig struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Dir     string            `json:"dir,omitempty"`

	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	// Factory names a registered hosted-server factory and its config.
	Factory    string         `json:"factory,omitempty"`
	FactoryCfg map[string]any `json:"factoryConfig,omitempty"`
}

// Kind classifies a server entry by which connection field it carries.
func (s ServerConfig) Kind() string {
	switch {
	case s.Command != "":
		return "stdio"
	case s.Factory != "":
		return "factory"
	case s.URL != "":
		return "http"
	default:
		return "invalid"
	}
}

// BridgeConfig holds local HTTP bridge settings.
type BridgeConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func defaultBridgeConfig() BridgeConfig {
	return BridgeConfig{Host: "127.0.0.1", Port: 18456}
}

// TimeoutsConfig tunes the session timers. Durations are in seconds in the
// file; zero disables the corresponding timer.
type TimeoutsConfig struct {
	IdleSeconds      int `json:"idleSeconds"`
	HeartbeatSeconds int `json:"heartbeatSeconds"`
	CallSeconds      int `json:"callSeconds"`
}

func defaultTimeoutsConfig() TimeoutsConfig {
	return TimeoutsConfig{IdleSeconds: 300, HeartbeatSeconds: 30, CallSeconds: 30}
}

// Idle returns the idle timeout as a duration.
func (t TimeoutsConfig) Idle() time.Duration {
	return time.Duration(t.IdleSeconds) * time.Second
}

// Heartbeat returns the heartbeat interval as a duration.
func (t TimeoutsConfig) Heartbeat() time.Duration {
	return time.Duration(t.HeartbeatSeconds) * time.Second
}

// Call returns the per-request timeout as a duration.
func (t TimeoutsConfig) Call() time.Duration {
	return time.Duration(t.CallSeconds) * time.Second
}

// ReconnectConfig tunes the reconnect backoff policy.
type ReconnectConfig struct {
	BaseMs     int `json:"baseMs"`
	JitterMs   int `json:"jitterMs"`
	MaxRetries int `json:"maxRetries"`
}

func defaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{BaseMs: 1000, JitterMs: 1000, MaxRetries: 3}
}

// Config is the root configuration object.
type Config struct {
	Servers   map[string]ServerConfig `json:"servers"`
	Bridge    BridgeConfig            `json:"bridge"`
	Timeouts  TimeoutsConfig          `json:"timeouts"`
	Reconnect ReconnectConfig         `json:"reconnect"`
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() Config {
	return Config{
		Servers:   map[string]ServerConfig{},
		Bridge:    defaultBridgeConfig(),
		Timeouts:  defaultTimeoutsConfig(),
		Reconnect: defaultReconnectConfig(),
	}
}
