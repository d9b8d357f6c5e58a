// Package config loads the PRTP engine's tunable constants from an optional
// YAML file. CLI flags take precedence over file values, which in turn take
// precedence over the built-in defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every constant the spec allows an implementer to tune.
// Fields absent from a loaded file keep DefaultConfig's values.
type Config struct {
	Reliability ReliabilityConfig `yaml:"reliability"`
	Congestion  CongestionConfig  `yaml:"congestion"`
	Handshake   HandshakeConfig   `yaml:"handshake"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ReliabilityConfig covers the send-window / timer design constants of §4.3.
type ReliabilityConfig struct {
	TimeoutMs          int `yaml:"timeout_ms"`
	DupAckThreshold    int `yaml:"dup_ack_threshold"`
	MaxPayload         int `yaml:"max_payload"`
	AdvertisedWindow   int `yaml:"advertised_window"`
	SendBufferSegments int `yaml:"send_buffer_segments"`
	RetransmitCeiling  int `yaml:"retransmit_ceiling"`
}

// CongestionConfig covers the AIMD controller's starting parameters of §4.4.
type CongestionConfig struct {
	InitialCwnd     float64 `yaml:"initial_cwnd"`
	InitialSsthresh float64 `yaml:"initial_ssthresh"`
}

// HandshakeConfig covers the open/close retry ceilings of §4.6/§9.
type HandshakeConfig struct {
	SynRetries   int `yaml:"syn_retries"`
	SynTimeoutMs int `yaml:"syn_timeout_ms"`
}

// MetricsConfig controls the optional Prometheus/health endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Load reads path, overlays it onto DefaultConfig, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig returns the design constants fixed by spec §6/§9.
func DefaultConfig() *Config {
	return &Config{
		Reliability: ReliabilityConfig{
			TimeoutMs:          1000,
			DupAckThreshold:    3,
			MaxPayload:         1024,
			AdvertisedWindow:   8192,
			SendBufferSegments: 256,
			RetransmitCeiling:  10,
		},
		Congestion: CongestionConfig{
			InitialCwnd:     1.0,
			InitialSsthresh: 64.0,
		},
		Handshake: HandshakeConfig{
			SynRetries:   5,
			SynTimeoutMs: 1000,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  ":9100",
		},
	}
}

// Validate rejects configurations that would violate the spec's invariants.
func (c *Config) Validate() error {
	if c.Reliability.TimeoutMs <= 0 {
		return fmt.Errorf("reliability.timeout_ms must be positive")
	}
	if c.Reliability.DupAckThreshold < 1 {
		return fmt.Errorf("reliability.dup_ack_threshold must be >= 1")
	}
	if c.Reliability.MaxPayload <= 0 || c.Reliability.MaxPayload > 1024 {
		return fmt.Errorf("reliability.max_payload must be in (0, 1024]")
	}
	if c.Reliability.AdvertisedWindow <= 0 {
		return fmt.Errorf("reliability.advertised_window must be positive")
	}
	if c.Reliability.SendBufferSegments < 1 {
		return fmt.Errorf("reliability.send_buffer_segments must be >= 1")
	}
	if c.Reliability.RetransmitCeiling < 1 {
		return fmt.Errorf("reliability.retransmit_ceiling must be >= 1")
	}
	if c.Congestion.InitialCwnd < 1.0 {
		return fmt.Errorf("congestion.initial_cwnd must be >= 1.0")
	}
	if c.Congestion.InitialSsthresh < 2.0 {
		return fmt.Errorf("congestion.initial_ssthresh must be >= 2.0")
	}
	if c.Handshake.SynRetries < 1 {
		return fmt.Errorf("handshake.syn_retries must be >= 1")
	}
	if c.Handshake.SynTimeoutMs <= 0 {
		return fmt.Errorf("handshake.syn_timeout_ms must be positive")
	}
	return nil
}

// TimeoutInterval is Reliability.TimeoutMs as a time.Duration.
func (c *Config) TimeoutInterval() time.Duration {
	return time.Duration(c.Reliability.TimeoutMs) * time.Millisecond
}

// SynTimeout is Handshake.SynTimeoutMs as a time.Duration.
func (c *Config) SynTimeout() time.Duration {
	return time.Duration(c.Handshake.SynTimeoutMs) * time.Millisecond
}

// WriteExampleConfig writes a commented starter config to path.
func WriteExampleConfig(path string) error {
	return os.WriteFile(path, []byte(exampleConfig), 0o644)
}

const exampleConfig = `# PRTP engine configuration. Every field has a built-in default;
# this file only needs to list the values you want to override.

reliability:
  timeout_ms: 1000
  dup_ack_threshold: 3
  max_payload: 1024
  advertised_window: 8192
  send_buffer_segments: 256
  retransmit_ceiling: 10

congestion:
  initial_cwnd: 1.0
  initial_ssthresh: 64.0

handshake:
  syn_retries: 5
  syn_timeout_ms: 1000

metrics:
  enabled: false
  listen: ":9100"
`
