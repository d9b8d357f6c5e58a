package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("reliability defaults", func(t *testing.T) {
		if cfg.Reliability.TimeoutMs != 1000 {
			t.Errorf("TimeoutMs = %d, want 1000", cfg.Reliability.TimeoutMs)
		}
		if cfg.Reliability.DupAckThreshold != 3 {
			t.Errorf("DupAckThreshold = %d, want 3", cfg.Reliability.DupAckThreshold)
		}
		if cfg.Reliability.MaxPayload != 1024 {
			t.Errorf("MaxPayload = %d, want 1024", cfg.Reliability.MaxPayload)
		}
		if cfg.Reliability.AdvertisedWindow != 8192 {
			t.Errorf("AdvertisedWindow = %d, want 8192", cfg.Reliability.AdvertisedWindow)
		}
	})

	t.Run("congestion defaults", func(t *testing.T) {
		if cfg.Congestion.InitialCwnd != 1.0 {
			t.Errorf("InitialCwnd = %v, want 1.0", cfg.Congestion.InitialCwnd)
		}
		if cfg.Congestion.InitialSsthresh != 64.0 {
			t.Errorf("InitialSsthresh = %v, want 64.0", cfg.Congestion.InitialSsthresh)
		}
	})

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prtp.yaml")
	contents := "reliability:\n  timeout_ms: 2500\ncongestion:\n  initial_ssthresh: 32\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Reliability.TimeoutMs != 2500 {
		t.Errorf("TimeoutMs = %d, want 2500", cfg.Reliability.TimeoutMs)
	}
	if cfg.Congestion.InitialSsthresh != 32 {
		t.Errorf("InitialSsthresh = %v, want 32", cfg.Congestion.InitialSsthresh)
	}
	// Untouched fields keep their default.
	if cfg.Reliability.MaxPayload != 1024 {
		t.Errorf("MaxPayload = %d, want 1024 (untouched default)", cfg.Reliability.MaxPayload)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"zero timeout", func(c *Config) { c.Reliability.TimeoutMs = 0 }},
		{"zero dup ack threshold", func(c *Config) { c.Reliability.DupAckThreshold = 0 }},
		{"oversized payload", func(c *Config) { c.Reliability.MaxPayload = 2048 }},
		{"zero advertised window", func(c *Config) { c.Reliability.AdvertisedWindow = 0 }},
		{"cwnd below 1", func(c *Config) { c.Congestion.InitialCwnd = 0.5 }},
		{"ssthresh below 2", func(c *Config) { c.Congestion.InitialSsthresh = 1 }},
		{"zero syn retries", func(c *Config) { c.Handshake.SynRetries = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mut(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestWriteExampleConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "example.yaml")
	if err := WriteExampleConfig(path); err != nil {
		t.Fatalf("WriteExampleConfig: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(generated example): %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("generated example should validate: %v", err)
	}
}
