// Package srvconfig loads the ambient process configuration that has no
// resolv.conf grammar of its own: listen addresses, queue sizing, the
// probe name, and the server port's rate-limit tunables.
package srvconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// QueueSection mirrors the request-queue tunables from spec §3's global
// state, exposed here so an operator can override them without touching
// resolv.conf (which has no grammar for them).
type QueueSection struct {
	MaxInflight          int `yaml:"max_inflight,omitempty"`
	RequestTimeoutMillis int `yaml:"request_timeout_ms,omitempty"`
	MaxReissues          int `yaml:"max_reissues,omitempty"`
	MaxRetransmits       int `yaml:"max_retransmits,omitempty"`
	MaxNameserverTimeout int `yaml:"max_nameserver_timeout,omitempty"`
}

// ProbeSection configures the nameserver-health recovery probe.
type ProbeSection struct {
	Name string `yaml:"name,omitempty"`
}

// RateLimitSection holds per-client limiter values for the server port.
// Load and Default fill it in, but nothing in this module passes it on:
// resolver.AddServerPort builds its respond.Config without a RateLimit, so
// the port runs with respond.DefaultRateLimitConfig.
type RateLimitSection struct {
	QueriesPerSecond float64 `yaml:"queries_per_second,omitempty"`
	BurstSize        int     `yaml:"burst_size,omitempty"`
}

// ServerSection configures the optional authoritative-responder port.
type ServerSection struct {
	Listen string `yaml:"listen,omitempty"`
}

// MetricsSection configures the Prometheus exporter.
type MetricsSection struct {
	Listen string `yaml:"listen,omitempty"`
}

// ProcessConfig is the top-level structure of the YAML sidecar file.
type ProcessConfig struct {
	Queue     QueueSection     `yaml:"queue"`
	Probe     ProbeSection     `yaml:"probe"`
	RateLimit RateLimitSection `yaml:"rate_limit"`
	Server    ServerSection    `yaml:"server"`
	Metrics   MetricsSection   `yaml:"metrics"`
}

// RequestTimeout returns the configured queue timeout as a time.Duration.
func (c *ProcessConfig) RequestTimeout() time.Duration {
	return time.Duration(c.Queue.RequestTimeoutMillis) * time.Millisecond
}

// Default returns a ProcessConfig populated with the same defaults
// internal/reqqueue and internal/nameserver apply internally, so a caller
// can always start from this and override only what it needs.
func Default() ProcessConfig {
	return ProcessConfig{
		Queue: QueueSection{
			MaxInflight:          64,
			RequestTimeoutMillis: 5000,
			MaxReissues:          1,
			MaxRetransmits:       3,
			MaxNameserverTimeout: 3,
		},
		Probe: ProbeSection{Name: "www.google.com."},
		RateLimit: RateLimitSection{
			QueriesPerSecond: 100,
			BurstSize:        200,
		},
		Metrics: MetricsSection{Listen: ":9153"},
	}
}

// Load reads path, merging its contents over Default(): any field absent
// from the YAML (zero value) keeps the default.
func Load(path string) (ProcessConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("srvconfig: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("srvconfig: parse %s: %w", path, err)
	}

	return cfg, nil
}
