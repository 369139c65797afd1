package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML configs can use "15s" / "4h" forms
type Duration time.Duration

// UnmarshalYAML parses a duration string
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %v", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration back to its string form
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the top-level Vitrine configuration
type Config struct {
	Listen   string         `yaml:"listen"`
	DataDir  string         `yaml:"dataDir"`
	Log      LogConfig      `yaml:"log"`
	Renderer RendererConfig `yaml:"renderer"`
	Pool     PoolConfig     `yaml:"pool"`
	Devices  []DeviceConfig `yaml:"devices"`
}

// LogConfig controls log output
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RendererConfig controls how browser sessions are launched
type RendererConfig struct {
	Binary         string   `yaml:"binary"`
	ProfileRoot    string   `yaml:"profileRoot"`
	IdlePage       string   `yaml:"idlePage"`
	StartMinimized bool     `yaml:"startMinimized"`
	ExtraArgs      []string `yaml:"extraArgs,omitempty"`
}

// PoolConfig controls health monitoring and recovery timing
type PoolConfig struct {
	ReachabilityInterval   Duration   `yaml:"reachabilityInterval"`
	ResponsivenessInterval Duration   `yaml:"responsivenessInterval"`
	ProbeTimeout           Duration   `yaml:"probeTimeout"`
	SessionProbeTimeout    Duration   `yaml:"sessionProbeTimeout"`
	MaxRecoveryAttempts    int        `yaml:"maxRecoveryAttempts"`
	Backoff                []Duration `yaml:"backoff,omitempty"`
	BackoffDefault         Duration   `yaml:"backoffDefault"`
	WaiterTimeout          Duration   `yaml:"waiterTimeout"`
	CloseTimeout           Duration   `yaml:"closeTimeout"`
	SettleDelay            Duration   `yaml:"settleDelay"`
	MaxCastErrors          int        `yaml:"maxCastErrors"`
	MaxCastInactivity      Duration   `yaml:"maxCastInactivity"`
	RecoveryRetryInterval  Duration   `yaml:"recoveryRetryInterval"`
	PreventiveRestarts     *bool      `yaml:"preventiveRestarts,omitempty"`
}

// DeviceConfig declares one capture device
type DeviceConfig struct {
	Address   string        `yaml:"address"`
	Name      string        `yaml:"name"`
	Display   DisplayConfig `yaml:"display"`
	AudioSink string        `yaml:"audioSink,omitempty"`
}

// DisplayConfig positions the renderer window for one device
type DisplayConfig struct {
	Width   int `yaml:"width"`
	Height  int `yaml:"height"`
	OffsetX int `yaml:"offsetX"`
	OffsetY int `yaml:"offsetY"`
}

// Default returns a Config populated with production defaults
func Default() *Config {
	enabled := true
	return &Config{
		Listen:  "127.0.0.1:7611",
		DataDir: "/var/lib/vitrine",
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
		Renderer: RendererConfig{
			Binary:      "/usr/bin/chromium",
			ProfileRoot: "/var/lib/vitrine/profiles",
			IdlePage:    "about:blank",
		},
		Pool: PoolConfig{
			ReachabilityInterval:   Duration(15 * time.Second),
			ResponsivenessInterval: Duration(4 * time.Hour),
			ProbeTimeout:           Duration(3 * time.Second),
			SessionProbeTimeout:    Duration(5 * time.Second),
			MaxRecoveryAttempts:    3,
			Backoff: []Duration{
				Duration(1 * time.Second),
				Duration(5 * time.Second),
				Duration(15 * time.Second),
			},
			BackoffDefault:        Duration(30 * time.Second),
			WaiterTimeout:         Duration(60 * time.Second),
			CloseTimeout:          Duration(10 * time.Second),
			SettleDelay:           Duration(2 * time.Second),
			MaxCastErrors:         5,
			MaxCastInactivity:     Duration(60 * time.Second),
			RecoveryRetryInterval: 0,
			PreventiveRestarts:    &enabled,
		},
	}
}

// Load reads a YAML config file and merges it over the defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for obvious mistakes
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("dataDir is required")
	}
	if c.Renderer.Binary == "" {
		return fmt.Errorf("renderer.binary is required")
	}
	if c.Renderer.ProfileRoot == "" {
		return fmt.Errorf("renderer.profileRoot is required")
	}
	if c.Pool.MaxRecoveryAttempts < 1 {
		return fmt.Errorf("pool.maxRecoveryAttempts must be at least 1")
	}
	if c.Pool.ProbeTimeout <= 0 {
		return fmt.Errorf("pool.probeTimeout must be positive")
	}
	if c.Pool.ReachabilityInterval <= 0 {
		return fmt.Errorf("pool.reachabilityInterval must be positive")
	}
	if c.Pool.ResponsivenessInterval <= 0 {
		return fmt.Errorf("pool.responsivenessInterval must be positive")
	}

	seen := make(map[string]bool)
	for i, dev := range c.Devices {
		if dev.Address == "" {
			return fmt.Errorf("devices[%d]: address is required", i)
		}
		if seen[dev.Address] {
			return fmt.Errorf("devices[%d]: duplicate address %s", i, dev.Address)
		}
		seen[dev.Address] = true
		if dev.Display.Width < 0 || dev.Display.Height < 0 {
			return fmt.Errorf("devices[%d]: display dimensions must not be negative", i)
		}
	}

	return nil
}

// PreventiveRestartsEnabled reports whether idle sessions are restarted
// after a recovery (defaults to true when unset)
func (c *PoolConfig) PreventiveRestartsEnabled() bool {
	if c.PreventiveRestarts == nil {
		return true
	}
	return *c.PreventiveRestarts
}
