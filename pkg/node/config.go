package node

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hebbarp/ahoy/pkg/discovery"
)

// Config holds one node's configuration. Zero fields fall back to defaults,
// so a config file only needs to name what it changes.
type Config struct {
	Username   string   `yaml:"username"`
	ListenAddr string   `yaml:"listen_addr"`
	Advertise  string   `yaml:"advertise,omitempty"`
	Secret     string   `yaml:"secret,omitempty"`
	DBPath     string   `yaml:"db_path,omitempty"` // empty disables the chat log
	Autojoin   []string `yaml:"autojoin,omitempty"`

	Discovery DiscoveryConfig `yaml:"discovery,omitempty"`
	Log       LogConfig       `yaml:"log,omitempty"`
}

// DiscoveryConfig controls the announcement schedule.
type DiscoveryConfig struct {
	Disabled       bool   `yaml:"disabled,omitempty"`
	Group          string `yaml:"group,omitempty"`
	IntervalSecs   int    `yaml:"interval_seconds,omitempty"`
	InitialDelayMS int    `yaml:"initial_delay_ms,omitempty"`
}

// LogConfig selects log level and format.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr: ":7100",
		Discovery: DiscoveryConfig{
			Group: discovery.DefaultGroup,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI flag
	if err != nil {
		return cfg, fmt.Errorf("node: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("node: parse config: %w", err)
	}
	return cfg, nil
}

func (c DiscoveryConfig) toDiscovery() discovery.Config {
	out := discovery.DefaultConfig()
	if c.Group != "" {
		out.Group = c.Group
	}
	if c.IntervalSecs > 0 {
		out.Interval = time.Duration(c.IntervalSecs) * time.Second
	}
	if c.InitialDelayMS > 0 {
		out.InitialDelay = time.Duration(c.InitialDelayMS) * time.Millisecond
	}
	return out
}
