package node

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/hebbarp/ahoy/pkg/discovery"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
username: alice
listen_addr: ":9200"
secret: hunter2
autojoin: ["#general", "#random"]
discovery:
  interval_seconds: 5
log:
  level: debug
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Username != "alice" || cfg.ListenAddr != ":9200" || cfg.Secret != "hunter2" {
		t.Fatalf("config = %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.Autojoin, []string{"#general", "#random"}) {
		t.Fatalf("autojoin = %v", cfg.Autojoin)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level = %q", cfg.Log.Level)
	}
	// Untouched fields keep their defaults.
	if cfg.Log.Format != "text" || cfg.Discovery.Group != discovery.DefaultGroup {
		t.Fatalf("defaults lost: %+v", cfg)
	}

	dc := cfg.Discovery.toDiscovery()
	if dc.Interval != 5*time.Second {
		t.Fatalf("interval = %v", dc.Interval)
	}
	if dc.InitialDelay != discovery.DefaultInitialDelay {
		t.Fatalf("initial delay = %v", dc.InitialDelay)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadConfigRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "listen_addr: [not: a, string")
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
