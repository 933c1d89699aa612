package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Defaults.Workers != 40 {
		t.Errorf("default workers = %d, want 40", cfg.Defaults.Workers)
	}
	if cfg.Defaults.ConnectTimeout.Duration != 30*time.Second {
		t.Errorf("default connect timeout = %s, want 30s", cfg.Defaults.ConnectTimeout)
	}
	if cfg.Defaults.DelayFactor != 3 {
		t.Errorf("default delay factor = %g, want 3", cfg.Defaults.DelayFactor)
	}
	if cfg.Defaults.LogDir != "logs" {
		t.Errorf("default log dir = %q, want \"logs\"", cfg.Defaults.LogDir)
	}
}

func TestLoadValidConfig(t *testing.T) {
	content := `
defaults:
  workers: 10
  connect_timeout: 5s
  read_timeout: 1m
inventory:
  - name: core
    protocol: ssh
    username: admin
    password: secret
    hosts:
      - 10.0.0.1
      - 10.0.0.2:2222
      - {ip: 10.0.0.3, port: 2200, alias: db-1}
  - name: switches
    protocol: telnet
    username: cisco
    password: cisco
    ports: 2323
    hosts:
      - sw-01
`
	cfg := loadFromString(t, content)

	if len(cfg.Inventory) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(cfg.Inventory))
	}

	core := cfg.Inventory[0]
	if core.Name != "core" || core.Protocol != ProtocolSSH {
		t.Errorf("core = %q/%q, want core/ssh", core.Name, core.Protocol)
	}
	if len(core.Hosts) != 3 {
		t.Fatalf("core: expected 3 hosts, got %d", len(core.Hosts))
	}
	if core.Hosts[0].Address != "10.0.0.1" || core.Hosts[0].Port != 0 {
		t.Errorf("core.Hosts[0] = %+v, want bare 10.0.0.1", core.Hosts[0])
	}
	if core.Hosts[1].Address != "10.0.0.2" || core.Hosts[1].Port != 2222 {
		t.Errorf("core.Hosts[1] = %+v, want 10.0.0.2:2222", core.Hosts[1])
	}
	if core.Hosts[2].Alias != "db-1" || core.Hosts[2].Port != 2200 {
		t.Errorf("core.Hosts[2] = %+v, want alias db-1 port 2200", core.Hosts[2])
	}

	sw := cfg.Inventory[1]
	if sw.Protocol != ProtocolTelnet {
		t.Errorf("switches protocol = %q, want telnet", sw.Protocol)
	}
	if sw.Port != 2323 {
		t.Errorf("switches port = %d, want 2323", sw.Port)
	}

	if cfg.Defaults.Workers != 10 {
		t.Errorf("workers = %d, want 10", cfg.Defaults.Workers)
	}
	if cfg.Defaults.ConnectTimeout.Duration != 5*time.Second {
		t.Errorf("connect timeout = %s, want 5s", cfg.Defaults.ConnectTimeout)
	}
	if cfg.Defaults.ReadTimeout.Duration != time.Minute {
		t.Errorf("read timeout = %s, want 1m", cfg.Defaults.ReadTimeout)
	}
	// Omitted values keep their defaults.
	if cfg.Defaults.HostTimeout.Duration != 90*time.Second {
		t.Errorf("host timeout = %s, want 90s", cfg.Defaults.HostTimeout)
	}
}

func TestProtocolDefaultsToSSH(t *testing.T) {
	cfg := loadFromString(t, `
inventory:
  - name: test
    hosts: [host1]
`)
	if cfg.Inventory[0].Protocol != ProtocolSSH {
		t.Errorf("protocol = %q, want ssh", cfg.Inventory[0].Protocol)
	}
}

func TestDurationParsing(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"10s", 10 * time.Second},
		{"1m", time.Minute},
		{"2m30s", 2*time.Minute + 30*time.Second},
		{"500ms", 500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cfg := loadFromString(t, "defaults:\n  read_timeout: "+tt.input+"\n")
			if got := cfg.Defaults.ReadTimeout.Duration; got != tt.want {
				t.Errorf("parsed duration = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestInvalidDuration(t *testing.T) {
	if _, err := loadStringRaw("defaults:\n  read_timeout: notaduration\n"); err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
}

func TestInvalidHostPort(t *testing.T) {
	content := `
inventory:
  - name: test
    hosts: ["host1:abc"]
`
	if _, err := loadStringRaw(content); err == nil {
		t.Fatal("expected error for non-numeric port")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative workers", func(c *Config) { c.Defaults.Workers = -1 }},
		{"negative read timeout", func(c *Config) { c.Defaults.ReadTimeout = Duration{-time.Second} }},
		{"negative delay factor", func(c *Config) { c.Defaults.DelayFactor = -1 }},
		{"unnamed group", func(c *Config) {
			c.Inventory = []GroupSpec{{Hosts: []HostEntry{{Address: "a"}}}}
		}},
		{"unknown protocol", func(c *Config) {
			c.Inventory = []GroupSpec{{Name: "g", Protocol: "rlogin", Hosts: []HostEntry{{Address: "a"}}}}
		}},
		{"empty group", func(c *Config) {
			c.Inventory = []GroupSpec{{Name: "g"}}
		}},
		{"bad group port", func(c *Config) {
			c.Inventory = []GroupSpec{{Name: "g", Port: 70000, Hosts: []HostEntry{{Address: "a"}}}}
		}},
		{"host without address", func(c *Config) {
			c.Inventory = []GroupSpec{{Name: "g", Hosts: []HostEntry{{Alias: "x"}}}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/hosts.yaml"); err == nil {
		t.Error("expected error loading nonexistent file")
	}
}

func TestFindExplicitMissing(t *testing.T) {
	if _, err := Find("/nonexistent/path/hosts.yaml"); err == nil {
		t.Error("expected error for missing explicit inventory")
	}
}

func TestFindSearchPaths(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Chdir(t.TempDir())

	if _, err := Find(""); err == nil {
		t.Fatal("expected error when no inventory exists")
	}

	want := filepath.Join(dir, "drove", "hosts.yaml")
	if err := os.MkdirAll(filepath.Dir(want), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(want, []byte("inventory: []\n"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := Find("")
	if err != nil {
		t.Fatalf("Find() error: %v", err)
	}
	if got != want {
		t.Errorf("Find() = %q, want %q", got, want)
	}
}

// loadFromString is a test helper that writes content to a temp file, loads it,
// and fails the test if loading fails.
func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringRaw(content)
	if err != nil {
		t.Fatalf("failed to load inventory: %v", err)
	}
	return cfg
}

func loadStringRaw(content string) (*Config, error) {
	dir, err := os.MkdirTemp("", "drove-config-test")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "hosts.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return nil, err
	}
	return Load(path)
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts.yaml")
	content := `
defaults:
  known_hosts: known_hosts
inventory:
  - name: core
    identity_file: keys/core
    hosts: [10.0.0.1]
  - name: edge
    identity_file: /etc/drove/edge
    hosts: [10.0.0.2]
  - name: pw
    password: secret
    hosts: [10.0.0.3]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got, want := cfg.Inventory[0].IdentityFile, filepath.Join(dir, "keys", "core"); got != want {
		t.Errorf("core identity = %q, want %q", got, want)
	}
	if got := cfg.Inventory[1].IdentityFile; got != "/etc/drove/edge" {
		t.Errorf("edge identity = %q, want absolute path unchanged", got)
	}
	if got := cfg.Inventory[2].IdentityFile; got != "" {
		t.Errorf("pw identity = %q, want empty", got)
	}
	if got, want := cfg.Defaults.KnownHosts, filepath.Join(dir, "known_hosts"); got != want {
		t.Errorf("known_hosts = %q, want %q", got, want)
	}
}
