package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agent462/drove/internal/pathutil"
)

// Protocol names the interactive terminal protocol used to reach a host.
type Protocol string

const (
	ProtocolSSH    Protocol = "ssh"
	ProtocolTelnet Protocol = "telnet"
)

// DefaultPort returns the well-known port for the protocol.
func (p Protocol) DefaultPort() int {
	if p == ProtocolTelnet {
		return 23
	}
	return 22
}

// Valid reports whether p is a supported protocol.
func (p Protocol) Valid() bool {
	return p == ProtocolSSH || p == ProtocolTelnet
}

// Config represents a drove inventory file.
type Config struct {
	Defaults  Defaults    `yaml:"defaults"`
	Inventory []GroupSpec `yaml:"inventory"`
}

// GroupSpec is one named group of hosts sharing protocol and credentials.
type GroupSpec struct {
	Name         string      `yaml:"name"`
	Protocol     Protocol    `yaml:"protocol,omitempty"`
	Username     string      `yaml:"username,omitempty"`
	Password     string      `yaml:"password,omitempty"`
	IdentityFile string      `yaml:"identity_file,omitempty"`
	Port         int         `yaml:"ports,omitempty"`
	Hosts        []HostEntry `yaml:"hosts"`
}

// Defaults holds engine and adapter tunables.
type Defaults struct {
	Workers        int      `yaml:"workers"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	ReadTimeout    Duration `yaml:"read_timeout"`
	HostTimeout    Duration `yaml:"host_timeout"`
	DelayFactor    float64  `yaml:"delay_factor"`
	LogDir         string   `yaml:"log_dir"`
	Insecure       bool     `yaml:"insecure"`
	KnownHosts     string   `yaml:"known_hosts,omitempty"`
}

// Duration wraps time.Duration to support YAML unmarshaling from strings like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dur
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// DefaultConfig returns a Config with the engine defaults and no hosts.
func DefaultConfig() *Config {
	return &Config{
		Defaults: Defaults{
			Workers:        40,
			ConnectTimeout: Duration{30 * time.Second},
			ReadTimeout:    Duration{30 * time.Second},
			HostTimeout:    Duration{90 * time.Second},
			DelayFactor:    3,
			LogDir:         "logs",
			Insecure:       true,
		},
	}
}

// SearchPaths returns the inventory locations tried when no explicit path is given,
// in priority order.
func SearchPaths() []string {
	paths := []string{filepath.Join("inventory", "hosts.yaml")}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			configDir = filepath.Join(home, ".config")
		}
	}
	if configDir != "" {
		paths = append(paths, filepath.Join(configDir, "drove", "hosts.yaml"))
	}
	return paths
}

// Find returns the inventory path to load. An explicit path wins and must exist;
// otherwise the first existing entry of SearchPaths is returned.
func Find(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("inventory file: %w", err)
		}
		return explicit, nil
	}
	for _, p := range SearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no inventory found (tried %v); use --inventory", SearchPaths())
}

// Load reads and parses an inventory YAML file from the given path. Relative
// identity_file and known_hosts paths are taken from the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading inventory file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	for i := range cfg.Inventory {
		cfg.Inventory[i].IdentityFile = pathutil.Resolve(base, cfg.Inventory[i].IdentityFile)
	}
	cfg.Defaults.KnownHosts = pathutil.Resolve(base, cfg.Defaults.KnownHosts)
	return cfg, nil
}

// Parse decodes inventory YAML on top of the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing inventory file: %w", err)
	}

	for i := range cfg.Inventory {
		if cfg.Inventory[i].Protocol == "" {
			cfg.Inventory[i].Protocol = ProtocolSSH
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid inventory: %w", err)
	}
	return cfg, nil
}

// Validate checks the config for logical errors.
func (c *Config) Validate() error {
	if c.Defaults.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", c.Defaults.Workers)
	}
	if c.Defaults.ConnectTimeout.Duration < 0 {
		return fmt.Errorf("connect_timeout must be non-negative, got %s", c.Defaults.ConnectTimeout)
	}
	if c.Defaults.ReadTimeout.Duration < 0 {
		return fmt.Errorf("read_timeout must be non-negative, got %s", c.Defaults.ReadTimeout)
	}
	if c.Defaults.HostTimeout.Duration < 0 {
		return fmt.Errorf("host_timeout must be non-negative, got %s", c.Defaults.HostTimeout)
	}
	if c.Defaults.DelayFactor < 0 {
		return fmt.Errorf("delay_factor must be non-negative, got %g", c.Defaults.DelayFactor)
	}

	for i, g := range c.Inventory {
		if g.Name == "" {
			return fmt.Errorf("group %d has no name", i)
		}
		if g.Protocol != "" && !g.Protocol.Valid() {
			return fmt.Errorf("group %q: unknown protocol %q (want ssh or telnet)", g.Name, g.Protocol)
		}
		if len(g.Hosts) == 0 {
			return fmt.Errorf("group %q has no hosts", g.Name)
		}
		if g.Port < 0 || g.Port > 65535 {
			return fmt.Errorf("group %q: invalid port %d", g.Name, g.Port)
		}
		for _, h := range g.Hosts {
			if h.Address == "" {
				return fmt.Errorf("group %q has a host entry without an address", g.Name)
			}
			if h.Port < 0 || h.Port > 65535 {
				return fmt.Errorf("group %q host %q: invalid port %d", g.Name, h.Address, h.Port)
			}
		}
	}

	return nil
}
