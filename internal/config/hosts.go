package config

import (
	"fmt"
	"net"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/kevinburke/ssh_config"
	"gopkg.in/yaml.v3"

	"github.com/agent462/drove/internal/pathutil"
)

// Host describes one remote endpoint. Values are resolved once by ResolveHosts
// and never modified afterwards.
type Host struct {
	Address      string // hostname or IP to dial
	Port         int
	User         string
	Password     string
	IdentityFile string
	Protocol     Protocol
	Group        string
	Alias        string // display identity; defaults to address:port
}

// Addr returns the dialable host:port form.
func (h Host) Addr() string {
	return net.JoinHostPort(h.Address, strconv.Itoa(h.Port))
}

// String returns the alias, which is what operators see.
func (h Host) String() string {
	return h.Alias
}

// HostEntry is one item under a group's hosts list. It accepts a bare
// address ("10.0.0.1"), an address with port ("10.0.0.1:2222"), or a mapping
// with ip, port and alias keys.
type HostEntry struct {
	Address string `yaml:"ip"`
	Port    int    `yaml:"port,omitempty"`
	Alias   string `yaml:"alias,omitempty"`
}

func (e *HostEntry) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		addr, port, err := splitAddrPort(s)
		if err != nil {
			return err
		}
		e.Address, e.Port = addr, port
		return nil
	}

	type plain HostEntry
	var p plain
	if err := value.Decode(&p); err != nil {
		return fmt.Errorf("host entry at line %d: %w", value.Line, err)
	}
	*e = HostEntry(p)
	return nil
}

// splitAddrPort parses "host" or "host:port". Bare IPv6 literals without a
// port are returned unchanged.
func splitAddrPort(s string) (string, int, error) {
	s = strings.TrimSpace(s)
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return s, 0, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("host entry %q: invalid port %q", s, portStr)
	}
	return host, port, nil
}

// ResolveHosts flattens the inventory into Host descriptors in file order.
// A filter of "" or "all" selects every group; anything else must match a
// group name exactly or as a glob pattern.
func ResolveHosts(cfg *Config, filter string) ([]Host, error) {
	matchAll := filter == "" || filter == "all"
	if !matchAll {
		if _, err := path.Match(filter, ""); err != nil {
			return nil, fmt.Errorf("invalid group filter %q: %w", filter, err)
		}
	}

	var hosts []Host
	for _, g := range cfg.Inventory {
		if !matchAll {
			if ok, _ := path.Match(filter, g.Name); !ok {
				continue
			}
		}

		proto := g.Protocol
		if proto == "" {
			proto = ProtocolSSH
		}
		for _, e := range g.Hosts {
			h := Host{
				Address:      e.Address,
				Port:         e.Port,
				User:         g.Username,
				Password:     g.Password,
				IdentityFile: pathutil.ExpandHome(g.IdentityFile),
				Protocol:     proto,
				Group:        g.Name,
				Alias:        e.Alias,
			}
			if h.Port == 0 {
				h.Port = g.Port
			}
			if proto == ProtocolSSH {
				MergeSSHConfig(&h)
			}
			if h.Port == 0 {
				h.Port = proto.DefaultPort()
			}
			if h.Alias == "" {
				h.Alias = fmt.Sprintf("%s:%d", h.Address, h.Port)
			}
			hosts = append(hosts, h)
		}
	}

	return hosts, nil
}

// Groups returns the group names in inventory order.
func (c *Config) Groups() []string {
	names := make([]string, 0, len(c.Inventory))
	for _, g := range c.Inventory {
		names = append(names, g.Name)
	}
	return names
}

// MergeSSHConfig reads ~/.ssh/config and fills in User, Port and IdentityFile
// for the host when the inventory left them unset. Lookups use the address.
func MergeSSHConfig(host *Host) {
	if host.User == "" {
		if user := sshConfigGet(host.Address, "User"); user != "" {
			host.User = user
		}
	}

	if host.Port == 0 {
		if portStr := sshConfigGet(host.Address, "Port"); portStr != "" {
			// ssh_config reports its built-in default of 22 for unknown hosts.
			if port, err := strconv.Atoi(portStr); err == nil && port > 0 && port != 22 {
				host.Port = port
			}
		}
	}

	if host.IdentityFile == "" && host.Password == "" {
		if identity := sshConfigGet(host.Address, "IdentityFile"); identity != "" {
			expanded := pathutil.ExpandHome(identity)
			if _, err := os.Stat(expanded); err == nil {
				host.IdentityFile = expanded
			}
		}
	}
}

// sshConfigGet looks up a key for a host in the user's SSH config.
func sshConfigGet(hostname, key string) string {
	val, err := ssh_config.GetStrict(hostname, key)
	if err != nil {
		return ""
	}
	return val
}
