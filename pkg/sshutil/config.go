package sshutil

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kevinburke/ssh_config"
)

// SSHHostEntry represents a parsed host entry from SSH config.
type SSHHostEntry struct {
	Alias        string // The Host pattern (alias)
	Hostname     string // The HostName value (actual host to connect to)
	User         string // The User value
	Port         string // The Port value
	IdentityFile string // The IdentityFile value, ~ expanded
}

// Description returns a user-friendly description of the host.
func (h SSHHostEntry) Description() string {
	parts := []string{}

	if h.Hostname != "" && h.Hostname != h.Alias {
		parts = append(parts, h.Hostname)
	}
	if h.User != "" {
		parts = append(parts, "user: "+h.User)
	}
	if h.Port != "" && h.Port != "22" {
		parts = append(parts, "port: "+h.Port)
	}

	if len(parts) == 0 {
		return h.Alias
	}
	return strings.Join(parts, ", ")
}

// DefaultSSHConfigPath returns ~/.ssh/config.
func DefaultSSHConfigPath() string {
	return filepath.Join(homeDir(), ".ssh", "config")
}

// SSHConfigResult is the parsed content of an SSH client config.
type SSHConfigResult struct {
	Hosts []SSHHostEntry
	// MatchLine is the 1-based line of the first Match directive, or 0.
	// Hosts defined after it are not visible.
	MatchLine int
}

// ParseSSHConfigFile parses the specified SSH config file and returns its
// concrete host aliases sorted by name. Wildcard patterns are skipped. A
// missing file yields no hosts and no error.
func ParseSSHConfigFile(configPath string) ([]SSHHostEntry, error) {
	res, err := ParseSSHConfigDetailed(configPath)
	if err != nil {
		return nil, err
	}
	return res.Hosts, nil
}

// ParseSSHConfigDetailed is ParseSSHConfigFile plus the Match directive
// position. kevinburke/ssh_config doesn't support Match, so everything from
// the first Match block on is ignored.
func ParseSSHConfigDetailed(configPath string) (*SSHConfigResult, error) {
	content, matchLine, err := preprocessSSHConfig(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &SSHConfigResult{}, nil
		}
		return nil, err
	}

	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}

	res := &SSHConfigResult{MatchLine: matchLine}
	seen := make(map[string]bool)

	for _, host := range cfg.Hosts {
		for _, pattern := range host.Patterns {
			alias := pattern.String()
			if strings.ContainsAny(alias, "*?!") || seen[alias] {
				continue
			}
			seen[alias] = true

			entry := SSHHostEntry{Alias: alias}
			entry.Hostname, _ = cfg.Get(alias, "HostName")
			entry.User, _ = cfg.Get(alias, "User")
			entry.Port, _ = cfg.Get(alias, "Port")
			if identity, _ := cfg.Get(alias, "IdentityFile"); identity != "" {
				entry.IdentityFile = expandPath(identity)
			}
			res.Hosts = append(res.Hosts, entry)
		}
	}

	sort.Slice(res.Hosts, func(i, j int) bool {
		return res.Hosts[i].Alias < res.Hosts[j].Alias
	})
	return res, nil
}
