package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rileyhilliard/forkterm/internal/errors"
	"github.com/rileyhilliard/forkterm/pkg/sshutil"
	"gopkg.in/yaml.v3"
)

// HostStore holds the named SSH hosts loaded from the hosts file. It is
// read-only after loading and safe for concurrent use.
type HostStore struct {
	path     string
	hosts    map[string]HostConfig
	lower    map[string]string
	problems []error
}

// HostOption configures LoadHosts.
type HostOption func(*hostLoader)

type hostLoader struct {
	sshConfigPath string
	defaultUser   string
}

// WithSSHConfigFile back-fills hostname, user, port and identity file from an
// OpenSSH client config. Explicit hosts-file values always win.
func WithSSHConfigFile(path string) HostOption {
	return func(l *hostLoader) { l.sshConfigPath = path }
}

// WithDefaultUser sets the user for hosts that name none, in either file.
func WithDefaultUser(user string) HostOption {
	return func(l *hostLoader) { l.defaultUser = user }
}

// LoadHosts reads the hosts file. A missing file yields an empty store.
// Entries are decoded and validated one at a time; a bad entry is dropped and
// reported through Problems while the rest still load. Only an unreadable file
// or a document that is not a mapping is an error.
func LoadHosts(path string, opts ...HostOption) (*HostStore, error) {
	l := &hostLoader{}
	for _, opt := range opts {
		opt(l)
	}
	if l.defaultUser == "" {
		l.defaultUser = localUser()
	}

	store := &HostStore{
		path:  path,
		hosts: make(map[string]HostConfig),
		lower: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store, nil
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot read hosts file: "+path,
			"Check file permissions")
	}

	hostsNode, err := hostsMapping(data)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Hosts file is not valid: "+path,
			"Expected a top-level 'hosts:' map keyed by host name")
	}
	if hostsNode == nil {
		return store, nil
	}

	sshHosts := l.sshConfigEntries()

	for i := 0; i+1 < len(hostsNode.Content); i += 2 {
		name := hostsNode.Content[i].Value
		h, err := decodeHost(name, hostsNode.Content[i+1])
		if err == nil {
			h = backfill(h, sshHosts[name], l.defaultUser)
			err = ValidateHost(h)
		}
		if err != nil {
			store.problems = append(store.problems, err)
			continue
		}
		key := strings.ToLower(name)
		if prev, dup := store.lower[key]; dup {
			store.problems = append(store.problems, errors.New(errors.ErrConfig,
				fmt.Sprintf("Host '%s' duplicates '%s' (names are case-insensitive)", name, prev),
				"Rename one of them"))
			continue
		}
		store.hosts[name] = h
		store.lower[key] = name
	}

	return store, nil
}

// hostsMapping returns the mapping under the top-level "hosts" key, or nil
// when the document is empty or has no hosts key.
func hostsMapping(data []byte) (*yaml.Node, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return nil, nil
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected mapping at document root")
	}
	hosts := findMapValue(doc, "hosts")
	if hosts == nil || (hosts.Kind == yaml.ScalarNode && hosts.Tag == "!!null") {
		return nil, nil
	}
	if hosts.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("'hosts' must be a map")
	}
	return hosts, nil
}

func decodeHost(name string, node *yaml.Node) (HostConfig, error) {
	var h HostConfig
	if node.Kind != yaml.MappingNode {
		return h, errors.New(errors.ErrConfig,
			fmt.Sprintf("Host '%s' must be a map of settings (line %d)", name, node.Line),
			"See 'forkterm hosts add' for the expected fields")
	}
	if err := node.Decode(&h); err != nil {
		return h, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Host '%s' has invalid settings (line %d)", name, node.Line),
			"Check field types: port is a number, gpu is true/false, environment is a map")
	}
	h.Name = name
	return h, nil
}

// backfill fills empty fields from the matching ssh_config entry, then
// applies hard defaults.
func backfill(h HostConfig, entry sshutil.SSHHostEntry, defaultUser string) HostConfig {
	if h.Hostname == "" {
		h.Hostname = entry.Hostname
	}
	if h.Hostname == "" && entry.Alias != "" {
		h.Hostname = entry.Alias
	}
	if h.User == "" {
		h.User = entry.User
	}
	if h.Port == 0 && entry.Port != "" {
		if port, err := strconv.Atoi(entry.Port); err == nil {
			h.Port = port
		}
	}
	if h.KeyPath == "" {
		h.KeyPath = entry.IdentityFile
	}

	if h.Port == 0 {
		h.Port = 22
	}
	if h.User == "" {
		h.User = defaultUser
	}
	h.KeyPath = ExpandTilde(h.KeyPath)
	if h.FileShare != nil {
		fs := *h.FileShare
		fs.LocalMount = ExpandTilde(fs.LocalMount)
		fs.RemotePath = ExpandRemote(fs.RemotePath, h.User)
		h.FileShare = &fs
	}
	return h
}

func (l *hostLoader) sshConfigEntries() map[string]sshutil.SSHHostEntry {
	out := make(map[string]sshutil.SSHHostEntry)
	if l.sshConfigPath == "" {
		return out
	}
	entries, err := sshutil.ParseSSHConfigFile(l.sshConfigPath)
	if err != nil {
		return out
	}
	for _, e := range entries {
		out[e.Alias] = e
	}
	return out
}

// Get returns the named host. Lookup is case-insensitive.
func (s *HostStore) Get(name string) (HostConfig, bool) {
	if h, ok := s.hosts[name]; ok {
		return h, true
	}
	if canonical, ok := s.lower[strings.ToLower(name)]; ok {
		return s.hosts[canonical], true
	}
	return HostConfig{}, false
}

// Names returns configured host names in sorted order.
func (s *HostStore) Names() []string {
	names := make([]string, 0, len(s.hosts))
	for name := range s.hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of valid hosts.
func (s *HostStore) Len() int { return len(s.hosts) }

// Problems returns the errors for entries that were dropped during loading.
func (s *HostStore) Problems() []error { return s.problems }

// Path returns the hosts file the store was loaded from.
func (s *HostStore) Path() string { return s.path }

// NewHostStore builds a store from already-validated hosts. Used by tests and
// callers that construct hosts in memory.
func NewHostStore(hosts ...HostConfig) *HostStore {
	s := &HostStore{hosts: make(map[string]HostConfig), lower: make(map[string]string)}
	for _, h := range hosts {
		s.hosts[h.Name] = h
		s.lower[strings.ToLower(h.Name)] = h.Name
	}
	return s
}

// AddHost writes or replaces a host entry in the hosts file, creating the
// file if needed. Other entries and comments are preserved.
func AddHost(path string, h HostConfig) error {
	if h.Name == "" {
		return errors.New(errors.ErrConfig, "Host name is required", "Pass a name for the host")
	}
	if err := ValidateHost(backfill(h, sshutil.SSHHostEntry{}, localUser())); err != nil {
		return err
	}

	root, err := readHostsDocument(path)
	if err != nil {
		return err
	}
	doc := root.Content[0]
	hosts := findMapValue(doc, "hosts")
	if hosts == nil || hosts.Kind != yaml.MappingNode {
		hosts = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		setMapValue(doc, "hosts", hosts)
	}

	var value yaml.Node
	if err := value.Encode(h); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Cannot encode host", "")
	}
	setMapValue(hosts, h.Name, &value)

	return writeHostsDocument(path, root)
}

// RemoveHost deletes a host entry. Removing a host that is not present is an error.
func RemoveHost(path, name string) error {
	root, err := readHostsDocument(path)
	if err != nil {
		return err
	}
	hosts := findMapValue(root.Content[0], "hosts")
	if hosts == nil || !deleteMapKey(hosts, name) {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Host '%s' not found in %s", name, path),
			"Run 'forkterm hosts list' to see configured hosts")
	}
	return writeHostsDocument(path, root)
}

func readHostsDocument(path string) (*yaml.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.WrapWithCode(err, errors.ErrConfig, "Cannot read hosts file: "+path, "Check file permissions")
	}

	var root yaml.Node
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &root); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrConfig, "Hosts file is not valid YAML: "+path, "Fix the syntax error first")
		}
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		root = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	if root.Content[0].Kind != yaml.MappingNode {
		return nil, errors.New(errors.ErrConfig, "Hosts file root must be a map: "+path, "Expected a top-level 'hosts:' key")
	}
	return &root, nil
}

func writeHostsDocument(path string, root *yaml.Node) error {
	out, err := yaml.Marshal(root)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Cannot encode hosts file", "")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Cannot create config directory", "Check directory permissions")
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Cannot write hosts file: "+path, "Check file permissions")
	}
	return nil
}

// findMapValue finds a value in a mapping node by key name.
func findMapValue(node *yaml.Node, key string) *yaml.Node {
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if k := node.Content[i]; k.Kind == yaml.ScalarNode && k.Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func setMapValue(node *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			node.Content[i+1] = value
			return
		}
	}
	node.Content = append(node.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		value)
}

func deleteMapKey(node *yaml.Node, key string) bool {
	if node.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			node.Content = append(node.Content[:i], node.Content[i+2:]...)
			return true
		}
	}
	return false
}
