package config

import (
	"net"
	"strconv"
	"time"
)

// CurrentConfigVersion is the schema version for config.yaml.
// Increment when making breaking changes to the config structure.
const CurrentConfigVersion = 1

// Config represents the application config file (~/.config/forkterm/config.yaml).
// Host definitions live in a separate hosts file, see HostStore.
type Config struct {
	Version int `yaml:"version" mapstructure:"version" validate:"gte=0"`

	// HostsFile is the path of the YAML file holding named SSH hosts.
	HostsFile string `yaml:"hosts_file" mapstructure:"hosts_file" validate:"required"`

	// SSHConfigFile is consulted to back-fill host entries. Empty disables it.
	SSHConfigFile string `yaml:"ssh_config_file" mapstructure:"ssh_config_file"`

	SSH       SSHConfig              `yaml:"ssh" mapstructure:"ssh"`
	Sandbox   SandboxConfig          `yaml:"sandbox" mapstructure:"sandbox"`
	Container ContainerConfig        `yaml:"container" mapstructure:"container"`
	Local     LocalConfig            `yaml:"local" mapstructure:"local"`
	Output    OutputConfig           `yaml:"output" mapstructure:"output"`
	Agents    map[string]AgentConfig `yaml:"agents" mapstructure:"agents" validate:"dive"`
}

// SSHConfig controls SSH connection behavior.
type SSHConfig struct {
	// KnownHosts is the known_hosts file used for strict host key checking.
	// It is only ever read.
	KnownHosts string `yaml:"known_hosts" mapstructure:"known_hosts" validate:"required"`

	// ConnectTimeout bounds dialing and the SSH handshake.
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout" validate:"gt=0"`

	// CommandTimeout bounds a single remote command.
	CommandTimeout time.Duration `yaml:"command_timeout" mapstructure:"command_timeout" validate:"gt=0"`

	// IdleTimeout is how long an unused pooled connection is kept.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" validate:"gt=0"`

	// StagingRoot is the remote parent directory for per-invocation staging dirs.
	StagingRoot string `yaml:"staging_root" mapstructure:"staging_root" validate:"required"`
}

// SandboxConfig configures the cloud micro-VM service.
type SandboxConfig struct {
	APIURL         string        `yaml:"api_url" mapstructure:"api_url" validate:"required,url"`
	Template       string        `yaml:"template" mapstructure:"template" validate:"required"`
	CredentialName string        `yaml:"credential" mapstructure:"credential" validate:"required"`
	OutputDir      string        `yaml:"output_dir" mapstructure:"output_dir" validate:"required,startswith=/"`
	WorkDir        string        `yaml:"work_dir" mapstructure:"work_dir" validate:"required,startswith=/"`
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gt=0"`
}

// ContainerConfig configures the local container backend.
type ContainerConfig struct {
	// Binary is the docker-compatible CLI (docker, podman).
	Binary    string        `yaml:"binary" mapstructure:"binary" validate:"required"`
	Image     string        `yaml:"image" mapstructure:"image" validate:"required"`
	OutputDir string        `yaml:"output_dir" mapstructure:"output_dir" validate:"required,startswith=/"`
	WorkDir   string        `yaml:"work_dir" mapstructure:"work_dir" validate:"required,startswith=/"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gt=0"`

	// Dockerfile builds Image on first use when the image isn't present
	// locally. Its directory is the build context. Optional.
	Dockerfile string `yaml:"dockerfile,omitempty" mapstructure:"dockerfile"`
}

// LocalConfig configures the local backend.
type LocalConfig struct {
	// CommandTimeout bounds an auto-close command run on this machine.
	CommandTimeout time.Duration `yaml:"command_timeout" mapstructure:"command_timeout" validate:"gt=0"`
}

// OutputConfig controls terminal output and local download placement.
type OutputConfig struct {
	// Color mode: "auto", "always", or "never".
	// "auto" disables color when output is piped.
	Color string `yaml:"color" mapstructure:"color" validate:"oneof=auto always never"`

	// Dir is the directory under the working dir that downloads land in.
	// Each invocation gets <Dir>/<backend>-<id>/.
	Dir string `yaml:"dir" mapstructure:"dir" validate:"required"`
}

// AgentConfig overrides the built-in catalog entry for one agent.
type AgentConfig struct {
	// Command replaces the CLI binary name.
	Command string `yaml:"command" mapstructure:"command"`

	// Models maps tier names ("default", "fast", "heavy") to model ids.
	Models map[string]string `yaml:"models" mapstructure:"models" validate:"dive,keys,oneof=default fast heavy,endkeys,required"`
}

// Defaults.
const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultCommandTimeout = 300 * time.Second
	DefaultIdleTimeout    = 5 * time.Minute

	DefaultSandboxAPIURL    = "https://api.e2b.dev"
	DefaultSandboxTemplate  = "base"
	DefaultSandboxOutputDir = "/home/user/output/"
	DefaultSandboxWorkDir   = "/home/user"

	DefaultContainerImage     = "forkterm/agent:latest"
	DefaultContainerOutputDir = "/workspace/output/"
	DefaultContainerWorkDir   = "/workspace"

	DefaultOutputDir   = "fork-output"
	DefaultStagingRoot = "/tmp/forkterm"
)

// DefaultConfig returns a Config with sensible defaults. Paths under the
// user's home are left with a ~/ prefix; the loader expands them.
func DefaultConfig() *Config {
	return &Config{
		Version:       CurrentConfigVersion,
		HostsFile:     "~/" + GlobalConfigDir + "/" + HostsFileName,
		SSHConfigFile: "~/.ssh/config",
		SSH: SSHConfig{
			KnownHosts:     "~/.ssh/known_hosts",
			ConnectTimeout: DefaultConnectTimeout,
			CommandTimeout: DefaultCommandTimeout,
			IdleTimeout:    DefaultIdleTimeout,
			StagingRoot:    DefaultStagingRoot,
		},
		Sandbox: SandboxConfig{
			APIURL:         DefaultSandboxAPIURL,
			Template:       DefaultSandboxTemplate,
			CredentialName: "E2B_API_KEY",
			OutputDir:      DefaultSandboxOutputDir,
			WorkDir:        DefaultSandboxWorkDir,
			Timeout:        DefaultCommandTimeout,
		},
		Container: ContainerConfig{
			Binary:    "docker",
			Image:     DefaultContainerImage,
			OutputDir: DefaultContainerOutputDir,
			WorkDir:   DefaultContainerWorkDir,
			Timeout:   DefaultCommandTimeout,
		},
		Local: LocalConfig{
			CommandTimeout: DefaultCommandTimeout,
		},
		Output: OutputConfig{
			Color: "auto",
			Dir:   DefaultOutputDir,
		},
		Agents: map[string]AgentConfig{},
	}
}

// HostConfig is one named SSH host from the hosts file.
type HostConfig struct {
	// Name is the map key the host was defined under.
	Name string `yaml:"-"`

	Hostname string `yaml:"hostname" validate:"required,hostname_rfc1123|ip"`
	Port     int    `yaml:"port,omitempty" validate:"min=1,max=65535"`
	User     string `yaml:"user,omitempty" validate:"required"`
	KeyPath  string `yaml:"key_path,omitempty"`

	// GPU enables the nvidia-smi probe before the command runs.
	GPU bool `yaml:"gpu,omitempty"`

	// CUDAPath is prepended to PATH (bin) and LD_LIBRARY_PATH (lib64).
	CUDAPath string `yaml:"cuda_path,omitempty" validate:"omitempty,startswith=/"`

	// Environment is exported before the command runs, e.g. CUDA_VISIBLE_DEVICES.
	Environment map[string]string `yaml:"environment,omitempty" validate:"dive,keys,envname,endkeys"`

	// FileShare maps a local mount onto a remote path. When the local mount
	// is present, transfers go through it instead of SFTP.
	FileShare *FileShare `yaml:"file_share,omitempty"`
}

// FileShare is a directory visible both locally and on the remote host.
type FileShare struct {
	LocalMount string `yaml:"local_mount" validate:"required"`
	RemotePath string `yaml:"remote_path" validate:"required,startswith=/"`
}

// Address returns host:port for dialing.
func (h HostConfig) Address() string {
	port := h.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(h.Hostname, strconv.Itoa(port))
}
