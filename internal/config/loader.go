package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rileyhilliard/forkterm/internal/errors"
	"github.com/spf13/viper"
)

const (
	// GlobalConfigDir is the directory for forkterm's config files, relative to home.
	GlobalConfigDir = ".config/forkterm"
	// GlobalConfigFile is the application config file name.
	GlobalConfigFile = "config.yaml"
	// HostsFileName is the default hosts file name.
	HostsFileName = "hosts.yaml"
	// ConfigEnvVar points at an explicit config file.
	ConfigEnvVar = "FORK_CONFIG"
	// EnvPrefix is the prefix for environment overrides, e.g. FORK_SSH_CONNECT_TIMEOUT.
	EnvPrefix = "FORK"
)

// Load reads config from the specified path. Environment variables with the
// FORK_ prefix override file values.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Config file not found: "+path,
				"Create it, or drop --config to use the defaults")
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read config file",
			"Check the file exists and is valid YAML")
	}

	return parseConfig(v, path)
}

// Find locates the config file using the search order:
// 1. Explicit path (from --config flag)
// 2. $FORK_CONFIG
// 3. ~/.config/forkterm/config.yaml
//
// Returns the path to the config file, or empty string if not found.
func Find(explicit string) (string, error) {
	if explicit == "" {
		explicit = os.Getenv(ConfigEnvVar)
	}
	if explicit != "" {
		explicit = ExpandTilde(explicit)
		if _, err := os.Stat(explicit); err != nil {
			if os.IsNotExist(err) {
				return "", errors.WrapWithCode(err, errors.ErrConfig,
					"Specified config file not found: "+explicit,
					"Check the path is correct")
			}
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				"Cannot access config file: "+explicit,
				"Check file permissions")
		}
		return explicit, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", nil
	}
	global := filepath.Join(home, GlobalConfigDir, GlobalConfigFile)
	if _, err := os.Stat(global); err == nil {
		return global, nil
	}
	return "", nil
}

// LoadOrDefault loads config from the found path, or returns defaults (still
// subject to environment overrides) if there is no config file.
func LoadOrDefault(explicit string) (*Config, error) {
	path, err := Find(explicit)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return parseConfig(newViper(), "")
	}
	return Load(path)
}

// newViper returns a viper instance seeded with every default so that
// AutomaticEnv can override any key.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("version", d.Version)
	v.SetDefault("hosts_file", d.HostsFile)
	v.SetDefault("ssh_config_file", d.SSHConfigFile)

	v.SetDefault("ssh.known_hosts", d.SSH.KnownHosts)
	v.SetDefault("ssh.connect_timeout", d.SSH.ConnectTimeout.String())
	v.SetDefault("ssh.command_timeout", d.SSH.CommandTimeout.String())
	v.SetDefault("ssh.idle_timeout", d.SSH.IdleTimeout.String())
	v.SetDefault("ssh.staging_root", d.SSH.StagingRoot)

	v.SetDefault("sandbox.api_url", d.Sandbox.APIURL)
	v.SetDefault("sandbox.template", d.Sandbox.Template)
	v.SetDefault("sandbox.credential", d.Sandbox.CredentialName)
	v.SetDefault("sandbox.output_dir", d.Sandbox.OutputDir)
	v.SetDefault("sandbox.work_dir", d.Sandbox.WorkDir)
	v.SetDefault("sandbox.timeout", d.Sandbox.Timeout.String())

	v.SetDefault("container.binary", d.Container.Binary)
	v.SetDefault("container.image", d.Container.Image)
	v.SetDefault("container.output_dir", d.Container.OutputDir)
	v.SetDefault("container.work_dir", d.Container.WorkDir)
	v.SetDefault("container.timeout", d.Container.Timeout.String())
	v.SetDefault("container.dockerfile", d.Container.Dockerfile)
	v.SetDefault("local.command_timeout", d.Local.CommandTimeout.String())

	v.SetDefault("output.color", d.Output.Color)
	v.SetDefault("output.dir", d.Output.Dir)
}

// parseConfig converts viper config to our Config struct with defaults merged in.
func parseConfig(v *viper.Viper, path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		where := "your environment overrides"
		if path != "" {
			where = path
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid config format",
			"Check the YAML syntax in "+where)
	}

	cfg.HostsFile = ExpandTilde(cfg.HostsFile)
	cfg.SSHConfigFile = ExpandTilde(cfg.SSHConfigFile)
	cfg.SSH.KnownHosts = ExpandTilde(cfg.SSH.KnownHosts)
	cfg.Sandbox.OutputDir = withTrailingSlash(cfg.Sandbox.OutputDir)
	cfg.Container.OutputDir = withTrailingSlash(cfg.Container.OutputDir)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withTrailingSlash normalizes an output directory so prefix checks against
// it never match a sibling like /home/user/output2.
func withTrailingSlash(dir string) string {
	if dir == "" || strings.HasSuffix(dir, "/") {
		return dir
	}
	return dir + "/"
}
