package credential

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/zalando/go-keyring"
)

// KeychainService is the OS keychain service name credentials are stored under.
const KeychainService = "forkterm"

// EnvSource reads process environment variables.
type EnvSource struct {
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

func (s EnvSource) Name() string { return SourceEnv }

func (s EnvSource) Lookup(name string) (string, bool) {
	lookup := s.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return lookup(name)
}

// KeychainSource reads the OS keychain (macOS Keychain, Secret Service,
// Windows Credential Manager) through go-keyring. Any keychain failure,
// including a missing Secret Service daemon, counts as absent.
type KeychainSource struct {
	Service string
}

func (s KeychainSource) Name() string { return SourceKeychain }

func (s KeychainSource) Lookup(name string) (string, bool) {
	service := s.Service
	if service == "" {
		service = KeychainService
	}
	value, err := keyring.Get(service, name)
	if err != nil {
		return "", false
	}
	return value, true
}

// DotenvSource reads a project-local .env file. The file is re-read on every
// lookup; it is small and may be edited between invocations.
type DotenvSource struct {
	Path string
}

func (s DotenvSource) Name() string { return SourceDotenv }

func (s DotenvSource) Lookup(name string) (string, bool) {
	if s.Path == "" {
		return "", false
	}
	values, err := godotenv.Read(s.Path)
	if err != nil {
		return "", false
	}
	v, ok := values[name]
	return v, ok
}

// ToolConfig locates a credential inside a tool's own JSON config file.
type ToolConfig struct {
	// Path to the JSON file. A leading ~/ is expanded.
	Path string
	// Key is a dot-separated path into the JSON document, e.g. "auth.apiKey".
	Key string
}

// ConfigFileSource reads tool-native JSON config files, keyed by credential name.
type ConfigFileSource struct {
	Tools map[string]ToolConfig
	// Home is used to expand ~/; defaults to os.UserHomeDir.
	Home string
}

func (s ConfigFileSource) Name() string { return SourceConfig }

func (s ConfigFileSource) Lookup(name string) (string, bool) {
	tool, ok := s.Tools[name]
	if !ok || tool.Path == "" || tool.Key == "" {
		return "", false
	}
	data, err := os.ReadFile(expandHome(tool.Path, s.Home))
	if err != nil {
		return "", false
	}
	return lookupJSONPath(data, tool.Key)
}

// lookupJSONPath walks a dotted key path through nested JSON objects and
// returns the string at the end of it.
func lookupJSONPath(data []byte, key string) (string, bool) {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", false
	}
	for _, part := range strings.Split(key, ".") {
		obj, ok := doc.(map[string]interface{})
		if !ok {
			return "", false
		}
		doc, ok = obj[part]
		if !ok {
			return "", false
		}
	}
	s, ok := doc.(string)
	return s, ok && s != ""
}

func expandHome(path, home string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	if home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		home = h
	}
	return filepath.Join(home, path[2:])
}

// StandardSources returns the default waterfall: environment, OS keychain,
// <workDir>/.env, then the tool-native config files.
func StandardSources(workDir string, tools map[string]ToolConfig) []Source {
	dotenv := ""
	if workDir != "" {
		dotenv = filepath.Join(workDir, ".env")
	}
	return []Source{
		EnvSource{},
		KeychainSource{Service: KeychainService},
		DotenvSource{Path: dotenv},
		ConfigFileSource{Tools: tools},
	}
}

// Store saves a credential in the OS keychain.
func Store(name, value string) error {
	if name == "" || value == "" {
		return errors.New("credential name and value are required")
	}
	return keyring.Set(KeychainService, name, value)
}

// Forget removes a credential from the OS keychain. A missing entry is not an error.
func Forget(name string) error {
	err := keyring.Delete(KeychainService, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}
