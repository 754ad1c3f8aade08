package credential

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rileyhilliard/forkterm/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

// mapEnv builds a LookupEnv func over a fixed map.
func mapEnv(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// countingSource records how many times it was consulted.
type countingSource struct {
	name   string
	values map[string]string
	calls  int
}

func (s *countingSource) Name() string { return s.name }

func (s *countingSource) Lookup(name string) (string, bool) {
	s.calls++
	v, ok := s.values[name]
	return v, ok
}

func TestResolve_EnvBeatsDotenv(t *testing.T) {
	keyring.MockInit()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env"), "GEMINI_API_KEY=from-dotenv\n")

	r := NewResolver(nil,
		EnvSource{LookupEnv: mapEnv(map[string]string{"GEMINI_API_KEY": "from-env"})},
		KeychainSource{},
		DotenvSource{Path: filepath.Join(dir, ".env")},
	)

	cred, ok := r.Resolve("GEMINI_API_KEY")
	require.True(t, ok)
	assert.Equal(t, "from-env", cred.Value)
	assert.Equal(t, SourceEnv, cred.Source)
}

func TestResolve_FallsBackToConfigFile(t *testing.T) {
	keyring.MockInit()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env"), "")
	toolPath := filepath.Join(dir, "tool", "settings.json")
	writeFile(t, toolPath, `{"auth": {"apiKey": "from-config"}}`)

	r := NewResolver(nil,
		EnvSource{LookupEnv: mapEnv(nil)},
		KeychainSource{},
		DotenvSource{Path: filepath.Join(dir, ".env")},
		ConfigFileSource{Tools: map[string]ToolConfig{
			"GEMINI_API_KEY": {Path: toolPath, Key: "auth.apiKey"},
		}},
	)

	cred, ok := r.Resolve("GEMINI_API_KEY")
	require.True(t, ok)
	assert.Equal(t, "from-config", cred.Value)
	assert.Equal(t, "config", cred.Source)
}

func TestResolve_KeychainBeatsDotenv(t *testing.T) {
	keyring.MockInit()
	require.NoError(t, Store("ANTHROPIC_API_KEY", "from-keychain"))
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env"), "ANTHROPIC_API_KEY=from-dotenv\n")

	r := NewResolver(nil,
		EnvSource{LookupEnv: mapEnv(nil)},
		KeychainSource{},
		DotenvSource{Path: filepath.Join(dir, ".env")},
	)

	cred, ok := r.Resolve("ANTHROPIC_API_KEY")
	require.True(t, ok)
	assert.Equal(t, SourceKeychain, cred.Source)

	require.NoError(t, Forget("ANTHROPIC_API_KEY"))
	cred, ok = r.Resolve("ANTHROPIC_API_KEY")
	require.True(t, ok)
	assert.Equal(t, SourceDotenv, cred.Source)
	assert.NoError(t, Forget("ANTHROPIC_API_KEY"), "forgetting a missing entry is fine")
}

func TestResolve_StopsAtFirstHit(t *testing.T) {
	first := &countingSource{name: "first", values: map[string]string{"K": "v1"}}
	second := &countingSource{name: "second", values: map[string]string{"K": "v2"}}

	cred, ok := NewResolver(nil, first, second).Resolve("K")
	require.True(t, ok)
	assert.Equal(t, "v1", cred.Value)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, second.calls, "later sources are never consulted after a hit")
}

func TestResolve_EmptyValueIsAbsent(t *testing.T) {
	empty := &countingSource{name: "empty", values: map[string]string{"K": ""}}
	found := &countingSource{name: "found", values: map[string]string{"K": "v"}}

	cred, ok := NewResolver(nil, empty, found).Resolve("K")
	require.True(t, ok)
	assert.Equal(t, "found", cred.Source)
}

func TestResolve_Absent(t *testing.T) {
	keyring.MockInit()
	r := NewResolver(nil, EnvSource{LookupEnv: mapEnv(nil)}, KeychainSource{}, DotenvSource{})

	_, ok := r.Resolve("OPENAI_API_KEY")
	assert.False(t, ok)
}

func TestResolve_NeverLogsValue(t *testing.T) {
	log := logger.NewBufferLogger()
	r := NewResolver(log, EnvSource{LookupEnv: mapEnv(map[string]string{"K": "super-secret-value"})})

	cred, ok := r.Resolve("K")
	require.True(t, ok)

	assert.False(t, log.Contains("super-secret-value"))
	assert.True(t, log.Contains("(18 chars)"))
	assert.NotContains(t, fmt.Sprintf("%v %+v %#v %s", cred, cred, cred, cred), "super-secret-value")
}

func TestConfigFileSource_BadInputs(t *testing.T) {
	dir := t.TempDir()
	badJSON := filepath.Join(dir, "bad.json")
	writeFile(t, badJSON, "{not json")
	nonString := filepath.Join(dir, "num.json")
	writeFile(t, nonString, `{"apiKey": 42}`)

	src := ConfigFileSource{Tools: map[string]ToolConfig{
		"BAD":     {Path: badJSON, Key: "apiKey"},
		"NUM":     {Path: nonString, Key: "apiKey"},
		"MISSING": {Path: filepath.Join(dir, "nope.json"), Key: "apiKey"},
		"DEEP":    {Path: nonString, Key: "apiKey.inner"},
	}}

	for _, name := range []string{"BAD", "NUM", "MISSING", "DEEP", "UNLISTED"} {
		_, ok := src.Lookup(name)
		assert.False(t, ok, name)
	}
}

func TestConfigFileSource_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	writeFile(t, filepath.Join(home, ".codex", "auth.json"), `{"OPENAI_API_KEY": "sk-test"}`)

	src := ConfigFileSource{
		Home:  home,
		Tools: map[string]ToolConfig{"OPENAI_API_KEY": {Path: "~/.codex/auth.json", Key: "OPENAI_API_KEY"}},
	}
	v, ok := src.Lookup("OPENAI_API_KEY")
	require.True(t, ok)
	assert.Equal(t, "sk-test", v)
}

func TestStandardSources_Order(t *testing.T) {
	r := NewResolver(nil, StandardSources("/work", nil)...)
	assert.Equal(t, []string{SourceEnv, SourceKeychain, SourceDotenv, SourceConfig}, r.Sources())
}

func TestStore_RequiresValues(t *testing.T) {
	keyring.MockInit()
	assert.Error(t, Store("", "x"))
	assert.Error(t, Store("x", ""))
}
