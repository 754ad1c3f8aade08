// Package agent knows how to run each supported AI coding assistant: the CLI
// binary and flags, the credential it needs, the model for each tier, and the
// provider HTTP API used when the CLI can't run.
package agent

import (
	"fmt"
	"path"
	"sort"

	"github.com/rileyhilliard/forkterm/internal/config"
	"github.com/rileyhilliard/forkterm/internal/credential"
	"github.com/rileyhilliard/forkterm/internal/errors"
	"github.com/rileyhilliard/forkterm/internal/request"
	"github.com/rileyhilliard/forkterm/internal/util"
)

// Provider identifies an HTTP API family.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
	ProviderOpenAI    Provider = "openai"
)

// SandboxCredential is the credential name the sandbox service key is stored under.
const SandboxCredential = "E2B_API_KEY"

// Spec describes one agent.
type Spec struct {
	Agent request.Agent
	// Binary is the CLI executable.
	Binary string
	// CredentialEnv is both the credential name and the environment variable
	// the CLI reads it from.
	CredentialEnv string
	Provider      Provider
	Models        map[request.Tier]string
	// ToolConfig is where the tool itself keeps its key, if anywhere.
	ToolConfig credential.ToolConfig
}

var builtins = []Spec{
	{
		Agent:         request.AgentClaude,
		Binary:        "claude",
		CredentialEnv: "ANTHROPIC_API_KEY",
		Provider:      ProviderAnthropic,
		Models: map[request.Tier]string{
			request.TierDefault: "claude-sonnet-4-5",
			request.TierFast:    "claude-haiku-4-5",
			request.TierHeavy:   "claude-opus-4-1",
		},
		ToolConfig: credential.ToolConfig{Path: "~/.anthropic/config.json", Key: "api_key"},
	},
	{
		Agent:         request.AgentGemini,
		Binary:        "gemini",
		CredentialEnv: "GEMINI_API_KEY",
		Provider:      ProviderGemini,
		Models: map[request.Tier]string{
			request.TierDefault: "gemini-2.5-pro",
			request.TierFast:    "gemini-2.5-flash",
			request.TierHeavy:   "gemini-2.5-pro",
		},
		ToolConfig: credential.ToolConfig{Path: "~/.config/gemini/credentials.json", Key: "api_key"},
	},
	{
		Agent:         request.AgentCodex,
		Binary:        "codex",
		CredentialEnv: "OPENAI_API_KEY",
		Provider:      ProviderOpenAI,
		Models: map[request.Tier]string{
			request.TierDefault: "gpt-5",
			request.TierFast:    "gpt-5-mini",
			request.TierHeavy:   "gpt-5",
		},
		ToolConfig: credential.ToolConfig{Path: "~/.codex/auth.json", Key: "OPENAI_API_KEY"},
	},
}

// Catalog is the set of known agents with user overrides applied.
type Catalog struct {
	specs map[request.Agent]Spec
}

// NewCatalog returns the built-in agents with overrides from the app config
// applied. Overrides for unknown agent names are ignored.
func NewCatalog(overrides map[string]config.AgentConfig) *Catalog {
	c := &Catalog{specs: make(map[request.Agent]Spec, len(builtins))}
	for _, s := range builtins {
		models := make(map[request.Tier]string, len(s.Models))
		for k, v := range s.Models {
			models[k] = v
		}
		s.Models = models

		if o, ok := overrides[string(s.Agent)]; ok {
			if o.Command != "" {
				s.Binary = o.Command
			}
			for tier, model := range o.Models {
				s.Models[request.Tier(tier)] = model
			}
		}
		c.specs[s.Agent] = s
	}
	return c
}

// Get returns the spec for a.
func (c *Catalog) Get(a request.Agent) (Spec, bool) {
	s, ok := c.specs[a]
	return s, ok
}

// Agents returns every known agent, sorted.
func (c *Catalog) Agents() []request.Agent {
	out := make([]request.Agent, 0, len(c.specs))
	for a := range c.specs {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Model returns the model for the tier, falling back to the default tier.
func (s Spec) Model(tier request.Tier) string {
	if m, ok := s.Models[tier]; ok && m != "" {
		return m
	}
	return s.Models[request.TierDefault]
}

// ToolConfigs maps credential names to tool config files, for
// credential.ConfigFileSource.
func (c *Catalog) ToolConfigs() map[string]credential.ToolConfig {
	out := map[string]credential.ToolConfig{
		SandboxCredential: {Path: "~/.e2b/config.json", Key: "api_key"},
	}
	for _, s := range c.specs {
		out[s.CredentialEnv] = s.ToolConfig
	}
	return out
}

// CLICommand builds the shell command that runs prompt with the agent's CLI.
// With autoClose the CLI runs non-interactively and exits when done; without
// it the CLI starts an interactive session seeded with the prompt. The
// credential is expected in the environment, it never appears here.
func (c *Catalog) CLICommand(a request.Agent, tier request.Tier, prompt string, autoClose bool) (string, error) {
	s, ok := c.specs[a]
	if !ok {
		return "", errors.New(errors.ErrConfig,
			fmt.Sprintf("No agent named '%s'", a),
			"Use one of: claude, gemini, codex.")
	}
	model := util.ShellQuote(s.Model(tier))
	bin := util.ShellWord(s.Binary)
	quoted := util.ShellQuote(prompt)

	switch s.Agent {
	case request.AgentClaude:
		if autoClose {
			return fmt.Sprintf("%s -p --dangerously-skip-permissions --model %s %s", bin, model, quoted), nil
		}
		return fmt.Sprintf("%s --model %s %s", bin, model, quoted), nil
	case request.AgentGemini:
		if autoClose {
			return fmt.Sprintf("%s -y --model %s -p %s", bin, model, quoted), nil
		}
		return fmt.Sprintf("%s --model %s -i %s", bin, model, quoted), nil
	case request.AgentCodex:
		// codex won't read OPENAI_API_KEY until it has logged in with it.
		login := fmt.Sprintf(`printenv %s | %s login --with-api-key >/dev/null 2>&1; `, s.CredentialEnv, bin)
		if autoClose {
			return login + fmt.Sprintf("%s exec --full-auto --skip-git-repo-check -m %s %s", bin, model, quoted), nil
		}
		return login + fmt.Sprintf("%s -m %s %s", bin, model, quoted), nil
	}
	return "", errors.New(errors.ErrConfig, fmt.Sprintf("No command for agent '%s'", a), "")
}

// WithFiles appends the names of files that were made available next to the
// agent, so the prompt can refer to them.
func WithFiles(prompt string, remotePaths []string) string {
	if len(remotePaths) == 0 {
		return prompt
	}
	names := make([]string, len(remotePaths))
	for i, p := range remotePaths {
		names[i] = path.Base(p)
	}
	return prompt + "\n\nFiles available: " + util.JoinOrNone(names)
}
