// Package backend defines the contract every execution environment
// implements, plus the pieces they share: the teardown stack, the preferred
// then fallback executor chain, and credential requirements.
package backend

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rileyhilliard/forkterm/internal/credential"
	"github.com/rileyhilliard/forkterm/internal/errors"
	"github.com/rileyhilliard/forkterm/internal/request"
)

// Metadata keys shared across backends.
const (
	MetaBackend        = "backend"
	MetaExecutor       = "executor"
	MetaFallbackReason = "executor.fallback_reason"
	MetaOutputDir      = "output_dir"
	MetaCredential     = "credential"
)

// Backend is one execution environment.
type Backend interface {
	// Kind returns the backend this implementation serves.
	Kind() request.BackendKind
	// Execute runs req. Anything that must be torn down on auto-close,
	// failure, or cancellation is registered on res before it is used.
	// A non-nil error means the invocation failed; a command that ran and
	// exited non-zero is a Result with Success false and a nil error.
	Execute(ctx context.Context, req request.Request, res *Resources) (*request.Result, error)
	// SupportsAgent reports whether the backend can run agent a.
	SupportsAgent(a request.Agent) bool
	// Describe returns static facts about the backend for display.
	Describe() map[string]string
}

// CredentialLookup is the part of credential.Resolver backends use.
type CredentialLookup interface {
	Resolve(name string) (credential.Credential, bool)
}

// RequireCredential resolves name or returns an AUTH error naming where it
// was looked for. Nothing has been allocated when this fails.
func RequireCredential(creds CredentialLookup, name, purpose string) (credential.Credential, error) {
	if creds != nil {
		if c, ok := creds.Resolve(name); ok {
			return c, nil
		}
	}
	return credential.Credential{}, errors.New(errors.ErrAuth,
		fmt.Sprintf("%s is required %s but wasn't found", name, purpose),
		fmt.Sprintf("Set it with 'export %s=...', store it with 'forkterm creds set %s', or add it to .env.", name, name))
}

// LocalOutputDir returns <workDir>/<base>/<kind>-<id>, where downloaded
// artifacts for one invocation land.
func LocalOutputDir(workDir, base string, kind request.BackendKind, id string) string {
	if base == "" {
		base = "fork-output"
	}
	if !filepath.IsAbs(base) {
		base = filepath.Join(workDir, base)
	}
	id = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' {
			return '-'
		}
		return r
	}, id)
	return filepath.Join(base, string(kind)+"-"+id)
}

// SupportsKnownAgents is the SupportsAgent rule for backends that can run
// any cataloged agent as well as raw commands.
func SupportsKnownAgents(a request.Agent) bool {
	switch a {
	case request.AgentNone, request.AgentClaude, request.AgentGemini, request.AgentCodex:
		return true
	}
	return false
}

// ContextError converts a finished context into a CANCELLED or TIMEOUT error.
func ContextError(ctx context.Context, what string) *errors.Error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.WrapWithCode(ctx.Err(), errors.ErrTimeout,
			fmt.Sprintf("%s timed out", what),
			"Raise the timeout in the config file if the task needs longer.")
	}
	return errors.WrapWithCode(ctx.Err(), errors.ErrCancelled,
		fmt.Sprintf("%s was cancelled", what), "")
}
