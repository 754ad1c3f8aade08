// Package credential resolves secrets (API keys) and SSH private keys through
// ordered waterfalls of sources. The first source that has a value wins;
// resolution never falls through to a later source once a value is found.
//
// Absence is not an error here. The backend that needed the credential
// decides whether a missing value is fatal.
package credential

import (
	"fmt"

	"github.com/rileyhilliard/forkterm/internal/logger"
)

// Source names reported alongside resolved values.
const (
	SourceEnv      = "env"
	SourceKeychain = "keychain"
	SourceDotenv   = "dotenv"
	SourceConfig   = "config"
)

// Credential is a resolved secret and where it came from.
type Credential struct {
	Name   string
	Value  string
	Source string
}

// String reports the source and length only, so a Credential is safe to
// pass to fmt or a logger by accident.
func (c Credential) String() string {
	return fmt.Sprintf("%s from %s (%d chars)", c.Name, c.Source, len(c.Value))
}

// GoString keeps %#v from printing the value.
func (c Credential) GoString() string {
	return c.String()
}

// Source is one step of the waterfall.
type Source interface {
	// Name identifies the source in results and logs.
	Name() string
	// Lookup returns the value for name, or false when the source has none.
	Lookup(name string) (string, bool)
}

// Resolver walks its sources in order.
type Resolver struct {
	sources []Source
	log     logger.Logger
}

// NewResolver creates a resolver over the given sources, in priority order.
func NewResolver(log logger.Logger, sources ...Source) *Resolver {
	if log == nil {
		log = logger.Noop()
	}
	return &Resolver{sources: sources, log: log}
}

// Resolve returns the first value found for name.
func (r *Resolver) Resolve(name string) (Credential, bool) {
	for _, src := range r.sources {
		value, ok := src.Lookup(name)
		if !ok || value == "" {
			continue
		}
		cred := Credential{Name: name, Value: value, Source: src.Name()}
		r.log.Debug("resolved %s", cred)
		return cred, true
	}
	r.log.Debug("no source has %s", name)
	return Credential{}, false
}

// Sources returns the source names in priority order.
func (r *Resolver) Sources() []string {
	names := make([]string, len(r.sources))
	for i, s := range r.sources {
		names[i] = s.Name()
	}
	return names
}
