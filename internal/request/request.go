// Package request holds the value types that flow through forkterm: the
// immutable Request produced by the intent parser and the Result every
// backend invocation ends in.
package request

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rileyhilliard/forkterm/internal/errors"
)

// BackendKind names one of the execution environments.
type BackendKind string

const (
	BackendLocal     BackendKind = "local"
	BackendSandbox   BackendKind = "sandbox"
	BackendSSH       BackendKind = "ssh"
	BackendContainer BackendKind = "container"
)

// AllBackends lists every backend kind in router priority order.
var AllBackends = []BackendKind{BackendSandbox, BackendSSH, BackendContainer, BackendLocal}

// Agent names the AI coding assistant to run. AgentNone means the payload is
// a raw shell command.
type Agent string

const (
	AgentNone   Agent = "none"
	AgentClaude Agent = "claude"
	AgentGemini Agent = "gemini"
	AgentCodex  Agent = "codex"
)

// Tier selects the model size an agent should run with.
type Tier string

const (
	TierDefault Tier = "default"
	TierFast    Tier = "fast"
	TierHeavy   Tier = "heavy"
)

// Request is a single parsed execution request. It is built once through
// New and never mutated; the zero value is not a valid request.
type Request struct {
	backend    BackendKind
	agent      Agent
	tier       Tier
	payload    string
	autoClose  bool
	targetHost string
	workingDir string
}

// Fields is the plain-struct form used to build a Request.
type Fields struct {
	Backend    BackendKind
	Agent      Agent
	Tier       Tier
	Payload    string
	AutoClose  bool
	TargetHost string
	WorkingDir string
}

// New validates f and returns the corresponding Request.
func New(f Fields) (Request, error) {
	if f.Backend == "" {
		f.Backend = BackendLocal
	}
	if f.Agent == "" {
		f.Agent = AgentNone
	}
	if f.Tier == "" {
		f.Tier = TierDefault
	}

	switch f.Backend {
	case BackendLocal, BackendSandbox, BackendSSH, BackendContainer:
	default:
		return Request{}, errors.New(errors.ErrParse,
			fmt.Sprintf("Unknown backend '%s'", f.Backend),
			"Use one of: local, sandbox, ssh, container.")
	}

	if f.Backend == BackendSSH && f.TargetHost == "" {
		return Request{}, errors.New(errors.ErrParse,
			"SSH requests need a target host",
			"Name the host, e.g. 'on dgx: nvidia-smi'.")
	}
	if f.Backend != BackendSSH && f.TargetHost != "" {
		return Request{}, errors.New(errors.ErrParse,
			fmt.Sprintf("A target host only makes sense for ssh, not %s", f.Backend),
			"Drop the host or switch to the ssh backend.")
	}

	return Request{
		backend:    f.Backend,
		agent:      f.Agent,
		tier:       f.Tier,
		payload:    f.Payload,
		autoClose:  f.AutoClose,
		targetHost: f.TargetHost,
		workingDir: f.WorkingDir,
	}, nil
}

func (r Request) Backend() BackendKind { return r.backend }
func (r Request) Agent() Agent         { return r.agent }
func (r Request) Tier() Tier           { return r.tier }
func (r Request) Payload() string      { return r.payload }
func (r Request) AutoClose() bool      { return r.autoClose }
func (r Request) TargetHost() string   { return r.targetHost }
func (r Request) WorkingDir() string   { return r.workingDir }

// Fields returns a copy of the request's fields.
func (r Request) Fields() Fields {
	return Fields{
		Backend:    r.backend,
		Agent:      r.agent,
		Tier:       r.tier,
		Payload:    r.payload,
		AutoClose:  r.autoClose,
		TargetHost: r.targetHost,
		WorkingDir: r.workingDir,
	}
}

// IsRaw reports whether the payload is a shell command rather than a prompt.
func (r Request) IsRaw() bool {
	return r.agent == AgentNone
}

// String renders a short, log-safe description.
func (r Request) String() string {
	var b strings.Builder
	b.WriteString(string(r.backend))
	if r.targetHost != "" {
		b.WriteString(":" + r.targetHost)
	}
	if r.agent != AgentNone {
		b.WriteString(" agent=" + string(r.agent))
	}
	if r.tier != TierDefault {
		b.WriteString(" tier=" + string(r.tier))
	}
	if r.autoClose {
		b.WriteString(" auto-close")
	}
	return b.String()
}

// Result is what every invocation ends in. The router never returns nil.
type Result struct {
	Success         bool
	Stdout          string
	Stderr          string
	ExitCode        *int
	Metadata        map[string]string
	DownloadedFiles []string
	Err             *errors.Error
}

// NewResult returns an empty, unsuccessful result with initialized maps.
func NewResult() *Result {
	return &Result{Metadata: make(map[string]string)}
}

// Failed builds a result carrying err.
func Failed(err *errors.Error) *Result {
	res := NewResult()
	res.Err = err
	return res
}

// SetExitCode records the exit code and derives Success from it.
func (r *Result) SetExitCode(code int) {
	r.ExitCode = &code
	r.Success = code == 0
}

// Meta sets a metadata key, allocating the map if needed.
func (r *Result) Meta(key, value string) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]string)
	}
	r.Metadata[key] = value
}

// MetadataKeys returns metadata keys in sorted order for stable rendering.
func (r *Result) MetadataKeys() []string {
	keys := make([]string, 0, len(r.Metadata))
	for k := range r.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ErrorKind returns the error code, or "" on success.
func (r *Result) ErrorKind() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Code
}
