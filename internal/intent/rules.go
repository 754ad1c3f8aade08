package intent

import (
	"regexp"

	"github.com/rileyhilliard/forkterm/internal/request"
)

// backendRule is one trigger phrase for a backend.
// For host-bearing rules the first capture group is the host token.
type backendRule struct {
	name    string
	pattern *regexp.Regexp
	// hostGroup is true when the pattern captures a host token.
	hostGroup bool
	// strictHost means any well-formed host token is accepted, and a missing
	// one is a parse error rather than a non-match. Only the loose
	// "on <name>" form is non-strict.
	strictHost bool
}

// backendCategory groups rules for one backend. Categories are evaluated in
// slice order and the first one with any matching rule wins.
type backendCategory struct {
	backend request.BackendKind
	rules   []backendRule
}

// backendTable is the tie-break order: sandbox > ssh > container > local.
var backendTable = []backendCategory{
	{
		backend: request.BackendSandbox,
		rules: []backendRule{
			{name: "in sandbox", pattern: regexp.MustCompile(`(?i)\b(?:in|use|with)\s+sandbox\b`)},
			{name: "sandbox:", pattern: regexp.MustCompile(`(?i)\bsandbox:`)},
		},
	},
	{
		backend: request.BackendSSH,
		rules: []backendRule{
			{name: "ssh to", pattern: regexp.MustCompile(`(?i)\bssh\s+to\b(?:\s+(\S+))?`), hostGroup: true, strictHost: true},
			{name: "remote:", pattern: regexp.MustCompile(`(?i)\bremote:\s*(\S+)?`), hostGroup: true, strictHost: true},
			{name: "@", pattern: regexp.MustCompile(`^@(\S*)`), hostGroup: true, strictHost: true},
			{name: "on <name>:", pattern: regexp.MustCompile(`(?i)\bon\s+([A-Za-z0-9][A-Za-z0-9._-]*):(?:\s|$)`), hostGroup: true, strictHost: true},
			{name: "on", pattern: regexp.MustCompile(`(?i)\bon\s+(\S+)`), hostGroup: true},
		},
	},
	{
		backend: request.BackendContainer,
		rules: []backendRule{
			{name: "in docker", pattern: regexp.MustCompile(`(?i)\b(?:in|use|with)\s+docker\b`)},
			{name: "docker:", pattern: regexp.MustCompile(`(?i)\bdocker:`)},
		},
	},
}

// agentRule maps a vocabulary pattern to an agent. An optional leading verb
// ("use gemini", "ask claude") is consumed along with the name.
type agentRule struct {
	agent   request.Agent
	pattern *regexp.Regexp
}

const agentVerb = `(?:\b(?:use|using|with|via|ask|run)\s+)?`

var agentTable = []agentRule{
	{agent: request.AgentClaude, pattern: regexp.MustCompile(`(?i)` + agentVerb + `\bclaude(?:[- ]code)?\b`)},
	{agent: request.AgentGemini, pattern: regexp.MustCompile(`(?i)` + agentVerb + `\bgemini(?:-cli)?\b`)},
	{agent: request.AgentCodex, pattern: regexp.MustCompile(`(?i)` + agentVerb + `\bcodex(?:-cli)?\b`)},
}

var (
	autoClosePattern = regexp.MustCompile(`(?i)(?:^|\s)(?:--)?auto-close\b`)
	prefixPattern    = regexp.MustCompile(`(?i)^\s*(?:fork(?:\s+a)?(?:\s+new)?\s+(?:terminal|window|tab)|new\s+terminal)\b`)
	tierPattern      = regexp.MustCompile(`(?i)\b(fast|heavy)\b`)
	hostTokenPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
)

// connectives are trimmed from both ends of the payload.
var connectives = map[string]bool{
	"to":     true,
	"use":    true,
	"using":  true,
	"with":   true,
	"and":    true,
	"then":   true,
	"please": true,
}

// determiners never count as a host name in the loose "on <name>" form,
// so "run the tests on the cluster" stays local.
var determiners = map[string]bool{
	"a": true, "an": true, "the": true, "this": true, "that": true,
	"these": true, "those": true, "my": true, "our": true, "your": true,
	"each": true, "every": true, "all": true, "it": true, "top": true,
}
