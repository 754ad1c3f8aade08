// Package intent turns free-form intent text such as
// "fork terminal use gemini in sandbox to summarize data.csv auto-close"
// into a structured request.Request.
//
// Parsing is a pure function of the input text and the Parser's options:
// no environment reads, no I/O, no randomness.
package intent

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/rileyhilliard/forkterm/internal/errors"
	"github.com/rileyhilliard/forkterm/internal/request"
)

// Parse failure reasons. They appear as the Cause of an errors.ErrParse error.
var (
	ErrEmptyInput   = stderrors.New("empty input")
	ErrMissingHost  = stderrors.New("missing host")
	ErrEmptyPayload = stderrors.New("empty payload")
)

// Parser converts intent text into requests.
type Parser struct {
	workingDir string
	// knownHosts maps lower-cased host names to their configured spelling.
	// nil means no host list was given.
	knownHosts map[string]string
}

// Option configures a Parser.
type Option func(*Parser)

// WithWorkingDir sets the working directory recorded on every request.
func WithWorkingDir(dir string) Option {
	return func(p *Parser) {
		p.workingDir = dir
	}
}

// WithKnownHosts restricts the loose "on <name>" trigger to configured hosts.
// An empty list means the loose form never matches. The explicit forms
// ("ssh to", "remote:", "@", "on <name>:") accept any host token.
func WithKnownHosts(names []string) Option {
	return func(p *Parser) {
		p.knownHosts = make(map[string]string, len(names))
		for _, n := range names {
			p.knownHosts[strings.ToLower(n)] = n
		}
	}
}

// NewParser creates a parser with the given options.
func NewParser(opts ...Option) *Parser {
	p := &Parser{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse converts text into a Request.
func (p *Parser) Parse(text string) (request.Request, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return request.Request{}, errors.WrapWithCode(ErrEmptyInput, errors.ErrParse,
			"Nothing to run",
			"Say what to run, e.g. 'fork terminal on dgx: nvidia-smi'.")
	}

	f := request.Fields{WorkingDir: p.workingDir}

	if autoClosePattern.MatchString(s) {
		f.AutoClose = true
		s = autoClosePattern.ReplaceAllString(s, " ")
	}

	s = strings.TrimSpace(prefixPattern.ReplaceAllString(s, " "))

	backend, host, rest, err := p.detectBackend(s)
	if err != nil {
		return request.Request{}, err
	}
	f.Backend = backend
	f.TargetHost = host
	s = rest

	f.Agent, s = detectAgent(s)

	// Tier words only count when an agent is named, so "make fast" stays a
	// plain command.
	f.Tier = request.TierDefault
	if f.Agent != request.AgentNone {
		if loc := tierPattern.FindStringSubmatchIndex(s); loc != nil {
			f.Tier = request.Tier(strings.ToLower(s[loc[2]:loc[3]]))
			s = cut(s, loc[0], loc[1])
		}
	}

	f.Payload = cleanPayload(s)

	if f.Payload == "" && f.Backend != request.BackendLocal {
		return request.Request{}, errors.WrapWithCode(ErrEmptyPayload, errors.ErrParse,
			fmt.Sprintf("Nothing to run on the %s backend", f.Backend),
			"Add a command or prompt after the backend keyword.")
	}

	return request.New(f)
}

// detectBackend walks the rule table in priority order and returns the
// first matching backend, its host (ssh only), and s with the trigger removed.
func (p *Parser) detectBackend(s string) (request.BackendKind, string, string, error) {
	for _, cat := range backendTable {
		for _, rule := range cat.rules {
			matches := rule.pattern.FindAllStringSubmatchIndex(s, -1)
			for _, loc := range matches {
				if !rule.hostGroup {
					return cat.backend, "", cut(s, loc[0], loc[1]), nil
				}

				token := ""
				if len(loc) >= 4 && loc[2] >= 0 {
					token = s[loc[2]:loc[3]]
				}
				host, ok := p.acceptHost(token, rule.strictHost)
				if ok {
					return cat.backend, host, cut(s, loc[0], loc[1]), nil
				}
				if rule.strictHost {
					return "", "", "", errors.WrapWithCode(ErrMissingHost, errors.ErrParse,
						fmt.Sprintf("No host name after '%s'", rule.name),
						"Name the host right after the keyword, e.g. 'ssh to dgx nvidia-smi'.")
				}
			}
		}
	}
	return request.BackendLocal, "", s, nil
}

// acceptHost cleans a captured host token and decides whether it names a host.
func (p *Parser) acceptHost(token string, strict bool) (string, bool) {
	host := strings.TrimRight(token, ":,;.!?")
	if host == "" || !hostTokenPattern.MatchString(host) {
		return "", false
	}
	if strict {
		if canonical, ok := p.knownHosts[strings.ToLower(host)]; ok {
			return canonical, true
		}
		return host, true
	}
	if p.knownHosts != nil {
		canonical, ok := p.knownHosts[strings.ToLower(host)]
		return canonical, ok
	}
	if determiners[strings.ToLower(host)] {
		return "", false
	}
	return host, true
}

// detectAgent returns the earliest-mentioned agent and s with it removed.
func detectAgent(s string) (request.Agent, string) {
	best := -1
	var bestLoc []int
	agent := request.AgentNone
	for _, rule := range agentTable {
		loc := rule.pattern.FindStringIndex(s)
		if loc == nil {
			continue
		}
		if best == -1 || loc[0] < best {
			best = loc[0]
			bestLoc = loc
			agent = rule.agent
		}
	}
	if bestLoc == nil {
		return request.AgentNone, s
	}
	return agent, cut(s, bestLoc[0], bestLoc[1])
}

// cleanPayload trims punctuation and connective words from both ends until
// nothing more can be removed. Interior whitespace is left alone so quoted
// shell arguments survive.
func cleanPayload(s string) string {
	for {
		before := s
		s = strings.Trim(s, " \t\r\n,;:")
		if w, rest := firstWord(s); connectives[strings.ToLower(w)] {
			s = rest
		}
		if rest, w := lastWord(s); connectives[strings.ToLower(w)] {
			s = rest
		}
		if s == before {
			return s
		}
	}
}

func firstWord(s string) (word, rest string) {
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i:]
}

func lastWord(s string) (rest, word string) {
	i := strings.LastIndexAny(s, " \t")
	if i < 0 {
		return "", s
	}
	return s[:i], s[i+1:]
}

// cut removes s[start:end] and joins the two sides with a single space.
func cut(s string, start, end int) string {
	left := strings.TrimRight(s[:start], " \t")
	right := strings.TrimLeft(s[end:], " \t")
	if left == "" || right == "" {
		return left + right
	}
	return left + " " + right
}
