package intent

import (
	stderrors "errors"
	"testing"

	"github.com/rileyhilliard/forkterm/internal/errors"
	"github.com/rileyhilliard/forkterm/internal/request"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_ScenarioSandboxAgent(t *testing.T) {
	p := NewParser()

	req, err := p.Parse("fork terminal use gemini in sandbox to summarize data.csv auto-close")
	require.NoError(t, err)

	assert.Equal(t, request.BackendSandbox, req.Backend())
	assert.Equal(t, request.AgentGemini, req.Agent())
	assert.True(t, req.AutoClose())
	assert.Equal(t, "summarize data.csv", req.Payload())
	assert.Empty(t, req.TargetHost())
}

func TestParse_ScenarioSSHRaw(t *testing.T) {
	p := NewParser()

	req, err := p.Parse("fork terminal on dgx: nvidia-smi")
	require.NoError(t, err)

	assert.Equal(t, request.BackendSSH, req.Backend())
	assert.Equal(t, "dgx", req.TargetHost())
	assert.Equal(t, request.AgentNone, req.Agent())
	assert.Equal(t, "nvidia-smi", req.Payload())
	assert.False(t, req.AutoClose())
}

func TestParse_BackendKeywords(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		backend request.BackendKind
		host    string
		payload string
	}{
		{"in sandbox", "run ls -la in sandbox", request.BackendSandbox, "", "run ls -la"},
		{"use sandbox", "use sandbox to run pytest", request.BackendSandbox, "", "run pytest"},
		{"with sandbox", "WITH SANDBOX: make test", request.BackendSandbox, "", "make test"},
		{"sandbox colon", "sandbox: uname -a", request.BackendSandbox, "", "uname -a"},
		{"ssh to", "ssh to workstation and run df -h", request.BackendSSH, "workstation", "run df -h"},
		{"remote colon", "remote:dgx nvidia-smi", request.BackendSSH, "dgx", "nvidia-smi"},
		{"at prefix", "@dgx nvidia-smi -L", request.BackendSSH, "dgx", "nvidia-smi -L"},
		{"at after invocation", "fork terminal @gpu-01 htop", request.BackendSSH, "gpu-01", "htop"},
		{"on host", "nvidia-smi on dgx", request.BackendSSH, "dgx", "nvidia-smi"},
		{"in docker", "run go test ./... in docker", request.BackendContainer, "", "run go test ./..."},
		{"use docker", "use docker to build", request.BackendContainer, "", "build"},
		{"docker colon", "Docker: cat /etc/os-release", request.BackendContainer, "", "cat /etc/os-release"},
		{"no keyword", "git status", request.BackendLocal, "", "git status"},
	}

	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := p.Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.backend, req.Backend())
			assert.Equal(t, tt.host, req.TargetHost())
			assert.Equal(t, tt.payload, req.Payload())
		})
	}
}

func TestParse_WordOrderDoesNotChangeBackend(t *testing.T) {
	p := NewParser()

	inputs := map[request.BackendKind][]string{
		request.BackendSandbox: {
			"in sandbox summarize data.csv",
			"summarize in sandbox data.csv",
			"summarize data.csv in sandbox",
		},
		request.BackendContainer: {
			"in docker run make",
			"run in docker make",
			"run make in docker",
		},
		request.BackendSSH: {
			"ssh to dgx run nvidia-smi",
			"run nvidia-smi ssh to dgx",
			"run ssh to dgx nvidia-smi",
		},
	}

	for want, texts := range inputs {
		for _, text := range texts {
			req, err := p.Parse(text)
			require.NoError(t, err, text)
			assert.Equal(t, want, req.Backend(), text)
		}
	}
}

func TestParse_NoKeywordIsLocal(t *testing.T) {
	p := NewParser()
	for _, text := range []string{
		"ls",
		"fork terminal",
		"fork a new terminal npm run dev",
		"use claude to fix the failing test",
		"grep sandbox README.md",
		"echo docker",
	} {
		req, err := p.Parse(text)
		require.NoError(t, err, text)
		assert.Equal(t, request.BackendLocal, req.Backend(), text)
	}
}

func TestParse_PriorityTieBreak(t *testing.T) {
	p := NewParser()

	req, err := p.Parse("on dgx run nvidia-smi in sandbox")
	require.NoError(t, err)
	assert.Equal(t, request.BackendSandbox, req.Backend(), "sandbox outranks ssh")
	assert.Empty(t, req.TargetHost())

	req, err = p.Parse("ssh to dgx in docker ls")
	require.NoError(t, err)
	assert.Equal(t, request.BackendSSH, req.Backend(), "ssh outranks container")
	assert.Equal(t, "dgx", req.TargetHost())

	req, err = p.Parse("in docker sandbox: ls")
	require.NoError(t, err)
	assert.Equal(t, request.BackendSandbox, req.Backend(), "sandbox outranks container")
}

func TestParse_MissingHost(t *testing.T) {
	p := NewParser()
	for _, text := range []string{
		"ssh to",
		"remote: ",
		"@ nvidia-smi",
		"fork terminal ssh to",
	} {
		_, err := p.Parse(text)
		require.Error(t, err, text)
		assert.True(t, errors.IsCode(err, errors.ErrParse), text)
		assert.True(t, stderrors.Is(err, ErrMissingHost), text)
	}
}

func TestParse_LooseOnSkipsDeterminers(t *testing.T) {
	p := NewParser()

	req, err := p.Parse("run the linter on the repo")
	require.NoError(t, err)
	assert.Equal(t, request.BackendLocal, req.Backend())

	req, err = p.Parse("run the linter on the repo then report on dgx")
	require.NoError(t, err)
	assert.Equal(t, request.BackendSSH, req.Backend())
	assert.Equal(t, "dgx", req.TargetHost())
}

func TestParse_KnownHosts(t *testing.T) {
	p := NewParser(WithKnownHosts([]string{"DGX", "workstation"}))

	req, err := p.Parse("nvidia-smi on dgx")
	require.NoError(t, err)
	assert.Equal(t, request.BackendSSH, req.Backend())
	assert.Equal(t, "DGX", req.TargetHost(), "configured spelling wins")

	req, err = p.Parse("summarize notes on performance")
	require.NoError(t, err)
	assert.Equal(t, request.BackendLocal, req.Backend(), "unknown names do not trigger ssh")

	req, err = p.Parse("ssh to laptop uptime")
	require.NoError(t, err)
	assert.Equal(t, "laptop", req.TargetHost(), "explicit forms accept any host")
}

func TestParse_OnNameColonAcceptsAnyHost(t *testing.T) {
	p := NewParser(WithKnownHosts([]string{"workstation"}))

	tests := []struct {
		input   string
		backend request.BackendKind
		host    string
		payload string
	}{
		{"fork terminal on dgx: nvidia-smi", request.BackendSSH, "dgx", "nvidia-smi"},
		{"on WORKSTATION: df -h", request.BackendSSH, "workstation", "df -h"},
		{"use claude on gpu-01: train the model", request.BackendSSH, "gpu-01", "train the model"},
		{"nvidia-smi on dgx", request.BackendLocal, "", "nvidia-smi on dgx"},
		{"read the docs on https://go.dev", request.BackendLocal, "", "read the docs on https://go.dev"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			req, err := p.Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.backend, req.Backend())
			assert.Equal(t, tt.host, req.TargetHost())
			assert.Equal(t, tt.payload, req.Payload())
		})
	}
}

func TestParse_EmptyHostListDisablesLooseOn(t *testing.T) {
	req, err := NewParser(WithKnownHosts(nil)).Parse("work on refactoring")
	require.NoError(t, err)
	assert.Equal(t, request.BackendLocal, req.Backend(), "nothing configured, nothing to match")

	req, err = NewParser(WithKnownHosts(nil)).Parse("on dgx: uptime")
	require.NoError(t, err)
	assert.Equal(t, request.BackendSSH, req.Backend(), "the colon form still routes")

	req, err = NewParser().Parse("work on refactoring")
	require.NoError(t, err)
	assert.Equal(t, request.BackendSSH, req.Backend(), "without a host list any name counts")
}

func TestParse_Agents(t *testing.T) {
	tests := []struct {
		input   string
		agent   request.Agent
		payload string
	}{
		{"use claude to fix the failing test", request.AgentClaude, "fix the failing test"},
		{"ask Gemini to explain main.go", request.AgentGemini, "explain main.go"},
		{"codex: write a README", request.AgentCodex, "write a README"},
		{"review the diff with claude code", request.AgentClaude, "review the diff"},
		{"run gemini-cli summarize logs", request.AgentGemini, "summarize logs"},
		{"ls -la", request.AgentNone, "ls -la"},
	}

	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			req, err := p.Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.agent, req.Agent())
			assert.Equal(t, tt.payload, req.Payload())
		})
	}
}

func TestParse_FirstAgentMentionedWins(t *testing.T) {
	req, err := NewParser().Parse("use codex to review what gemini wrote")
	require.NoError(t, err)
	assert.Equal(t, request.AgentCodex, req.Agent())
	assert.Equal(t, "review what gemini wrote", req.Payload())
}

func TestParse_Tier(t *testing.T) {
	p := NewParser()

	req, err := p.Parse("use claude fast to rename the variable")
	require.NoError(t, err)
	assert.Equal(t, request.TierFast, req.Tier())
	assert.Equal(t, "rename the variable", req.Payload())

	req, err = p.Parse("heavy gemini in sandbox: design the schema")
	require.NoError(t, err)
	assert.Equal(t, request.TierHeavy, req.Tier())

	req, err = p.Parse("ask codex to review")
	require.NoError(t, err)
	assert.Equal(t, request.TierDefault, req.Tier())

	req, err = p.Parse("make fast")
	require.NoError(t, err)
	assert.Equal(t, request.TierDefault, req.Tier(), "raw commands keep their words")
	assert.Equal(t, "make fast", req.Payload())
}

func TestParse_AutoClose(t *testing.T) {
	p := NewParser()
	for _, text := range []string{
		"auto-close ls",
		"ls auto-close",
		"ls --auto-close",
		"--auto-close ls",
		"ls AUTO-CLOSE",
	} {
		req, err := p.Parse(text)
		require.NoError(t, err, text)
		assert.True(t, req.AutoClose(), text)
		assert.Equal(t, "ls", req.Payload(), text)
	}

	req, err := p.Parse("ls")
	require.NoError(t, err)
	assert.False(t, req.AutoClose())
}

func TestParse_EmptyInput(t *testing.T) {
	_, err := NewParser().Parse("   ")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrEmptyInput))
}

func TestParse_EmptyPayloadOnRemoteBackend(t *testing.T) {
	_, err := NewParser().Parse("fork terminal in sandbox")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrEmptyPayload))

	req, err := NewParser().Parse("fork terminal")
	require.NoError(t, err, "an empty local request opens a plain terminal")
	assert.Empty(t, req.Payload())
}

func TestParse_PreservesInteriorWhitespace(t *testing.T) {
	req, err := NewParser().Parse(`docker: echo 'a   b'`)
	require.NoError(t, err)
	assert.Equal(t, `echo 'a   b'`, req.Payload())
}

func TestParse_WorkingDir(t *testing.T) {
	req, err := NewParser(WithWorkingDir("/src/app")).Parse("ls")
	require.NoError(t, err)
	assert.Equal(t, "/src/app", req.WorkingDir())
}

func TestParse_Deterministic(t *testing.T) {
	p := NewParser()
	text := "fork terminal use claude heavy on dgx: train the model auto-close"

	first, err := p.Parse(text)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := p.Parse(text)
		require.NoError(t, err)
		assert.Equal(t, first.Fields(), again.Fields())
	}
}
