package container

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rileyhilliard/forkterm/internal/agent"
	"github.com/rileyhilliard/forkterm/internal/backend"
	"github.com/rileyhilliard/forkterm/internal/config"
	"github.com/rileyhilliard/forkterm/internal/credential"
	"github.com/rileyhilliard/forkterm/internal/errors"
	"github.com/rileyhilliard/forkterm/internal/logger"
	"github.com/rileyhilliard/forkterm/internal/request"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCreds map[string]string

func (s staticCreds) Resolve(name string) (credential.Credential, bool) {
	v, ok := s[name]
	return credential.Credential{Name: name, Value: v, Source: credential.SourceKeychain}, ok
}

type call struct {
	args []string
	env  []string
}

// fakeDocker simulates the docker CLI with an in-memory container filesystem.
type fakeDocker struct {
	mu       sync.Mutex
	calls    []call
	files    map[string][]byte
	daemonUp bool
	// run handles "docker exec ... sh -c <cmd>" for the workload.
	run func(cmd string, env []string) (string, string, int)
	// extraListing is appended to find output.
	extraListing []string
	// images present locally, for "image inspect".
	images map[string]bool
	// buildFails makes "build" exit non-zero.
	buildFails bool
	// runCode overrides the exit code of "run".
	runCode int
	// hang makes the named subcommand block until its context ends.
	hang string
	// deadlines records whether each call's context had a deadline.
	deadlines map[string]bool
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{files: map[string][]byte{}, daemonUp: true}
}

func (f *fakeDocker) Run(ctx context.Context, args, env []string, _ io.Reader) ([]byte, []byte, int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{args: append([]string(nil), args...), env: append([]string(nil), env...)})
	if f.deadlines == nil {
		f.deadlines = map[string]bool{}
	}
	_, hasDeadline := ctx.Deadline()
	f.deadlines[args[0]] = hasDeadline
	hang := f.hang == args[0]
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, nil, -1, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch args[0] {
	case "info":
		if !f.daemonUp {
			return nil, []byte("Cannot connect to the Docker daemon at unix:///var/run/docker.sock"), 1, nil
		}
		return []byte("27.0.1\n"), nil, 0, nil
	case "image":
		if f.images[args[2]] {
			return []byte("[{}]"), nil, 0, nil
		}
		return nil, []byte("Error: No such image: " + args[2]), 1, nil
	case "build":
		if f.buildFails {
			return nil, []byte("#5 ERROR: process did not complete\nERROR: failed to solve: exit code 1"), 1, nil
		}
		if f.images == nil {
			f.images = map[string]bool{}
		}
		f.images[args[2]] = true
		return nil, nil, 0, nil
	case "run":
		if f.runCode != 0 {
			return []byte("4f1c2a9be0d17a3c5e\n"), []byte(`exec: "sleep": executable file not found in $PATH`), f.runCode, nil
		}
		return []byte("4f1c2a9be0d17a3c5e\n"), nil, 0, nil
	case "rm":
		return nil, nil, 0, nil
	case "cp":
		src, dst := args[1], args[2]
		if i := strings.Index(dst, ":"); i > 0 && strings.HasPrefix(dst, NamePrefix) {
			data, err := os.ReadFile(src)
			if err != nil {
				return nil, []byte(err.Error()), 1, nil
			}
			f.files[dst[i+1:]] = data
			return nil, nil, 0, nil
		}
		i := strings.Index(src, ":")
		data, ok := f.files[src[i+1:]]
		if !ok {
			return nil, []byte("no such file"), 1, nil
		}
		return nil, nil, 0, os.WriteFile(dst, data, 0o644)
	case "exec":
		cmd := args[len(args)-1]
		switch {
		case strings.HasPrefix(cmd, "mkdir -p"):
			return nil, nil, 0, nil
		case strings.HasPrefix(cmd, "find "):
			var out []string
			for p := range f.files {
				if strings.HasPrefix(p, "/workspace/output/") {
					out = append(out, p)
				}
			}
			out = append(out, f.extraListing...)
			return []byte(strings.Join(out, "\x00")), nil, 0, nil
		}
		if f.run != nil {
			stdout, stderr, code := f.run(cmd, env)
			return []byte(stdout), []byte(stderr), code, nil
		}
		return nil, nil, 0, nil
	}
	return nil, []byte("unknown command"), 125, nil
}

func (f *fakeDocker) find(sub string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.args[0] == sub {
			out = append(out, c)
		}
	}
	return out
}

type fakeCompleter struct{ calls int }

func (f *fakeCompleter) Complete(context.Context, agent.Spec, string, string, string) (string, error) {
	f.calls++
	return "from the API", nil
}

func newTestBackend(d *fakeDocker, creds staticCreds, api Completer) *Backend {
	return New(config.DefaultConfig().Container, nil, creds,
		WithRunner(d),
		WithCompleter(api),
		WithIDs(func() string { return "1234abcd-ffff" }),
		WithLogger(logger.NewBufferLogger()))
}

func mustRequest(t *testing.T, f request.Fields) request.Request {
	t.Helper()
	f.Backend = request.BackendContainer
	req, err := request.New(f)
	require.NoError(t, err)
	return req
}

func TestExecute_AgentInContainer(t *testing.T) {
	work := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(work, "notes.md"), []byte("todo"), 0o600))

	d := newFakeDocker()
	d.run = func(cmd string, env []string) (string, string, int) {
		d.files["/workspace/output/summary.md"] = []byte("done")
		return "summarized", "", 0
	}
	b := newTestBackend(d, staticCreds{"ANTHROPIC_API_KEY": "sk-ant"}, &fakeCompleter{})
	res := backend.NewResources(nil)

	req := mustRequest(t, request.Fields{Agent: request.AgentClaude, Payload: "summarize notes.md", AutoClose: true, WorkingDir: work})
	out, err := b.Execute(context.Background(), req, res)
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Equal(t, "summarized", out.Stdout)
	assert.Equal(t, "cli", out.Metadata[backend.MetaExecutor])
	assert.Equal(t, "forkterm-1234abcd-ffff", out.Metadata[MetaContainerName])
	assert.Equal(t, "4f1c2a9be0d1", out.Metadata[MetaContainerID])
	assert.Equal(t, []byte("todo"), d.files["/workspace/notes.md"])

	wantLocal := filepath.Join(work, "fork-output", "container-1234abcd", "summary.md")
	assert.Equal(t, []string{wantLocal}, out.DownloadedFiles)

	// Secrets are passed by name; the value only lives in the client env.
	for _, c := range d.calls {
		for _, a := range c.args {
			assert.NotContains(t, a, "sk-ant")
		}
	}
	var agentCall *call
	for _, c := range d.find("exec") {
		if strings.Contains(c.args[len(c.args)-1], "claude") {
			c := c
			agentCall = &c
		}
	}
	require.NotNil(t, agentCall)
	assert.Equal(t, []string{"exec", "-e", "ANTHROPIC_API_KEY"}, agentCall.args[:3])
	assert.Equal(t, []string{"ANTHROPIC_API_KEY=sk-ant"}, agentCall.env)

	assert.Empty(t, d.find("rm"), "removal waits for teardown")
	assert.Empty(t, res.Release(context.Background()))
	rm := d.find("rm")
	require.Len(t, rm, 1)
	assert.Equal(t, []string{"rm", "-f", "forkterm-1234abcd-ffff"}, rm[0].args)
}

func TestExecute_DaemonDownAllocatesNothing(t *testing.T) {
	d := newFakeDocker()
	d.daemonUp = false
	b := newTestBackend(d, nil, nil)
	res := backend.NewResources(nil)

	_, err := b.Execute(context.Background(), mustRequest(t, request.Fields{Payload: "ls"}), res)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConnectivity))
	assert.Contains(t, errors.As(err).Message, "Cannot connect")
	assert.Empty(t, d.find("run"))
	assert.Zero(t, res.Len())
}

func TestExecute_MissingCredentialSkipsProbe(t *testing.T) {
	d := newFakeDocker()
	b := newTestBackend(d, staticCreds{}, nil)

	_, err := b.Execute(context.Background(), mustRequest(t, request.Fields{Agent: request.AgentGemini, Payload: "hi"}), backend.NewResources(nil))
	assert.True(t, errors.IsCode(err, errors.ErrAuth))
	assert.Empty(t, d.calls)
}

func TestExecute_FallsBackToAPI(t *testing.T) {
	d := newFakeDocker()
	d.run = func(string, []string) (string, string, int) {
		return "", "sh: 1: codex: not found", 127
	}
	api := &fakeCompleter{}
	b := newTestBackend(d, staticCreds{"OPENAI_API_KEY": "sk-oai"}, api)

	out, err := b.Execute(context.Background(), mustRequest(t, request.Fields{Agent: request.AgentCodex, Payload: "review"}), backend.NewResources(nil))
	require.NoError(t, err)
	assert.Equal(t, "from the API", out.Stdout)
	assert.Equal(t, "api", out.Metadata[backend.MetaExecutor])
	assert.Equal(t, "command not found: codex", out.Metadata[backend.MetaFallbackReason])
	assert.Equal(t, 1, api.calls)
	assert.Equal(t, "running", out.Metadata[MetaContainerState])
}

func TestExecute_DownloadFilterDropsEscapes(t *testing.T) {
	work := t.TempDir()
	d := newFakeDocker()
	d.files["/workspace/output/ok.txt"] = []byte("ok")
	d.extraListing = []string{"/workspace/output/../../etc/shadow", "/etc/hosts"}
	b := newTestBackend(d, nil, nil)

	out, err := b.Execute(context.Background(), mustRequest(t, request.Fields{Payload: "true", WorkingDir: work}), backend.NewResources(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(work, "fork-output", "container-1234abcd", "ok.txt")}, out.DownloadedFiles)
	for _, c := range d.find("cp") {
		assert.NotContains(t, c.args[1], "..")
		assert.NotContains(t, c.args[1], "/etc/")
	}
}

func TestExecute_RawExitCode(t *testing.T) {
	d := newFakeDocker()
	d.run = func(string, []string) (string, string, int) { return "", "fail", 3 }
	b := newTestBackend(d, nil, nil)

	out, err := b.Execute(context.Background(), mustRequest(t, request.Fields{Payload: "exit 3"}), backend.NewResources(nil))
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, 3, *out.ExitCode)
	assert.Equal(t, "fail", out.Stderr)
}

func TestCLIRunner(t *testing.T) {
	r := CLIRunner{Binary: "/bin/sh"}
	stdout, _, code, err := r.Run(context.Background(), []string{"-c", `printf %s "$TOKEN"`}, []string{"TOKEN=abc"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "abc", string(stdout))

	_, _, code, err = r.Run(context.Background(), []string{"-c", "exit 4"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, code)

	_, _, _, err = CLIRunner{Binary: "/no/such/docker"}.Run(context.Background(), []string{"info"}, nil, nil)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}

func TestExecute_BuildsMissingImageFromDockerfile(t *testing.T) {
	dockerfile := filepath.Join(t.TempDir(), "Dockerfile.agents")
	require.NoError(t, os.WriteFile(dockerfile, []byte("FROM alpine\n"), 0o644))

	tests := []struct {
		name       string
		dockerfile string
		present    bool
		buildFails bool
		wantBuilds int
		wantCode   string
	}{
		{name: "no dockerfile configured", wantBuilds: 0},
		{name: "image already present", dockerfile: dockerfile, present: true, wantBuilds: 0},
		{name: "image missing", dockerfile: dockerfile, wantBuilds: 1},
		{name: "build fails", dockerfile: dockerfile, buildFails: true, wantBuilds: 1, wantCode: errors.ErrExec},
		{name: "dockerfile missing", dockerfile: dockerfile + ".gone", wantCode: errors.ErrConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDocker()
			d.buildFails = tt.buildFails
			cfg := config.DefaultConfig().Container
			cfg.Dockerfile = tt.dockerfile
			if tt.present {
				d.images = map[string]bool{cfg.Image: true}
			}
			b := New(cfg, nil, staticCreds{}, WithRunner(d), WithIDs(func() string { return "1234abcd-ffff" }))

			req := mustRequest(t, request.Fields{Payload: "true", AutoClose: true, WorkingDir: t.TempDir()})
			res := backend.NewResources(nil)
			_, err := b.Execute(context.Background(), req, res)
			res.Release(context.Background())

			builds := d.find("build")
			assert.Len(t, builds, tt.wantBuilds)
			if tt.wantCode != "" {
				assert.True(t, errors.IsCode(err, tt.wantCode), "got %v", err)
				assert.Empty(t, d.find("run"), "no container starts without an image")
				return
			}
			require.NoError(t, err)
			if tt.wantBuilds > 0 {
				assert.Equal(t, []string{"build", "-t", cfg.Image, "-f", dockerfile, filepath.Dir(dockerfile)}, builds[0].args)
			}
		})
	}
}

func TestExecute_FailedStartStillRemovesContainer(t *testing.T) {
	d := newFakeDocker()
	d.runCode = 125
	b := newTestBackend(d, nil, nil)
	res := backend.NewResources(nil)

	_, err := b.Execute(context.Background(), mustRequest(t, request.Fields{Payload: "ls"}), res)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrExec))
	assert.Equal(t, []string{"container forkterm-1234abcd-ffff"}, res.Names())

	assert.Empty(t, res.Release(context.Background()))
	rm := d.find("rm")
	require.Len(t, rm, 1)
	assert.Equal(t, []string{"rm", "-f", "forkterm-1234abcd-ffff"}, rm[0].args)
}

func TestExecute_DockerCallsAreBounded(t *testing.T) {
	d := newFakeDocker()
	d.hang = "exec"
	cfg := config.DefaultConfig().Container
	cfg.Timeout = 50 * time.Millisecond
	b := New(cfg, nil, staticCreds{}, WithRunner(d), WithIDs(func() string { return "1234abcd-ffff" }))
	res := backend.NewResources(nil)

	start := time.Now()
	_, err := b.Execute(context.Background(), mustRequest(t, request.Fields{Payload: "sleep 600", AutoClose: true}), res)
	assert.Less(t, time.Since(start), 5*time.Second)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrTimeout), "got %v", err)
	res.Release(context.Background())

	for _, sub := range []string{"info", "run", "exec", "rm"} {
		assert.True(t, d.deadlines[sub], "%s ran without a deadline", sub)
	}
}

func TestExecute_CancelledCallIsNotATimeout(t *testing.T) {
	d := newFakeDocker()
	d.hang = "info"
	b := newTestBackend(d, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := b.Execute(ctx, mustRequest(t, request.Fields{Payload: "ls"}), backend.NewResources(nil))
	require.Error(t, err)
	assert.False(t, errors.IsCode(err, errors.ErrTimeout))
}
