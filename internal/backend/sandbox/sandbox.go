package sandbox

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/rileyhilliard/forkterm/internal/agent"
	"github.com/rileyhilliard/forkterm/internal/backend"
	"github.com/rileyhilliard/forkterm/internal/config"
	"github.com/rileyhilliard/forkterm/internal/errors"
	"github.com/rileyhilliard/forkterm/internal/logger"
	"github.com/rileyhilliard/forkterm/internal/request"
	"github.com/rileyhilliard/forkterm/internal/transfer"
	"github.com/rileyhilliard/forkterm/internal/util"
)

// Metadata keys set by this backend.
const (
	MetaSandboxID    = "sandbox.id"
	MetaSandboxState = "sandbox.state"
)

// Completer is the part of agent.APIClient used for the fallback executor.
type Completer interface {
	Complete(ctx context.Context, spec agent.Spec, model, apiKey, prompt string) (string, error)
}

// Connect returns a Service authenticated with the sandbox API key.
type Connect func(apiKey string) Service

// Backend is the cloud sandbox backend.
type Backend struct {
	cfg       config.SandboxConfig
	outputDir string
	connect   Connect
	catalog   *agent.Catalog
	api       Completer
	creds     backend.CredentialLookup
	log       logger.Logger
}

// Option configures a Backend.
type Option func(*Backend)

// WithConnect overrides how the sandbox service client is built.
func WithConnect(c Connect) Option {
	return func(b *Backend) { b.connect = c }
}

// WithCompleter overrides the provider API client used as the fallback.
func WithCompleter(c Completer) Option {
	return func(b *Backend) { b.api = c }
}

// WithOutputDir sets the local download base (relative to the working dir).
func WithOutputDir(dir string) Option {
	return func(b *Backend) { b.outputDir = dir }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.log = l
		}
	}
}

// New creates the sandbox backend.
func New(cfg config.SandboxConfig, catalog *agent.Catalog, creds backend.CredentialLookup, opts ...Option) *Backend {
	b := &Backend{
		cfg:     cfg,
		catalog: catalog,
		creds:   creds,
		log:     logger.Noop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.catalog == nil {
		b.catalog = agent.NewCatalog(nil)
	}
	if b.cfg.CredentialName == "" {
		b.cfg.CredentialName = agent.SandboxCredential
	}
	if b.connect == nil {
		apiURL, timeout := b.cfg.APIURL, b.cfg.Timeout
		b.connect = func(key string) Service { return NewHTTPClient(apiURL, key, timeout) }
	}
	if b.api == nil {
		b.api = agent.NewAPIClient(b.cfg.Timeout)
	}
	return b
}

func (b *Backend) Kind() request.BackendKind { return request.BackendSandbox }

func (b *Backend) SupportsAgent(a request.Agent) bool { return backend.SupportsKnownAgents(a) }

func (b *Backend) Describe() map[string]string {
	return map[string]string{
		backend.MetaBackend: string(request.BackendSandbox),
		"api_url":           b.cfg.APIURL,
		"template":          b.cfg.Template,
		"output_dir":        b.cfg.OutputDir,
		"credential":        b.cfg.CredentialName,
	}
}

// Execute creates a sandbox, stages referenced files, runs the agent CLI or
// command inside it (falling back to the provider API for agents), and
// downloads whatever landed in the output directory.
func (b *Backend) Execute(ctx context.Context, req request.Request, res *backend.Resources) (*request.Result, error) {
	// Everything that can fail without touching the service happens first.
	key, err := backend.RequireCredential(b.creds, b.cfg.CredentialName, "to create sandboxes")
	if err != nil {
		return nil, err
	}
	var spec agent.Spec
	var agentKey string
	if !req.IsRaw() {
		var ok bool
		if spec, ok = b.catalog.Get(req.Agent()); !ok {
			return nil, errors.New(errors.ErrConfig, fmt.Sprintf("No agent named '%s'", req.Agent()), "")
		}
		cred, err := backend.RequireCredential(b.creds, spec.CredentialEnv, "to run "+string(req.Agent()))
		if err != nil {
			return nil, err
		}
		agentKey = cred.Value
		b.log.Debug("using %s for %s", cred, spec.CredentialEnv)
	}
	workDir := b.cfg.WorkDir
	uploads := transfer.BuildUploadManifest(req.Payload(), req.WorkingDir(), workDir, b.log)

	svc := b.connect(key.Value)
	id, err := svc.Create(ctx, b.cfg.Template, b.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	res.Add("sandbox "+id, func(ctx context.Context) error {
		return svc.Kill(ctx, id)
	})
	b.log.Info("created sandbox %s", id)

	result := request.NewResult()
	result.Meta(backend.MetaBackend, string(request.BackendSandbox))
	result.Meta(MetaSandboxID, id)
	result.Meta(backend.MetaCredential, key.Source)
	if req.AutoClose() {
		result.Meta(MetaSandboxState, "destroyed")
	} else {
		result.Meta(MetaSandboxState, "running")
	}

	files := &fileIO{ctx: ctx, svc: svc, id: id}
	uploaded := transfer.Upload(files, uploads, b.log)

	// Output dir creation failing is not fatal; the command can still run.
	if _, err := svc.Exec(ctx, id, Command{Cmd: "mkdir -p " + util.ShellQuote(b.cfg.OutputDir)}); err != nil {
		if ctx.Err() != nil {
			return nil, backend.ContextError(ctx, "Sandbox setup")
		}
		b.log.Warn("couldn't create %s in sandbox %s: %v", b.cfg.OutputDir, id, err)
	}

	chain, err := b.chain(req, svc, id, spec, agentKey, remotes(uploaded))
	if err != nil {
		return nil, err
	}
	out, err := chain.Run(ctx)
	if err != nil {
		return nil, err
	}
	result.Stdout = out.Stdout
	result.Stderr = out.Stderr
	result.SetExitCode(out.ExitCode)
	result.Meta(backend.MetaExecutor, out.Executor)
	if out.FallbackReason != "" {
		result.Meta(backend.MetaFallbackReason, out.FallbackReason)
	}

	listed, err := svc.ListFiles(ctx, id, b.cfg.OutputDir)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backend.ContextError(ctx, "Sandbox download")
		}
		b.log.Warn("couldn't list %s in sandbox %s: %v", b.cfg.OutputDir, id, err)
		return result, nil
	}
	localDir := backend.LocalOutputDir(req.WorkingDir(), b.outputDir, request.BackendSandbox, id)
	downloads := transfer.BuildDownloadManifest(listed, b.cfg.OutputDir, localDir, b.log)
	result.DownloadedFiles = transfer.Download(files, downloads, b.log)
	if len(result.DownloadedFiles) > 0 {
		result.Meta(backend.MetaOutputDir, localDir)
	}
	return result, nil
}

func (b *Backend) chain(req request.Request, svc Service, id string, spec agent.Spec, agentKey string, files []string) (backend.Chain, error) {
	timeout := int(b.cfg.Timeout / time.Second)
	if req.IsRaw() {
		return backend.Chain{
			Preferred: backend.ExecutorFunc(backend.ExecutorCLI, func(ctx context.Context) (*backend.Outcome, error) {
				return run(ctx, svc, id, Command{Cmd: req.Payload(), WorkDir: b.cfg.WorkDir, Timeout: timeout})
			}),
			Log: b.log,
		}, nil
	}

	prompt := agent.WithFiles(req.Payload(), files)
	cli, err := b.catalog.CLICommand(req.Agent(), req.Tier(), prompt, true)
	if err != nil {
		return backend.Chain{}, err
	}
	env := map[string]string{spec.CredentialEnv: agentKey}
	model := spec.Model(req.Tier())
	return backend.Chain{
		Preferred: backend.ExecutorFunc(backend.ExecutorCLI, func(ctx context.Context) (*backend.Outcome, error) {
			return run(ctx, svc, id, Command{Cmd: cli, Env: env, WorkDir: b.cfg.WorkDir, Timeout: timeout})
		}),
		Fallback: backend.ExecutorFunc(backend.ExecutorAPI, func(ctx context.Context) (*backend.Outcome, error) {
			text, err := b.api.Complete(ctx, spec, model, agentKey, prompt)
			if err != nil {
				return nil, err
			}
			return &backend.Outcome{Stdout: text}, nil
		}),
		Log: b.log,
	}, nil
}

func run(ctx context.Context, svc Service, id string, cmd Command) (*backend.Outcome, error) {
	out, err := svc.Exec(ctx, id, cmd)
	if err != nil {
		return nil, err
	}
	return &backend.Outcome{Stdout: out.Stdout, Stderr: out.Stderr, ExitCode: out.ExitCode}, nil
}

func remotes(entries []transfer.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Remote
	}
	return out
}

// fileIO adapts Service to the transfer Uploader and Downloader.
type fileIO struct {
	ctx context.Context
	svc Service
	id  string
}

func (f *fileIO) Upload(localPath, remotePath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if _, err := f.svc.Exec(f.ctx, f.id, Command{Cmd: "mkdir -p " + util.ShellQuote(dir)}); err != nil {
			return err
		}
	}
	return f.svc.WriteFile(f.ctx, f.id, remotePath, data)
}

func (f *fileIO) Download(remotePath, localPath string) error {
	data, err := f.svc.ReadFile(f.ctx, f.id, remotePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(localPath, data, 0o644)
}

var _ backend.Backend = (*Backend)(nil)
