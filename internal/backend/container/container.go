// Package container runs requests in a throwaway local container driven
// through the docker CLI.
package container

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
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
	MetaContainerName  = "container.name"
	MetaContainerID    = "container.id"
	MetaContainerState = "container.state"
	MetaImage          = "container.image"
)

// NamePrefix starts every container this backend creates.
const NamePrefix = "forkterm-"

// buildTimeout bounds building the image from a Dockerfile.
const buildTimeout = 10 * time.Minute

// Completer is the part of agent.APIClient used for the fallback executor.
type Completer interface {
	Complete(ctx context.Context, spec agent.Spec, model, apiKey, prompt string) (string, error)
}

// Backend is the local container backend.
type Backend struct {
	cfg       config.ContainerConfig
	runner    Runner
	catalog   *agent.Catalog
	api       Completer
	creds     backend.CredentialLookup
	outputDir string
	newID     func() string
	log       logger.Logger
}

// Option configures a Backend.
type Option func(*Backend)

// WithRunner overrides the docker CLI runner.
func WithRunner(r Runner) Option {
	return func(b *Backend) { b.runner = r }
}

// WithCompleter overrides the provider API client used as the fallback.
func WithCompleter(c Completer) Option {
	return func(b *Backend) { b.api = c }
}

// WithOutputDir sets the local download base (relative to the working dir).
func WithOutputDir(dir string) Option {
	return func(b *Backend) { b.outputDir = dir }
}

// WithIDs overrides container name generation, for tests.
func WithIDs(newID func() string) Option {
	return func(b *Backend) { b.newID = newID }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.log = l
		}
	}
}

// New creates the container backend.
func New(cfg config.ContainerConfig, catalog *agent.Catalog, creds backend.CredentialLookup, opts ...Option) *Backend {
	b := &Backend{
		cfg:     cfg,
		catalog: catalog,
		creds:   creds,
		newID:   func() string { return uuid.NewString() },
		log:     logger.Noop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.runner == nil {
		b.runner = CLIRunner{Binary: cfg.Binary}
	}
	if b.catalog == nil {
		b.catalog = agent.NewCatalog(nil)
	}
	if b.api == nil {
		b.api = agent.NewAPIClient(cfg.Timeout)
	}
	return b
}

func (b *Backend) Kind() request.BackendKind { return request.BackendContainer }

func (b *Backend) SupportsAgent(a request.Agent) bool { return backend.SupportsKnownAgents(a) }

func (b *Backend) Describe() map[string]string {
	return map[string]string{
		backend.MetaBackend: string(request.BackendContainer),
		"binary":            b.binary(),
		"image":             b.cfg.Image,
		"output_dir":        b.cfg.OutputDir,
	}
}

func (b *Backend) binary() string {
	if b.cfg.Binary == "" {
		return "docker"
	}
	return b.cfg.Binary
}

// Execute probes the daemon, starts a fresh container, copies referenced
// files in, runs the agent CLI or command (falling back to the provider API
// for agents) and copies the output directory back out.
func (b *Backend) Execute(ctx context.Context, req request.Request, res *backend.Resources) (*request.Result, error) {
	var spec agent.Spec
	var secretEnv, secretValue string
	if !req.IsRaw() {
		var ok bool
		if spec, ok = b.catalog.Get(req.Agent()); !ok {
			return nil, errors.New(errors.ErrConfig, fmt.Sprintf("No agent named '%s'", req.Agent()), "")
		}
		cred, err := backend.RequireCredential(b.creds, spec.CredentialEnv, "to run "+string(req.Agent()))
		if err != nil {
			return nil, err
		}
		secretEnv, secretValue = spec.CredentialEnv, cred.Value
		b.log.Debug("passing %s to the container as %s", cred, secretEnv)
	}
	if err := b.probe(ctx); err != nil {
		return nil, err
	}
	if err := b.ensureImage(ctx); err != nil {
		return nil, err
	}
	uploads := transfer.BuildUploadManifest(req.Payload(), req.WorkingDir(), b.cfg.WorkDir, b.log)

	name := NamePrefix + b.newID()
	// docker run can create the container and still fail to start it, so
	// removal is registered before the container exists.
	res.Add("container "+name, func(ctx context.Context) error {
		_, stderr, code, err := b.run(ctx, []string{"rm", "-f", name}, nil, nil)
		if err != nil {
			return err
		}
		if code != 0 && !strings.Contains(string(stderr), "No such container") {
			return fmt.Errorf("%s rm -f %s: %s", b.binary(), name, firstLine(stderr))
		}
		return nil
	})
	stdout, stderr, code, err := b.run(ctx, []string{
		"run", "-d", "--name", name, "--label", "forkterm=1",
		"-w", b.cfg.WorkDir, b.cfg.Image, "sleep", "infinity",
	}, nil, nil)
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, errors.New(errors.ErrExec,
			fmt.Sprintf("Couldn't start a container from %s: %s", b.cfg.Image, firstLine(stderr)),
			fmt.Sprintf("Check the image exists: %s pull %s", b.binary(), b.cfg.Image))
	}
	b.log.Info("started container %s", name)

	result := request.NewResult()
	result.Meta(backend.MetaBackend, string(request.BackendContainer))
	result.Meta(MetaContainerName, name)
	result.Meta(MetaImage, b.cfg.Image)
	if id := strings.TrimSpace(string(stdout)); id != "" {
		result.Meta(MetaContainerID, shortID(id))
	}
	if req.AutoClose() {
		result.Meta(MetaContainerState, "removed")
	} else {
		result.Meta(MetaContainerState, "running")
	}

	files := &dockerFiles{ctx: ctx, b: b, name: name}
	if _, stderr, code, err := b.exec(ctx, name, "mkdir -p "+util.ShellQuote(b.cfg.OutputDir), "", ""); err != nil {
		return nil, err
	} else if code != 0 {
		b.log.Warn("couldn't create %s in %s: %s", b.cfg.OutputDir, name, firstLine([]byte(stderr)))
	}
	uploaded := transfer.Upload(files, uploads, b.log)

	chain, err := b.chain(req, name, spec, secretEnv, secretValue, uploaded)
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

	listed, err := files.list(b.cfg.OutputDir)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backend.ContextError(ctx, "Container download")
		}
		b.log.Warn("couldn't list %s in %s: %v", b.cfg.OutputDir, name, err)
		return result, nil
	}
	localDir := backend.LocalOutputDir(req.WorkingDir(), b.outputDir, request.BackendContainer, localID(name))
	downloads := transfer.BuildDownloadManifest(listed, b.cfg.OutputDir, localDir, b.log)
	result.DownloadedFiles = transfer.Download(files, downloads, b.log)
	if len(result.DownloadedFiles) > 0 {
		result.Meta(backend.MetaOutputDir, localDir)
	}
	return result, nil
}

// probe fails fast with CONNECTIVITY when the daemon isn't answering.
func (b *Backend) probe(ctx context.Context) error {
	_, stderr, code, err := b.run(ctx, []string{"info", "--format", "{{.ServerVersion}}"}, nil, nil)
	if err != nil {
		if errors.IsCode(err, errors.ErrTimeout) || errors.IsCode(err, errors.ErrCancelled) {
			return err
		}
		return errors.WrapWithCode(err, errors.ErrConnectivity,
			fmt.Sprintf("Can't run %s", b.binary()),
			"Install Docker, or set container.binary to a docker-compatible CLI.")
	}
	if code != 0 {
		return errors.New(errors.ErrConnectivity,
			fmt.Sprintf("The %s daemon isn't reachable: %s", b.binary(), firstLine(stderr)),
			"Start Docker Desktop or the docker service and try again.")
	}
	return nil
}

// run invokes the docker CLI bounded by the configured timeout.
func (b *Backend) run(ctx context.Context, args, env []string, stdin io.Reader) ([]byte, []byte, int, error) {
	return b.runWithin(ctx, b.cfg.Timeout, args, env, stdin)
}

// runWithin invokes the docker CLI with its own deadline. A call that runs
// past it fails with a Timeout error even if the runner didn't classify it.
func (b *Backend) runWithin(ctx context.Context, timeout time.Duration, args, env []string, stdin io.Reader) ([]byte, []byte, int, error) {
	if timeout <= 0 {
		timeout = config.DefaultCommandTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, stderr, code, err := b.runner.Run(callCtx, args, env, stdin)
	if ctx.Err() == nil && stderrors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.IsCode(err, errors.ErrTimeout) {
		if err == nil {
			err = callCtx.Err()
		}
		return stdout, stderr, -1, errors.WrapWithCode(err, errors.ErrTimeout,
			fmt.Sprintf("%s %s timed out after %s", b.binary(), first(args), timeout),
			"Check the docker daemon is responsive, or raise container.timeout.")
	}
	return stdout, stderr, code, err
}

// ensureImage builds the image from the configured Dockerfile when it isn't
// present locally. With no Dockerfile configured, a missing image surfaces
// from docker run.
func (b *Backend) ensureImage(ctx context.Context) error {
	if b.cfg.Dockerfile == "" {
		return nil
	}
	_, _, code, err := b.run(ctx, []string{"image", "inspect", b.cfg.Image}, nil, nil)
	if err != nil {
		return err
	}
	if code == 0 {
		return nil
	}

	dockerfile := config.ExpandTilde(b.cfg.Dockerfile)
	if _, err := os.Stat(dockerfile); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Image %s isn't built and the Dockerfile is missing: %s", b.cfg.Image, dockerfile),
			"Fix container.dockerfile or pull the image yourself.")
	}
	b.log.Info("building image %s from %s (first run)", b.cfg.Image, dockerfile)
	_, stderr, code, err := b.runWithin(ctx, buildTimeout, []string{
		"build", "-t", b.cfg.Image, "-f", dockerfile, filepath.Dir(dockerfile),
	}, nil, nil)
	if err != nil {
		return err
	}
	if code != 0 {
		return errors.New(errors.ErrExec,
			fmt.Sprintf("Building %s failed: %s", b.cfg.Image, lastLine(stderr)),
			fmt.Sprintf("Run it yourself to see the full log: %s build -t %s -f %s %s",
				b.binary(), b.cfg.Image, dockerfile, filepath.Dir(dockerfile)))
	}
	return nil
}

// exec runs cmd with sh -c in the container. secretEnv is passed by name
// only; its value rides in the docker client's own environment.
func (b *Backend) exec(ctx context.Context, name, cmd, secretEnv, secretValue string) (string, string, int, error) {
	args := []string{"exec"}
	var env []string
	if secretEnv != "" {
		args = append(args, "-e", secretEnv)
		env = []string{secretEnv + "=" + secretValue}
	}
	args = append(args, "-w", b.cfg.WorkDir, name, "sh", "-c", cmd)
	stdout, stderr, code, err := b.run(ctx, args, env, nil)
	return string(stdout), string(stderr), code, err
}

func (b *Backend) chain(req request.Request, name string, spec agent.Spec, secretEnv, secretValue string, uploaded []transfer.Entry) (backend.Chain, error) {
	if req.IsRaw() {
		return backend.Chain{
			Preferred: backend.ExecutorFunc(backend.ExecutorCLI, func(ctx context.Context) (*backend.Outcome, error) {
				return b.outcome(b.exec(ctx, name, req.Payload(), "", ""))
			}),
			Log: b.log,
		}, nil
	}

	remotes := make([]string, len(uploaded))
	for i, e := range uploaded {
		remotes[i] = e.Remote
	}
	prompt := agent.WithFiles(req.Payload(), remotes)
	cli, err := b.catalog.CLICommand(req.Agent(), req.Tier(), prompt, true)
	if err != nil {
		return backend.Chain{}, err
	}
	model := spec.Model(req.Tier())
	return backend.Chain{
		Preferred: backend.ExecutorFunc(backend.ExecutorCLI, func(ctx context.Context) (*backend.Outcome, error) {
			return b.outcome(b.exec(ctx, name, cli, secretEnv, secretValue))
		}),
		Fallback: backend.ExecutorFunc(backend.ExecutorAPI, func(ctx context.Context) (*backend.Outcome, error) {
			text, err := b.api.Complete(ctx, spec, model, secretValue, prompt)
			if err != nil {
				return nil, err
			}
			return &backend.Outcome{Stdout: text}, nil
		}),
		Log: b.log,
	}, nil
}

func (b *Backend) outcome(stdout, stderr string, code int, err error) (*backend.Outcome, error) {
	if err != nil {
		return nil, err
	}
	return &backend.Outcome{Stdout: stdout, Stderr: stderr, ExitCode: code}, nil
}

// dockerFiles moves files with docker cp.
type dockerFiles struct {
	ctx  context.Context
	b    *Backend
	name string
}

func (d *dockerFiles) Upload(localPath, remotePath string) error {
	if _, stderr, code, err := d.b.exec(d.ctx, d.name, "mkdir -p "+util.ShellQuote(path.Dir(remotePath)), "", ""); err != nil {
		return err
	} else if code != 0 {
		return fmt.Errorf("mkdir %s: %s", path.Dir(remotePath), firstLine([]byte(stderr)))
	}
	return d.cp(localPath, d.name+":"+remotePath)
}

func (d *dockerFiles) Download(remotePath, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	return d.cp(d.name+":"+remotePath, localPath)
}

func (d *dockerFiles) cp(src, dst string) error {
	_, stderr, code, err := d.b.run(d.ctx, []string{"cp", src, dst}, nil, nil)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("%s cp: %s", d.b.binary(), firstLine(stderr))
	}
	return nil
}

// list returns regular files under dir. Symlinks are not reported.
func (d *dockerFiles) list(dir string) ([]string, error) {
	stdout, stderr, code, err := d.b.exec(d.ctx, d.name, "find "+util.ShellQuote(dir)+" -type f -print0", "", "")
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, fmt.Errorf("find %s: %s", dir, firstLine([]byte(stderr)))
	}
	var out []string
	for _, p := range strings.Split(stdout, "\x00") {
		if p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

func firstLine(b []byte) string {
	s := string(bytes.TrimSpace(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

// lastLine returns the last non-empty line of b. Build errors end there.
func lastLine(b []byte) string {
	s := string(bytes.TrimSpace(b))
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return s
}

// localID is the part of a container name used for its download dir.
func localID(name string) string {
	id := strings.TrimPrefix(name, NamePrefix)
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

var _ backend.Backend = (*Backend)(nil)
