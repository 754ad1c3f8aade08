// Package remote runs requests on named SSH hosts over pooled connections.
package remote

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rileyhilliard/forkterm/internal/agent"
	"github.com/rileyhilliard/forkterm/internal/backend"
	"github.com/rileyhilliard/forkterm/internal/config"
	"github.com/rileyhilliard/forkterm/internal/errors"
	"github.com/rileyhilliard/forkterm/internal/gpu"
	"github.com/rileyhilliard/forkterm/internal/logger"
	"github.com/rileyhilliard/forkterm/internal/pool"
	"github.com/rileyhilliard/forkterm/internal/request"
	"github.com/rileyhilliard/forkterm/internal/transfer"
	"github.com/rileyhilliard/forkterm/pkg/sshutil"
)

// Metadata keys set by this backend.
const (
	MetaHost           = "ssh.host"
	MetaConnection     = "ssh.connection"
	MetaStaging        = "ssh.staging"
	MetaTransfer       = "ssh.transfer"
	MetaMissingCommand = "exec.missing_command"
)

// gpuProbeTimeout bounds nvidia-smi; the probe is best effort.
const gpuProbeTimeout = 10 * time.Second

// Backend is the SSH remote-host backend.
type Backend struct {
	hosts     *config.HostStore
	pool      *pool.Pool
	cfg       config.SSHConfig
	catalog   *agent.Catalog
	creds     backend.CredentialLookup
	outputDir string
	newID     func() string
	log       logger.Logger
}

// Option configures a Backend.
type Option func(*Backend)

// WithOutputDir sets the local download base (relative to the working dir).
func WithOutputDir(dir string) Option {
	return func(b *Backend) { b.outputDir = dir }
}

// WithIDs overrides how staging ids are generated, for tests.
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

// New creates the SSH backend. The pool is owned by the caller, which closes
// it on shutdown.
func New(hosts *config.HostStore, p *pool.Pool, cfg config.SSHConfig, catalog *agent.Catalog, creds backend.CredentialLookup, opts ...Option) *Backend {
	b := &Backend{
		hosts:   hosts,
		pool:    p,
		cfg:     cfg,
		catalog: catalog,
		creds:   creds,
		newID:   func() string { return uuid.NewString() },
		log:     logger.Noop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.hosts == nil {
		b.hosts = config.NewHostStore()
	}
	if b.catalog == nil {
		b.catalog = agent.NewCatalog(nil)
	}
	if b.cfg.StagingRoot == "" {
		b.cfg.StagingRoot = config.DefaultStagingRoot
	}
	if b.cfg.CommandTimeout <= 0 {
		b.cfg.CommandTimeout = config.DefaultCommandTimeout
	}
	return b
}

func (b *Backend) Kind() request.BackendKind { return request.BackendSSH }

func (b *Backend) SupportsAgent(a request.Agent) bool { return backend.SupportsKnownAgents(a) }

func (b *Backend) Describe() map[string]string {
	return map[string]string{
		backend.MetaBackend: string(request.BackendSSH),
		"hosts":             strings.Join(b.hosts.Names(), ","),
		"known_hosts":       b.cfg.KnownHosts,
		"connect_timeout":   b.cfg.ConnectTimeout.String(),
		"command_timeout":   b.cfg.CommandTimeout.String(),
	}
}

// Execute resolves the host, connects through the pool, probes GPUs when the
// host has them, stages referenced files, runs the command and collects
// <staging>/output.
func (b *Backend) Execute(ctx context.Context, req request.Request, res *backend.Resources) (*request.Result, error) {
	// Resolving: nothing below touches the network until Acquire.
	h, ok := b.hosts.Get(req.TargetHost())
	if !ok {
		return nil, unknownHost(req.TargetHost(), b.hosts)
	}

	id := b.newID()
	stageDir, onShare := stagingDir(h, b.cfg.StagingRoot, id)
	uploads := transfer.BuildUploadManifest(req.Payload(), req.WorkingDir(), stageDir, b.log)
	cmd, secretEnv, secretValue, err := b.command(req, uploads.Remotes())
	if err != nil {
		return nil, err
	}

	// Connecting
	handle, err := b.pool.Acquire(ctx, h.Name)
	if err != nil {
		return nil, err
	}
	res.Add("ssh connection "+h.Name, func(context.Context) error {
		handle.Discard()
		return nil
	})
	client := handle.Client()

	result := request.NewResult()
	result.Meta(backend.MetaBackend, string(request.BackendSSH))
	result.Meta(MetaHost, h.Name)
	if handle.Reused() {
		result.Meta(MetaConnection, "reused")
	} else {
		result.Meta(MetaConnection, "new")
	}

	// GPUProbe
	if h.GPU {
		for k, v := range b.probeGPUs(ctx, client, h.Name) {
			result.Meta(k, v)
		}
		if ctx.Err() != nil {
			return nil, backend.ContextError(ctx, "GPU probe on "+h.Name)
		}
	}

	// Transferring in
	var stage *staging
	if !uploads.Empty() {
		stage, err = b.openStaging(client, h, stageDir, onShare)
		if err != nil {
			handle.Discard()
			return nil, err
		}
		cleanup := sync.OnceValue(func() error {
			defer stage.files.Close()
			return stage.files.RemoveAll(stage.dir)
		})
		res.Add("staging dir "+stage.dir, func(context.Context) error { return cleanup() })
		defer func() {
			if err := cleanup(); err != nil {
				b.log.Warn("couldn't remove staging dir %s on %s: %v", stage.dir, h.Name, err)
			}
		}()
		transfer.Upload(stage.files, uploads, b.log)
		result.Meta(MetaStaging, stage.dir)
		result.Meta(MetaTransfer, stage.via)
	}

	// Executing
	workDir := ""
	if stage != nil {
		workDir = stage.dir
	}
	script, err := BuildScript(h, cmd, workDir, secretEnv, secretValue)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Host '%s' has an invalid environment", h.Name), "")
	}
	var stdin io.Reader
	if script.Stdin != "" {
		stdin = strings.NewReader(script.Stdin)
	}

	runCtx, cancel := context.WithTimeout(ctx, b.cfg.CommandTimeout)
	defer cancel()
	b.log.Debug("running %s on %s", req, h.Name)
	out, err := client.Exec(runCtx, script.Command, stdin)
	if err != nil {
		// A timed-out or broken session leaves the connection in an unknown state.
		handle.Discard()
		if runCtx.Err() != nil {
			return nil, backend.ContextError(runCtx, fmt.Sprintf("Command on '%s'", h.Name))
		}
		if e := errors.As(err); e == nil || e.Code == errors.ErrExec {
			return nil, errors.WrapWithCode(err, errors.ErrConnectivity,
				fmt.Sprintf("Lost the connection to '%s' while running the command", h.Name),
				"Check the host is still reachable and try again.")
		}
		return nil, err
	}
	result.Stdout = string(out.Stdout)
	result.Stderr = string(out.Stderr)
	result.SetExitCode(out.ExitCode)
	result.Meta(backend.MetaExecutor, backend.ExecutorCLI)
	if name, missing := backend.CommandNotFound(result.Stderr, out.ExitCode); missing {
		if name == "" {
			name = strings.Fields(req.Payload() + " ?")[0]
		}
		result.Meta(MetaMissingCommand, name)
		b.log.Warn("'%s' isn't on PATH on %s", name, h.Name)
	}

	// Transferring out
	if stage != nil {
		localDir := backend.LocalOutputDir(req.WorkingDir(), b.outputDir, request.BackendSSH, h.Name+"-"+shortID(id))
		result.DownloadedFiles = b.collect(stage, localDir, h.Name)
		if len(result.DownloadedFiles) > 0 {
			result.Meta(backend.MetaOutputDir, localDir)
		}
	}

	// Closing: auto-close tears the connection down through res; otherwise
	// it goes back to the pool for the next request.
	if !req.AutoClose() {
		handle.Release()
	}
	return result, nil
}

// command returns what to run and the secret to deliver over stdin, if any.
func (b *Backend) command(req request.Request, files []string) (cmd, secretEnv, secretValue string, err error) {
	if req.IsRaw() {
		return req.Payload(), "", "", nil
	}
	return b.agentCommand(req, agent.WithFiles(req.Payload(), files))
}

func (b *Backend) agentCommand(req request.Request, prompt string) (string, string, string, error) {
	spec, ok := b.catalog.Get(req.Agent())
	if !ok {
		return "", "", "", errors.New(errors.ErrConfig, fmt.Sprintf("No agent named '%s'", req.Agent()), "")
	}
	cred, err := backend.RequireCredential(b.creds, spec.CredentialEnv, "to run "+string(req.Agent())+" on a remote host")
	if err != nil {
		return "", "", "", err
	}
	b.log.Debug("forwarding %s over stdin", cred)
	// Remote agents always run headless; there is no terminal to attach to.
	cmd, err := b.catalog.CLICommand(req.Agent(), req.Tier(), prompt, true)
	if err != nil {
		return "", "", "", err
	}
	return cmd, spec.CredentialEnv, cred.Value, nil
}

func (b *Backend) probeGPUs(ctx context.Context, client sshutil.SSHClient, host string) map[string]string {
	probeCtx, cancel := context.WithTimeout(ctx, gpuProbeTimeout)
	defer cancel()
	out, err := client.Exec(probeCtx, gpu.QueryCommand, nil)
	if err != nil || out.ExitCode != 0 {
		b.log.Debug("GPU probe on %s failed, continuing without GPU info", host)
		return nil
	}
	gpus, err := gpu.Parse(string(out.Stdout))
	if err != nil {
		b.log.Debug("couldn't parse GPU probe output from %s: %v", host, err)
		return nil
	}
	return gpu.Metadata(gpus)
}

func (b *Backend) openStaging(client sshutil.SSHClient, h config.HostConfig, dir string, onShare bool) (*staging, error) {
	s := &staging{dir: dir}
	if onShare {
		s.files = newShareTransfer(h.FileShare)
		s.via = "file-share"
	} else {
		ft, err := client.NewFileTransfer()
		if err != nil {
			return nil, err
		}
		s.files = ft
		s.via = "sftp"
	}
	if err := s.files.MkdirAll(s.outputDir()); err != nil {
		s.files.Close()
		return nil, errors.WrapWithCode(err, errors.ErrExec,
			fmt.Sprintf("Couldn't create staging dir %s on '%s'", dir, h.Name),
			fmt.Sprintf("Check that %s is writable on the host.", b.cfg.StagingRoot))
	}
	return s, nil
}

func (b *Backend) collect(s *staging, localDir, host string) []string {
	listed, err := s.files.ListFiles(s.outputDir())
	if err != nil {
		b.log.Warn("couldn't list %s on %s: %v", s.outputDir(), host, err)
		return nil
	}
	m := transfer.BuildDownloadManifest(listed, s.outputDir(), localDir, b.log)
	return transfer.Download(s.files, m, b.log)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var _ backend.Backend = (*Backend)(nil)
