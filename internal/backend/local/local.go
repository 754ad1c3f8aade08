// Package local runs requests on this machine, either in a new terminal
// window or, with auto-close, directly with captured output. No isolation
// is provided and no credentials are resolved: the command sees the user's
// own environment.
package local

import (
	"context"
	"strings"
	"time"

	"github.com/rileyhilliard/forkterm/internal/agent"
	"github.com/rileyhilliard/forkterm/internal/backend"
	"github.com/rileyhilliard/forkterm/internal/errors"
	"github.com/rileyhilliard/forkterm/internal/logger"
	"github.com/rileyhilliard/forkterm/internal/request"
)

// DefaultTimeout bounds an auto-close command when no timeout is configured.
const DefaultTimeout = 300 * time.Second

// Backend is the local-terminal backend.
type Backend struct {
	shell    Shell
	launcher Launcher
	catalog  *agent.Catalog
	timeout  time.Duration
	log      logger.Logger
}

// Option configures a Backend.
type Option func(*Backend)

// WithShell overrides the shell used for auto-close runs.
func WithShell(s Shell) Option {
	return func(b *Backend) { b.shell = s }
}

// WithLauncher overrides how terminal windows are opened.
func WithLauncher(l Launcher) Option {
	return func(b *Backend) { b.launcher = l }
}

// WithTimeout bounds auto-close commands.
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.log = l
		}
	}
}

// New creates the local backend. When no launcher is given the platform
// default is detected lazily, on the first interactive request.
func New(catalog *agent.Catalog, opts ...Option) *Backend {
	b := &Backend{catalog: catalog, timeout: DefaultTimeout, log: logger.Noop()}
	for _, opt := range opts {
		opt(b)
	}
	if b.catalog == nil {
		b.catalog = agent.NewCatalog(nil)
	}
	return b
}

func (b *Backend) Kind() request.BackendKind { return request.BackendLocal }

func (b *Backend) SupportsAgent(a request.Agent) bool { return backend.SupportsKnownAgents(a) }

func (b *Backend) Describe() map[string]string {
	d := map[string]string{
		backend.MetaBackend: string(request.BackendLocal),
		"shell":             b.shell.path(),
		"isolation":         "none",
		"timeout":           b.timeout.String(),
	}
	if b.launcher != nil {
		d["terminal"] = b.launcher.Name()
	}
	return d
}

// Execute runs the request.
func (b *Backend) Execute(ctx context.Context, req request.Request, _ *backend.Resources) (*request.Result, error) {
	cmd, err := b.command(req)
	if err != nil {
		return nil, err
	}

	res := request.NewResult()
	res.Meta(backend.MetaBackend, string(request.BackendLocal))
	if !req.IsRaw() {
		res.Meta("agent", string(req.Agent()))
	}

	if !req.AutoClose() {
		launcher, err := b.terminal()
		if err != nil {
			return nil, err
		}
		b.log.Info("opening %s in %s", req, launcher.Name())
		if err := launcher.Launch(ctx, cmd, req.WorkingDir()); err != nil {
			return nil, err
		}
		res.Success = true
		res.Meta("terminal", launcher.Name())
		res.Meta("mode", "interactive")
		return res, nil
	}

	if strings.TrimSpace(cmd) == "" {
		return nil, errors.New(errors.ErrParse, "Nothing to run", "Add a command after the backend keyword.")
	}
	b.log.Debug("running %s through %s", req, b.shell.path())
	runCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	stdout, stderr, code, err := b.shell.Run(runCtx, cmd, req.WorkingDir(), nil)
	if err != nil {
		return nil, err
	}
	res.Stdout = string(stdout)
	res.Stderr = string(stderr)
	res.SetExitCode(code)
	res.Meta("mode", "captured")
	res.Meta(backend.MetaExecutor, "shell")
	return res, nil
}

func (b *Backend) command(req request.Request) (string, error) {
	if req.IsRaw() {
		return req.Payload(), nil
	}
	return b.catalog.CLICommand(req.Agent(), req.Tier(), req.Payload(), req.AutoClose())
}

func (b *Backend) terminal() (Launcher, error) {
	if b.launcher != nil {
		return b.launcher, nil
	}
	l, err := DefaultLauncher()
	if err != nil {
		return nil, err
	}
	b.launcher = l
	return l, nil
}

var _ backend.Backend = (*Backend)(nil)
