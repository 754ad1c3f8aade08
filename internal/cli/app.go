package cli

import (
	"os"
	"path/filepath"

	"github.com/rileyhilliard/forkterm/internal/agent"
	"github.com/rileyhilliard/forkterm/internal/backend"
	"github.com/rileyhilliard/forkterm/internal/backend/container"
	"github.com/rileyhilliard/forkterm/internal/backend/local"
	"github.com/rileyhilliard/forkterm/internal/backend/remote"
	"github.com/rileyhilliard/forkterm/internal/backend/sandbox"
	"github.com/rileyhilliard/forkterm/internal/config"
	"github.com/rileyhilliard/forkterm/internal/credential"
	"github.com/rileyhilliard/forkterm/internal/errors"
	"github.com/rileyhilliard/forkterm/internal/intent"
	"github.com/rileyhilliard/forkterm/internal/logger"
	"github.com/rileyhilliard/forkterm/internal/pool"
	"github.com/rileyhilliard/forkterm/internal/router"
)

// app holds everything one forkterm invocation needs. The SSH pool lives as
// long as the app, so batch requests to the same host share a connection.
type app struct {
	cfg     *config.Config
	hosts   *config.HostStore
	catalog *agent.Catalog
	creds   *credential.Resolver
	pool    *pool.Pool
	router  *router.Router
	parser  *intent.Parser
	workDir string
	log     logger.Logger
}

// loadSettings builds the part of app that opens nothing: config, hosts,
// credentials, and the parser. parse, hosts, and creds only need this.
func loadSettings() (*app, error) {
	log := logger.NewEnvLogger("[forkterm]")

	cfg, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return nil, err
	}

	workDir, err := resolveWorkDir(workDirFlag)
	if err != nil {
		return nil, err
	}

	hosts, err := config.LoadHosts(cfg.HostsFile, config.WithSSHConfigFile(cfg.SSHConfigFile))
	if err != nil {
		return nil, err
	}
	for _, p := range hosts.Problems() {
		log.Warn("skipping host: %s", errors.As(p).Message)
	}

	catalog := agent.NewCatalog(cfg.Agents)
	creds := credential.NewResolver(log, credential.StandardSources(workDir, catalog.ToolConfigs())...)

	return &app{
		cfg:     cfg,
		hosts:   hosts,
		catalog: catalog,
		creds:   creds,
		parser:  intent.NewParser(intent.WithWorkingDir(workDir), intent.WithKnownHosts(hosts.Names())),
		workDir: workDir,
		log:     log,
	}, nil
}

// newApp loads settings and builds the backends and router.
func newApp() (*app, error) {
	a, err := loadSettings()
	if err != nil {
		return nil, err
	}

	a.pool = pool.New(
		remote.NewDialer(a.hosts, a.cfg.SSH, credential.KeyResolver{}, logger.Named(a.log, "ssh")),
		pool.WithIdleTimeout(a.cfg.SSH.IdleTimeout),
		pool.WithLogger(logger.Named(a.log, "pool")),
	)
	a.pool.StartJanitor(0)

	outDir := a.cfg.Output.Dir
	backends := []backend.Backend{
		sandbox.New(a.cfg.Sandbox, a.catalog, a.creds,
			sandbox.WithOutputDir(outDir), sandbox.WithLogger(logger.Named(a.log, "sandbox"))),
		remote.New(a.hosts, a.pool, a.cfg.SSH, a.catalog, a.creds,
			remote.WithOutputDir(outDir), remote.WithLogger(logger.Named(a.log, "ssh"))),
		container.New(a.cfg.Container, a.catalog, a.creds,
			container.WithOutputDir(outDir), container.WithLogger(logger.Named(a.log, "container"))),
		local.New(a.catalog, local.WithTimeout(a.cfg.Local.CommandTimeout), local.WithLogger(logger.Named(a.log, "local"))),
	}
	a.router = router.New(backends, router.WithParser(a.parser), router.WithLogger(a.log))
	return a, nil
}

// Close releases pooled connections.
func (a *app) Close() {
	if a.pool != nil {
		a.pool.CloseAll()
	}
}

// configuredColor returns output.color from the config, or "" if the config
// can't be loaded. Load errors surface later from the command itself.
func configuredColor() string {
	cfg, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return ""
	}
	return cfg.Output.Color
}

func resolveWorkDir(flag string) (string, error) {
	dir := flag
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				"Can't determine the working directory",
				"Pass --dir explicitly.")
		}
		dir = wd
	}
	abs, err := filepath.Abs(config.ExpandTilde(dir))
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrConfig, "Invalid --dir: "+flag, "")
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", errors.New(errors.ErrConfig,
			"Working directory doesn't exist: "+abs,
			"Pass an existing directory with --dir.")
	}
	return abs, nil
}
