package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rileyhilliard/forkterm/internal/errors"
	"github.com/rileyhilliard/forkterm/internal/ui"
	"github.com/spf13/cobra"
)

// Global flags
var (
	cfgFile     string
	jsonOutput  bool
	colorFlag   string
	verbose     bool
	workDirFlag string
)

// Exit codes. A command that ran passes its own exit code through.
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

// exitError carries a process exit code for a failure that was already
// reported to the user.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

var rootCmd = &cobra.Command{
	Use:   "forkterm [request]",
	Short: "Fork a command or coding agent into another environment",
	Long: `forkterm reads a plain-language request and runs it locally, in a cloud
sandbox, on an SSH host, or in a Docker container.

The request names where to run, which agent (if any), and what to do:

  forkterm "fork terminal use gemini in sandbox to summarize data.csv auto-close"
  forkterm "fork terminal on dgx: nvidia-smi"
  forkterm "in docker: pytest -q"
  forkterm "claude fast fix the failing test"

With no backend named, the request opens in a new local terminal window.
Add "auto-close" to capture output and clean up when the run finishes.`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return applyColor(cmd.ErrOrStderr())
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		return runCommand(cmd, strings.Join(args, " "))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/forkterm/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print machine-readable JSON")
	rootCmd.PersistentFlags().StringVar(&colorFlag, "color", "", "color output: auto, always, or never")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show every metadata key")
	rootCmd.PersistentFlags().StringVarP(&workDirFlag, "dir", "C", "", "working directory for relative file references (default current)")
	addRunFlags(rootCmd)
}

// applyColor turns colors off for --color never, for NO_COLOR, and when
// stderr isn't a terminal, unless --color always or the config overrides.
func applyColor(errOut interface{}) error {
	mode := colorFlag
	if mode == "" {
		mode = configuredColor()
	}
	if mode == "" || mode == ui.ColorAuto {
		if os.Getenv("NO_COLOR") != "" || !isTerminal(errOut) {
			mode = ui.ColorNever
		}
	}
	if err := ui.ApplyColorMode(mode); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Use --color auto, always, or never.")
	}
	return nil
}

// Execute runs the root command and returns the process exit code.
// SIGINT and SIGTERM cancel the running request, which still tears down
// whatever it allocated.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return execute(ctx, rootCmd, os.Args[1:])
}

func execute(ctx context.Context, cmd *cobra.Command, args []string) int {
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}

	var exit *exitError
	if stderrors.As(err, &exit) {
		return exit.code
	}

	usage := isUsageError(err)
	ferr := errors.As(err)
	if usage {
		ferr = errors.New(errors.ErrParse, err.Error(), "Run 'forkterm --help' for usage.")
	}
	if jsonOutput {
		_ = WriteJSONFromError(cmd.OutOrStdout(), ferr)
	} else {
		fmt.Fprintln(cmd.ErrOrStderr(), ui.ErrorStyle().Render(strings.TrimRight(ferr.Error(), "\n")))
	}
	if usage || ferr.Code == errors.ErrParse {
		return ExitUsage
	}
	return ExitError
}

// isUsageError reports errors cobra raises for bad flags or arguments.
func isUsageError(err error) bool {
	var ferr *errors.Error
	if stderrors.As(err, &ferr) {
		return false
	}
	msg := err.Error()
	return strings.HasPrefix(msg, "unknown command") ||
		strings.HasPrefix(msg, "unknown flag") ||
		strings.HasPrefix(msg, "unknown shorthand flag") ||
		strings.Contains(msg, "accepts ") ||
		strings.Contains(msg, "requires at least") ||
		strings.Contains(msg, "flag needs an argument") ||
		strings.Contains(msg, "invalid argument")
}
