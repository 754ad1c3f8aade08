package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rileyhilliard/forkterm/internal/errors"
	"github.com/rileyhilliard/forkterm/internal/request"
	"github.com/rileyhilliard/forkterm/internal/ui"
	"github.com/spf13/cobra"
)

// Run flags, shared by the root command and `run`.
var (
	runAutoClose bool
	runNoSpinner bool
)

var runCmd = &cobra.Command{
	Use:   "run <request>",
	Short: "Run a plain-language request",
	Long: `Parse a request and run it on the backend it names.

This is also what forkterm does when given a request with no subcommand.

Examples:
  forkterm run "fork terminal on dgx: nvidia-smi"
  forkterm run --auto-close "use codex in docker to write tests for parser.go"
  forkterm run --json "in sandbox: python -c 'print(42)'"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, strings.Join(args, " "))
	},
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&runAutoClose, "auto-close", false, "capture output and clean up when the run finishes")
	cmd.Flags().BoolVar(&runNoSpinner, "no-spinner", false, "don't animate while waiting")
}

// runner is what runCommand needs from the app, so tests can stand in a
// router with fake backends.
type runner interface {
	Parse(text string) (request.Request, error)
	Run(ctx context.Context, req request.Request) *request.Result
}

func (a *app) Parse(text string) (request.Request, error) { return a.parser.Parse(text) }

func (a *app) Run(ctx context.Context, req request.Request) *request.Result {
	return a.router.Run(ctx, req)
}

func runCommand(cmd *cobra.Command, text string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return runRequest(cmd.Context(), a, text, a.workDir, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// runRequest parses text, runs it, and reports the result. It returns an
// exitError so the process exit code follows the run.
func runRequest(ctx context.Context, r runner, text, workDir string, out, errOut io.Writer) error {
	if runAutoClose {
		text += " auto-close"
	}

	var res *request.Result
	req, err := r.Parse(text)
	if err != nil {
		res = request.Failed(errors.As(err))
	} else {
		res = dispatch(ctx, r, req, errOut)
	}

	if err := reportResult(out, res, workDir); err != nil {
		return err
	}
	return exitFor(res)
}

// dispatch runs req, animating on errOut while an auto-close run is in
// flight. Interactive runs return as soon as the terminal opens.
func dispatch(ctx context.Context, r runner, req request.Request, errOut io.Writer) *request.Result {
	run := func() *request.Result { return r.Run(ctx, req) }
	if jsonOutput || runNoSpinner || !req.AutoClose() || !isTerminal(errOut) {
		return run()
	}
	return ui.Track(errOut, describeTarget(req), run, func(res *request.Result) bool { return res.Success })
}

func reportResult(out io.Writer, res *request.Result, workDir string) error {
	if jsonOutput {
		return WriteJSONResult(out, res)
	}
	_, err := fmt.Fprint(out, ui.ResultRenderer{Verbose: verbose, WorkDir: workDir}.Render(res))
	return err
}

// exitFor maps a result to the process exit code: the command's own code
// when it ran, 2 for requests that didn't parse, 1 for other failures.
func exitFor(res *request.Result) error {
	switch {
	case res.Err != nil && res.Err.Code == errors.ErrParse:
		return &exitError{code: ExitUsage}
	case res.Err != nil:
		return &exitError{code: ExitError}
	case res.ExitCode != nil && *res.ExitCode != 0:
		return &exitError{code: *res.ExitCode}
	case !res.Success:
		return &exitError{code: ExitError}
	}
	return nil
}

func describeTarget(req request.Request) string {
	what := "Running"
	if req.Agent() != request.AgentNone {
		what = "Running " + string(req.Agent())
	}
	switch req.Backend() {
	case request.BackendSSH:
		return what + " on " + req.TargetHost()
	case request.BackendSandbox:
		return what + " in a sandbox"
	case request.BackendContainer:
		return what + " in a container"
	default:
		return what + " locally"
	}
}
