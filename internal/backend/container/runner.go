package container

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/rileyhilliard/forkterm/internal/errors"
)

// Runner invokes the docker CLI. env entries are NAME=value pairs added to
// the client process environment; they never appear in args.
type Runner interface {
	Run(ctx context.Context, args []string, env []string, stdin io.Reader) (stdout, stderr []byte, exitCode int, err error)
}

// CLIRunner runs a docker-compatible binary.
type CLIRunner struct {
	Binary string
}

func (r CLIRunner) Run(ctx context.Context, args []string, env []string, stdin io.Reader) ([]byte, []byte, int, error) {
	bin := r.Binary
	if bin == "" {
		bin = "docker"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.WaitDelay = 2 * time.Second
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	cmd.Stdin = stdin
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		code := errors.ErrCancelled
		if ctx.Err() == context.DeadlineExceeded {
			code = errors.ErrTimeout
		}
		return stdout.Bytes(), stderr.Bytes(), -1, errors.WrapWithCode(ctx.Err(), code, bin+" "+first(args)+" did not finish", "")
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return stdout.Bytes(), stderr.Bytes(), exitErr.ExitCode(), nil
		}
		return stdout.Bytes(), stderr.Bytes(), -1, errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't run "+bin,
			"Install Docker or set container.binary in the config file.")
	}
	return stdout.Bytes(), stderr.Bytes(), 0, nil
}

func first(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
