package local

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/rileyhilliard/forkterm/internal/errors"
)

// DefaultShell is used when $SHELL is unset.
const DefaultShell = "/bin/sh"

// killGrace is how long a cancelled command's pipes may stay open after kill.
const killGrace = 2 * time.Second

// Shell runs commands through "<shell> -c".
type Shell struct {
	// Path defaults to $SHELL, then DefaultShell.
	Path string
	// Env is the full environment; nil inherits the process environment.
	Env []string
}

func (s Shell) path() string {
	if s.Path != "" {
		return s.Path
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return DefaultShell
}

// Run executes cmd in workDir and captures its output. A non-zero exit is
// reported through exitCode with a nil error; err is set only when the
// command couldn't be run or ctx ended first.
func (s Shell) Run(ctx context.Context, cmd, workDir string, stdin io.Reader) (stdout, stderr []byte, exitCode int, err error) {
	command := exec.CommandContext(ctx, s.path(), "-c", cmd)
	command.WaitDelay = killGrace
	if workDir != "" {
		command.Dir = workDir
	}
	if s.Env != nil {
		command.Env = s.Env
	}
	command.Stdin = stdin

	var outBuf, errBuf bytes.Buffer
	command.Stdout = &outBuf
	command.Stderr = &errBuf

	runErr := command.Run()
	stdout, stderr = outBuf.Bytes(), errBuf.Bytes()

	if ctxErr := ctx.Err(); ctxErr != nil {
		code := errors.ErrCancelled
		msg := "Local command was cancelled"
		if ctxErr == context.DeadlineExceeded {
			code = errors.ErrTimeout
			msg = "Local command timed out"
		}
		return stdout, stderr, -1, errors.WrapWithCode(ctxErr, code, msg, "")
	}
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			return stdout, stderr, exitErr.ExitCode(), nil
		}
		return stdout, stderr, -1, errors.WrapWithCode(runErr, errors.ErrExec,
			"Couldn't run the command locally",
			"Make sure the command exists and is executable.")
	}
	return stdout, stderr, 0, nil
}
