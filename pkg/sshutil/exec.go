package sshutil

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"

	"github.com/rileyhilliard/forkterm/internal/errors"
	"golang.org/x/crypto/ssh"
)

// ExecResult is the captured outcome of a remote command.
type ExecResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Exec runs a command on the remote host and captures its output. stdin may
// be nil. A non-zero exit is reported in ExitCode with a nil error; err is
// only set when the command could not be run or ctx ended first. On ctx
// expiry the remote process is sent KILL and the session is closed.
func (c *Client) Exec(ctx context.Context, cmd string, stdin io.Reader) (*ExecResult, error) {
	session, err := c.Client.NewSession()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConnectivity,
			"Failed to create SSH session",
			"Connection may have been closed. Try reconnecting.")
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf
	if stdin != nil {
		session.Stdin = stdin
	}

	if err := session.Start(cmd); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrExec,
			"Failed to start remote command",
			"Check the remote shell is usable: ssh <host> true")
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		session.Close()
		<-done
		return &ExecResult{Stdout: stdoutBuf.Bytes(), Stderr: stderrBuf.Bytes(), ExitCode: -1}, ctxError(ctx)
	case err := <-done:
		res := &ExecResult{Stdout: stdoutBuf.Bytes(), Stderr: stderrBuf.Bytes()}
		if err == nil {
			return res, nil
		}
		var exitErr *ssh.ExitError
		if stderrors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		res.ExitCode = -1
		var missing *ssh.ExitMissingError
		if stderrors.As(err, &missing) {
			return res, errors.WrapWithCode(err, errors.ErrConnectivity,
				"Remote command ended without an exit status",
				"The connection may have dropped. Try again.")
		}
		return res, errors.WrapWithCode(err, errors.ErrExec,
			"Remote command failed",
			"Check if the command exists on the remote host.")
	}
}

func ctxError(ctx context.Context) error {
	err := ctx.Err()
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.WrapWithCode(err, errors.ErrTimeout,
			"Remote command timed out",
			"Raise ssh.command_timeout if the command legitimately needs longer")
	}
	return errors.WrapWithCode(err, errors.ErrCancelled,
		"Remote command was cancelled", "")
}
