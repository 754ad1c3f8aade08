package sshutil

import (
	"context"
	"io"
)

// SSHClient defines the interface for SSH command execution and transfer.
// Both the real Client and mock implementations satisfy this interface.
//
// This interface enables testing of SSH-dependent code without requiring
// actual SSH connections.
type SSHClient interface {
	// Exec runs a command with optional stdin and captures its output.
	// A non-zero exit code with nil error means the command ran but failed.
	Exec(ctx context.Context, cmd string, stdin io.Reader) (*ExecResult, error)

	// NewFileTransfer opens a file transfer channel on the connection.
	NewFileTransfer() (FileTransfer, error)

	// SendRequest sends a global request, used as a cheap liveness check.
	SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error)

	// Close closes the SSH connection.
	Close() error

	// GetHost returns the configured host name used to connect.
	GetHost() string

	// GetAddress returns the resolved host:port address.
	GetAddress() string
}

// Alive reports whether the connection still answers a keepalive request.
func Alive(c SSHClient) bool {
	_, _, err := c.SendRequest("keepalive@openssh.com", true, nil)
	return err == nil
}

var _ SSHClient = (*Client)(nil)
