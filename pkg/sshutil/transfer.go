package sshutil

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/sftp"
	"github.com/rileyhilliard/forkterm/internal/errors"
)

// FileTransfer moves files over an established connection. Remote paths
// use forward slashes regardless of the local OS.
type FileTransfer interface {
	// MkdirAll creates a remote directory and its parents.
	MkdirAll(remoteDir string) error
	// Upload copies a local regular file to a remote path, creating parents.
	Upload(localPath, remotePath string) error
	// ListFiles returns every regular file under remoteDir, recursively, as
	// full remote paths. A missing directory yields an empty list.
	ListFiles(remoteDir string) ([]string, error)
	// Download copies a remote file to a local path, creating parents.
	Download(remotePath, localPath string) error
	// RemoveAll deletes a remote path and everything under it.
	RemoveAll(remotePath string) error
	Close() error
}

// NewFileTransfer opens an SFTP subsystem on the connection. Each call opens
// a new channel; close it when done. The SSH connection stays open.
func (c *Client) NewFileTransfer() (FileTransfer, error) {
	sc, err := sftp.NewClient(c.Client)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConnectivity,
			fmt.Sprintf("Couldn't start SFTP on '%s'", c.Host),
			"Check the host's sshd enables the sftp subsystem")
	}
	return &sftpTransfer{client: sc}, nil
}

type sftpTransfer struct {
	client *sftp.Client
}

func (t *sftpTransfer) MkdirAll(remoteDir string) error {
	return t.client.MkdirAll(remoteDir)
}

func (t *sftpTransfer) Upload(localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := t.client.MkdirAll(path.Dir(remotePath)); err != nil {
		return err
	}
	dst, err := t.client.Create(remotePath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func (t *sftpTransfer) ListFiles(remoteDir string) ([]string, error) {
	if _, err := t.client.Stat(remoteDir); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []string
	walker := t.client.Walk(remoteDir)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			continue
		}
		if walker.Stat().Mode().IsRegular() {
			files = append(files, walker.Path())
		}
	}
	return files, nil
}

func (t *sftpTransfer) Download(remotePath, localPath string) error {
	src, err := t.client.Open(remotePath)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func (t *sftpTransfer) RemoveAll(remotePath string) error {
	return t.client.RemoveAll(remotePath)
}

func (t *sftpTransfer) Close() error {
	return t.client.Close()
}
