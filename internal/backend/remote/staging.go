package remote

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rileyhilliard/forkterm/internal/config"
	"github.com/rileyhilliard/forkterm/pkg/sshutil"
)

// stagingPrefix names per-invocation staging directories.
const stagingPrefix = "forkterm-"

// staging is where one invocation's files live on the remote host, and the
// FileTransfer that reaches it.
type staging struct {
	dir   string
	files sshutil.FileTransfer
	via   string
}

func (s staging) outputDir() string { return path.Join(s.dir, "output") }

// shareMounted reports whether the host's file share is usable from here.
func shareMounted(fsh *config.FileShare) bool {
	if fsh == nil || fsh.LocalMount == "" || fsh.RemotePath == "" {
		return false
	}
	info, err := os.Stat(config.ExpandTilde(fsh.LocalMount))
	return err == nil && info.IsDir()
}

// stagingDir returns the remote staging dir for id and whether it lives on
// the file share.
func stagingDir(h config.HostConfig, root, id string) (string, bool) {
	if shareMounted(h.FileShare) {
		return path.Join(h.FileShare.RemotePath, stagingPrefix+id), true
	}
	return path.Join(root, stagingPrefix+id), false
}

// shareTransfer implements sshutil.FileTransfer over a directory that the
// remote host sees at remoteRoot and this machine sees at localRoot.
type shareTransfer struct {
	localRoot  string
	remoteRoot string
}

func newShareTransfer(fsh *config.FileShare) *shareTransfer {
	return &shareTransfer{
		localRoot:  config.ExpandTilde(fsh.LocalMount),
		remoteRoot: path.Clean(fsh.RemotePath),
	}
}

func (s *shareTransfer) local(remote string) (string, error) {
	remote = path.Clean(remote)
	if remote == s.remoteRoot {
		return s.localRoot, nil
	}
	rel := strings.TrimPrefix(remote, s.remoteRoot+"/")
	if rel == remote || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside the file share %s", remote, s.remoteRoot)
	}
	return filepath.Join(s.localRoot, filepath.FromSlash(rel)), nil
}

func (s *shareTransfer) remote(local string) (string, bool) {
	rel, err := filepath.Rel(s.localRoot, local)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return path.Join(s.remoteRoot, filepath.ToSlash(rel)), true
}

func (s *shareTransfer) MkdirAll(remoteDir string) error {
	dir, err := s.local(remoteDir)
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *shareTransfer) Upload(localPath, remotePath string) error {
	dst, err := s.local(remotePath)
	if err != nil {
		return err
	}
	return copyFile(localPath, dst)
}

// ListFiles walks the share. Symlinks are not followed or reported.
func (s *shareTransfer) ListFiles(remoteDir string) ([]string, error) {
	dir, err := s.local(remoteDir)
	if err != nil {
		return nil, err
	}
	var out []string
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == dir {
				return filepath.SkipDir
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if r, ok := s.remote(p); ok {
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *shareTransfer) Download(remotePath, localPath string) error {
	src, err := s.local(remotePath)
	if err != nil {
		return err
	}
	return copyFile(src, localPath)
}

func (s *shareTransfer) RemoveAll(remotePath string) error {
	p, err := s.local(remotePath)
	if err != nil {
		return err
	}
	if p == s.localRoot {
		return fmt.Errorf("refusing to remove the file share root %s", s.localRoot)
	}
	return os.RemoveAll(p)
}

func (s *shareTransfer) Close() error { return nil }

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

var _ sshutil.FileTransfer = (*shareTransfer)(nil)
