// Package testing provides SSH mock utilities for testing.
// This package simulates a remote machine with an in-memory filesystem.
package testing

import (
	"errors"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// MockFS simulates an in-memory remote filesystem. Paths are slash-separated.
type MockFS struct {
	mu    sync.RWMutex
	files map[string][]byte   // path -> content
	dirs  map[string]struct{} // directories
}

// NewMockFS creates a new empty mock filesystem.
func NewMockFS() *MockFS {
	return &MockFS{
		files: make(map[string][]byte),
		dirs:  make(map[string]struct{}),
	}
}

// MkdirAll creates a directory and all parent directories.
func (fs *MockFS) MkdirAll(p string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.mkdirAllLocked(path.Clean(p))
	return nil
}

func (fs *MockFS) mkdirAllLocked(p string) {
	for p != "/" && p != "." && p != "" {
		fs.dirs[p] = struct{}{}
		p = path.Dir(p)
	}
}

// WriteFile writes content to a file, creating parent directories as needed.
func (fs *MockFS) WriteFile(p string, content []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	p = path.Clean(p)
	if _, isDir := fs.dirs[p]; isDir {
		return errors.New("is a directory")
	}
	fs.mkdirAllLocked(path.Dir(p))
	fs.files[p] = append([]byte(nil), content...)
	return nil
}

// ReadFile reads the content of a file. Returns error if file doesn't exist.
func (fs *MockFS) ReadFile(p string) ([]byte, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	content, exists := fs.files[path.Clean(p)]
	if !exists {
		return nil, os.ErrNotExist
	}
	return content, nil
}

// Remove removes a file or directory and all its contents, like rm -rf.
func (fs *MockFS) Remove(p string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	p = path.Clean(p)
	delete(fs.files, p)
	delete(fs.dirs, p)

	prefix := p + "/"
	for f := range fs.files {
		if strings.HasPrefix(f, prefix) {
			delete(fs.files, f)
		}
	}
	for d := range fs.dirs {
		if strings.HasPrefix(d, prefix) {
			delete(fs.dirs, d)
		}
	}
	return nil
}

// Files returns every file under root (recursively), sorted.
func (fs *MockFS) Files(root string) []string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	root = path.Clean(root)
	prefix := root + "/"
	if root == "/" {
		prefix = "/"
	}
	var out []string
	for f := range fs.files {
		if strings.HasPrefix(f, prefix) {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// Exists returns true if the path exists (file or directory).
func (fs *MockFS) Exists(p string) bool {
	return fs.IsDir(p) || fs.IsFile(p)
}

// IsDir returns true if the path exists and is a directory.
func (fs *MockFS) IsDir(p string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	_, exists := fs.dirs[path.Clean(p)]
	return exists
}

// IsFile returns true if the path exists and is a file.
func (fs *MockFS) IsFile(p string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	_, exists := fs.files[path.Clean(p)]
	return exists
}

// mockTransfer moves files between the local disk and a MockFS.
type mockTransfer struct {
	fs     *MockFS
	client *MockClient
}

func (t *mockTransfer) MkdirAll(remoteDir string) error {
	return t.fs.MkdirAll(remoteDir)
}

func (t *mockTransfer) Upload(localPath, remotePath string) error {
	if err := t.client.transferFault("upload", remotePath); err != nil {
		return err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	return t.fs.WriteFile(remotePath, data)
}

func (t *mockTransfer) ListFiles(remoteDir string) ([]string, error) {
	if extra := t.client.listOverride(remoteDir); extra != nil {
		return extra, nil
	}
	return t.fs.Files(remoteDir), nil
}

func (t *mockTransfer) Download(remotePath, localPath string) error {
	if err := t.client.transferFault("download", remotePath); err != nil {
		return err
	}
	data, err := t.fs.ReadFile(remotePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(localPath, data, 0o644)
}

func (t *mockTransfer) RemoveAll(remotePath string) error {
	return t.fs.Remove(remotePath)
}

func (t *mockTransfer) Close() error { return nil }
