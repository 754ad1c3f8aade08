package testing

import (
	"context"
	"errors"
	"io"
	"regexp"
	"sync"

	"github.com/rileyhilliard/forkterm/pkg/sshutil"
)

// CommandResponse defines a canned response for a specific command pattern.
type CommandResponse struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Error    error
	// Block makes Exec wait for ctx to end, like a command that never exits.
	Block bool
}

// ExecCall records one Exec invocation.
type ExecCall struct {
	Cmd   string
	Stdin string
}

// MockClient simulates an SSH connection for testing. Commands match
// registered patterns (exact first, then regex in registration order);
// unmatched commands succeed with no output.
type MockClient struct {
	mu        sync.Mutex
	host      string
	address   string
	fs        *MockFS
	closed    bool
	dead      bool
	hung      chan struct{}
	exact     map[string]CommandResponse
	patterns  []patternResponse
	calls     []ExecCall
	faults    map[string]error
	listings  map[string][]string
	transfers int
}

type patternResponse struct {
	re   *regexp.Regexp
	resp CommandResponse
}

// NewMockClient creates a new mock SSH client with an empty filesystem.
func NewMockClient(host string) *MockClient {
	return &MockClient{
		host:     host,
		address:  host + ":22",
		fs:       NewMockFS(),
		exact:    make(map[string]CommandResponse),
		faults:   make(map[string]error),
		listings: make(map[string][]string),
	}
}

// Exec returns the registered response for cmd. stdin is drained and
// recorded so tests can assert what was delivered over it.
func (m *MockClient) Exec(ctx context.Context, cmd string, stdin io.Reader) (*sshutil.ExecResult, error) {
	var in string
	if stdin != nil {
		b, _ := io.ReadAll(stdin)
		in = string(b)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New("connection closed")
	}
	m.calls = append(m.calls, ExecCall{Cmd: cmd, Stdin: in})
	resp, ok := m.exact[cmd]
	if !ok {
		for _, p := range m.patterns {
			if p.re.MatchString(cmd) {
				resp, ok = p.resp, true
				break
			}
		}
	}
	m.mu.Unlock()

	if resp.Block {
		<-ctx.Done()
		return &sshutil.ExecResult{ExitCode: -1}, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return &sshutil.ExecResult{ExitCode: -1}, err
	}
	if resp.Error != nil {
		return &sshutil.ExecResult{ExitCode: -1}, resp.Error
	}
	return &sshutil.ExecResult{Stdout: resp.Stdout, Stderr: resp.Stderr, ExitCode: resp.ExitCode}, nil
}

// NewFileTransfer returns a transfer backed by the mock filesystem.
func (m *MockClient) NewFileTransfer() (sshutil.FileTransfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New("connection closed")
	}
	m.transfers++
	return &mockTransfer{fs: m.fs, client: m}, nil
}

// SendRequest simulates a global request used for liveness checks.
// A hung client blocks until it is closed.
func (m *MockClient) SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error) {
	m.mu.Lock()
	hung := m.hung
	m.mu.Unlock()
	if hung != nil {
		<-hung
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.dead {
		return false, nil, errors.New("connection closed")
	}
	return true, nil, nil
}

// Close marks the connection as closed.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hung != nil && !m.closed {
		close(m.hung)
	}
	m.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (m *MockClient) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Kill makes liveness checks fail without closing, like a dropped link.
func (m *MockClient) Kill() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dead = true
}

// Hang makes liveness checks block until Close, like a half-open TCP link.
func (m *MockClient) Hang() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hung == nil {
		m.hung = make(chan struct{})
	}
}

// GetHost returns the host name.
func (m *MockClient) GetHost() string {
	return m.host
}

// GetAddress returns the host:port address.
func (m *MockClient) GetAddress() string {
	return m.address
}

// SetCommandResponse registers a canned response for an exact command.
func (m *MockClient) SetCommandResponse(cmd string, resp CommandResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exact[cmd] = resp
}

// SetPatternResponse registers a canned response for commands matching a regex.
func (m *MockClient) SetPatternResponse(pattern string, resp CommandResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns = append(m.patterns, patternResponse{re: regexp.MustCompile(pattern), resp: resp})
}

// SetTransferFault makes upload or download of remotePath fail with err.
// op is "upload" or "download".
func (m *MockClient) SetTransferFault(op, remotePath string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op+":"+remotePath] = err
}

// SetListing overrides what ListFiles reports for a directory, so tests can
// inject hostile entries the filesystem itself would never produce.
func (m *MockClient) SetListing(remoteDir string, entries []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings[remoteDir] = entries
}

func (m *MockClient) transferFault(op, remotePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.faults[op+":"+remotePath]
}

func (m *MockClient) listOverride(remoteDir string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listings[remoteDir]
}

// Calls returns every Exec call so far.
func (m *MockClient) Calls() []ExecCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ExecCall(nil), m.calls...)
}

// TransferCount returns how many file transfer channels were opened.
func (m *MockClient) TransferCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transfers
}

// GetFS returns the mock filesystem for direct manipulation in tests.
func (m *MockClient) GetFS() *MockFS {
	return m.fs
}

var _ sshutil.SSHClient = (*MockClient)(nil)
