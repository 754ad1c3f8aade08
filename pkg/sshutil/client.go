package sshutil

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rileyhilliard/forkterm/internal/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultConnectTimeout bounds dialing plus the SSH handshake when the
// target does not set one.
const DefaultConnectTimeout = 30 * time.Second

// Target describes where and how to connect. Every field is explicit; host
// config resolution and ssh_config back-fill happen before Dial.
type Target struct {
	// Name is the configured host name, used in messages.
	Name     string
	Hostname string
	Port     int
	User     string

	// KeyPath is a private key tried after the SSH agent. Optional.
	KeyPath string

	// Passphrase returns the passphrase for an encrypted KeyPath. It is only
	// called when the key turns out to be encrypted. Optional.
	Passphrase func(keyPath string) (string, bool)

	// KnownHosts is the known_hosts file. Host keys that are not listed, or
	// listed with a different key, are rejected. The file is never written.
	KnownHosts string

	// Timeout bounds dialing plus the handshake.
	Timeout time.Duration
}

func (t Target) address() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(t.Hostname, strconv.Itoa(port))
}

func (t Target) label() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Hostname
}

// Client wraps an SSH connection with additional metadata.
type Client struct {
	*ssh.Client
	Host    string // The configured host name used to connect
	Address string // The resolved address (host:port)
}

// Dial establishes an SSH connection to the target. Dialing honors ctx; the
// handshake is bounded by the earlier of ctx's deadline and t.Timeout.
func Dial(ctx context.Context, t Target) (*Client, error) {
	if t.Timeout <= 0 {
		t.Timeout = DefaultConnectTimeout
	}
	label := t.label()
	address := t.address()

	config, encryptedKeys, err := buildSSHConfig(t)
	if err != nil {
		var fe *errors.Error
		if stderrors.As(err, &fe) {
			return nil, err
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Couldn't set up SSH for '%s'", label),
			"Check your keys are loaded: ssh-add -l")
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", address)
	if err != nil {
		if cerr := contextError(ctx, dialCtx, label); cerr != nil {
			return nil, cerr
		}
		return nil, errors.WrapWithCode(err, errors.ErrConnectivity,
			fmt.Sprintf("Can't reach '%s' at %s", label, address),
			suggestionForDialError(err))
	}

	// ssh.NewClientConn ignores ctx, so bound it with a deadline and close
	// the socket if ctx ends mid-handshake.
	deadline, _ := dialCtx.Deadline()
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(dialCtx, func() { conn.Close() })

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	stop()
	if err != nil {
		conn.Close()
		return nil, classifyHandshakeError(ctx, dialCtx, err, t, encryptedKeys)
	}
	_ = conn.SetDeadline(time.Time{})

	return &Client{
		Client:  ssh.NewClient(sshConn, chans, reqs),
		Host:    label,
		Address: address,
	}, nil
}

func classifyHandshakeError(ctx, dialCtx context.Context, err error, t Target, encryptedKeys []string) error {
	label := t.label()

	var mismatch *HostKeyMismatchError
	if stderrors.As(err, &mismatch) {
		return errors.WrapWithCode(mismatch, errors.ErrUntrustedHost,
			fmt.Sprintf("Host key for '%s' doesn't match known_hosts", label),
			mismatch.Suggestion())
	}
	var unknown *UnknownHostError
	if stderrors.As(err, &unknown) {
		return errors.WrapWithCode(unknown, errors.ErrUntrustedHost,
			fmt.Sprintf("Host key for '%s' is not in known_hosts", label),
			unknown.Suggestion())
	}

	if cerr := contextError(ctx, dialCtx, label); cerr != nil {
		return cerr
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.WrapWithCode(err, errors.ErrTimeout,
			fmt.Sprintf("SSH handshake with '%s' timed out after %s", label, t.Timeout),
			"The host may be overloaded. Try again or raise ssh.connect_timeout")
	}

	if isAuthFailure(err) {
		return errors.WrapWithCode(err, errors.ErrAuth,
			fmt.Sprintf("SSH authentication to '%s' failed", label),
			suggestionForHandshakeError(err, encryptedKeys))
	}

	return errors.WrapWithCode(err, errors.ErrConnectivity,
		fmt.Sprintf("SSH handshake with '%s' didn't go through", label),
		suggestionForHandshakeError(err, encryptedKeys))
}

// contextError reports cancellation or deadline expiry, distinguishing the
// caller's ctx from the connect timeout.
func contextError(ctx, dialCtx context.Context, label string) error {
	if err := ctx.Err(); err != nil {
		if stderrors.Is(err, context.Canceled) {
			return errors.WrapWithCode(err, errors.ErrCancelled,
				fmt.Sprintf("Connecting to '%s' was cancelled", label), "")
		}
		return errors.WrapWithCode(err, errors.ErrTimeout,
			fmt.Sprintf("Connecting to '%s' ran out of time", label), "")
	}
	if err := dialCtx.Err(); err != nil {
		return errors.WrapWithCode(err, errors.ErrTimeout,
			fmt.Sprintf("Connecting to '%s' timed out", label),
			"Host might be offline or blocked by a firewall")
	}
	return nil
}

func isAuthFailure(err error) bool {
	s := err.Error()
	return strings.Contains(s, "unable to authenticate") || strings.Contains(s, "no supported methods")
}

// Close closes the SSH connection.
func (c *Client) Close() error {
	if c.Client == nil {
		return nil
	}
	return c.Client.Close()
}

// GetHost returns the configured host name used to connect.
func (c *Client) GetHost() string {
	return c.Host
}

// GetAddress returns the resolved host:port address.
func (c *Client) GetAddress() string {
	return c.Address
}

// SendRequest sends a global request on the SSH connection.
// This is a lightweight way to check connection liveness without the overhead
// of creating a new session.
func (c *Client) SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error) {
	return c.Client.SendRequest(name, wantReply, payload)
}

// buildSSHConfig creates an SSH client config with authentication methods.
// It returns the paths of any keys that exist but are encrypted.
func buildSSHConfig(t Target) (*ssh.ClientConfig, []string, error) {
	var authMethods []ssh.AuthMethod
	var encryptedKeys []string

	if agentAuth := sshAgentAuth(); agentAuth != nil {
		authMethods = append(authMethods, agentAuth)
	}

	if t.KeyPath != "" {
		keyAuth, err := keyFileAuth(t.KeyPath, t.Passphrase)
		if err != nil {
			var encErr *EncryptedKeyError
			if stderrors.As(err, &encErr) {
				encryptedKeys = append(encryptedKeys, t.KeyPath)
			}
		} else {
			authMethods = append(authMethods, keyAuth)
		}
	}

	if len(authMethods) == 0 {
		msg := "No SSH auth methods available"
		suggestion := "Load a key into the agent (ssh-add) or set key_path for the host"

		if len(encryptedKeys) > 0 {
			msg = fmt.Sprintf("Found SSH key(s) but they're encrypted: %s", strings.Join(encryptedKeys, ", "))
			suggestion = addKeySuggestion("Add your key(s) to the agent:\n", encryptedKeys)
		}
		return nil, encryptedKeys, errors.New(errors.ErrAuth, msg, suggestion)
	}

	hostKeyCallback, err := createHostKeyCallback(t.KnownHosts)
	if err != nil {
		return nil, encryptedKeys, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to load known_hosts: "+t.KnownHosts,
			"Check the file is readable and well formed")
	}

	return &ssh.ClientConfig{
		User:            t.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         t.Timeout,
	}, encryptedKeys, nil
}

// agentConn holds the reusable SSH agent connection.
var (
	agentConn     net.Conn
	agentClient   agent.ExtendedAgent
	agentConnOnce sync.Once
)

// sshAgentAuth returns an auth method using the SSH agent if available.
// The agent connection is reused across multiple SSH connections.
// Returns nil if the agent has no keys loaded.
func sshAgentAuth() ssh.AuthMethod {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}

	agentConnOnce.Do(func() {
		conn, err := net.Dial("unix", socket)
		if err != nil {
			return
		}
		agentConn = conn
		agentClient = agent.NewClient(conn)
	})

	if agentClient == nil {
		return nil
	}

	// An empty agent causes auth failures when placed before other methods.
	signers, err := agentClient.Signers()
	if err != nil || len(signers) == 0 {
		return nil
	}

	return ssh.PublicKeysCallback(agentClient.Signers)
}

// CloseAgent closes the SSH agent connection if one is open.
// This should be called when the application is shutting down.
func CloseAgent() {
	if agentConn != nil {
		agentConn.Close()
	}
}

// keyFileAuth returns an auth method using a private key file. An encrypted
// key is unlocked with the passphrase lookup when it has one; otherwise
// EncryptedKeyError is returned.
func keyFileAuth(keyPath string, passphrase func(string) (string, bool)) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err == nil {
		return ssh.PublicKeys(signer), nil
	}
	if !isEncryptedKeyError(err, key) {
		return nil, err
	}
	if passphrase != nil {
		if pass, ok := passphrase(keyPath); ok && pass != "" {
			signer, perr := ssh.ParsePrivateKeyWithPassphrase(key, []byte(pass))
			if perr == nil {
				return ssh.PublicKeys(signer), nil
			}
		}
	}
	return nil, &EncryptedKeyError{Path: keyPath}
}

func isEncryptedKeyError(err error, key []byte) bool {
	var missing *ssh.PassphraseMissingError
	return stderrors.As(err, &missing) ||
		strings.Contains(err.Error(), "encrypted") ||
		strings.Contains(err.Error(), "passphrase") ||
		isEncryptedPEM(key)
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

func suggestionForDialError(err error) string {
	errStr := err.Error()
	if strings.Contains(errStr, "connection refused") {
		return "Is SSH running on that box? Try: ssh <host>"
	}
	if strings.Contains(errStr, "no route to host") || strings.Contains(errStr, "network is unreachable") {
		return "Can't route to the host. Check your network connection."
	}
	if strings.Contains(errStr, "no such host") {
		return "The hostname doesn't resolve. Check hostname in your hosts file."
	}
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "i/o timeout") {
		return "Connection timed out. Host might be offline or blocked by a firewall."
	}
	return "Make sure the host is reachable: ping <host>"
}

func suggestionForHandshakeError(err error, encryptedKeys []string) string {
	if isAuthFailure(err) {
		if len(encryptedKeys) > 0 {
			return addKeySuggestion("Your key(s) are encrypted. Add them to the agent:\n", encryptedKeys)
		}
		return "Auth failed. Check your keys are loaded: ssh-add -l"
	}
	return "Something went wrong during SSH setup. Try: ssh <host>"
}

func addKeySuggestion(header string, keys []string) string {
	var sb strings.Builder
	sb.WriteString(header)
	for _, key := range keys {
		if runtime.GOOS == "darwin" {
			sb.WriteString(fmt.Sprintf("  ssh-add --apple-use-keychain %s\n", key))
		} else {
			sb.WriteString(fmt.Sprintf("  ssh-add %s\n", key))
		}
	}
	sb.WriteString("\nNot sure which key? Check with: ssh -v <host>")
	return sb.String()
}

// EncryptedKeyError is returned when an SSH key requires a passphrase.
type EncryptedKeyError struct {
	Path string
}

func (e *EncryptedKeyError) Error() string {
	return fmt.Sprintf("SSH key at %s is encrypted (passphrase protected)", e.Path)
}

// HostKeyMismatchError provides helpful context when known_hosts verification fails.
type HostKeyMismatchError struct {
	Hostname     string
	ReceivedType string
	KnownHosts   string
	Want         []knownhosts.KnownKey
}

func (e *HostKeyMismatchError) Error() string {
	return fmt.Sprintf("host key mismatch for %s: server sent %s key", e.Hostname, e.ReceivedType)
}

// Suggestion returns actionable steps to fix the host key mismatch.
func (e *HostKeyMismatchError) Suggestion() string {
	host := stripPort(e.Hostname)

	var wantTypes []string
	for _, k := range e.Want {
		wantTypes = append(wantTypes, k.Key.Type())
	}
	wantStr := "unknown"
	if len(wantTypes) > 0 {
		wantStr = strings.Join(wantTypes, ", ")
	}

	return fmt.Sprintf(
		"The server's host key doesn't match what's in known_hosts.\n"+
			"  Known types: %s\n"+
			"  Server sent: %s\n\n"+
			"  If the host was legitimately reinstalled, verify its fingerprint\n"+
			"  out of band, then remove the old entry:\n"+
			"    ssh-keygen -R %s -f %s",
		wantStr, e.ReceivedType, host, e.KnownHosts)
}

// UnknownHostError is returned when a host has no entry in known_hosts.
// Hosts are never trusted on first use.
type UnknownHostError struct {
	Hostname    string
	KnownHosts  string
	Fingerprint string
}

func (e *UnknownHostError) Error() string {
	return fmt.Sprintf("host %s is not in %s (key %s)", e.Hostname, e.KnownHosts, e.Fingerprint)
}

// Suggestion explains how to trust the host deliberately.
func (e *UnknownHostError) Suggestion() string {
	host := stripPort(e.Hostname)
	return fmt.Sprintf(
		"forkterm never trusts a host key on first use. Connect once with ssh\n"+
			"  and verify the fingerprint (%s), or add it explicitly:\n"+
			"    ssh-keyscan %s >> %s",
		e.Fingerprint, host, e.KnownHosts)
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

// preprocessSSHConfig reads the SSH config and returns content up to the first Match directive.
// Returns the original content if no Match directive is found.
// Also returns the line number where Match was found (0 if not found).
func preprocessSSHConfig(configPath string) ([]byte, int, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, 0, err
	}

	lines := strings.Split(string(content), "\n")
	var result []string
	matchLine := 0

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(trimmed), "match ") {
			matchLine = i + 1
			break
		}
		result = append(result, line)
	}

	return []byte(strings.Join(result, "\n")), matchLine, nil
}

// isEncryptedPEM checks if PEM data contains encryption markers.
func isEncryptedPEM(data []byte) bool {
	return bytes.Contains(data, []byte("ENCRYPTED")) ||
		bytes.Contains(data, []byte("Proc-Type: 4,ENCRYPTED"))
}

// createHostKeyCallback builds a strict known_hosts callback. A missing
// known_hosts file means every host is unknown; nothing is ever created or
// appended.
func createHostKeyCallback(knownHostsPath string) (ssh.HostKeyCallback, error) {
	if knownHostsPath == "" {
		knownHostsPath = filepath.Join(homeDir(), ".ssh", "known_hosts")
	}

	var callback ssh.HostKeyCallback
	if _, err := os.Stat(knownHostsPath); os.IsNotExist(err) {
		callback = func(string, net.Addr, ssh.PublicKey) error {
			return &knownhosts.KeyError{}
		}
	} else {
		cb, err := knownhosts.New(knownHostsPath)
		if err != nil {
			return nil, err
		}
		callback = cb
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := callback(hostname, remote, key)
		if err == nil {
			return nil
		}
		var keyErr *knownhosts.KeyError
		if stderrors.As(err, &keyErr) {
			if len(keyErr.Want) > 0 {
				return &HostKeyMismatchError{
					Hostname:     hostname,
					ReceivedType: key.Type(),
					KnownHosts:   knownHostsPath,
					Want:         keyErr.Want,
				}
			}
			return &UnknownHostError{
				Hostname:    hostname,
				KnownHosts:  knownHostsPath,
				Fingerprint: ssh.FingerprintSHA256(key),
			}
		}
		return err
	}, nil
}
