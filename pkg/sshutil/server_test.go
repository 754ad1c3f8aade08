package sshutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// testServer is an in-process SSH server that understands a handful of
// exec commands:
//
//	cat       copy stdin to stdout
//	fail      write "boom" to stderr and exit 3
//	hang      block until the client signals or closes
//	anything  echo the command line back
type testServer struct {
	t        *testing.T
	listener net.Listener
	hostKey  ssh.Signer
	clientPK ssh.PublicKey

	mu       sync.Mutex
	commands []string
	signals  []string
}

func newTestServer(t *testing.T, clientPK ssh.PublicKey) *testServer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostKey, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &testServer{t: t, listener: ln, hostKey: hostKey, clientPK: clientPK}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *testServer) addr() string { return s.listener.Addr().String() }

func (s *testServer) port() int { return s.listener.Addr().(*net.TCPAddr).Port }

func (s *testServer) serve() {
	config := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if s.clientPK != nil && string(key.Marshal()) == string(s.clientPK.Marshal()) {
				return nil, nil
			}
			return nil, io.EOF
		},
	}
	config.AddHostKey(s.hostKey)

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(conn, config)
	}
}

func (s *testServer) handle(conn net.Conn, config *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go s.session(ch, chReqs)
	}
}

func (s *testServer) session(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()
	for req := range reqs {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			_ = ssh.Unmarshal(req.Payload, &payload)
			req.Reply(true, nil)
			s.mu.Lock()
			s.commands = append(s.commands, payload.Command)
			s.mu.Unlock()
			s.run(ch, reqs, payload.Command)
			return
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func (s *testServer) run(ch ssh.Channel, reqs <-chan *ssh.Request, cmd string) {
	exit := func(code uint32) {
		_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{code}))
	}
	switch cmd {
	case "cat":
		_, _ = io.Copy(ch, ch)
		exit(0)
	case "fail":
		_, _ = ch.Stderr().Write([]byte("boom"))
		exit(3)
	case "hang":
		for req := range reqs {
			if req.Type == "signal" {
				var sig struct{ Signal string }
				_ = ssh.Unmarshal(req.Payload, &sig)
				s.mu.Lock()
				s.signals = append(s.signals, sig.Signal)
				s.mu.Unlock()
				return
			}
		}
	default:
		_, _ = ch.Write([]byte(strings.TrimSpace(cmd)))
		exit(0)
	}
}

func (s *testServer) seenSignals() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.signals...)
}

// knownHostsFor writes a known_hosts file trusting key for the server address.
func knownHostsFor(t *testing.T, addr string, key ssh.PublicKey) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(addr)}, key)
	require.NoError(t, os.WriteFile(path, []byte(line+"\n"), 0o600))
	return path
}

// clientKey writes an unencrypted OpenSSH private key and returns its path
// and public half.
func clientKey(t *testing.T) (string, ssh.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))

	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return path, sshPub
}

// encryptedClientKey writes an ed25519 key protected by passphrase.
func encryptedClientKey(t *testing.T, passphrase string) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte(passphrase))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}
