package credential

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"
)

// SSHKeyEnvVar names a default private key path used when neither the
// invocation nor the host config names one.
const SSHKeyEnvVar = "FORK_SSH_KEY"

// Key source names reported by KeyResolver.
const (
	KeySourceExplicit = "explicit"
	KeySourceHost     = "host-config"
	KeySourceEnv      = "env"
	KeySourceDefault  = "default"
)

// DefaultKeyNames are tried under ~/.ssh in this order.
var DefaultKeyNames = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// KeyCandidate is a resolved private key path and where it came from.
type KeyCandidate struct {
	Path   string
	Source string
}

// KeyResolver finds an SSH private key. Existence and readability are
// checked on every call since keys can change between invocations.
type KeyResolver struct {
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
	// Home defaults to os.UserHomeDir.
	Home string
}

// Resolve walks explicit → hostKeyPath → $FORK_SSH_KEY → ~/.ssh defaults
// and returns the first path that is an existing, readable regular file.
func (k KeyResolver) Resolve(explicit, hostKeyPath string) (KeyCandidate, bool) {
	for _, c := range k.candidates(explicit, hostKeyPath) {
		if readable(c.Path) {
			return c, true
		}
	}
	return KeyCandidate{}, false
}

// Candidates lists every path Resolve would try, in order, whether or not
// it exists. Used for diagnostics.
func (k KeyResolver) Candidates(explicit, hostKeyPath string) []KeyCandidate {
	return k.candidates(explicit, hostKeyPath)
}

func (k KeyResolver) candidates(explicit, hostKeyPath string) []KeyCandidate {
	home := k.home()
	var out []KeyCandidate

	if explicit != "" {
		out = append(out, KeyCandidate{Path: expandHome(explicit, home), Source: KeySourceExplicit})
	}
	if hostKeyPath != "" {
		out = append(out, KeyCandidate{Path: expandHome(hostKeyPath, home), Source: KeySourceHost})
	}

	lookup := k.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if p, ok := lookup(SSHKeyEnvVar); ok && p != "" {
		out = append(out, KeyCandidate{Path: expandHome(p, home), Source: KeySourceEnv})
	}

	if home != "" {
		for _, name := range DefaultKeyNames {
			out = append(out, KeyCandidate{Path: filepath.Join(home, ".ssh", name), Source: KeySourceDefault})
		}
	}
	return out
}

func (k KeyResolver) home() string {
	if k.Home != "" {
		return k.Home
	}
	h, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return h
}

func readable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// PassphraseService is the keychain service SSH key passphrases are stored
// under, with the key's absolute path as the account.
const PassphraseService = "forkterm-ssh"

// KeyPassphrase looks up the passphrase for an encrypted key in the OS
// keychain. A missing entry or an unavailable keychain reports false.
func KeyPassphrase(keyPath string) (string, bool) {
	value, err := keyring.Get(PassphraseService, keyPath)
	if err != nil || value == "" {
		return "", false
	}
	return value, true
}

// StorePassphrase saves the passphrase for keyPath in the OS keychain.
func StorePassphrase(keyPath, passphrase string) error {
	if keyPath == "" || passphrase == "" {
		return errors.New("key path and passphrase are required")
	}
	return keyring.Set(PassphraseService, keyPath, passphrase)
}
