package config

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// ExpandTilde replaces ~ or ~/path with the user's home directory.
// Does not support ~username syntax - just ~ for the current user.
// Use this for LOCAL paths only. Remote paths should keep ~ for the remote shell.
func ExpandTilde(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}

	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}

	return path
}

// ExpandRemote replaces ${USER} in a path intended for a remote host.
// ${HOME} becomes ~ so the remote shell expands it.
func ExpandRemote(s string, remoteUser string) string {
	if s == "" {
		return s
	}
	if remoteUser == "" {
		remoteUser = localUser()
	}
	s = strings.ReplaceAll(s, "${USER}", remoteUser)
	s = strings.ReplaceAll(s, "${HOME}", "~")
	return s
}

// localUser returns the current username, falling back to $USER.
func localUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		// Windows returns DOMAIN\user.
		if i := strings.LastIndex(u.Username, `\`); i >= 0 {
			return u.Username[i+1:]
		}
		return u.Username
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "user"
}
