package transfer

import (
	"path/filepath"
	"strings"

	"github.com/rileyhilliard/forkterm/internal/logger"
)

// SafeRemainder strips prefix from remote and validates what is left.
//
// Two checks run independently and both must pass: remote must start with
// prefix, and the remainder must not start with a separator or contain a
// ".." segment. A path can pass the first and still fail the second, e.g.
// "/home/user/output/../../etc/passwd".
func SafeRemainder(remote, prefix string) (string, string, bool) {
	prefix = NormalizePrefix(prefix)
	if prefix == "" || !strings.HasPrefix(remote, prefix) {
		return "", ReasonPrefix, false
	}

	rest := strings.TrimPrefix(remote, prefix)
	switch {
	case rest == "":
		return "", ReasonEmpty, false
	case strings.HasPrefix(rest, "/") || strings.HasPrefix(rest, "\\"):
		return "", ReasonAbsolute, false
	case hasParentSegment(rest):
		return "", ReasonParentSegment, false
	case strings.ContainsAny(rest, "\\\x00"):
		return "", ReasonBadChar, false
	case filepath.VolumeName(filepath.FromSlash(rest)) != "":
		return "", ReasonAbsolute, false
	}
	return rest, "", true
}

// FilterDownloads keeps the remote paths that pass SafeRemainder. Filtering
// its own output again returns the same set.
func FilterDownloads(remotes []string, prefix string) (kept []string, skipped []Skip) {
	for _, r := range remotes {
		if _, reason, ok := SafeRemainder(r, prefix); ok {
			kept = append(kept, r)
		} else {
			skipped = append(skipped, Skip{Path: r, Reason: reason})
		}
	}
	return kept, skipped
}

// BuildDownloadManifest maps listed remote files under prefix to paths under
// localDir, preserving relative structure.
func BuildDownloadManifest(remotes []string, prefix, localDir string, log logger.Logger) *Manifest {
	if log == nil {
		log = logger.Noop()
	}
	m := &Manifest{}
	seen := make(map[string]bool)
	for _, r := range remotes {
		rest, reason, ok := SafeRemainder(r, prefix)
		if !ok {
			log.Warn("%s", Skip{Path: r, Reason: reason}.Err().Message)
			m.skip(r, reason)
			continue
		}
		if seen[r] {
			continue
		}
		seen[r] = true
		m.Entries = append(m.Entries, Entry{
			Local:  filepath.Join(localDir, filepath.FromSlash(rest)),
			Remote: r,
		})
	}
	return m
}
