// Package transfer builds and applies file-transfer manifests between the
// local working tree and an isolated environment (sandbox, container, or
// SSH staging directory).
//
// Every path is validated before any filesystem operation runs. Uploads only
// ever read regular files inside the working tree; downloads only ever write
// beneath the local output directory. A path that fails a check is skipped
// and reported, it never aborts the rest of the manifest.
package transfer

import (
	"fmt"
	"path"
	"strings"

	"github.com/rileyhilliard/forkterm/internal/errors"
)

// Entry is one (local, remote) pair.
type Entry struct {
	Local  string
	Remote string
}

// Skip records a path that was excluded and why.
type Skip struct {
	Path   string
	Reason string
}

// Err returns the skip as a PATH_SAFETY error for reporting.
func (s Skip) Err() *errors.Error {
	return errors.New(errors.ErrPathSafety,
		fmt.Sprintf("Skipped %s: %s", s.Path, s.Reason),
		"")
}

// Manifest is a validated transfer plan.
type Manifest struct {
	Entries []Entry
	Skipped []Skip
}

// Empty reports whether there is nothing to transfer.
func (m *Manifest) Empty() bool {
	return m == nil || len(m.Entries) == 0
}

// Remotes returns the remote side of every entry, in order.
func (m *Manifest) Remotes() []string {
	out := make([]string, len(m.Entries))
	for i, e := range m.Entries {
		out[i] = e.Remote
	}
	return out
}

func (m *Manifest) skip(p, reason string) {
	m.Skipped = append(m.Skipped, Skip{Path: p, Reason: reason})
}

// Skip reasons.
const (
	ReasonParentSegment = "contains a parent-directory segment"
	ReasonAbsolute      = "is an absolute path"
	ReasonOutsideTree   = "is outside the working directory"
	ReasonPrefix        = "is not under the output directory"
	ReasonEmpty         = "names the output directory itself"
	ReasonBadChar       = "contains a backslash or NUL byte"
	ReasonHome          = "is relative to the home directory"
	ReasonSymlinkEscape = "resolves outside the working directory"
)

// hasParentSegment reports whether any slash- or backslash-separated segment
// of p is "..".
func hasParentSegment(p string) bool {
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}

// NormalizePrefix ensures a remote directory ends in exactly one slash.
func NormalizePrefix(dir string) string {
	if dir == "" {
		return ""
	}
	return strings.TrimRight(path.Clean(dir), "/") + "/"
}
