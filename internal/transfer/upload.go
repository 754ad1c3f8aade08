package transfer

import (
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rileyhilliard/forkterm/internal/logger"
)

// filenameLike matches tokens ending in an extension that contains a letter,
// so "data.csv" and "src/main.go" match but "v1.2" and "3.14" do not.
var filenameLike = regexp.MustCompile(`^[^\s]*[^\s./\\]\.[A-Za-z][A-Za-z0-9_-]{0,15}$`)

// tokenTrim is stripped from both ends of each prompt word.
const tokenTrim = "\"'`,;:!?()[]{}<>"

// FindCandidates returns filename-like tokens from prompt in first-seen
// order, without duplicates. It does not touch the filesystem.
func FindCandidates(prompt string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, word := range strings.Fields(prompt) {
		tok := strings.Trim(word, tokenTrim)
		tok = strings.TrimRight(tok, ".")
		if tok == "" || strings.Contains(tok, "://") || strings.Contains(tok, "@") {
			continue
		}
		if !filenameLike.MatchString(tok) || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

// BuildUploadManifest turns the files a prompt mentions into upload entries
// under remoteDir. Candidates with a ".." segment, a home-relative path, or
// an absolute path outside workDir are skipped as unsafe; candidates that
// don't exist or aren't regular files are ignored.
func BuildUploadManifest(prompt, workDir, remoteDir string, log logger.Logger) *Manifest {
	if log == nil {
		log = logger.Noop()
	}
	m := &Manifest{}
	root, err := filepath.Abs(workDir)
	if err != nil {
		return m
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		realRoot = root
	}

	seen := make(map[string]bool)
	for _, cand := range FindCandidates(prompt) {
		rel, reason, ok := containedRel(cand, root)
		if !ok {
			log.Warn("%s", Skip{Path: cand, Reason: reason}.Err().Message)
			m.skip(cand, reason)
			continue
		}

		local := filepath.Join(root, rel)
		info, err := os.Stat(local)
		if err != nil || !info.Mode().IsRegular() {
			log.Debug("prompt mentions %s but it is not a local file", cand)
			continue
		}
		if resolved, err := filepath.EvalSymlinks(local); err == nil {
			if _, inside := within(resolved, realRoot); !inside {
				log.Warn("%s", Skip{Path: cand, Reason: ReasonSymlinkEscape}.Err().Message)
				m.skip(cand, ReasonSymlinkEscape)
				continue
			}
		}

		if seen[local] {
			continue
		}
		seen[local] = true
		m.Entries = append(m.Entries, Entry{
			Local:  local,
			Remote: path.Join(remoteDir, filepath.ToSlash(rel)),
		})
	}
	return m
}

// containedRel validates a candidate and returns its path relative to root.
func containedRel(cand, root string) (string, string, bool) {
	if hasParentSegment(cand) {
		return "", ReasonParentSegment, false
	}
	if strings.HasPrefix(cand, "~") {
		return "", ReasonHome, false
	}
	if strings.ContainsRune(cand, 0) {
		return "", ReasonBadChar, false
	}
	if filepath.IsAbs(cand) || strings.HasPrefix(cand, "/") {
		rel, ok := within(filepath.Clean(cand), root)
		if !ok {
			return "", ReasonOutsideTree, false
		}
		return rel, "", true
	}
	return filepath.Clean(filepath.FromSlash(cand)), "", true
}

// within reports whether p is inside root and returns the relative path.
func within(p, root string) (string, bool) {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}
