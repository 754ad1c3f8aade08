package ui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rileyhilliard/forkterm/internal/backend"
	"github.com/rileyhilliard/forkterm/internal/backend/remote"
	"github.com/rileyhilliard/forkterm/internal/request"
	"github.com/rileyhilliard/forkterm/internal/util"
)

// ResultRenderer formats a Result for people. JSON output goes through the
// cli envelope instead.
type ResultRenderer struct {
	// Verbose adds every metadata key, not just the headline ones.
	Verbose bool
	// WorkDir shortens downloaded paths when they live under it.
	WorkDir string
}

// RenderResult renders res with default settings.
func RenderResult(res *request.Result) string {
	return ResultRenderer{}.Render(res)
}

// Render returns the status line, captured output, downloads, and for
// failures the error with its suggestion.
func (r ResultRenderer) Render(res *request.Result) string {
	var sb strings.Builder

	sb.WriteString(r.statusLine(res))
	sb.WriteString("\n")

	if res.Stdout != "" {
		sb.WriteString(res.Stdout)
		if !strings.HasSuffix(res.Stdout, "\n") {
			sb.WriteString("\n")
		}
	}
	if res.Stderr != "" {
		for _, line := range strings.Split(strings.TrimRight(res.Stderr, "\n"), "\n") {
			sb.WriteString(MutedStyle().Render(line))
			sb.WriteString("\n")
		}
	}

	if reason := res.Metadata[backend.MetaFallbackReason]; reason != "" {
		sb.WriteString(WarningStyle().Render(SymbolWarning))
		sb.WriteString(fmt.Sprintf(" Ran through the API (%s)\n", reason))
	}

	if n := len(res.DownloadedFiles); n > 0 {
		dir := res.Metadata[backend.MetaOutputDir]
		sb.WriteString(fmt.Sprintf("Downloaded %s to %s\n", util.Count(n, "file", "files"), r.short(dir)))
		for _, f := range res.DownloadedFiles {
			sb.WriteString("  ")
			sb.WriteString(MutedStyle().Render(SymbolArrow))
			sb.WriteString(" ")
			sb.WriteString(r.relative(dir, f))
			sb.WriteString("\n")
		}
	}

	if r.Verbose {
		for _, k := range res.MetadataKeys() {
			sb.WriteString(MutedStyle().Render(fmt.Sprintf("  %s: %s", k, res.Metadata[k])))
			sb.WriteString("\n")
		}
	}

	if res.Err != nil {
		sb.WriteString("\n")
		sb.WriteString(ErrorStyle().Render(res.Err.Error()))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (r ResultRenderer) statusLine(res *request.Result) string {
	symbol, style := SymbolSuccess, SuccessStyle()
	if !res.Success {
		symbol, style = SymbolFail, ErrorStyle()
	}

	name := res.Metadata[backend.MetaBackend]
	if name == "" {
		name = "fork"
	}
	if host := res.Metadata[remote.MetaHost]; host != "" {
		name += " " + host
	}
	parts := []string{name}
	if res.ExitCode != nil {
		parts = append(parts, fmt.Sprintf("exit %d", *res.ExitCode))
	} else if res.Err != nil {
		parts = append(parts, res.Err.Code)
	} else if mode := res.Metadata["mode"]; mode != "" {
		parts = append(parts, mode)
	}
	if d := res.Metadata["duration"]; d != "" {
		parts = append(parts, MutedStyle().Render(d))
	}
	return style.Render(symbol) + " " + strings.Join(parts, "  ")
}

func (r ResultRenderer) short(dir string) string {
	if r.WorkDir == "" || dir == "" {
		return dir
	}
	if rel, err := filepath.Rel(r.WorkDir, dir); err == nil && !strings.HasPrefix(rel, "..") {
		return rel + string(filepath.Separator)
	}
	return dir
}

func (r ResultRenderer) relative(dir, file string) string {
	if dir == "" {
		return file
	}
	if rel, err := filepath.Rel(dir, file); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return file
}
