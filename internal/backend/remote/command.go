package remote

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rileyhilliard/forkterm/internal/config"
	"github.com/rileyhilliard/forkterm/internal/util"
)

// basePath makes the usual system bin dirs reachable in non-login sessions.
const basePath = "export PATH=/usr/local/bin:/usr/bin:/bin:/usr/sbin:/sbin:$PATH"

var envName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Script is a remote command plus what it must be fed on stdin.
type Script struct {
	Command string
	Stdin   string
}

// BuildScript wraps cmd with the host's environment and, when secretEnv is
// set, a stdin read that exports the secret for this process only. The
// secret value goes into Stdin and never into Command.
func BuildScript(h config.HostConfig, cmd, workDir, secretEnv, secretValue string) (Script, error) {
	var lines []string
	lines = append(lines, basePath)

	if h.CUDAPath != "" {
		cuda := util.ShellQuote(strings.TrimRight(h.CUDAPath, "/"))
		lines = append(lines,
			fmt.Sprintf("export PATH=%s/bin:$PATH", cuda),
			fmt.Sprintf("export LD_LIBRARY_PATH=%s/lib64:${LD_LIBRARY_PATH:-}", cuda))
	}

	keys := make([]string, 0, len(h.Environment))
	for k := range h.Environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !envName.MatchString(k) {
			return Script{}, fmt.Errorf("invalid environment variable name %q", k)
		}
		lines = append(lines, util.ShellExport(k, h.Environment[k]))
	}

	var stdin string
	if secretEnv != "" {
		if !envName.MatchString(secretEnv) {
			return Script{}, fmt.Errorf("invalid credential variable name %q", secretEnv)
		}
		lines = append(lines, fmt.Sprintf("IFS= read -r %s; export %s", secretEnv, secretEnv))
		stdin = secretValue + "\n"
	}

	if workDir != "" {
		lines = append(lines, "cd "+util.ShellQuote(workDir)+" || exit 1")
	}
	lines = append(lines, cmd)

	return Script{
		Command: "sh -c " + util.ShellQuote(strings.Join(lines, "\n")),
		Stdin:   stdin,
	}, nil
}
