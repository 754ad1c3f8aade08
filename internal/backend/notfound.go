package backend

import "regexp"

// commandNotFoundPatterns match "command not found" messages from common
// shells. They only apply with exit code 127.
var commandNotFoundPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bash: (\S+): command not found`),
	regexp.MustCompile(`(?i)zsh: command not found: (\S+)`),
	regexp.MustCompile(`(?i)sh: \d+: (\S+): not found`),
	regexp.MustCompile(`(?i)-bash: (\S+): No such file or directory`),
	regexp.MustCompile(`(?i)(\S+): not found`),
	regexp.MustCompile(`(?i)(\S+): command not found`),
}

// CommandNotFound reports whether a command exited because an executable is
// missing, and the executable's name when stderr names it.
func CommandNotFound(stderr string, exitCode int) (string, bool) {
	if exitCode != exitCommandNotFound {
		return "", false
	}
	for _, pattern := range commandNotFoundPatterns {
		if m := pattern.FindStringSubmatch(stderr); len(m) > 1 {
			return m[1], true
		}
	}
	return "", true
}
