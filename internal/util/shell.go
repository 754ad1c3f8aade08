// Package util holds small string and shell helpers shared by the backends
// and the CLI.
package util

import (
	"fmt"
	"strings"
)

// ShellQuote wraps s in single quotes for POSIX sh, so the shell passes it
// through as one literal word.
func ShellQuote(s string) string {
	// ' becomes '\'' (close quote, escaped quote, reopen)
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// shellSafe are the bytes a word can hold and still need no quoting.
const shellSafe = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-./=:@%+,"

// ShellWord returns s unchanged when sh would read it as a single literal
// word, and quoted otherwise. Binaries and flags read better unquoted.
func ShellWord(s string) string {
	if s == "" {
		return "''"
	}
	for i := 0; i < len(s); i++ {
		if !strings.ContainsRune(shellSafe, rune(s[i])) {
			return ShellQuote(s)
		}
	}
	return s
}

// ShellExport returns an export statement for name with a quoted value. The
// caller validates name.
func ShellExport(name, value string) string {
	return fmt.Sprintf("export %s=%s", name, ShellQuote(value))
}
