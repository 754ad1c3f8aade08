package cli

import (
	"golang.org/x/term"
)

// isTerminal reports whether v is a file descriptor attached to a terminal.
// Buffers and pipes used in tests are never terminals.
func isTerminal(v interface{}) bool {
	f, ok := v.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
