package util

import (
	"fmt"
	"strings"
)

// JoinOrNone joins the non-empty items with ", ", or returns "(none)" when
// there are none. Used for host and backend lists in suggestions.
func JoinOrNone(items []string) string {
	kept := make([]string, 0, len(items))
	for _, it := range items {
		if it != "" {
			kept = append(kept, it)
		}
	}
	if len(kept) == 0 {
		return "(none)"
	}
	return strings.Join(kept, ", ")
}

// Count renders n with the singular or plural noun: "1 file", "3 files".
func Count(n int, singular, plural string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%d %s", n, plural)
}
