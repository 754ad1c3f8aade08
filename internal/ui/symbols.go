package ui

// Unicode symbols for status indicators.
const (
	SymbolSuccess  = "✓" // Run exited zero
	SymbolFail     = "✗" // Run failed or exited non-zero
	SymbolPending  = "○" // Not started
	SymbolProgress = "◐" // In flight
	SymbolComplete = "●" // Done
	SymbolWarning  = "⚠" // Degraded, e.g. API fallback or skipped files
	SymbolArrow    = "→" // Downloaded file
)
