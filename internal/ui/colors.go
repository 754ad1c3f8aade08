package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Semantic colors for status indication. ANSI codes so they follow the
// user's terminal theme.
const (
	ColorSuccess lipgloss.Color = "2" // Green
	ColorError   lipgloss.Color = "1" // Red
	ColorWarning lipgloss.Color = "3" // Yellow
	ColorInfo    lipgloss.Color = "6" // Cyan
)

// Text colors for content hierarchy
const (
	ColorPrimary   lipgloss.Color = "7" // White/default
	ColorSecondary lipgloss.Color = "4" // Blue
	ColorMuted     lipgloss.Color = "8" // Gray (bright black)
)

// Color modes accepted by --color.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

func SuccessStyle() lipgloss.Style { return lipgloss.NewStyle().Foreground(ColorSuccess) }
func ErrorStyle() lipgloss.Style   { return lipgloss.NewStyle().Foreground(ColorError) }
func WarningStyle() lipgloss.Style { return lipgloss.NewStyle().Foreground(ColorWarning) }
func InfoStyle() lipgloss.Style    { return lipgloss.NewStyle().Foreground(ColorInfo) }
func MutedStyle() lipgloss.Style   { return lipgloss.NewStyle().Foreground(ColorMuted) }

// DisableColors switches every style to plain text.
func DisableColors() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// ApplyColorMode sets the color profile for mode. "auto" keeps whatever
// lipgloss detected from the terminal and NO_COLOR.
func ApplyColorMode(mode string) error {
	switch mode {
	case "", ColorAuto:
		return nil
	case ColorAlways:
		lipgloss.SetColorProfile(termenv.ANSI256)
		return nil
	case ColorNever:
		DisableColors()
		return nil
	default:
		return fmt.Errorf("unknown color mode %q (want auto, always, or never)", mode)
	}
}

// PrintWarning writes a warning line to stderr.
func PrintWarning(msg string) {
	FprintWarning(os.Stderr, msg)
}

// FprintWarning writes a warning line to w.
func FprintWarning(w io.Writer, msg string) {
	fmt.Fprintln(w, WarningStyle().Render(SymbolWarning)+" "+msg)
}
