package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// SpinnerFrames is the animation shown while a run is in flight.
var SpinnerFrames = spinner.Spinner{
	Frames: []string{"◐", "◓", "◑", "◒"},
	FPS:    time.Second / 10,
}

// finishedMsg tells the tracker the work is done.
type finishedMsg struct {
	ok bool
}

// trackModel is the Bubble Tea model behind Track: a spinner with a label
// that turns into a single status line when the work finishes.
type trackModel struct {
	spinner spinner.Model
	label   string
	start   time.Time
	now     func() time.Time
	done    bool
	ok      bool
}

func newTrackModel(label string, now func() time.Time) trackModel {
	sp := spinner.New()
	sp.Spinner = SpinnerFrames
	sp.Style = lipgloss.NewStyle().Foreground(ColorSecondary)
	return trackModel{spinner: sp, label: label, start: now(), now: now}
}

func (m trackModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m trackModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case finishedMsg:
		m.done = true
		m.ok = msg.ok
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m trackModel) View() string {
	if !m.done {
		return m.spinner.View() + " " + m.label + "...\n"
	}
	symbol, style := SymbolSuccess, SuccessStyle()
	if !m.ok {
		symbol, style = SymbolFail, ErrorStyle()
	}
	return style.Render(symbol) + " " + m.label + " " + MutedStyle().Render(formatDuration(m.now().Sub(m.start))) + "\n"
}

// Track runs work while animating a spinner on out and returns work's
// value. ok decides whether the final line shows success or failure.
// Track never reads stdin and leaves signal handling to the caller, so
// cancelling work's context is how an interrupt stops it.
func Track[T any](out io.Writer, label string, work func() T, ok func(T) bool) T {
	p := tea.NewProgram(newTrackModel(label, time.Now),
		tea.WithOutput(out),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)

	done := make(chan T, 1)
	go func() {
		v := work()
		done <- v
		p.Send(finishedMsg{ok: ok(v)})
	}()

	// A rendering failure doesn't affect the work; just wait for it.
	_, _ = p.Run()
	return <-done
}

// formatDuration formats a duration for display (e.g., "0.3s", "1.2s").
func formatDuration(d time.Duration) string {
	secs := d.Seconds()
	if secs < 0.1 {
		return fmt.Sprintf("%.2fs", secs)
	}
	if secs >= 60 {
		return d.Round(time.Second).String()
	}
	return fmt.Sprintf("%.1fs", secs)
}
