package ui

import (
	"bytes"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(start time.Time, elapsed time.Duration) func() time.Time {
	calls := 0
	return func() time.Time {
		calls++
		if calls == 1 {
			return start
		}
		return start.Add(elapsed)
	}
}

func TestTrackModel_InFlight(t *testing.T) {
	DisableColors()
	m := newTrackModel("Running on sandbox", time.Now)
	assert.NotNil(t, m.Init())
	assert.Contains(t, m.View(), "Running on sandbox...")
}

func TestTrackModel_Finished(t *testing.T) {
	DisableColors()
	tests := []struct {
		name   string
		ok     bool
		symbol string
	}{
		{name: "success", ok: true, symbol: SymbolSuccess},
		{name: "failure", ok: false, symbol: SymbolFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTrackModel("Running on dgx", fixedClock(time.Unix(0, 0), 1500*time.Millisecond))
			next, cmd := m.Update(finishedMsg{ok: tt.ok})
			require.NotNil(t, cmd, "finishing quits the program")
			assert.Equal(t, tt.symbol+" Running on dgx 1.5s\n", next.View())
		})
	}
}

func TestTrackModel_TicksStopAfterFinish(t *testing.T) {
	m := newTrackModel("x", time.Now)
	next, _ := m.Update(finishedMsg{ok: true})
	_, cmd := next.Update(spinner.TickMsg{})
	assert.Nil(t, cmd)
}

func TestTrack_ReturnsWorkValue(t *testing.T) {
	var out bytes.Buffer
	got := Track(&out, "Running locally", func() int { return 42 }, func(v int) bool { return v == 42 })
	assert.Equal(t, 42, got)
	assert.Contains(t, out.String(), "Running locally")
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{50 * time.Millisecond, "0.05s"},
		{300 * time.Millisecond, "0.3s"},
		{12 * time.Second, "12.0s"},
		{95 * time.Second, "1m35s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.d))
	}
}
