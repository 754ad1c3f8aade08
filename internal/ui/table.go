package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// maxColumnWidth caps a column so one long share path can't push the rest
// of the table off screen.
const maxColumnWidth = 48

// renderTable renders a static table: a bold header with a rule under it and
// one line per row. Columns are as wide as their widest cell.
func renderTable(titles []string, rows [][]string) string {
	cols := make([]table.Column, len(titles))
	for i, title := range titles {
		w := lipgloss.Width(title)
		for _, row := range rows {
			if i < len(row) && lipgloss.Width(row[i]) > w {
				w = lipgloss.Width(row[i])
			}
		}
		if w > maxColumnWidth {
			w = maxColumnWidth
		}
		cols[i] = table.Column{Title: title, Width: w + 1}
	}

	tableRows := make([]table.Row, len(rows))
	for i, row := range rows {
		tableRows[i] = table.Row(row)
	}

	t := table.New(
		table.WithColumns(cols),
		table.WithRows(tableRows),
		table.WithFocused(false),
		table.WithHeight(len(rows)+1),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(ColorMuted).
		BorderBottom(true).
		Bold(true)
	// Nothing is focused, so the first row must not look selected.
	s.Selected = s.Cell
	t.SetStyles(s)
	return t.View()
}

// HostRow is one configured host in `hosts list`.
type HostRow struct {
	Name    string
	Address string // user@hostname:port
	GPU     bool
	Share   string // local mount -> remote path, or empty
}

// RenderHostTable renders configured hosts as a table.
func RenderHostTable(rows []HostRow) string {
	if len(rows) == 0 {
		return "No hosts configured"
	}
	cells := make([][]string, len(rows))
	for i, r := range rows {
		gpu := ""
		if r.GPU {
			gpu = SymbolComplete
		}
		cells[i] = []string{r.Name, r.Address, gpu, r.Share}
	}
	return renderTable([]string{"NAME", "ADDRESS", "GPU", "SHARE"}, cells)
}

// RenderKeyValues renders aligned "key  value" lines in the given key order.
func RenderKeyValues(keys []string, values map[string]string) string {
	width := 0
	for _, k := range keys {
		if w := lipgloss.Width(k); w > width {
			width = w
		}
	}
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(MutedStyle().Render(padRight(k, width+2)))
		sb.WriteString(values[k])
		sb.WriteString("\n")
	}
	return sb.String()
}

// padRight pads s with spaces to width visible columns.
func padRight(s string, width int) string {
	if n := lipgloss.Width(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}
