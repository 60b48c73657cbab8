package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/dmitrijs2005/vaultsync/internal/client/syncer"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	okStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#10B981"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	errStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EF4444"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

// column is one table column; Width 0 means no padding.
type column struct {
	Header string
	Width  int
}

// printTable writes a header, a separator and rows aligned to column
// widths.
func printTable(w io.Writer, cols []column, rows [][]string) {
	headers := make([]string, len(cols))
	total := 0
	for i, c := range cols {
		headers[i] = headerStyle.Render(pad(c.Header, c.Width))
		total += max(c.Width, len(c.Header)) + 2
	}
	fmt.Fprintln(w, strings.Join(headers, "  "))
	fmt.Fprintln(w, strings.Repeat("-", total))
	for _, r := range rows {
		cells := make([]string, len(r))
		for i, v := range r {
			if i < len(cols) {
				v = pad(truncate(v, cols[i].Width), cols[i].Width)
			}
			cells[i] = v
		}
		fmt.Fprintln(w, strings.Join(cells, "  "))
	}
}

func pad(s string, width int) string {
	if width <= 0 {
		return s
	}
	return fmt.Sprintf("%-*s", width, s)
}

// truncate shortens s to width runes with an ellipsis.
func truncate(s string, width int) string {
	r := []rune(s)
	if width <= 0 || len(r) <= width {
		return s
	}
	if width <= 3 {
		return string(r[:width])
	}
	return string(r[:width-3]) + "..."
}

func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

// formatUsage renders "used / max (pct)".
func formatUsage(used, limit int64) string {
	if limit <= 0 {
		return formatBytes(used)
	}
	pct := float64(used) * 100 / float64(limit)
	return fmt.Sprintf("%s / %s (%s%%)", formatBytes(used), formatBytes(limit), humanize.FtoaWithDigits(pct, 1))
}

func formatWhen(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return humanize.Time(*t)
}

func renderMode(m Mode) string {
	switch m {
	case ModeOnline:
		return okStyle.Render(string(m))
	case ModeOffline:
		return warnStyle.Render(string(m))
	default:
		return errStyle.Render(string(m))
	}
}

func renderStatus(st syncer.Status) string {
	var out string
	switch st.State {
	case syncer.StateConnected:
		out = okStyle.Render(st.String())
	case syncer.StateConnecting, syncer.StateReconnecting:
		out = warnStyle.Render(st.String())
	case syncer.StateError:
		out = errStyle.Render(st.String())
	default:
		out = mutedStyle.Render(st.String())
	}
	if st.Unreadable > 0 {
		out += " " + warnStyle.Render(fmt.Sprintf("(%d unreadable)", st.Unreadable))
	}
	return out
}
