package components

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/tessro/tandem/internal/core"
	"github.com/tessro/tandem/internal/tui/styles"
)

// MaxHistory bounds the history panel.
const MaxHistory = 50

// HistoryEntry represents a track in play history
type HistoryEntry struct {
	Track    core.Track
	PlayedAt time.Time
}

// History displays recently started tracks, newest first.
type History struct {
	entries []HistoryEntry
	now     func() time.Time
}

// NewHistory creates a new History component
func NewHistory() *History {
	return &History{now: time.Now}
}

// Add records t unless it is already the newest entry.
func (h *History) Add(t core.Track) {
	if len(h.entries) > 0 && h.entries[0].Track.Same(&t) {
		return
	}
	h.entries = append([]HistoryEntry{{Track: t, PlayedAt: h.now()}}, h.entries...)
	if len(h.entries) > MaxHistory {
		h.entries = h.entries[:MaxHistory]
	}
}

// Entries returns the recorded entries.
func (h *History) Entries() []HistoryEntry {
	return h.entries
}

// Render renders the history panel
func (h *History) Render(width, height int, focused bool) string {
	title := styles.PanelTitle("History", focused)

	var content string
	if len(h.entries) == 0 {
		content = styles.Muted.Render("No history yet")
	} else {
		content = h.renderHistory(width-4, height-4)
	}

	return styles.Panel(focused).
		Width(width).
		Height(height).
		Render(lipgloss.JoinVertical(lipgloss.Left, title, "", content))
}

func (h *History) renderHistory(width, maxLines int) string {
	lines := make([]string, 0, maxLines)

	// icon (2) + " — " (3) + padding for time
	const overhead = 14

	for i, entry := range h.entries {
		if i >= maxLines {
			break
		}
		ago := formatTimeAgo(h.now().Sub(entry.PlayedAt), entry.PlayedAt)
		name, artist := fit(entry.Track.Name, entry.Track.Artist, width-overhead-len(ago))
		info := fmt.Sprintf("%s — %s", name, artist)

		padding := max(width-2-len(name)-3-len(artist)-len(ago), 1)
		lines = append(lines, fmt.Sprintf("%s %s%s%s",
			styles.Dim.Render("✓"),
			info,
			lipgloss.NewStyle().Width(padding).Render(""),
			styles.Dim.Render(ago)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func formatTimeAgo(d time.Duration, at time.Time) string {
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return at.Format("Jan 2")
}
