package components

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/tessro/tandem/internal/core"
	"github.com/tessro/tandem/internal/tui/styles"
)

// Playlist displays the playlist with a movable cursor.
type Playlist struct {
	offset int
	cursor int
}

// NewPlaylist creates a new Playlist component
func NewPlaylist() *Playlist {
	return &Playlist{}
}

// Down moves the cursor down.
func (p *Playlist) Down(n int) {
	if p.cursor < n-1 {
		p.cursor++
	}
}

// Up moves the cursor up.
func (p *Playlist) Up() {
	if p.cursor > 0 {
		p.cursor--
	}
}

// Cursor returns the selected index.
func (p *Playlist) Cursor() int {
	return p.cursor
}

// Follow moves the cursor to i.
func (p *Playlist) Follow(i int) {
	if i >= 0 {
		p.cursor = i
	}
}

// Render renders the playlist panel
func (p *Playlist) Render(tracks []core.Track, current, width, height int, focused bool) string {
	title := styles.PanelTitle(fmt.Sprintf("Playlist (%d)", len(tracks)), focused)

	var content string
	if len(tracks) == 0 {
		content = styles.Muted.Render("Playlist is empty. Press / to search.")
	} else {
		content = p.renderTracks(tracks, current, width-4, height-4, focused)
	}

	return styles.Panel(focused).
		Width(width).
		Height(height).
		Render(lipgloss.JoinVertical(lipgloss.Left, title, "", content))
}

func (p *Playlist) renderTracks(tracks []core.Track, current, width, maxLines int, focused bool) string {
	if p.cursor >= len(tracks) {
		p.cursor = len(tracks) - 1
	}

	visible := maxLines - 1 // leave room for the "more" line
	if visible < 1 {
		visible = 1
	}
	// Keep the cursor on screen.
	if p.cursor < p.offset {
		p.offset = p.cursor
	}
	if p.cursor >= p.offset+visible {
		p.offset = p.cursor - visible + 1
	}

	end := min(p.offset+visible, len(tracks))
	lines := make([]string, 0, end-p.offset+1)

	// "XX. " (4) + "▶ " (2) + " — " (3)
	const overhead = 9

	for i := p.offset; i < end; i++ {
		t := tracks[i]
		name, artist := fit(t.Name, t.Artist, width-overhead)
		num := fmt.Sprintf("%2d.", i+1)

		var line string
		if i == current {
			line = styles.Playing.Render(fmt.Sprintf("%s ▶ %s — %s", num, name, artist))
		} else {
			line = fmt.Sprintf("%s   %s — %s", styles.Dim.Render(num), name, styles.Muted.Render(artist))
		}
		if focused && i == p.cursor {
			line = lipgloss.NewStyle().Background(lipgloss.Color("237")).Render(line)
		}
		lines = append(lines, line)
	}

	if end < len(tracks) {
		lines = append(lines, styles.Dim.Render(fmt.Sprintf("    ... and %d more", len(tracks)-end)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// fit truncates title and artist to share available columns, giving the
// artist at least a third.
func fit(title, artist string, available int) (string, string) {
	if len(title)+len(artist) <= available {
		return title, artist
	}
	minArtist := max(available/3, 10)
	if minArtist > available-10 {
		minArtist = available - 10
	}
	artistSpace := min(minArtist, len(artist))
	return truncate(title, available-artistSpace), truncate(artist, artistSpace)
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
