package components

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/tessro/tandem/internal/core"
	"github.com/tessro/tandem/internal/tui/styles"
)

// NowPlaying displays the current track, progress and modes.
type NowPlaying struct {
	bar progress.Model
}

// NewNowPlaying creates a new NowPlaying component
func NewNowPlaying() *NowPlaying {
	return &NowPlaying{
		bar: progress.New(
			progress.WithSolidFill(string(styles.Primary)),
			progress.WithoutPercentage(),
		),
	}
}

// Render renders the now playing panel
func (n *NowPlaying) Render(state core.PlayerState, width, height int, focused bool) string {
	title := styles.PanelTitle("Now Playing", focused)

	var content string
	if state.Track == nil {
		content = styles.Muted.Render("Nothing playing")
		if !state.Connected {
			content = styles.Muted.Render("Not connected")
		}
	} else {
		content = n.renderTrack(state, width-4)
	}

	lines := []string{title, "", content}
	if state.LastError != "" {
		lines = append(lines, "", styles.ErrorText.Render(state.LastError))
	}

	return styles.Panel(focused).
		Width(width).
		Height(height).
		Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (n *NowPlaying) renderTrack(state core.PlayerState, width int) string {
	track := state.Track

	icon := styles.PhaseIcon(state.Phase.String())
	name := styles.Title.Width(max(width-4, 1)).Render(track.Name)

	duration := state.Duration
	if duration <= 0 {
		duration = track.Duration
	}

	barWidth := width - 14 // room for the times on either side
	if barWidth < 10 {
		barWidth = 10
	}
	n.bar.Width = barWidth
	var fraction float64
	if duration > 0 {
		fraction = float64(state.Position) / float64(duration)
	}
	bar := n.bar.ViewAs(min(max(fraction, 0), 1))
	progressLine := fmt.Sprintf("%s %s %s", FormatDuration(state.Position), bar, FormatDuration(duration))

	return lipgloss.JoinVertical(lipgloss.Left,
		icon+" "+name,
		"  "+styles.Subtitle.Render(track.Artist),
		"  "+styles.Dim.Render(track.Album)+" "+styles.SourceBadge(string(track.Source)),
		"",
		progressLine,
		"",
		renderModes(state),
	)
}

func renderModes(state core.PlayerState) string {
	on := func(label string, active bool) string {
		if active {
			return styles.Highlight.Render(label)
		}
		return styles.Dim.Render(label)
	}
	repeat := "repeat " + string(state.Repeat)
	if state.Repeat == "" {
		repeat = "repeat off"
	}
	return fmt.Sprintf("%s  %s  %s  %s",
		on("shuffle", state.Shuffle),
		on(repeat, state.Repeat == core.RepeatAll || state.Repeat == core.RepeatOne),
		on("auto", state.AutoAdvance),
		styles.Muted.Render(fmt.Sprintf("vol %d%%", state.Volume)))
}

// FormatDuration formats d as m:ss.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	m := d / time.Minute
	s := (d % time.Minute) / time.Second
	return fmt.Sprintf("%d:%02d", m, s)
}
