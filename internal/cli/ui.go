package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/tessro/tandem/internal/tui"
)

var (
	uiSource  string
	uiRefresh int
)

var uiCmd = &cobra.Command{
	Use:     "ui",
	Aliases: []string{"tui"},
	Short:   "Launch the interactive player",
	Long: `Launch the interactive terminal player.

For Jamendo the playlist starts with the popular listing and for the
song library with its first page. Press / to search and Enter to play.

Keyboard shortcuts:
  q, Ctrl+C    Quit
  ?            Help
  /            Search
  Space        Play/Pause
  n / p        Next / previous track
  ← / →        Seek 10s
  +/-          Volume up/down
  s / r / a    Shuffle / repeat / auto-advance
  Tab          Switch panel`,
	Annotations: map[string]string{annotationFullscreen: "true"},
	RunE:        runUI,
}

func init() {
	uiCmd.Flags().StringVarP(&uiSource, "source", "s", "jamendo", "catalog: jamendo, library or spotify")
	uiCmd.Flags().IntVar(&uiRefresh, "refresh", 1000, "refresh interval in milliseconds")
	rootCmd.AddCommand(uiCmd)
}

func runUI(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	source, err := parseSource(uiSource)
	if err != nil {
		return err
	}

	b, err := newBackend(ctx, source)
	if err != nil {
		return err
	}
	defer b.Close()

	if tracks := playableTracks(b.browse(ctx)); len(tracks) > 0 {
		b.player.SetPlaylist(tracks, 0)
	}

	return tui.Run(ctx, b.player, tui.Options{
		Search:  b.search,
		Refresh: time.Duration(uiRefresh) * time.Millisecond,
		Logger:  logger,
	})
}
