package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/tessro/tandem/internal/core"
	"github.com/tessro/tandem/internal/tail"
	"github.com/tessro/tandem/internal/tui"
	"github.com/tessro/tandem/internal/wizard"
)

// idleGrace is how long a headless run waits in Idle for auto-advance to
// pick the next track before exiting.
var idleGrace = tail.DefaultIdleGrace

var (
	playSource   string
	playListing  listing
	playFirst    bool
	playHeadless bool
	playShuffle  bool
	playRepeat   string

	playFormat     string
	playTimestamps bool
)

var playCmd = &cobra.Command{
	Use:   "play [query]",
	Short: "Search and play tracks",
	Long: `Search the catalog, pick a track and play the results as a playlist.

Without a query or listing flag, an interactive search prompt opens.
Otherwise, unless --first is given, a picker is shown when the terminal
allows it. Playback runs in the terminal UI unless --headless is given or stdout
is not a terminal.

Examples:
  tandem play "morning light"
  tandem play --popular --first --headless
  tandem play --source library --tag jazz
  tandem play --source spotify "blue in green"
  tandem play --source spotify --playlist "Late Night" --shuffle`,
	Annotations: map[string]string{annotationFullscreen: "true"},
	RunE:        runPlay,
}

func init() {
	playCmd.Flags().StringVarP(&playSource, "source", "s", "jamendo", "catalog: jamendo, library or spotify")
	playCmd.Flags().BoolVar(&playFirst, "first", false, "play the first result without asking")
	playCmd.Flags().BoolVar(&playHeadless, "headless", false, "print progress instead of running the UI")
	playCmd.Flags().BoolVar(&playShuffle, "shuffle", false, "shuffle the playlist")
	playCmd.Flags().StringVar(&playRepeat, "repeat", "off", "repeat mode: off, all or one")
	playCmd.Flags().StringVar(&playFormat, "format", "", "headless output template, e.g. '{{.Artist}} - {{.Title}}'")
	playCmd.Flags().BoolVar(&playTimestamps, "timestamps", false, "prefix headless output with the time")
	addListingFlags(playCmd, &playListing)
	rootCmd.AddCommand(playCmd)
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(os.Stdin.Fd()))
}

func runPlay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	source, err := parseSource(playSource)
	if err != nil {
		return err
	}
	repeat, err := core.ParseRepeatMode(playRepeat)
	if err != nil {
		return err
	}

	query := strings.Join(args, " ")
	var (
		tracks []core.Track
		index  int
	)
	if query == "" && !playListing.active() && isTerminal() {
		sel, err := wizard.RunSearch(ctx, promptSearcher(source))
		if err != nil {
			return err
		}
		if sel == nil {
			return nil
		}
		tracks, index = sel.Tracks, sel.Index
	} else {
		found, err := findTracks(ctx, source, query, playListing)
		if err != nil {
			return err
		}
		tracks = found
	}

	var picked core.Track
	if index < len(tracks) {
		picked = tracks[index]
	}
	tracks = playableTracks(tracks)
	if len(tracks) == 0 {
		return errors.New("no playable tracks found")
	}
	// The prompt's pick keeps its place unless it was filtered out.
	_, index, _ = lo.FindIndexOf(tracks, func(t core.Track) bool { return t.Same(&picked) })
	index = max(index, 0)

	prompted := query == "" && !playListing.active()
	if !prompted && !playFirst && len(tracks) > 1 && isTerminal() {
		if index, err = pickTrack(tracks); err != nil {
			return err
		}
	}

	b, err := newBackend(ctx, source)
	if err != nil {
		return err
	}
	defer b.Close()

	p := b.player
	if playShuffle {
		p.ToggleShuffle(ctx)
	}
	for i := 0; i < 3 && p.State().Repeat != repeat; i++ {
		p.ToggleRepeat(ctx)
	}

	if err := p.PlayTrack(ctx, tracks[index], core.WithPlaylist(tracks, index)); err != nil {
		return err
	}

	if playHeadless || !isTerminal() {
		return runHeadless(ctx, p, os.Stdout)
	}
	return tui.Run(ctx, p, tui.Options{Search: b.search, Logger: logger})
}

// promptSearcher adapts findTracks for the interactive search prompt.
func promptSearcher(source core.Source) wizard.SearchFunc {
	return func(ctx context.Context, q string) []core.Track {
		tracks, err := findTracks(ctx, source, q, listing{})
		if err != nil {
			logger.Warn("search failed", zap.String("query", q), zap.Error(err))
		}
		return tracks
	}
}

// playableTracks drops duplicates and entries without any media reference.
func playableTracks(tracks []core.Track) []core.Track {
	tracks = lo.UniqBy(tracks, func(t core.Track) string { return string(t.Source) + ":" + t.ID })
	return lo.Filter(tracks, func(t core.Track, _ int) bool {
		return t.AudioURL != "" || t.DownloadURL != "" || t.ShortURL != "" ||
			t.URI != "" || t.Source == core.SourceSpotify
	})
}

// pickTrack shows a picker and returns the chosen index.
func pickTrack(tracks []core.Track) (int, error) {
	options := lo.Map(tracks, func(t core.Track, i int) huh.Option[int] {
		return huh.NewOption(trackLabel(t), i)
	})

	var selected int
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[int]().
				Title("Select a track").
				Description("The remaining results play after it").
				Options(options...).
				Value(&selected),
		),
	)
	if err := form.Run(); err != nil {
		return 0, fmt.Errorf("selection cancelled: %w", err)
	}
	return selected, nil
}

// runHeadless prints player events until the playlist finishes, playback
// fails for good or ctx is cancelled.
func runHeadless(ctx context.Context, p tail.Source, out io.Writer) error {
	tmpl, err := tail.ParseTemplate(playFormat)
	if err != nil {
		return err
	}
	f := tail.NewFormatter(
		tail.WithEmoji(tmpl == nil),
		tail.WithTimestamp(playTimestamps),
		tail.WithTemplate(tmpl),
	)
	return tail.NewWatcher(p, tail.WithIdleGrace(idleGrace)).Run(ctx, func(e tail.Event) {
		fmt.Fprintln(out, f.Format(e))
	})
}
