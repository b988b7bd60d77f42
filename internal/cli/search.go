package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tessro/tandem/internal/core"
	"github.com/tessro/tandem/internal/library"
)

// listing selects a catalog listing instead of a text search. Which
// listings exist depends on the source.
type listing struct {
	tag         string
	popular     bool
	latest      bool
	random      bool
	recommended string
	playlist    string
}

func (l listing) active() bool {
	return l.tag != "" || l.popular || l.latest || l.random || l.recommended != "" || l.playlist != ""
}

// addListingFlags registers the listing flags on cmd.
func addListingFlags(cmd *cobra.Command, l *listing) {
	cmd.Flags().StringVar(&l.tag, "tag", "", "list tracks with a Jamendo tag or library genre")
	cmd.Flags().BoolVar(&l.popular, "popular", false, "list popular Jamendo tracks")
	cmd.Flags().BoolVar(&l.latest, "latest", false, "list the latest Jamendo or library tracks")
	cmd.Flags().BoolVar(&l.random, "random", false, "list random Jamendo or library tracks")
	cmd.Flags().StringVar(&l.recommended, "recommended", "", "Spotify recommendations for comma-separated genres")
	cmd.Flags().StringVar(&l.playlist, "playlist", "", "tracks of one of your Spotify playlists, by name or ID")
	cmd.MarkFlagsMutuallyExclusive("tag", "popular", "latest", "random", "recommended", "playlist")
}

var (
	searchSource  string
	searchListing listing
	searchLimit   int
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the catalog",
	Long: `Search Jamendo (default), the song library or Spotify for tracks.

Listings can be browsed without a query:
  tandem search --tag jazz
  tandem search --popular
  tandem search --latest
  tandem search --random
  tandem search --source library --tag rock
  tandem search --source spotify --recommended jazz,soul
  tandem search --source spotify --playlist "Late Night"

Examples:
  tandem search "morning light"
  tandem search --source library harbor
  tandem search --source spotify "blue in green"`,
	RunE: runSearch,
}

var tagsSource string

var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "List genre tags usable with --tag",
	RunE:  runTags,
}

func init() {
	searchCmd.Flags().StringVarP(&searchSource, "source", "s", "jamendo", "catalog: jamendo, library or spotify")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 20, "maximum results to show")
	addListingFlags(searchCmd, &searchListing)
	tagsCmd.Flags().StringVarP(&tagsSource, "source", "s", "jamendo", "catalog: jamendo or library")
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(tagsCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	source, err := parseSource(searchSource)
	if err != nil {
		return err
	}
	query := strings.Join(args, " ")

	tracks, err := findTracks(cmd.Context(), source, query, searchListing)
	if err != nil {
		return err
	}
	if searchLimit > 0 && len(tracks) > searchLimit {
		tracks = tracks[:searchLimit]
	}

	if JSONOutput() {
		if tracks == nil {
			tracks = []core.Track{}
		}
		printJSON(tracks)
		return nil
	}
	if len(tracks) == 0 {
		fmt.Println("No tracks found")
		return nil
	}
	writeTracks(os.Stdout, tracks)
	return nil
}

// findTracks runs a search, or a listing when l is active.
func findTracks(ctx context.Context, source core.Source, query string, l listing) ([]core.Track, error) {
	switch source {
	case core.SourceSpotify:
		return findSpotify(ctx, query, l)
	case core.SourceLibrary:
		return findLibrary(ctx, query, l)
	}

	if l.recommended != "" || l.playlist != "" {
		return nil, errors.New("--recommended and --playlist are Spotify listings")
	}
	c := openCatalogCache(ctx)
	defer func() { _ = c.Close() }()
	jc := newJamendo(c)

	switch {
	case l.tag != "":
		return jc.ByTag(ctx, l.tag), nil
	case l.popular:
		return jc.Popular(ctx), nil
	case l.latest:
		return jc.Latest(ctx), nil
	case l.random:
		return jc.Random(ctx), nil
	case query == "":
		return nil, errors.New("a query or a listing flag is required")
	}
	return jc.Search(ctx, query), nil
}

func findLibrary(ctx context.Context, query string, l listing) ([]core.Track, error) {
	if l.popular || l.recommended != "" || l.playlist != "" {
		return nil, errors.New("the library supports --tag, --latest and --random")
	}
	c := openCatalogCache(ctx)
	defer func() { _ = c.Close() }()
	lc := newLibrary(c)

	switch {
	case l.tag != "":
		return lc.ByGenre(ctx, l.tag), nil
	case l.latest:
		return lc.Latest(ctx), nil
	case l.random:
		return lc.Random(ctx), nil
	case query == "":
		return lc.All(ctx), nil
	}
	return lc.Search(ctx, query), nil
}

func findSpotify(ctx context.Context, query string, l listing) ([]core.Track, error) {
	if l.tag != "" || l.popular || l.latest || l.random {
		return nil, errors.New("--tag, --popular, --latest and --random are not Spotify listings")
	}
	if !l.active() && query == "" {
		return nil, errors.New("a query, --recommended or --playlist is required for Spotify")
	}
	if err := requireClientID(); err != nil {
		return nil, err
	}
	sp, err := newSpotify()
	if err != nil {
		return nil, err
	}

	switch {
	case l.recommended != "":
		return sp.client.GetRecommendations(ctx, strings.Split(l.recommended, ","), 0)
	case l.playlist != "":
		p, err := sp.client.FindPlaylist(ctx, l.playlist)
		if err != nil {
			return nil, err
		}
		return sp.client.GetPlaylistTracks(ctx, p.ID)
	}
	return sp.client.SearchTracks(ctx, query, 0)
}

func runTags(cmd *cobra.Command, args []string) error {
	source, err := parseSource(tagsSource)
	if err != nil {
		return err
	}
	var tags []string
	switch source {
	case core.SourceLibrary:
		tags = library.Genres
	case core.SourceSpotify:
		return errors.New("Spotify listings take genres with --recommended")
	default:
		c := openCatalogCache(cmd.Context())
		defer func() { _ = c.Close() }()
		tags = newJamendo(c).Tags(cmd.Context())
	}
	if JSONOutput() {
		printJSON(tags)
		return nil
	}
	for _, t := range tags {
		fmt.Println(t)
	}
	return nil
}
