package cli

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tessro/tandem/internal/cache"
)

// statusTimeout bounds each backend check.
const statusTimeout = 5 * time.Second

var (
	statusSpotify bool
	statusJamendo bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backend status",
	Long: `Checks the backends tandem plays from: the Jamendo catalog proxy, the
Redis catalog cache, the mpv binary and Spotify. When Spotify is signed in,
its current playback is shown too.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusSpotify, "spotify", false, "Show only Spotify status")
	statusCmd.Flags().BoolVar(&statusJamendo, "jamendo", false, "Show only Jamendo status")
	rootCmd.AddCommand(statusCmd)
}

type jamendoStatus struct {
	APIBase    string `json:"api_base"`
	Healthy    bool   `json:"healthy"`
	Configured bool   `json:"configured"`
	Library    bool   `json:"library"`
	Cache      string `json:"cache"`
	MPV        string `json:"mpv,omitempty"`
	MPVError   string `json:"mpv_error,omitempty"`
}

type spotifyStatus struct {
	Configured    bool    `json:"configured"`
	Authenticated bool    `json:"authenticated"`
	User          string  `json:"user,omitempty"`
	Premium       bool    `json:"premium"`
	Device        string  `json:"device,omitempty"`
	Playing       bool    `json:"is_playing"`
	Track         string  `json:"track,omitempty"`
	Progress      string  `json:"progress,omitempty"`
	Duration      string  `json:"duration,omitempty"`
	Percent       float64 `json:"progress_percent,omitempty"`
	Error         string  `json:"error,omitempty"`
}

type statusReport struct {
	Jamendo *jamendoStatus `json:"jamendo,omitempty"`
	Spotify *spotifyStatus `json:"spotify,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	showJamendo := !statusSpotify || statusJamendo
	showSpotify := !statusJamendo || statusSpotify

	var report statusReport
	g, ctx := errgroup.WithContext(cmd.Context())
	if showJamendo {
		g.Go(func() error {
			report.Jamendo = checkJamendo(ctx)
			return nil
		})
	}
	if showSpotify {
		g.Go(func() error {
			report.Spotify = checkSpotify(ctx)
			return nil
		})
	}
	_ = g.Wait()

	if JSONOutput() {
		printJSON(report)
		return nil
	}
	printStatus(cmd.OutOrStdout(), report)
	return nil
}

func checkJamendo(ctx context.Context) *jamendoStatus {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	st := &jamendoStatus{APIBase: cfg.Jamendo.APIBase, Cache: "disabled"}
	c := openCatalogCache(ctx)
	defer func() { _ = c.Close() }()
	if rc, ok := c.(*cache.Redis); ok {
		st.Cache = cfg.Cache.RedisAddr
		if err := rc.HealthCheck(ctx); err != nil {
			st.Cache = "unreachable: " + err.Error()
		}
	} else if cfg.Cache.RedisAddr != "" {
		st.Cache = "unreachable"
	}

	jc := newJamendo(c)
	st.Healthy = jc.Healthy(ctx)
	st.Configured = jc.Configured(ctx)
	st.Library = newLibrary(c).Healthy(ctx)

	if path, err := exec.LookPath(cfg.MPV.Path); err != nil {
		st.MPVError = err.Error()
	} else {
		st.MPV = path
	}
	return st
}

func checkSpotify(ctx context.Context) *spotifyStatus {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	st := &spotifyStatus{Configured: cfg.Spotify.ClientID != ""}
	if !st.Configured {
		return st
	}
	sp, err := newSpotify()
	if err != nil {
		st.Error = err.Error()
		return st
	}
	tok, err := sp.source.Current()
	if err != nil || tok == nil {
		if err != nil {
			st.Error = err.Error()
		}
		return st
	}
	st.Authenticated = true

	if user, err := sp.client.GetCurrentUser(ctx); err == nil {
		st.User = user.DisplayName
		st.Premium = user.Premium()
	} else {
		st.Error = err.Error()
		return st
	}

	ps, err := sp.client.GetPlaybackState(ctx)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	if ps == nil {
		return st
	}
	st.Device = ps.Device.Name
	st.Playing = ps.IsPlaying
	if ps.Item != nil {
		st.Track = trackLabel(ps.Item.ToCore())
		st.Progress = FormatDuration(ps.Progress())
		st.Duration = FormatDuration(ps.Duration())
		if d := ps.Duration(); d > 0 {
			st.Percent = float64(ps.Progress()) / float64(d) * 100
		}
	}
	return st
}

func printStatus(out io.Writer, r statusReport) {
	if j := r.Jamendo; j != nil {
		fmt.Fprintln(out, "[JAMENDO]")
		fmt.Fprintf(out, "  %s proxy %s", StatusIcon(j.Healthy), j.APIBase)
		if j.Healthy && !j.Configured {
			fmt.Fprint(out, " (no Jamendo credentials)")
		}
		fmt.Fprintln(out)
		fmt.Fprintf(out, "  %s song library %s\n", StatusIcon(j.Library), cfg.LibraryBase())
		fmt.Fprintf(out, "  %s cache %s\n", StatusIcon(!strings.HasPrefix(j.Cache, "unreachable") && j.Cache != "disabled"), j.Cache)
		if j.MPV != "" {
			fmt.Fprintf(out, "  %s mpv %s\n", StatusIcon(true), j.MPV)
		} else {
			fmt.Fprintf(out, "  %s mpv not found (%s)\n", StatusIcon(false), cfg.MPV.Path)
		}
	}

	if s := r.Spotify; s != nil {
		if r.Jamendo != nil {
			fmt.Fprintln(out)
		}
		fmt.Fprintln(out, "[SPOTIFY]")
		switch {
		case !s.Configured:
			fmt.Fprintln(out, "  Not configured. Set spotify.client_id.")
		case !s.Authenticated:
			fmt.Fprintln(out, "  Not logged in. Run 'tandem auth login'.")
		default:
			account := s.User
			if !s.Premium {
				account += " (not premium)"
			}
			fmt.Fprintf(out, "  %s %s\n", StatusIcon(s.Premium), account)
			if s.Track != "" {
				icon := "⏸"
				if s.Playing {
					icon = "▶"
				}
				fmt.Fprintf(out, "  %s %s\n", icon, s.Track)
				fmt.Fprintf(out, "    %s %s / %s\n", progressBar(s.Percent, 30), s.Progress, s.Duration)
			}
			if s.Device != "" {
				fmt.Fprintf(out, "    on %s\n", s.Device)
			}
		}
		if s.Error != "" {
			fmt.Fprintf(out, "  error: %s\n", s.Error)
		}
	}
}

func progressBar(percent float64, width int) string {
	filled := min(max(int(percent/100*float64(width)), 0), width)
	return strings.Repeat("━", filled) + strings.Repeat("─", width-filled)
}
