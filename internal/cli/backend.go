package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/tessro/tandem/internal/browser"
	"github.com/tessro/tandem/internal/cache"
	"github.com/tessro/tandem/internal/config"
	"github.com/tessro/tandem/internal/core"
	"github.com/tessro/tandem/internal/detector"
	"github.com/tessro/tandem/internal/engine"
	"github.com/tessro/tandem/internal/engine/mpv"
	"github.com/tessro/tandem/internal/gate"
	"github.com/tessro/tandem/internal/jamendo"
	"github.com/tessro/tandem/internal/library"
	"github.com/tessro/tandem/internal/metrics"
	"github.com/tessro/tandem/internal/playback"
	"github.com/tessro/tandem/internal/remote"
	"github.com/tessro/tandem/internal/resolver"
	"github.com/tessro/tandem/internal/session"
	"github.com/tessro/tandem/internal/spotify/auth"
	"github.com/tessro/tandem/internal/spotify/client"
	"github.com/tessro/tandem/internal/spotify/player"
)

// parseSource validates a --source flag.
func parseSource(s string) (core.Source, error) {
	switch strings.ToLower(s) {
	case "", "jamendo":
		return core.SourceJamendo, nil
	case "spotify":
		return core.SourceSpotify, nil
	case "library":
		return core.SourceLibrary, nil
	}
	return "", fmt.Errorf("unknown source %q (must be jamendo, library or spotify)", s)
}

func remotePolicy(c *config.Config) remote.Policy {
	return remote.Policy{
		MaxRetries:    c.API.MaxRetries,
		BaseBackoff:   config.Millis(c.API.BaseBackoffMS),
		MaxRetryAfter: config.Millis(c.API.MaxRetryAfterMS),
	}
}

// openCatalogCache connects the Redis cache when one is configured. An
// unreachable Redis is logged and the catalog runs uncached.
func openCatalogCache(ctx context.Context) cache.Cache {
	if cfg.Cache.RedisAddr == "" {
		return cache.Nop{}
	}
	rc, err := cache.NewRedis(ctx, cache.RedisConfig{
		Addr:     cfg.Cache.RedisAddr,
		Password: cfg.Cache.RedisPassword,
		DB:       cfg.Cache.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("catalog cache unavailable", zap.String("addr", cfg.Cache.RedisAddr), zap.Error(err))
		return cache.Nop{}
	}
	return rc
}

func newJamendo(c cache.Cache) *jamendo.Client {
	return jamendo.New(cfg.Jamendo.APIBase, jamendo.Options{
		Remote: remote.Options{
			Policy:            remotePolicy(cfg),
			RequestsPerSecond: cfg.API.RequestsPerSecond,
			Logger:            logger,
		},
		Cache:  c,
		TTL:    time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		Limit:  cfg.Jamendo.Limit,
		Logger: logger,
	})
}

func newLibrary(c cache.Cache) *library.Client {
	return library.New(cfg.LibraryBase(), library.Options{
		Remote: remote.Options{
			Policy:            remotePolicy(cfg),
			RequestsPerSecond: cfg.API.RequestsPerSecond,
			Logger:            logger,
		},
		Cache:  c,
		TTL:    time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		Count:  cfg.Library.Count,
		Logger: logger,
	})
}

// spotifyStack is everything needed to talk to the Web API.
type spotifyStack struct {
	authConfig *auth.Config
	exchanger  *auth.Exchanger
	source     *auth.Source
	client     *client.Client
}

func newSpotify() (*spotifyStack, error) {
	store, err := auth.NewStore(cfg.Spotify.TokenStore, "")
	if err != nil {
		return nil, err
	}
	ac := auth.NewConfig(cfg.Spotify.ClientID)
	if cfg.Spotify.RedirectURI != "" {
		ac.RedirectURI = cfg.Spotify.RedirectURI
	}
	ex := auth.NewExchanger(ac, nil)
	src := auth.NewSource(store, ex, logger)

	api := remote.New(client.BaseURL, src, remote.Options{
		Service:           "spotify",
		Policy:            remotePolicy(cfg),
		RequestsPerSecond: cfg.API.RequestsPerSecond,
		Logger:            logger,
	})
	return &spotifyStack{authConfig: ac, exchanger: ex, source: src, client: client.New(api)}, nil
}

// login runs the PKCE flow, printing the URL when no browser opens.
func (s *spotifyStack) login(ctx context.Context) (*auth.Token, error) {
	open := func(url string) error {
		if err := browser.Open(url); err != nil {
			fmt.Printf("Could not open browser automatically.\nPlease open this URL in your browser:\n\n%s\n\n", url)
			return err
		}
		return nil
	}
	return auth.Login(ctx, s.authConfig, s.exchanger, s.source, open, logger)
}

// backend is a connected-on-demand player plus the catalog that feeds it.
type backend struct {
	source core.Source
	player *playback.Player
	search func(ctx context.Context, query string) []core.Track
	browse func(ctx context.Context) []core.Track
	closer []func()
}

func (b *backend) Close() {
	b.player.Close()
	for i := len(b.closer) - 1; i >= 0; i-- {
		b.closer[i]()
	}
}

func playbackConfig(c *config.Config) playback.Config {
	return playback.Config{
		AutoAdvance:        c.Player.AutoAdvance,
		EngineReadyTimeout: config.Millis(c.Player.EngineReadyTimeoutMS),
		Session: session.Config{
			Gate: gate.Config{
				SettleDelay:  config.Millis(c.Player.SettleDelayMS),
				ReadyTimeout: config.Millis(c.Player.ReadyTimeoutMS),
			},
			Detector: detector.Config{
				EndEpsilon:     config.Millis(c.Detector.EndEpsilonMS),
				MinDuration:    config.Millis(c.Detector.MinDurationMS),
				ResetThreshold: config.Millis(c.Detector.ResetThresholdMS),
				StuckDelta:     config.Millis(c.Detector.StuckDeltaMS),
				NearEnd:        config.Millis(c.Detector.NearEndMS),
			},
			FailureAdvanceDelay: config.Millis(c.Player.FailureAdvanceDelayMS),
			VolumeDebounce:      config.Millis(c.Player.VolumeDebounceMS),
			Volume:              lo.ToPtr(c.Player.Volume),
		},
	}
}

// newBackend wires the engine, resolver and catalog for source. The
// engine is opened lazily by the first PlayTrack.
func newBackend(ctx context.Context, source core.Source) (*backend, error) {
	log := logger.With(zap.String("run", uuid.NewString()[:8]), zap.String("source", string(source)))
	b := &backend{source: source}

	var (
		eng  engine.Engine
		opts = []resolver.Option{
			resolver.WithLoadTimeout(config.Millis(cfg.Player.LoadTimeoutMS)),
			resolver.WithLogger(log),
		}
	)

	switch source {
	case core.SourceSpotify:
		sp, err := newSpotify()
		if err != nil {
			return nil, err
		}
		eng = player.New(sp.client, player.Options{
			Device:       cfg.Spotify.Device,
			PollInterval: config.Millis(cfg.Detector.PollIntervalMS),
			Configured: func() bool {
				if cfg.Spotify.ClientID == "" {
					return false
				}
				tok, err := sp.source.Current()
				return err == nil && tok != nil
			},
			Logger: log,
		})
		opts = append(opts, resolver.WithNativeURI(true))
		b.search = func(ctx context.Context, q string) []core.Track {
			tracks, err := sp.client.SearchTracks(ctx, q, 0)
			if err != nil {
				log.Warn("spotify search failed", zap.Error(err))
				return nil
			}
			return tracks
		}
		b.browse = func(context.Context) []core.Track { return nil }

	default:
		c := openCatalogCache(ctx)
		b.closer = append(b.closer, func() { _ = c.Close() })
		eng = mpv.New(mpv.Options{
			Binary:    cfg.MPV.Path,
			SocketDir: cfg.MPV.SocketDir,
			Socket:    cfg.MPV.Socket,
			Logger:    log,
		})
		if source == core.SourceLibrary {
			lc := newLibrary(c)
			b.search = lc.Search
			b.browse = lc.All
			break
		}
		jc := newJamendo(c)
		b.search = jc.Search
		b.browse = jc.Popular
	}

	b.player = playback.New(eng, resolver.New(opts...), playbackConfig(cfg), playback.WithLogger(log))

	if cfg.Metrics.Listen != "" {
		mctx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := metrics.Serve(mctx, cfg.Metrics.Listen, log); err != nil {
				log.Warn("metrics listener failed", zap.Error(err))
			}
		}()
		b.closer = append(b.closer, func() {
			cancel()
			<-done
		})
	}
	return b, nil
}
