package config

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Jamendo: JamendoConfig{
			APIBase: "http://127.0.0.1:8000",
			Limit:   50,
		},
		Library: LibraryConfig{
			Count: 6,
		},
		Spotify: SpotifyConfig{
			RedirectURI: "http://127.0.0.1:8888/callback",
			TokenStore:  "file",
		},
		Player: PlayerConfig{
			Volume:                70,
			AutoAdvance:           true,
			LoadTimeoutMS:         10000,
			SettleDelayMS:         50,
			ReadyTimeoutMS:        5000,
			FailureAdvanceDelayMS: 1000,
			VolumeDebounceMS:      500,
			EngineReadyTimeoutMS:  10000,
		},
		Detector: DetectorConfig{
			PollIntervalMS:   1000,
			EndEpsilonMS:     2000,
			MinDurationMS:    30000,
			ResetThresholdMS: 10000,
			StuckDeltaMS:     500,
			NearEndMS:        5000,
		},
		API: APIConfig{
			MaxRetries:      3,
			BaseBackoffMS:   500,
			MaxRetryAfterMS: 5000,
		},
		Cache: CacheConfig{
			TTLSeconds: 3600,
		},
		MPV: MPVConfig{
			Path: "mpv",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// ApplyDefaults fills in zero values with sensible defaults.
func (c *Config) ApplyDefaults() {
	d := Default()

	// Jamendo
	if c.Jamendo.APIBase == "" {
		c.Jamendo.APIBase = d.Jamendo.APIBase
	}
	if c.Jamendo.Limit == 0 {
		c.Jamendo.Limit = d.Jamendo.Limit
	}

	// Library
	if c.Library.Count == 0 {
		c.Library.Count = d.Library.Count
	}

	// Spotify
	if c.Spotify.RedirectURI == "" {
		c.Spotify.RedirectURI = d.Spotify.RedirectURI
	}
	if c.Spotify.TokenStore == "" {
		c.Spotify.TokenStore = d.Spotify.TokenStore
	}

	// Player
	p, dp := &c.Player, d.Player
	fill(&p.Volume, dp.Volume)
	fill(&p.LoadTimeoutMS, dp.LoadTimeoutMS)
	fill(&p.SettleDelayMS, dp.SettleDelayMS)
	fill(&p.ReadyTimeoutMS, dp.ReadyTimeoutMS)
	fill(&p.FailureAdvanceDelayMS, dp.FailureAdvanceDelayMS)
	fill(&p.VolumeDebounceMS, dp.VolumeDebounceMS)
	fill(&p.EngineReadyTimeoutMS, dp.EngineReadyTimeoutMS)

	// Detector
	det, dd := &c.Detector, d.Detector
	fill(&det.PollIntervalMS, dd.PollIntervalMS)
	fill(&det.EndEpsilonMS, dd.EndEpsilonMS)
	fill(&det.MinDurationMS, dd.MinDurationMS)
	fill(&det.ResetThresholdMS, dd.ResetThresholdMS)
	fill(&det.StuckDeltaMS, dd.StuckDeltaMS)
	fill(&det.NearEndMS, dd.NearEndMS)

	// API. max_retries = 0 is meaningful, so only negative values reset.
	if c.API.MaxRetries < 0 {
		c.API.MaxRetries = d.API.MaxRetries
	}
	fill(&c.API.BaseBackoffMS, d.API.BaseBackoffMS)
	fill(&c.API.MaxRetryAfterMS, d.API.MaxRetryAfterMS)

	// Cache
	fill(&c.Cache.TTLSeconds, d.Cache.TTLSeconds)

	// MPV
	if c.MPV.Path == "" {
		c.MPV.Path = d.MPV.Path
	}

	// Log
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	fill(&c.Log.MaxSizeMB, d.Log.MaxSizeMB)
	fill(&c.Log.MaxBackups, d.Log.MaxBackups)
	fill(&c.Log.MaxAgeDays, d.Log.MaxAgeDays)
}

func fill(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}
