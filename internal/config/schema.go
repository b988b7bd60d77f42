package config

import "time"

// Config is the root configuration structure.
type Config struct {
	Jamendo  JamendoConfig  `toml:"jamendo" json:"jamendo"`
	Library  LibraryConfig  `toml:"library" json:"library"`
	Spotify  SpotifyConfig  `toml:"spotify" json:"spotify"`
	Player   PlayerConfig   `toml:"player" json:"player"`
	Detector DetectorConfig `toml:"detector" json:"detector"`
	API      APIConfig      `toml:"api" json:"api"`
	Cache    CacheConfig    `toml:"cache" json:"cache"`
	MPV      MPVConfig      `toml:"mpv" json:"mpv"`
	Log      LogConfig      `toml:"log" json:"log"`
	Metrics  MetricsConfig  `toml:"metrics" json:"metrics"`
}

// JamendoConfig points at the catalog proxy.
type JamendoConfig struct {
	APIBase string `toml:"api_base" json:"api_base"`
	Limit   int    `toml:"limit" json:"limit"`
}

// LibraryConfig points at the platform song library. An empty APIBase
// uses the Jamendo proxy's backend.
type LibraryConfig struct {
	APIBase string `toml:"api_base" json:"api_base"`
	Count   int    `toml:"count" json:"count"`
}

// LibraryBase returns the library backend address.
func (c *Config) LibraryBase() string {
	if c.Library.APIBase != "" {
		return c.Library.APIBase
	}
	return c.Jamendo.APIBase
}

// SpotifyConfig holds Spotify API settings.
type SpotifyConfig struct {
	ClientID    string `toml:"client_id" json:"client_id"`
	RedirectURI string `toml:"redirect_uri" json:"redirect_uri"`
	// Device is a device name or ID to prefer when connecting.
	Device string `toml:"device" json:"device"`
	// TokenStore is "file" or "keyring".
	TokenStore string `toml:"token_store" json:"token_store"`
}

// PlayerConfig holds playback timing. Durations are in milliseconds.
type PlayerConfig struct {
	Volume                int   `toml:"volume" json:"volume"`
	AutoAdvance           bool  `toml:"auto_advance" json:"auto_advance"`
	LoadTimeoutMS         int   `toml:"load_timeout_ms" json:"load_timeout_ms"`
	SettleDelayMS         int   `toml:"settle_delay_ms" json:"settle_delay_ms"`
	ReadyTimeoutMS        int   `toml:"ready_timeout_ms" json:"ready_timeout_ms"`
	FailureAdvanceDelayMS int   `toml:"failure_advance_delay_ms" json:"failure_advance_delay_ms"`
	VolumeDebounceMS      int   `toml:"volume_debounce_ms" json:"volume_debounce_ms"`
	EngineReadyTimeoutMS  int   `toml:"engine_ready_timeout_ms" json:"engine_ready_timeout_ms"`
}

// DetectorConfig holds end-of-track inference thresholds in milliseconds.
type DetectorConfig struct {
	PollIntervalMS   int `toml:"poll_interval_ms" json:"poll_interval_ms"`
	EndEpsilonMS     int `toml:"end_epsilon_ms" json:"end_epsilon_ms"`
	MinDurationMS    int `toml:"min_duration_ms" json:"min_duration_ms"`
	ResetThresholdMS int `toml:"reset_threshold_ms" json:"reset_threshold_ms"`
	StuckDeltaMS     int `toml:"stuck_delta_ms" json:"stuck_delta_ms"`
	NearEndMS        int `toml:"near_end_ms" json:"near_end_ms"`
}

// APIConfig tunes the remote client retry policy.
type APIConfig struct {
	MaxRetries        int     `toml:"max_retries" json:"max_retries"`
	BaseBackoffMS     int     `toml:"base_backoff_ms" json:"base_backoff_ms"`
	MaxRetryAfterMS   int     `toml:"max_retry_after_ms" json:"max_retry_after_ms"`
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second"`
}

// CacheConfig enables the Redis catalog cache when RedisAddr is set.
type CacheConfig struct {
	RedisAddr     string `toml:"redis_addr" json:"redis_addr"`
	RedisPassword string `toml:"redis_password" json:"-"`
	RedisDB       int    `toml:"redis_db" json:"redis_db"`
	TTLSeconds    int    `toml:"ttl_seconds" json:"ttl_seconds"`
}

// MPVConfig locates the mpv binary.
type MPVConfig struct {
	Path      string `toml:"path" json:"path"`
	SocketDir string `toml:"socket_dir" json:"socket_dir"`
	// Socket attaches to an already running mpv.
	Socket string `toml:"socket" json:"socket"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `toml:"level" json:"level"`
	File       string `toml:"file" json:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days"`
}

// MetricsConfig enables the Prometheus listener when Listen is set.
type MetricsConfig struct {
	Listen string `toml:"listen" json:"listen"`
}

// Millis converts a millisecond setting.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
