package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Load reads configuration from standard locations with environment overrides.
// Search order: ~/.tandemrc, $XDG_CONFIG_HOME/tandem/config.toml, ~/.config/tandem/config.toml
func Load() (*Config, error) {
	path := FindConfigFile()
	if path == "" {
		cfg := Default()
		applyEnvOverrides(cfg)
		return cfg, nil
	}
	return LoadFrom(path)
}

// LoadFrom reads configuration from a specific file path. Keys absent from
// the file keep their defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	applyEnvOverrides(cfg)
	return cfg, nil
}

// FindConfigFile returns the first existing config file path, or "".
func FindConfigFile() string {
	for _, p := range searchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// DefaultPath is where a new config file is written.
func DefaultPath() string {
	paths := searchPaths()
	if len(paths) == 0 {
		return ".tandemrc"
	}
	return paths[len(paths)-1]
}

// DataDir holds tokens and logs: $XDG_DATA_HOME/tandem or
// ~/.local/share/tandem.
func DataDir() string {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return filepath.Join(v, "tandem")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tandem"
	}
	return filepath.Join(home, ".local", "share", "tandem")
}

func searchPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}

	paths := []string{
		filepath.Join(home, ".tandemrc"),
	}

	// XDG_CONFIG_HOME or default
	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	if xdgConfig == "" {
		xdgConfig = filepath.Join(home, ".config")
	}
	return append(paths, filepath.Join(xdgConfig, "tandem", "config.toml"))
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) {
	// Jamendo
	setString(&cfg.Jamendo.APIBase, "TANDEM_JAMENDO_API_BASE")
	setInt(&cfg.Jamendo.Limit, "TANDEM_JAMENDO_LIMIT")

	// Library
	setString(&cfg.Library.APIBase, "TANDEM_LIBRARY_API_BASE")

	// Spotify
	setString(&cfg.Spotify.ClientID, "TANDEM_SPOTIFY_CLIENT_ID")
	setString(&cfg.Spotify.RedirectURI, "TANDEM_SPOTIFY_REDIRECT_URI")
	setString(&cfg.Spotify.Device, "TANDEM_SPOTIFY_DEVICE")
	setString(&cfg.Spotify.TokenStore, "TANDEM_SPOTIFY_TOKEN_STORE")

	// Player
	setInt(&cfg.Player.Volume, "TANDEM_PLAYER_VOLUME")
	if v := os.Getenv("TANDEM_PLAYER_AUTO_ADVANCE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Player.AutoAdvance = b
		}
	}

	// API
	setInt(&cfg.API.MaxRetries, "TANDEM_API_MAX_RETRIES")

	// Cache
	setString(&cfg.Cache.RedisAddr, "TANDEM_CACHE_REDIS_ADDR")
	setString(&cfg.Cache.RedisPassword, "TANDEM_CACHE_REDIS_PASSWORD")
	setInt(&cfg.Cache.TTLSeconds, "TANDEM_CACHE_TTL_SECONDS")

	// MPV
	setString(&cfg.MPV.Path, "TANDEM_MPV_PATH")
	setString(&cfg.MPV.Socket, "TANDEM_MPV_SOCKET")

	// Log
	setString(&cfg.Log.Level, "TANDEM_LOG_LEVEL")
	setString(&cfg.Log.File, "TANDEM_LOG_FILE")

	// Metrics
	setString(&cfg.Metrics.Listen, "TANDEM_METRICS_LISTEN")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}
