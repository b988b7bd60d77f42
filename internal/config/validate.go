package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Jamendo.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("jamendo: %w", err))
	}
	if err := c.Library.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("library: %w", err))
	}
	if err := c.Spotify.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("spotify: %w", err))
	}
	if err := c.Player.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("player: %w", err))
	}
	if err := c.Detector.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("detector: %w", err))
	}
	if err := c.API.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("api: %w", err))
	}
	if err := c.Cache.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("cache: %w", err))
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}

	return errors.Join(errs...)
}

// Validate checks JamendoConfig for errors.
func (c *JamendoConfig) Validate() error {
	if err := validateBase(c.APIBase); err != nil {
		return err
	}
	if c.Limit < 0 || c.Limit > 200 {
		return errors.New("limit must be between 1 and 200")
	}
	return nil
}

// Validate checks LibraryConfig for errors.
func (c *LibraryConfig) Validate() error {
	if err := validateBase(c.APIBase); err != nil {
		return err
	}
	if c.Count < 0 || c.Count > 100 {
		return errors.New("count must be between 1 and 100")
	}
	return nil
}

func validateBase(base string) error {
	if base == "" {
		return nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("invalid api_base: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid api_base: %s (must be http or https)", base)
	}
	return nil
}

// Validate checks SpotifyConfig for errors.
func (c *SpotifyConfig) Validate() error {
	if c.RedirectURI != "" {
		if _, err := url.Parse(c.RedirectURI); err != nil {
			return fmt.Errorf("invalid redirect_uri: %w", err)
		}
	}
	switch c.TokenStore {
	case "", "file", "keyring":
		// valid
	default:
		return fmt.Errorf("invalid token_store: %s (must be file or keyring)", c.TokenStore)
	}
	return nil
}

// Validate checks PlayerConfig for errors.
func (c *PlayerConfig) Validate() error {
	var errs []error
	if c.Volume < 0 || c.Volume > 100 {
		errs = append(errs, errors.New("volume must be between 0 and 100"))
	}
	for name, v := range map[string]int{
		"load_timeout_ms":          c.LoadTimeoutMS,
		"settle_delay_ms":          c.SettleDelayMS,
		"ready_timeout_ms":         c.ReadyTimeoutMS,
		"failure_advance_delay_ms": c.FailureAdvanceDelayMS,
		"volume_debounce_ms":       c.VolumeDebounceMS,
		"engine_ready_timeout_ms":  c.EngineReadyTimeoutMS,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must be non-negative", name))
		}
	}
	return errors.Join(errs...)
}

// Validate checks DetectorConfig for errors.
func (c *DetectorConfig) Validate() error {
	if c.PollIntervalMS < 0 {
		return errors.New("poll_interval_ms must be non-negative")
	}
	if c.EndEpsilonMS < 0 || c.MinDurationMS < 0 || c.ResetThresholdMS < 0 ||
		c.StuckDeltaMS < 0 || c.NearEndMS < 0 {
		return errors.New("thresholds must be non-negative")
	}
	return nil
}

// Validate checks APIConfig for errors.
func (c *APIConfig) Validate() error {
	if c.MaxRetries > 10 {
		return errors.New("max_retries must be at most 10")
	}
	if c.RequestsPerSecond < 0 {
		return errors.New("requests_per_second must be non-negative")
	}
	return nil
}

// Validate checks CacheConfig for errors.
func (c *CacheConfig) Validate() error {
	if c.TTLSeconds < 0 {
		return errors.New("ttl_seconds must be non-negative")
	}
	if c.RedisDB < 0 {
		return errors.New("redis_db must be non-negative")
	}
	return nil
}

// Validate checks LogConfig for errors.
func (c *LogConfig) Validate() error {
	switch c.Level {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Level)
	}
	if c.MaxSizeMB < 0 || c.MaxBackups < 0 || c.MaxAgeDays < 0 {
		return errors.New("rotation settings must be non-negative")
	}
	return nil
}
