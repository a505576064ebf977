package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate ensures the configuration is usable. The backend credential is not
// checked here; the manifest builder reports a missing key to the user.
func (c *Config) Validate() error {
	if err := c.validateBackend(); err != nil {
		return err
	}
	if err := c.validatePolling(); err != nil {
		return err
	}
	if err := c.validateStory(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateBackend() error {
	parsed, err := url.Parse(c.Backend.BaseURL)
	if err != nil {
		return fmt.Errorf("backend.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("backend.base_url must use http or https, got %q", c.Backend.BaseURL)
	}
	if parsed.Host == "" {
		return fmt.Errorf("backend.base_url must include a host, got %q", c.Backend.BaseURL)
	}
	if c.Backend.RequestTimeout < 0 {
		return errors.New("backend.request_timeout must be positive")
	}
	if c.Backend.UploadTimeout < 0 {
		return errors.New("backend.upload_timeout must be positive")
	}
	return nil
}

func (c *Config) validatePolling() error {
	if c.Polling.GenerationInterval < 1 || c.Polling.GenerationInterval > maxPollIntervalSeconds {
		return fmt.Errorf("polling.generation_interval must be between 1 and %d seconds", maxPollIntervalSeconds)
	}
	if c.Polling.RegenInterval < 1 || c.Polling.RegenInterval > maxPollIntervalSeconds {
		return fmt.Errorf("polling.regen_interval must be between 1 and %d seconds", maxPollIntervalSeconds)
	}
	if c.Polling.MaxPollFailures < 1 {
		return errors.New("polling.max_poll_failures must be at least 1")
	}
	return nil
}

func (c *Config) validateStory() error {
	switch c.Story.DefaultTheme {
	case "light", "dark":
	default:
		return fmt.Errorf("story.default_theme must be light or dark, got %q", c.Story.DefaultTheme)
	}
	if c.Story.DefaultDurationSeconds < 1 || c.Story.DefaultDurationSeconds > maxPageDurationSeconds {
		return fmt.Errorf("story.default_duration_seconds must be between 1 and %d", maxPageDurationSeconds)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
