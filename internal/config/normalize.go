package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	c.normalizeBackend()
	c.normalizePolling()
	c.normalizeStory()
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizeBackend() {
	if value, ok := os.LookupEnv(envBaseURL); ok && strings.TrimSpace(value) != "" {
		c.Backend.BaseURL = value
	}
	c.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(c.Backend.BaseURL), "/")
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = defaultBaseURL
	}

	c.Backend.APIKey = strings.TrimSpace(c.Backend.APIKey)
	if c.Backend.APIKey == "" {
		for _, name := range []string{envAPIKey, envLegacyAPIKey} {
			if value, ok := os.LookupEnv(name); ok && strings.TrimSpace(value) != "" {
				c.Backend.APIKey = strings.TrimSpace(value)
				break
			}
		}
	}

	if c.Backend.RequestTimeout == 0 {
		c.Backend.RequestTimeout = defaultRequestTimeout
	}
	if c.Backend.UploadTimeout == 0 {
		c.Backend.UploadTimeout = defaultUploadTimeout
	}
}

func (c *Config) normalizePolling() {
	if c.Polling.GenerationInterval == 0 {
		c.Polling.GenerationInterval = defaultGenerationInterval
	}
	if c.Polling.RegenInterval == 0 {
		c.Polling.RegenInterval = defaultRegenInterval
	}
	if c.Polling.MaxPollFailures == 0 {
		c.Polling.MaxPollFailures = defaultMaxPollFailures
	}
}

func (c *Config) normalizeStory() {
	c.Story.DefaultTheme = strings.ToLower(strings.TrimSpace(c.Story.DefaultTheme))
	if c.Story.DefaultTheme == "" {
		c.Story.DefaultTheme = defaultTheme
	}
	c.Story.DefaultStylePrompt = strings.TrimSpace(c.Story.DefaultStylePrompt)
	if c.Story.DefaultStylePrompt == "" {
		c.Story.DefaultStylePrompt = defaultStylePrompt
	}
	if c.Story.DefaultDurationSeconds == 0 {
		c.Story.DefaultDurationSeconds = defaultPageDurationSeconds
	}
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LockDir) == "" {
		c.Paths.LockDir = defaultLockDir
	}
	if c.Paths.LockDir, err = expandPath(c.Paths.LockDir); err != nil {
		return fmt.Errorf("paths.lock_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
