package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Backend contains connection settings for the storybook job API.
type Backend struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	RequestTimeout int    `toml:"request_timeout"`
	UploadTimeout  int    `toml:"upload_timeout"`
}

// Polling contains job polling intervals (seconds) and the transient failure budget.
type Polling struct {
	GenerationInterval int `toml:"generation_interval"`
	RegenInterval      int `toml:"regen_interval"`
	MaxPollFailures    int `toml:"max_poll_failures"`
}

// Story contains defaults applied when a story file leaves a field empty.
type Story struct {
	DefaultTheme           string `toml:"default_theme"`
	DefaultStylePrompt     string `toml:"default_style_prompt"`
	DefaultDurationSeconds int    `toml:"default_duration_seconds"`
}

// Paths contains local directories used by the CLI.
type Paths struct {
	LogDir  string `toml:"log_dir"`
	LockDir string `toml:"lock_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for storybook.
//
// Configuration sections by subsystem:
//   - Backend: job API base URL, credential, and HTTP timeouts
//   - Polling: generation/finalize and regeneration poll intervals
//   - Story: defaults for theme, style prompt, and page duration
//   - Paths: log and lock directories
//   - Logging: log format and level
type Config struct {
	Backend Backend `toml:"backend"`
	Polling Polling `toml:"polling"`
	Story   Story   `toml:"story"`
	Paths   Paths   `toml:"paths"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/storybook/config.toml")
}

// Load locates, parses, and validates a configuration file. Values from .env
// files in the working directory are exported before environment fallbacks
// are applied; variables already set in the process environment win.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	loadDotEnv()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func loadDotEnv() {
	for _, name := range []string{".env", ".env.local"} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		_ = godotenv.Load(name)
	}
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("storybook.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the log and lock directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.LogDir, c.Paths.LockDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// GenerationPollInterval is the poll cadence for generation and finalize jobs.
func (c *Config) GenerationPollInterval() time.Duration {
	return time.Duration(c.Polling.GenerationInterval) * time.Second
}

// RegenPollInterval is the poll cadence for per-page regeneration jobs.
func (c *Config) RegenPollInterval() time.Duration {
	return time.Duration(c.Polling.RegenInterval) * time.Second
}

// RequestTimeout bounds JSON API calls.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Backend.RequestTimeout) * time.Second
}

// UploadTimeout bounds multipart asset uploads.
func (c *Config) UploadTimeout() time.Duration {
	return time.Duration(c.Backend.UploadTimeout) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// SampleOptions fills the [backend] section of a generated sample. Empty
// fields keep the sample's defaults.
type SampleOptions struct {
	BaseURL string
	APIKey  string
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string, opts SampleOptions) error {
	content, err := renderSample(opts)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// renderSample rewrites the base_url and api_key lines of the [backend]
// section; the comments around them are kept.
func renderSample(opts SampleOptions) (string, error) {
	values := map[string]string{}
	if v := strings.TrimSpace(opts.BaseURL); v != "" {
		values["base_url"] = v
	}
	if v := strings.TrimSpace(opts.APIKey); v != "" {
		values["api_key"] = v
	}
	if len(values) == 0 {
		return sampleConfig, nil
	}

	lines := strings.Split(sampleConfig, "\n")
	section := ""
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			section = strings.Trim(trimmed, "[]")
			continue
		}
		if section != "backend" {
			continue
		}
		key, _, ok := strings.Cut(trimmed, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if value, set := values[key]; set {
			encoded, err := toml.Marshal(map[string]string{key: value})
			if err != nil {
				return "", fmt.Errorf("encode sample %s: %w", key, err)
			}
			lines[i] = strings.TrimSpace(string(encoded))
		}
	}
	return strings.Join(lines, "\n"), nil
}

// ReadBackendSection decodes only the [backend] table of an existing config
// file, without defaults or environment fallbacks.
func ReadBackendSection(path string) (Backend, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Backend{}, fmt.Errorf("read config: %w", err)
	}
	var file struct {
		Backend Backend `toml:"backend"`
	}
	if err := toml.Unmarshal(data, &file); err != nil {
		return Backend{}, fmt.Errorf("parse config: %w", err)
	}
	return file.Backend, nil
}
