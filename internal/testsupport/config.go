package testsupport

import (
	"path/filepath"
	"testing"

	"storybook/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Poll intervals are the smallest the config accepts; tests that drive the
// orchestrator directly usually override the durations they pass on.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Backend.APIKey = "test-key"
	cfgVal.Polling.GenerationInterval = 1
	cfgVal.Polling.RegenInterval = 1
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.LockDir = filepath.Join(base, "locks")

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithAPIKey sets the backend credential on the test config.
func WithAPIKey(key string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Backend.APIKey = key
	}
}

// WithBackend points the config at a fake backend.
func WithBackend(fb *FakeBackend) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Backend.BaseURL = fb.BaseURL()
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.LogDir)
}
