package config

const (
	defaultBaseURL             = "http://127.0.0.1:8000/api"
	defaultRequestTimeout      = 30
	defaultUploadTimeout       = 120
	defaultGenerationInterval  = 3
	defaultRegenInterval       = 2
	defaultMaxPollFailures     = 5
	defaultTheme               = "light"
	defaultStylePrompt         = "Warm, nostalgic Minecraft pixelated blocky style, father-son bonding adventure theme."
	defaultPageDurationSeconds = 10
	defaultLogDir              = "~/.local/share/storybook/logs"
	defaultLockDir             = "~/.local/state/storybook/locks"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	envAPIKey                  = "STORYBOOK_API_KEY"
	envLegacyAPIKey            = "XAI_API_KEY"
	envBaseURL                 = "STORYBOOK_BASE_URL"
	maxPollIntervalSeconds     = 300
	maxPageDurationSeconds     = 120
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Backend: Backend{
			BaseURL:        defaultBaseURL,
			RequestTimeout: defaultRequestTimeout,
			UploadTimeout:  defaultUploadTimeout,
		},
		Polling: Polling{
			GenerationInterval: defaultGenerationInterval,
			RegenInterval:      defaultRegenInterval,
			MaxPollFailures:    defaultMaxPollFailures,
		},
		Story: Story{
			DefaultTheme:           defaultTheme,
			DefaultStylePrompt:     defaultStylePrompt,
			DefaultDurationSeconds: defaultPageDurationSeconds,
		},
		Paths: Paths{
			LogDir:  defaultLogDir,
			LockDir: defaultLockDir,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
