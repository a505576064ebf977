package preflight

import (
	"context"
	"strings"

	"storybook/internal/config"
)

// CheckBackendFromConfig evaluates job API status from config and connectivity.
func CheckBackendFromConfig(ctx context.Context, cfg *config.Config) Result {
	if cfg == nil {
		return Result{Name: "Job API", Detail: "Unknown"}
	}
	return CheckBackend(ctx, cfg.Backend.BaseURL)
}

// CheckCredentialFromConfig evaluates credential presence from config.
func CheckCredentialFromConfig(cfg *config.Config) Result {
	if cfg == nil {
		return Result{Name: "API key", Detail: "Unknown"}
	}
	return CheckCredential(strings.TrimSpace(cfg.Backend.APIKey))
}
