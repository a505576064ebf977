package preflight

import (
	"context"

	"storybook/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes every check for cfg plus a readability check for each
// story file. storyFiles may be empty when no story is involved.
func RunAll(ctx context.Context, cfg *config.Config, storyFiles []string) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckCredentialFromConfig(cfg),
		CheckBackendFromConfig(ctx, cfg),
	}

	if cfg.Paths.LockDir != "" {
		results = append(results, CheckDirectoryAccess("Lock directory", cfg.Paths.LockDir))
	}
	if cfg.Paths.LogDir != "" {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	}

	return append(results, CheckStoryFiles(storyFiles)...)
}

// Failed reports whether any result did not pass.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}
