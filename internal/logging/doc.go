// Package logging assembles structured slog loggers and formatting helpers used
// across the storybook CLI and orchestration packages.
//
// It owns the console and JSON handlers, level and output plumbing, and
// context-aware helpers that tag log lines with project IDs, job IDs, phases,
// page keys, and correlation IDs. NewNop gives tests and optional wiring a
// logger that never fails.
package logging
