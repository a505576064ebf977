// Package config loads, normalizes, and validates storybook configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, exports variables from .env files, and honours
// environment fallbacks such as STORYBOOK_API_KEY. The Config type centralizes
// every knob the CLI and orchestrator need: backend location and timeouts,
// poll cadence, story defaults, and log routing.
package config
