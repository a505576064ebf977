// Package main hosts the storybook CLI entrypoint and command graph.
//
// The Cobra-based command tree loads a YAML story, checks that the job API
// and every referenced image are usable, and then drives one project through
// generation, optional page regeneration, and finalization. Smaller commands
// validate a story offline, follow an arbitrary job, and scaffold
// configuration.
//
// Keep this package lean: the session state machine lives in
// internal/orchestrator and everything here is presentation and wiring.
package main
