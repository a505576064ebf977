// Package storyfile reads YAML story definitions used by the CLI.
//
// A story file lists the title, theme, characters, locations, and pages of a
// book. Image paths are resolved relative to the directory holding the story
// file. The backend credential is never read from the story; callers fill it
// in from configuration.
package storyfile
