package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"storybook/internal/assets"
	"storybook/internal/config"
	"storybook/internal/manifest"
	"storybook/internal/storyfile"
)

type loadedStory struct {
	path  string
	dir   string
	story storyfile.Story
	input manifest.Input
}

// loadStory reads the story at path and fills in the credential from cfg.
func loadStory(cfg *config.Config, path string) (*loadedStory, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("story file is required")
	}
	expanded, err := config.ExpandPath(path)
	if err != nil {
		return nil, fmt.Errorf("resolve story path: %w", err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return nil, fmt.Errorf("resolve story path: %w", err)
	}
	story, err := storyfile.Load(abs)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(abs)
	in := story.Input(dir)
	in.Credential = cfg.Backend.APIKey
	return &loadedStory{path: abs, dir: dir, story: story, input: in}, nil
}

func (s *loadedStory) files() []string {
	return s.story.Files(s.dir)
}

func buildOptions(cfg *config.Config) manifest.Options {
	return manifest.Options{
		Theme:                  cfg.Story.DefaultTheme,
		StylePrompt:            cfg.Story.DefaultStylePrompt,
		DefaultDurationSeconds: cfg.Story.DefaultDurationSeconds,
	}
}

// dryRunUploader answers uploads with the derived storage path so a manifest
// can be assembled without contacting the backend.
type dryRunUploader struct{}

func (dryRunUploader) UploadAsset(_ context.Context, assetType assets.Type, slug string, file assets.File) (string, error) {
	return assets.DeriveAssetPath(assetType, slug, "", file.Name)
}
