package manifest

import "storybook/internal/assets"

// Themes accepted by the backend.
const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

// DefaultPageDurationSeconds applies when a page leaves its duration unset.
const DefaultPageDurationSeconds = 10

// Input is the raw, user-facing description of a story before normalization.
type Input struct {
	Credential       string
	Title            string
	TitleDescription string
	TitleImage       assets.File
	Theme            string
	StylePrompt      string
	Characters       []CharacterInput
	Locations        []LocationInput
	Pages            []PageInput
}

// CharacterInput is one character row. Rows missing a name or an image are
// ignored by the planner.
type CharacterInput struct {
	Name        string
	Description string
	Image       assets.File
}

// LocationInput is one location row with up to two reference images and an
// optional comma-separated tag list.
type LocationInput struct {
	Name   string
	Tags   string
	ImageA assets.File
	ImageB assets.File
}

// PageInput is one narrated page.
type PageInput struct {
	Narration       string
	Scene           string
	Motion          string
	Characters      []string
	Location        string
	DurationSeconds int
	Image           assets.File
}

// Manifest is the canonical story description saved to the backend. Field
// names follow the backend wire format.
type Manifest struct {
	APIKey                string            `json:"api_key"`
	Theme                 string            `json:"theme"`
	GlobalStylePrompt     string            `json:"global_style_prompt"`
	Title                 Title             `json:"title"`
	Assets                AssetSet          `json:"assets"`
	CharacterDescriptions map[string]string `json:"character_descriptions"`
	Pages                 []PageSpec        `json:"pages"`
}

// Title describes the cover page.
type Title struct {
	TitleText      string `json:"title_text"`
	RawDescription string `json:"raw_description"`
	BaseImage      string `json:"base_image,omitempty"`
}

// AssetSet groups uploaded reference images by type, keyed by slug.
type AssetSet struct {
	Characters map[string]CharacterAsset `json:"characters"`
	Locations  map[string]LocationAsset  `json:"locations"`
}

type CharacterAsset struct {
	Path string   `json:"path"`
	Tags []string `json:"tags"`
}

type LocationAsset struct {
	Refs []string `json:"refs"`
	Tags []string `json:"tags"`
}

// PageSpec is one page of the manifest.
type PageSpec struct {
	RawNarrationText  string   `json:"raw_narration_text"`
	RawDescription    string   `json:"raw_description"`
	MotionPrompt      string   `json:"motion_prompt"`
	IncludeCharacters []string `json:"include_characters"`
	Location          string   `json:"location,omitempty"`
	DurationSeconds   int      `json:"duration_seconds"`
	BaseImage         string   `json:"base_image,omitempty"`
}

// Redacted returns a copy safe to print or log.
func (m Manifest) Redacted() Manifest {
	if m.APIKey != "" {
		m.APIKey = "********"
	}
	return m
}
