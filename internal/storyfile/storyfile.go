package storyfile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"storybook/internal/assets"
	"storybook/internal/manifest"
	"storybook/internal/services"
)

// Story is the on-disk shape of a story file.
type Story struct {
	Title       Title       `yaml:"title"`
	Theme       string      `yaml:"theme,omitempty"`
	StylePrompt string      `yaml:"style_prompt,omitempty"`
	Characters  []Character `yaml:"characters,omitempty"`
	Locations   []Location  `yaml:"locations,omitempty"`
	Pages       []Page      `yaml:"pages"`
}

// Title describes the cover page.
type Title struct {
	Text        string `yaml:"text"`
	Description string `yaml:"description,omitempty"`
	Image       string `yaml:"image,omitempty"`
}

// Character is one named character with a reference image.
type Character struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Image       string `yaml:"image"`
}

// Location is one named place. Images holds up to two reference images.
type Location struct {
	Name   string   `yaml:"name"`
	Tags   []string `yaml:"tags,omitempty"`
	Images []string `yaml:"images,omitempty"`
}

// Page is one narrated page.
type Page struct {
	Narration  string   `yaml:"narration"`
	Scene      string   `yaml:"scene,omitempty"`
	Motion     string   `yaml:"motion,omitempty"`
	Characters []string `yaml:"characters,omitempty"`
	Location   string   `yaml:"location,omitempty"`
	Duration   int      `yaml:"duration,omitempty"`
	Image      string   `yaml:"image,omitempty"`
}

// Parse decodes a story from YAML. Unknown keys are rejected so typos do not
// silently drop content.
func Parse(data []byte) (Story, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Story{}, services.Wrap(services.ErrValidation, "storyfile", "parse", "story is empty", nil)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var story Story
	if err := dec.Decode(&story); err != nil {
		return Story{}, services.Wrap(services.ErrValidation, "storyfile", "decode", "invalid story yaml", err)
	}
	for i, loc := range story.Locations {
		if len(loc.Images) > 2 {
			return Story{}, services.Wrap(services.ErrValidation, "storyfile", "decode",
				fmt.Sprintf("location %q lists %d images; at most 2 are allowed", loc.Name, len(loc.Images)), nil)
		}
		story.Locations[i].Tags = trimAll(loc.Tags)
	}
	return story, nil
}

// Load reads and parses the story at path.
func Load(path string) (Story, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Story{}, fmt.Errorf("read story %s: %w", path, err)
	}
	story, err := Parse(data)
	if err != nil {
		return Story{}, fmt.Errorf("story %s: %w", path, err)
	}
	return story, nil
}

// LoadInput reads the story at path and converts it to builder input with
// image paths resolved against the story's directory.
func LoadInput(path string) (manifest.Input, error) {
	story, err := Load(path)
	if err != nil {
		return manifest.Input{}, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return manifest.Input{}, fmt.Errorf("resolve story path: %w", err)
	}
	return story.Input(filepath.Dir(abs)), nil
}

// Input converts the story into builder input. Relative image paths are
// joined to baseDir; the credential is left empty.
func (s Story) Input(baseDir string) manifest.Input {
	in := manifest.Input{
		Title:            s.Title.Text,
		TitleDescription: s.Title.Description,
		TitleImage:       fileAt(baseDir, s.Title.Image),
		Theme:            s.Theme,
		StylePrompt:      s.StylePrompt,
	}
	for _, c := range s.Characters {
		in.Characters = append(in.Characters, manifest.CharacterInput{
			Name:        c.Name,
			Description: c.Description,
			Image:       fileAt(baseDir, c.Image),
		})
	}
	for _, l := range s.Locations {
		row := manifest.LocationInput{Name: l.Name, Tags: strings.Join(l.Tags, ",")}
		if len(l.Images) > 0 {
			row.ImageA = fileAt(baseDir, l.Images[0])
		}
		if len(l.Images) > 1 {
			row.ImageB = fileAt(baseDir, l.Images[1])
		}
		in.Locations = append(in.Locations, row)
	}
	for _, p := range s.Pages {
		in.Pages = append(in.Pages, manifest.PageInput{
			Narration:       p.Narration,
			Scene:           p.Scene,
			Motion:          p.Motion,
			Characters:      p.Characters,
			Location:        p.Location,
			DurationSeconds: p.Duration,
			Image:           fileAt(baseDir, p.Image),
		})
	}
	return in
}

// Files lists every image path the story references, resolved against
// baseDir, in upload order.
func (s Story) Files(baseDir string) []string {
	var files []string
	add := func(p string) {
		if strings.TrimSpace(p) != "" {
			files = append(files, resolve(baseDir, p))
		}
	}
	for _, c := range s.Characters {
		add(c.Image)
	}
	for _, l := range s.Locations {
		for _, img := range l.Images {
			add(img)
		}
	}
	add(s.Title.Image)
	for _, p := range s.Pages {
		add(p.Image)
	}
	return files
}

func fileAt(baseDir, p string) assets.File {
	if strings.TrimSpace(p) == "" {
		return assets.File{}
	}
	return assets.FileFromPath(resolve(baseDir, p))
}

func resolve(baseDir, p string) string {
	p = strings.TrimSpace(p)
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	if filepath.IsAbs(p) || baseDir == "" {
		return filepath.Clean(p)
	}
	return filepath.Join(baseDir, p)
}

func trimAll(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
