package manifest

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"storybook/internal/assets"
	"storybook/internal/logging"
)

// Uploader stores one reference image for the current project.
type Uploader interface {
	UploadAsset(ctx context.Context, assetType assets.Type, slug string, file assets.File) (string, error)
}

// Options carries story defaults applied during Build.
type Options struct {
	Theme                  string
	StylePrompt            string
	DefaultDurationSeconds int
	Logger                 *slog.Logger
}

// Builder validates story input, uploads its reference images, and assembles
// the manifest.
type Builder struct {
	uploader Uploader
	opts     Options
	logger   *slog.Logger
}

// NewBuilder constructs a Builder that uploads through uploader.
func NewBuilder(uploader Uploader, opts Options) *Builder {
	if opts.DefaultDurationSeconds <= 0 {
		opts.DefaultDurationSeconds = DefaultPageDurationSeconds
	}
	if strings.TrimSpace(opts.Theme) == "" {
		opts.Theme = ThemeLight
	}
	return &Builder{
		uploader: uploader,
		opts:     opts,
		logger:   logging.NewComponentLogger(opts.Logger, "manifest"),
	}
}

// Build validates in, performs every planned upload sequentially, and returns
// the manifest plus the uploaded assets. No upload happens when validation
// fails, and any upload failure aborts the build.
func (b *Builder) Build(ctx context.Context, in Input) (Manifest, []assets.Asset, error) {
	if err := Validate(in); err != nil {
		return Manifest{}, nil, err
	}
	uploads, err := Plan(in)
	if err != nil {
		return Manifest{}, nil, err
	}

	logger := logging.WithContext(ctx, b.logger)
	logger.Info("uploading story assets", logging.Int("uploads", len(uploads)))
	for i, upload := range uploads {
		if err := ctx.Err(); err != nil {
			return Manifest{}, nil, err
		}
		stored, err := b.uploader.UploadAsset(ctx, upload.Type, upload.StorageSlug(), upload.File)
		if err != nil {
			return Manifest{}, nil, fmt.Errorf("upload %s %q: %w", upload.Type, upload.StorageSlug(), err)
		}
		// The manifest must reference the path the backend actually wrote.
		if stored = strings.TrimSpace(stored); stored != "" && stored != upload.Path {
			logging.WarnWithContext(logger, "stored asset path differs from planned path", "asset_path_mismatch",
				logging.String("planned", upload.Path),
				logging.String("stored", stored),
				logging.String(logging.FieldErrorHint, "manifest uses the stored path"),
			)
			uploads[i].Path = stored
			upload.Path = stored
		}
		logger.Debug("asset uploaded",
			logging.Int("position", i+1),
			logging.String("asset_type", string(upload.Type)),
			logging.String("slug", upload.StorageSlug()),
			logging.String("path", upload.Path),
		)
	}

	m, uploaded := b.assemble(in, uploads)
	return m, uploaded, nil
}

func (b *Builder) assemble(in Input, uploads []PlannedUpload) (Manifest, []assets.Asset) {
	m := Manifest{
		APIKey:            strings.TrimSpace(in.Credential),
		Theme:             b.theme(in.Theme),
		GlobalStylePrompt: strings.TrimSpace(in.StylePrompt),
		Title: Title{
			TitleText:      strings.TrimSpace(in.Title),
			RawDescription: strings.TrimSpace(in.TitleDescription),
		},
		Assets: AssetSet{
			Characters: make(map[string]CharacterAsset),
			Locations:  make(map[string]LocationAsset),
		},
		CharacterDescriptions: make(map[string]string),
		Pages:                 make([]PageSpec, 0, len(in.Pages)),
	}
	if m.GlobalStylePrompt == "" {
		m.GlobalStylePrompt = b.opts.StylePrompt
	}
	if m.Title.RawDescription == "" {
		m.Title.RawDescription = m.Title.TitleText + " — an adventure begins"
	}

	descriptions := make(map[string]string, len(in.Characters))
	for _, row := range in.Characters {
		if slug, err := assets.NormalizeSlug(row.Name); err == nil {
			descriptions[slug] = strings.TrimSpace(row.Description)
		}
	}
	locationTags := make(map[string][]string, len(in.Locations))
	for _, row := range in.Locations {
		if slug, err := assets.NormalizeSlug(row.Name); err == nil {
			locationTags[slug] = assets.SplitTags(row.Tags)
		}
	}

	var characterOrder []string
	pageImages := make(map[int]string)
	uploaded := make([]assets.Asset, 0, len(uploads))
	for _, upload := range uploads {
		switch upload.Role {
		case RoleCharacter:
			tags := []string{upload.Slug}
			m.Assets.Characters[upload.Slug] = CharacterAsset{Path: upload.Path, Tags: tags}
			characterOrder = append(characterOrder, upload.Slug)
			if desc := descriptions[upload.Slug]; desc != "" {
				m.CharacterDescriptions[upload.Slug] = desc
			}
			uploaded = append(uploaded, assets.Asset{Type: upload.Type, Slug: upload.Slug, StoragePath: upload.Path, Tags: tags})
		case RoleLocation:
			loc, ok := m.Assets.Locations[upload.Slug]
			if !ok {
				loc.Tags = locationTags[upload.Slug]
				if len(loc.Tags) == 0 {
					loc.Tags = []string{upload.Slug}
				}
			}
			loc.Refs = append(loc.Refs, upload.Path)
			m.Assets.Locations[upload.Slug] = loc
			uploaded = append(uploaded, assets.Asset{Type: upload.Type, Slug: upload.StorageSlug(), StoragePath: upload.Path, Tags: loc.Tags})
		case RoleTitle:
			m.Title.BaseImage = upload.Path
			uploaded = append(uploaded, assets.Asset{Type: upload.Type, Slug: upload.Slug, StoragePath: upload.Path})
		case RolePage:
			pageImages[upload.Page] = upload.Path
			uploaded = append(uploaded, assets.Asset{Type: upload.Type, Slug: upload.Slug, StoragePath: upload.Path})
		}
	}

	for i, page := range in.Pages {
		out := PageSpec{
			RawNarrationText: page.Narration,
			RawDescription:   page.Scene,
			MotionPrompt:     page.Motion,
			DurationSeconds:  page.DurationSeconds,
			BaseImage:        pageImages[i+1],
		}
		if out.DurationSeconds <= 0 {
			out.DurationSeconds = b.opts.DefaultDurationSeconds
		}
		if slug, err := assets.NormalizeSlug(page.Location); err == nil {
			out.Location = slug
		}
		for _, name := range page.Characters {
			if slug, err := assets.NormalizeSlug(name); err == nil && !slices.Contains(out.IncludeCharacters, slug) {
				out.IncludeCharacters = append(out.IncludeCharacters, slug)
			}
		}
		if len(out.IncludeCharacters) == 0 {
			out.IncludeCharacters = slices.Clone(characterOrder)
		}
		if out.IncludeCharacters == nil {
			out.IncludeCharacters = []string{}
		}
		m.Pages = append(m.Pages, out)
	}
	return m, uploaded
}

func (b *Builder) theme(value string) string {
	if theme := strings.ToLower(strings.TrimSpace(value)); theme != "" {
		return theme
	}
	return b.opts.Theme
}
