package manifest

import (
	"fmt"
	"strings"

	"storybook/internal/assets"
)

// Upload roles, used to route a completed upload into the manifest.
const (
	RoleCharacter = "character"
	RoleLocation  = "location"
	RoleTitle     = "title"
	RolePage      = "page"
)

// Reserved location slugs for the cover and per-page reference images.
const (
	titleRefSlug      = "title_ref"
	pageRefSlugPrefix = "page_ref_"
)

// PlannedUpload is one reference image the builder will send to the backend.
type PlannedUpload struct {
	Role    string
	Type    assets.Type
	Slug    string // normalized slug without the variant suffix
	Variant string
	Page    int // 1-based page position for RolePage
	Path    string
	File    assets.File
}

// StorageSlug is the slug sent to the backend.
func (p PlannedUpload) StorageSlug() string {
	return assets.StorageSlug(p.Slug, p.Variant)
}

// Plan lists the uploads for in, in the order characters, locations (variant
// a then b), title reference, page references. It does not validate in.
func Plan(in Input) ([]PlannedUpload, error) {
	var uploads []PlannedUpload
	add := func(role string, t assets.Type, slug, variant string, page int, file assets.File) error {
		path, err := assets.DeriveAssetPath(t, slug, variant, file.Name)
		if err != nil {
			return fmt.Errorf("plan %s upload %q: %w", role, slug, err)
		}
		uploads = append(uploads, PlannedUpload{
			Role:    role,
			Type:    t,
			Slug:    slug,
			Variant: variant,
			Page:    page,
			Path:    path,
			File:    file,
		})
		return nil
	}

	for _, row := range in.Characters {
		if strings.TrimSpace(row.Name) == "" || row.Image.IsZero() {
			continue
		}
		slug, err := assets.NormalizeSlug(row.Name)
		if err != nil {
			return nil, err
		}
		if err := add(RoleCharacter, assets.TypeCharacter, slug, "", 0, row.Image); err != nil {
			return nil, err
		}
	}

	for _, row := range in.Locations {
		if strings.TrimSpace(row.Name) == "" || (row.ImageA.IsZero() && row.ImageB.IsZero()) {
			continue
		}
		slug, err := assets.NormalizeSlug(row.Name)
		if err != nil {
			return nil, err
		}
		if !row.ImageA.IsZero() {
			if err := add(RoleLocation, assets.TypeLocation, slug, "a", 0, row.ImageA); err != nil {
				return nil, err
			}
		}
		if !row.ImageB.IsZero() {
			if err := add(RoleLocation, assets.TypeLocation, slug, "b", 0, row.ImageB); err != nil {
				return nil, err
			}
		}
	}

	if !in.TitleImage.IsZero() {
		if err := add(RoleTitle, assets.TypeLocation, titleRefSlug, "", 0, in.TitleImage); err != nil {
			return nil, err
		}
	}

	for i, page := range in.Pages {
		if page.Image.IsZero() {
			continue
		}
		slug := fmt.Sprintf("%s%d", pageRefSlugPrefix, i+1)
		if err := add(RolePage, assets.TypeLocation, slug, "", i+1, page.Image); err != nil {
			return nil, err
		}
	}
	return uploads, nil
}
