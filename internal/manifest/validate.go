package manifest

import (
	"fmt"
	"strings"

	"storybook/internal/assets"
	"storybook/internal/services"
)

// Validation messages shown to the user.
const (
	MsgMissingCredential = "Please enter your API key."
	MsgMissingTitle      = "Please enter a book title."
	MsgMissingNarration  = "Every page needs page text."
)

// ValidationError describes the first problem found in an Input.
type ValidationError struct {
	Field   string
	Page    int
	Message string
}

func (e *ValidationError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("%s (page %d)", e.Message, e.Page)
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return services.ErrValidation
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate checks the input and returns the first violation. Credential, title
// and page narration are checked in that order before anything else.
func Validate(in Input) error {
	if strings.TrimSpace(in.Credential) == "" {
		return invalid("credential", MsgMissingCredential)
	}
	if strings.TrimSpace(in.Title) == "" {
		return invalid("title", MsgMissingTitle)
	}
	for i, page := range in.Pages {
		if strings.TrimSpace(page.Narration) == "" {
			return &ValidationError{Field: "pages", Page: i + 1, Message: MsgMissingNarration}
		}
	}
	if len(in.Pages) == 0 {
		return invalid("pages", "Add at least one page.")
	}
	switch theme := strings.ToLower(strings.TrimSpace(in.Theme)); theme {
	case "", ThemeLight, ThemeDark:
	default:
		return invalid("theme", "Theme must be %s or %s, got %q.", ThemeLight, ThemeDark, in.Theme)
	}

	characters, err := declaredSlugs("characters", characterNames(in.Characters))
	if err != nil {
		return err
	}
	locations, err := declaredSlugs("locations", locationNames(in.Locations))
	if err != nil {
		return err
	}
	for i, page := range in.Pages {
		if page.DurationSeconds < 0 {
			return &ValidationError{Field: "pages", Page: i + 1, Message: "Page duration cannot be negative."}
		}
		for _, name := range page.Characters {
			slug, err := assets.NormalizeSlug(name)
			if err != nil {
				continue
			}
			if _, ok := characters[slug]; !ok {
				return &ValidationError{Field: "pages", Page: i + 1, Message: fmt.Sprintf("Unknown character %q.", name)}
			}
		}
		if strings.TrimSpace(page.Location) == "" {
			continue
		}
		slug, _ := assets.NormalizeSlug(page.Location)
		if _, ok := locations[slug]; !ok {
			return &ValidationError{Field: "pages", Page: i + 1, Message: fmt.Sprintf("Unknown location %q.", page.Location)}
		}
	}
	return nil
}

// declaredSlugs normalizes the non-blank names and rejects duplicates.
func declaredSlugs(field string, names []string) (map[string]struct{}, error) {
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		slug, err := assets.NormalizeSlug(name)
		if err != nil {
			continue
		}
		if _, dup := seen[slug]; dup {
			return nil, invalid(field, "Duplicate name %q.", slug)
		}
		seen[slug] = struct{}{}
	}
	return seen, nil
}

func characterNames(rows []CharacterInput) []string {
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		names = append(names, row.Name)
	}
	return names
}

func locationNames(rows []LocationInput) []string {
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		names = append(names, row.Name)
	}
	return names
}
