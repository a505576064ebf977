package assets

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"storybook/internal/services"
)

// Type identifies the kind of reference asset stored by the backend.
type Type string

const (
	TypeCharacter Type = "character"
	TypeLocation  Type = "location"
)

// DefaultExtension is used when the source file name carries no extension.
const DefaultExtension = ".png"

// ErrInvalidSlug reports a blank or unusable asset name.
var ErrInvalidSlug = fmt.Errorf("%w: invalid slug", services.ErrValidation)

var whitespaceRun = regexp.MustCompile(`\s+`)

var lowerCaser = cases.Lower(language.Und)

// ParseType converts a user-facing type name into a Type.
func ParseType(raw string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(raw))) {
	case TypeCharacter:
		return TypeCharacter, nil
	case TypeLocation:
		return TypeLocation, nil
	default:
		return "", fmt.Errorf("%w: unknown asset type %q", services.ErrValidation, raw)
	}
}

// Dir returns the storage directory for the type, e.g. "characters".
func (t Type) Dir() string {
	return string(t) + "s"
}

// Asset describes an uploaded reference image as recorded in the manifest.
type Asset struct {
	Type        Type
	Slug        string
	StoragePath string
	Tags        []string
}

// File is a named upload source that can be opened more than once.
type File struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// FileFromPath returns a File that reads from disk on each Open.
func FileFromPath(p string) File {
	return File{
		Name: filepath.Base(p),
		Open: func() (io.ReadCloser, error) { return os.Open(p) },
	}
}

// FileFromBytes returns an in-memory File.
func FileFromBytes(name string, data []byte) File {
	return File{
		Name: name,
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}

// IsZero reports whether no file was supplied.
func (f File) IsZero() bool {
	return f.Open == nil
}

// NormalizeSlug trims, lower-cases, and replaces whitespace runs with "_".
// Applying it to its own output returns the same value.
func NormalizeSlug(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrInvalidSlug
	}
	return whitespaceRun.ReplaceAllString(lowerCaser.String(trimmed), "_"), nil
}

// Extension returns the extension of name as written, or DefaultExtension.
// Case is kept because the backend stores the file under the same suffix.
func Extension(name string) string {
	ext := path.Ext(filepath.Base(strings.TrimSpace(name)))
	if ext == "" || ext == "." {
		return DefaultExtension
	}
	return ext
}

// DeriveAssetPath returns "assets/<type>s/<slug>[_<variant>]<ext>". The slug
// is expected to be normalized already; variant may be empty.
func DeriveAssetPath(t Type, slug, variant, sourceFilename string) (string, error) {
	if _, err := ParseType(string(t)); err != nil {
		return "", err
	}
	if strings.TrimSpace(slug) == "" {
		return "", ErrInvalidSlug
	}
	return path.Join("assets", t.Dir(), StorageSlug(slug, variant)+Extension(sourceFilename)), nil
}

// StorageSlug is the slug sent to the backend for an upload, including the
// variant suffix when present.
func StorageSlug(slug, variant string) string {
	if variant = strings.TrimSpace(variant); variant != "" {
		return slug + "_" + variant
	}
	return slug
}

// SplitTags parses a comma-separated tag list, dropping blank entries.
func SplitTags(raw string) []string {
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		if tag := strings.TrimSpace(part); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
