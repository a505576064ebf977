// Package assets normalizes user-supplied asset names into slugs and derives
// the backend storage path for each uploaded reference image.
//
// Slugs are lower-cased with Unicode-aware case folding and have every run of
// whitespace collapsed to a single underscore. Storage paths depend only on
// the asset type, slug, optional variant, and the source file extension, so
// they are known before the upload happens.
package assets
