package orchestrator

import (
	"storybook/internal/backend"
	"storybook/internal/jobs"
	"storybook/internal/regen"
)

// Tile is one page image shown during review. Image is the server-relative
// reference with the freshness version appended once the page has been
// regenerated.
type Tile struct {
	Key     string
	Index   int
	Image   string
	Version int64
	Regen   *regen.Entry
}

// State is an immutable snapshot of the session.
type State struct {
	Phase        Phase
	ProjectID    string
	Submitting   bool
	Error        string
	Generation   *jobs.Snapshot
	Finalize     *jobs.Snapshot
	Outputs      *backend.Outputs
	FinalOutputs *backend.Outputs
	Tiles        []Tile
	CanFinalize  bool
	// Seq increases with every state change.
	Seq          uint64
}

// Tile returns the tile for key.
func (s State) Tile(key string) (Tile, bool) {
	for _, tile := range s.Tiles {
		if tile.Key == key {
			return tile, true
		}
	}
	return Tile{}, false
}

// AnyRegenerating reports whether any tile has a running regeneration.
func (s State) AnyRegenerating() bool {
	for _, tile := range s.Tiles {
		if tile.Regen != nil && tile.Regen.Running() {
			return true
		}
	}
	return false
}

// tilesFor lists the review tiles for outputs: the title image first when
// present, then one tile per page image.
func tilesFor(out *backend.Outputs) []Tile {
	if out == nil {
		return nil
	}
	tiles := make([]Tile, 0, len(out.Images)+1)
	if out.Title != "" {
		tiles = append(tiles, Tile{Key: regen.TitleKey, Index: 0, Image: out.Title})
	}
	for i, image := range out.Images {
		tiles = append(tiles, Tile{Key: regen.PageKey(i + 1), Index: i + 1, Image: image})
	}
	return tiles
}

func cloneOutputs(out *backend.Outputs) *backend.Outputs {
	if out == nil {
		return nil
	}
	copied := *out
	copied.Images = append([]string(nil), out.Images...)
	return &copied
}
