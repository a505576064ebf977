package regen

import (
	"fmt"
	"strconv"
	"strings"

	"storybook/internal/services"
)

// TitleKey is the page key of the cover image, backend page index 0.
const TitleKey = "title"

const pageKeyPrefix = "page_"

// ErrInvalidPageKey reports a key that is neither "title" nor "page_<n>".
var ErrInvalidPageKey = fmt.Errorf("%w: invalid page key", services.ErrValidation)

// PageKey returns the key for a backend page index.
func PageKey(index int) string {
	if index <= 0 {
		return TitleKey
	}
	return pageKeyPrefix + strconv.Itoa(index)
}

// ParsePageKey returns the backend page index for key.
func ParsePageKey(key string) (int, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == TitleKey {
		return 0, nil
	}
	raw, ok := strings.CutPrefix(key, pageKeyPrefix)
	if !ok {
		return 0, fmt.Errorf("%w %q", ErrInvalidPageKey, key)
	}
	index, err := strconv.Atoi(raw)
	if err != nil || index < 1 {
		return 0, fmt.Errorf("%w %q", ErrInvalidPageKey, key)
	}
	return index, nil
}
