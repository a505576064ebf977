package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	data := make([]byte, size)
	for i := range data {
		data[i] = 0x42
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteStory writes a story file plus placeholder images for every relative
// path listed in images, all under dir. It returns the story file path.
func WriteStory(t testing.TB, dir, body string, images ...string) string {
	t.Helper()

	for _, rel := range images {
		WriteFile(t, filepath.Join(dir, rel), 64)
	}
	path := filepath.Join(dir, "story.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write story: %v", err)
	}
	return path
}
