package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"storybook/internal/config"
	"storybook/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckFileReadable(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "dad.png")
	if err := os.WriteFile(good, []byte("img"), 0o644); err != nil {
		t.Fatal(err)
	}
	empty := filepath.Join(dir, "empty.png")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		pass bool
	}{
		{name: "readable", path: good, pass: true},
		{name: "empty", path: empty},
		{name: "missing", path: filepath.Join(dir, "missing.png")},
		{name: "directory", path: dir},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CheckFileReadable("image", tt.path)
			if result.Passed != tt.pass {
				t.Fatalf("passed = %v, want %v (%s)", result.Passed, tt.pass, result.Detail)
			}
		})
	}
}

func TestCheckCredential(t *testing.T) {
	if CheckCredential("  ").Passed {
		t.Fatal("expected failure for blank key")
	}
	result := CheckCredential("secret-key")
	if !result.Passed {
		t.Fatalf("expected pass, got %s", result.Detail)
	}
	if strings.Contains(result.Detail, "secret-key") {
		t.Fatal("credential leaked into detail")
	}
}

func TestCheckBackend_Reachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	result := CheckBackend(context.Background(), srv.URL+"/api")
	if !result.Passed {
		t.Fatalf("expected pass for any HTTP answer, got: %s", result.Detail)
	}
}

func TestCheckBackend_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	result := CheckBackend(context.Background(), url)
	if result.Passed {
		t.Fatal("expected failure for closed server")
	}
	if !strings.HasPrefix(result.Detail, url) {
		t.Fatalf("detail = %q", result.Detail)
	}
}

func TestCheckBackend_MissingURL(t *testing.T) {
	if CheckBackend(context.Background(), "").Passed {
		t.Fatal("expected failure for missing URL")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil, nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_AllPassing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	image := filepath.Join(t.TempDir(), "dad.png")
	if err := os.WriteFile(image, []byte("img"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Backend.BaseURL = srv.URL
	cfg.Backend.APIKey = "test"
	cfg.Paths.LockDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()

	results := RunAll(context.Background(), &cfg, []string{image})
	// credential + backend + lock dir + log dir + one image
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.Passed {
			t.Errorf("check %q failed: %s", r.Name, r.Detail)
		}
	}
	if Failed(results) {
		t.Fatal("Failed reported true for passing results")
	}
}

func TestRunAll_MissingImageFails(t *testing.T) {
	cfg := config.Default()
	cfg.Backend.APIKey = "test"
	cfg.Backend.BaseURL = "http://127.0.0.1:1"
	cfg.Paths.LockDir = ""
	cfg.Paths.LogDir = ""

	results := RunAll(context.Background(), &cfg, []string{filepath.Join(t.TempDir(), "gone.png")})
	if !Failed(results) {
		t.Fatal("expected a failing result")
	}
	last := results[len(results)-1]
	if last.Name != "Image gone.png" || last.Passed {
		t.Fatalf("last result = %+v", last)
	}
}

func TestRunAll_MissingCredentialFailsOnlyThatCheck(t *testing.T) {
	fb := testsupport.NewFakeBackend(t)
	cfg := testsupport.NewConfig(t, testsupport.WithBackend(fb), testsupport.WithAPIKey(""))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	results := RunAll(context.Background(), cfg, nil)
	if !Failed(results) {
		t.Fatal("expected missing credential to fail preflight")
	}
	for _, r := range results {
		if r.Name == "API key" {
			if r.Passed || !strings.Contains(r.Detail, "missing") {
				t.Fatalf("credential result = %+v", r)
			}
			continue
		}
		if !r.Passed {
			t.Errorf("check %q failed: %s", r.Name, r.Detail)
		}
	}
}
