package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"storybook/internal/backend"
	"storybook/internal/config"
	"storybook/internal/jobs"
	"storybook/internal/manifest"
	"storybook/internal/runlock"
	"storybook/internal/testsupport"
)

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, env.backend.BaseURL())

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected error when config already exists")
	}
}

func TestConfigInitFillsAndCarriesBackend(t *testing.T) {
	setupCLITestEnv(t)
	target := filepath.Join(t.TempDir(), "config.toml")

	out, _, err := runCLI(t, []string{"config", "init", "--path", target,
		"--base-url", "http://books.local:9000/api", "--api-key", "xai-123"}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "http://books.local:9000/api")
	requireContains(t, out, "configured (7 chars)")
	requireContains(t, out, "generation_interval")
	if strings.Contains(out, "xai-123") {
		t.Fatal("init echoed the API key")
	}

	out, _, err = runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, "")
	if err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
	requireContains(t, out, "http://books.local:9000/api")
	section, err := config.ReadBackendSection(target)
	if err != nil {
		t.Fatalf("read backend: %v", err)
	}
	if section.BaseURL != "http://books.local:9000/api" || section.APIKey != "xai-123" {
		t.Fatalf("overwrite lost backend values: %+v", section)
	}
}

func TestValidatePrintsPlan(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"validate", env.storyPath}, env.configPath)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	requireContains(t, out, "Story: Camping (light theme)")
	requireContains(t, out, "assets/characters/dad.png")
	requireContains(t, out, "We packed our tools")
	requireContains(t, out, "Story valid")
	if len(env.backend.Uploads()) != 0 || env.backend.Calls(testsupport.RouteNewProject) != 0 {
		t.Fatal("validate contacted the backend")
	}
}

func TestValidateRejectsBlankNarration(t *testing.T) {
	env := setupCLITestEnv(t)
	story := testsupport.WriteStory(t, t.TempDir(), "title: {text: Camping}\npages:\n  - narration: \"  \"\n")

	_, _, err := runCLI(t, []string{"validate", story}, env.configPath)
	if err == nil {
		t.Fatal("expected validation error")
	}
	requireContains(t, err.Error(), manifest.MsgMissingNarration+" (page 1)")
}

func TestCheckReportsMissingImage(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"check", env.storyPath}, env.configPath)
	if err != nil {
		t.Fatalf("check: %v\n%s", err, out)
	}
	requireContains(t, out, "All checks passed")

	if err := os.Remove(filepath.Join(filepath.Dir(env.storyPath), "art", "dad.png")); err != nil {
		t.Fatal(err)
	}
	out, _, err = runCLI(t, []string{"check", env.storyPath}, env.configPath)
	if err == nil {
		t.Fatal("expected failure for missing image")
	}
	requireContains(t, out, "Image dad.png")
	requireContains(t, out, "FAIL")
}

func TestRunDrivesStoryToDone(t *testing.T) {
	env := setupCLITestEnv(t)
	fb := env.backend
	fb.SetOutputs(backend.Outputs{Images: []string{"/files/p1.png"}, PDF: "/files/book.pdf", Video: "/files/book.mp4"})
	fb.Script(jobs.KindGenerate,
		jobs.Report{Status: "running", Progress: 50, Log: []string{"drawing page 1"}},
		jobs.Report{Status: "review", Progress: 100, Log: []string{"drawing page 1", "pages ready"}},
	)

	out, _, err := runCLI(t, []string{"run", env.storyPath, "--regen", "page_1=darker sky"}, env.configPath)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	requireContains(t, out, "Project ")
	requireContains(t, out, "drawing page 1")
	requireContains(t, out, "pages ready")
	requireContains(t, out, "Regenerating Page 1")
	requireContains(t, out, "v=1")
	requireContains(t, out, "/files/book.pdf")
	requireContains(t, out, "/files/book.mp4")

	regens := fb.RegenRequests()
	if len(regens) != 1 || regens[0].PageIndex != 1 || regens[0].Instruction != "darker sky" {
		t.Fatalf("regen requests = %+v", regens)
	}
	if got := len(fb.JobIDs(jobs.KindFinalize)); got != 1 {
		t.Fatalf("finalize jobs = %d", got)
	}
	uploads := fb.Uploads()
	if len(uploads) != 1 || uploads[0].Slug != "dad" {
		t.Fatalf("uploads = %+v", uploads)
	}
	pids := map[string]bool{}
	for _, up := range uploads {
		pids[up.ProjectID] = true
	}
	for pid := range pids {
		m, ok := fb.Manifest(pid)
		if !ok || m.APIKey != "test-key" {
			t.Fatalf("manifest for %s = %+v", pid, m)
		}
	}
}

func TestRunStopsBeforeFinalize(t *testing.T) {
	env := setupCLITestEnv(t)
	env.backend.SetOutputs(backend.Outputs{Images: []string{"p1.png"}})

	out, _, err := runCLI(t, []string{"run", env.storyPath, "--no-finalize"}, env.configPath)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	requireContains(t, out, "Skipping finalize")
	if env.backend.Calls(testsupport.RouteFinalize) != 0 {
		t.Fatal("finalize requested with --no-finalize")
	}
}

func TestRunReportsGenerationError(t *testing.T) {
	env := setupCLITestEnv(t)
	env.backend.Script(jobs.KindGenerate,
		jobs.Report{Status: "error", Progress: 0, Log: []string{"FATAL: model unavailable"}},
	)

	out, _, err := runCLI(t, []string{"run", env.storyPath}, env.configPath)
	if err == nil {
		t.Fatal("expected run to fail")
	}
	requireContains(t, err.Error(), "FATAL: model unavailable")
	requireContains(t, out, "FATAL: model unavailable")
}

func TestRunRefusesLockedStory(t *testing.T) {
	env := setupCLITestEnv(t)
	lock, err := runlock.Acquire(env.cfg.Paths.LockDir, env.storyPath)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lock.Release()

	_, _, err = runCLI(t, []string{"run", env.storyPath}, env.configPath)
	if !errors.Is(err, runlock.ErrHeld) {
		t.Fatalf("err = %v, want ErrHeld", err)
	}
	if env.backend.Calls(testsupport.RouteNewProject) != 0 {
		t.Fatal("project created while story was locked")
	}
}

func TestRunFailsPreflightForMissingImage(t *testing.T) {
	env := setupCLITestEnv(t)
	if err := os.Remove(filepath.Join(filepath.Dir(env.storyPath), "art", "dad.png")); err != nil {
		t.Fatal(err)
	}
	out, _, err := runCLI(t, []string{"run", env.storyPath}, env.configPath)
	if err == nil {
		t.Fatal("expected preflight failure")
	}
	requireContains(t, out, "Image dad.png")
	if env.backend.Calls(testsupport.RouteNewProject) != 0 {
		t.Fatal("project created despite failed preflight")
	}
}

func TestJobCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	env.backend.Script(jobs.KindGenerate,
		jobs.Report{Status: "running", Progress: 30, Log: []string{"sketching"}},
		jobs.Report{Status: "review", Progress: 100, Log: []string{"sketching", "done drawing"}},
	)

	ctx := context.Background()
	client := env.backend.Client()
	pid, err := client.CreateProject(ctx)
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	project := client.Project(pid)
	if err := project.SaveManifest(ctx, manifest.Manifest{Title: manifest.Title{TitleText: "Camping"}}); err != nil {
		t.Fatalf("SaveManifest: %v", err)
	}
	jobID, err := project.GenerateImages(ctx)
	if err != nil {
		t.Fatalf("GenerateImages: %v", err)
	}

	out, _, err := runCLI(t, []string{"job", jobID}, env.configPath)
	if err != nil {
		t.Fatalf("job: %v", err)
	}
	requireContains(t, out, "running (30%)")

	out, _, err = runCLI(t, []string{"job", jobID, "--follow"}, env.configPath)
	if err != nil {
		t.Fatalf("job --follow: %v", err)
	}
	requireContains(t, out, "done drawing")
	requireContains(t, out, "review (100%)")

	if _, _, err := runCLI(t, []string{"job", jobID, "--kind", "bogus"}, env.configPath); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestParseRegenFlags(t *testing.T) {
	got, err := parseRegenFlags([]string{"page_1=darker sky", " title ", "page_2=a=b"})
	if err != nil {
		t.Fatalf("parseRegenFlags: %v", err)
	}
	want := []regenRequest{{key: "page_1", instruction: "darker sky"}, {key: "title"}, {key: "page_2", instruction: "a=b"}}
	if len(got) != len(want) {
		t.Fatalf("got %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
	if _, err := parseRegenFlags([]string{"=oops"}); err == nil {
		t.Fatal("expected error for missing page")
	}
}

func TestPageLabelAndFatalHighlight(t *testing.T) {
	if got := pageLabel("page_3"); got != "Page 3" {
		t.Fatalf("pageLabel = %q", got)
	}
	if got := pageLabel("title"); got != "Title" {
		t.Fatalf("pageLabel = %q", got)
	}
	if got := pageLabel("cover"); got != "cover" {
		t.Fatalf("pageLabel = %q", got)
	}
	if got := formatLogLine("FATAL: boom", false); got != "FATAL: boom" {
		t.Fatalf("uncolored = %q", got)
	}
	if got := formatLogLine("FATAL: boom", true); !strings.HasPrefix(got, ansiBold+ansiRed) {
		t.Fatalf("colored = %q", got)
	}
	if got := formatLogLine("fine", true); got != "fine" {
		t.Fatalf("non-fatal colored = %q", got)
	}
}
