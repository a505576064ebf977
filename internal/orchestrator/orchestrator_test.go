package orchestrator_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"storybook/internal/assets"
	"storybook/internal/backend"
	"storybook/internal/jobs"
	"storybook/internal/manifest"
	"storybook/internal/orchestrator"
	"storybook/internal/testsupport"
)

const tick = 5 * time.Millisecond

func newSession(t *testing.T, fb *testsupport.FakeBackend) *orchestrator.Orchestrator {
	t.Helper()
	o, err := orchestrator.New(context.Background(), fb.Client(), orchestrator.Options{
		GenerationInterval: tick,
		RegenInterval:      tick,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(o.Close)
	return o
}

func campingStory() manifest.Input {
	return manifest.Input{
		Credential: "test-key",
		Title:      "Camping",
		Characters: []manifest.CharacterInput{
			{Name: "dad", Image: assets.FileFromBytes("dad.png", []byte("img"))},
		},
		Pages: []manifest.PageInput{{Narration: "We packed our tools"}},
	}
}

func waitFor(t *testing.T, o *orchestrator.Orchestrator, what string, pred func(orchestrator.State) bool) orchestrator.State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := o.Wait(ctx, pred)
	if err != nil {
		t.Fatalf("waiting for %s: %v (phase=%s error=%q)", what, err, st.Phase, st.Error)
	}
	return st
}

func inPhase(phase orchestrator.Phase) func(orchestrator.State) bool {
	return func(st orchestrator.State) bool { return st.Phase == phase }
}

// startReview drives a fresh session to review with a single page image.
func startReview(t *testing.T, fb *testsupport.FakeBackend) *orchestrator.Orchestrator {
	t.Helper()
	fb.SetOutputs(backend.Outputs{Images: []string{"p1.png"}})
	o := newSession(t, fb)
	if err := o.Submit(context.Background(), campingStory()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, o, "review", inPhase(orchestrator.PhaseReview))
	return o
}

func TestSubmitReachesReview(t *testing.T) {
	fb := testsupport.NewFakeBackend(t)
	fb.Script(jobs.KindGenerate,
		jobs.Report{Status: "running", Progress: 40},
		jobs.Report{Status: "review", Progress: 100},
	)
	fb.SetOutputs(backend.Outputs{Images: []string{"p1.png"}})
	o := newSession(t, fb)

	if st := o.State(); st.Phase != orchestrator.PhaseForm || st.ProjectID == "" {
		t.Fatalf("initial state = %+v", st)
	}
	if err := o.Submit(context.Background(), campingStory()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	st := waitFor(t, o, "review", inPhase(orchestrator.PhaseReview))

	if len(st.Tiles) != 1 {
		t.Fatalf("tiles = %+v, want one", st.Tiles)
	}
	if tile := st.Tiles[0]; tile.Key != "page_1" || tile.Index != 1 || tile.Image != "p1.png" || tile.Regen != nil {
		t.Fatalf("tile = %+v", tile)
	}
	if st.Submitting || st.Error != "" {
		t.Fatalf("submitting=%v error=%q after review", st.Submitting, st.Error)
	}
	if st.Generation == nil || st.Generation.Status != jobs.StatusReview || st.Generation.Progress != 100 {
		t.Fatalf("generation = %+v", st.Generation)
	}
	if !st.CanFinalize {
		t.Fatal("expected finalize to be allowed in review")
	}

	uploads := fb.Uploads()
	if len(uploads) != 1 || uploads[0].AssetType != "character" || uploads[0].Slug != "dad" {
		t.Fatalf("uploads = %+v", uploads)
	}
	saved, ok := fb.Manifest(o.ProjectID())
	if !ok {
		t.Fatal("manifest was not saved")
	}
	if len(saved.Pages) != 1 || saved.Pages[0].RawNarrationText != "We packed our tools" {
		t.Fatalf("saved pages = %+v", saved.Pages)
	}
	if got := saved.Pages[0].IncludeCharacters; len(got) != 1 || got[0] != "dad" {
		t.Fatalf("include_characters = %v", got)
	}
	if local, ok := o.Manifest(); !ok || local.Title.TitleText != "Camping" {
		t.Fatalf("local manifest = %+v, %v", local, ok)
	}

	if err := o.Submit(context.Background(), campingStory()); !errors.Is(err, orchestrator.ErrWrongPhase) {
		t.Fatalf("second Submit err = %v, want ErrWrongPhase", err)
	}
}

func TestTitleTilePrecedesPages(t *testing.T) {
	fb := testsupport.NewFakeBackend(t)
	fb.SetOutputs(backend.Outputs{Title: "title.png", Images: []string{"p1.png", "p2.png"}})
	o := newSession(t, fb)
	if err := o.Submit(context.Background(), campingStory()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	st := waitFor(t, o, "review", inPhase(orchestrator.PhaseReview))

	var keys []string
	for _, tile := range st.Tiles {
		keys = append(keys, tile.Key)
	}
	if strings.Join(keys, ",") != "title,page_1,page_2" {
		t.Fatalf("tile keys = %v", keys)
	}
}

func TestGenerationErrorReturnsToForm(t *testing.T) {
	fb := testsupport.NewFakeBackend(t)
	fb.Script(jobs.KindGenerate,
		jobs.Report{Status: "running", Progress: 10, Log: []string{"drawing page 1"}},
		jobs.Report{Status: "error", Progress: 10, Log: []string{"drawing page 1", "FATAL: model unavailable"}},
	)
	o := newSession(t, fb)
	if err := o.Submit(context.Background(), campingStory()); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	st := waitFor(t, o, "generation error", func(st orchestrator.State) bool {
		return st.Phase == orchestrator.PhaseForm && st.Error != ""
	})
	if st.Error != "FATAL: model unavailable" {
		t.Fatalf("error = %q", st.Error)
	}
	if st.Submitting {
		t.Fatal("submitting flag not cleared")
	}
	if fb.Calls(testsupport.RouteOutputs) != 0 {
		t.Fatal("outputs fetched for a failed generation")
	}

	// A failed generation allows a fresh submission.
	if err := o.Submit(context.Background(), campingStory()); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	waitFor(t, o, "review", inPhase(orchestrator.PhaseReview))
}

func TestGenerationPollFaultReturnsToForm(t *testing.T) {
	fb := testsupport.NewFakeBackend(t)
	fb.Fail(testsupport.RoutePoll, http.StatusNotFound)
	o := newSession(t, fb)
	if err := o.Submit(context.Background(), campingStory()); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	st := waitFor(t, o, "poll fault", func(st orchestrator.State) bool {
		return st.Phase == orchestrator.PhaseForm && st.Error != ""
	})
	if !strings.HasPrefix(st.Error, "Image generation failed:") {
		t.Fatalf("error = %q", st.Error)
	}
	if got := fb.Calls(testsupport.RoutePoll); got != 1 {
		t.Fatalf("polls = %d, want 1 for a non-transient failure", got)
	}
}

func TestTransientPollFailuresAreSkipped(t *testing.T) {
	fb := testsupport.NewFakeBackend(t)
	fb.Fail(testsupport.RoutePoll, http.StatusBadGateway, http.StatusServiceUnavailable)
	fb.SetOutputs(backend.Outputs{Images: []string{"p1.png"}})
	o := newSession(t, fb)
	if err := o.Submit(context.Background(), campingStory()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	st := waitFor(t, o, "review", inPhase(orchestrator.PhaseReview))
	if st.Error != "" {
		t.Fatalf("error = %q", st.Error)
	}
	if got := fb.Calls(testsupport.RoutePoll); got != 3 {
		t.Fatalf("polls = %d, want 3", got)
	}
}

func TestSubmitFailureStaysInForm(t *testing.T) {
	fb := testsupport.NewFakeBackend(t)
	fb.Fail(testsupport.RouteManifest, http.StatusInternalServerError)
	o := newSession(t, fb)

	err := o.Submit(context.Background(), campingStory())
	if err == nil {
		t.Fatal("expected submit error")
	}
	st := o.State()
	if st.Phase != orchestrator.PhaseForm || st.Submitting {
		t.Fatalf("state = %+v", st)
	}
	if !strings.HasPrefix(st.Error, "Failed to start: ") {
		t.Fatalf("error = %q", st.Error)
	}
	if fb.Calls(testsupport.RouteGenerate) != 0 {
		t.Fatal("generation requested after manifest failure")
	}

	fb.SetOutputs(backend.Outputs{Images: []string{"p1.png"}})
	if err := o.Submit(context.Background(), campingStory()); err != nil {
		t.Fatalf("retry Submit: %v", err)
	}
	waitFor(t, o, "review", inPhase(orchestrator.PhaseReview))
}

func TestSubmitValidationSkipsNetwork(t *testing.T) {
	fb := testsupport.NewFakeBackend(t)
	o := newSession(t, fb)

	in := campingStory()
	in.Pages = append(in.Pages, manifest.PageInput{Narration: "   "})
	err := o.Submit(context.Background(), in)

	var verr *manifest.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if verr.Page != 2 {
		t.Fatalf("page = %d, want 2", verr.Page)
	}
	if st := o.State(); st.Error != manifest.MsgMissingNarration+" (page 2)" || st.Phase != orchestrator.PhaseForm {
		t.Fatalf("state = %+v", st)
	}
	if len(fb.Uploads()) != 0 || fb.Calls(testsupport.RouteManifest) != 0 {
		t.Fatal("network used for invalid input")
	}

	in = campingStory()
	in.Credential = " "
	_ = o.Submit(context.Background(), in)
	if st := o.State(); st.Error != manifest.MsgMissingCredential {
		t.Fatalf("error = %q", st.Error)
	}
}

func TestRegenerationBumpsImageVersion(t *testing.T) {
	fb := testsupport.NewFakeBackend(t)
	o := startReview(t, fb)
	fb.Script(jobs.KindRegen,
		jobs.Report{Status: "running", Progress: 0},
		jobs.Report{Status: "done", Progress: 100},
	)

	started, err := o.RequestRegeneration(context.Background(), "page_1", "darker sky")
	if err != nil || !started {
		t.Fatalf("RequestRegeneration = %v, %v", started, err)
	}
	st := waitFor(t, o, "regen done", func(st orchestrator.State) bool {
		tile, ok := st.Tile("page_1")
		return ok && tile.Regen != nil && tile.Regen.Job.Status == jobs.StatusDone
	})

	tile, _ := st.Tile("page_1")
	if tile.Version < 1 || tile.Image == "p1.png" || !strings.Contains(tile.Image, "v=") {
		t.Fatalf("tile after regen = %+v", tile)
	}
	reqs := fb.RegenRequests()
	if len(reqs) != 1 || reqs[0].PageIndex != 1 || reqs[0].Instruction != "darker sky" {
		t.Fatalf("regen requests = %+v", reqs)
	}

	polls := fb.Polls(reqs[0].JobID)
	time.Sleep(10 * tick)
	if got := fb.Polls(reqs[0].JobID); got != polls {
		t.Fatalf("finished regen polled again: %d -> %d", polls, got)
	}
	if st.Phase != orchestrator.PhaseReview {
		t.Fatalf("phase = %s", st.Phase)
	}
}

func TestRegenerationRejectsUnknownPageAndWrongPhase(t *testing.T) {
	fb := testsupport.NewFakeBackend(t)
	o := newSession(t, fb)

	if _, err := o.RequestRegeneration(context.Background(), "page_1", ""); !errors.Is(err, orchestrator.ErrWrongPhase) {
		t.Fatalf("err in form = %v", err)
	}

	fb.SetOutputs(backend.Outputs{Images: []string{"p1.png"}})
	if err := o.Submit(context.Background(), campingStory()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, o, "review", inPhase(orchestrator.PhaseReview))

	if _, err := o.RequestRegeneration(context.Background(), "page_5", ""); !errors.Is(err, orchestrator.ErrUnknownPage) {
		t.Fatalf("err for unknown page = %v", err)
	}
	if fb.Calls(testsupport.RouteRegen) != 0 {
		t.Fatal("regen-page called for an unknown page")
	}
}

func TestRegenerationAcceptsPageKeyVariants(t *testing.T) {
	fb := testsupport.NewFakeBackend(t)
	o := startReview(t, fb)
	fb.Script(jobs.KindRegen,
		jobs.Report{Status: "running", Progress: 0},
		jobs.Report{Status: "done", Progress: 100},
	)

	if _, err := o.RequestRegeneration(context.Background(), "cover", ""); !errors.Is(err, orchestrator.ErrUnknownPage) {
		t.Fatalf("err for malformed key = %v", err)
	}

	started, err := o.RequestRegeneration(context.Background(), " Page_1 ", "darker sky")
	if err != nil || !started {
		t.Fatalf("RequestRegeneration = %v, %v", started, err)
	}
	waitFor(t, o, "regen done", func(st orchestrator.State) bool {
		tile, ok := st.Tile("page_1")
		return ok && tile.Regen != nil && tile.Regen.Job.Status == jobs.StatusDone
	})
	if reqs := fb.RegenRequests(); len(reqs) != 1 || reqs[0].PageIndex != 1 {
		t.Fatalf("regen requests = %+v", reqs)
	}
}

func TestFinalizeRefusedWhileRegenerating(t *testing.T) {
	fb := testsupport.NewFakeBackend(t)
	o := startReview(t, fb)
	fb.SetOutputs(backend.Outputs{Images: []string{"p1.png"}, PDF: "book.pdf", Video: "book.mp4"})
	fb.Script(jobs.KindRegen,
		jobs.Report{Status: "running", Progress: 10},
		jobs.Report{Status: "done", Progress: 100},
	)
	fb.HoldNext(jobs.KindRegen)

	if started, err := o.RequestRegeneration(context.Background(), "page_1", ""); err != nil || !started {
		t.Fatalf("RequestRegeneration = %v, %v", started, err)
	}
	waitFor(t, o, "regen running", func(st orchestrator.State) bool { return st.AnyRegenerating() })

	if started, err := o.RequestRegeneration(context.Background(), "page_1", "again"); err != nil || started {
		t.Fatalf("duplicate regen = %v, %v; want refused", started, err)
	}
	started, err := o.Finalize(context.Background())
	if err != nil || started {
		t.Fatalf("Finalize during regen = %v, %v", started, err)
	}
	if st := o.State(); st.CanFinalize || st.Phase != orchestrator.PhaseReview {
		t.Fatalf("state during regen = %+v", st)
	}
	if fb.Calls(testsupport.RouteFinalize) != 0 {
		t.Fatal("finalize reached the backend")
	}

	fb.Release(fb.JobIDs(jobs.KindRegen)[0])
	waitFor(t, o, "regen finished", func(st orchestrator.State) bool {
		return !st.AnyRegenerating() && st.CanFinalize
	})

	started, err = o.Finalize(context.Background())
	if err != nil || !started {
		t.Fatalf("Finalize after regen = %v, %v", started, err)
	}
	if ids := fb.JobIDs(jobs.KindFinalize); len(ids) != 1 {
		t.Fatalf("finalize jobs = %v", ids)
	}
	st := waitFor(t, o, "done", inPhase(orchestrator.PhaseDone))
	if st.FinalOutputs == nil || st.FinalOutputs.PDF != "book.pdf" || st.FinalOutputs.Video != "book.mp4" {
		t.Fatalf("final outputs = %+v", st.FinalOutputs)
	}
	if st.CanFinalize {
		t.Fatal("finalize still allowed when done")
	}
}

func TestFinalizeErrorAllowsRetry(t *testing.T) {
	fb := testsupport.NewFakeBackend(t)
	o := startReview(t, fb)
	fb.Script(jobs.KindFinalize,
		jobs.Report{Status: "running", Progress: 50},
		jobs.Report{Status: "error", Progress: 50, Log: []string{"render failed"}},
	)

	if started, err := o.Finalize(context.Background()); err != nil || !started {
		t.Fatalf("Finalize = %v, %v", started, err)
	}
	st := waitFor(t, o, "finalize error", func(st orchestrator.State) bool { return st.Error != "" })
	if st.Phase != orchestrator.PhaseFinalizing || st.Error != "render failed" || !st.CanFinalize {
		t.Fatalf("state after finalize error = %+v", st)
	}

	if started, err := o.Finalize(context.Background()); err != nil || !started {
		t.Fatalf("retry Finalize = %v, %v", started, err)
	}
	st = waitFor(t, o, "done", inPhase(orchestrator.PhaseDone))
	if st.Error != "" || st.Finalize == nil || st.Finalize.Status != jobs.StatusDone {
		t.Fatalf("state after retry = %+v", st)
	}
	if ids := fb.JobIDs(jobs.KindFinalize); len(ids) != 2 {
		t.Fatalf("finalize jobs = %v", ids)
	}
}

func TestFinalizeRequestFailure(t *testing.T) {
	fb := testsupport.NewFakeBackend(t)
	o := startReview(t, fb)
	fb.Fail(testsupport.RouteFinalize, http.StatusInternalServerError)

	started, err := o.Finalize(context.Background())
	if err == nil || started {
		t.Fatalf("Finalize = %v, %v; want failure", started, err)
	}
	st := o.State()
	if st.Phase != orchestrator.PhaseFinalizing || !st.CanFinalize || !strings.HasPrefix(st.Error, "Failed to finalize: ") {
		t.Fatalf("state = %+v", st)
	}
	if started, err := o.Finalize(context.Background()); err != nil || !started {
		t.Fatalf("retry Finalize = %v, %v", started, err)
	}
	waitFor(t, o, "done", inPhase(orchestrator.PhaseDone))
}

func TestCloseStopsPolling(t *testing.T) {
	fb := testsupport.NewFakeBackend(t)
	fb.Script(jobs.KindGenerate, jobs.Report{Status: "running", Progress: 5})
	o := newSession(t, fb)
	if err := o.Submit(context.Background(), campingStory()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, o, "first poll", func(st orchestrator.State) bool {
		return st.Generation != nil && st.Generation.Progress == 5
	})

	o.Close()
	o.Close()
	time.Sleep(2 * tick)
	polls := fb.Calls(testsupport.RoutePoll)
	time.Sleep(10 * tick)
	if got := fb.Calls(testsupport.RoutePoll); got != polls {
		t.Fatalf("polls continued after Close: %d -> %d", polls, got)
	}
	if err := o.Submit(context.Background(), campingStory()); !errors.Is(err, orchestrator.ErrClosed) {
		t.Fatalf("Submit after Close = %v", err)
	}
	if _, err := o.Finalize(context.Background()); !errors.Is(err, orchestrator.ErrClosed) {
		t.Fatalf("Finalize after Close = %v", err)
	}
}

func TestNewFailsWhenProjectCannotBeCreated(t *testing.T) {
	fb := testsupport.NewFakeBackend(t)
	fb.Fail(testsupport.RouteNewProject, http.StatusServiceUnavailable)
	if _, err := orchestrator.New(context.Background(), fb.Client(), orchestrator.Options{}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := orchestrator.New(context.Background(), nil, orchestrator.Options{}); err == nil {
		t.Fatal("expected error for nil client")
	}
}
