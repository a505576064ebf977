package testsupport

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"strconv"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"storybook/internal/backend"
	"storybook/internal/jobs"
	"storybook/internal/manifest"
)

// Route names used by FakeBackend counters and fault injection.
const (
	RouteNewProject = "new_project"
	RouteAssets     = "assets"
	RouteManifest   = "manifest"
	RouteGenerate   = "generate"
	RouteRegen      = "regen"
	RouteFinalize   = "finalize"
	RoutePoll       = "poll"
	RouteOutputs    = "outputs"
)

// Upload records one multipart asset upload.
type Upload struct {
	ProjectID string
	AssetType string
	Slug      string
	Filename  string
	Size      int
}

// RegenRequest records one regen-page call.
type RegenRequest struct {
	ProjectID   string
	PageIndex   int
	Instruction string
	JobID       string
}

type fakeJob struct {
	id        string
	projectID string
	kind      jobs.Kind
	script    []jobs.Report
	step      int
	polls     int
	hold      bool
}

// FakeBackend is an in-memory job API served over httptest. Every started job
// walks through a scripted sequence of reports, one per poll, repeating the
// last report once the script is exhausted.
type FakeBackend struct {
	t      testing.TB
	server *httptest.Server

	mu        sync.Mutex
	projects  map[string]bool
	manifests map[string]manifest.Manifest
	jobs      map[string]*fakeJob
	jobOrder  []string
	scripts   map[jobs.Kind][][]jobs.Report
	holdNext  map[jobs.Kind]bool
	outputs   backend.Outputs
	faults    map[string][]int
	calls     map[string]int
	uploads   []Upload
	regens    []RegenRequest
}

// NewFakeBackend starts a fake job API and registers its shutdown.
func NewFakeBackend(t testing.TB) *FakeBackend {
	t.Helper()
	fb := &FakeBackend{
		t:         t,
		projects:  make(map[string]bool),
		manifests: make(map[string]manifest.Manifest),
		jobs:      make(map[string]*fakeJob),
		scripts:   make(map[jobs.Kind][][]jobs.Report),
		holdNext:  make(map[jobs.Kind]bool),
		outputs:   backend.Outputs{Images: []string{}},
		faults:    make(map[string][]int),
		calls:     make(map[string]int),
	}
	fb.server = httptest.NewServer(fb.router())
	t.Cleanup(fb.server.Close)
	return fb
}

// BaseURL returns the API root to configure clients with.
func (fb *FakeBackend) BaseURL() string {
	return fb.server.URL + "/api"
}

// Client returns a backend client bound to the fake.
func (fb *FakeBackend) Client() *backend.Client {
	fb.t.Helper()
	client, err := backend.NewClient(backend.Config{BaseURL: fb.BaseURL()})
	if err != nil {
		fb.t.Fatalf("fake backend client: %v", err)
	}
	return client
}

// Script queues the report sequence for the next job of kind. Jobs started
// without a queued script complete on their first poll.
func (fb *FakeBackend) Script(kind jobs.Kind, reports ...jobs.Report) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.scripts[kind] = append(fb.scripts[kind], reports)
}

// SetOutputs replaces the outputs returned for every project.
func (fb *FakeBackend) SetOutputs(out backend.Outputs) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if out.Images == nil {
		out.Images = []string{}
	}
	fb.outputs = out
}

// Fail makes the next len(statuses) calls to route answer with those statuses.
func (fb *FakeBackend) Fail(route string, statuses ...int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.faults[route] = append(fb.faults[route], statuses...)
}

// HoldNext makes the next job of kind start held at its first report.
func (fb *FakeBackend) HoldNext(kind jobs.Kind) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.holdNext[kind] = true
}

// Release lets a held job advance again.
func (fb *FakeBackend) Release(jobID string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if job, ok := fb.jobs[jobID]; ok {
		job.hold = false
	}
}

// Calls returns how often route was hit.
func (fb *FakeBackend) Calls(route string) int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.calls[route]
}

// Polls returns how often jobID was polled.
func (fb *FakeBackend) Polls(jobID string) int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if job, ok := fb.jobs[jobID]; ok {
		return job.polls
	}
	return 0
}

// Uploads returns the recorded uploads in arrival order.
func (fb *FakeBackend) Uploads() []Upload {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]Upload(nil), fb.uploads...)
}

// RegenRequests returns the recorded regen-page calls in arrival order.
func (fb *FakeBackend) RegenRequests() []RegenRequest {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]RegenRequest(nil), fb.regens...)
}

// Manifest returns the last manifest saved for projectID.
func (fb *FakeBackend) Manifest(projectID string) (manifest.Manifest, bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	m, ok := fb.manifests[projectID]
	return m, ok
}

// JobIDs returns the ids of started jobs of kind, oldest first.
func (fb *FakeBackend) JobIDs(kind jobs.Kind) []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	var ids []string
	for _, id := range fb.jobOrder {
		if fb.jobs[id].kind == kind {
			ids = append(ids, id)
		}
	}
	return ids
}

func (fb *FakeBackend) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route("/api", func(r chi.Router) {
		r.Post("/projects/new", fb.handleNewProject)
		r.Route("/projects/{projectID}", func(r chi.Router) {
			r.Post("/assets", fb.handleUpload)
			r.Post("/manifest", fb.handleManifest)
			r.Post("/generate-images", fb.handleStartJob(RouteGenerate, jobs.KindGenerate))
			r.Post("/regen-page", fb.handleRegen)
			r.Post("/finalize", fb.handleStartJob(RouteFinalize, jobs.KindFinalize))
			r.Get("/outputs", fb.handleOutputs)
		})
		r.Get("/jobs/{jobID}", fb.handlePoll)
	})
	return r
}

// enter counts the call and reports an injected fault, if any. It must be
// called with fb.mu held.
func (fb *FakeBackend) enterLocked(w http.ResponseWriter, route string) bool {
	fb.calls[route]++
	if queued := fb.faults[route]; len(queued) > 0 {
		status := queued[0]
		fb.faults[route] = queued[1:]
		http.Error(w, `{"detail":"injected failure"}`, status)
		return true
	}
	return false
}

func (fb *FakeBackend) projectLocked(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "projectID")
	if !fb.projects[id] {
		http.Error(w, `{"detail":"Project not found"}`, http.StatusNotFound)
		return "", false
	}
	return id, true
}

func (fb *FakeBackend) handleNewProject(w http.ResponseWriter, _ *http.Request) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.enterLocked(w, RouteNewProject) {
		return
	}
	id := shortID()
	fb.projects[id] = true
	writeJSON(w, map[string]any{"project_id": id})
}

func (fb *FakeBackend) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	defer file.Close()
	data, _ := io.ReadAll(file)

	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.enterLocked(w, RouteAssets) {
		return
	}
	pid, ok := fb.projectLocked(w, r)
	if !ok {
		return
	}
	assetType, slug := r.FormValue("asset_type"), r.FormValue("slug")
	if assetType == "" || slug == "" {
		http.Error(w, `{"detail":"asset_type and slug are required"}`, http.StatusUnprocessableEntity)
		return
	}
	fb.uploads = append(fb.uploads, Upload{
		ProjectID: pid,
		AssetType: assetType,
		Slug:      slug,
		Filename:  header.Filename,
		Size:      len(data),
	})
	ext := path.Ext(header.Filename)
	if ext == "" {
		ext = ".png"
	}
	writeJSON(w, map[string]any{"ok": true, "path": "assets/" + assetType + "s/" + slug + ext})
}

func (fb *FakeBackend) handleManifest(w http.ResponseWriter, r *http.Request) {
	var m manifest.Manifest
	decodeErr := json.NewDecoder(r.Body).Decode(&m)

	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.enterLocked(w, RouteManifest) {
		return
	}
	pid, ok := fb.projectLocked(w, r)
	if !ok {
		return
	}
	if decodeErr != nil {
		http.Error(w, decodeErr.Error(), http.StatusUnprocessableEntity)
		return
	}
	fb.manifests[pid] = m
	writeJSON(w, map[string]any{"ok": true})
}

func (fb *FakeBackend) handleStartJob(route string, kind jobs.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		if fb.enterLocked(w, route) {
			return
		}
		pid, ok := fb.projectLocked(w, r)
		if !ok {
			return
		}
		if _, saved := fb.manifests[pid]; !saved {
			http.Error(w, `{"detail":"No manifest found."}`, http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{"job_id": fb.startJobLocked(pid, kind)})
	}
}

func (fb *FakeBackend) handleRegen(w http.ResponseWriter, r *http.Request) {
	parseErr := r.ParseMultipartForm(1 << 20)

	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.enterLocked(w, RouteRegen) {
		return
	}
	pid, ok := fb.projectLocked(w, r)
	if !ok {
		return
	}
	if _, saved := fb.manifests[pid]; !saved {
		http.Error(w, `{"detail":"No manifest found."}`, http.StatusBadRequest)
		return
	}
	index, err := strconv.Atoi(r.FormValue("page_index"))
	if parseErr != nil || err != nil {
		http.Error(w, `{"detail":"page_index is required"}`, http.StatusUnprocessableEntity)
		return
	}
	id := fb.startJobLocked(pid, jobs.KindRegen)
	fb.regens = append(fb.regens, RegenRequest{
		ProjectID:   pid,
		PageIndex:   index,
		Instruction: r.FormValue("extra_instruction"),
		JobID:       id,
	})
	writeJSON(w, map[string]any{"job_id": id})
}

func (fb *FakeBackend) startJobLocked(projectID string, kind jobs.Kind) string {
	script := []jobs.Report{{Status: string(jobs.StatusDone), Progress: 100}}
	if kind == jobs.KindGenerate {
		script = []jobs.Report{{Status: string(jobs.StatusReview), Progress: 100}}
	}
	if queued := fb.scripts[kind]; len(queued) > 0 {
		script = queued[0]
		fb.scripts[kind] = queued[1:]
	}
	id := shortID()
	fb.jobs[id] = &fakeJob{id: id, projectID: projectID, kind: kind, script: script, hold: fb.holdNext[kind]}
	delete(fb.holdNext, kind)
	fb.jobOrder = append(fb.jobOrder, id)
	return id
}

func (fb *FakeBackend) handlePoll(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.enterLocked(w, RoutePoll) {
		return
	}
	job, ok := fb.jobs[chi.URLParam(r, "jobID")]
	if !ok {
		http.Error(w, `{"detail":"Job not found"}`, http.StatusNotFound)
		return
	}
	job.polls++
	report := job.script[min(job.step, len(job.script)-1)]
	if !job.hold {
		job.step++
	}
	report.ProjectID = job.projectID
	if report.Log == nil {
		report.Log = []string{}
	}
	writeJSON(w, report)
}

func (fb *FakeBackend) handleOutputs(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.enterLocked(w, RouteOutputs) {
		return
	}
	if _, ok := fb.projectLocked(w, r); !ok {
		return
	}
	writeJSON(w, fb.outputs)
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func shortID() string {
	return uuid.NewString()[:8]
}
