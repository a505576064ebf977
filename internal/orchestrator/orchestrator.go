package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"storybook/internal/backend"
	"storybook/internal/jobs"
	"storybook/internal/logging"
	"storybook/internal/manifest"
	"storybook/internal/regen"
	"storybook/internal/services"
)

const (
	defaultGenerationInterval  = 3 * time.Second
	defaultOutputFetchAttempts = 3
)

var (
	// ErrWrongPhase is returned when an action is not allowed in the current phase.
	ErrWrongPhase = fmt.Errorf("%w: action not allowed in current phase", services.ErrConflict)
	// ErrSubmitting is returned while a submission is already in progress.
	ErrSubmitting = fmt.Errorf("%w: submission already in progress", services.ErrConflict)
	// ErrUnknownPage is returned when a regeneration names a page with no tile.
	ErrUnknownPage = fmt.Errorf("%w: unknown page", services.ErrValidation)
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("orchestrator closed")
)

// Options configures an Orchestrator.
type Options struct {
	GenerationInterval  time.Duration
	RegenInterval       time.Duration
	MaxPollFailures     int
	OutputFetchAttempts int
	Build               manifest.Options
	Logger              *slog.Logger
}

// Orchestrator drives one project from story submission through review and
// finalization. All methods are safe for concurrent use.
type Orchestrator struct {
	ctx      context.Context
	cancel   context.CancelFunc
	client   *backend.Client
	project  *backend.Project
	opts     Options
	logger   *slog.Logger
	builder  *manifest.Builder
	registry *regen.Registry
	wg       sync.WaitGroup

	mu            sync.Mutex
	phase         Phase
	submitting    bool
	errMsg        string
	manifest      *manifest.Manifest
	genTracker    *jobs.Tracker
	finTracker    *jobs.Tracker
	finStarting   bool
	finFailed     bool
	regenInFlight int
	outputs       *backend.Outputs
	finalOutputs  *backend.Outputs
	changed       chan struct{}
	seq           uint64
	closed        bool
}

// New creates a project on the backend and returns an orchestrator in the
// form phase. ctx bounds the whole session; Close ends it earlier.
func New(ctx context.Context, client *backend.Client, opts Options) (*Orchestrator, error) {
	if client == nil {
		return nil, services.Wrap(services.ErrConfiguration, "orchestrator", "new", "backend client is required", nil)
	}
	if opts.GenerationInterval <= 0 {
		opts.GenerationInterval = defaultGenerationInterval
	}
	if opts.RegenInterval <= 0 {
		opts.RegenInterval = regen.DefaultInterval
	}
	if opts.MaxPollFailures <= 0 {
		opts.MaxPollFailures = jobs.DefaultMaxPollFailures
	}
	if opts.OutputFetchAttempts <= 0 {
		opts.OutputFetchAttempts = defaultOutputFetchAttempts
	}
	if opts.Build.Logger == nil {
		opts.Build.Logger = opts.Logger
	}

	projectID, err := client.CreateProject(ctx)
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(services.WithProjectID(ctx, projectID))
	o := &Orchestrator{
		ctx:     sessionCtx,
		cancel:  cancel,
		client:  client,
		project: client.Project(projectID),
		opts:    opts,
		logger:  logging.NewComponentLogger(opts.Logger, "orchestrator"),
		phase:   PhaseForm,
		changed: make(chan struct{}),
	}
	o.builder = manifest.NewBuilder(o.project, opts.Build)
	o.registry = regen.NewRegistry(sessionCtx, o.project, regen.Options{
		Interval:        opts.RegenInterval,
		MaxPollFailures: opts.MaxPollFailures,
		Logger:          opts.Logger,
		OnUpdate:        o.notify,
	})
	logging.WithContext(sessionCtx, o.logger).Info("project created")
	return o, nil
}

// ProjectID returns the backend project id. It never changes.
func (o *Orchestrator) ProjectID() string {
	return o.project.ID()
}

// Client returns the backend client, e.g. to resolve output references.
func (o *Orchestrator) Client() *backend.Client {
	return o.client
}

// Manifest returns the manifest saved by the last successful submission.
func (o *Orchestrator) Manifest() (manifest.Manifest, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.manifest == nil {
		return manifest.Manifest{}, false
	}
	return *o.manifest, true
}

// Submit validates the story, uploads its reference images, saves the
// manifest, and starts image generation. It is allowed only in the form
// phase with no submission in progress. On failure the phase stays form and
// the message is kept in State().Error.
func (o *Orchestrator) Submit(ctx context.Context, in manifest.Input) error {
	ctx = o.actionContext(ctx)
	logger := logging.WithContext(ctx, o.logger)

	o.mu.Lock()
	switch {
	case o.closed:
		o.mu.Unlock()
		return ErrClosed
	case o.phase != PhaseForm:
		phase := o.phase
		o.mu.Unlock()
		return fmt.Errorf("submit in phase %s: %w", phase, ErrWrongPhase)
	case o.submitting:
		o.mu.Unlock()
		return ErrSubmitting
	}
	o.submitting = true
	o.errMsg = ""
	o.notifyLocked()
	o.mu.Unlock()

	m, jobID, err := o.startGeneration(ctx, in)
	if err != nil {
		msg := "Failed to start: " + err.Error()
		var verr *manifest.ValidationError
		if errors.As(err, &verr) {
			msg = verr.Error()
		}
		o.mu.Lock()
		o.submitting = false
		o.errMsg = msg
		o.notifyLocked()
		o.mu.Unlock()
		logging.WarnWithContext(logger, "submission failed", "submit_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "fix the story and submit again"),
		)
		return err
	}

	tracker := jobs.NewTracker(o.project, jobs.TrackerOptions{
		Interval:        o.opts.GenerationInterval,
		Terminal:        jobs.GenerationTerminal,
		MaxPollFailures: o.opts.MaxPollFailures,
		Logger:          o.opts.Logger,
		OnUpdate:        func(jobs.Snapshot) { o.notify() },
	})

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		tracker.Dispose()
		return ErrClosed
	}
	if err := o.transitionLocked(PhaseGenerating); err != nil {
		o.submitting = false
		o.mu.Unlock()
		tracker.Dispose()
		return err
	}
	o.manifest = &m
	o.genTracker = tracker
	o.outputs = nil
	o.notifyLocked()
	o.mu.Unlock()

	if err := tracker.Start(o.ctx, jobID, jobs.KindGenerate); err != nil {
		o.failGeneration(tracker, "Failed to start: "+err.Error())
		return err
	}
	o.wg.Add(1)
	go o.watchGeneration(tracker)
	logger.Info("image generation started", logging.String(logging.FieldJobID, jobID))
	return nil
}

func (o *Orchestrator) startGeneration(ctx context.Context, in manifest.Input) (manifest.Manifest, string, error) {
	m, uploaded, err := o.builder.Build(ctx, in)
	if err != nil {
		return manifest.Manifest{}, "", err
	}
	if err := o.project.SaveManifest(ctx, m); err != nil {
		return manifest.Manifest{}, "", err
	}
	jobID, err := o.project.GenerateImages(ctx)
	if err != nil {
		return manifest.Manifest{}, "", err
	}
	logging.WithContext(ctx, o.logger).Debug("manifest saved",
		logging.Int("uploads", len(uploaded)),
		logging.Int("pages", len(m.Pages)),
	)
	return m, jobID, nil
}

func (o *Orchestrator) watchGeneration(tracker *jobs.Tracker) {
	defer o.wg.Done()
	select {
	case <-tracker.Done():
	case <-o.ctx.Done():
		return
	}
	if tracker.Disposed() {
		return
	}

	snap := tracker.Snapshot()
	if err := tracker.Err(); err != nil {
		o.failGeneration(tracker, "Image generation failed: "+err.Error())
		return
	}
	switch snap.Status {
	case jobs.StatusReview, jobs.StatusDone:
		out, err := o.fetchOutputs(o.ctx)
		if err != nil {
			o.failGeneration(tracker, "Failed to load images: "+err.Error())
			return
		}
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.genTracker != tracker || o.closed {
			return
		}
		if err := o.transitionLocked(PhaseReview); err != nil {
			return
		}
		o.submitting = false
		o.outputs = &out
		o.notifyLocked()
	default:
		msg := snap.LastLog()
		if msg == "" {
			msg = "Image generation failed."
		}
		o.failGeneration(tracker, msg)
	}
}

func (o *Orchestrator) failGeneration(tracker *jobs.Tracker, msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.genTracker != tracker || o.closed {
		return
	}
	logging.WarnWithContext(logging.WithContext(o.ctx, o.logger), "image generation failed", "generation_failed",
		logging.String("reason", msg),
		logging.String(logging.FieldErrorHint, "adjust the story and submit again"),
	)
	if err := o.transitionLocked(PhaseForm); err != nil {
		return
	}
	o.submitting = false
	o.errMsg = msg
	o.notifyLocked()
}

// fetchOutputs retries transient failures a bounded number of times.
func (o *Orchestrator) fetchOutputs(ctx context.Context) (backend.Outputs, error) {
	var lastErr error
	for attempt := 1; attempt <= o.opts.OutputFetchAttempts; attempt++ {
		out, err := o.project.Outputs(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !services.IsTransient(err) || attempt == o.opts.OutputFetchAttempts {
			break
		}
		logging.WithContext(ctx, o.logger).Debug("outputs fetch failed, retrying",
			logging.Int("attempt", attempt),
			logging.Error(err),
		)
		select {
		case <-ctx.Done():
			return backend.Outputs{}, ctx.Err()
		case <-time.After(o.opts.GenerationInterval):
		}
	}
	return backend.Outputs{}, lastErr
}

// RequestRegeneration starts regeneration of the page identified by pageKey
// with an optional extra instruction. It reports started=false when that
// page is already regenerating.
func (o *Orchestrator) RequestRegeneration(ctx context.Context, pageKey, instruction string) (bool, error) {
	index, err := regen.ParsePageKey(pageKey)
	if err != nil {
		return false, fmt.Errorf("%w: %q", ErrUnknownPage, pageKey)
	}
	pageKey = regen.PageKey(index)
	ctx = services.WithPageKey(o.actionContext(ctx), pageKey)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false, ErrClosed
	}
	if o.phase != PhaseReview {
		phase := o.phase
		o.mu.Unlock()
		return false, fmt.Errorf("regenerate in phase %s: %w", phase, ErrWrongPhase)
	}
	if !hasTile(tilesFor(o.outputs), pageKey) {
		o.mu.Unlock()
		return false, fmt.Errorf("%w: %q", ErrUnknownPage, pageKey)
	}
	o.regenInFlight++
	o.mu.Unlock()

	started, err := o.registry.Request(ctx, pageKey, instruction)

	o.mu.Lock()
	o.regenInFlight--
	o.notifyLocked()
	o.mu.Unlock()
	if errors.Is(err, regen.ErrDisposed) {
		return false, ErrClosed
	}
	return started, err
}

// Finalize starts building the final PDF and video. It is permitted in review
// when no page is regenerating, and in finalizing when the previous finalize
// job failed. Otherwise it returns started=false.
func (o *Orchestrator) Finalize(ctx context.Context) (bool, error) {
	ctx = o.actionContext(ctx)
	logger := logging.WithContext(ctx, o.logger)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false, ErrClosed
	}
	if !o.canFinalizeLocked() {
		phase := o.phase
		o.mu.Unlock()
		logger.Debug("finalize refused", logging.String(logging.FieldPhase, string(phase)))
		return false, nil
	}
	retry := o.phase == PhaseFinalizing
	if !retry {
		if err := o.transitionLocked(PhaseFinalizing); err != nil {
			o.mu.Unlock()
			return false, err
		}
	}
	o.finStarting = true
	o.finFailed = false
	o.errMsg = ""
	o.notifyLocked()
	o.mu.Unlock()

	jobID, err := o.project.Finalize(ctx)
	if err != nil {
		o.mu.Lock()
		o.finStarting = false
		o.finFailed = true
		o.errMsg = "Failed to finalize: " + err.Error()
		o.notifyLocked()
		o.mu.Unlock()
		logging.WarnWithContext(logger, "finalize request failed", "finalize_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "retry finalize"),
		)
		return false, err
	}

	tracker := jobs.NewTracker(o.project, jobs.TrackerOptions{
		Interval:        o.opts.GenerationInterval,
		Terminal:        jobs.DefaultTerminal,
		MaxPollFailures: o.opts.MaxPollFailures,
		Logger:          o.opts.Logger,
		OnUpdate:        func(jobs.Snapshot) { o.notify() },
	})

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		tracker.Dispose()
		return false, ErrClosed
	}
	previous := o.finTracker
	o.finTracker = tracker
	o.finStarting = false
	o.notifyLocked()
	o.mu.Unlock()
	if previous != nil {
		previous.Dispose()
	}

	if err := tracker.Start(o.ctx, jobID, jobs.KindFinalize); err != nil {
		o.failFinalize(tracker, "Failed to finalize: "+err.Error())
		return false, err
	}
	o.wg.Add(1)
	go o.watchFinalize(tracker)
	logger.Info("finalize started",
		logging.String(logging.FieldJobID, jobID),
		logging.Bool("retry", retry),
	)
	return true, nil
}

func (o *Orchestrator) watchFinalize(tracker *jobs.Tracker) {
	defer o.wg.Done()
	select {
	case <-tracker.Done():
	case <-o.ctx.Done():
		return
	}
	if tracker.Disposed() {
		return
	}

	snap := tracker.Snapshot()
	if err := tracker.Err(); err != nil {
		o.failFinalize(tracker, "Finalize failed: "+err.Error())
		return
	}
	if snap.Status != jobs.StatusDone {
		msg := snap.LastLog()
		if msg == "" {
			msg = "Finalize failed."
		}
		o.failFinalize(tracker, msg)
		return
	}

	out, err := o.fetchOutputs(o.ctx)
	if err != nil {
		o.failFinalize(tracker, "Failed to load final outputs: "+err.Error())
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.finTracker != tracker || o.closed {
		return
	}
	if err := o.transitionLocked(PhaseDone); err != nil {
		return
	}
	o.finalOutputs = &out
	o.notifyLocked()
}

func (o *Orchestrator) failFinalize(tracker *jobs.Tracker, msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.finTracker != tracker || o.closed {
		return
	}
	logging.WarnWithContext(logging.WithContext(o.ctx, o.logger), "finalize failed", "finalize_failed",
		logging.String("reason", msg),
		logging.String(logging.FieldErrorHint, "retry finalize"),
	)
	o.finFailed = true
	o.errMsg = msg
	o.notifyLocked()
}

func (o *Orchestrator) canFinalizeLocked() bool {
	switch o.phase {
	case PhaseReview:
		return o.regenInFlight == 0 && !o.registry.AnyRunning()
	case PhaseFinalizing:
		return o.finFailed && !o.finStarting
	default:
		return false
	}
}

// State returns a snapshot of the session.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := State{
		Phase:        o.phase,
		ProjectID:    o.project.ID(),
		Submitting:   o.submitting,
		Error:        o.errMsg,
		Outputs:      cloneOutputs(o.outputs),
		FinalOutputs: cloneOutputs(o.finalOutputs),
		CanFinalize:  o.canFinalizeLocked(),
		Seq:          o.seq,
	}
	if o.genTracker != nil {
		snap := o.genTracker.Snapshot()
		st.Generation = &snap
	}
	if o.finTracker != nil {
		snap := o.finTracker.Snapshot()
		st.Finalize = &snap
	}
	tiles := tilesFor(o.outputs)
	for i := range tiles {
		entry, ok := o.registry.Entry(tiles[i].Key)
		if !ok {
			continue
		}
		tiles[i].Version = entry.Version
		tiles[i].Image = regen.WithVersion(tiles[i].Image, entry.Version)
		tiles[i].Regen = &entry
	}
	st.Tiles = tiles
	return st
}

// Wait blocks until pred holds for the current state or ctx ends.
func (o *Orchestrator) Wait(ctx context.Context, pred func(State) bool) (State, error) {
	for {
		o.mu.Lock()
		changed := o.changed
		o.mu.Unlock()

		st := o.State()
		if pred(st) {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-changed:
		}
	}
}

// Close stops every tracker and the regeneration registry. It is idempotent.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	gen, fin := o.genTracker, o.finTracker
	o.notifyLocked()
	o.mu.Unlock()

	if gen != nil {
		gen.Dispose()
	}
	if fin != nil {
		fin.Dispose()
	}
	o.registry.Dispose()
	o.cancel()
	o.wg.Wait()
	logging.WithContext(o.ctx, o.logger).Debug("session closed")
}

// transitionLocked moves to next when the phase machine allows it. Refused
// transitions are logged as errors.
func (o *Orchestrator) transitionLocked(next Phase) error {
	if !isValidTransition(o.phase, next) {
		err := &transitionError{from: o.phase, to: next}
		logging.ErrorWithContext(logging.WithContext(o.ctx, o.logger), "phase transition refused", "phase_transition_invalid",
			logging.Error(err),
		)
		return err
	}
	logging.WithContext(services.WithPhase(o.ctx, string(next)), o.logger).Info("phase changed",
		logging.String("from", string(o.phase)),
	)
	o.phase = next
	return nil
}

func (o *Orchestrator) notify() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notifyLocked()
}

func (o *Orchestrator) notifyLocked() {
	o.seq++
	close(o.changed)
	o.changed = make(chan struct{})
}

// actionContext tags ctx with the project id and a fresh correlation id.
func (o *Orchestrator) actionContext(ctx context.Context) context.Context {
	ctx = services.WithProjectID(ctx, o.project.ID())
	if _, ok := services.RequestIDFromContext(ctx); ok {
		return ctx
	}
	return services.WithRequestID(ctx, strings.SplitN(uuid.NewString(), "-", 2)[0])
}

func hasTile(tiles []Tile, key string) bool {
	for _, tile := range tiles {
		if tile.Key == key {
			return true
		}
	}
	return false
}
