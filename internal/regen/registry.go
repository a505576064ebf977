package regen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"storybook/internal/jobs"
	"storybook/internal/logging"
	"storybook/internal/services"
)

// DefaultInterval is the regeneration poll cadence.
const DefaultInterval = 2 * time.Second

// ErrDisposed is returned by Request after Dispose.
var ErrDisposed = errors.New("regeneration registry disposed")

// Client starts regeneration jobs and polls them.
type Client interface {
	jobs.Fetcher
	RegenPage(ctx context.Context, pageIndex int, instruction string) (string, error)
}

// Options configures a Registry.
type Options struct {
	Interval        time.Duration
	MaxPollFailures int
	Logger          *slog.Logger
	// OnUpdate is called after every change to registry state.
	OnUpdate func()
}

// Entry is the registry's view of one page's latest regeneration.
type Entry struct {
	PageKey     string
	Index       int
	Job         jobs.Snapshot
	Instruction string
	Version     int64
	// Err is set when polling gave up on the job.
	Err string
}

// Running reports whether the entry's job is still in progress.
func (e Entry) Running() bool {
	return e.Job.Status == jobs.StatusRunning || e.Job.Status == jobs.StatusPending
}

type entry struct {
	Entry
	failures int
}

// Registry tracks regeneration jobs keyed by page.
type Registry struct {
	ctx    context.Context
	client Client
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	entries  map[string]*entry
	pending  map[string]struct{}
	version  int64
	looping  bool
	loopGen  int
	disposed bool
	stop     chan struct{}
}

// NewRegistry constructs a registry. ctx bounds the lifetime of the polling
// loop; Dispose stops it earlier.
func NewRegistry(ctx context.Context, client Client, opts Options) *Registry {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxPollFailures <= 0 {
		opts.MaxPollFailures = jobs.DefaultMaxPollFailures
	}
	return &Registry{
		ctx:     ctx,
		client:  client,
		opts:    opts,
		logger:  logging.NewComponentLogger(opts.Logger, "regen"),
		entries: make(map[string]*entry),
		pending: make(map[string]struct{}),
		stop:    make(chan struct{}),
	}
}

// Request starts regeneration of the page identified by pageKey. When that
// page already has a running job or an outstanding request, it returns
// started=false without contacting the backend.
func (r *Registry) Request(ctx context.Context, pageKey, instruction string) (bool, error) {
	index, err := ParsePageKey(pageKey)
	if err != nil {
		return false, err
	}
	key := PageKey(index)
	instruction = strings.TrimSpace(instruction)

	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return false, ErrDisposed
	}
	if _, busy := r.pending[key]; busy {
		r.mu.Unlock()
		return false, nil
	}
	if e, ok := r.entries[key]; ok && e.Running() {
		r.mu.Unlock()
		return false, nil
	}
	r.pending[key] = struct{}{}
	r.mu.Unlock()
	r.notify()

	logger := logging.WithContext(services.WithPageKey(ctx, key), r.logger)
	jobID, err := r.client.RegenPage(ctx, index, instruction)

	r.mu.Lock()
	delete(r.pending, key)
	if r.disposed {
		r.mu.Unlock()
		return false, ErrDisposed
	}
	if err != nil {
		r.mu.Unlock()
		r.notify()
		logging.WarnWithContext(logger, "page regeneration request failed", "regen_request_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "retry the regeneration"),
		)
		return false, fmt.Errorf("regenerate %s: %w", key, err)
	}
	var version int64
	if prev, ok := r.entries[key]; ok {
		version = prev.Version
		if prev.Job.ID != jobID {
			logger.Debug("abandoning previous regeneration job", logging.String(logging.FieldJobID, prev.Job.ID))
		}
	}
	r.entries[key] = &entry{Entry: Entry{
		PageKey:     key,
		Index:       index,
		Job:         jobs.NewSnapshot(jobID, jobs.KindRegen, jobs.StatusRunning),
		Instruction: instruction,
		Version:     version,
	}}
	if !r.looping {
		r.startLoopLocked()
	}
	r.mu.Unlock()

	logger.Info("page regeneration started",
		logging.String(logging.FieldJobID, jobID),
		logging.String("instruction", instruction),
	)
	r.notify()
	return true, nil
}

func (r *Registry) startLoopLocked() {
	r.looping = true
	r.loopGen++
	go r.run(r.loopGen)
}

func (r *Registry) run(gen int) {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			r.mu.Lock()
			if r.loopGen == gen {
				r.looping = false
			}
			r.mu.Unlock()
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			current := !r.disposed && r.looping && r.loopGen == gen
			r.mu.Unlock()
			if !current {
				return
			}
			if !r.Cycle(r.ctx) {
				return
			}
		}
	}
}

type pollTarget struct {
	key   string
	jobID string
}

type pollResult struct {
	pollTarget
	report jobs.Report
	err    error
}

// Cycle polls every running job once and merges the results. It reports
// whether any regeneration is still running afterwards.
func (r *Registry) Cycle(ctx context.Context) bool {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return false
	}
	targets := make([]pollTarget, 0, len(r.entries))
	for key, e := range r.entries {
		if e.Running() {
			targets = append(targets, pollTarget{key: key, jobID: e.Job.ID})
		}
	}
	if len(targets) == 0 {
		r.looping = false
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()

	results := make([]pollResult, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := r.client.PollJob(ctx, target.jobID)
			results[i] = pollResult{pollTarget: target, report: report, err: err}
		}()
	}
	wg.Wait()

	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return false
	}
	now := time.Now()
	var finished []Entry
	for _, res := range results {
		e, ok := r.entries[res.key]
		if !ok || e.Job.ID != res.jobID || !e.Running() {
			continue
		}
		if r.mergeLocked(ctx, e, res, now) {
			finished = append(finished, e.Entry)
		}
	}
	running := r.anyRunningLocked()
	if !running {
		r.looping = false
	}
	r.mu.Unlock()

	for _, e := range finished {
		logger := logging.WithContext(services.WithJobID(services.WithPageKey(ctx, e.PageKey), e.Job.ID), r.logger)
		if e.Job.Status == jobs.StatusDone {
			logger.Info("page regeneration finished", logging.Any("version", e.Version))
			continue
		}
		logging.WarnWithContext(logger, "page regeneration failed", "regen_failed",
			logging.String("reason", firstNonEmpty(e.Err, e.Job.LastLog())),
		)
	}
	r.notify()
	return running
}

// mergeLocked applies one poll result and reports whether the entry left the
// running state.
func (r *Registry) mergeLocked(ctx context.Context, e *entry, res pollResult, now time.Time) bool {
	if res.err != nil {
		if ctx.Err() != nil {
			return false
		}
		if services.IsTransient(res.err) {
			e.failures++
			if e.failures < r.opts.MaxPollFailures {
				return false
			}
		}
		e.Job.Status = jobs.StatusError
		e.Job.UpdatedAt = now
		e.Err = res.err.Error()
		return true
	}
	if err := e.Job.Merge(res.report, now); err != nil {
		e.Job.Status = jobs.StatusError
		e.Err = err.Error()
		return true
	}
	e.failures = 0
	switch e.Job.Status {
	case jobs.StatusDone:
		r.version++
		e.Version = r.version
		return true
	case jobs.StatusError:
		return true
	}
	return false
}

func (r *Registry) anyRunningLocked() bool {
	if len(r.pending) > 0 {
		return true
	}
	for _, e := range r.entries {
		if e.Running() {
			return true
		}
	}
	return false
}

// AnyRunning reports whether a regeneration is running or being requested.
func (r *Registry) AnyRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.anyRunningLocked()
}

// Entry returns a copy of the entry for pageKey.
func (r *Registry) Entry(pageKey string) (Entry, bool) {
	index, err := ParsePageKey(pageKey)
	if err != nil {
		return Entry{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[PageKey(index)]
	if !ok {
		return Entry{}, false
	}
	out := e.Entry
	out.Job = e.Job.Clone()
	return out, true
}

// Entries returns copies of every entry ordered by page index.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		copied := e.Entry
		copied.Job = e.Job.Clone()
		out = append(out, copied)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Version returns the freshness version of pageKey's image, 0 if it was
// never regenerated.
func (r *Registry) Version(pageKey string) int64 {
	e, ok := r.Entry(pageKey)
	if !ok {
		return 0
	}
	return e.Version
}

// ImageRef appends the page's freshness version to ref as the "v" query
// parameter. References for pages never regenerated are returned unchanged.
func (r *Registry) ImageRef(pageKey, ref string) string {
	return WithVersion(ref, r.Version(pageKey))
}

// WithVersion sets the "v" query parameter of ref when version is positive.
func WithVersion(ref string, version int64) string {
	if version <= 0 || strings.TrimSpace(ref) == "" {
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	q := parsed.Query()
	q.Set("v", strconv.FormatInt(version, 10))
	parsed.RawQuery = q.Encode()
	return parsed.String()
}

// Dispose stops the polling loop. Results still in flight are discarded.
func (r *Registry) Dispose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return
	}
	r.disposed = true
	r.looping = false
	close(r.stop)
}

func (r *Registry) notify() {
	if r.opts.OnUpdate == nil {
		return
	}
	r.mu.Lock()
	disposed := r.disposed
	r.mu.Unlock()
	if !disposed {
		r.opts.OnUpdate()
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
