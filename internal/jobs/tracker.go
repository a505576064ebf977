package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"storybook/internal/logging"
	"storybook/internal/services"
)

// DefaultMaxPollFailures is the consecutive transient failure budget used
// when TrackerOptions leaves it unset.
const DefaultMaxPollFailures = 5

var (
	// ErrDisposed is returned by Wait when the tracker was disposed before the
	// job reached a terminal status.
	ErrDisposed = errors.New("job tracker disposed")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("job tracker already started")
)

// Fetcher queries the status of one job.
type Fetcher interface {
	PollJob(ctx context.Context, jobID string) (Report, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, jobID string) (Report, error)

func (f FetcherFunc) PollJob(ctx context.Context, jobID string) (Report, error) {
	return f(ctx, jobID)
}

// TrackerOptions configures a Tracker.
type TrackerOptions struct {
	Interval        time.Duration
	Terminal        TerminalFunc
	MaxPollFailures int
	Logger          *slog.Logger
	// OnUpdate receives a copy of the snapshot after every merged report. It
	// runs on the polling goroutine and must not call Dispose.
	OnUpdate func(Snapshot)
}

// Tracker polls a single job until it reaches a terminal status.
type Tracker struct {
	fetcher Fetcher
	opts    TrackerOptions
	logger  *slog.Logger

	mu       sync.Mutex
	snap     Snapshot
	started  bool
	disposed bool
	finished bool
	failures int
	err      error
	stop     chan struct{}

	emitMu   sync.Mutex
	done     chan struct{}
	doneOnce sync.Once
}

// NewTracker constructs a tracker that polls through fetcher.
func NewTracker(fetcher Fetcher, opts TrackerOptions) *Tracker {
	if opts.Interval <= 0 {
		opts.Interval = 3 * time.Second
	}
	if opts.Terminal == nil {
		opts.Terminal = DefaultTerminal
	}
	if opts.MaxPollFailures <= 0 {
		opts.MaxPollFailures = DefaultMaxPollFailures
	}
	return &Tracker{
		fetcher: fetcher,
		opts:    opts,
		logger:  logging.NewComponentLogger(opts.Logger, "jobs"),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins polling jobID every Interval until a terminal status, a fault,
// Dispose, or cancellation of ctx.
func (t *Tracker) Start(ctx context.Context, jobID string, kind Kind) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return services.Wrap(services.ErrValidation, "jobs", "start", "job id is required", nil)
	}
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	if t.disposed {
		t.mu.Unlock()
		return ErrDisposed
	}
	t.started = true
	t.snap = NewSnapshot(jobID, kind, StatusRunning)
	t.mu.Unlock()

	ctx = services.WithJobID(ctx, jobID)
	logging.WithContext(ctx, t.logger).Debug("job tracking started",
		logging.String(logging.FieldJobKind, string(kind)),
		logging.Duration("interval", t.opts.Interval),
	)
	go t.run(ctx)
	return nil
}

func (t *Tracker) run(ctx context.Context) {
	ticker := time.NewTicker(t.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			t.finish(ctx.Err())
			return
		case <-t.stop:
			return
		case <-ticker.C:
			if t.Tick(ctx) {
				return
			}
		}
	}
}

// Tick issues exactly one status query and merges the result. It reports
// whether the tracker has stopped.
func (t *Tracker) Tick(ctx context.Context) bool {
	t.mu.Lock()
	if t.disposed || t.finished || !t.started {
		t.mu.Unlock()
		return true
	}
	jobID := t.snap.ID
	t.mu.Unlock()

	report, fetchErr := t.fetcher.PollJob(ctx, jobID)
	logger := logging.WithContext(services.WithJobID(ctx, jobID), t.logger)

	t.mu.Lock()
	if t.disposed || t.finished {
		t.mu.Unlock()
		logger.Debug("discarding job report received after stop")
		return true
	}
	if fetchErr != nil {
		stopped := t.recordFailureLocked(ctx, fetchErr, logger)
		t.mu.Unlock()
		if stopped {
			t.closeDone()
		}
		return stopped
	}
	if err := t.snap.Merge(report, time.Now()); err != nil {
		t.finished = true
		t.err = err
		t.mu.Unlock()
		logging.ErrorWithContext(logger, "job report rejected", "job_report_malformed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check backend version"),
		)
		t.closeDone()
		return true
	}
	t.failures = 0
	snap := t.snap.Clone()
	terminal := t.opts.Terminal(snap.Status)
	if terminal {
		t.finished = true
	}
	t.mu.Unlock()

	logger.Debug("job polled",
		logging.String("status", string(snap.Status)),
		logging.Int("progress", snap.Progress),
		logging.Int("log_lines", len(snap.Log)),
	)
	t.emit(snap)
	if terminal {
		logger.Info("job finished",
			logging.String(logging.FieldJobKind, string(snap.Kind)),
			logging.String("status", string(snap.Status)),
		)
		t.closeDone()
	}
	return terminal
}

// recordFailureLocked applies the poll failure policy: transient failures
// are skipped until MaxPollFailures consecutive ones, anything else stops the
// tracker. It reports whether the tracker stopped.
func (t *Tracker) recordFailureLocked(ctx context.Context, err error, logger *slog.Logger) bool {
	if ctx.Err() != nil {
		t.finished = true
		t.err = ctx.Err()
		return true
	}
	if !services.IsTransient(err) {
		t.finished = true
		t.err = err
		logging.ErrorWithContext(logger, "job poll failed", "job_poll_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check backend availability and job id"),
		)
		return true
	}
	t.failures++
	if t.failures >= t.opts.MaxPollFailures {
		t.finished = true
		t.err = services.Wrap(services.ErrTransient, "jobs", "poll",
			fmt.Sprintf("%d consecutive poll failures", t.failures), err)
		logging.ErrorWithContext(logger, "job poll failure budget exhausted", "job_poll_exhausted",
			logging.Error(err),
			logging.Int("failures", t.failures),
			logging.Alert("poll_budget_exhausted"),
			logging.String(logging.FieldErrorHint, "check backend availability"),
		)
		return true
	}
	logging.WarnWithContext(logger, "job poll failed; retrying next tick", "job_poll_retry",
		logging.Error(err),
		logging.Int("failures", t.failures),
		logging.Int("max_failures", t.opts.MaxPollFailures),
	)
	return false
}

func (t *Tracker) emit(snap Snapshot) {
	if t.opts.OnUpdate == nil {
		return
	}
	t.emitMu.Lock()
	defer t.emitMu.Unlock()
	t.mu.Lock()
	disposed := t.disposed
	t.mu.Unlock()
	if disposed {
		return
	}
	t.opts.OnUpdate(snap)
}

func (t *Tracker) finish(err error) {
	t.mu.Lock()
	if !t.finished && !t.disposed {
		t.finished = true
		t.err = err
	}
	t.mu.Unlock()
	t.closeDone()
}

func (t *Tracker) closeDone() {
	t.doneOnce.Do(func() { close(t.done) })
}

// Dispose stops polling regardless of job state. Reports still in flight are
// discarded and OnUpdate is not invoked once Dispose returns.
func (t *Tracker) Dispose() {
	t.emitMu.Lock()
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		t.emitMu.Unlock()
		return
	}
	t.disposed = true
	close(t.stop)
	t.mu.Unlock()
	t.emitMu.Unlock()
	t.closeDone()
}

// Done is closed once the tracker stops for any reason.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

// Snapshot returns a copy of the current job view.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap.Clone()
}

// Err returns the fault that stopped the tracker, if any. A job that ended
// with StatusError is not a fault; inspect the snapshot status instead.
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Disposed reports whether Dispose was called.
func (t *Tracker) Disposed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disposed
}

// Wait blocks until the tracker stops and returns the final snapshot.
func (t *Tracker) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-ctx.Done():
		return t.Snapshot(), ctx.Err()
	case <-t.done:
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed && !t.finished {
		return t.snap.Clone(), ErrDisposed
	}
	return t.snap.Clone(), t.err
}
