package jobs

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"storybook/internal/services"
)

// Status is the lifecycle state reported by the backend for a job.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusReview  Status = "review"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

var knownStatuses = []Status{StatusPending, StatusRunning, StatusReview, StatusDone, StatusError}

// ParseStatus converts a wire value into a Status.
func ParseStatus(raw string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(raw)))
	if slices.Contains(knownStatuses, status) {
		return status, true
	}
	return "", false
}

// Kind identifies what a job produces. A job's kind never changes.
type Kind string

const (
	KindGenerate Kind = "generate"
	KindRegen    Kind = "regen"
	KindFinalize Kind = "finalize"
)

// TerminalFunc decides whether a status ends polling.
type TerminalFunc func(Status) bool

// DefaultTerminal stops on done or error.
func DefaultTerminal(s Status) bool {
	return s == StatusDone || s == StatusError
}

// GenerationTerminal also stops on review, which bulk image generation
// reports once every page has an image.
func GenerationTerminal(s Status) bool {
	return s == StatusReview || DefaultTerminal(s)
}

// ErrMalformedReport is returned when the backend answers without a usable status.
var ErrMalformedReport = fmt.Errorf("%w: malformed job report", services.ErrRemote)

// FatalPrefix marks log lines the backend emits for unrecoverable failures.
const FatalPrefix = "FATAL"

// IsFatalLine reports whether a job log line announces a fatal failure.
func IsFatalLine(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), FatalPrefix)
}

// Report is one status response from the job API.
type Report struct {
	Status    string   `json:"status"`
	Progress  float64  `json:"progress"`
	Log       []string `json:"log"`
	ProjectID string   `json:"project_id"`
}

// Snapshot is the client-side view of a job.
type Snapshot struct {
	ID        string
	Kind      Kind
	Status    Status
	Progress  int
	Log       []string
	ProjectID string
	UpdatedAt time.Time
}

// NewSnapshot returns the initial view of a freshly started job.
func NewSnapshot(id string, kind Kind, status Status) Snapshot {
	return Snapshot{ID: id, Kind: kind, Status: status, Log: []string{}}
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	s.Log = slices.Clone(s.Log)
	if s.Log == nil {
		s.Log = []string{}
	}
	return s
}

// LastLog returns the most recent log line, or "".
func (s Snapshot) LastLog() string {
	if len(s.Log) == 0 {
		return ""
	}
	return s.Log[len(s.Log)-1]
}

// Merge applies a report. The status is replaced, progress is clamped to
// 0..100 and never moves backwards while the job keeps running, and the log
// is replaced by the server's sequence unless that would shorten it.
func (s *Snapshot) Merge(r Report, now time.Time) error {
	status, ok := ParseStatus(r.Status)
	if !ok {
		return fmt.Errorf("%w: status %q", ErrMalformedReport, r.Status)
	}
	progress := clampProgress(r.Progress)
	if status == StatusRunning && s.Status == StatusRunning && progress < s.Progress {
		progress = s.Progress
	}
	s.Status = status
	s.Progress = progress
	if len(r.Log) >= len(s.Log) {
		s.Log = slices.Clone(r.Log)
	}
	if s.Log == nil {
		s.Log = []string{}
	}
	if r.ProjectID != "" {
		s.ProjectID = r.ProjectID
	}
	s.UpdatedAt = now
	return nil
}

func clampProgress(p float64) int {
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return int(math.Round(p))
}
