package jobs_test

import (
	"errors"
	"slices"
	"testing"
	"time"

	"storybook/internal/jobs"
)

func TestSnapshotMergeRules(t *testing.T) {
	now := time.Now()
	snap := jobs.NewSnapshot("j1", jobs.KindGenerate, jobs.StatusRunning)

	steps := []struct {
		report       jobs.Report
		wantStatus   jobs.Status
		wantProgress int
		wantLog      []string
	}{
		{jobs.Report{Status: "running", Progress: 20, Log: []string{"a"}}, jobs.StatusRunning, 20, []string{"a"}},
		{jobs.Report{Status: "running", Progress: 10, Log: []string{"a", "b"}}, jobs.StatusRunning, 20, []string{"a", "b"}},
		{jobs.Report{Status: "running", Progress: 150, Log: nil}, jobs.StatusRunning, 100, []string{"a", "b"}},
		{jobs.Report{Status: "error", Progress: 40, Log: []string{"a", "b", "FATAL boom"}}, jobs.StatusError, 40, []string{"a", "b", "FATAL boom"}},
	}
	for i, step := range steps {
		if err := snap.Merge(step.report, now); err != nil {
			t.Fatalf("step %d: merge: %v", i, err)
		}
		if snap.Status != step.wantStatus || snap.Progress != step.wantProgress {
			t.Fatalf("step %d: got %s/%d want %s/%d", i, snap.Status, snap.Progress, step.wantStatus, step.wantProgress)
		}
		if !slices.Equal(snap.Log, step.wantLog) {
			t.Fatalf("step %d: log %v want %v", i, snap.Log, step.wantLog)
		}
	}
	if snap.LastLog() != "FATAL boom" || !jobs.IsFatalLine(snap.LastLog()) {
		t.Fatalf("unexpected last log %q", snap.LastLog())
	}
	if snap.Kind != jobs.KindGenerate || snap.ID != "j1" {
		t.Fatal("merge must not change identity")
	}
}

func TestSnapshotMergeRejectsMalformed(t *testing.T) {
	snap := jobs.NewSnapshot("j1", jobs.KindRegen, jobs.StatusRunning)
	for _, status := range []string{"", "exploded"} {
		err := snap.Merge(jobs.Report{Status: status, Progress: 50}, time.Now())
		if !errors.Is(err, jobs.ErrMalformedReport) {
			t.Fatalf("status %q: expected ErrMalformedReport, got %v", status, err)
		}
	}
	if snap.Status != jobs.StatusRunning || snap.Progress != 0 {
		t.Fatalf("rejected report must not change snapshot: %+v", snap)
	}
}

func TestSnapshotCloneIsIndependent(t *testing.T) {
	snap := jobs.NewSnapshot("j1", jobs.KindRegen, jobs.StatusRunning)
	_ = snap.Merge(jobs.Report{Status: "running", Log: []string{"x"}}, time.Now())
	clone := snap.Clone()
	clone.Log[0] = "changed"
	if snap.Log[0] != "x" {
		t.Fatal("clone shares log storage")
	}
}

func TestTerminalPredicates(t *testing.T) {
	cases := []struct {
		status   jobs.Status
		def, gen bool
	}{
		{jobs.StatusPending, false, false},
		{jobs.StatusRunning, false, false},
		{jobs.StatusReview, false, true},
		{jobs.StatusDone, true, true},
		{jobs.StatusError, true, true},
	}
	for _, tc := range cases {
		if got := jobs.DefaultTerminal(tc.status); got != tc.def {
			t.Fatalf("DefaultTerminal(%s) = %v", tc.status, got)
		}
		if got := jobs.GenerationTerminal(tc.status); got != tc.gen {
			t.Fatalf("GenerationTerminal(%s) = %v", tc.status, got)
		}
	}
	if s, ok := jobs.ParseStatus(" Review "); !ok || s != jobs.StatusReview {
		t.Fatalf("ParseStatus = %q %v", s, ok)
	}
}
