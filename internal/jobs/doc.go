// Package jobs tracks long-running backend jobs by polling their status.
//
// A Tracker owns one job id and one polling goroutine. Each tick issues a
// single status query and merges the report into the tracked Snapshot under
// the tracker's lock, so readers never observe a partially applied report.
// The loop stops as soon as the job reaches a terminal status, when the
// consecutive poll failure budget is exhausted, or when the tracker is
// disposed. Reports that arrive after disposal are dropped.
package jobs
