// Package regen keeps the per-page regeneration jobs of one project.
//
// The Registry holds at most one entry per page key. A new request for a page
// replaces the previous entry and abandons its job id. A single polling loop
// serves every running entry: at the start of each cycle it recomputes the
// set of running jobs from registry state, queries each once, and merges all
// results in one critical section. The loop starts with the first request and
// exits once nothing is running.
//
// Every regeneration that completes bumps a registry-wide version which is
// recorded on the entry and appended to image references as a cache key.
package regen
