// Package services defines shared utilities consumed by the orchestration
// components and the backend client.
//
// Key responsibilities:
//   - Context helpers that stamp project IDs, job IDs, phases, page keys, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so callers can classify
//     failures (validation vs transient vs remote) with errors.Is.
//   - IsTransient, the single place that decides whether a failed poll is
//     worth retrying on the next tick.
package services
