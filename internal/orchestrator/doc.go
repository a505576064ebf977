// Package orchestrator drives one storybook project through the backend
// pipeline: manifest submission, bulk image generation, per-page
// regeneration, and finalization.
//
// The Orchestrator owns the project id, the manifest, and the generation and
// finalize trackers, and composes them with a regen.Registry. Phases advance
// form → generating → review → finalizing → done, with generating falling
// back to form when generation fails. Every user action is gated on the
// current phase; refused actions report started=false or an error instead of
// touching the backend.
package orchestrator
