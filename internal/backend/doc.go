// Package backend is the HTTP client for the storybook job API.
//
// Client covers project creation, job polling, and output URL resolution.
// Project binds a Client to one project id and exposes the project scoped
// operations: asset upload, manifest save, and the generate, regenerate and
// finalize job starters. Non-2xx responses surface as *StatusError so callers
// can classify them with services.IsTransient.
package backend
