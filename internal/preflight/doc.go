// Package preflight provides readiness checks for the job API, the backend
// credential, and the local files a story depends on.
//
// These checks run in two contexts:
//   - "storybook check" prints every result as a table.
//   - "storybook run" calls RunAll before creating a project and refuses to
//     start when any check fails, so a missing image is caught before the
//     backend has been asked to do anything.
package preflight
