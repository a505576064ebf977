// Package manifest compiles user story input into the declarative manifest
// consumed by the generation backend.
//
// Building is a three step pipeline: Validate rejects incomplete input before
// any network traffic, Plan lists every reference image upload in a fixed
// order, and Builder.Build performs those uploads one at a time before
// assembling the Manifest. A failed upload aborts the build; callers never
// receive a partial manifest.
package manifest
