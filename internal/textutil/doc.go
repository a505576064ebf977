// Package textutil provides small text helpers shared by the CLI: tokens that
// are safe to use in file names and width-limited strings for table cells.
package textutil
