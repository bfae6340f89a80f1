// Package vcs defines the contract between repowatch and the version-control
// clients it polls.
//
// A Fetcher lists the commits of one repository after a given revision,
// newest first. Implementations may include the boundary revision itself
// (Subversion's `log -r HEAD:N` does); callers strip it.
//
// Revisions are plain int64 values that grow monotonically within one
// repository. Subversion revision numbers map directly; the git fetcher
// numbers commits by their first-parent depth.
package vcs
