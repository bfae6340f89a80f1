package discovery

import (
	"repowatch/internal/config"
	"repowatch/internal/vcs"
)

// Result is what a cycle decided to show.
type Result struct {
	// Commits are the displayed commits, oldest first.
	Commits []vcs.Commit
	// Overflow counts the older commits left out of Commits.
	Overflow int
}

// NoChanges reports whether the cycle has nothing to show.
func (r Result) NoChanges() bool { return len(r.Commits) == 0 }

// Select keeps the newest maxDetailed of commits (given oldest first) and
// counts the rest as overflow. maxDetailed <= 0 means the default.
func Select(commits []vcs.Commit, maxDetailed int) Result {
	if maxDetailed <= 0 {
		maxDetailed = config.DefaultMaxDetailed
	}
	if len(commits) <= maxDetailed {
		return Result{Commits: commits}
	}
	overflow := len(commits) - maxDetailed
	return Result{Commits: commits[overflow:], Overflow: overflow}
}
