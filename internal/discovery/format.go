package discovery

import (
	"fmt"
	"strings"
	"time"

	"repowatch/internal/notifier"
	"repowatch/internal/vcs"
)

const (
	maxListedPaths = 5
	// A placeholder line is added only past this many paths.
	placeholderAfter = 6
	maxPathLen       = 50
	ellipsis         = "..."

	notifyIcon = "view-refresh"
)

// Formatter renders commits into notifications. It has no side effects.
type Formatter struct {
	// Location for commit timestamps. Nil means local time.
	Location *time.Location
}

// Commit renders one commit of repo.
func (f Formatter) Commit(repo string, c vcs.Commit) notifier.Notification {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", c.Time.In(f.location()).Format("02.01 15:04"), c.Author)
	if msg := strings.TrimSpace(c.Message); msg != "" {
		b.WriteString("\n")
		b.WriteString(msg)
	}
	for _, line := range pathLines(c.Paths) {
		b.WriteString("\n- ")
		b.WriteString(line)
	}
	return notifier.Notification{
		Repo:  repo,
		Title: fmt.Sprintf("New commit #%d in repository %s", c.Revision, repo),
		Body:  b.String(),
		Icon:  notifyIcon,
	}
}

// Overflow renders the summary for commits that were found but not shown.
func (f Formatter) Overflow(repo string, overflow, shown int) notifier.Notification {
	return notifier.Notification{
		Repo:  repo,
		Title: fmt.Sprintf("Even more commits in repository %s", repo),
		Body:  fmt.Sprintf("There are %d more new commits in the repository, showing most recent %d", overflow, shown),
		Icon:  notifyIcon,
	}
}

func (f Formatter) location() *time.Location {
	if f.Location == nil {
		return time.Local
	}
	return f.Location
}

func pathLines(ps vcs.PathSet) []string {
	paths := ps.Slice()
	n := min(len(paths), maxListedPaths)
	out := make([]string, 0, n+1)
	for _, p := range paths[:n] {
		out = append(out, shortenPath(p))
	}
	if len(paths) > placeholderAfter {
		out = append(out, ellipsis)
	}
	return out
}

// shortenPath keeps the last maxPathLen characters of a long path.
func shortenPath(p string) string {
	r := []rune(p)
	if len(r) <= maxPathLen {
		return p
	}
	return ellipsis + string(r[len(r)-maxPathLen:])
}
