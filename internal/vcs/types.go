package vcs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"repowatch/internal/config"
)

// ErrFetch marks a failure talking to the repository (network, auth,
// protocol, repository not found).
var ErrFetch = errors.New("fetch failed")

// Commit is one repository change.
type Commit struct {
	Revision int64
	Author   string
	Time     time.Time
	Message  string
	Paths    PathSet
}

// Fetcher lists commits of repo with revision >= after, newest first.
// The entry at exactly `after` may or may not be present.
type Fetcher interface {
	ListCommitsAfter(ctx context.Context, repo config.Repository, after int64) ([]Commit, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, repo config.Repository, after int64) ([]Commit, error)

func (f FetcherFunc) ListCommitsAfter(ctx context.Context, repo config.Repository, after int64) ([]Commit, error) {
	return f(ctx, repo, after)
}

// Registry dispatches to a Fetcher by repository kind ("svn", "git").
type Registry struct {
	byKind map[string]Fetcher
}

func NewRegistry() *Registry {
	return &Registry{byKind: map[string]Fetcher{}}
}

// Register binds kind to f. Later registrations replace earlier ones.
func (r *Registry) Register(kind string, f Fetcher) {
	r.byKind[strings.ToLower(strings.TrimSpace(kind))] = f
}

func (r *Registry) ListCommitsAfter(ctx context.Context, repo config.Repository, after int64) ([]Commit, error) {
	kind := strings.ToLower(strings.TrimSpace(repo.Kind))
	if kind == "" {
		kind = config.KindSVN
	}
	f, ok := r.byKind[kind]
	if !ok || f == nil {
		return nil, fmt.Errorf("%w: no fetcher for kind %q", ErrFetch, kind)
	}
	return f.ListCommitsAfter(ctx, repo, after)
}

// PathSet is an insertion-ordered set of changed paths.
// The zero value is ready to use.
type PathSet struct {
	order []string
	seen  map[string]struct{}
}

// NewPathSet builds a PathSet from paths, dropping duplicates.
func NewPathSet(paths ...string) PathSet {
	var ps PathSet
	for _, p := range paths {
		ps.Add(p)
	}
	return ps
}

// Add appends p unless it is already present. It reports whether p was added.
func (ps *PathSet) Add(p string) bool {
	if ps.seen == nil {
		ps.seen = map[string]struct{}{}
	}
	if _, ok := ps.seen[p]; ok {
		return false
	}
	ps.seen[p] = struct{}{}
	ps.order = append(ps.order, p)
	return true
}

func (ps PathSet) Len() int { return len(ps.order) }

// Slice returns a copy of the paths in arrival order.
func (ps PathSet) Slice() []string {
	return append([]string(nil), ps.order...)
}
