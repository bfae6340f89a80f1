// Package gitrepo lists git commits through go-git, numbering them so they fit
// the integer watermark model.
//
// A commit's revision is its position on the first-parent chain of the
// watched branch, counting the root commit as 1. Commits merged in from side
// branches are not listed on their own.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"

	"repowatch/internal/config"
	"repowatch/internal/vcs"
)

const remoteName = "origin"

// Fetcher keeps one in-memory clone per repository and fetches into it on
// every call.
type Fetcher struct {
	mu     sync.Mutex
	clones map[string]*clone
}

type clone struct {
	mu     sync.Mutex
	url    string
	branch string
	repo   *git.Repository
}

func New() *Fetcher {
	return &Fetcher{clones: map[string]*clone{}}
}

func (f *Fetcher) ListCommitsAfter(ctx context.Context, repo config.Repository, after int64) ([]vcs.Commit, error) {
	c := f.entry(repo)
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.sync(ctx, repo); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", vcs.ErrFetch, repo.Name, err)
	}
	ref, err := c.repo.Reference(plumbing.NewRemoteReferenceName(remoteName, c.branch), true)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: resolve %s: %w", vcs.ErrFetch, repo.Name, c.branch, err)
	}
	commits, err := listAfter(ctx, c.repo, ref.Hash(), after)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", vcs.ErrFetch, repo.Name, err)
	}
	return commits, nil
}

func (f *Fetcher) entry(repo config.Repository) *clone {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clones[repo.Name]
	// A changed URL or branch after a config reload starts from a fresh clone.
	if !ok || c.url != repo.URL || (repo.Branch != "" && c.branch != repo.Branch) {
		c = &clone{url: repo.URL, branch: repo.Branch}
		f.clones[repo.Name] = c
	}
	return c
}

func (c *clone) sync(ctx context.Context, repo config.Repository) error {
	auth := authFor(repo)
	if c.repo == nil {
		opts := &git.CloneOptions{
			URL:          repo.URL,
			Auth:         auth,
			RemoteName:   remoteName,
			SingleBranch: true,
			NoCheckout:   true,
			Tags:         git.NoTags,
		}
		if c.branch != "" {
			opts.ReferenceName = plumbing.NewBranchReferenceName(c.branch)
		}
		r, err := git.CloneContext(ctx, memory.NewStorage(), nil, opts)
		if err != nil {
			return fmt.Errorf("clone: %w", err)
		}
		if c.branch == "" {
			head, err := r.Head()
			if err != nil {
				return fmt.Errorf("resolve HEAD: %w", err)
			}
			c.branch = head.Name().Short()
		}
		c.repo = r
		return nil
	}

	spec := fmt.Sprintf("+refs/heads/%[1]s:refs/remotes/%[2]s/%[1]s", c.branch, remoteName)
	err := c.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: remoteName,
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(spec)},
		Auth:       auth,
		Tags:       git.NoTags,
		Force:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetch: %w", err)
	}
	return nil
}

func authFor(repo config.Repository) transport.AuthMethod {
	if !repo.HasCredentials() {
		return nil
	}
	return &http.BasicAuth{Username: repo.Username, Password: repo.Password}
}

// listAfter walks the first-parent chain ending at tip and returns the
// commits numbered >= after, newest first. Only the newest
// config.MaxDetailedLimit commits carry changed paths; older ones can only
// end up in an overflow summary.
func listAfter(ctx context.Context, r *git.Repository, tip plumbing.Hash, after int64) ([]vcs.Commit, error) {
	var chain []*object.Commit
	for h := tip; ; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := r.CommitObject(h)
		if err != nil {
			return nil, fmt.Errorf("read commit %s: %w", h, err)
		}
		chain = append(chain, c)
		if c.NumParents() == 0 {
			break
		}
		h = c.ParentHashes[0]
	}

	total := int64(len(chain))
	out := make([]vcs.Commit, 0)
	for i, c := range chain {
		rev := total - int64(i)
		if rev < after {
			break
		}
		var paths vcs.PathSet
		if i < config.MaxDetailedLimit {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			var err error
			if paths, err = changedPaths(c); err != nil {
				return nil, err
			}
		}
		out = append(out, vcs.Commit{
			Revision: rev,
			Author:   c.Author.Name,
			Time:     c.Author.When,
			Message:  strings.TrimSpace(c.Message),
			Paths:    paths,
		})
	}
	return out, nil
}

// changedPaths diffs c against its first parent (or the empty tree).
func changedPaths(c *object.Commit) (vcs.PathSet, error) {
	var ps vcs.PathSet
	tree, err := c.Tree()
	if err != nil {
		return ps, fmt.Errorf("tree of %s: %w", c.Hash, err)
	}
	var parentTree *object.Tree
	if c.NumParents() > 0 {
		parent, err := c.Parent(0)
		if err != nil {
			return ps, fmt.Errorf("parent of %s: %w", c.Hash, err)
		}
		if parentTree, err = parent.Tree(); err != nil {
			return ps, fmt.Errorf("tree of %s: %w", parent.Hash, err)
		}
	}
	changes, err := object.DiffTree(parentTree, tree)
	if err != nil {
		return ps, fmt.Errorf("diff %s: %w", c.Hash, err)
	}
	for _, ch := range changes {
		name := ch.To.Name
		if name == "" {
			name = ch.From.Name
		}
		ps.Add("/" + name)
	}
	return ps, nil
}
