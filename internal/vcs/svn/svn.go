// Package svn lists Subversion commits by running the svn client with XML output.
package svn

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"repowatch/internal/config"
	"repowatch/internal/vcs"
)

// Client runs `svn log`. The zero value uses "svn" from PATH.
type Client struct {
	Binary string
	// run is swapped in tests.
	run func(ctx context.Context, bin string, args []string) ([]byte, error)
}

func New() *Client { return &Client{Binary: "svn"} }

// ListCommitsAfter returns revisions HEAD down to after (inclusive), newest first.
func (c *Client) ListCommitsAfter(ctx context.Context, repo config.Repository, after int64) ([]vcs.Commit, error) {
	out, err := c.exec(ctx, logArgs(repo, after))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", vcs.ErrFetch, repo.Name, err)
	}
	commits, err := parseLog(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", vcs.ErrFetch, repo.Name, err)
	}
	return commits, nil
}

func logArgs(repo config.Repository, after int64) []string {
	args := []string{
		"log", "--xml", "--verbose", "--non-interactive",
		"--revision", "HEAD:" + strconv.FormatInt(max(after, 0), 10),
	}
	if repo.HasCredentials() {
		args = append(args, "--username", repo.Username, "--password", repo.Password, "--no-auth-cache")
	}
	return append(args, repo.URL)
}

func (c *Client) exec(ctx context.Context, args []string) ([]byte, error) {
	bin := c.Binary
	if bin == "" {
		bin = "svn"
	}
	if c.run != nil {
		return c.run(ctx, bin, args)
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && stderr.Len() > 0 {
			return nil, fmt.Errorf("svn log: %v: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("svn log: %w", err)
	}
	return stdout.Bytes(), nil
}

type xmlLog struct {
	Entries []xmlEntry `xml:"logentry"`
}

type xmlEntry struct {
	Revision int64     `xml:"revision,attr"`
	Author   string    `xml:"author"`
	Date     string    `xml:"date"`
	Message  string    `xml:"msg"`
	Paths    []xmlPath `xml:"paths>path"`
}

type xmlPath struct {
	Action string `xml:"action,attr"`
	Path   string `xml:",chardata"`
}

func parseLog(b []byte) ([]vcs.Commit, error) {
	var doc xmlLog
	if err := xml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse svn log: %w", err)
	}
	out := make([]vcs.Commit, 0, len(doc.Entries))
	for _, e := range doc.Entries {
		c := vcs.Commit{
			Revision: e.Revision,
			Author:   e.Author,
			Message:  e.Message,
		}
		// Revisions without a date (e.g. r0 of an empty repository) keep the zero time.
		if e.Date != "" {
			t, err := time.Parse(time.RFC3339Nano, e.Date)
			if err != nil {
				return nil, fmt.Errorf("parse svn log: r%d: %w", e.Revision, err)
			}
			c.Time = t
		}
		for _, p := range e.Paths {
			c.Paths.Add(strings.TrimSpace(p.Path))
		}
		out = append(out, c)
	}
	return out, nil
}
