package discovery

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"repowatch/internal/config"
	"repowatch/internal/eventbus"
	"repowatch/internal/notifier"
	"repowatch/internal/vcs"
	"repowatch/internal/watermark"
	logx "repowatch/pkg/logx"
)

// ErrFetch is vcs.ErrFetch, re-exported for callers that only see discovery.
var ErrFetch = vcs.ErrFetch

// Dispatcher accepts rendered notifications. *notifier.Service implements it.
type Dispatcher interface {
	Notify(ctx context.Context, n notifier.Notification) error
}

// CycleReport summarizes one cycle. From is the watermark read at the start;
// To is the watermark after the cycle (equal to From when nothing advanced).
type CycleReport struct {
	Repo     string        `json:"repo"`
	From     int64         `json:"from"`
	To       int64         `json:"to"`
	Found    int           `json:"found"`
	Shown    int           `json:"shown"`
	Overflow int           `json:"overflow"`
	Took     time.Duration `json:"took"`
	Error    string        `json:"error,omitempty"`
}

// Deps are the collaborators shared by every Monitor.
type Deps struct {
	Fetcher     vcs.Fetcher
	Watermarks  *watermark.Store
	Notifier    Dispatcher
	Formatter   Formatter
	MaxDetailed int
	Log         logx.Logger
	Bus         eventbus.Bus
}

// Monitor polls a single repository.
type Monitor struct {
	repo config.Repository
	deps Deps
	log  logx.Logger
}

func NewMonitor(repo config.Repository, deps Deps) *Monitor {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.Nop()
	}
	return &Monitor{
		repo: repo,
		deps: deps,
		log:  deps.Log.With(logx.String("repo", repo.Name)),
	}
}

// RunCycle performs one fetch/select/notify/persist pass.
//
// A fetch error leaves the watermark untouched. A failed watermark write
// fails the cycle and the same range is fetched again next time.
func (m *Monitor) RunCycle(ctx context.Context) (rep CycleReport, err error) {
	start := time.Now()
	rep.Repo = m.repo.Name
	defer func() {
		rep.Took = time.Since(start)
		if err != nil {
			rep.Error = err.Error()
		}
		m.finish(rep, err)
	}()

	unlock := m.deps.Watermarks.Lock(m.repo.Name)
	defer unlock()

	from, err := m.deps.Watermarks.Get(ctx, m.repo.Name)
	if err != nil {
		return rep, err
	}
	rep.From, rep.To = from, from

	fetched, err := m.deps.Fetcher.ListCommitsAfter(ctx, m.repo, from)
	if err != nil {
		if !errors.Is(err, ErrFetch) {
			err = fmt.Errorf("%w: %s: %w", ErrFetch, m.repo.Name, err)
		}
		return rep, err
	}

	commits := newerThan(fetched, from)
	rep.Found = len(commits)
	if len(commits) == 0 {
		m.log.Debug("no new commits", logx.Int64("watermark", from))
		return rep, nil
	}

	slices.Reverse(commits)
	res := Select(commits, m.deps.MaxDetailed)
	rep.Shown, rep.Overflow = len(res.Commits), res.Overflow

	if res.Overflow > 0 {
		m.dispatch(ctx, m.deps.Formatter.Overflow(m.repo.Name, res.Overflow, len(res.Commits)))
	}
	for _, c := range res.Commits {
		m.dispatch(ctx, m.deps.Formatter.Commit(m.repo.Name, c))
	}

	// The overflow commits count too, so they are never surfaced later.
	top := maxRevision(commits)
	if _, err := m.deps.Watermarks.Set(ctx, m.repo.Name, top); err != nil {
		return rep, err
	}
	rep.To = top
	return rep, nil
}

func (m *Monitor) dispatch(ctx context.Context, n notifier.Notification) {
	if err := m.deps.Notifier.Notify(ctx, n); err != nil {
		m.log.Warn("notification not queued", logx.String("title", n.Title), logx.Err(err))
	}
}

func (m *Monitor) finish(rep CycleReport, err error) {
	typ := eventbus.TypeCycleCompleted
	if err != nil {
		typ = eventbus.TypeCycleFailed
		m.log.Error("cycle failed", logx.Int64("watermark", rep.From), logx.Duration("took", rep.Took), logx.Err(err))
	} else if rep.Found > 0 {
		m.log.Info("cycle completed",
			logx.Int64("from", rep.From),
			logx.Int64("to", rep.To),
			logx.Int("found", rep.Found),
			logx.Int("shown", rep.Shown),
			logx.Int("overflow", rep.Overflow),
			logx.Duration("took", rep.Took),
		)
	}
	m.deps.Bus.Publish(eventbus.Event{Type: typ, Data: rep})
}

// newerThan drops the boundary entry and anything else at or below w,
// keeping the fetch order.
func newerThan(commits []vcs.Commit, w int64) []vcs.Commit {
	out := make([]vcs.Commit, 0, len(commits))
	for _, c := range commits {
		if c.Revision > w {
			out = append(out, c)
		}
	}
	return out
}

func maxRevision(commits []vcs.Commit) int64 {
	var top int64
	for _, c := range commits {
		top = max(top, c.Revision)
	}
	return top
}
