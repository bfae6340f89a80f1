package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repowatch/internal/config"
	"repowatch/internal/discovery"
	"repowatch/internal/vcs"
)

const testConfig = `
repositories:
  - name: core
    url: svn://svn.example.org/core
  - name: site
    url: svn://svn.example.org/site
watch:
  interval: 1m
  max_detailed: 2
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "repowatch.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

type fakeFetcher struct {
	mu     sync.Mutex
	afters map[string][]int64
	fail   map[string]bool
}

func (f *fakeFetcher) ListCommitsAfter(_ context.Context, repo config.Repository, after int64) ([]vcs.Commit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.afters == nil {
		f.afters = map[string][]int64{}
	}
	f.afters[repo.Name] = append(f.afters[repo.Name], after)
	if f.fail[repo.Name] {
		return nil, errors.New("connection refused")
	}
	var out []vcs.Commit
	for rev := int64(3); rev >= max(after, 1); rev-- {
		out = append(out, vcs.Commit{
			Revision: rev,
			Author:   "alice",
			Time:     time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
			Message:  "change",
			Paths:    vcs.NewPathSet("/trunk/a.go"),
		})
	}
	return out, nil
}

func (f *fakeFetcher) seen(repo string) []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.afters[repo]...)
}

func TestRunOncePersistsAcrossRestarts(t *testing.T) {
	cfgPath := writeConfig(t, testConfig)
	ctx := context.Background()

	f := &fakeFetcher{}
	a, err := newApp(Options{ConfigPath: cfgPath}, f)
	require.NoError(t, err)
	require.NoError(t, a.RunOnce(ctx))
	require.NoError(t, a.Stop(ctx, StopOnceDone))

	assert.Equal(t, []int64{0}, f.seen("core"))
	assert.Equal(t, []int64{0}, f.seen("site"))

	state, err := os.ReadFile(filepath.Join(filepath.Dir(cfgPath), "repowatch.state"))
	require.NoError(t, err)
	assert.Contains(t, string(state), "[core]")
	assert.Contains(t, string(state), "last_revision = 3")

	f2 := &fakeFetcher{}
	b, err := newApp(Options{ConfigPath: cfgPath}, f2)
	require.NoError(t, err)
	require.NoError(t, b.RunOnce(ctx))
	require.NoError(t, b.Stop(ctx, StopOnceDone))

	assert.Equal(t, []int64{3}, f2.seen("core"))
	assert.Equal(t, []int64{3}, f2.seen("site"))
}

func TestRunOnceIsolatesFailures(t *testing.T) {
	cfgPath := writeConfig(t, testConfig)
	ctx := context.Background()

	f := &fakeFetcher{fail: map[string]bool{"site": true}}
	a, err := newApp(Options{ConfigPath: cfgPath, DryRun: true}, f)
	require.NoError(t, err)

	err = a.RunOnce(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, discovery.ErrFetch))

	got, err := a.marks.Get(ctx, "core")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)

	got, err = a.marks.Get(ctx, "site")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)

	require.NoError(t, a.Stop(ctx, StopOnceDone))

	// Dry runs never touch the state file.
	_, err = os.Stat(filepath.Join(filepath.Dir(cfgPath), "repowatch.state"))
	assert.True(t, os.IsNotExist(err))
}

func TestStopDeliversQueuedNotifications(t *testing.T) {
	cfgPath := writeConfig(t, testConfig+"notifier:\n  rate_per_sec: 2\n")
	ctx := context.Background()

	a, err := newApp(Options{ConfigPath: cfgPath, DryRun: true}, &fakeFetcher{})
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))

	// Both first cycles queue an overflow summary plus two commits each;
	// the limiter lets two through right away and holds the rest.
	require.Eventually(t, func() bool {
		core, _ := a.marks.Get(ctx, "core")
		site, _ := a.marks.Get(ctx, "site")
		return core == 3 && site == 3
	}, 5*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(stopCtx, StopSIGTERM))

	assert.Len(t, a.notif.History(), 6)
}

func TestNewAppRejectsBadConfig(t *testing.T) {
	cfgPath := writeConfig(t, testConfig+"  timezone: Mars/Olympus\n")
	_, err := newApp(Options{ConfigPath: cfgPath}, &fakeFetcher{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrConfig))
}

func TestMapSchedulerConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		watch    config.WatchConfig
		override time.Duration
		want     string
		wantErr  bool
	}{
		{name: "default", want: "@every 5m0s"},
		{name: "interval", watch: config.WatchConfig{Interval: "30s"}, want: "@every 30s"},
		{name: "schedule wins", watch: config.WatchConfig{Interval: "30s", Schedule: "@hourly"}, want: "@hourly"},
		{name: "override wins", watch: config.WatchConfig{Schedule: "@hourly"}, override: 10 * time.Second, want: "@every 10s"},
		{name: "bad schedule", watch: config.WatchConfig{Schedule: "every now and then"}, wantErr: true},
		{name: "bad timezone", watch: config.WatchConfig{Timezone: "Nowhere/Land"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := mapSchedulerConfig(&config.Config{Watch: tc.watch}, tc.override)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Spec)
			assert.Equal(t, config.DefaultWorkers, got.Workers)
			assert.Equal(t, config.DefaultCycleTimeout, got.CycleTimeout)
		})
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	cfgPath := filepath.Join("etc", "repowatch.yaml")

	sc, err := mapStorageConfig(&config.Config{}, cfgPath, false)
	require.NoError(t, err)
	assert.Equal(t, "file", sc.Driver)
	assert.Equal(t, filepath.Join("etc", "repowatch.state"), sc.Path)

	sc, err = mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: "sqlite", Path: "x.db"}}, cfgPath, true)
	require.NoError(t, err)
	assert.Equal(t, "memory", sc.Driver)

	sc, err = mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "3s"}}, cfgPath, false)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, sc.BusyTimeout)

	_, err = mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: "sqlite"}}, cfgPath, false)
	assert.Error(t, err)

	_, err = mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: "redis"}}, cfgPath, false)
	assert.Error(t, err)
}

func TestMapNotifierConfig(t *testing.T) {
	t.Parallel()

	nc, err := mapNotifierConfig(&config.Config{Notifier: config.NotifierConfig{RetryBase: "1s"}})
	require.NoError(t, err)
	assert.Equal(t, time.Second, nc.RetryBase)
	assert.Equal(t, 10*time.Second, nc.RetryMaxDelay)

	_, err = mapNotifierConfig(&config.Config{Notifier: config.NotifierConfig{QueueSize: -1}})
	assert.Error(t, err)

	_, err = mapNotifierConfig(&config.Config{Notifier: config.NotifierConfig{RetryMaxDelay: "soon"}})
	assert.Error(t, err)
}

func TestCycleRecord(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := cycleRecord(at, discovery.CycleReport{Repo: "core", From: 1, To: 9, Found: 8, Shown: 5, Overflow: 3, Took: 1500 * time.Millisecond})
	assert.Equal(t, "core", rec.Repo)
	assert.Equal(t, int64(9), rec.To)
	assert.Equal(t, int64(1500), rec.TookMS)
	assert.Equal(t, at, rec.At)
}
