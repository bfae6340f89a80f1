package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestParseYAML(t *testing.T) {
	t.Parallel()

	p := writeFile(t, t.TempDir(), "repowatch.yaml", `
repositories:
  - name: core
    url: svn://svn.example.org/core
    username: alice
    password: secret
  - name: site
    url: https://git.example.org/site.git
    kind: GIT
    branch: main
watch:
  interval: 30s
  max_detailed: 3
notifier:
  sinks:
    log: false
storage:
  driver: sqlite
  path: ./state.db
`)
	cfg, err := NewConfigManager(p).Parse()
	require.NoError(t, err)
	require.Len(t, cfg.Repositories, 2)

	assert.Equal(t, KindSVN, cfg.Repositories[0].Kind)
	assert.True(t, cfg.Repositories[0].HasCredentials())
	assert.Equal(t, KindGit, cfg.Repositories[1].Kind)
	assert.Equal(t, "main", cfg.Repositories[1].Branch)
	assert.False(t, cfg.Notifier.Sinks.LogSinkEnabled())

	iv, err := cfg.Watch.IntervalOrDefault()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, iv)
	assert.Equal(t, 3, cfg.Watch.MaxDetailedOrDefault())
	assert.Equal(t, DefaultWorkers, cfg.Watch.WorkersOrDefault())
}

func TestParseJSONRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	p := writeFile(t, t.TempDir(), "repowatch.json",
		`{"repositories":[{"name":"a","url":"svn://x"}],"watch":{"intervall":"1m"}}`)
	_, err := NewConfigManager(p).Parse()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestParseJSONRejectsTrailingData(t *testing.T) {
	t.Parallel()

	p := writeFile(t, t.TempDir(), "repowatch.json",
		`{"repositories":[{"name":"a","url":"svn://x"}]}{}`)
	_, err := NewConfigManager(p).Parse()
	assert.ErrorIs(t, err, ErrConfig)
}

func TestParseYAMLEdgeCases(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := NewConfigManager(writeFile(t, dir, "empty.yaml", "")).Parse()
	assert.ErrorIs(t, err, ErrConfig)

	_, err = NewConfigManager(writeFile(t, dir, "unknown.yml", "repositories: []\nbogus: 1\n")).Parse()
	assert.ErrorIs(t, err, ErrConfig)

	b, err := yamlToJSON([]byte("watch:\n  1: x\n"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"watch":{"1":"x"}}`, string(b))
}

func TestParseLegacyINI(t *testing.T) {
	t.Parallel()

	p := writeFile(t, t.TempDir(), "svnnotify.cfg", `
[ServerName]
server=svn://svn.example.org/repo
user=YOUR_SVN_USERNAME
pass=p#ss
last_revision=120
`)
	cfg, err := NewConfigManager(p).Parse()
	require.NoError(t, err)
	require.Len(t, cfg.Repositories, 1)

	r := cfg.Repositories[0]
	assert.Equal(t, "ServerName", r.Name)
	assert.Equal(t, "svn://svn.example.org/repo", r.URL)
	assert.Equal(t, "YOUR_SVN_USERNAME", r.Username)
	assert.Equal(t, "p#ss", r.Password)
	assert.Equal(t, KindSVN, r.Kind)
}

func TestParseLegacyMissingServer(t *testing.T) {
	t.Parallel()

	p := writeFile(t, t.TempDir(), "svnnotify.cfg", "[broken]\nuser=x\n")
	_, err := NewConfigManager(p).Parse()
	assert.ErrorIs(t, err, ErrConfig)
}

func TestParseLegacyDottedSections(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := writeFile(t, dir, "svnnotify.cfg", "[proj]\nserver=svn://a/proj\nuser=alice\n\n[proj.docs]\nserver=svn://b/docs\n")
	cfg, err := NewConfigManager(p).Parse()
	require.NoError(t, err)
	require.Len(t, cfg.Repositories, 2)
	assert.Equal(t, "proj.docs", cfg.Repositories[1].Name)
	assert.Equal(t, "svn://b/docs", cfg.Repositories[1].URL)
	assert.Empty(t, cfg.Repositories[1].Username)

	p = writeFile(t, dir, "orphan.cfg", "[proj]\nserver=svn://a/proj\n\n[proj.docs]\nuser=bob\n")
	_, err = NewConfigManager(p).Parse()
	assert.ErrorIs(t, err, ErrConfig)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	repo := func(name, url string) Repository { return Repository{Name: name, URL: url} }
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{name: "valid", cfg: Config{Repositories: []Repository{repo("a", "svn://a")}}, ok: true},
		{name: "empty list", cfg: Config{}},
		{name: "missing name", cfg: Config{Repositories: []Repository{repo(" ", "svn://a")}}},
		{name: "missing url", cfg: Config{Repositories: []Repository{repo("a", "")}}},
		{name: "duplicate", cfg: Config{Repositories: []Repository{repo("a", "svn://a"), repo("a", "svn://b")}}},
		{name: "reserved name", cfg: Config{Repositories: []Repository{repo("DEFAULT", "svn://a")}}},
		{name: "reserved name lowercase", cfg: Config{Repositories: []Repository{repo("default", "svn://a")}}},
		{name: "bracket in name", cfg: Config{Repositories: []Repository{repo("a]b", "svn://a")}}},
		{name: "newline in name", cfg: Config{Repositories: []Repository{repo("a\nb", "svn://a")}}},
		{name: "dotted name", cfg: Config{Repositories: []Repository{repo("proj.docs", "svn://a")}}, ok: true},
		{name: "unknown kind", cfg: Config{Repositories: []Repository{{Name: "a", URL: "x", Kind: "hg"}}}},
		{name: "max_detailed too large", cfg: Config{Repositories: []Repository{repo("a", "svn://a")}, Watch: WatchConfig{MaxDetailed: MaxDetailedLimit + 1}}},
		{name: "bad interval", cfg: Config{Repositories: []Repository{repo("a", "svn://a")}, Watch: WatchConfig{Interval: "soon"}}},
		{
			name: "telegram without chat",
			cfg: Config{
				Repositories: []Repository{repo("a", "svn://a")},
				Notifier:     NotifierConfig{Sinks: SinksConfig{Telegram: TelegramSink{Enabled: true, Token: "t"}}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, ErrConfig), "err=%v", err)
		})
	}
}

func TestLocateExplicit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := writeFile(t, dir, "custom.yaml", "repositories: []\n")
	got, err := Locate(p)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = Locate(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, ErrConfig)
}

func TestLocateSearchesUserConfigDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)
	t.Chdir(t.TempDir())

	require.NoError(t, os.MkdirAll(filepath.Join(home, AppDirName), 0o755))
	want := writeFile(t, filepath.Join(home, AppDirName), "svnnotify.cfg", "[a]\nserver=svn://a\n")

	got, err := Locate("")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDefaultStoragePath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, filepath.Join("etc", "svnnotify.cfg"), DefaultStoragePath(filepath.Join("etc", "svnnotify.cfg")))
	assert.Equal(t, filepath.Join("etc", "repowatch.state"), DefaultStoragePath(filepath.Join("etc", "repowatch.yaml")))
}

func TestDiffRepositories(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{Repositories: []Repository{
		{Name: "a", URL: "svn://a"},
		{Name: "b", URL: "svn://b"},
	}}
	newCfg := &Config{Repositories: []Repository{
		{Name: "b", URL: "svn://b2"},
		{Name: "c", URL: "svn://c"},
	}}
	d := DiffRepositories(oldCfg, newCfg)
	assert.Equal(t, []string{"c"}, d.Added)
	assert.Equal(t, []string{"a"}, d.Removed)
	assert.Equal(t, []string{"b"}, d.Changed)

	changed, fields := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"repositories"}, changed)
	assert.NotEmpty(t, fields)

	assert.True(t, DiffRepositories(oldCfg, oldCfg).Empty())
}

func TestSummarizeConfigChangeSections(t *testing.T) {
	t.Parallel()

	base := Config{Repositories: []Repository{{Name: "a", URL: "svn://a"}}}
	next := base
	next.Notifier.RatePerSec = 3
	next.Status.Addr = "127.0.0.1:6061"
	next.Notifier.Sinks.Telegram = TelegramSink{Enabled: true, Token: "tok", ChatID: 1}

	changed, fields := SummarizeConfigChange(&base, &next)
	assert.Equal(t, []string{"notifier", "notifier.sinks", "status"}, changed)
	assert.NotEmpty(t, fields)

	changed, _ = SummarizeConfigChange(&base, &base)
	assert.Empty(t, changed)
}

func TestWatchPublishesReload(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "repowatch.json", `{"repositories":[{"name":"a","url":"svn://a"}]}`)

	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)
	updates := m.Subscribe(1)
	defer m.Unsubscribe(updates)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// Give the watcher time to register before editing.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(p, []byte(`{"repositories":[{"name":"a","url":"svn://a"},{"name":"b","url":"svn://b"}]}`), 0o600))

	select {
	case cfg := <-updates:
		assert.Len(t, cfg.Repositories, 2)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}
	cancel()
	<-done
}
