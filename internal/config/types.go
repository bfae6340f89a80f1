package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// ErrConfig marks a configuration that cannot be used to start the watcher.
var ErrConfig = errors.New("invalid config")

const (
	KindSVN = "svn"
	KindGit = "git"
)

// Defaults used when the corresponding field is omitted.
const (
	DefaultInterval     = 5 * time.Minute
	DefaultMaxDetailed  = 5
	DefaultWorkers      = 4
	DefaultCycleTimeout = 2 * time.Minute
)

// MaxDetailedLimit caps watch.max_detailed. Backends may skip per-commit
// detail (changed paths) for commits older than the newest MaxDetailedLimit.
const MaxDetailedLimit = 100

type Config struct {
	Repositories []Repository   `json:"repositories"`
	Watch        WatchConfig    `json:"watch"`
	Notifier     NotifierConfig `json:"notifier"`
	Storage      StorageConfig  `json:"storage"`
	Logging      LoggingConfig  `json:"logging"`
	Status       StatusConfig   `json:"status"`
}

// Repository identifies one watched repository.
//
// Name is both the display label and the watermark key, so it must be unique.
type Repository struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Kind     string `json:"kind,omitempty"` // "svn" (default) or "git"
	Branch   string `json:"branch,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// HasCredentials reports whether a username was configured.
func (r Repository) HasCredentials() bool { return strings.TrimSpace(r.Username) != "" }

// WatchConfig controls discovery scheduling.
//
// All durations are Go duration strings (e.g. "30s", "5m").
// Schedule, when set, wins over Interval and accepts the scheduler's
// cron/interval syntax ("*/10 * * * *", "@hourly", "00:10").
type WatchConfig struct {
	Interval     string `json:"interval,omitempty"`
	Schedule     string `json:"schedule,omitempty"`
	MaxDetailed  int    `json:"max_detailed,omitempty"`
	Workers      int    `json:"workers,omitempty"`
	CycleTimeout string `json:"cycle_timeout,omitempty"`
	// Timezone is used for commit timestamps in notifications and cron schedules.
	Timezone string `json:"timezone,omitempty"`
}

// NotifierConfig controls the notification pipeline and its sinks.
type NotifierConfig struct {
	QueueSize     int         `json:"queue_size,omitempty"`
	RatePerSec    int         `json:"rate_per_sec,omitempty"`
	RetryMax      int         `json:"retry_max,omitempty"`
	RetryBase     string      `json:"retry_base,omitempty"`
	RetryMaxDelay string      `json:"retry_max_delay,omitempty"`
	Sinks         SinksConfig `json:"sinks"`
}

type SinksConfig struct {
	// Log is enabled unless explicitly set to false.
	Log      *bool        `json:"log,omitempty"`
	Desktop  DesktopSink  `json:"desktop"`
	Telegram TelegramSink `json:"telegram"`
}

type DesktopSink struct {
	Enabled bool   `json:"enabled"`
	AppName string `json:"app_name,omitempty"`
	// Timeout is a Go duration string; "0s" lets the notification server decide.
	Timeout string `json:"timeout,omitempty"`
}

type TelegramSink struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// StorageConfig controls where watermarks live.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./repowatch.state" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// StatusConfig controls the local HTTP status endpoint. It is off while
// Addr is empty.
//
// Example:
//
//	"status": { "addr": "127.0.0.1:6061", "pprof": true }
type StatusConfig struct {
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LogSinkEnabled reports whether the log sink is on (default true).
func (s SinksConfig) LogSinkEnabled() bool { return s.Log == nil || *s.Log }

// Validate checks the repository list. It never mutates cfg.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", ErrConfig)
	}
	if len(c.Repositories) == 0 {
		return fmt.Errorf("%w: no repositories configured", ErrConfig)
	}
	seen := make(map[string]struct{}, len(c.Repositories))
	for i, r := range c.Repositories {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			return fmt.Errorf("%w: repositories[%d].name is required", ErrConfig, i)
		}
		if err := checkRepoName(name); err != nil {
			return fmt.Errorf("%w: repositories[%d]: %v", ErrConfig, i, err)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate repository name %q", ErrConfig, name)
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(r.URL) == "" {
			return fmt.Errorf("%w: repositories[%d] (%s): url is required", ErrConfig, i, name)
		}
		switch strings.ToLower(strings.TrimSpace(r.Kind)) {
		case "", KindSVN, KindGit:
		default:
			return fmt.Errorf("%w: repositories[%d] (%s): unknown kind %q", ErrConfig, i, name, r.Kind)
		}
	}
	if c.Watch.MaxDetailed > MaxDetailedLimit {
		return fmt.Errorf("%w: watch.max_detailed must be at most %d", ErrConfig, MaxDetailedLimit)
	}
	if _, err := ParseDurationField("watch.interval", c.Watch.Interval); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if _, err := ParseDurationField("watch.cycle_timeout", c.Watch.CycleTimeout); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if c.Notifier.Sinks.Telegram.Enabled {
		if strings.TrimSpace(c.Notifier.Sinks.Telegram.Token) == "" || c.Notifier.Sinks.Telegram.ChatID == 0 {
			return fmt.Errorf("%w: notifier.sinks.telegram requires token and chat_id", ErrConfig)
		}
	}
	return nil
}

// checkRepoName rejects names that cannot serve as a state file section.
func checkRepoName(name string) error {
	if strings.EqualFold(name, ini.DefaultSection) {
		return fmt.Errorf("name %q is reserved", name)
	}
	if strings.ContainsAny(name, "[]\r\n") {
		return fmt.Errorf("name %q contains a bracket or line break", name)
	}
	return nil
}

// Normalize trims names and fills the repository kind.
func (c *Config) Normalize() {
	for i := range c.Repositories {
		r := &c.Repositories[i]
		r.Name = strings.TrimSpace(r.Name)
		r.URL = strings.TrimSpace(r.URL)
		r.Kind = strings.ToLower(strings.TrimSpace(r.Kind))
		if r.Kind == "" {
			r.Kind = KindSVN
		}
	}
}
