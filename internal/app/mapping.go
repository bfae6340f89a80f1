package app

import (
	"fmt"
	"net"
	"strings"
	"time"

	"repowatch/internal/config"
	"repowatch/internal/notifier"
	"repowatch/internal/observability/status"
	"repowatch/internal/scheduler"
	"repowatch/internal/storage"
	logx "repowatch/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapStorageConfig resolves the watermark store. An empty path falls back to
// a location derived from the config file.
func mapStorageConfig(cfg *config.Config, cfgPath string, dryRun bool) (storage.Config, error) {
	if dryRun {
		return storage.Config{Driver: "memory"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "file":
		if path == "" {
			path = config.DefaultStoragePath(cfgPath)
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	case "memory", "mem":
		return storage.Config{Driver: "memory"}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	if nc.QueueSize < 0 || nc.RatePerSec < 0 || nc.RetryMax < 0 {
		return notifier.Config{}, fmt.Errorf("notifier: queue_size, rate_per_sec and retry_max must be >= 0")
	}
	base, err := config.ParseDurationOrDefault("notifier.retry_base", nc.RetryBase, 500*time.Millisecond)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", nc.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		QueueSize:     nc.QueueSize,
		RatePerSec:    nc.RatePerSec,
		RetryMax:      nc.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
	}, nil
}

// mapSchedulerConfig picks the schedule: an explicit interval override (CLI)
// wins over watch.schedule, which wins over watch.interval.
func mapSchedulerConfig(cfg *config.Config, override time.Duration) (scheduler.Config, error) {
	w := cfg.Watch
	timeout, err := w.CycleTimeoutOrDefault()
	if err != nil {
		return scheduler.Config{}, err
	}

	var spec string
	switch {
	case override > 0:
		spec = "@every " + override.String()
	case strings.TrimSpace(w.Schedule) != "":
		spec = strings.TrimSpace(w.Schedule)
	default:
		iv, err := w.IntervalOrDefault()
		if err != nil {
			return scheduler.Config{}, err
		}
		spec = "@every " + iv.String()
	}
	if _, err := scheduler.ParseSchedule(spec); err != nil {
		return scheduler.Config{}, fmt.Errorf("watch.schedule: %w", err)
	}

	if tz := strings.TrimSpace(w.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, fmt.Errorf("watch.timezone: invalid %q: %w", tz, err)
		}
	}
	return scheduler.Config{
		Spec:         spec,
		Workers:      w.WorkersOrDefault(),
		CycleTimeout: timeout,
		Timezone:     w.Timezone,
		HistorySize:  200,
	}, nil
}

func mapStatusConfig(cfg *config.Config) (status.Config, error) {
	sc := status.Config{
		Addr:          strings.TrimSpace(cfg.Status.Addr),
		Token:         strings.TrimSpace(cfg.Status.Token),
		Pprof:         cfg.Status.Pprof,
		AllowInsecure: cfg.Status.AllowInsecure,
	}
	if sc.Addr != "" {
		if _, _, err := net.SplitHostPort(sc.Addr); err != nil {
			return status.Config{}, fmt.Errorf("status.addr: %w", err)
		}
	}
	return sc, nil
}

// location resolves watch.timezone for commit timestamps.
func location(cfg *config.Config) *time.Location {
	tz := strings.TrimSpace(cfg.Watch.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

// validate is the hot-reload gate: a config that would fail any mapping is
// rejected before it is committed.
func validate(cfg *config.Config, cfgPath string, override time.Duration) error {
	if _, err := mapStorageConfig(cfg, cfgPath, false); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg, override); err != nil {
		return err
	}
	if _, err := mapStatusConfig(cfg); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("notifier.sinks.desktop.timeout", cfg.Notifier.Sinks.Desktop.Timeout); err != nil {
		return err
	}
	return nil
}
