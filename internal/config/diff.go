package config

import (
	"sort"

	logx "repowatch/pkg/logx"
)

// RepositoryDiff lists repository names by how they changed between two configs.
type RepositoryDiff struct {
	Added   []string
	Removed []string
	Changed []string
}

func (d RepositoryDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// DiffRepositories compares repository sets by name. Output is sorted.
func DiffRepositories(oldCfg, newCfg *Config) RepositoryDiff {
	index := func(c *Config) map[string]Repository {
		m := map[string]Repository{}
		if c == nil {
			return m
		}
		for _, r := range c.Repositories {
			m[r.Name] = r
		}
		return m
	}
	before, after := index(oldCfg), index(newCfg)

	var d RepositoryDiff
	for name, r := range after {
		prev, ok := before[name]
		switch {
		case !ok:
			d.Added = append(d.Added, name)
		case prev != r:
			d.Changed = append(d.Changed, name)
		}
	}
	for name := range before {
		if _, ok := after[name]; !ok {
			d.Removed = append(d.Removed, name)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Changed)
	return d
}

// SummarizeConfigChange returns the changed top-level sections and safe
// structured fields for logging. Credentials and tokens are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var changed []string
	var fields []logx.Field

	if d := DiffRepositories(oldCfg, newCfg); !d.Empty() {
		changed = append(changed, "repositories")
		fields = append(fields,
			logx.Any("repos.added", d.Added),
			logx.Any("repos.removed", d.Removed),
			logx.Any("repos.changed", d.Changed),
		)
	}
	if oldCfg.Watch != newCfg.Watch {
		changed = append(changed, "watch")
		fields = append(fields,
			logx.String("watch.interval", newCfg.Watch.Interval),
			logx.String("watch.schedule", newCfg.Watch.Schedule),
			logx.Int("watch.max_detailed", newCfg.Watch.MaxDetailed),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		fields = append(fields, logx.String("logging.level", newCfg.Logging.Level))
	}
	on, nn := oldCfg.Notifier, newCfg.Notifier
	if on.QueueSize != nn.QueueSize || on.RatePerSec != nn.RatePerSec || on.RetryMax != nn.RetryMax ||
		on.RetryBase != nn.RetryBase || on.RetryMaxDelay != nn.RetryMaxDelay {
		changed = append(changed, "notifier")
		fields = append(fields,
			logx.Int("notifier.rate_per_sec", nn.RatePerSec),
			logx.Int("notifier.retry_max", nn.RetryMax),
		)
	}
	if oldCfg.Notifier.Sinks.Desktop != newCfg.Notifier.Sinks.Desktop ||
		oldCfg.Notifier.Sinks.Telegram != newCfg.Notifier.Sinks.Telegram ||
		oldCfg.Notifier.Sinks.LogSinkEnabled() != newCfg.Notifier.Sinks.LogSinkEnabled() {
		// Sinks are wired at startup; a restart is needed to pick these up.
		changed = append(changed, "notifier.sinks")
	}
	if oldCfg.Status != newCfg.Status {
		changed = append(changed, "status")
		fields = append(fields,
			logx.String("status.addr", newCfg.Status.Addr),
			logx.Bool("status.pprof", newCfg.Status.Pprof),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
	}
	return changed, fields
}
