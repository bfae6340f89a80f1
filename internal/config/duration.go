package config

import (
	"fmt"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// IntervalOrDefault returns the polling interval (watch.interval or DefaultInterval).
func (w WatchConfig) IntervalOrDefault() (time.Duration, error) {
	return ParseDurationOrDefault("watch.interval", w.Interval, DefaultInterval)
}

// CycleTimeoutOrDefault returns the per-cycle bound (watch.cycle_timeout or DefaultCycleTimeout).
func (w WatchConfig) CycleTimeoutOrDefault() (time.Duration, error) {
	return ParseDurationOrDefault("watch.cycle_timeout", w.CycleTimeout, DefaultCycleTimeout)
}

func (w WatchConfig) MaxDetailedOrDefault() int {
	if w.MaxDetailed <= 0 {
		return DefaultMaxDetailed
	}
	return w.MaxDetailed
}

func (w WatchConfig) WorkersOrDefault() int {
	if w.Workers <= 0 {
		return DefaultWorkers
	}
	return w.Workers
}
