package sinks

import (
	"errors"

	"repowatch/internal/config"
	"repowatch/internal/notifier"
	logx "repowatch/pkg/logx"
)

// Set is the sink list built from config plus whatever needs closing.
type Set struct {
	Sinks   []notifier.Sink
	closers []func() error
}

func (s *Set) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build creates the sinks enabled in cfg. With dryRun only the log sink is
// created, whatever cfg says.
func Build(cfg config.SinksConfig, dryRun bool, log logx.Logger) (*Set, error) {
	set := &Set{}
	if dryRun {
		set.Sinks = append(set.Sinks, NewLog(log.With(logx.String("sink", "log"), logx.Bool("dry_run", true))))
		return set, nil
	}
	if cfg.LogSinkEnabled() {
		set.Sinks = append(set.Sinks, NewLog(log.With(logx.String("sink", "log"))))
	}
	if cfg.Desktop.Enabled {
		timeout, err := config.ParseDurationField("notifier.sinks.desktop.timeout", cfg.Desktop.Timeout)
		if err != nil {
			return nil, err
		}
		d, err := NewDesktop(cfg.Desktop.AppName, timeout)
		if err != nil {
			_ = set.Close()
			return nil, err
		}
		set.Sinks = append(set.Sinks, d)
		set.closers = append(set.closers, d.Close)
	}
	if cfg.Telegram.Enabled {
		t, err := NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, cfg.Telegram.ThreadID)
		if err != nil {
			_ = set.Close()
			return nil, err
		}
		set.Sinks = append(set.Sinks, t)
	}
	return set, nil
}
