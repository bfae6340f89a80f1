package sinks

import (
	"context"

	"repowatch/internal/notifier"
	logx "repowatch/pkg/logx"
)

// Log writes notifications to the structured log. It is the dry-run sink.
type Log struct {
	log logx.Logger
}

func NewLog(log logx.Logger) *Log {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Log{log: log}
}

func (l *Log) Name() string { return "log" }

func (l *Log) Show(ctx context.Context, n notifier.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.log.Info(n.Title, logx.String("repo", n.Repo), logx.String("body", n.Body))
	return nil
}
