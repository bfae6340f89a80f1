package storage

import (
	"context"
	"errors"
	"strings"

	logx "repowatch/pkg/logx"
)

// Store is the minimal persistence API used by the watermark store and app.
//
// GetWatermark reports ok=false when the repository has never been recorded.
// PutWatermark must leave every other repository's entry intact.
type Store interface {
	GetWatermark(ctx context.Context, repo string) (rev int64, ok bool, err error)
	PutWatermark(ctx context.Context, repo string, rev int64) error
	AppendCycle(ctx context.Context, rec CycleRecord) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory", "mem":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
