package storage

import (
	"context"
	"errors"
	"strings"

	logx "wknotifier/pkg/logx"
)

// Store is the persistence API used by the poll loop.
type Store interface {
	// LoadSnapshot returns the last saved snapshot; ok is false when none exists.
	LoadSnapshot(ctx context.Context) (s Snapshot, ok bool, err error)
	// SaveSnapshot replaces the stored snapshot. A zero SavedAt is set to now.
	SaveSnapshot(ctx context.Context, s Snapshot) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
