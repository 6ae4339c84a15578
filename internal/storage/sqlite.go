package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "wknotifier/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadSnapshot(ctx context.Context) (Snapshot, bool, error) {
	if s == nil || s.db == nil {
		return Snapshot{}, false, ErrDisabled
	}
	var (
		snap Snapshot
		at   string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT lessons, reviews, cycle_id, message, saved_at FROM snapshot WHERE id = 1`,
	).Scan(&snap.State.Lessons, &snap.State.Reviews, &snap.CycleID, &snap.Message, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	if t, perr := time.Parse(time.RFC3339Nano, at); perr == nil {
		snap.SavedAt = t
	} else {
		s.log.Debug("snapshot saved_at unreadable", logx.String("saved_at", at))
	}
	return snap, true, nil
}

func (s *sqliteStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshot(id, lessons, reviews, cycle_id, message, saved_at) VALUES(1,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET lessons=excluded.lessons, reviews=excluded.reviews,
		   cycle_id=excluded.cycle_id, message=excluded.message, saved_at=excluded.saved_at`,
		snap.State.Lessons, snap.State.Reviews, snap.CycleID, snap.Message,
		snap.SavedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}
