package prefs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

type SQLiteStore struct {
	db   *sql.DB
	opts Options
	mu   sync.Mutex
}

func OpenSQLite(path string, opts Options) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	s := &SQLiteStore{db: db, opts: opts.withDefaults()}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	stmts := []string{
		`PRAGMA journal_mode = WAL;`,
		`CREATE TABLE IF NOT EXISTS preferences (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			saved_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		raw       string
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM preferences WHERE key = ?`, Key).Scan(&raw, &expiresAt)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.opts.Logger.Warn("read preferences", zap.Error(err))
		}
		return Defaults()
	}
	if expired(expiresAt, s.opts.Now()) {
		s.opts.Logger.Debug("stored preferences expired", zap.Int64("expires_at", expiresAt))
		return Defaults()
	}
	p, err := decode([]byte(raw), s.opts.Catalog)
	if err != nil {
		s.opts.Logger.Warn("falling back to default preferences", zap.Error(err))
		return Defaults()
	}
	return p
}

func (s *SQLiteStore) Save(ctx context.Context, p Preferences) error {
	if err := p.Validate(s.opts.Catalog); err != nil {
		return err
	}
	raw, err := encode(p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences(key, value, saved_at, expires_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value=excluded.value,
			saved_at=excluded.saved_at,
			expires_at=excluded.expires_at
	`, Key, string(raw), now.Unix(), now.Add(Retention).Unix()); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

// Reset deletes the stored record.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM preferences WHERE key = ?`, Key); err != nil {
		return fmt.Errorf("reset preferences: %w", err)
	}
	return nil
}

// writeRaw bypasses validation; tests use it to plant damaged records.
func (s *SQLiteStore) writeRaw(ctx context.Context, raw string, expiresAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences(key, value, saved_at, expires_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, expires_at=excluded.expires_at
	`, Key, raw, s.opts.Now().Unix(), expiresAt)
	return err
}
