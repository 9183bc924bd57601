package infrastructure

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/agromesh/fieldsync/config"
	appLogger "github.com/agromesh/fieldsync/pkg/logger"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is recorded in PRAGMA user_version and bumped whenever
// schema.sql changes shape.
const schemaVersion = 1

// SQLiteStore owns the embedded database that holds cache entries, queued
// operations, and engine metadata. It is restricted to a single connection
// so write transactions never contend with each other.
type SQLiteStore struct {
	db     *sql.DB
	logger appLogger.Logger
	config config.Storage
}

func NewSQLiteStore(config config.Storage, logger appLogger.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{
		db:     db,
		logger: logger,
		config: config,
	}

	if err := store.init(); err != nil {
		_ = db.Close()

		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}

	if err := s.applyPragmas(); err != nil {
		return err
	}

	if err := s.applySchema(); err != nil {
		return err
	}

	s.logger.Debug().
		Str("path", s.config.Path).
		Msg("sqlite store initialized")

	return nil
}

func (s *SQLiteStore) applyPragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", s.config.BusyTimeout.Milliseconds()),
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	return nil
}

func (s *SQLiteStore) applySchema() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	if version >= schemaVersion {
		return nil
	}

	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}

	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("recording schema version: %w", err)
	}

	return nil
}

// DB exposes the underlying handle for the repositories built on top.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetMeta returns the value stored under key, or "" when absent.
func (s *SQLiteStore) GetMeta(ctx context.Context, key string) (string, error) {
	var value string

	err := s.db.QueryRowContext(ctx, "SELECT value FROM engine_meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("reading meta %q: %w", key, err)
	}

	return value, nil
}

func (s *SQLiteStore) SetMeta(ctx context.Context, key, value string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO engine_meta (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("writing meta %q: %w", key, err)
	}

	return nil
}
