package cache

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	_ "modernc.org/sqlite"
)

const memoryPath = ":memory:"

const schema = `CREATE TABLE IF NOT EXISTS entries (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
)`

// SQLiteStore is a Store kept in a single SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Open creates or reuses the store at path. With overwrite set, any existing
// file is removed first so the session starts with empty replay state.
// Parent directories are created as needed. Failures are *StorageError.
func Open(path string, overwrite bool) (*SQLiteStore, error) {
	if path != memoryPath {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, &StorageError{Op: "open", Path: path, Err: err}
			}
		}
		if overwrite {
			for _, p := range []string{path, path + "-wal", path + "-shm", path + "-journal"} {
				if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
					return nil, &StorageError{Op: "open", Path: path, Err: err}
				}
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &StorageError{Op: "open", Path: path, Err: err}
	}
	// One connection: pragmas stick and :memory: stays a single database.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA synchronous = FULL", schema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, &StorageError{Op: "open", Path: path, Err: err}
		}
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, span := tracer.Start(ctx, "get")
	defer span.End()
	span.SetAttributes(attribute.String("cache_key", key))

	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM entries WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("hit", false))
		return nil, false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read cache entry")
		return nil, false, &StorageError{Op: "get", Path: s.path, Err: err}
	}
	span.SetAttributes(attribute.Bool("hit", true), attribute.Int("size", len(value)))
	return value, true, nil
}

// Put implements Store. The write is committed before Put returns.
func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte) error {
	ctx, span := tracer.Start(ctx, "put")
	defer span.End()
	span.SetAttributes(attribute.String("cache_key", key), attribute.Int("size", len(value)))

	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write cache entry")
		return &StorageError{Op: "put", Path: s.path, Err: err}
	}
	return nil
}

// Len returns the number of entries in the store.
func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, &StorageError{Op: "get", Path: s.path, Err: err}
	}
	return n, nil
}

// Path returns the file backing the store.
func (s *SQLiteStore) Path() string { return s.path }

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return &StorageError{Op: "close", Path: s.path, Err: err}
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
