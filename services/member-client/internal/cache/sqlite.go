package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cached_documents (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	data TEXT NOT NULL,
	cached_at INTEGER NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE TABLE IF NOT EXISTS cached_lists (
	collection TEXT NOT NULL,
	query_key TEXT NOT NULL,
	data TEXT NOT NULL,
	cached_at INTEGER NOT NULL,
	PRIMARY KEY (collection, query_key)
);
`

// SQLite is the on-device cache file.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

func OpenSQLite(path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("cache path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite cache: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) GetDoc(ctx context.Context, collection, id string) (json.RawMessage, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM cached_documents WHERE collection = ? AND id = ?`,
		collection, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(data), true, nil
}

func (s *SQLite) PutDoc(ctx context.Context, collection, id string, doc json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cached_documents (collection, id, data, cached_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data, cached_at = excluded.cached_at
	`, collection, id, string(doc), s.now().UnixMilli())
	return err
}

func (s *SQLite) DeleteDoc(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM cached_documents WHERE collection = ? AND id = ?`, collection, id)
	return err
}

func (s *SQLite) GetList(ctx context.Context, collection, key string) ([]json.RawMessage, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM cached_lists WHERE collection = ? AND query_key = ?`,
		collection, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var docs []json.RawMessage
	if err := json.Unmarshal([]byte(data), &docs); err != nil {
		return nil, false, fmt.Errorf("decode cached list: %w", err)
	}
	return docs, true, nil
}

func (s *SQLite) PutList(ctx context.Context, collection, key string, docs []json.RawMessage) error {
	if docs == nil {
		docs = []json.RawMessage{}
	}
	data, err := json.Marshal(docs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cached_lists (collection, query_key, data, cached_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, query_key) DO UPDATE SET data = excluded.data, cached_at = excluded.cached_at
	`, collection, key, string(data), s.now().UnixMilli())
	return err
}

var _ Cache = (*SQLite)(nil)
