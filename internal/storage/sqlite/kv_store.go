// Package sqlite provides a single-file crawler.KVStore on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	// Registers the pure-Go "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/registry-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config selects the database file and table.
type Config struct {
	// Path is a filesystem path or ":memory:".
	Path  string
	Table string
}

// KVStore keeps records as JSON text in one SQLite table.
type KVStore struct {
	db    *sql.DB
	table string
}

// Open opens (or creates) the database and ensures the schema exists.
func Open(ctx context.Context, cfg Config) (*KVStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store.sqlite.path is required")
	}
	table := cfg.Table
	if table == "" {
		table = "kv_records"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; a single connection also keeps ":memory:"
	// databases from splitting across connections.
	db.SetMaxOpenConns(1)

	store := &KVStore{db: db, table: table}
	if err := store.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *KVStore) ensureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	key TEXT PRIMARY KEY,
	record TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`, s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return &crawler.StoreError{Op: "migrate", Err: err}
	}
	return nil
}

// Ping checks the database handle for readiness probes.
func (s *KVStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &crawler.StoreError{Op: "ping", Err: err}
	}
	return nil
}

// Close closes the database.
func (s *KVStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// Put upserts the whole record under key.
func (s *KVStore) Put(ctx context.Context, key string, record crawler.Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (key, record, updated_at) VALUES (?, ?, ?)
ON CONFLICT (key) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`, s.table)
	if _, err := s.db.ExecContext(ctx, query, key, string(payload), time.Now().UTC()); err != nil {
		return &crawler.StoreError{Op: "put", Key: key, Err: err}
	}
	return nil
}

// Get loads the record under key.
func (s *KVStore) Get(ctx context.Context, key string) (crawler.Record, bool, error) {
	query := fmt.Sprintf(`SELECT record FROM %s WHERE key = ?`, s.table)
	var raw string
	if err := s.db.QueryRowContext(ctx, query, key).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, &crawler.StoreError{Op: "get", Key: key, Err: err}
	}
	record, err := decodeRecord(raw)
	if err != nil {
		return nil, false, &crawler.StoreError{Op: "get", Key: key, Err: err}
	}
	return record, true, nil
}

// Delete removes key.
func (s *KVStore) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, s.table)
	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return &crawler.StoreError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// ScanPrefix returns the records whose keys start with prefix, ordered by key.
func (s *KVStore) ScanPrefix(ctx context.Context, prefix string) ([]crawler.KV, error) {
	query := fmt.Sprintf(`SELECT key, record FROM %s WHERE substr(key, 1, length(?1)) = ?1 ORDER BY key`, s.table)
	rows, err := s.db.QueryContext(ctx, query, prefix)
	if err != nil {
		return nil, &crawler.StoreError{Op: "scan", Key: prefix, Err: err}
	}
	defer func() { _ = rows.Close() }()

	out := []crawler.KV{}
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, &crawler.StoreError{Op: "scan", Key: prefix, Err: err}
		}
		record, err := decodeRecord(raw)
		if err != nil {
			return nil, &crawler.StoreError{Op: "scan", Key: key, Err: err}
		}
		out = append(out, crawler.KV{Key: key, Record: record})
	}
	if err := rows.Err(); err != nil {
		return nil, &crawler.StoreError{Op: "scan", Key: prefix, Err: err}
	}
	return out, nil
}

// Exists reports whether key is present.
func (s *KVStore) Exists(ctx context.Context, key string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE key = ?)`, s.table)
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, key).Scan(&exists); err != nil {
		return false, &crawler.StoreError{Op: "exists", Key: key, Err: err}
	}
	return exists, nil
}

func decodeRecord(raw string) (crawler.Record, error) {
	record := crawler.Record{}
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return record, nil
}
