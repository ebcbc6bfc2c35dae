// Package postgres provides a Postgres-backed crawler.KVStore.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/registry-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "kv_records"

// Config controls the Postgres connection pool used for KV records.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of *pgxpool.Pool the store needs; pgxmock satisfies it.
type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// KVStore keeps each record as a JSONB document keyed by its KV key.
type KVStore struct {
	pool  pool
	table string
}

// NewKVStore connects to Postgres using cfg.
func NewKVStore(ctx context.Context, cfg Config) (*KVStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewKVStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewKVStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewKVStoreWithPool(p pool, table string) (*KVStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &KVStore{pool: p, table: table}, nil
}

// EnsureSchema creates the records table when it does not exist.
func (s *KVStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	key TEXT PRIMARY KEY,
	record JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return &crawler.StoreError{Op: "migrate", Err: err}
	}
	return nil
}

// Ping checks connectivity for readiness probes.
func (s *KVStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return &crawler.StoreError{Op: "ping", Err: err}
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *KVStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Put upserts the whole record under key.
func (s *KVStore) Put(ctx context.Context, key string, record crawler.Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (key, record, updated_at) VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET record = EXCLUDED.record, updated_at = EXCLUDED.updated_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, key, string(payload)); err != nil {
		return &crawler.StoreError{Op: "put", Key: key, Err: err}
	}
	return nil
}

// Get loads the record under key.
func (s *KVStore) Get(ctx context.Context, key string) (crawler.Record, bool, error) {
	query := fmt.Sprintf(`SELECT record FROM %s WHERE key = $1`, s.table)
	var raw []byte
	if err := s.pool.QueryRow(ctx, query, key).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table)
	if _, err := s.pool.Exec(ctx, query, key); err != nil {
		return &crawler.StoreError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// ScanPrefix returns the records whose keys start with prefix, ordered by key.
func (s *KVStore) ScanPrefix(ctx context.Context, prefix string) ([]crawler.KV, error) {
	query := fmt.Sprintf(`SELECT key, record FROM %s WHERE starts_with(key, $1) ORDER BY key`, s.table)
	rows, err := s.pool.Query(ctx, query, prefix)
	if err != nil {
		return nil, &crawler.StoreError{Op: "scan", Key: prefix, Err: err}
	}
	defer rows.Close()

	out := []crawler.KV{}
	for rows.Next() {
		var (
			key string
			raw []byte
		)
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
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE key = $1)`, s.table)
	var exists bool
	if err := s.pool.QueryRow(ctx, query, key).Scan(&exists); err != nil {
		return false, &crawler.StoreError{Op: "exists", Key: key, Err: err}
	}
	return exists, nil
}

func decodeRecord(raw []byte) (crawler.Record, error) {
	record := crawler.Record{}
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return record, nil
}
