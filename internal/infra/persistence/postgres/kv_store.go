package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bkc/dell-unbounded-hackathon-2021/internal/domain/kvtable"
)

// KVStore persists keyed JSON documents in PostgreSQL, one row per
// (table_name, entry_key) pair.
type KVStore struct {
	pool *pgxpool.Pool
}

var _ kvtable.Store = (*KVStore)(nil)

// NewKVStore constructs a KVStore backed by the provided pgx pool.
func NewKVStore(pool *pgxpool.Pool) *KVStore {
	return &KVStore{pool: pool}
}

const (
	kvSelectSQL = `SELECT value FROM kv_entries WHERE table_name = $1 AND entry_key = $2;`
	kvUpsertSQL = `
INSERT INTO kv_entries (table_name, entry_key, value, updated_at)
VALUES ($1, $2, $3::jsonb, NOW())
ON CONFLICT (table_name, entry_key) DO UPDATE SET
    value = EXCLUDED.value,
    updated_at = NOW();
`
	kvDeleteSQL      = `DELETE FROM kv_entries WHERE table_name = $1 AND entry_key = $2;`
	kvDeleteTableSQL = `DELETE FROM kv_entries WHERE table_name = $1;`
)

// Get returns the document stored under table/key.
func (s *KVStore) Get(ctx context.Context, table, key string) ([]byte, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("kv store: nil pool")
	}
	if err := validateTableKey(table, key); err != nil {
		return nil, err
	}
	var value []byte
	if err := s.pool.QueryRow(ctx, kvSelectSQL, table, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, kvtable.NotFound(table, key)
		}
		return nil, fmt.Errorf("select kv entry: %w", err)
	}
	return value, nil
}

// Put stores value under table/key, replacing any previous document.
func (s *KVStore) Put(ctx context.Context, table, key string, value []byte) error {
	if s.pool == nil {
		return fmt.Errorf("kv store: nil pool")
	}
	if err := validateTableKey(table, key); err != nil {
		return err
	}
	if len(value) == 0 {
		return fmt.Errorf("kv store: value required")
	}
	if _, err := s.pool.Exec(ctx, kvUpsertSQL, table, key, value); err != nil {
		return fmt.Errorf("upsert kv entry: %w", err)
	}
	return nil
}

// Delete removes table/key. Deleting an absent key is a no-op.
func (s *KVStore) Delete(ctx context.Context, table, key string) error {
	if s.pool == nil {
		return fmt.Errorf("kv store: nil pool")
	}
	if err := validateTableKey(table, key); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, kvDeleteSQL, table, key); err != nil {
		return fmt.Errorf("delete kv entry: %w", err)
	}
	return nil
}

// DeleteTable removes every key of the named table.
func (s *KVStore) DeleteTable(ctx context.Context, table string) error {
	if s.pool == nil {
		return fmt.Errorf("kv store: nil pool")
	}
	if strings.TrimSpace(table) == "" {
		return fmt.Errorf("kv store: table required")
	}
	if _, err := s.pool.Exec(ctx, kvDeleteTableSQL, table); err != nil {
		return fmt.Errorf("delete kv table: %w", err)
	}
	return nil
}

func validateTableKey(table, key string) error {
	if strings.TrimSpace(table) == "" {
		return fmt.Errorf("kv store: table required")
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("kv store: key required")
	}
	return nil
}
