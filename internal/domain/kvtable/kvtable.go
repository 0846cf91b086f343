// Package kvtable defines the keyed-table storage the pipeline keeps its
// per-package state in: attribute records and public tracking lists, one JSON
// document per key.
package kvtable

import (
	"context"

	"github.com/bkc/dell-unbounded-hackathon-2021/errs"
)

// Store is a set of named tables mapping string keys to JSON documents.
// Writes are last-writer-wins per key.
type Store interface {
	// Get returns the document stored under table/key, or a CodeNotFound
	// error when the key is absent.
	Get(ctx context.Context, table, key string) ([]byte, error)
	// Put stores value under table/key, replacing any previous document.
	Put(ctx context.Context, table, key string, value []byte) error
	// Delete removes table/key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, table, key string) error
	// DeleteTable removes every key of the named table.
	DeleteTable(ctx context.Context, table string) error
}

// NotFound builds the canonical absent-key error for implementations.
func NotFound(table, key string) error {
	return errs.New("kvtable", errs.CodeNotFound,
		errs.WithMessage("key not found"), errs.WithField("table", table), errs.WithField("key", key))
}

// IsNotFound reports whether err marks an absent key.
func IsNotFound(err error) bool {
	return errs.IsNotFound(err)
}
