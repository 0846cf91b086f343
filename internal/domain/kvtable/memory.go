package kvtable

import (
	"context"
	"sync"
)

// Memory is an in-process Store for tests and single-node runs without a
// database. Safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	tables map[string]map[string][]byte
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{tables: make(map[string]map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, table, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.tables[table][key]
	if !ok {
		return nil, NotFound(table, key)
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (m *Memory) Put(_ context.Context, table, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.tables[table]
	if !ok {
		rows = make(map[string][]byte)
		m.tables[table] = rows
	}
	rows[key] = stored
	return nil
}

func (m *Memory) Delete(_ context.Context, table, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tables[table], key)
	return nil
}

func (m *Memory) DeleteTable(_ context.Context, table string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tables, table)
	return nil
}

// Len reports how many keys the named table holds.
func (m *Memory) Len(table string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tables[table])
}
