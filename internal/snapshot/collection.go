package snapshot

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/gorm"
)

// TableCollection adapts one SQL table to the Collection interface using
// GORM's map-based record access. Records round-trip as map[string]any, so
// the adapter works for any table without generated model types.
type TableCollection struct {
	db    *gorm.DB
	table string
	order string // ORDER BY column for stable dumps
}

// NewTableCollection creates a Collection over the named table.
// orderBy is the column used for deterministic List order; tables with
// UUIDv7 primary keys should pass "id".
func NewTableCollection(db *gorm.DB, table, orderBy string) *TableCollection {
	return &TableCollection{db: db, table: table, order: orderBy}
}

func (t *TableCollection) Name() string { return t.table }

// List reads every row of the table as a generic record.
func (t *TableCollection) List(ctx context.Context) ([]Record, error) {
	var rows []map[string]any
	if err := t.db.WithContext(ctx).
		Table(t.table).
		Order(t.order).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("snapshot: listing table %s: %w", t.table, err)
	}

	records := make([]Record, len(rows))
	for i, row := range rows {
		records[i] = row
	}
	return records, nil
}

// Clear deletes every row. Session with AllowGlobalUpdate is required
// because GORM refuses unconditional deletes by default.
func (t *TableCollection) Clear(ctx context.Context) error {
	err := t.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Table(t.table).
		Delete(&map[string]any{}).Error
	if err != nil {
		return fmt.Errorf("snapshot: clearing table %s: %w", t.table, err)
	}
	return nil
}

// Insert writes one record back into the table.
func (t *TableCollection) Insert(ctx context.Context, rec Record) error {
	if err := t.db.WithContext(ctx).
		Table(t.table).
		Create(map[string]any(rec)).Error; err != nil {
		return fmt.Errorf("snapshot: inserting into table %s: %w", t.table, err)
	}
	return nil
}

// MemoryCollection is an in-memory Collection guarded by a mutex. It backs
// cache-kind state and is the fixture of choice in tests.
type MemoryCollection struct {
	mu      sync.RWMutex
	name    string
	records []Record
}

// NewMemoryCollection creates an empty in-memory collection.
func NewMemoryCollection(name string) *MemoryCollection {
	return &MemoryCollection{name: name}
}

func (m *MemoryCollection) Name() string { return m.name }

func (m *MemoryCollection) List(ctx context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out, nil
}

func (m *MemoryCollection) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
	return nil
}

func (m *MemoryCollection) Insert(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}
