// Package snapshot extracts a logical snapshot of persisted application
// state into a serializable document, and applies such documents back.
//
// Collections are registered explicitly at startup through the Registry;
// there is no reflective table discovery. Each collection implements the
// small Collection interface, so the producer neither knows nor cares
// whether records live in a SQL table, a cache, or memory.
//
// No point-in-time consistency is guaranteed across collections: each is
// read independently. This is an accepted property of logical dumps here,
// not a defect.
package snapshot

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Record is one row of a collection in wire form.
type Record = map[string]any

// Collection is a named set of records that can be dumped and restored.
type Collection interface {
	// Name is the unique collection name used as the document key.
	Name() string

	// List returns all records in a stable order.
	List(ctx context.Context) ([]Record, error)

	// Clear removes all records. Called by the restore coordinator before
	// inserting restored records; restore is overwrite, not merge.
	Clear(ctx context.Context) error

	// Insert adds a single record.
	Insert(ctx context.Context, rec Record) error
}

// Document is the serializable snapshot format: collection name to ordered
// records, plus counts for quick sanity checks during verification.
type Document struct {
	Version     int                 `json:"version"`
	CreatedAt   time.Time           `json:"created_at"`
	Collections map[string][]Record `json:"collections"`
	TableCount  int                 `json:"table_count"`
	RecordCount int                 `json:"record_count"`
}

// DocumentVersion is the current Document format version.
const DocumentVersion = 1

// Registry maps collection names to their accessors, with a backup-kind tag
// per collection so a config of kind "database" only dumps database-tagged
// collections. Kind "full" selects everything.
type Registry struct {
	mu          sync.RWMutex
	collections map[string]Collection
	kinds       map[string]string // collection name -> kind tag
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		collections: make(map[string]Collection),
		kinds:       make(map[string]string),
	}
}

// Register adds a collection under the given backup kind tag.
// Registering a duplicate name is a programming error and returns an error
// rather than silently replacing the existing accessor.
func (r *Registry) Register(kind string, c Collection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if _, exists := r.collections[name]; exists {
		return fmt.Errorf("snapshot: collection %q already registered", name)
	}
	r.collections[name] = c
	r.kinds[name] = kind
	return nil
}

// Get returns the collection with the given name, or nil.
func (r *Registry) Get(name string) Collection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collections[name]
}

// ForKind returns the collections tagged with kind, sorted by name for
// deterministic dump order. Kind "full" returns all collections.
func (r *Registry) ForKind(kind string) []Collection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Collection
	for name, c := range r.collections {
		if kind == "full" || r.kinds[name] == kind {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// HasKind reports whether at least one collection would be selected for the
// given backup kind. Kind "full" matches whenever anything is registered.
func (r *Registry) HasKind(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if kind == "full" {
		return len(r.collections) > 0
	}
	for name := range r.collections {
		if r.kinds[name] == kind {
			return true
		}
	}
	return false
}

// Producer dumps registered collections into Documents.
type Producer struct {
	registry *Registry
	logger   *zap.Logger
}

// NewProducer creates a Producer over the given registry.
func NewProducer(registry *Registry, logger *zap.Logger) *Producer {
	return &Producer{
		registry: registry,
		logger:   logger.Named("snapshot"),
	}
}

// Dump reads every collection selected by kind into a single Document.
// A collection that fails to list is logged and omitted; the snapshot as a
// whole still succeeds with whatever was readable. Dump only errors when
// no collection is registered for the kind at all.
func (p *Producer) Dump(ctx context.Context, kind string) (*Document, error) {
	collections := p.registry.ForKind(kind)
	if len(collections) == 0 {
		return nil, fmt.Errorf("snapshot: no collections registered for kind %q", kind)
	}

	doc := &Document{
		Version:     DocumentVersion,
		CreatedAt:   time.Now().UTC(),
		Collections: make(map[string][]Record, len(collections)),
	}

	for _, c := range collections {
		records, err := c.List(ctx)
		if err != nil {
			p.logger.Warn("collection dump failed, omitting from snapshot",
				zap.String("collection", c.Name()),
				zap.Error(err),
			)
			continue
		}
		doc.Collections[c.Name()] = records
		doc.TableCount++
		doc.RecordCount += len(records)
	}

	p.logger.Info("snapshot produced",
		zap.String("kind", kind),
		zap.Int("tables", doc.TableCount),
		zap.Int("records", doc.RecordCount),
	)
	return doc, nil
}

// Apply overwrites the registered collections with the document's contents.
// For each collection present in the document it clears existing records and
// inserts the restored ones. Collections in the document with no registered
// accessor are skipped with a warning. The first clear/insert error aborts;
// a half-applied restore must surface loudly, not be papered over.
func (p *Producer) Apply(ctx context.Context, doc *Document) error {
	names := make([]string, 0, len(doc.Collections))
	for name := range doc.Collections {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		c := p.registry.Get(name)
		if c == nil {
			p.logger.Warn("no accessor registered for restored collection, skipping",
				zap.String("collection", name),
			)
			continue
		}

		if err := c.Clear(ctx); err != nil {
			return fmt.Errorf("snapshot: clearing %s: %w", name, err)
		}
		for i, rec := range doc.Collections[name] {
			if err := c.Insert(ctx, rec); err != nil {
				return fmt.Errorf("snapshot: inserting record %d into %s: %w", i, name, err)
			}
		}
	}
	return nil
}
