package snapshot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// failingCollection errors on every operation.
type failingCollection struct{ name string }

func (f *failingCollection) Name() string { return f.name }
func (f *failingCollection) List(context.Context) ([]Record, error) {
	return nil, errors.New("boom")
}
func (f *failingCollection) Clear(context.Context) error { return errors.New("boom") }
func (f *failingCollection) Insert(context.Context, Record) error {
	return errors.New("boom")
}

func seeded(t *testing.T, name string, n int) *MemoryCollection {
	t.Helper()
	col := NewMemoryCollection(name)
	for i := 0; i < n; i++ {
		require.NoError(t, col.Insert(context.Background(), Record{"n": i}))
	}
	return col
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("database", NewMemoryCollection("users")))
	err := r.Register("cache", NewMemoryCollection("users"))
	assert.Error(t, err)
}

func TestRegistryForKind(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("database", NewMemoryCollection("users")))
	require.NoError(t, r.Register("database", NewMemoryCollection("accounts")))
	require.NoError(t, r.Register("cache", NewMemoryCollection("sessions")))

	names := func(cols []Collection) []string {
		var out []string
		for _, c := range cols {
			out = append(out, c.Name())
		}
		return out
	}

	assert.Equal(t, []string{"accounts", "users"}, names(r.ForKind("database")))
	assert.Equal(t, []string{"sessions"}, names(r.ForKind("cache")))
	assert.Equal(t, []string{"accounts", "sessions", "users"}, names(r.ForKind("full")))
	assert.Empty(t, r.ForKind("files"))
}

func TestRegistryHasKind(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.HasKind("full"))

	require.NoError(t, r.Register("database", NewMemoryCollection("users")))
	require.NoError(t, r.Register("cache", NewMemoryCollection("sessions")))

	assert.True(t, r.HasKind("database"))
	assert.True(t, r.HasKind("cache"))
	assert.True(t, r.HasKind("full"))
	assert.False(t, r.HasKind("files"))
}

func TestDumpCounts(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("database", seeded(t, "users", 3)))
	require.NoError(t, r.Register("database", seeded(t, "accounts", 2)))
	p := NewProducer(r, zap.NewNop())

	doc, err := p.Dump(context.Background(), "database")
	require.NoError(t, err)

	assert.Equal(t, DocumentVersion, doc.Version)
	assert.Equal(t, 2, doc.TableCount)
	assert.Equal(t, 5, doc.RecordCount)
	assert.Len(t, doc.Collections["users"], 3)
	assert.False(t, doc.CreatedAt.IsZero())
}

func TestDumpUnknownKind(t *testing.T) {
	p := NewProducer(NewRegistry(), zap.NewNop())
	_, err := p.Dump(context.Background(), "database")
	assert.Error(t, err)
}

func TestDumpToleratesFailingCollection(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("database", seeded(t, "users", 3)))
	require.NoError(t, r.Register("database", &failingCollection{name: "broken"}))
	p := NewProducer(r, zap.NewNop())

	doc, err := p.Dump(context.Background(), "database")
	require.NoError(t, err)

	assert.Equal(t, 1, doc.TableCount)
	assert.Equal(t, 3, doc.RecordCount)
	assert.NotContains(t, doc.Collections, "broken")
}

func TestApplyOverwrites(t *testing.T) {
	r := NewRegistry()
	users := seeded(t, "users", 4)
	require.NoError(t, r.Register("database", users))
	p := NewProducer(r, zap.NewNop())

	doc := &Document{
		Version: DocumentVersion,
		Collections: map[string][]Record{
			"users":  {{"name": "alice"}},
			"ghosts": {{"name": "nobody"}}, // no accessor, skipped
		},
	}
	require.NoError(t, p.Apply(context.Background(), doc))

	records, err := users.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "alice", records[0]["name"])
}

func TestApplyAbortsOnClearFailure(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("database", &failingCollection{name: "broken"}))
	p := NewProducer(r, zap.NewNop())

	doc := &Document{Collections: map[string][]Record{"broken": {{"a": 1}}}}
	err := p.Apply(context.Background(), doc)
	assert.Error(t, err)
}
