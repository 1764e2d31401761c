package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/permafrostdb/permafrost/block"
	"github.com/permafrostdb/permafrost/expr"
	"github.com/permafrostdb/permafrost/metastore"
	"github.com/permafrostdb/permafrost/schema"
	"github.com/permafrostdb/permafrost/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMetaStore struct {
	mu      sync.Mutex
	schemas map[string]metastore.TableSchema
	parts   []metastore.PartRecord
}

func newFakeMetaStore() *fakeMetaStore {
	return &fakeMetaStore{schemas: make(map[string]metastore.TableSchema)}
}

func (f *fakeMetaStore) GetTableSchema(_ context.Context, table string) (metastore.TableSchema, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ts, ok := f.schemas[table]
	if !ok {
		return ts, fmt.Errorf("no schema for %s", table)
	}
	return ts, nil
}

func (f *fakeMetaStore) CreateTableSchema(_ context.Context, ts metastore.TableSchema) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schemas[ts.Name] = ts
	return nil
}

func (f *fakeMetaStore) RecordPart(_ context.Context, rec metastore.PartRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.parts {
		if p.Table == rec.Table && p.Name == rec.Name {
			return metastore.ErrPartExists
		}
	}
	f.parts = append(f.parts, rec)
	return nil
}

func (f *fakeMetaStore) ListParts(_ context.Context, table string) ([]metastore.PartRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []metastore.PartRecord
	for _, p := range f.parts {
		if p.Table == table {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeMetaStore) Shutdown(_ context.Context) error { return nil }

func insertMeta() *schema.Metadata {
	s := schema.DefaultSettings()
	s.OptimizeOnInsert = false
	return &schema.Metadata{
		Table:            "events",
		RelativeDataPath: filepath.Join("tables", "events"),
		Columns: []schema.ColumnDef{
			{Name: "k", Type: block.Int64},
			{Name: "v", Type: block.String},
		},
		PartitionKey:  []expr.Expr{{Column: "k", Func: "modulo", Args: []string{"2"}}},
		SortingKey:    []expr.Expr{{Column: "k"}},
		Settings:      s,
		FormatVersion: schema.FormatVersionCustomPartitioning,
	}
}

func TestInsertCommitsParts(t *testing.T) {
	dataDir := t.TempDir()
	ms := newFakeMetaStore()
	eng, err := New(ms, storage.DefaultPolicy(dataDir))
	require.NoError(t, err)

	meta := insertMeta()
	require.NoError(t, eng.CreateTableSchema(context.Background(), meta))

	b := block.New(
		block.NewColumn("k", block.Int64, []any{int64(0), int64(1), int64(2), int64(3)}),
		block.NewColumn("v", block.String, []any{"a", "b", "c", "d"}),
	)
	res, err := eng.Insert(context.Background(), "events", b)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.NumParts)
	assert.Equal(t, int64(4), res.NumRows)
	assert.Greater(t, res.BytesWritten, int64(0))

	parts, err := ms.ListParts(context.Background(), "events")
	require.NoError(t, err)
	require.Len(t, parts, 2)

	// temp directories were renamed into their final part names
	tableDir := filepath.Join(dataDir, "default", "tables", "events")
	for _, rec := range parts {
		_, err := os.Stat(filepath.Join(tableDir, rec.Name))
		require.NoError(t, err)
		_, err = os.Stat(filepath.Join(tableDir, "tmp_insert_"+rec.Name))
		assert.True(t, os.IsNotExist(err))
		assert.True(t, rec.Alive)
		assert.Contains(t, rec.Columns, "k")
	}
}

func TestInsertUnknownTable(t *testing.T) {
	eng, err := New(newFakeMetaStore(), storage.DefaultPolicy(t.TempDir()))
	require.NoError(t, err)
	_, err = eng.Insert(context.Background(), "nope", block.New())
	require.ErrorIs(t, err, ErrTableNotFound)
}

func TestTableMetaRecoversFromMetastore(t *testing.T) {
	dataDir := t.TempDir()
	ms := newFakeMetaStore()

	// schema exists only in the metastore, e.g. created by another node
	require.NoError(t, ms.CreateTableSchema(context.Background(), metastore.SchemaFromMetadata(insertMeta())))

	eng, err := New(ms, storage.DefaultPolicy(dataDir))
	require.NoError(t, err)

	b := block.New(
		block.NewColumn("k", block.Int64, []any{int64(0), int64(1)}),
		block.NewColumn("v", block.String, []any{"a", "b"}),
	)
	res, err := eng.Insert(context.Background(), "events", b)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.NumParts)

	// the recovered snapshot is cached in the registry
	meta, err := eng.TableMeta(context.Background(), "events")
	require.NoError(t, err)
	assert.Equal(t, "events", meta.Table)
}
