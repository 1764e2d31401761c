package engine

import (
	"testing"

	"github.com/permafrostdb/permafrost/block"
	"github.com/permafrostdb/permafrost/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockFromRows(t *testing.T) {
	meta := &schema.Metadata{
		Table: "events",
		Columns: []schema.ColumnDef{
			{Name: "k", Type: block.Int64},
			{Name: "v", Type: block.String},
			{Name: "ts", Type: block.DateTime},
		},
	}

	b, err := BlockFromRows(meta, []map[string]any{
		{"k": float64(1), "v": "a", "ts": "2024-01-31T10:00:00.000Z"},
		{"k": float64(2), "v": "b", "ts": float64(1706695200000)},
	})
	require.NoError(t, err)
	require.Equal(t, 2, b.Rows())

	k, err := b.ColumnByName("k")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2)}, k.Data)

	ts, err := b.ColumnByName("ts")
	require.NoError(t, err)
	// both encodings land on unix seconds
	assert.Equal(t, []any{int64(1706695200), int64(1706695200)}, ts.Data)
}

func TestBlockFromRowsFlattensNested(t *testing.T) {
	meta := &schema.Metadata{
		Table: "events",
		Columns: []schema.ColumnDef{
			{Name: "user.name", Type: block.String},
		},
	}
	b, err := BlockFromRows(meta, []map[string]any{
		{"user": map[string]any{"name": "dana"}},
	})
	require.NoError(t, err)
	c, err := b.ColumnByName("user.name")
	require.NoError(t, err)
	assert.Equal(t, []any{"dana"}, c.Data)
}

func TestBlockFromRowsObjectColumnDeduced(t *testing.T) {
	meta := &schema.Metadata{
		Table: "events",
		Columns: []schema.ColumnDef{
			{Name: "payload", Type: block.Object},
		},
	}
	b, err := BlockFromRows(meta, []map[string]any{
		{"payload": float64(1.5)},
		{},
	})
	require.NoError(t, err)
	c, err := b.ColumnByName("payload")
	require.NoError(t, err)
	assert.Equal(t, block.Float64, c.Type)
	// missing values become the deduced type's zero value
	assert.Equal(t, []any{1.5, float64(0)}, c.Data)
}

func TestBlockFromRowsSkipsAbsentColumns(t *testing.T) {
	meta := &schema.Metadata{
		Table: "events",
		Columns: []schema.ColumnDef{
			{Name: "k", Type: block.Int64},
			{Name: "unused", Type: block.String},
		},
	}
	b, err := BlockFromRows(meta, []map[string]any{{"k": float64(1)}})
	require.NoError(t, err)
	assert.False(t, b.HasColumn("unused"))
}
