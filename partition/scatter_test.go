package partition

import (
	"testing"

	"github.com/permafrostdb/permafrost/block"
	"github.com/permafrostdb/permafrost/expr"
	"github.com/permafrostdb/permafrost/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMeta(partitionKey []expr.Expr) *schema.Metadata {
	return &schema.Metadata{
		Table: "test",
		Columns: []schema.ColumnDef{
			{Name: "k", Type: block.Int64},
			{Name: "v", Type: block.String},
		},
		PartitionKey: partitionKey,
		Settings:     schema.DefaultSettings(),
	}
}

func testBlock(ks []int64, vs []string) *block.Block {
	kData := make([]any, len(ks))
	for i, k := range ks {
		kData[i] = k
	}
	vData := make([]any, len(vs))
	for i, v := range vs {
		vData[i] = v
	}
	return block.New(
		block.NewColumn("k", block.Int64, kData),
		block.NewColumn("v", block.String, vData),
	)
}

func TestSplitUnpartitioned(t *testing.T) {
	b := testBlock([]int64{1, 2, 3}, []string{"a", "b", "c"})
	blocks, err := SplitBlockIntoParts(b, 100, testMeta(nil))
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, Tuple{}, blocks[0].Partition)
	assert.Same(t, b, blocks[0].Block)
}

func TestSplitEmptyBlock(t *testing.T) {
	blocks, err := SplitBlockIntoParts(testBlock(nil, nil), 100, testMeta(nil))
	require.NoError(t, err)
	assert.Empty(t, blocks)

	blocks, err = SplitBlockIntoParts(nil, 100, testMeta(nil))
	require.NoError(t, err)
	assert.Empty(t, blocks)
}

func TestSplitSinglePartitionReturnsOriginalBlock(t *testing.T) {
	key := []expr.Expr{{Column: "k", Func: "modulo", Args: []string{"2"}, As: "m"}}
	b := testBlock([]int64{2, 4, 6}, []string{"a", "b", "c"})
	blocks, err := SplitBlockIntoParts(b, 100, testMeta(key))
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	// The expression-augmented copy must not leak downstream
	assert.Same(t, b, blocks[0].Block)
	assert.False(t, blocks[0].Block.HasColumn("m"))
	assert.Equal(t, Tuple{int64(0)}, blocks[0].Partition)
}

func TestSplitTwoPartitions(t *testing.T) {
	key := []expr.Expr{{Column: "k", Func: "modulo", Args: []string{"2"}, As: "m"}}
	b := testBlock([]int64{0, 1, 2, 3}, []string{"a", "b", "c", "d"})
	blocks, err := SplitBlockIntoParts(b, 100, testMeta(key))
	require.NoError(t, err)
	require.Len(t, blocks, 2)

	// Discovery order: partition 0 first (row 0), then partition 1 (row 1)
	assert.Equal(t, Tuple{int64(0)}, blocks[0].Partition)
	assert.Equal(t, Tuple{int64(1)}, blocks[1].Partition)

	k0, err := blocks[0].Block.ColumnByName("k")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(0), int64(2)}, k0.Data)
	v0, err := blocks[0].Block.ColumnByName("v")
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "c"}, v0.Data)

	k1, err := blocks[1].Block.ColumnByName("k")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(3)}, k1.Data)
	v1, err := blocks[1].Block.ColumnByName("v")
	require.NoError(t, err)
	assert.Equal(t, []any{"b", "d"}, v1.Data)
}

func TestSplitPreservesRowMultiset(t *testing.T) {
	key := []expr.Expr{{Column: "k", Func: "modulo", Args: []string{"3"}}}
	ks := []int64{5, 3, 8, 1, 9, 4, 7, 2, 6}
	vs := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"}
	b := testBlock(ks, vs)
	blocks, err := SplitBlockIntoParts(b, 100, testMeta(key))
	require.NoError(t, err)

	seen := make(map[int64]string)
	total := 0
	for _, bwp := range blocks {
		kc, err := bwp.Block.ColumnByName("k")
		require.NoError(t, err)
		vc, err := bwp.Block.ColumnByName("v")
		require.NoError(t, err)
		for i := range kc.Data {
			k := kc.Data[i].(int64)
			seen[k] = vc.Data[i].(string)
			// every row of a sub-block shares the partition tuple
			assert.Equal(t, bwp.Partition[0], k%3)
			total++
		}
	}
	assert.Equal(t, len(ks), total)
	for i, k := range ks {
		assert.Equal(t, vs[i], seen[k])
	}
}

func TestSplitTooManyParts(t *testing.T) {
	key := []expr.Expr{{Column: "k", Func: "modulo", Args: []string{"4"}}}
	b := testBlock([]int64{0, 1, 2, 3}, []string{"a", "b", "c", "d"})
	meta := testMeta(key)
	meta.Settings.MaxPartitionsPerInsertBlock = 3
	_, err := SplitBlockIntoParts(b, meta.Settings.MaxPartitionsPerInsertBlock, meta)
	require.ErrorIs(t, err, ErrTooManyParts)

	// The limit counts distinct partitions, not rows
	b = testBlock([]int64{0, 1, 2, 0, 1, 2}, []string{"a", "b", "c", "d", "e", "f"})
	blocks, err := SplitBlockIntoParts(b, meta.Settings.MaxPartitionsPerInsertBlock, meta)
	require.NoError(t, err)
	assert.Len(t, blocks, 3)
}

func TestSplitSchemaMismatch(t *testing.T) {
	b := block.New(block.NewColumn("bogus", block.Int64, []any{int64(1)}))
	_, err := SplitBlockIntoParts(b, 100, testMeta(nil))
	require.ErrorIs(t, err, schema.ErrSchemaMismatch)
}

func TestTupleID(t *testing.T) {
	assert.Equal(t, "all", Tuple{}.ID())
	assert.Equal(t, "7", Tuple{int64(7)}.ID())
	// Hash ids are deterministic across calls
	id1 := Tuple{int64(1), "x"}.ID()
	id2 := Tuple{int64(1), "x"}.ID()
	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, Tuple{int64(2), "x"}.ID())
}
