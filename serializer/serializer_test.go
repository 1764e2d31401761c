package serializer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/permafrostdb/permafrost/block"
	"github.com/permafrostdb/permafrost/part"
	"github.com/permafrostdb/permafrost/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go/parquet"
)

func testColumns() []schema.ColumnDef {
	return []schema.ColumnDef{
		{Name: "k", Type: block.Int64},
		{Name: "v", Type: block.String},
	}
}

func TestSchemaString(t *testing.T) {
	s, err := schemaString(testColumns())
	require.NoError(t, err)
	assert.Equal(t, `{"Tag":"name=parquet_go_root, repetitiontype=REQUIRED","Fields":[{"Tag":"type=INT64, name=k, repetitiontype=OPTIONAL"},{"Tag":"type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN, name=v, repetitiontype=OPTIONAL"}]}`, s)
}

func TestStreamWritesDataAndMeta(t *testing.T) {
	dir := t.TempDir()
	s := NewStream(dir, testColumns(), nil, parquet.CompressionCodec_SNAPPY, 0.95)

	b := block.New(
		block.NewColumn("k", block.Int64, []any{int64(2), int64(1)}),
		block.NewColumn("v", block.String, []any{"b", "a"}),
	)
	require.NoError(t, s.WriteWithPermutation(b, []int{1, 0}))
	assert.Equal(t, int64(2), s.RowsWritten())
	assert.Greater(t, s.UncompressedBytes(), int64(0))

	p := &part.Part{
		Name:      "all_1_1_0",
		RowsCount: 2,
		Columns:   testColumns(),
	}
	f, err := s.FinalizePartAsync(p, false)
	require.NoError(t, err)
	require.NoError(t, f.Finish())

	count, err := os.ReadFile(filepath.Join(dir, "count.txt"))
	require.NoError(t, err)
	assert.Equal(t, "2\n", string(count))

	var sums map[string]struct {
		Size   int64  `json:"size"`
		XXHash uint64 `json:"xxhash64"`
	}
	raw, err := os.ReadFile(filepath.Join(dir, "checksums.txt"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &sums))
	assert.Contains(t, sums, "data.parquet")
	assert.Contains(t, sums, "count.txt")
	assert.Greater(t, p.BytesOnDisk, int64(0))
}

func TestSparseSerializationInfo(t *testing.T) {
	b := block.New(
		block.NewColumn("k", block.Int64, []any{int64(0), int64(0), int64(0), int64(1)}),
	)
	infos := computeSerializationInfos(b, []schema.ColumnDef{{Name: "k", Type: block.Int64}}, 0.7)
	assert.Equal(t, "Sparse", infos["k"].Kind)
	assert.Equal(t, 0.75, infos["k"].RatioOfDefaults)

	infos = computeSerializationInfos(b, []schema.ColumnDef{{Name: "k", Type: block.Int64}}, 0.9)
	assert.Equal(t, "Default", infos["k"].Kind)
}

func TestChooseCompressionCodec(t *testing.T) {
	assert.Equal(t, parquet.CompressionCodec_SNAPPY, ChooseCompressionCodec(0, 0))
	assert.Equal(t, parquet.CompressionCodec_ZSTD, ChooseCompressionCodec(zstdBytesThreshold, 0))
}
