package sorting

import (
	"testing"

	"github.com/permafrostdb/permafrost/block"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAlreadySorted(t *testing.T) {
	b := block.New(
		block.NewColumn("k", block.Int64, []any{int64(1), int64(2), int64(2), int64(3)}),
	)
	sorted, err := IsAlreadySorted(b, Description{"k"})
	require.NoError(t, err)
	assert.True(t, sorted)

	b = block.New(
		block.NewColumn("k", block.Int64, []any{int64(2), int64(1)}),
	)
	sorted, err = IsAlreadySorted(b, Description{"k"})
	require.NoError(t, err)
	assert.False(t, sorted)

	// empty description is trivially sorted
	sorted, err = IsAlreadySorted(b, nil)
	require.NoError(t, err)
	assert.True(t, sorted)
}

func TestStablePermutation(t *testing.T) {
	b := block.New(
		block.NewColumn("k", block.Int64, []any{int64(3), int64(1), int64(2), int64(1)}),
	)
	perm, err := StablePermutation(b, Description{"k"})
	require.NoError(t, err)
	// ties keep input order: row 1 before row 3
	assert.Equal(t, []int{1, 3, 2, 0}, perm)
}

func TestStablePermutationCompositeKey(t *testing.T) {
	b := block.New(
		block.NewColumn("a", block.String, []any{"y", "x", "y", "x"}),
		block.NewColumn("b", block.Int64, []any{int64(1), int64(2), int64(0), int64(2)}),
	)
	perm, err := StablePermutation(b, Description{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 2, 0}, perm)

	out := b.ApplyPermutation(perm)
	sorted, err := IsAlreadySorted(out, Description{"a", "b"})
	require.NoError(t, err)
	assert.True(t, sorted)
}
