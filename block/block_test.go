package block

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScatter(t *testing.T) {
	b := New(
		NewColumn("k", Int64, []any{int64(0), int64(1), int64(2), int64(3)}),
		NewColumn("v", String, []any{"a", "b", "c", "d"}),
	)
	parts := b.Scatter(2, []int{0, 1, 0, 1})
	require.Len(t, parts, 2)
	assert.Equal(t, []any{int64(0), int64(2)}, parts[0].Columns[0].Data)
	assert.Equal(t, []any{"b", "d"}, parts[1].Columns[1].Data)
}

func TestApplyPermutation(t *testing.T) {
	b := New(NewColumn("k", Int64, []any{int64(3), int64(1), int64(2)}))
	out := b.ApplyPermutation([]int{1, 2, 0})
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, out.Columns[0].Data)
	// nil permutation is the identity
	assert.Same(t, b, b.ApplyPermutation(nil))
}

func TestCloneDoesNotShareData(t *testing.T) {
	b := New(NewColumn("k", Int64, []any{int64(1)}))
	c := b.Clone()
	c.Columns[0].Data[0] = int64(9)
	assert.Equal(t, int64(1), b.Columns[0].Data[0])
}

func TestCompareValues(t *testing.T) {
	cmp, err := CompareValues(int64(1), int64(2))
	require.NoError(t, err)
	assert.Equal(t, -1, cmp)

	cmp, err = CompareValues("b", "a")
	require.NoError(t, err)
	assert.Equal(t, 1, cmp)

	_, err = CompareValues(int64(1), "a")
	require.ErrorIs(t, err, ErrUncomparableType)
}

func TestCheckEqualLengths(t *testing.T) {
	b := New(
		NewColumn("a", Int64, []any{int64(1)}),
		NewColumn("b", Int64, []any{int64(1), int64(2)}),
	)
	require.ErrorIs(t, b.CheckEqualLengths(), ErrLengthMismatch)
}

func TestBytes(t *testing.T) {
	b := New(
		NewColumn("k", Int64, []any{int64(1), int64(2)}),
		NewColumn("v", String, []any{"ab", "c"}),
	)
	assert.Equal(t, int64(16+3), b.Bytes())
}

func TestCoerceValue(t *testing.T) {
	v, err := CoerceValue(float64(3), Int64)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	v, err = CoerceValue(7, Float64)
	require.NoError(t, err)
	assert.Equal(t, float64(7), v)

	_, err = CoerceValue("x", Int64)
	require.Error(t, err)
}
