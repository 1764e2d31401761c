package ttl

import (
	"testing"

	"github.com/permafrostdb/permafrost/block"
	"github.com/permafrostdb/permafrost/expr"
	"github.com/permafrostdb/permafrost/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateDateTimeColumn(t *testing.T) {
	b := block.New(block.NewColumn("ts", block.DateTime, []any{int64(100), int64(50), int64(200)}))
	entry := schema.TTLDescription{Expression: expr.Expr{Column: "ts"}}

	var infos PartInfos
	var info Info
	require.NoError(t, Update(entry, &infos, &info, b, true))
	assert.Equal(t, int64(50), info.Min)
	assert.Equal(t, int64(200), info.Max)
	assert.Equal(t, int64(50), infos.PartMinTTL)
	assert.Equal(t, int64(200), infos.PartMaxTTL)
}

func TestUpdateDateColumnConvertsThroughCalendar(t *testing.T) {
	b := block.New(block.NewColumn("d", block.Date, []any{int64(2), int64(1)}))
	entry := schema.TTLDescription{Expression: expr.Expr{Column: "d"}}

	var infos PartInfos
	var info Info
	require.NoError(t, Update(entry, &infos, &info, b, false))
	assert.Equal(t, int64(86400), info.Min)
	assert.Equal(t, int64(2*86400), info.Max)
	// non-rows categories leave the part-wide summary alone
	assert.Zero(t, infos.PartMinTTL)
	assert.Zero(t, infos.PartMaxTTL)
}

func TestUpdateRejectsNonTemporalColumn(t *testing.T) {
	b := block.New(block.NewColumn("s", block.String, []any{"nope"}))
	entry := schema.TTLDescription{Expression: expr.Expr{Column: "s"}}

	var infos PartInfos
	var info Info
	err := Update(entry, &infos, &info, b, false)
	require.ErrorIs(t, err, ErrUnexpectedColumnType)
}

func TestUpdateWithExpression(t *testing.T) {
	b := block.New(block.NewColumn("ts", block.DateTime, []any{int64(100)}))
	entry := schema.TTLDescription{Expression: expr.Expr{Column: "ts", Func: "plusSeconds", Args: []string{"3600"}}}

	var infos PartInfos
	var info Info
	require.NoError(t, Update(entry, &infos, &info, b, false))
	assert.Equal(t, int64(3700), info.Min)
	assert.Equal(t, int64(3700), info.Max)
}

func TestCalendar(t *testing.T) {
	assert.Equal(t, int64(0), FromDayNum(0))
	assert.Equal(t, int64(86400), FromDayNum(1))
	assert.Equal(t, int64(1), ToDayNum(86400+5))
	// 2024-01-31 and 2024-02-01
	assert.Equal(t, 202401, ToNumYYYYMM(19753))
	assert.Equal(t, 202402, ToNumYYYYMM(19754))
	assert.Equal(t, 20240131, ToNumYYYYMMDD(19753))
}

func TestMergeInfos(t *testing.T) {
	a := PartInfos{MovesTTL: map[string]Info{"m": {Min: 10, Max: 20}}}
	var p PartInfos
	p.Merge(a)
	assert.Equal(t, Info{Min: 10, Max: 20}, p.MovesTTL["m"])

	p.Merge(PartInfos{MovesTTL: map[string]Info{"m": {Min: 5, Max: 15}}})
	assert.Equal(t, Info{Min: 5, Max: 20}, p.MovesTTL["m"])
}
