package block

import (
	"errors"
	"fmt"
)

type (
	ColumnType string

	// Column is a single named, typed column. Values use a normalized in-memory
	// representation: int64 for all integer-like types (including Date day
	// numbers and DateTime unix seconds), float64, string, or AggState.
	Column struct {
		Name string
		Type ColumnType
		Data []any
	}

	// Block is an equi-length tuple of named typed columns. Rows are addressed
	// by index 0..Rows()-1. The write path never changes existing column
	// values in place; evaluating sort-key and skip-index expressions appends
	// result columns to the block itself.
	Block struct {
		Columns []*Column
	}

	// AggState is the partial state of an aggregate function column. Merging
	// two states follows the function's merge semantics.
	AggState interface {
		Merge(other AggState) (AggState, error)
	}
)

const (
	Int8     ColumnType = "Int8"
	Int64    ColumnType = "Int64"
	UInt32   ColumnType = "UInt32"
	Float64  ColumnType = "Float64"
	String   ColumnType = "String"
	Date     ColumnType = "Date"     // day number since unix epoch
	DateTime ColumnType = "DateTime" // unix seconds
	// Aggregate columns carry opaque partial aggregation states
	Aggregate ColumnType = "AggregateFunction"
	// Object columns have no fixed concrete type in the schema, the concrete
	// type is deduced per block from the incoming data
	Object ColumnType = "Object"
)

var (
	ErrColumnNotFound   = errors.New("column not found in block")
	ErrLengthMismatch   = errors.New("columns have mismatched lengths")
	ErrUncomparableType = errors.New("values of this type cannot be compared")
)

func New(columns ...*Column) *Block {
	return &Block{Columns: columns}
}

func NewColumn(name string, t ColumnType, data []any) *Column {
	return &Column{Name: name, Type: t, Data: data}
}

func (b *Block) Rows() int {
	if b == nil || len(b.Columns) == 0 {
		return 0
	}
	return len(b.Columns[0].Data)
}

func (b *Block) Names() []string {
	names := make([]string, len(b.Columns))
	for i, c := range b.Columns {
		names[i] = c.Name
	}
	return names
}

func (b *Block) ColumnByName(name string) (*Column, error) {
	for _, c := range b.Columns {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, name)
}

func (b *Block) HasColumn(name string) bool {
	c, _ := b.ColumnByName(name)
	return c != nil
}

// Clone copies the column list and the value slices. Values themselves are
// shared, the write path never mutates them in place.
func (b *Block) Clone() *Block {
	out := &Block{Columns: make([]*Column, len(b.Columns))}
	for i, c := range b.Columns {
		data := make([]any, len(c.Data))
		copy(data, c.Data)
		out.Columns[i] = &Column{Name: c.Name, Type: c.Type, Data: data}
	}
	return out
}

// CloneEmpty keeps names and types, drops all rows.
func (b *Block) CloneEmpty() *Block {
	out := &Block{Columns: make([]*Column, len(b.Columns))}
	for i, c := range b.Columns {
		out.Columns[i] = &Column{Name: c.Name, Type: c.Type}
	}
	return out
}

// CloneWithRows builds a block with the same structure holding the given row
// indexes of b, in order.
func (b *Block) CloneWithRows(rows []int) *Block {
	out := b.CloneEmpty()
	for i, c := range b.Columns {
		data := make([]any, 0, len(rows))
		for _, r := range rows {
			data = append(data, c.Data[r])
		}
		out.Columns[i].Data = data
	}
	return out
}

// ApplyPermutation returns the block with rows reordered by perm. A nil perm
// returns the block unchanged.
func (b *Block) ApplyPermutation(perm []int) *Block {
	if perm == nil {
		return b
	}
	return b.CloneWithRows(perm)
}

// Scatter splits every column independently by selector (row -> bucket) into
// count blocks, preserving relative row order inside each bucket.
func (b *Block) Scatter(count int, selector []int) []*Block {
	out := make([]*Block, count)
	for i := range out {
		out[i] = b.CloneEmpty()
	}
	for col := range b.Columns {
		for row, bucket := range selector {
			dst := out[bucket].Columns[col]
			dst.Data = append(dst.Data, b.Columns[col].Data[row])
		}
	}
	return out
}

// Bytes is the approximate uncompressed in-memory size of the block, used for
// space reservation and part type choice.
func (b *Block) Bytes() int64 {
	var total int64
	for _, c := range b.Columns {
		for _, v := range c.Data {
			switch tv := v.(type) {
			case string:
				total += int64(len(tv))
			default:
				total += 8
			}
		}
	}
	return total
}

// CheckEqualLengths validates the equi-length invariant.
func (b *Block) CheckEqualLengths() error {
	if len(b.Columns) == 0 {
		return nil
	}
	n := len(b.Columns[0].Data)
	for _, c := range b.Columns[1:] {
		if len(c.Data) != n {
			return fmt.Errorf("%w: %s has %d rows, %s has %d", ErrLengthMismatch, b.Columns[0].Name, n, c.Name, len(c.Data))
		}
	}
	return nil
}

// AppendRow appends one value per column, in column order.
func (b *Block) AppendRow(vals ...any) {
	for i, v := range vals {
		b.Columns[i].Data = append(b.Columns[i].Data, v)
	}
}

// CompareValues orders two normalized values of the same type. Aggregate
// states are not comparable.
func CompareValues(a, bv any) (int, error) {
	switch av := a.(type) {
	case int64:
		bi, ok := bv.(int64)
		if !ok {
			return 0, fmt.Errorf("%w: int64 vs %T", ErrUncomparableType, bv)
		}
		switch {
		case av < bi:
			return -1, nil
		case av > bi:
			return 1, nil
		}
		return 0, nil
	case float64:
		bf, ok := bv.(float64)
		if !ok {
			return 0, fmt.Errorf("%w: float64 vs %T", ErrUncomparableType, bv)
		}
		switch {
		case av < bf:
			return -1, nil
		case av > bf:
			return 1, nil
		}
		return 0, nil
	case string:
		bs, ok := bv.(string)
		if !ok {
			return 0, fmt.Errorf("%w: string vs %T", ErrUncomparableType, bv)
		}
		switch {
		case av < bs:
			return -1, nil
		case av > bs:
			return 1, nil
		}
		return 0, nil
	case nil:
		if bv == nil {
			return 0, nil
		}
		return -1, nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrUncomparableType, a)
	}
}

// CoerceValue normalizes an incoming dynamic value (e.g. decoded JSON) into
// the in-memory representation for the column type.
func CoerceValue(v any, t ColumnType) (any, error) {
	switch t {
	case Int8, Int64, UInt32, Date, DateTime:
		switch tv := v.(type) {
		case int64:
			return tv, nil
		case int:
			return int64(tv), nil
		case float64:
			return int64(tv), nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to %s", v, t)
		}
	case Float64:
		switch tv := v.(type) {
		case float64:
			return tv, nil
		case int64:
			return float64(tv), nil
		case int:
			return float64(tv), nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to %s", v, t)
		}
	case String:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("cannot coerce %T to %s", v, t)
		}
		return s, nil
	case Aggregate:
		s, ok := v.(AggState)
		if !ok {
			return nil, fmt.Errorf("cannot coerce %T to %s", v, t)
		}
		return s, nil
	default:
		return v, nil
	}
}

// DeduceType inspects a dynamic value and returns the concrete column type
// used when the schema declares an object column.
func DeduceType(v any) ColumnType {
	switch v.(type) {
	case string:
		return String
	case int, int64:
		return Int64
	case float64:
		return Float64
	case AggState:
		return Aggregate
	default:
		return String
	}
}
