package expr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/permafrostdb/permafrost/block"
)

type (
	// Expr is one entry of a key or TTL expression list: a source column fed
	// through an optional named function. As overrides the result column name.
	Expr struct {
		Column string
		Func   string
		Args   []string
		As     string
	}

	ColumnFunc func(col *block.Column, args []string) (*block.Column, error)
)

var (
	Functions = make(map[string]ColumnFunc)

	ErrFuncNotFound      = errors.New("expression function not found")
	ErrMissingArgs       = errors.New("missing args")
	ErrInvalidColumnType = errors.New("invalid column type for function")
)

func init() {
	RegisterFunctions()
}

func RegisterFunctions() {
	Functions["modulo"] = func(col *block.Column, args []string) (*block.Column, error) {
		if len(args) == 0 {
			return nil, ErrMissingArgs
		}
		m, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("error in ParseInt: %w", err)
		}
		out := &block.Column{Type: block.Int64, Data: make([]any, 0, len(col.Data))}
		for _, v := range col.Data {
			i, ok := v.(int64)
			if !ok {
				return nil, ErrInvalidColumnType
			}
			r := i % m
			if r < 0 {
				r += m
			}
			out.Data = append(out.Data, r)
		}
		return out, nil
	}
	Functions["toDate"] = func(col *block.Column, args []string) (*block.Column, error) {
		out := &block.Column{Type: block.Date, Data: make([]any, 0, len(col.Data))}
		for _, v := range col.Data {
			sec, err := toUnixSeconds(col.Type, v)
			if err != nil {
				return nil, err
			}
			out.Data = append(out.Data, sec/86400)
		}
		return out, nil
	}
	Functions["toYYYYMM"] = func(col *block.Column, args []string) (*block.Column, error) {
		out := &block.Column{Type: block.UInt32, Data: make([]any, 0, len(col.Data))}
		for _, v := range col.Data {
			sec, err := toUnixSeconds(col.Type, v)
			if err != nil {
				return nil, err
			}
			t := time.Unix(sec, 0).UTC()
			out.Data = append(out.Data, int64(t.Year()*100+int(t.Month())))
		}
		return out, nil
	}
	Functions["toStartOfMonth"] = func(col *block.Column, args []string) (*block.Column, error) {
		out := &block.Column{Type: block.Date, Data: make([]any, 0, len(col.Data))}
		for _, v := range col.Data {
			sec, err := toUnixSeconds(col.Type, v)
			if err != nil {
				return nil, err
			}
			t := time.Unix(sec, 0).UTC()
			first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
			out.Data = append(out.Data, first.Unix()/86400)
		}
		return out, nil
	}
	Functions["plusDays"] = func(col *block.Column, args []string) (*block.Column, error) {
		if len(args) == 0 {
			return nil, ErrMissingArgs
		}
		days, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("error in ParseInt: %w", err)
		}
		out := &block.Column{Type: col.Type, Data: make([]any, 0, len(col.Data))}
		for _, v := range col.Data {
			i, ok := v.(int64)
			if !ok {
				return nil, ErrInvalidColumnType
			}
			switch col.Type {
			case block.Date:
				out.Data = append(out.Data, i+days)
			case block.DateTime:
				out.Data = append(out.Data, i+days*86400)
			default:
				return nil, ErrInvalidColumnType
			}
		}
		return out, nil
	}
	Functions["plusSeconds"] = func(col *block.Column, args []string) (*block.Column, error) {
		if len(args) == 0 {
			return nil, ErrMissingArgs
		}
		secs, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("error in ParseInt: %w", err)
		}
		out := &block.Column{Type: block.DateTime, Data: make([]any, 0, len(col.Data))}
		for _, v := range col.Data {
			sec, err := toUnixSeconds(col.Type, v)
			if err != nil {
				return nil, err
			}
			out.Data = append(out.Data, sec+secs)
		}
		return out, nil
	}
}

func toUnixSeconds(t block.ColumnType, v any) (int64, error) {
	i, ok := v.(int64)
	if !ok {
		return 0, ErrInvalidColumnType
	}
	if t == block.Date {
		return i * 86400, nil
	}
	return i, nil
}

// ResultName is the name the evaluated column takes inside a block.
func (e Expr) ResultName() string {
	if e.As != "" {
		return e.As
	}
	if e.Func == "" {
		return e.Column
	}
	if len(e.Args) > 0 {
		return fmt.Sprintf("%s(%s, %s)", e.Func, e.Column, strings.Join(e.Args, ", "))
	}
	return fmt.Sprintf("%s(%s)", e.Func, e.Column)
}

// Evaluate computes the expression against the block and returns the result
// column, named per ResultName.
func (e Expr) Evaluate(b *block.Block) (*block.Column, error) {
	src, err := b.ColumnByName(e.Column)
	if err != nil {
		return nil, fmt.Errorf("error in ColumnByName: %w", err)
	}
	if e.Func == "" {
		out := &block.Column{Name: e.ResultName(), Type: src.Type, Data: src.Data}
		return out, nil
	}
	f, ok := Functions[e.Func]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFuncNotFound, e.Func)
	}
	out, err := f(src, e.Args)
	if err != nil {
		return nil, fmt.Errorf("error processing expression function %s: %w", e.Func, err)
	}
	out.Name = e.ResultName()
	return out, nil
}

// ExecuteForBlock evaluates every expression and appends the result columns
// to the block, skipping columns that already exist. Returns the result
// column names in expression order.
func ExecuteForBlock(exprs []Expr, b *block.Block) ([]string, error) {
	names := make([]string, 0, len(exprs))
	for _, e := range exprs {
		name := e.ResultName()
		names = append(names, name)
		if b.HasColumn(name) {
			continue
		}
		col, err := e.Evaluate(b)
		if err != nil {
			return nil, fmt.Errorf("error in Evaluate: %w", err)
		}
		b.Columns = append(b.Columns, col)
	}
	return names, nil
}
