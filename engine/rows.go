package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/danthegoodman1/gojsonutils"
	"github.com/permafrostdb/permafrost/block"
	"github.com/permafrostdb/permafrost/schema"
)

var (
	ErrNotFlatMap        = errors.New("not a flat map")
	ErrInvalidColumnType = errors.New("invalid column type")
)

// BlockFromRows turns decoded JSON rows into a typed block following the
// table's schema. Nested objects are flattened, object-typed columns take the
// concrete type of their first non-nil value, and missing values become the
// column type's zero value.
func BlockFromRows(meta *schema.Metadata, rows []map[string]any) (*block.Block, error) {
	flatRows := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		flat, err := gojsonutils.Flatten(row, nil)
		if err != nil {
			return nil, fmt.Errorf("error flattening JSON map: %w", err)
		}
		flatMap, ok := flat.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %+v", ErrNotFlatMap, flat)
		}
		flatRows = append(flatRows, flatMap)
	}

	b := &block.Block{}
	for _, def := range meta.Columns {
		present := false
		for _, row := range flatRows {
			if _, ok := row[def.Name]; ok {
				present = true
				break
			}
		}
		if !present {
			continue
		}

		colType := def.Type
		if colType == block.Object {
			colType = deduceObjectType(flatRows, def.Name)
		}

		col := &block.Column{Name: def.Name, Type: colType, Data: make([]any, 0, len(flatRows))}
		for _, row := range flatRows {
			raw, ok := row[def.Name]
			if !ok || raw == nil {
				col.Data = append(col.Data, zeroValue(colType))
				continue
			}
			v, err := coerceRowValue(raw, colType)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", def.Name, err)
			}
			col.Data = append(col.Data, v)
		}
		b.Columns = append(b.Columns, col)
	}
	return b, nil
}

func deduceObjectType(rows []map[string]any, name string) block.ColumnType {
	for _, row := range rows {
		if v, ok := row[name]; ok && v != nil {
			return block.DeduceType(v)
		}
	}
	return block.String
}

func zeroValue(t block.ColumnType) any {
	switch t {
	case block.Float64:
		return float64(0)
	case block.String:
		return ""
	case block.Aggregate:
		return nil
	default:
		return int64(0)
	}
}

// coerceRowValue accepts timestamps either as ISO strings or unix
// milliseconds for temporal columns, everything else goes through the block
// coercion rules.
func coerceRowValue(raw any, t block.ColumnType) (any, error) {
	switch t {
	case block.Date, block.DateTime:
		ts, err := parseTime(raw)
		if err != nil {
			return nil, err
		}
		if t == block.Date {
			return ts.Unix() / 86400, nil
		}
		return ts.Unix(), nil
	default:
		return block.CoerceValue(raw, t)
	}
}

func parseTime(raw any) (time.Time, error) {
	if valString, isStr := raw.(string); isStr {
		// A datetime like YYYY-MM-DDTHH:mm:ss.sssZ
		t, err := time.Parse("2006-01-02T15:04:05.000Z", valString)
		if err != nil {
			return time.Time{}, fmt.Errorf("error in time.Parse for string: %w", err)
		}
		return t, nil
	}
	if valFloat, isFloat := raw.(float64); isFloat {
		return time.UnixMilli(int64(valFloat)), nil
	}
	if valInt, isInt := raw.(int64); isInt {
		return time.UnixMilli(valInt), nil
	}
	return time.Time{}, ErrInvalidColumnType
}
