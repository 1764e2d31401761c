package ttl

import (
	"errors"
	"fmt"

	"github.com/permafrostdb/permafrost/block"
	"github.com/permafrostdb/permafrost/schema"
)

var ErrUnexpectedColumnType = errors.New("unexpected type of result TTL column")

type (
	// Info is the [min, max] timestamp summary of one TTL expression over the
	// rows of a part, in unix seconds.
	Info struct {
		Min int64 `json:"min"`
		Max int64 `json:"max"`
	}

	// PartInfos aggregates every TTL category of a part and tracks the
	// part-wide min/max over the rows-category entries.
	PartInfos struct {
		TableTTL         Info            `json:"table,omitempty"`
		ColumnsTTL       map[string]Info `json:"columns,omitempty"`
		RowsWhereTTL     map[string]Info `json:"rows_where,omitempty"`
		GroupByTTL       map[string]Info `json:"group_by,omitempty"`
		RecompressionTTL map[string]Info `json:"recompression,omitempty"`
		MovesTTL         map[string]Info `json:"moves,omitempty"`

		PartMinTTL int64 `json:"part_min,omitempty"`
		PartMaxTTL int64 `json:"part_max,omitempty"`
	}
)

func (i *Info) Update(ts int64) {
	if i.Min == 0 || ts < i.Min {
		i.Min = ts
	}
	if ts > i.Max {
		i.Max = ts
	}
}

func (p *PartInfos) UpdatePartMinMaxTTL(min, max int64) {
	if p.PartMinTTL == 0 || min < p.PartMinTTL {
		p.PartMinTTL = min
	}
	if max > p.PartMaxTTL {
		p.PartMaxTTL = max
	}
}

// Merge folds another set of infos into p. Used to carry the move-TTL
// summaries computed before reservation into the part's infos.
func (p *PartInfos) Merge(other PartInfos) {
	mergeMap := func(dst *map[string]Info, src map[string]Info) {
		if len(src) == 0 {
			return
		}
		if *dst == nil {
			*dst = make(map[string]Info)
		}
		for k, v := range src {
			e := (*dst)[k]
			if v.Min != 0 {
				e.Update(v.Min)
			}
			if v.Max != 0 {
				e.Update(v.Max)
			}
			(*dst)[k] = e
		}
	}
	mergeMap(&p.ColumnsTTL, other.ColumnsTTL)
	mergeMap(&p.RowsWhereTTL, other.RowsWhereTTL)
	mergeMap(&p.GroupByTTL, other.GroupByTTL)
	mergeMap(&p.RecompressionTTL, other.RecompressionTTL)
	mergeMap(&p.MovesTTL, other.MovesTTL)
	if other.TableTTL.Min != 0 {
		p.TableTTL.Update(other.TableTTL.Min)
	}
	if other.TableTTL.Max != 0 {
		p.TableTTL.Update(other.TableTTL.Max)
	}
}

// Update evaluates one TTL entry against the block and folds the resulting
// temporal column into info. Date columns are converted from day numbers to
// unix seconds through the calendar table. Rows-category entries also update
// the part-wide min/max.
func Update(entry schema.TTLDescription, infos *PartInfos, info *Info, b *block.Block, updatePartMinMax bool) error {
	col, err := entry.Expression.Evaluate(b)
	if err != nil {
		return fmt.Errorf("error in Evaluate: %w", err)
	}

	switch col.Type {
	case block.Date:
		for _, v := range col.Data {
			d, ok := v.(int64)
			if !ok {
				return fmt.Errorf("%w: %T inside Date column", ErrUnexpectedColumnType, v)
			}
			info.Update(FromDayNum(d))
		}
	case block.DateTime:
		for _, v := range col.Data {
			sec, ok := v.(int64)
			if !ok {
				return fmt.Errorf("%w: %T inside DateTime column", ErrUnexpectedColumnType, v)
			}
			info.Update(sec)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedColumnType, col.Type)
	}

	if updatePartMinMax {
		infos.UpdatePartMinMaxTTL(info.Min, info.Max)
	}
	return nil
}
