package partition

import (
	"fmt"

	"github.com/permafrostdb/permafrost/block"
)

// MinMaxIndex is the per-column closed interval [min, max] over the partition
// key columns of one part, a hyper-rectangle bounding the part.
type MinMaxIndex struct {
	Columns     []string
	Min         []any
	Max         []any
	Initialized bool
}

// Update folds the block's values for the given columns into the index.
// Empty blocks leave the index absent.
func (idx *MinMaxIndex) Update(b *block.Block, columnNames []string) error {
	if b.Rows() == 0 || len(columnNames) == 0 {
		return nil
	}
	first := !idx.Initialized
	if first {
		idx.Columns = columnNames
		idx.Min = make([]any, len(columnNames))
		idx.Max = make([]any, len(columnNames))
	}
	for i, name := range columnNames {
		c, err := b.ColumnByName(name)
		if err != nil {
			return fmt.Errorf("error in ColumnByName: %w", err)
		}
		start := 0
		if first {
			idx.Min[i] = c.Data[0]
			idx.Max[i] = c.Data[0]
			start = 1
		}
		for _, v := range c.Data[start:] {
			if cmp, err := block.CompareValues(v, idx.Min[i]); err != nil {
				return fmt.Errorf("error comparing min for %s: %w", name, err)
			} else if cmp < 0 {
				idx.Min[i] = v
			}
			if cmp, err := block.CompareValues(v, idx.Max[i]); err != nil {
				return fmt.Errorf("error comparing max for %s: %w", name, err)
			} else if cmp > 0 {
				idx.Max[i] = v
			}
		}
	}
	idx.Initialized = true
	return nil
}
