package reduce

import (
	"fmt"

	"github.com/permafrostdb/permafrost/block"
	"github.com/permafrostdb/permafrost/sorting"
)

// ReplacingAlgorithm keeps, per equivalence class on the sorting key, the
// single row with the maximum version, or the last row in input order when no
// version column is configured.
type ReplacingAlgorithm struct {
	runState
	sortDesc      sorting.Description
	versionColumn string
}

func (a *ReplacingAlgorithm) Merge() (Status, error) {
	return a.next(a.reduce)
}

func (a *ReplacingAlgorithm) reduce(b *block.Block) (*block.Block, error) {
	var versionCol *block.Column
	if a.versionColumn != "" {
		c, err := b.ColumnByName(a.versionColumn)
		if err != nil {
			return nil, fmt.Errorf("error in ColumnByName: %w", err)
		}
		versionCol = c
	}

	var keep []int
	err := equivalenceClasses(b, a.sortDesc, func(start, end int) error {
		best := start
		if versionCol != nil {
			for i := start + 1; i < end; i++ {
				cmp, err := block.CompareValues(versionCol.Data[i], versionCol.Data[best])
				if err != nil {
					return fmt.Errorf("error comparing versions: %w", err)
				}
				// >= keeps the last row among equal max versions
				if cmp >= 0 {
					best = i
				}
			}
		} else {
			best = end - 1
		}
		keep = append(keep, best)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b.CloneWithRows(keep), nil
}
