package reduce

import (
	"github.com/permafrostdb/permafrost/block"
	"github.com/permafrostdb/permafrost/sorting"
)

// AggregatingAlgorithm keeps one row per equivalence class, merging
// aggregate-function columns through their merge semantics. Every other
// column takes the first row's value.
type AggregatingAlgorithm struct {
	runState
	sortDesc sorting.Description
}

func (a *AggregatingAlgorithm) Merge() (Status, error) {
	return a.next(a.reduce)
}

func (a *AggregatingAlgorithm) reduce(b *block.Block) (*block.Block, error) {
	out := b.CloneEmpty()
	err := equivalenceClasses(b, a.sortDesc, func(start, end int) error {
		for ci, c := range b.Columns {
			dst := out.Columns[ci]
			if c.Type == block.Aggregate {
				merged, err := mergeAggRange(c, start, end)
				if err != nil {
					return err
				}
				dst.Data = append(dst.Data, merged)
				continue
			}
			dst.Data = append(dst.Data, c.Data[start])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
