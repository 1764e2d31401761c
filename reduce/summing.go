package reduce

import (
	"fmt"

	"github.com/permafrostdb/permafrost/block"
	"github.com/permafrostdb/permafrost/sorting"
	"github.com/permafrostdb/permafrost/utils"
)

// SummingAlgorithm keeps one row per equivalence class. Configured columns
// (or, when none are configured, every numeric column outside the sorting and
// partition keys) are summed across the class, aggregate columns are merged,
// every other column takes the first row's value.
type SummingAlgorithm struct {
	runState
	sortDesc            sorting.Description
	columnsToSum        []string
	partitionKeyColumns []string
}

func (a *SummingAlgorithm) Merge() (Status, error) {
	return a.next(a.reduce)
}

func (a *SummingAlgorithm) isSummable(c *block.Column) bool {
	if utils.ContainsString(a.sortDesc, c.Name) || utils.ContainsString(a.partitionKeyColumns, c.Name) {
		return false
	}
	if len(a.columnsToSum) > 0 {
		return utils.ContainsString(a.columnsToSum, c.Name)
	}
	return c.Type == block.Int64 || c.Type == block.UInt32 || c.Type == block.Int8 || c.Type == block.Float64
}

func (a *SummingAlgorithm) reduce(b *block.Block) (*block.Block, error) {
	out := b.CloneEmpty()
	err := equivalenceClasses(b, a.sortDesc, func(start, end int) error {
		for ci, c := range b.Columns {
			dst := out.Columns[ci]
			switch {
			case c.Type == block.Aggregate:
				merged, err := mergeAggRange(c, start, end)
				if err != nil {
					return err
				}
				dst.Data = append(dst.Data, merged)
			case a.isSummable(c):
				sum, err := sumRange(c, start, end)
				if err != nil {
					return err
				}
				dst.Data = append(dst.Data, sum)
			default:
				dst.Data = append(dst.Data, c.Data[start])
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func sumRange(c *block.Column, start, end int) (any, error) {
	switch c.Type {
	case block.Float64:
		var sum float64
		for i := start; i < end; i++ {
			f, ok := c.Data[i].(float64)
			if !ok {
				return nil, fmt.Errorf("column %s holds %T, expected float64", c.Name, c.Data[i])
			}
			sum += f
		}
		return sum, nil
	default:
		var sum int64
		for i := start; i < end; i++ {
			v, ok := c.Data[i].(int64)
			if !ok {
				return nil, fmt.Errorf("column %s holds %T, expected int64", c.Name, c.Data[i])
			}
			sum += v
		}
		return sum, nil
	}
}

func mergeAggRange(c *block.Column, start, end int) (block.AggState, error) {
	state, ok := c.Data[start].(block.AggState)
	if !ok {
		return nil, fmt.Errorf("column %s holds %T, expected an aggregate state", c.Name, c.Data[start])
	}
	for i := start + 1; i < end; i++ {
		next, ok := c.Data[i].(block.AggState)
		if !ok {
			return nil, fmt.Errorf("column %s holds %T, expected an aggregate state", c.Name, c.Data[i])
		}
		merged, err := state.Merge(next)
		if err != nil {
			return nil, fmt.Errorf("error in Merge: %w", err)
		}
		state = merged
	}
	return state, nil
}
