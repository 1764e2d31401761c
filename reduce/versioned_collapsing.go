package reduce

import (
	"fmt"

	"github.com/permafrostdb/permafrost/block"
	"github.com/permafrostdb/permafrost/sorting"
)

// VersionedCollapsingAlgorithm cancels +1/-1 pairs like Collapsing, but rows
// only cancel against rows carrying the same version. The version column is
// the last component of the sorting key, so equal-version rows are adjacent
// inside each class and cancellation is pairwise across adjacent rows of
// opposite sign.
type VersionedCollapsingAlgorithm struct {
	runState
	sortDesc   sorting.Description
	signColumn string
}

func (a *VersionedCollapsingAlgorithm) Merge() (Status, error) {
	return a.next(a.reduce)
}

func (a *VersionedCollapsingAlgorithm) reduce(b *block.Block) (*block.Block, error) {
	signCol, err := b.ColumnByName(a.signColumn)
	if err != nil {
		return nil, fmt.Errorf("error in ColumnByName: %w", err)
	}

	var keep []int
	// The full sorting key (version included) defines the cancellation group.
	err = equivalenceClasses(b, a.sortDesc, func(start, end int) error {
		var positives, negatives []int
		for i := start; i < end; i++ {
			sign, ok := signCol.Data[i].(int64)
			if !ok {
				return fmt.Errorf("sign column %s holds %T, expected Int8", a.signColumn, signCol.Data[i])
			}
			switch sign {
			case 1:
				positives = append(positives, i)
			case -1:
				negatives = append(negatives, i)
			default:
				return fmt.Errorf("sign column %s holds value %d, expected 1 or -1", a.signColumn, sign)
			}
		}
		// Pairwise cancellation, the surplus survives.
		if len(positives) > len(negatives) {
			keep = append(keep, positives[len(negatives):]...)
		} else if len(negatives) > len(positives) {
			keep = append(keep, negatives[len(positives):]...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b.CloneWithRows(keep), nil
}
