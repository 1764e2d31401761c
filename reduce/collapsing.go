package reduce

import (
	"fmt"

	"github.com/permafrostdb/permafrost/block"
	"github.com/permafrostdb/permafrost/sorting"
)

// CollapsingAlgorithm cancels +1/-1 row pairs inside each equivalence class
// on the sorting key. On imbalance the surplus row survives: the last
// positive when positives outnumber negatives, the first negative otherwise.
// When both signs appear with unequal counts an anomaly is logged, the data
// is inconsistent but the write proceeds.
type CollapsingAlgorithm struct {
	runState
	sortDesc   sorting.Description
	signColumn string
}

func (a *CollapsingAlgorithm) Merge() (Status, error) {
	return a.next(a.reduce)
}

func (a *CollapsingAlgorithm) reduce(b *block.Block) (*block.Block, error) {
	signCol, err := b.ColumnByName(a.signColumn)
	if err != nil {
		return nil, fmt.Errorf("error in ColumnByName: %w", err)
	}

	var keep []int
	var anomalies int
	err = equivalenceClasses(b, a.sortDesc, func(start, end int) error {
		countPositive, countNegative := 0, 0
		firstNegative, lastPositive := -1, -1
		lastIsPositive := false
		for i := start; i < end; i++ {
			sign, ok := signCol.Data[i].(int64)
			if !ok {
				return fmt.Errorf("sign column %s holds %T, expected Int8", a.signColumn, signCol.Data[i])
			}
			if sign == 1 {
				countPositive++
				lastPositive = i
				lastIsPositive = true
			} else if sign == -1 {
				countNegative++
				if firstNegative < 0 {
					firstNegative = i
				}
				lastIsPositive = false
			} else {
				return fmt.Errorf("sign column %s holds value %d, expected 1 or -1", a.signColumn, sign)
			}
		}

		if countPositive == 0 && countNegative == 0 {
			return nil
		}
		if lastIsPositive || countPositive != countNegative {
			if countPositive <= countNegative && firstNegative >= 0 {
				keep = append(keep, firstNegative)
			}
			if countPositive >= countNegative && lastPositive >= 0 {
				keep = append(keep, lastPositive)
			}
			if countPositive > 0 && countNegative > 0 && countPositive != countNegative {
				anomalies++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if anomalies > 0 {
		logger.Warn().Int("classes", anomalies).Str("sign_column", a.signColumn).
			Msg("incorrect data: sign rows do not cancel pairwise, surplus kept")
	}
	return b.CloneWithRows(keep), nil
}
