package sorting

import (
	"fmt"
	"sort"

	"github.com/permafrostdb/permafrost/block"
)

// Description is the ordered list of column names a block is sorted by,
// always ascending, nulls first.
type Description []string

func columnsFor(b *block.Block, desc Description) ([]*block.Column, error) {
	cols := make([]*block.Column, 0, len(desc))
	for _, name := range desc {
		c, err := b.ColumnByName(name)
		if err != nil {
			return nil, fmt.Errorf("error in ColumnByName: %w", err)
		}
		cols = append(cols, c)
	}
	return cols, nil
}

// CompareRows lexicographically compares rows a and b over the sort columns.
func CompareRows(cols []*block.Column, a, b int) (int, error) {
	for _, c := range cols {
		cmp, err := block.CompareValues(c.Data[a], c.Data[b])
		if err != nil {
			return 0, fmt.Errorf("error comparing column %s: %w", c.Name, err)
		}
		if cmp != 0 {
			return cmp, nil
		}
	}
	return 0, nil
}

// IsAlreadySorted checks non-decreasing order over the sort columns in a
// single linear pass.
func IsAlreadySorted(b *block.Block, desc Description) (bool, error) {
	if len(desc) == 0 {
		return true, nil
	}
	cols, err := columnsFor(b, desc)
	if err != nil {
		return false, err
	}
	for i := 1; i < b.Rows(); i++ {
		cmp, err := CompareRows(cols, i-1, i)
		if err != nil {
			return false, err
		}
		if cmp > 0 {
			return false, nil
		}
	}
	return true, nil
}

// StablePermutation computes a permutation that orders the block
// lexicographically non-decreasing over the sort columns. Equal keys keep
// their input order.
func StablePermutation(b *block.Block, desc Description) ([]int, error) {
	cols, err := columnsFor(b, desc)
	if err != nil {
		return nil, err
	}
	perm := make([]int, b.Rows())
	for i := range perm {
		perm[i] = i
	}
	var sortErr error
	sort.SliceStable(perm, func(i, j int) bool {
		if sortErr != nil {
			return false
		}
		cmp, err := CompareRows(cols, perm[i], perm[j])
		if err != nil {
			sortErr = err
			return false
		}
		return cmp < 0
	})
	if sortErr != nil {
		return nil, sortErr
	}
	return perm, nil
}
