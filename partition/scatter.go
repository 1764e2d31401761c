package partition

import (
	"errors"
	"fmt"

	"github.com/permafrostdb/permafrost/block"
	"github.com/permafrostdb/permafrost/expr"
	"github.com/permafrostdb/permafrost/schema"
	"github.com/spaolacci/murmur3"
)

type (
	// BlockWithPartition is a block whose rows all belong to one partition.
	BlockWithPartition struct {
		Block     *block.Block
		Partition Tuple
	}
)

var ErrTooManyParts = errors.New("too many partitions for single insert block")

// buildScatterSelector hashes each row's partition columns and assigns rows
// to partitions in discovery order. The selector is materialized lazily: as
// long as only one partition has been discovered every row is implicitly in
// partition 0. The too-many-parts check fires the moment a new partition is
// discovered.
func buildScatterSelector(columns []*block.Column, maxParts int) (partitionNumToFirstRow []int, selector []int, err error) {
	if len(columns) == 0 {
		return nil, nil, nil
	}
	numRows := len(columns[0].Data)
	partitions := make(map[hashKey]int)

	var buf []byte
	for i := 0; i < numRows; i++ {
		buf = buf[:0]
		for _, c := range columns {
			buf = appendValue(buf, c.Data[i])
		}
		hi, lo := murmur3.Sum128(buf)
		key := hashKey{hi: hi, lo: lo}

		num, seen := partitions[key]
		if !seen {
			if maxParts > 0 && len(partitions) >= maxParts {
				return nil, nil, fmt.Errorf("%w (more than %d). The limit is controlled by the max_partitions_per_insert_block setting. A large number of partitions leads to severe negative performance impact, use the ordering key for range queries instead", ErrTooManyParts, maxParts)
			}
			num = len(partitions)
			partitions[key] = num
			partitionNumToFirstRow = append(partitionNumToFirstRow, i)

			// Common case is a single partition, defer selector initialization
			// until a second one shows up.
			if len(partitions) == 2 {
				selector = make([]int, numRows)
			}
		}

		if len(partitions) > 1 {
			selector[i] = num
		}
	}
	return partitionNumToFirstRow, selector, nil
}

// SplitBlockIntoParts splits one inserted block by the table's partition key
// into per-partition sub-blocks, in partition discovery order.
func SplitBlockIntoParts(b *block.Block, maxParts int, meta *schema.Metadata) ([]BlockWithPartition, error) {
	if b == nil || b.Rows() == 0 {
		return nil, nil
	}

	if err := meta.Check(b); err != nil {
		return nil, err
	}

	if !meta.HasPartitionKey() {
		return []BlockWithPartition{{Block: b, Partition: Tuple{}}}, nil
	}

	// Partition key columns are evaluated into a copy so they do not leak
	// into downstream key computations on the original block.
	blockCopy := b.Clone()
	names, err := expr.ExecuteForBlock(meta.PartitionKey, blockCopy)
	if err != nil {
		return nil, fmt.Errorf("error in ExecuteForBlock: %w", err)
	}

	partitionColumns := make([]*block.Column, 0, len(names))
	for _, name := range names {
		c, err := blockCopy.ColumnByName(name)
		if err != nil {
			return nil, fmt.Errorf("error in ColumnByName: %w", err)
		}
		partitionColumns = append(partitionColumns, c)
	}

	partitionNumToFirstRow, selector, err := buildScatterSelector(partitionColumns, maxParts)
	if err != nil {
		return nil, err
	}

	getPartition := func(num int) Tuple {
		t := make(Tuple, len(partitionColumns))
		for i, c := range partitionColumns {
			t[i] = c.Data[partitionNumToFirstRow[num]]
		}
		return t
	}

	partitionsCount := len(partitionNumToFirstRow)
	if partitionsCount == 1 {
		// Return the original block so computed partition key columns do not
		// interfere with computed sorting key columns of the same name.
		return []BlockWithPartition{{Block: b, Partition: getPartition(0)}}, nil
	}

	scattered := b.Scatter(partitionsCount, selector)
	result := make([]BlockWithPartition, 0, partitionsCount)
	for i := 0; i < partitionsCount; i++ {
		result = append(result, BlockWithPartition{Block: scattered[i], Partition: getPartition(i)})
	}
	return result, nil
}
