package writer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/permafrostdb/permafrost/block"
	"github.com/permafrostdb/permafrost/expr"
	"github.com/permafrostdb/permafrost/metrics"
	"github.com/permafrostdb/permafrost/part"
	"github.com/permafrostdb/permafrost/partition"
	"github.com/permafrostdb/permafrost/schema"
	"github.com/permafrostdb/permafrost/serializer"
	"github.com/permafrostdb/permafrost/sorting"
)

// writeProjectionPartImpl writes one projection sub-part into a subdirectory
// of the parent's temp directory, sorting by the projection's own sorting
// key. Only Aggregate projections are reduced, always in Aggregating mode;
// Normal projections are written unreduced. Projection parts always cover the
// whole parent, their info is pinned to partition "all", block range 0_0_0.
func writeProjectionPartImpl(
	partName string,
	partType part.Type,
	relativePath string,
	isTemp bool,
	parentPart *part.Part,
	parentFullPath string,
	b *block.Block,
	projection *schema.Projection,
) (*TemporaryPart, error) {
	tp := &TemporaryPart{}
	meta := projection.Metadata

	columns, err := pickColumns(meta, b)
	if err != nil {
		return nil, err
	}

	newPart := &part.Part{
		Name:         partName,
		Info:         part.Info{PartitionID: partition.IDAll, MinBlock: 0, MaxBlock: 0, Level: 0},
		Type:         partType,
		RowsCount:    0,
		Columns:      columns,
		RelativePath: relativePath,
		Disk:         parentPart.Disk,
		IsTemp:       isTemp,
	}

	projDir := filepath.Join(parentFullPath, relativePath)
	if _, statErr := os.Stat(projDir); statErr == nil {
		logger.Warn().Str("path", projDir).Msg("removing old temporary projection directory")
		if err := os.RemoveAll(projDir); err != nil {
			return nil, fmt.Errorf("error in RemoveAll: %w", err)
		}
	}
	if err := os.MkdirAll(projDir, 0o755); err != nil {
		return nil, fmt.Errorf("error in MkdirAll: %w", err)
	}

	if meta.HasSortingKey() || meta.HasSecondaryIndices() {
		if _, err := expr.ExecuteForBlock(meta.SortingKeyAndSkipIndicesExprs(), b); err != nil {
			return nil, fmt.Errorf("error in ExecuteForBlock: %w", err)
		}
	}

	sortDesc := sorting.Description(meta.SortingKeyColumns())

	metrics.ProjectionWriterBlocks.Inc()

	var perm []int
	if len(sortDesc) > 0 {
		sorted, err := sorting.IsAlreadySorted(b, sortDesc)
		if err != nil {
			return nil, fmt.Errorf("error in IsAlreadySorted: %w", err)
		}
		if sorted {
			metrics.ProjectionWriterBlocksAlreadySorted.Inc()
		} else {
			perm, err = sorting.StablePermutation(b, sortDesc)
			if err != nil {
				return nil, fmt.Errorf("error in StablePermutation: %w", err)
			}
		}
	}

	if projection.Type == schema.ProjectionAggregate {
		// Aggregate projections always pre-merge, whatever the parent table's
		// merging mode is.
		params := schema.MergingParams{Mode: schema.Aggregating}
		b, err = mergeBlock(b, sortDesc, nil, &perm, params)
		if err != nil {
			return nil, err
		}
	}

	newPart.RowsCount = int64(b.Rows())

	codec := serializer.ChooseCompressionCodec(0, 0)
	out := serializer.NewStream(projDir, columns, meta.SkipIndices, codec, meta.Settings.RatioOfDefaultsForSparseSerialization)
	if err := out.WriteWithPermutation(b, perm); err != nil {
		return nil, fmt.Errorf("error in WriteWithPermutation: %w", err)
	}

	finalizer, err := out.FinalizePartAsync(newPart, false)
	if err != nil {
		return nil, fmt.Errorf("error in FinalizePartAsync: %w", err)
	}

	tp.Part = newPart
	tp.Disk = parentPart.Disk
	tp.FullPath = projDir
	tp.Streams = append(tp.Streams, Stream{Stream: out, Finalizer: finalizer})

	metrics.ProjectionWriterRows.Add(float64(b.Rows()))
	metrics.ProjectionWriterUncompressedBytes.Add(float64(b.Bytes()))

	return tp, nil
}

// projectionPartType inherits InMemory from the parent, otherwise re-chooses
// an on-disk layout after checking the parent disk still has room.
func projectionPartType(parentPart *part.Part, b *block.Block, s schema.Settings) (part.Type, error) {
	if parentPart.Type == part.InMemory {
		return part.InMemory, nil
	}
	expectedSize := b.Bytes()
	res, err := parentPart.Disk.Reserve(expectedSize)
	if err != nil {
		return "", fmt.Errorf("error reserving space for projection: %w", err)
	}
	res.Release()
	return part.ChoosePartTypeOnDisk(expectedSize, int64(b.Rows()), s), nil
}

// writeProjectionPart writes the final <name>.proj sub-part of one insert.
func writeProjectionPart(b *block.Block, projection *schema.Projection, parentPart *part.Part, parentFullPath string) (*TemporaryPart, error) {
	partType, err := projectionPartType(parentPart, b, projection.Metadata.Settings)
	if err != nil {
		return nil, err
	}
	return writeProjectionPartImpl(
		projection.Name,
		partType,
		projection.Name+".proj",
		false,
		parentPart,
		parentFullPath,
		b,
		projection,
	)
}

// WriteTempProjectionPart writes one <name>_<blockNum>.tmp_proj sub-part,
// used when a projection is re-materialized over many blocks.
func WriteTempProjectionPart(b *block.Block, projection *schema.Projection, parentPart *part.Part, parentFullPath string, blockNum int) (*TemporaryPart, error) {
	partType, err := projectionPartType(parentPart, b, projection.Metadata.Settings)
	if err != nil {
		return nil, err
	}
	partName := fmt.Sprintf("%s_%d", projection.Name, blockNum)
	return writeProjectionPartImpl(
		partName,
		partType,
		partName+".tmp_proj",
		true,
		parentPart,
		parentFullPath,
		b,
		projection,
	)
}
