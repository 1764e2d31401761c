package writer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/permafrostdb/permafrost/block"
	"github.com/permafrostdb/permafrost/expr"
	"github.com/permafrostdb/permafrost/gologger"
	"github.com/permafrostdb/permafrost/metrics"
	"github.com/permafrostdb/permafrost/part"
	"github.com/permafrostdb/permafrost/partition"
	"github.com/permafrostdb/permafrost/reduce"
	"github.com/permafrostdb/permafrost/schema"
	"github.com/permafrostdb/permafrost/serializer"
	"github.com/permafrostdb/permafrost/sorting"
	"github.com/permafrostdb/permafrost/storage"
	"github.com/permafrostdb/permafrost/ttl"
)

var (
	logger = gologger.NewLogger()

	// ErrLogical marks violated internal invariants: the write aborts, the
	// condition is a programmer error, not bad input.
	ErrLogical = errors.New("logical error")
)

const tmpPrefix = "tmp_insert_"

type (
	// Writer produces temporary parts from inserted blocks against one
	// storage policy. The insert increment belongs to the Writer and makes
	// every temp part name it produces unique.
	Writer struct {
		policy          *storage.Policy
		insertIncrement int64
	}

	// Stream pairs a serializer stream with its pending finalizer.
	Stream struct {
		Stream    *serializer.Stream
		Finalizer *serializer.Finalizer
	}

	// TemporaryPart owns a fully written but unpublished part: its descriptor,
	// the directory lifetime lock, and the streams that must be finished
	// before the part is durable. Dropping it unfinalized leaves the
	// directory to the janitor.
	TemporaryPart struct {
		Part          *part.Part
		Disk          *storage.Disk
		FullPath      string
		DirectoryLock *part.TempDirectoryLock
		Reservation   *storage.Reservation
		Streams       []Stream
	}
)

func New(policy *storage.Policy) *Writer {
	return &Writer{policy: policy}
}

// Finalize finishes every stream. No bytes are committed until it returns.
func (tp *TemporaryPart) Finalize() error {
	for _, s := range tp.Streams {
		if err := s.Finalizer.Finish(); err != nil {
			return fmt.Errorf("error in Finish: %w", err)
		}
	}
	if tp.Part != nil {
		metrics.WriterCompressedBytes.Add(float64(tp.Part.BytesOnDisk))
		for _, proj := range tp.Part.Projections {
			metrics.ProjectionWriterCompressedBytes.Add(float64(proj.BytesOnDisk))
		}
	}
	return nil
}

// Empty reports whether the write produced no part (reduction removed every
// row).
func (tp *TemporaryPart) Empty() bool {
	return tp.Part == nil
}

// SplitBlockIntoParts scatters one inserted block by the table's partition
// key, enforcing the per-insert partition fan-out limit.
func (w *Writer) SplitBlockIntoParts(b *block.Block, meta *schema.Metadata) ([]partition.BlockWithPartition, error) {
	return partition.SplitBlockIntoParts(b, meta.Settings.MaxPartitionsPerInsertBlock, meta)
}

// mergeBlock pre-applies the table's merging mode to a single sorted block,
// the same reduction later background merges perform. The permutation is
// consumed: rows come out already ordered.
func mergeBlock(b *block.Block, sortDesc sorting.Description, partitionKeyColumns []string, perm *[]int, params schema.MergingParams) (*block.Block, error) {
	algorithm, err := reduce.NewAlgorithm(sortDesc, partitionKeyColumns, params, time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("error in NewAlgorithm: %w", err)
	}
	if algorithm == nil {
		// Nothing to merge in a single block of an ordinary table
		return b, nil
	}

	if err := algorithm.Initialize([]reduce.Input{{Block: b, Permutation: *perm}}); err != nil {
		return nil, fmt.Errorf("error in Initialize: %w", err)
	}

	status, err := algorithm.Merge()
	if err != nil {
		return nil, fmt.Errorf("error in Merge: %w", err)
	}
	if status.RequiredSource != 0 || status.IsFinished {
		return nil, fmt.Errorf("%w: required source after the first merge is not 0", ErrLogical)
	}

	status, err = algorithm.Merge()
	if err != nil {
		return nil, fmt.Errorf("error in Merge: %w", err)
	}
	if !status.IsFinished {
		return nil, fmt.Errorf("%w: merge is not finished after the second merge", ErrLogical)
	}

	// Merged rows are sorted, the permutation is spent.
	*perm = nil
	return status.Chunk, nil
}

// updateTTLEntry evaluates one TTL entry and folds it into the category map.
func updateTTLEntry(entry schema.TTLDescription, infos *ttl.PartInfos, category *map[string]ttl.Info, key string, b *block.Block, updatePartMinMax bool) error {
	if *category == nil {
		*category = make(map[string]ttl.Info)
	}
	info := (*category)[key]
	if err := ttl.Update(entry, infos, &info, b, updatePartMinMax); err != nil {
		return fmt.Errorf("%w: %s", ErrLogical, err.Error())
	}
	(*category)[key] = info
	return nil
}

// pickColumns filters the schema's columns down to the block's and deduces
// the concrete type of object columns from the block.
func pickColumns(meta *schema.Metadata, b *block.Block) ([]schema.ColumnDef, error) {
	defs := meta.ColumnDefsFor(b.Names())
	for i, def := range defs {
		if def.Type != block.Object {
			continue
		}
		c, err := b.ColumnByName(def.Name)
		if err != nil {
			return nil, fmt.Errorf("error in ColumnByName: %w", err)
		}
		defs[i].Type = concreteType(c)
	}
	return defs, nil
}

func concreteType(c *block.Column) block.ColumnType {
	if c.Type != block.Object && c.Type != "" {
		return c.Type
	}
	for _, v := range c.Data {
		if v != nil {
			return block.DeduceType(v)
		}
	}
	return block.String
}

// minMaxColumnNames are the source columns the partition key reads, the
// columns the minmax index covers.
func minMaxColumnNames(meta *schema.Metadata) []string {
	var names []string
	for _, e := range meta.PartitionKey {
		found := false
		for _, n := range names {
			if n == e.Column {
				found = true
				break
			}
		}
		if !found {
			names = append(names, e.Column)
		}
	}
	return names
}

// WriteTempPart runs the full insert pipeline for one partition's block and
// hands back the unpublished part. The caller must Finalize before renaming
// the directory into place.
func (w *Writer) WriteTempPart(ctx context.Context, bwp partition.BlockWithPartition, meta *schema.Metadata) (tp *TemporaryPart, err error) {
	tp = &TemporaryPart{}
	b := bwp.Block

	columns, err := pickColumns(meta, b)
	if err != nil {
		return nil, err
	}

	// Unique among the parts of this Writer
	tempIndex := atomic.AddInt64(&w.insertIncrement, 1)

	minmaxIdx := &partition.MinMaxIndex{}
	if err := minmaxIdx.Update(b, minMaxColumnNames(meta)); err != nil {
		return nil, fmt.Errorf("error in minmax Update: %w", err)
	}

	info := part.Info{
		PartitionID: bwp.Partition.ID(),
		MinBlock:    tempIndex,
		MaxBlock:    tempIndex,
		Level:       0,
	}

	var partName string
	if meta.FormatVersion < schema.FormatVersionCustomPartitioning {
		partName, err = v0PartName(info, minmaxIdx, meta.MinMaxIdxDateColumnPos)
		if err != nil {
			return nil, err
		}
	} else {
		partName = info.Name()
	}

	partDir := tmpPrefix + partName
	relPath := filepath.Join(meta.RelativeDataPath, partDir)

	dirLock, err := part.LockTempDirectory(relPath)
	if err != nil {
		return nil, fmt.Errorf("error in LockTempDirectory: %w", err)
	}
	defer func() {
		// A failed write releases the lock, the janitor owns whatever was
		// written. Success keeps it until the caller publishes.
		if err != nil {
			dirLock.Release()
		}
	}()

	// Sort and skip-index expressions may add columns to the block.
	if meta.HasSortingKey() || meta.HasSecondaryIndices() {
		if _, err := expr.ExecuteForBlock(meta.SortingKeyAndSkipIndicesExprs(), b); err != nil {
			return nil, fmt.Errorf("error in ExecuteForBlock: %w", err)
		}
	}

	sortDesc := sorting.Description(meta.SortingKeyColumns())

	metrics.WriterBlocks.Inc()

	var perm []int
	if len(sortDesc) > 0 {
		sorted, err := sorting.IsAlreadySorted(b, sortDesc)
		if err != nil {
			return nil, fmt.Errorf("error in IsAlreadySorted: %w", err)
		}
		if sorted {
			metrics.WriterBlocksAlreadySorted.Inc()
		} else {
			perm, err = sorting.StablePermutation(b, sortDesc)
			if err != nil {
				return nil, fmt.Errorf("error in StablePermutation: %w", err)
			}
		}
	}

	if meta.Settings.OptimizeOnInsert {
		b, err = mergeBlock(b, sortDesc, meta.PartitionKeyColumns(), &perm, meta.MergingParams)
		if err != nil {
			return nil, err
		}
	}

	// Part size will not exceed the block size plus epsilon
	expectedSize := b.Bytes()

	// The merge may have cancelled every row, an empty part is not created.
	if expectedSize == 0 || b.Rows() == 0 {
		dirLock.Release()
		return &TemporaryPart{}, nil
	}

	// The reducer may have dropped rows, the stored index covers exactly the
	// rows actually written.
	if meta.Settings.OptimizeOnInsert && meta.MergingParams.Mode != schema.Ordinary {
		minmaxIdx = &partition.MinMaxIndex{}
		if err := minmaxIdx.Update(b, minMaxColumnNames(meta)); err != nil {
			return nil, fmt.Errorf("error in minmax Update: %w", err)
		}
	}

	now := time.Now().Unix()

	var moveTTLInfos ttl.PartInfos
	for _, entry := range meta.MoveTTLs {
		if err := updateTTLEntry(entry, &moveTTLInfos, &moveTTLInfos.MovesTTL, entry.Expression.ResultName(), b, false); err != nil {
			return nil, err
		}
	}

	reservation, err := w.policy.ReserveSpacePreferringTTLRules(meta, expectedSize, moveTTLInfos, now)
	if err != nil {
		return nil, fmt.Errorf("error reserving space for part: %w", err)
	}
	defer func() {
		if err != nil {
			reservation.Release()
		}
	}()

	disk := reservation.Disk()
	fullPath := disk.FullPath(relPath)

	newPart := &part.Part{
		Name:         partName,
		Info:         info,
		Type:         part.ChoosePartType(expectedSize, int64(b.Rows()), meta.Settings),
		Partition:    bwp.Partition,
		MinMaxIdx:    minmaxIdx,
		RowsCount:    int64(b.Rows()),
		Columns:      columns,
		RelativePath: partDir,
		Disk:         disk,
		IsTemp:       true,
	}
	if meta.Settings.AssignPartUUIDs {
		newPart.UUID = uuid.New()
	}

	// Stale directories can survive from previous runs under the same name.
	if _, statErr := os.Stat(fullPath); statErr == nil {
		logger.Warn().Str("path", fullPath).Msg("removing old temporary directory")
		if err := os.RemoveAll(fullPath); err != nil {
			return nil, fmt.Errorf("error in RemoveAll: %w", err)
		}
	}
	if err := os.MkdirAll(fullPath, 0o755); err != nil {
		return nil, fmt.Errorf("error in MkdirAll: %w", err)
	}

	if meta.RowsTTL != nil {
		if err := ttlUpdateTable(*meta.RowsTTL, &newPart.TTLInfos, b); err != nil {
			return nil, err
		}
	}
	for _, entry := range meta.GroupByTTLs {
		if err := updateTTLEntry(entry, &newPart.TTLInfos, &newPart.TTLInfos.GroupByTTL, entry.Expression.ResultName(), b, true); err != nil {
			return nil, err
		}
	}
	for _, entry := range meta.RowsWhereTTLs {
		if err := updateTTLEntry(entry, &newPart.TTLInfos, &newPart.TTLInfos.RowsWhereTTL, entry.Expression.ResultName(), b, true); err != nil {
			return nil, err
		}
	}
	for name, entry := range meta.ColumnTTLs {
		if err := updateTTLEntry(entry, &newPart.TTLInfos, &newPart.TTLInfos.ColumnsTTL, name, b, true); err != nil {
			return nil, err
		}
	}
	for _, entry := range meta.RecompressionTTLs {
		if err := updateTTLEntry(entry, &newPart.TTLInfos, &newPart.TTLInfos.RecompressionTTL, entry.Expression.ResultName(), b, false); err != nil {
			return nil, err
		}
	}
	newPart.TTLInfos.Merge(moveTTLInfos)

	// Minimal codec, the part is fresh and will be recompressed by merges
	codec := serializer.ChooseCompressionCodec(0, 0)

	out := serializer.NewStream(fullPath, columns, meta.SkipIndices, codec, meta.Settings.RatioOfDefaultsForSparseSerialization)
	if err := out.WriteWithPermutation(b, perm); err != nil {
		return nil, fmt.Errorf("error in WriteWithPermutation: %w", err)
	}

	tp.Part = newPart
	tp.Disk = disk
	tp.FullPath = fullPath
	tp.DirectoryLock = dirLock
	tp.Reservation = reservation

	for i := range meta.Projections {
		projection := &meta.Projections[i]
		projBlock, err := projection.Calculate(b)
		if err != nil {
			return nil, fmt.Errorf("error in projection %s Calculate: %w", projection.Name, err)
		}
		if projBlock == nil || projBlock.Rows() == 0 {
			continue
		}
		projTP, err := writeProjectionPart(projBlock, projection, newPart, fullPath)
		if err != nil {
			return nil, fmt.Errorf("error writing projection %s: %w", projection.Name, err)
		}
		newPart.AddProjection(projection.Name, projTP.Part)
		tp.Streams = append(tp.Streams, projTP.Streams...)
	}

	finalizer, err := out.FinalizePartAsync(newPart, meta.Settings.FsyncAfterInsert)
	if err != nil {
		return nil, fmt.Errorf("error in FinalizePartAsync: %w", err)
	}
	tp.Streams = append(tp.Streams, Stream{Stream: out, Finalizer: finalizer})

	if meta.Settings.FsyncPartDirectory {
		if err := serializer.FsyncDir(fullPath); err != nil {
			return nil, err
		}
	}

	metrics.WriterRows.Add(float64(b.Rows()))
	metrics.WriterUncompressedBytes.Add(float64(b.Bytes()))

	return tp, nil
}

func ttlUpdateTable(entry schema.TTLDescription, infos *ttl.PartInfos, b *block.Block) error {
	if err := ttl.Update(entry, infos, &infos.TableTTL, b, true); err != nil {
		return fmt.Errorf("%w: %s", ErrLogical, err.Error())
	}
	return nil
}

// v0PartName builds the YYYYMMDD-based name of tables predating custom
// partitioning. The single date partition column must stay inside one month.
func v0PartName(info part.Info, minmaxIdx *partition.MinMaxIndex, datePos int) (string, error) {
	if !minmaxIdx.Initialized || datePos >= len(minmaxIdx.Min) {
		return "", fmt.Errorf("%w: minmax index has no date column at position %d", ErrLogical, datePos)
	}
	minDate, okMin := minmaxIdx.Min[datePos].(int64)
	maxDate, okMax := minmaxIdx.Max[datePos].(int64)
	if !okMin || !okMax {
		return "", fmt.Errorf("%w: minmax date column is not a date", ErrLogical)
	}
	if ttl.ToNumYYYYMM(minDate) != ttl.ToNumYYYYMM(maxDate) {
		return "", fmt.Errorf("%w: part spans more than one month", ErrLogical)
	}
	return info.NameV0(minDate, maxDate), nil
}
