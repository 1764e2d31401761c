package part

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/permafrostdb/permafrost/partition"
	"github.com/permafrostdb/permafrost/schema"
	"github.com/permafrostdb/permafrost/storage"
	"github.com/permafrostdb/permafrost/ttl"
)

type (
	Type string

	// Info identifies a part inside its partition: the covered block range
	// and the merge level. Freshly inserted parts have lo == hi and level 0.
	Info struct {
		PartitionID string
		MinBlock    int64
		MaxBlock    int64
		Level       int
	}

	// SerializationInfo records how one column is encoded on disk.
	SerializationInfo struct {
		Kind            string  `json:"kind"`
		RatioOfDefaults float64 `json:"ratio_of_defaults"`
	}

	// Part is the descriptor of one immutable, sorted, partition-scoped
	// fragment. The writer fills it, the caller publishes it.
	Part struct {
		Name string
		Info Info
		Type Type
		UUID uuid.UUID

		Partition partition.Tuple
		MinMaxIdx *partition.MinMaxIndex
		TTLInfos  ttl.PartInfos

		RowsCount          int64
		BytesOnDisk        int64
		Columns            []schema.ColumnDef
		SerializationInfos map[string]SerializationInfo

		// Directory of the part relative to the table data path
		RelativePath string
		Disk         *storage.Disk

		IsTemp bool

		Parent      *Part
		Projections map[string]*Part
	}
)

const (
	Wide     Type = "Wide"
	Compact  Type = "Compact"
	InMemory Type = "InMemory"
)

// Name renders the v1 part name <partition_id>_<lo>_<hi>_<level>.
func (i Info) Name() string {
	return fmt.Sprintf("%s_%d_%d_%d", i.PartitionID, i.MinBlock, i.MaxBlock, i.Level)
}

// NameV0 renders the pre-custom-partitioning name
// YYYYMMDD_YYYYMMDD_<lo>_<hi>_<level> from min and max day numbers.
func (i Info) NameV0(minDate, maxDate int64) string {
	return fmt.Sprintf("%08d_%08d_%d_%d_%d", ttl.ToNumYYYYMMDD(minDate), ttl.ToNumYYYYMMDD(maxDate), i.MinBlock, i.MaxBlock, i.Level)
}

// AddProjection attaches a child projection part.
func (p *Part) AddProjection(name string, proj *Part) {
	if p.Projections == nil {
		p.Projections = make(map[string]*Part)
	}
	proj.Parent = p
	p.Projections[name] = proj
}

// ChoosePartType picks the storage layout for a new part from its expected
// uncompressed size and row count.
func ChoosePartType(bytesUncompressed, rowsCount int64, s schema.Settings) Type {
	if s.InMemoryPartsEnableWAL && bytesUncompressed < s.MinBytesForInMemoryPart {
		return InMemory
	}
	return ChoosePartTypeOnDisk(bytesUncompressed, rowsCount, s)
}

// ChoosePartTypeOnDisk is ChoosePartType restricted to on-disk layouts, used
// for projections of on-disk parents.
func ChoosePartTypeOnDisk(bytesUncompressed, rowsCount int64, s schema.Settings) Type {
	if bytesUncompressed < s.MinBytesForWidePart || rowsCount < s.MinRowsForWidePart {
		return Compact
	}
	return Wide
}
