package metastore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/permafrostdb/permafrost/block"
	"github.com/permafrostdb/permafrost/expr"
	"github.com/permafrostdb/permafrost/gologger"
	"github.com/permafrostdb/permafrost/part"
	"github.com/permafrostdb/permafrost/schema"
	"github.com/permafrostdb/permafrost/utils"
)

var (
	logger = gologger.NewLogger()

	// ErrPartExists surfaces when a part with the same name was already
	// committed for the partition and block range. Retried inserts get a new
	// temp index, so a conflict means a true duplicate publication.
	ErrPartExists = errors.New("part already recorded")

	ErrTableExists = errors.New("table schema already exists")
)

type (
	MetaStore interface {
		// GetTableSchema fetches the stored schema for a table
		GetTableSchema(ctx context.Context, table string) (TableSchema, error)

		CreateTableSchema(ctx context.Context, ts TableSchema) error

		// RecordPart registers a published part
		RecordPart(ctx context.Context, rec PartRecord) error

		// ListParts lists the alive parts of a table
		ListParts(ctx context.Context, table string) ([]PartRecord, error)

		Shutdown(ctx context.Context) error
	}

	// ProjectionSchema is the declarative description of a projection: the
	// child columns it selects from the parent block and its own sorting key.
	ProjectionSchema struct {
		Name       string
		Type       schema.ProjectionType
		Columns    []schema.ColumnDef
		SortingKey []expr.Expr
	}

	// TableSchema is everything the writer needs to rebuild a metadata
	// snapshot: columns and keys, merging params, settings, every TTL
	// category, skip indices and projections. The v0 minmax date-column
	// position is not stored; a rebuilt snapshot uses position 0.
	TableSchema struct {
		ID   string
		Name string

		Columns      []schema.ColumnDef
		PartitionKey []expr.Expr
		SortingKey   []expr.Expr
		SkipIndices  []schema.SkipIndex

		MergingParams schema.MergingParams
		Settings      schema.Settings

		RowsTTL           *schema.TTLDescription
		GroupByTTLs       []schema.TTLDescription
		RowsWhereTTLs     []schema.TTLDescription
		ColumnTTLs        map[string]schema.TTLDescription
		RecompressionTTLs []schema.TTLDescription
		MoveTTLs          []schema.TTLDescription

		Projections []ProjectionSchema

		FormatVersion int

		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// PartRecord is the catalog row of one published part.
	PartRecord struct {
		ID          string
		Table       string
		Name        string
		PartitionID string
		Rows        int64
		Bytes       int64
		Columns     []string
		Disk        string
		Alive       bool
		CreatedAt   time.Time
	}
)

// SchemaFromMetadata flattens a metadata snapshot into its storable form.
// Projection calculate functions are code, only their declarative shape
// (columns + sorting key) is kept.
func SchemaFromMetadata(meta *schema.Metadata) TableSchema {
	ts := TableSchema{
		Name:              meta.Table,
		Columns:           meta.Columns,
		PartitionKey:      meta.PartitionKey,
		SortingKey:        meta.SortingKey,
		SkipIndices:       meta.SkipIndices,
		MergingParams:     meta.MergingParams,
		Settings:          meta.Settings,
		RowsTTL:           meta.RowsTTL,
		GroupByTTLs:       meta.GroupByTTLs,
		RowsWhereTTLs:     meta.RowsWhereTTLs,
		ColumnTTLs:        meta.ColumnTTLs,
		RecompressionTTLs: meta.RecompressionTTLs,
		MoveTTLs:          meta.MoveTTLs,
		FormatVersion:     meta.FormatVersion,
	}
	for _, p := range meta.Projections {
		ps := ProjectionSchema{Name: p.Name, Type: p.Type}
		if p.Metadata != nil {
			ps.Columns = p.Metadata.Columns
			ps.SortingKey = p.Metadata.SortingKey
		}
		ts.Projections = append(ts.Projections, ps)
	}
	return ts
}

// Metadata rebuilds the writer-facing snapshot. Projections get a
// column-subset calculate function over the parent block.
func (ts TableSchema) Metadata() *schema.Metadata {
	meta := &schema.Metadata{
		Table:             ts.Name,
		RelativeDataPath:  filepath.Join("tables", ts.Name),
		Columns:           ts.Columns,
		PartitionKey:      ts.PartitionKey,
		SortingKey:        ts.SortingKey,
		SkipIndices:       ts.SkipIndices,
		MergingParams:     ts.MergingParams,
		Settings:          ts.Settings,
		RowsTTL:           ts.RowsTTL,
		GroupByTTLs:       ts.GroupByTTLs,
		RowsWhereTTLs:     ts.RowsWhereTTLs,
		ColumnTTLs:        ts.ColumnTTLs,
		RecompressionTTLs: ts.RecompressionTTLs,
		MoveTTLs:          ts.MoveTTLs,
		FormatVersion:     ts.FormatVersion,
	}
	for _, ps := range ts.Projections {
		meta.Projections = append(meta.Projections, schema.Projection{
			Name: ps.Name,
			Type: ps.Type,
			Metadata: &schema.Metadata{
				Table:      ts.Name + "_" + ps.Name,
				Columns:    ps.Columns,
				SortingKey: ps.SortingKey,
				Settings:   ts.Settings,
			},
			Calculate: projectionCalculate(ps.Columns),
		})
	}
	return meta
}

func projectionCalculate(columns []schema.ColumnDef) func(b *block.Block) (*block.Block, error) {
	return func(b *block.Block) (*block.Block, error) {
		out := &block.Block{}
		for _, def := range columns {
			c, err := b.ColumnByName(def.Name)
			if err != nil {
				return nil, fmt.Errorf("error in ColumnByName: %w", err)
			}
			data := make([]any, len(c.Data))
			copy(data, c.Data)
			out.Columns = append(out.Columns, &block.Column{Name: c.Name, Type: c.Type, Data: data})
		}
		return out, nil
	}
}

// RecordFromPart builds the catalog row for a finalized part.
func RecordFromPart(table string, p *part.Part) PartRecord {
	cols := make([]string, 0, len(p.Columns))
	for _, def := range p.Columns {
		cols = append(cols, def.Name)
	}
	disk := ""
	if p.Disk != nil {
		disk = p.Disk.Name
	}
	return PartRecord{
		ID:          utils.GenKSortedID(""),
		Table:       table,
		Name:        p.Name,
		PartitionID: p.Info.PartitionID,
		Rows:        p.RowsCount,
		Bytes:       p.BytesOnDisk,
		Columns:     cols,
		Disk:        disk,
		Alive:       true,
	}
}
