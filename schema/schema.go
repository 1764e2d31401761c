package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/permafrostdb/permafrost/block"
	"github.com/permafrostdb/permafrost/expr"
)

type (
	ColumnDef struct {
		Name string
		Type block.ColumnType
	}

	// TTLDescription is one TTL entry: an expression producing a Date or
	// DateTime column. Destination names the target volume for move TTLs,
	// ColumnName the owning column for per-column TTLs.
	TTLDescription struct {
		Expression  expr.Expr
		Destination string
		ColumnName  string
	}

	SkipIndex struct {
		Name        string
		Expression  expr.Expr
		Kind        string
		Granularity int64
	}

	ProjectionType int

	// Projection is an auxiliary pre-aggregated/pre-sorted view stored as
	// sub-parts inside the parent part.
	Projection struct {
		Name      string
		Type      ProjectionType
		Metadata  *Metadata
		Calculate func(b *block.Block) (*block.Block, error)
	}

	MergingMode int

	GraphiteRetention struct {
		Age       int64
		Precision int64
	}

	GraphiteRule struct {
		Pattern    *regexp.Regexp
		Function   string
		Retentions []GraphiteRetention
	}

	GraphiteParams struct {
		PathColumn    string
		TimeColumn    string
		ValueColumn   string
		VersionColumn string
		Rules         []GraphiteRule
	}

	MergingParams struct {
		Mode          MergingMode
		VersionColumn string
		SignColumn    string
		ColumnsToSum  []string
		Graphite      *GraphiteParams
	}

	Settings struct {
		OptimizeOnInsert                      bool
		FsyncAfterInsert                      bool
		FsyncPartDirectory                    bool
		RatioOfDefaultsForSparseSerialization float64
		AssignPartUUIDs                       bool
		MaxPartitionsPerInsertBlock           int
		MinBytesForWidePart                   int64
		MinRowsForWidePart                    int64
		MinBytesForInMemoryPart               int64
		InMemoryPartsEnableWAL                bool
	}

	// Metadata is the immutable snapshot of one table's schema the writer
	// works against.
	Metadata struct {
		Table            string
		RelativeDataPath string
		Columns          []ColumnDef
		PartitionKey     []expr.Expr
		SortingKey       []expr.Expr
		SkipIndices      []SkipIndex

		RowsTTL           *TTLDescription
		GroupByTTLs       []TTLDescription
		RowsWhereTTLs     []TTLDescription
		ColumnTTLs        map[string]TTLDescription
		RecompressionTTLs []TTLDescription
		MoveTTLs          []TTLDescription

		Projections []Projection

		MergingParams MergingParams
		Settings      Settings

		// FormatVersion below FormatVersionCustomPartitioning uses the
		// YYYYMMDD-based v0 part naming
		FormatVersion int
		// Position of the date column inside the minmax index, only meaningful
		// for v0 naming
		MinMaxIdxDateColumnPos int
	}
)

const (
	ProjectionNormal ProjectionType = iota
	ProjectionAggregate
)

const (
	Ordinary MergingMode = iota
	Replacing
	Collapsing
	Summing
	Aggregating
	VersionedCollapsing
	Graphite
)

const FormatVersionCustomPartitioning = 1

var (
	ErrSchemaMismatch = errors.New("block does not match table schema")
)

// graphiteRuleJSON carries the pattern as its source string so rules survive
// the metastore round trip (compiled regexps do not marshal).
type graphiteRuleJSON struct {
	Pattern    string              `json:",omitempty"`
	Function   string              `json:",omitempty"`
	Retentions []GraphiteRetention `json:",omitempty"`
}

func (r GraphiteRule) MarshalJSON() ([]byte, error) {
	out := graphiteRuleJSON{Function: r.Function, Retentions: r.Retentions}
	if r.Pattern != nil {
		out.Pattern = r.Pattern.String()
	}
	return json.Marshal(out)
}

func (r *GraphiteRule) UnmarshalJSON(b []byte) error {
	var in graphiteRuleJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	r.Function = in.Function
	r.Retentions = in.Retentions
	r.Pattern = nil
	if in.Pattern != "" {
		re, err := regexp.Compile(in.Pattern)
		if err != nil {
			return fmt.Errorf("error compiling graphite rule pattern: %w", err)
		}
		r.Pattern = re
	}
	return nil
}

func DefaultSettings() Settings {
	return Settings{
		OptimizeOnInsert:                      true,
		RatioOfDefaultsForSparseSerialization: 0.95,
		MaxPartitionsPerInsertBlock:           100,
		MinBytesForWidePart:                   10 * 1024 * 1024,
		MinRowsForWidePart:                    0,
	}
}

func (m *Metadata) HasPartitionKey() bool {
	return len(m.PartitionKey) > 0
}

func (m *Metadata) HasSortingKey() bool {
	return len(m.SortingKey) > 0
}

func (m *Metadata) HasSecondaryIndices() bool {
	return len(m.SkipIndices) > 0
}

// SortingKeyColumns are the result column names of the sorting key, in order.
func (m *Metadata) SortingKeyColumns() []string {
	names := make([]string, 0, len(m.SortingKey))
	for _, e := range m.SortingKey {
		names = append(names, e.ResultName())
	}
	return names
}

// PartitionKeyColumns are the result column names of the partition key, in
// order. These are the columns the minmax index covers.
func (m *Metadata) PartitionKeyColumns() []string {
	names := make([]string, 0, len(m.PartitionKey))
	for _, e := range m.PartitionKey {
		names = append(names, e.ResultName())
	}
	return names
}

// SortingKeyAndSkipIndicesExprs is the combined expression list evaluated
// into a block before sorting.
func (m *Metadata) SortingKeyAndSkipIndicesExprs() []expr.Expr {
	exprs := make([]expr.Expr, 0, len(m.SortingKey)+len(m.SkipIndices))
	exprs = append(exprs, m.SortingKey...)
	for _, idx := range m.SkipIndices {
		exprs = append(exprs, idx.Expression)
	}
	return exprs
}

// ColumnDefsFor filters the schema's columns down to the given names,
// preserving schema order.
func (m *Metadata) ColumnDefsFor(names []string) []ColumnDef {
	out := make([]ColumnDef, 0, len(names))
	for _, def := range m.Columns {
		for _, n := range names {
			if def.Name == n {
				out = append(out, def)
				break
			}
		}
	}
	return out
}

// Check validates a block against the schema before the writer allocates
// anything. Object columns accept any concrete type.
func (m *Metadata) Check(b *block.Block) error {
	if err := b.CheckEqualLengths(); err != nil {
		return fmt.Errorf("%w: %s", ErrSchemaMismatch, err.Error())
	}
	for _, c := range b.Columns {
		def, ok := m.columnDef(c.Name)
		if !ok {
			return fmt.Errorf("%w: unknown column %s", ErrSchemaMismatch, c.Name)
		}
		if def.Type == block.Object {
			continue
		}
		if def.Type != c.Type {
			return fmt.Errorf("%w: column %s has type %s, schema declares %s", ErrSchemaMismatch, c.Name, c.Type, def.Type)
		}
	}
	return nil
}

func (m *Metadata) columnDef(name string) (ColumnDef, bool) {
	for _, def := range m.Columns {
		if def.Name == name {
			return def, true
		}
	}
	return ColumnDef{}, false
}
