package serializer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/permafrostdb/permafrost/block"
	"github.com/permafrostdb/permafrost/schema"
)

type (
	parquetSchema struct {
		TagStructs schemaTag        `json:"-"`
		Fields     []*parquetSchema `json:",omitempty"`
	}

	parquetJSONSchema struct {
		Tag    string               `json:",omitempty"`
		Fields []*parquetJSONSchema `json:",omitempty"`
	}

	schemaTag struct {
		Name           string
		Type           string
		ConvertedType  string
		RepetitionType string
		Encoding       string
	}
)

const (
	optional = "OPTIONAL"
	required = "REQUIRED"
)

// buildParquetSchema maps typed part columns onto a parquet-go schema. The
// column name becomes the field name verbatim.
func buildParquetSchema(columns []schema.ColumnDef) *parquetSchema {
	root := &parquetSchema{
		TagStructs: schemaTag{
			Name:           "parquet_go_root",
			RepetitionType: required,
		},
	}
	for _, def := range columns {
		field := &parquetSchema{
			TagStructs: schemaTag{
				Name:           def.Name,
				RepetitionType: optional,
			},
		}
		switch def.Type {
		case block.String, block.Aggregate, block.Object:
			field.TagStructs.Type = "BYTE_ARRAY"
			field.TagStructs.ConvertedType = "UTF8"
			field.TagStructs.Encoding = "PLAIN"
		case block.Float64:
			field.TagStructs.Type = "DOUBLE"
		default:
			field.TagStructs.Type = "INT64"
		}
		root.Fields = append(root.Fields, field)
	}
	return root
}

func (ps *parquetSchema) toJSONSchema() *parquetJSONSchema {
	var tagArr []string
	if ps.TagStructs.Type != "" {
		tagArr = append(tagArr, "type="+ps.TagStructs.Type)
	}
	if ps.TagStructs.ConvertedType != "" {
		tagArr = append(tagArr, "convertedtype="+ps.TagStructs.ConvertedType)
	}
	if ps.TagStructs.Encoding != "" {
		tagArr = append(tagArr, "encoding="+ps.TagStructs.Encoding)
	}
	if ps.TagStructs.Name != "" {
		tagArr = append(tagArr, "name="+ps.TagStructs.Name)
	}
	if ps.TagStructs.RepetitionType != "" {
		tagArr = append(tagArr, "repetitiontype="+ps.TagStructs.RepetitionType)
	}
	var fields []*parquetJSONSchema
	for _, field := range ps.Fields {
		fields = append(fields, field.toJSONSchema())
	}
	return &parquetJSONSchema{
		Tag:    strings.Join(tagArr, ", "),
		Fields: fields,
	}
}

// schemaString renders the JSON schema string parquet-go's JSON writer takes.
func schemaString(columns []schema.ColumnDef) (string, error) {
	b, err := json.Marshal(buildParquetSchema(columns).toJSONSchema())
	if err != nil {
		return "", fmt.Errorf("error in json.Marshal: %w", err)
	}
	return string(b), nil
}
