package http_server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/permafrostdb/permafrost/expr"
	"github.com/permafrostdb/permafrost/metastore"
	"github.com/permafrostdb/permafrost/schema"
)

type (
	CreateTableReqBody struct {
		Table   string             `validate:"required"`
		Columns []schema.ColumnDef `validate:"required,min=1"`

		PartitionKey []expr.Expr
		SortingKey   []expr.Expr
		SkipIndices  []schema.SkipIndex

		MergingParams *schema.MergingParams
		// Defaults are applied when omitted
		Settings *schema.Settings

		RowsTTL           *schema.TTLDescription
		GroupByTTLs       []schema.TTLDescription
		RowsWhereTTLs     []schema.TTLDescription
		ColumnTTLs        map[string]schema.TTLDescription
		RecompressionTTLs []schema.TTLDescription
		MoveTTLs          []schema.TTLDescription

		Projections []metastore.ProjectionSchema
	}

	CreateTableResp struct {
		Table string
	}
)

func (s *HTTPServer) CreateTableHandler(c *CustomContext) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second*15)
	defer cancel()

	var reqBody CreateTableReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	ts := metastore.TableSchema{
		Name:              reqBody.Table,
		Columns:           reqBody.Columns,
		PartitionKey:      reqBody.PartitionKey,
		SortingKey:        reqBody.SortingKey,
		SkipIndices:       reqBody.SkipIndices,
		RowsTTL:           reqBody.RowsTTL,
		GroupByTTLs:       reqBody.GroupByTTLs,
		RowsWhereTTLs:     reqBody.RowsWhereTTLs,
		ColumnTTLs:        reqBody.ColumnTTLs,
		RecompressionTTLs: reqBody.RecompressionTTLs,
		MoveTTLs:          reqBody.MoveTTLs,
		Projections:       reqBody.Projections,
		FormatVersion:     schema.FormatVersionCustomPartitioning,
	}
	if reqBody.MergingParams != nil {
		ts.MergingParams = *reqBody.MergingParams
	}
	if reqBody.Settings != nil {
		ts.Settings = *reqBody.Settings
	} else {
		ts.Settings = schema.DefaultSettings()
	}

	if err := s.Engine.CreateTableSchema(ctx, ts.Metadata()); err != nil {
		if errors.Is(err, metastore.ErrTableExists) {
			return c.String(http.StatusConflict, err.Error())
		}
		return c.InternalError(err, "error creating table schema")
	}

	return c.JSON(http.StatusCreated, CreateTableResp{Table: reqBody.Table})
}
