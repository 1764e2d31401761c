package http_server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/permafrostdb/permafrost/engine"
	"github.com/permafrostdb/permafrost/partition"
	"github.com/permafrostdb/permafrost/schema"
)

type (
	InsertReqBody struct {
		Table string `validate:"required"`
		// Line-delimited JSON (NDJSON)
		RowsString *string
		// Array of JSON rows
		Rows []map[string]any
	}

	InsertStats struct {
		NumRows      int64
		NumParts     int64
		BytesWritten int64
		TimeMS       int64
	}
)

func (s *HTTPServer) InsertHandler(c *CustomContext) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second*60)
	defer cancel()

	start := time.Now()

	var reqBody InsertReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	defer c.Request().Body.Close()

	meta, err := s.Engine.TableMeta(ctx, reqBody.Table)
	if err != nil {
		if errors.Is(err, engine.ErrTableNotFound) {
			return c.String(http.StatusNotFound, err.Error())
		}
		return c.InternalError(err, "error getting table meta")
	}

	rows := reqBody.Rows
	if reqBody.RowsString != nil {
		ndJSONScanner := bufio.NewScanner(strings.NewReader(*reqBody.RowsString))
		for ndJSONScanner.Scan() {
			var raw any
			err := json.Unmarshal([]byte(ndJSONScanner.Text()), &raw)
			if err != nil {
				return c.String(http.StatusBadRequest, fmt.Sprintf("error in json.Unmarshal: %s", err))
			}
			jsonMap, ok := raw.(map[string]any)
			if !ok {
				return c.String(http.StatusBadRequest, "line was not JSON")
			}
			rows = append(rows, jsonMap)
		}
	}

	if len(rows) == 0 {
		return c.String(http.StatusBadRequest, "no rows found")
	}

	b, err := engine.BlockFromRows(meta, rows)
	if err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	res, err := s.Engine.Insert(ctx, reqBody.Table, b)
	if err != nil {
		if errors.Is(err, partition.ErrTooManyParts) {
			return c.String(http.StatusBadRequest, err.Error())
		}
		if errors.Is(err, schema.ErrSchemaMismatch) {
			return c.String(http.StatusBadRequest, err.Error())
		}
		return c.InternalError(err, "error inserting block")
	}

	stats := InsertStats{
		NumRows:      res.NumRows,
		NumParts:     res.NumParts,
		BytesWritten: res.BytesWritten,
		TimeMS:       time.Since(start).Milliseconds(),
	}

	return c.JSON(http.StatusAccepted, stats)
}
