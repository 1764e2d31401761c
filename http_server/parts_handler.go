package http_server

import (
	"net/http"
)

func (s *HTTPServer) ListPartsHandler(c *CustomContext) error {
	table := c.QueryParam("table")
	if table == "" {
		return c.String(http.StatusBadRequest, "missing table query param")
	}

	parts, err := s.Engine.MetaStore.ListParts(c.Request().Context(), table)
	if err != nil {
		return c.InternalError(err, "error listing parts")
	}

	return c.JSON(http.StatusOK, parts)
}
