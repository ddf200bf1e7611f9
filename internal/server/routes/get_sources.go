package routes

import (
	"net/http"

	"github.com/threadline-ai/threadline/backend/internal/server/middleware"

	"github.com/labstack/echo/v4"
)

// ListSourcesHandler returns the workspace's sources, filtered to what the
// caller may read. Chat-derived sources the principal has no channel access
// to are omitted.
func ListSourcesHandler(c echo.Context) error {
	cc := c.(*middleware.AppContext)
	orgID := c.Param("wid")
	ctx := c.Request().Context()

	sources, err := cc.App.Store.ListSources(ctx, orgID)
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}

	filtered := cc.App.Access.FilterSources(ctx, cc.Principal, sources)
	return c.JSON(http.StatusOK, map[string]any{"sources": filtered})
}
