package routes

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/threadline-ai/threadline/backend/internal/server/middleware"
	"github.com/threadline-ai/threadline/backend/pkg/graph"
	"github.com/threadline-ai/threadline/backend/pkg/store"

	"github.com/labstack/echo/v4"
)

func splitParam(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GetGraphHandler returns a workspace graph view. With a center parameter it
// walks outward from that entity; without one it projects the top entities
// by mention count.
func GetGraphHandler(c echo.Context) error {
	cc := c.(*middleware.AppContext)
	orgID := c.Param("wid")
	ctx := c.Request().Context()

	opts := graph.TraverseOptions{
		EntityTypes:       splitParam(c.QueryParam("entity_types")),
		RelationshipTypes: splitParam(c.QueryParam("relationship_types")),
	}
	if depth := c.QueryParam("depth"); depth != "" {
		v, err := strconv.Atoi(depth)
		if err != nil || v < 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid depth"})
		}
		opts.Depth = v
	}
	if limit := c.QueryParam("limit"); limit != "" {
		v, err := strconv.Atoi(limit)
		if err != nil || v < 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid limit"})
		}
		opts.NodeLimit = v
	}

	var (
		subgraph *graph.Subgraph
		err      error
	)
	if center := c.QueryParam("center"); center != "" {
		subgraph, err = graph.CenteredSubgraph(ctx, cc.App.Store, orgID, center, opts)
	} else {
		subgraph, err = graph.RankedProjection(ctx, cc.App.Store, orgID, opts)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Entity not found"})
		}
		return c.String(http.StatusInternalServerError, err.Error())
	}

	entities, relationships, err := cc.App.Access.FilterGraph(
		ctx, cc.Principal, orgID, subgraph.Entities, subgraph.Relationships, cc.App.Store,
	)
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, &graph.Subgraph{Entities: entities, Relationships: relationships})
}
