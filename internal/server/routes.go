package server

import (
	"github.com/threadline-ai/threadline/backend/internal/server/middleware"
	"github.com/threadline-ai/threadline/backend/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	apiRoutes.GET("/jobs/:id", routes.GetJobHandler)

	workspaceRoutes := apiRoutes.Group("/workspaces/:wid", middleware.RequireWorkspace)
	workspaceRoutes.POST("/jobs", routes.CreateJobHandler)
	workspaceRoutes.GET("/graph", routes.GetGraphHandler)
	workspaceRoutes.GET("/sources", routes.ListSourcesHandler)
	workspaceRoutes.POST("/sources", routes.CreateSourceHandler)
	workspaceRoutes.POST("/sources/:sid/retry", routes.RetrySourceHandler)
}
