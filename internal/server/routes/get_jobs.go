package routes

import (
	"errors"
	"net/http"

	"github.com/threadline-ai/threadline/backend/internal/server/middleware"
	"github.com/threadline-ai/threadline/backend/pkg/store"

	"github.com/labstack/echo/v4"
)

// GetJobHandler returns the persisted state of one job.
func GetJobHandler(c echo.Context) error {
	cc := c.(*middleware.AppContext)

	record, err := cc.App.Store.GetJob(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Job not found"})
		}
		return c.String(http.StatusInternalServerError, err.Error())
	}

	org, _ := c.Get("org_id").(string)
	if record.OrgID != org {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Job not found"})
	}
	return c.JSON(http.StatusOK, record)
}
