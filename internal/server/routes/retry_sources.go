package routes

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/threadline-ai/threadline/backend/internal/jobs"
	"github.com/threadline-ai/threadline/backend/internal/queue"
	"github.com/threadline-ai/threadline/backend/internal/server/middleware"
	"github.com/threadline-ai/threadline/backend/pkg/common"
	"github.com/threadline-ai/threadline/backend/pkg/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/labstack/echo/v4"
)

// RetrySourceHandler resets a failed source to pending and enqueues a fresh
// indexing job. Sources in any other status are left alone.
func RetrySourceHandler(c echo.Context) error {
	cc := c.(*middleware.AppContext)
	orgID := c.Param("wid")
	sourceID := c.Param("sid")
	ctx := c.Request().Context()

	source, err := cc.App.Store.GetSource(ctx, orgID, sourceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Source not found"})
		}
		return c.String(http.StatusInternalServerError, err.Error())
	}
	if source.Status != common.SourceStatusFailed {
		return c.JSON(http.StatusConflict, map[string]string{"error": "Source is not in failed status"})
	}

	if err := cc.App.Store.UpdateSourceStatus(ctx, orgID, sourceID, common.SourceStatusPending, ""); err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}

	jobID, err := gonanoid.New()
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}
	if err := cc.App.Store.CreateJob(ctx, common.JobRecord{
		ID:         jobID,
		Queue:      jobs.QueueIndexing,
		OrgID:      orgID,
		Status:     common.JobStatusQueued,
		EnqueuedAt: time.Now().UTC(),
	}); err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}

	data, err := json.Marshal(queue.SourceMsg{JobID: jobID, OrgID: orgID, SourceID: sourceID})
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}
	if err := queue.Publish(cc.App.Queue, queue.IndexQueue, data); err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusAccepted, map[string]string{"job_id": jobID})
}
