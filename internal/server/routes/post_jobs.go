package routes

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/threadline-ai/threadline/backend/internal/jobs"
	"github.com/threadline-ai/threadline/backend/internal/queue"
	"github.com/threadline-ai/threadline/backend/internal/server/middleware"
	"github.com/threadline-ai/threadline/backend/pkg/common"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/labstack/echo/v4"
)

// CreateJobHandler accepts a job request, persists the queued record and
// publishes it for the worker. Source-scoped kinds require a source_id.
func CreateJobHandler(c echo.Context) error {
	type request struct {
		Kind     string `json:"kind" validate:"required,oneof=index_source extract_source reindex_all extract_entities_all cleanup"`
		SourceID string `json:"source_id"`
	}

	cc := c.(*middleware.AppContext)
	orgID := c.Param("wid")

	req := new(request)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	sourceScoped := req.Kind == jobs.KindIndexSource || req.Kind == jobs.KindExtractSource
	if sourceScoped && req.SourceID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "source_id is required for this kind"})
	}

	ctx := c.Request().Context()
	if sourceScoped {
		if _, err := cc.App.Store.GetSource(ctx, orgID, req.SourceID); err != nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Source not found"})
		}
	}

	jobID, err := gonanoid.New()
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}

	var queueName string
	var payload any
	switch req.Kind {
	case jobs.KindIndexSource:
		queueName = queue.IndexQueue
		payload = queue.SourceMsg{JobID: jobID, OrgID: orgID, SourceID: req.SourceID}
	case jobs.KindExtractSource:
		queueName = queue.ExtractQueue
		payload = queue.SourceMsg{JobID: jobID, OrgID: orgID, SourceID: req.SourceID}
	default:
		queueName = queue.BatchQueue
		payload = queue.BatchJobMsg{JobID: jobID, OrgID: orgID, Kind: req.Kind}
	}

	jobQueue := jobs.QueueBatch
	switch queueName {
	case queue.IndexQueue:
		jobQueue = jobs.QueueIndexing
	case queue.ExtractQueue:
		jobQueue = jobs.QueueExtraction
	}

	if err := cc.App.Store.CreateJob(ctx, common.JobRecord{
		ID:         jobID,
		Queue:      jobQueue,
		OrgID:      orgID,
		Status:     common.JobStatusQueued,
		EnqueuedAt: time.Now().UTC(),
	}); err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}
	if err := queue.Publish(cc.App.Queue, queueName, data); err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusAccepted, map[string]string{"job_id": jobID})
}
