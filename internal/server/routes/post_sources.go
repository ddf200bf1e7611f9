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

// CreateSourceHandler registers a source, stores its text, and enqueues an
// indexing job for it. Chat threads must name the channel they came from so
// reads can be permission-filtered later.
func CreateSourceHandler(c echo.Context) error {
	type request struct {
		Kind       string `json:"kind" validate:"required,oneof=document chat_thread"`
		ChannelRef string `json:"channel_ref"`
		Text       string `json:"text" validate:"required"`
	}

	cc := c.(*middleware.AppContext)
	orgID := c.Param("wid")
	ctx := c.Request().Context()

	req := new(request)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if req.Kind == common.SourceKindChatThread && req.ChannelRef == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "channel_ref is required for chat threads"})
	}

	sourceID, err := gonanoid.New()
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}

	textKey, err := cc.App.Texts.PutText(ctx, orgID, sourceID, req.Text)
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}

	if err := cc.App.Store.UpsertSource(ctx, common.SourceRecord{
		ID:         sourceID,
		OrgID:      orgID,
		Kind:       req.Kind,
		ChannelRef: req.ChannelRef,
		TextKey:    textKey,
		Status:     common.SourceStatusPending,
	}); err != nil {
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

	return c.JSON(http.StatusAccepted, map[string]string{
		"source_id": sourceID,
		"job_id":    jobID,
	})
}
