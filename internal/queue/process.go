package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/threadline-ai/threadline/backend/internal/jobs"
)

// ProcessSourceMessage feeds one source message into the orchestrator. The
// queue name decides whether this is a full index or a re-extraction.
func ProcessSourceMessage(ctx context.Context, o *jobs.Orchestrator, queueName string, body []byte) error {
	var msg SourceMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("failed to decode source message: %w", err)
	}
	if msg.OrgID == "" || msg.SourceID == "" {
		return fmt.Errorf("source message missing org or source id")
	}

	kind := jobs.KindIndexSource
	if queueName == ExtractQueue {
		kind = jobs.KindExtractSource
	}

	_, err := o.Enqueue(ctx, jobs.Job{
		ID:       msg.JobID,
		Kind:     kind,
		OrgID:    msg.OrgID,
		SourceID: msg.SourceID,
	})
	return err
}

// ProcessBatchMessage feeds one batch job message into the orchestrator.
func ProcessBatchMessage(ctx context.Context, o *jobs.Orchestrator, body []byte) error {
	var msg BatchJobMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("failed to decode batch message: %w", err)
	}
	if msg.OrgID == "" {
		return fmt.Errorf("batch message missing org id")
	}

	_, err := o.Enqueue(ctx, jobs.Job{
		ID:    msg.JobID,
		Kind:  msg.Kind,
		OrgID: msg.OrgID,
	})
	return err
}
