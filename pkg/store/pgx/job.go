package pgxstore

import (
	"context"
	"errors"
	"time"

	"github.com/threadline-ai/threadline/backend/pkg/common"
	"github.com/threadline-ai/threadline/backend/pkg/store"

	"github.com/jackc/pgx/v5"
)

func (s *Store) CreateJob(ctx context.Context, record common.JobRecord) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO jobs (public_id, queue, org_id, status, error_message, enqueued_at)
		VALUES ($1, $2, $3, $4, '', $5)
		ON CONFLICT (public_id) DO NOTHING`,
		record.ID, record.Queue, record.OrgID, record.Status, record.EnqueuedAt,
	)
	return err
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*common.JobRecord, error) {
	var rec common.JobRecord
	var processed, failed int64
	var total *int64
	err := s.conn.QueryRow(ctx, `
		SELECT public_id, queue, org_id, status, error_message,
			progress_processed, progress_failed, progress_total,
			enqueued_at, started_at, finished_at
		FROM jobs
		WHERE public_id = $1`,
		jobID,
	).Scan(
		&rec.ID, &rec.Queue, &rec.OrgID, &rec.Status, &rec.ErrorMessage,
		&processed, &failed, &total,
		&rec.EnqueuedAt, &rec.StartedAt, &rec.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if processed > 0 || failed > 0 || total != nil {
		rec.Progress = &common.JobProgress{Processed: processed, Failed: failed, Total: total}
	}
	return &rec, nil
}

func (s *Store) UpdateJobStatus(ctx context.Context, jobID, status, errorMessage string) error {
	var startedAt, finishedAt *time.Time
	now := time.Now().UTC()
	switch status {
	case common.JobStatusRunning:
		startedAt = &now
	case common.JobStatusCompleted, common.JobStatusFailed:
		finishedAt = &now
	}

	tag, err := s.conn.Exec(ctx, `
		UPDATE jobs
		SET status = $2, error_message = $3,
			started_at = COALESCE($4, started_at),
			finished_at = COALESCE($5, finished_at)
		WHERE public_id = $1`,
		jobID, status, errorMessage, startedAt, finishedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateJobProgress(ctx context.Context, jobID string, progress common.JobProgress) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE jobs
		SET progress_processed = $2, progress_failed = $3, progress_total = $4
		WHERE public_id = $1`,
		jobID, progress.Processed, progress.Failed, progress.Total,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
