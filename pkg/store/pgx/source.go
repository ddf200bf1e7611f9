package pgxstore

import (
	"context"
	"errors"
	"time"

	"github.com/threadline-ai/threadline/backend/pkg/common"
	"github.com/threadline-ai/threadline/backend/pkg/store"

	"github.com/jackc/pgx/v5"
)

const sourceColumns = `public_id, org_id, kind, channel_ref, text_key, status, error_message, last_processed_at`

func scanSource(row pgx.Row) (*common.SourceRecord, error) {
	var rec common.SourceRecord
	err := row.Scan(
		&rec.ID, &rec.OrgID, &rec.Kind, &rec.ChannelRef, &rec.TextKey,
		&rec.Status, &rec.ErrorMessage, &rec.LastProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// UpsertSource registers a discovered source. An existing record keeps its
// status; only descriptive fields are refreshed.
func (s *Store) UpsertSource(ctx context.Context, record common.SourceRecord) error {
	status := record.Status
	if status == "" {
		status = common.SourceStatusPending
	}
	_, err := s.conn.Exec(ctx, `
		INSERT INTO sources (public_id, org_id, kind, channel_ref, text_key, status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, '')
		ON CONFLICT (org_id, public_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			channel_ref = EXCLUDED.channel_ref,
			text_key = EXCLUDED.text_key`,
		record.ID, record.OrgID, record.Kind, record.ChannelRef, record.TextKey, status,
	)
	return err
}

func (s *Store) GetSource(ctx context.Context, orgID, sourceID string) (*common.SourceRecord, error) {
	row := s.conn.QueryRow(ctx, `
		SELECT `+sourceColumns+`
		FROM sources
		WHERE org_id = $1 AND public_id = $2`,
		orgID, sourceID,
	)
	return scanSource(row)
}

func (s *Store) listSources(ctx context.Context, sql string, args ...any) ([]common.SourceRecord, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []common.SourceRecord
	for rows.Next() {
		rec, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func (s *Store) ListSources(ctx context.Context, orgID string) ([]common.SourceRecord, error) {
	return s.listSources(ctx, `
		SELECT `+sourceColumns+`
		FROM sources
		WHERE org_id = $1
		ORDER BY public_id`,
		orgID,
	)
}

// ListSourcesByStatus returns the organization's sources in the given state.
// A limit of zero or less means no limit.
func (s *Store) ListSourcesByStatus(ctx context.Context, orgID, status string, limit int) ([]common.SourceRecord, error) {
	var rowLimit any
	if limit > 0 {
		rowLimit = limit
	}
	return s.listSources(ctx, `
		SELECT `+sourceColumns+`
		FROM sources
		WHERE org_id = $1 AND status = $2
		ORDER BY public_id
		LIMIT $3`,
		orgID, status, rowLimit,
	)
}

// UpdateSourceStatus moves a source through its lifecycle. Terminal statuses
// record the processing time.
func (s *Store) UpdateSourceStatus(ctx context.Context, orgID, sourceID, status, errorMessage string) error {
	var processedAt *time.Time
	if status == common.SourceStatusIndexed || status == common.SourceStatusFailed {
		now := time.Now().UTC()
		processedAt = &now
	}
	tag, err := s.conn.Exec(ctx, `
		UPDATE sources
		SET status = $3, error_message = $4,
			last_processed_at = COALESCE($5, last_processed_at)
		WHERE org_id = $1 AND public_id = $2`,
		orgID, sourceID, status, errorMessage, processedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ChannelsForSources resolves the source records for permission filtering.
// Ids without a record are simply absent from the result map.
func (s *Store) ChannelsForSources(ctx context.Context, orgID string, sourceIDs []string) (map[string]common.SourceRecord, error) {
	records, err := s.listSources(ctx, `
		SELECT `+sourceColumns+`
		FROM sources
		WHERE org_id = $1 AND public_id = ANY($2)`,
		orgID, notNil(sourceIDs),
	)
	if err != nil {
		return nil, err
	}

	resolved := make(map[string]common.SourceRecord, len(records))
	for _, rec := range records {
		resolved[rec.ID] = rec
	}
	return resolved, nil
}
