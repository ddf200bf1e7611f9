package pgxstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/threadline-ai/threadline/backend/internal/util"
	"github.com/threadline-ai/threadline/backend/pkg/common"
	"github.com/threadline-ai/threadline/backend/pkg/store"

	"github.com/jackc/pgx/v5"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const entityColumns = `public_id, org_id, name, normalized_name, type, aliases, confidence, mention_count, document_count, metadata`

func scanEntity(row pgx.Row) (*common.Entity, error) {
	var e common.Entity
	var metadata []byte
	err := row.Scan(
		&e.ID, &e.OrgID, &e.Name, &e.NormalizedName, &e.Type,
		&e.Aliases, &e.Confidence, &e.MentionCount, &e.DocumentCount, &metadata,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode entity metadata: %w", err)
		}
	}
	return &e, nil
}

// UpsertEntity inserts the entity or, when its natural key already exists,
// increments the mention counter (and the document counter on the first
// mention within a source) in a single conditional write. Confidence is never
// updated on conflict: it reflects the original extraction certainty.
func (s *Store) UpsertEntity(ctx context.Context, params store.UpsertEntityParams) (*common.Entity, error) {
	publicID, err := gonanoid.New()
	if err != nil {
		return nil, err
	}

	metadata, err := json.Marshal(params.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode entity metadata: %w", err)
	}

	name := util.SanitizePostgresText(params.Name)
	normalized := common.NormalizeEntityName(name)
	aliases := params.Aliases
	if aliases == nil {
		aliases = []string{}
	}

	row := s.conn.QueryRow(ctx, `
		INSERT INTO entities (`+entityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, 1, $8)
		ON CONFLICT (org_id, normalized_name, type) DO UPDATE SET
			mention_count = entities.mention_count + 1,
			document_count = entities.document_count + CASE WHEN $9::boolean THEN 1 ELSE 0 END,
			aliases = ARRAY(SELECT DISTINCT a FROM unnest(entities.aliases || EXCLUDED.aliases) AS a ORDER BY a)
		RETURNING `+entityColumns,
		publicID, params.OrgID, name, normalized, params.Type,
		aliases, params.Confidence, metadata, params.FirstMentionInSource,
	)
	return scanEntity(row)
}

func (s *Store) GetEntity(ctx context.Context, orgID, entityID string) (*common.Entity, error) {
	row := s.conn.QueryRow(ctx, `
		SELECT `+entityColumns+`
		FROM entities
		WHERE org_id = $1 AND public_id = $2`,
		orgID, entityID,
	)
	return scanEntity(row)
}

func (s *Store) TopEntities(ctx context.Context, orgID string, limit int, entityTypes []string) ([]common.Entity, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+entityColumns+`
		FROM entities
		WHERE org_id = $1 AND (cardinality($2::text[]) = 0 OR type = ANY($2))
		ORDER BY mention_count DESC, public_id
		LIMIT $3`,
		orgID, notNil(entityTypes), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []common.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, *e)
	}
	return entities, rows.Err()
}

// DeleteZeroMentionEntities removes every entity of the organization whose
// mention counter has been reduced to zero by administrative edits.
func (s *Store) DeleteZeroMentionEntities(ctx context.Context, orgID string) (int64, error) {
	tag, err := s.conn.Exec(ctx, `
		DELETE FROM entities
		WHERE org_id = $1 AND mention_count = 0`,
		orgID,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func notNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
