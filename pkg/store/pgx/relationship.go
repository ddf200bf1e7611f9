package pgxstore

import (
	"context"
	"errors"

	"github.com/threadline-ai/threadline/backend/pkg/common"
	"github.com/threadline-ai/threadline/backend/pkg/store"

	"github.com/jackc/pgx/v5"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const relationshipColumns = `public_id, org_id, source_entity_id, target_entity_id, type, weight, confidence, evidence_chunk_ids`

// Evidence chunk ids per relationship are capped so a frequently observed
// edge does not grow without bound.
const maxEvidenceChunks = 50

func scanRelationship(row pgx.Row) (*common.Relationship, error) {
	var r common.Relationship
	err := row.Scan(
		&r.ID, &r.OrgID, &r.SourceEntityID, &r.TargetEntityID,
		&r.Type, &r.Weight, &r.Confidence, &r.EvidenceChunkIDs,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

// UpsertRelationship inserts the edge or, when its natural key already
// exists, adds the weight increment and records the evidence chunk id if it
// is new and the evidence list is below its cap. One conditional write, no
// application-level locking.
func (s *Store) UpsertRelationship(ctx context.Context, params store.UpsertRelationshipParams) (*common.Relationship, error) {
	publicID, err := gonanoid.New()
	if err != nil {
		return nil, err
	}

	row := s.conn.QueryRow(ctx, `
		INSERT INTO relationships (`+relationshipColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7,
			CASE WHEN $8::text = '' THEN '{}'::text[] ELSE ARRAY[$8::text] END)
		ON CONFLICT (org_id, source_entity_id, target_entity_id, type) DO UPDATE SET
			weight = relationships.weight + EXCLUDED.weight,
			evidence_chunk_ids = CASE
				WHEN $8::text = ''
					OR relationships.evidence_chunk_ids @> ARRAY[$8::text]
					OR cardinality(relationships.evidence_chunk_ids) >= $9
				THEN relationships.evidence_chunk_ids
				ELSE array_append(relationships.evidence_chunk_ids, $8::text)
			END
		RETURNING `+relationshipColumns,
		publicID, params.OrgID, params.SourceEntityID, params.TargetEntityID,
		params.Type, params.WeightIncrement, params.Confidence,
		params.EvidenceChunkID, maxEvidenceChunks,
	)
	return scanRelationship(row)
}

func (s *Store) listEdges(ctx context.Context, sql string, orgID, entityID string) ([]store.Edge, error) {
	rows, err := s.conn.Query(ctx, sql, orgID, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []store.Edge
	for rows.Next() {
		var edge store.Edge
		var metadata []byte
		err := rows.Scan(
			&edge.Relationship.ID, &edge.Relationship.OrgID,
			&edge.Relationship.SourceEntityID, &edge.Relationship.TargetEntityID,
			&edge.Relationship.Type, &edge.Relationship.Weight,
			&edge.Relationship.Confidence, &edge.Relationship.EvidenceChunkIDs,
			&edge.Other.ID, &edge.Other.OrgID, &edge.Other.Name,
			&edge.Other.NormalizedName, &edge.Other.Type, &edge.Other.Aliases,
			&edge.Other.Confidence, &edge.Other.MentionCount,
			&edge.Other.DocumentCount, &metadata,
		)
		if err != nil {
			return nil, err
		}
		edges = append(edges, edge)
	}
	return edges, rows.Err()
}

// ListOutgoing returns the relationships originating at the entity, each
// joined with its target.
func (s *Store) ListOutgoing(ctx context.Context, orgID, entityID string) ([]store.Edge, error) {
	return s.listEdges(ctx, `
		SELECT r.public_id, r.org_id, r.source_entity_id, r.target_entity_id,
			r.type, r.weight, r.confidence, r.evidence_chunk_ids,
			e.public_id, e.org_id, e.name, e.normalized_name, e.type, e.aliases,
			e.confidence, e.mention_count, e.document_count, e.metadata
		FROM relationships r
		JOIN entities e ON e.org_id = r.org_id AND e.public_id = r.target_entity_id
		WHERE r.org_id = $1 AND r.source_entity_id = $2`,
		orgID, entityID,
	)
}

// ListIncoming returns the relationships pointing at the entity, each joined
// with its source.
func (s *Store) ListIncoming(ctx context.Context, orgID, entityID string) ([]store.Edge, error) {
	return s.listEdges(ctx, `
		SELECT r.public_id, r.org_id, r.source_entity_id, r.target_entity_id,
			r.type, r.weight, r.confidence, r.evidence_chunk_ids,
			e.public_id, e.org_id, e.name, e.normalized_name, e.type, e.aliases,
			e.confidence, e.mention_count, e.document_count, e.metadata
		FROM relationships r
		JOIN entities e ON e.org_id = r.org_id AND e.public_id = r.source_entity_id
		WHERE r.org_id = $1 AND r.target_entity_id = $2`,
		orgID, entityID,
	)
}

func (s *Store) ListRelationshipsAmong(ctx context.Context, orgID string, entityIDs []string, relationshipTypes []string) ([]common.Relationship, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+relationshipColumns+`
		FROM relationships
		WHERE org_id = $1
			AND source_entity_id = ANY($2)
			AND target_entity_id = ANY($2)
			AND (cardinality($3::text[]) = 0 OR type = ANY($3))`,
		orgID, notNil(entityIDs), notNil(relationshipTypes),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var relationships []common.Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		relationships = append(relationships, *r)
	}
	return relationships, rows.Err()
}

// DeleteDanglingRelationships removes edges whose source or target entity no
// longer exists, e.g. after a cleanup pass removed zero-mention entities.
func (s *Store) DeleteDanglingRelationships(ctx context.Context, orgID string) (int64, error) {
	tag, err := s.conn.Exec(ctx, `
		DELETE FROM relationships r
		WHERE r.org_id = $1 AND (
			NOT EXISTS (
				SELECT 1 FROM entities e
				WHERE e.org_id = r.org_id AND e.public_id = r.source_entity_id
			)
			OR NOT EXISTS (
				SELECT 1 FROM entities e
				WHERE e.org_id = r.org_id AND e.public_id = r.target_entity_id
			)
		)`,
		orgID,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
