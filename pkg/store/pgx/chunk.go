package pgxstore

import (
	"context"
	"fmt"

	"github.com/threadline-ai/threadline/backend/internal/util"
	"github.com/threadline-ai/threadline/backend/pkg/common"

	"github.com/pgvector/pgvector-go"
)

// ReplaceChunks atomically swaps the persisted chunk set of one source.
// Reprocessing a source therefore never leaves stale chunks behind.
func (s *Store) ReplaceChunks(ctx context.Context, orgID, sourceID string, chunks []common.ChunkRecord) error {
	trx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = trx.Rollback(ctx)
	}()

	_, err = trx.Exec(ctx, `
		DELETE FROM chunks
		WHERE org_id = $1 AND source_id = $2`,
		orgID, sourceID,
	)
	if err != nil {
		return fmt.Errorf("delete stale chunks: %w", err)
	}

	for _, chunk := range chunks {
		var embedding any
		if len(chunk.Embedding) > 0 {
			embedding = pgvector.NewVector(chunk.Embedding)
		}
		_, err = trx.Exec(ctx, `
			INSERT INTO chunks (public_id, org_id, source_id, chunk_index, content,
				token_estimate, start_offset, end_offset, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			chunk.ID, orgID, sourceID, chunk.Index,
			util.SanitizePostgresText(chunk.Content),
			chunk.TokenEstimate, chunk.StartOffset, chunk.EndOffset, embedding,
		)
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", chunk.Index, err)
		}
	}

	return trx.Commit(ctx)
}

// SourcesForChunks maps chunk ids back to the sources that produced them.
// Unknown ids are simply absent from the result.
func (s *Store) SourcesForChunks(ctx context.Context, orgID string, chunkIDs []string) (map[string]string, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT public_id, source_id
		FROM chunks
		WHERE org_id = $1 AND public_id = ANY($2)`,
		orgID, notNil(chunkIDs),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resolved := make(map[string]string)
	for rows.Next() {
		var chunkID, sourceID string
		if err := rows.Scan(&chunkID, &sourceID); err != nil {
			return nil, err
		}
		resolved[chunkID] = sourceID
	}
	return resolved, rows.Err()
}

func (s *Store) ListChunksBySource(ctx context.Context, orgID, sourceID string) ([]common.ChunkRecord, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT public_id, org_id, source_id, chunk_index, content,
			token_estimate, start_offset, end_offset
		FROM chunks
		WHERE org_id = $1 AND source_id = $2
		ORDER BY chunk_index`,
		orgID, sourceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []common.ChunkRecord
	for rows.Next() {
		var c common.ChunkRecord
		err := rows.Scan(
			&c.ID, &c.OrgID, &c.SourceID, &c.Index, &c.Content,
			&c.TokenEstimate, &c.StartOffset, &c.EndOffset,
		)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}
