// Package graph implements the extraction pipeline and read-side traversal
// of the knowledge graph.
package graph

import (
	"context"
	"fmt"

	"github.com/threadline-ai/threadline/backend/internal/util"
	"github.com/threadline-ai/threadline/backend/pkg/ai"
	"github.com/threadline-ai/threadline/backend/pkg/chunker"
	"github.com/threadline-ai/threadline/backend/pkg/common"
	"github.com/threadline-ai/threadline/backend/pkg/logger"
	"github.com/threadline-ai/threadline/backend/pkg/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"
)

// Pipeline stages, recorded on ExtractionError for diagnostics.
const (
	StageLoad      = "load"
	StageChunk     = "chunk"
	StagePersist   = "persist"
	StageRecognize = "recognize"
	StageUpsert    = "upsert"
)

// ExtractionError wraps a pipeline failure with the source and stage it
// occurred in. The source record's error message is derived from it.
type ExtractionError struct {
	SourceID string
	Stage    string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for source %s at stage %s: %v", e.SourceID, e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// TextLoader fetches the normalized text of a source by its storage key.
type TextLoader interface {
	LoadText(ctx context.Context, key string) (string, error)
}

// Pipeline turns one source's text into chunks, entities and relationships.
type Pipeline struct {
	Store      store.Store
	Loader     TextLoader
	Recognizer ai.Recognizer
	Embedder   ai.Embedder

	ChunkOptions  chunker.Options
	MinChunkSize  int
	ParallelMax   int
	MaxRetries    int
	EntityTypes   []string
	MinConfidence float64
}

func (p *Pipeline) parallelMax() int {
	if p.ParallelMax <= 0 {
		return 4
	}
	return p.ParallelMax
}

func (p *Pipeline) maxRetries() int {
	if p.MaxRetries <= 0 {
		return 3
	}
	return p.MaxRetries
}

func (p *Pipeline) minChunkSize() int {
	if p.MinChunkSize <= 0 {
		return 100
	}
	return p.MinChunkSize
}

// Process runs the full pipeline for one source: load, chunk, persist
// chunks, recognize, upsert. The source's status moves to processing at the
// start and ends at indexed or failed; failures leave previously indexed
// graph data untouched.
func (p *Pipeline) Process(ctx context.Context, orgID, sourceID string) error {
	source, err := p.Store.GetSource(ctx, orgID, sourceID)
	if err != nil {
		return err
	}
	if err := p.Store.UpdateSourceStatus(ctx, orgID, sourceID, common.SourceStatusProcessing, ""); err != nil {
		return err
	}

	err = p.run(ctx, source)
	if err == nil {
		return p.Store.UpdateSourceStatus(ctx, orgID, sourceID, common.SourceStatusIndexed, "")
	}

	logger.Error("source processing failed", "org", orgID, "source", sourceID, "error", err)
	if statusErr := p.Store.UpdateSourceStatus(ctx, orgID, sourceID, common.SourceStatusFailed, err.Error()); statusErr != nil {
		logger.Error("failed to mark source as failed", "source", sourceID, "error", statusErr)
	}
	return err
}

func (p *Pipeline) run(ctx context.Context, source *common.SourceRecord) error {
	text, err := p.Loader.LoadText(ctx, source.TextKey)
	if err != nil {
		return &ExtractionError{SourceID: source.ID, Stage: StageLoad, Err: err}
	}

	chunks, err := p.chunk(text)
	if err != nil {
		return &ExtractionError{SourceID: source.ID, Stage: StageChunk, Err: err}
	}

	records, err := p.buildChunkRecords(ctx, source, chunks)
	if err != nil {
		return &ExtractionError{SourceID: source.ID, Stage: StageChunk, Err: err}
	}
	if err := p.Store.ReplaceChunks(ctx, source.OrgID, source.ID, records); err != nil {
		return &ExtractionError{SourceID: source.ID, Stage: StagePersist, Err: err}
	}

	return p.recognizeAndUpsert(ctx, source, records)
}

func (p *Pipeline) chunk(text string) ([]chunker.Chunk, error) {
	chunks, err := chunker.Split(text, p.ChunkOptions)
	if err != nil {
		return nil, err
	}
	opts := p.ChunkOptions
	return chunker.MergeSmallChunks(chunks, p.minChunkSize(), opts.Estimator), nil
}

func (p *Pipeline) buildChunkRecords(ctx context.Context, source *common.SourceRecord, chunks []chunker.Chunk) ([]common.ChunkRecord, error) {
	records := make([]common.ChunkRecord, 0, len(chunks))
	for _, c := range chunks {
		id, err := gonanoid.New()
		if err != nil {
			return nil, fmt.Errorf("failed to generate chunk ID: %w", err)
		}
		record := common.ChunkRecord{
			ID:            id,
			OrgID:         source.OrgID,
			SourceID:      source.ID,
			Index:         c.Index,
			Content:       c.Content,
			TokenEstimate: c.TokenEstimate,
			StartOffset:   c.StartOffset,
			EndOffset:     c.EndOffset,
		}
		if p.Embedder != nil {
			embedding, err := util.RetryWithContext(ctx, p.maxRetries(), func(ctx context.Context) ([]float32, error) {
				return p.Embedder.EmbedText(ctx, c.Content)
			})
			if err != nil {
				return nil, fmt.Errorf("failed to embed chunk %d: %w", c.Index, err)
			}
			record.Embedding = embedding
		}
		records = append(records, record)
	}
	return records, nil
}

// ExtractFromStoredChunks re-runs recognition over a source's persisted
// chunks without re-chunking or touching the stored text. Used by the batch
// re-extraction job.
func (p *Pipeline) ExtractFromStoredChunks(ctx context.Context, orgID, sourceID string) error {
	source, err := p.Store.GetSource(ctx, orgID, sourceID)
	if err != nil {
		return err
	}
	records, err := p.Store.ListChunksBySource(ctx, orgID, sourceID)
	if err != nil {
		return &ExtractionError{SourceID: sourceID, Stage: StagePersist, Err: err}
	}
	return p.recognizeAndUpsert(ctx, source, records)
}

func (p *Pipeline) recognizeAndUpsert(ctx context.Context, source *common.SourceRecord, records []common.ChunkRecord) error {
	recognitions := make([]*ai.Recognition, len(records))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelMax())
	for i, record := range records {
		g.Go(func() error {
			recognition, err := util.RetryWithContext(gCtx, p.maxRetries(), func(ctx context.Context) (*ai.Recognition, error) {
				return p.Recognizer.Recognize(ctx, record.ID, record.Content, ai.WithEntityTypes(p.EntityTypes...))
			})
			if err != nil {
				return fmt.Errorf("failed to recognize chunk %d: %w", record.Index, err)
			}
			recognitions[i] = recognition
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return &ExtractionError{SourceID: source.ID, Stage: StageRecognize, Err: err}
	}

	if err := p.upsertRecognitions(ctx, source, recognitions); err != nil {
		return &ExtractionError{SourceID: source.ID, Stage: StageUpsert, Err: err}
	}
	return nil
}

type entityNaturalKey struct {
	normalizedName string
	entityType     string
}

// upsertRecognitions applies all mentions in chunk order. The first mention
// of an entity within this source advances its document count; every mention
// advances its mention count. Relationship mentions referencing entities the
// model did not list are dropped.
func (p *Pipeline) upsertRecognitions(ctx context.Context, source *common.SourceRecord, recognitions []*ai.Recognition) error {
	seen := make(map[entityNaturalKey]string)

	for _, recognition := range recognitions {
		if recognition == nil {
			continue
		}
		for _, mention := range recognition.Entities {
			if mention.Name == "" || mention.Confidence < p.MinConfidence {
				continue
			}
			key := entityNaturalKey{
				normalizedName: common.NormalizeEntityName(mention.Name),
				entityType:     mention.Type,
			}
			_, alreadySeen := seen[key]

			entity, err := p.Store.UpsertEntity(ctx, store.UpsertEntityParams{
				OrgID:                source.OrgID,
				Name:                 mention.Name,
				Type:                 mention.Type,
				Confidence:           mention.Confidence,
				Aliases:              mention.Aliases,
				FirstMentionInSource: !alreadySeen,
			})
			if err != nil {
				return err
			}
			seen[key] = entity.ID
		}

		for _, mention := range recognition.Relationships {
			sourceEntityID := p.resolveMention(seen, recognition, mention.SourceName)
			targetEntityID := p.resolveMention(seen, recognition, mention.TargetName)
			if sourceEntityID == "" || targetEntityID == "" || sourceEntityID == targetEntityID {
				continue
			}
			increment := mention.Confidence
			if increment <= 0 {
				increment = 1
			}
			_, err := p.Store.UpsertRelationship(ctx, store.UpsertRelationshipParams{
				OrgID:           source.OrgID,
				SourceEntityID:  sourceEntityID,
				TargetEntityID:  targetEntityID,
				Type:            mention.Type,
				WeightIncrement: increment,
				Confidence:      mention.Confidence,
				EvidenceChunkID: recognition.ChunkID,
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveMention maps a relationship endpoint name to an entity ID using the
// types the model assigned within the same recognition.
func (p *Pipeline) resolveMention(seen map[entityNaturalKey]string, recognition *ai.Recognition, name string) string {
	normalized := common.NormalizeEntityName(name)
	for _, mention := range recognition.Entities {
		if common.NormalizeEntityName(mention.Name) != normalized {
			continue
		}
		key := entityNaturalKey{normalizedName: normalized, entityType: mention.Type}
		if id, ok := seen[key]; ok {
			return id
		}
	}
	return ""
}
