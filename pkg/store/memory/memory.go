// Package memstore is an in-process implementation of the store interfaces.
// It mirrors the conditional-write semantics of the Postgres store under a
// single mutex and backs unit tests and local development.
package memstore

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/threadline-ai/threadline/backend/pkg/common"
	"github.com/threadline-ai/threadline/backend/pkg/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const maxEvidenceChunks = 50

type entityKey struct {
	orgID          string
	normalizedName string
	entityType     string
}

type relationshipKey struct {
	orgID          string
	sourceEntityID string
	targetEntityID string
	relType        string
}

type chunkKey struct {
	orgID    string
	sourceID string
}

// Store keeps all pipeline state in memory.
type Store struct {
	mu            sync.Mutex
	entities      map[entityKey]*common.Entity
	entitiesByID  map[string]entityKey
	relationships map[relationshipKey]*common.Relationship
	chunks        map[chunkKey][]common.ChunkRecord
	sources       map[string]map[string]*common.SourceRecord
	jobs          map[string]*common.JobRecord
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		entities:      make(map[entityKey]*common.Entity),
		entitiesByID:  make(map[string]entityKey),
		relationships: make(map[relationshipKey]*common.Relationship),
		chunks:        make(map[chunkKey][]common.ChunkRecord),
		sources:       make(map[string]map[string]*common.SourceRecord),
		jobs:          make(map[string]*common.JobRecord),
	}
}

func cloneEntity(e *common.Entity) *common.Entity {
	c := *e
	c.Aliases = slices.Clone(e.Aliases)
	if e.Metadata != nil {
		c.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func cloneRelationship(r *common.Relationship) *common.Relationship {
	c := *r
	c.EvidenceChunkIDs = slices.Clone(r.EvidenceChunkIDs)
	return &c
}

func (s *Store) UpsertEntity(_ context.Context, params store.UpsertEntityParams) (*common.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entityKey{
		orgID:          params.OrgID,
		normalizedName: common.NormalizeEntityName(params.Name),
		entityType:     params.Type,
	}

	if existing, ok := s.entities[key]; ok {
		existing.MentionCount++
		if params.FirstMentionInSource {
			existing.DocumentCount++
		}
		for _, alias := range params.Aliases {
			if !slices.Contains(existing.Aliases, alias) {
				existing.Aliases = append(existing.Aliases, alias)
			}
		}
		sort.Strings(existing.Aliases)
		return cloneEntity(existing), nil
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	entity := &common.Entity{
		ID:             id,
		OrgID:          params.OrgID,
		Name:           params.Name,
		NormalizedName: key.normalizedName,
		Type:           params.Type,
		Aliases:        slices.Clone(params.Aliases),
		Confidence:     params.Confidence,
		MentionCount:   1,
		DocumentCount:  1,
	}
	sort.Strings(entity.Aliases)
	if params.Metadata != nil {
		entity.Metadata = make(map[string]string, len(params.Metadata))
		for k, v := range params.Metadata {
			entity.Metadata[k] = v
		}
	}
	s.entities[key] = entity
	s.entitiesByID[id] = key
	return cloneEntity(entity), nil
}

func (s *Store) UpsertRelationship(_ context.Context, params store.UpsertRelationshipParams) (*common.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := relationshipKey{
		orgID:          params.OrgID,
		sourceEntityID: params.SourceEntityID,
		targetEntityID: params.TargetEntityID,
		relType:        params.Type,
	}

	if existing, ok := s.relationships[key]; ok {
		existing.Weight += params.WeightIncrement
		if params.EvidenceChunkID != "" &&
			!slices.Contains(existing.EvidenceChunkIDs, params.EvidenceChunkID) &&
			len(existing.EvidenceChunkIDs) < maxEvidenceChunks {
			existing.EvidenceChunkIDs = append(existing.EvidenceChunkIDs, params.EvidenceChunkID)
		}
		return cloneRelationship(existing), nil
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	relationship := &common.Relationship{
		ID:             id,
		OrgID:          params.OrgID,
		SourceEntityID: params.SourceEntityID,
		TargetEntityID: params.TargetEntityID,
		Type:           params.Type,
		Weight:         params.WeightIncrement,
		Confidence:     params.Confidence,
	}
	if params.EvidenceChunkID != "" {
		relationship.EvidenceChunkIDs = []string{params.EvidenceChunkID}
	}
	s.relationships[key] = relationship
	return cloneRelationship(relationship), nil
}

func (s *Store) GetEntity(_ context.Context, orgID, entityID string) (*common.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.entitiesByID[entityID]
	if !ok || key.orgID != orgID {
		return nil, store.ErrNotFound
	}
	entity, ok := s.entities[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneEntity(entity), nil
}

func matchesTypes(value string, types []string) bool {
	return len(types) == 0 || slices.Contains(types, value)
}

func (s *Store) listEdges(orgID, entityID string, outgoing bool) ([]store.Edge, error) {
	var edges []store.Edge
	for key, rel := range s.relationships {
		if key.orgID != orgID {
			continue
		}
		var otherID string
		if outgoing && key.sourceEntityID == entityID {
			otherID = key.targetEntityID
		} else if !outgoing && key.targetEntityID == entityID {
			otherID = key.sourceEntityID
		} else {
			continue
		}
		otherKey, ok := s.entitiesByID[otherID]
		if !ok {
			continue
		}
		other, ok := s.entities[otherKey]
		if !ok {
			continue
		}
		edges = append(edges, store.Edge{
			Relationship: *cloneRelationship(rel),
			Other:        *cloneEntity(other),
		})
	}
	sort.Slice(edges, func(i, j int) bool {
		return edges[i].Relationship.ID < edges[j].Relationship.ID
	})
	return edges, nil
}

func (s *Store) ListOutgoing(_ context.Context, orgID, entityID string) ([]store.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listEdges(orgID, entityID, true)
}

func (s *Store) ListIncoming(_ context.Context, orgID, entityID string) ([]store.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listEdges(orgID, entityID, false)
}

func (s *Store) TopEntities(_ context.Context, orgID string, limit int, entityTypes []string) ([]common.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entities []common.Entity
	for key, entity := range s.entities {
		if key.orgID != orgID || !matchesTypes(entity.Type, entityTypes) {
			continue
		}
		entities = append(entities, *cloneEntity(entity))
	}
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].MentionCount != entities[j].MentionCount {
			return entities[i].MentionCount > entities[j].MentionCount
		}
		return entities[i].ID < entities[j].ID
	})
	if limit > 0 && len(entities) > limit {
		entities = entities[:limit]
	}
	return entities, nil
}

func (s *Store) ListRelationshipsAmong(_ context.Context, orgID string, entityIDs []string, relationshipTypes []string) ([]common.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var relationships []common.Relationship
	for key, rel := range s.relationships {
		if key.orgID != orgID || !matchesTypes(key.relType, relationshipTypes) {
			continue
		}
		if !slices.Contains(entityIDs, key.sourceEntityID) || !slices.Contains(entityIDs, key.targetEntityID) {
			continue
		}
		relationships = append(relationships, *cloneRelationship(rel))
	}
	sort.Slice(relationships, func(i, j int) bool {
		return relationships[i].ID < relationships[j].ID
	})
	return relationships, nil
}

func (s *Store) DeleteZeroMentionEntities(_ context.Context, orgID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, entity := range s.entities {
		if key.orgID == orgID && entity.MentionCount == 0 {
			delete(s.entities, key)
			delete(s.entitiesByID, entity.ID)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) DeleteDanglingRelationships(_ context.Context, orgID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key := range s.relationships {
		if key.orgID != orgID {
			continue
		}
		_, srcOK := s.entitiesByID[key.sourceEntityID]
		_, tgtOK := s.entitiesByID[key.targetEntityID]
		if !srcOK || !tgtOK {
			delete(s.relationships, key)
			removed++
		}
	}
	return removed, nil
}

// SetEntityMentionCount overrides an entity's mention counter. This models
// administrative edits and exists for tests of the cleanup path.
func (s *Store) SetEntityMentionCount(entityID string, count int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key, ok := s.entitiesByID[entityID]; ok {
		if entity, ok := s.entities[key]; ok {
			entity.MentionCount = count
		}
	}
}

func (s *Store) ReplaceChunks(_ context.Context, orgID, sourceID string, chunks []common.ChunkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chunks[chunkKey{orgID: orgID, sourceID: sourceID}] = slices.Clone(chunks)
	return nil
}

func (s *Store) ListChunksBySource(_ context.Context, orgID, sourceID string) ([]common.ChunkRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.chunks[chunkKey{orgID: orgID, sourceID: sourceID}]), nil
}

func (s *Store) SourcesForChunks(_ context.Context, orgID string, chunkIDs []string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		wanted[id] = true
	}

	resolved := make(map[string]string)
	for key, chunks := range s.chunks {
		if key.orgID != orgID {
			continue
		}
		for _, chunk := range chunks {
			if wanted[chunk.ID] {
				resolved[chunk.ID] = key.sourceID
			}
		}
	}
	return resolved, nil
}

func (s *Store) UpsertSource(_ context.Context, record common.SourceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.sources[record.OrgID]
	if !ok {
		org = make(map[string]*common.SourceRecord)
		s.sources[record.OrgID] = org
	}
	if existing, ok := org[record.ID]; ok {
		existing.Kind = record.Kind
		existing.ChannelRef = record.ChannelRef
		existing.TextKey = record.TextKey
		return nil
	}
	rec := record
	if rec.Status == "" {
		rec.Status = common.SourceStatusPending
	}
	org[record.ID] = &rec
	return nil
}

func (s *Store) GetSource(_ context.Context, orgID, sourceID string) (*common.SourceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.sources[orgID][sourceID]; ok {
		c := *rec
		return &c, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) listSourcesLocked(orgID string, filter func(*common.SourceRecord) bool) []common.SourceRecord {
	var records []common.SourceRecord
	for _, rec := range s.sources[orgID] {
		if filter == nil || filter(rec) {
			records = append(records, *rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records
}

func (s *Store) ListSources(_ context.Context, orgID string) ([]common.SourceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listSourcesLocked(orgID, nil), nil
}

func (s *Store) ListSourcesByStatus(_ context.Context, orgID, status string, limit int) ([]common.SourceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.listSourcesLocked(orgID, func(rec *common.SourceRecord) bool {
		return rec.Status == status
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *Store) UpdateSourceStatus(_ context.Context, orgID, sourceID, status, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sources[orgID][sourceID]
	if !ok {
		return store.ErrNotFound
	}
	rec.Status = status
	rec.ErrorMessage = errorMessage
	if status == common.SourceStatusIndexed || status == common.SourceStatusFailed {
		now := time.Now().UTC()
		rec.LastProcessedAt = &now
	}
	return nil
}

func (s *Store) ChannelsForSources(_ context.Context, orgID string, sourceIDs []string) (map[string]common.SourceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resolved := make(map[string]common.SourceRecord)
	for _, id := range sourceIDs {
		if rec, ok := s.sources[orgID][id]; ok {
			resolved[id] = *rec
		}
	}
	return resolved, nil
}

func (s *Store) CreateJob(_ context.Context, record common.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[record.ID]; ok {
		return nil
	}
	rec := record
	s.jobs[record.ID] = &rec
	return nil
}

func (s *Store) GetJob(_ context.Context, jobID string) (*common.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *rec
	if rec.Progress != nil {
		progress := *rec.Progress
		c.Progress = &progress
	}
	return &c, nil
}

func (s *Store) UpdateJobStatus(_ context.Context, jobID, status, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	rec.Status = status
	rec.ErrorMessage = errorMessage
	now := time.Now().UTC()
	switch status {
	case common.JobStatusRunning:
		rec.StartedAt = &now
	case common.JobStatusCompleted, common.JobStatusFailed:
		rec.FinishedAt = &now
	}
	return nil
}

func (s *Store) UpdateJobProgress(_ context.Context, jobID string, progress common.JobProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	p := progress
	rec.Progress = &p
	return nil
}
