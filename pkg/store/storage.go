package store

import (
	"context"
	"errors"

	"github.com/threadline-ai/threadline/backend/pkg/common"
)

// ErrNotFound is returned by lookups when no row matches.
var ErrNotFound = errors.New("store: not found")

// UpsertEntityParams describes one entity observation. The natural key is
// (OrgID, normalized Name, Type); Confidence only applies when the entity is
// created by this call.
type UpsertEntityParams struct {
	OrgID      string
	Name       string
	Type       string
	Confidence float64
	Aliases    []string
	Metadata   map[string]string

	// FirstMentionInSource marks the first observation of this entity while
	// processing one source, which is when the document counter advances.
	FirstMentionInSource bool
}

// UpsertRelationshipParams describes one relationship observation. The
// natural key is (OrgID, SourceEntityID, TargetEntityID, Type); the weight
// increment accumulates additively on every observation.
type UpsertRelationshipParams struct {
	OrgID           string
	SourceEntityID  string
	TargetEntityID  string
	Type            string
	WeightIncrement float64
	Confidence      float64
	EvidenceChunkID string
}

// Edge is a relationship joined with its endpoint not owned by the queried
// entity.
type Edge struct {
	Relationship common.Relationship
	Other        common.Entity
}

// GraphStore is the single shared mutable resource of the pipeline. Upserts
// must be implemented as storage-level conditional writes so concurrent
// workers observing the same entity or relationship converge on one row.
type GraphStore interface {
	UpsertEntity(ctx context.Context, params UpsertEntityParams) (*common.Entity, error)
	UpsertRelationship(ctx context.Context, params UpsertRelationshipParams) (*common.Relationship, error)

	GetEntity(ctx context.Context, orgID, entityID string) (*common.Entity, error)
	ListOutgoing(ctx context.Context, orgID, entityID string) ([]Edge, error)
	ListIncoming(ctx context.Context, orgID, entityID string) ([]Edge, error)
	TopEntities(ctx context.Context, orgID string, limit int, entityTypes []string) ([]common.Entity, error)
	ListRelationshipsAmong(ctx context.Context, orgID string, entityIDs []string, relationshipTypes []string) ([]common.Relationship, error)

	DeleteZeroMentionEntities(ctx context.Context, orgID string) (int64, error)
	DeleteDanglingRelationships(ctx context.Context, orgID string) (int64, error)

	ReplaceChunks(ctx context.Context, orgID, sourceID string, chunks []common.ChunkRecord) error
	ListChunksBySource(ctx context.Context, orgID, sourceID string) ([]common.ChunkRecord, error)
	SourcesForChunks(ctx context.Context, orgID string, chunkIDs []string) (map[string]string, error)
}

// SourceStore tracks indexed source records and their status transitions.
type SourceStore interface {
	UpsertSource(ctx context.Context, record common.SourceRecord) error
	GetSource(ctx context.Context, orgID, sourceID string) (*common.SourceRecord, error)
	ListSources(ctx context.Context, orgID string) ([]common.SourceRecord, error)
	ListSourcesByStatus(ctx context.Context, orgID, status string, limit int) ([]common.SourceRecord, error)
	UpdateSourceStatus(ctx context.Context, orgID, sourceID, status, errorMessage string) error
	ChannelsForSources(ctx context.Context, orgID string, sourceIDs []string) (map[string]common.SourceRecord, error)
}

// JobStore persists orchestrator job records so status can be polled from
// another process.
type JobStore interface {
	CreateJob(ctx context.Context, record common.JobRecord) error
	GetJob(ctx context.Context, jobID string) (*common.JobRecord, error)
	UpdateJobStatus(ctx context.Context, jobID, status, errorMessage string) error
	UpdateJobProgress(ctx context.Context, jobID string, progress common.JobProgress) error
}

// Store aggregates all persistence concerns of the pipeline.
type Store interface {
	GraphStore
	SourceStore
	JobStore
}
