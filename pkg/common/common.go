package common

import (
	"strings"
	"time"
)

// Entity is a node in an organization's knowledge graph. Entities are
// deduplicated by their natural key (org, normalized name, type): repeated
// observations of the same entity increment its counters instead of creating
// new rows.
type Entity struct {
	ID             string            `json:"id"`
	OrgID          string            `json:"org_id"`
	Name           string            `json:"name"`
	NormalizedName string            `json:"normalized_name"`
	Type           string            `json:"type"`
	Aliases        []string          `json:"aliases,omitempty"`
	Confidence     float64           `json:"confidence"`
	MentionCount   int64             `json:"mention_count"`
	DocumentCount  int64             `json:"document_count"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Relationship is a directed edge between two entities. Repeated observations
// of the same (org, source, target, type) edge accumulate weight additively;
// confidence stays at the value recorded on first observation.
type Relationship struct {
	ID               string   `json:"id"`
	OrgID            string   `json:"org_id"`
	SourceEntityID   string   `json:"source_entity_id"`
	TargetEntityID   string   `json:"target_entity_id"`
	Type             string   `json:"type"`
	Weight           float64  `json:"weight"`
	Confidence       float64  `json:"confidence"`
	EvidenceChunkIDs []string `json:"evidence_chunk_ids,omitempty"`
}

// ChunkRecord is a persisted text chunk belonging to one indexed source.
// Offsets are byte offsets into the normalized source text.
type ChunkRecord struct {
	ID            string    `json:"id"`
	OrgID         string    `json:"org_id"`
	SourceID      string    `json:"source_id"`
	Index         int       `json:"index"`
	Content       string    `json:"content"`
	TokenEstimate int       `json:"token_estimate"`
	StartOffset   int       `json:"start_offset"`
	EndOffset     int       `json:"end_offset"`
	Embedding     []float32 `json:"-"`
}

// Source kinds. Chat-derived sources carry a channel reference used for
// permission filtering; documents have no channel concept.
const (
	SourceKindDocument   = "document"
	SourceKindChatThread = "chat_thread"
)

// Source record statuses.
const (
	SourceStatusPending    = "pending"
	SourceStatusProcessing = "processing"
	SourceStatusIndexed    = "indexed"
	SourceStatusFailed     = "failed"
)

// SourceRecord tracks the indexing lifecycle of one document or chat thread.
// Failed records are only retried by an explicit reset to pending.
type SourceRecord struct {
	ID              string     `json:"id"`
	OrgID           string     `json:"org_id"`
	Kind            string     `json:"kind"`
	ChannelRef      string     `json:"channel_ref,omitempty"`
	TextKey         string     `json:"text_key"`
	Status          string     `json:"status"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	LastProcessedAt *time.Time `json:"last_processed_at,omitempty"`
}

// Job statuses.
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// JobProgress is the incremental progress a batch job reports while running.
// Total is nil when the job does not know it up front.
type JobProgress struct {
	Processed int64  `json:"processed"`
	Failed    int64  `json:"failed"`
	Total     *int64 `json:"total,omitempty"`
}

// JobRecord is the persisted state of one orchestrated job. It is written by
// the worker and polled by the API process.
type JobRecord struct {
	ID           string       `json:"id"`
	Queue        string       `json:"queue"`
	OrgID        string       `json:"org_id"`
	Status       string       `json:"status"`
	ErrorMessage string       `json:"error_message,omitempty"`
	Progress     *JobProgress `json:"progress,omitempty"`
	EnqueuedAt   time.Time    `json:"enqueued_at"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
}

// NormalizeEntityName lowercases a name and collapses interior whitespace so
// the same real-world entity maps to the same natural key.
func NormalizeEntityName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
