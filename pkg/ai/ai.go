// Package ai defines the model-facing interfaces of the extraction pipeline
// and the shared option plumbing used by the concrete backends.
package ai

import "context"

// DefaultEntityTypes is the closed set used when a workspace does not
// configure its own.
var DefaultEntityTypes = []string{
	"PERSON", "ORGANIZATION", "LOCATION", "CONCEPT", "PRODUCT", "EVENT", "DATE",
}

// EntityMention is one entity occurrence reported by a model for a chunk.
type EntityMention struct {
	Name       string   `json:"name" jsonschema_description:"Canonical name of the entity as written in the text"`
	Type       string   `json:"type" jsonschema_description:"One of the provided entity types"`
	Confidence float64  `json:"confidence" jsonschema_description:"Model confidence between 0 and 1"`
	Aliases    []string `json:"aliases" jsonschema_description:"Alternative surface forms of the entity found in the text"`
}

// RelationshipMention is one directed relationship between two entities
// named in the same chunk. Source and target refer to entity names from the
// entities list of the same recognition.
type RelationshipMention struct {
	SourceName string  `json:"source_name" jsonschema_description:"Name of the source entity, as listed in entities"`
	TargetName string  `json:"target_name" jsonschema_description:"Name of the target entity, as listed in entities"`
	Type       string  `json:"type" jsonschema_description:"Short snake_case label for the relationship"`
	Confidence float64 `json:"confidence" jsonschema_description:"Model confidence between 0 and 1"`
}

// Recognition is the structured result of running entity recognition over a
// single chunk of text.
type Recognition struct {
	ChunkID       string                `json:"-"`
	Entities      []EntityMention       `json:"entities" jsonschema_description:"Entities identified in the text"`
	Relationships []RelationshipMention `json:"relationships" jsonschema_description:"Relationships identified between the entities"`
}

// Recognizer extracts entity and relationship mentions from chunk text.
type Recognizer interface {
	Recognize(ctx context.Context, chunkID string, text string, opts ...GenerateOption) (*Recognition, error)
}

// Embedder produces vector embeddings for chunk text.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// GenerateOptions holds per-request configuration for model backends.
type GenerateOptions struct {
	Model         string
	SystemPrompts []string
	Temperature   float64
	EntityTypes   []string
}

// GenerateOption is a functional option applied to a generation request.
type GenerateOption func(*GenerateOptions)

// WithModel overrides the backend's configured model for one request.
func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Model = model
	}
}

// WithSystemPrompts sets the system prompts prepended to the request.
func WithSystemPrompts(prompts ...string) GenerateOption {
	return func(o *GenerateOptions) {
		o.SystemPrompts = prompts
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temp
	}
}

// WithEntityTypes restricts recognition to the given entity types.
func WithEntityTypes(types ...string) GenerateOption {
	return func(o *GenerateOptions) {
		o.EntityTypes = types
	}
}
